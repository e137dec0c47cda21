package mailer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unigrad/thesis-review-api/pkg/config"
)

func TestSendNilReceiverIsNoop(t *testing.T) {
	var m *Mailer
	require.NoError(t, m.Send([]string{"student@example.edu"}, "subject", "body"))
}

func TestSendSkipsWithoutCredentials(t *testing.T) {
	m := New(config.SMTPConfig{Host: "localhost", Port: 25}, nil)
	require.NoError(t, m.Send([]string{"student@example.edu"}, "subject", "body"))
}

func TestSendEmptyRecipients(t *testing.T) {
	m := New(config.SMTPConfig{}, nil)
	require.NoError(t, m.Send(nil, "subject", "body"))
}
