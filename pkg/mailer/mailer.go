package mailer

import (
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/unigrad/thesis-review-api/pkg/config"
)

// Mailer sends plain SMTP mail. Delivery is best-effort: callers treat a
// returned error as a logging concern, never as a reason to fail a request.
type Mailer struct {
	cfg    config.SMTPConfig
	logger *zap.Logger
}

// New constructs a Mailer from SMTP configuration.
func New(cfg config.SMTPConfig, logger *zap.Logger) *Mailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailer{cfg: cfg, logger: logger}
}

// Send delivers one message to the given recipients. A nil receiver is a
// no-op so callers can pass an unconstructed Mailer straight through an
// interface field. When credentials are not configured the message is
// logged instead, which keeps development setups working without a relay.
func (m *Mailer) Send(to []string, subject, body string) error {
	if m == nil || len(to) == 0 {
		return nil
	}
	if m.cfg.Username == "" || m.cfg.Password == "" {
		m.logger.Info("smtp not configured, skipping email",
			zap.Strings("to", to),
			zap.String("subject", subject),
		)
		return nil
	}

	from := m.cfg.FromEmail
	headers := []string{
		fmt.Sprintf("From: %s <%s>", m.cfg.FromName, from),
		fmt.Sprintf("To: %s", strings.Join(to, ", ")),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"utf-8\"",
	}
	msg := strings.Join(headers, "\r\n") + "\r\n\r\n" + body

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	if err := smtp.SendMail(addr, auth, from, to, []byte(msg)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}
