package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unigrad/thesis-review-api/internal/models"
	appErrors "github.com/unigrad/thesis-review-api/pkg/errors"
	"github.com/unigrad/thesis-review-api/pkg/jobs"
	"github.com/unigrad/thesis-review-api/pkg/mailer"
)

type notificationStoreStub struct {
	rows map[string]*models.Notification
	seq  int
}

func newNotificationStoreStub() *notificationStoreStub {
	return &notificationStoreStub{rows: make(map[string]*models.Notification)}
}

func (s *notificationStoreStub) Create(ctx context.Context, notification *models.Notification) error {
	s.seq++
	if notification.ID == "" {
		notification.ID = "notif-" + string(rune('0'+s.seq))
	}
	copy := *notification
	s.rows[notification.ID] = &copy
	return nil
}

func (s *notificationStoreStub) ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	var result []models.Notification
	for _, row := range s.rows {
		if row.UserID != userID {
			continue
		}
		if unreadOnly && row.Read {
			continue
		}
		result = append(result, *row)
	}
	return result, nil
}

func (s *notificationStoreStub) MarkRead(ctx context.Context, id, userID string, ts time.Time) error {
	row, ok := s.rows[id]
	if !ok || row.UserID != userID {
		return sql.ErrNoRows
	}
	row.Read = true
	return nil
}

func (s *notificationStoreStub) MarkAllRead(ctx context.Context, userID string, ts time.Time) error {
	for _, row := range s.rows {
		if row.UserID == userID {
			row.Read = true
		}
	}
	return nil
}

func TestNotificationHandlePersistsPerRecipient(t *testing.T) {
	store := newNotificationStoreStub()
	users := newUserDirectoryStub(
		&models.User{ID: "student-1", Email: "student@example.edu", Role: models.RoleStudent, Active: true},
		&models.User{ID: "advisor-1", Email: "advisor@example.edu", Role: models.RoleAdvisor, Active: true},
	)
	mail := &mailerStub{}
	svc := NewNotificationService(store, users, mail, jobs.QueueConfig{}, nil)

	event := models.NotificationEvent{
		Type:       models.NotificationThesisApproved,
		ThesisID:   "thesis-1",
		Recipients: []string{"student-1", "advisor-1"},
		ActorID:    "advisor-1",
		Title:      "Thesis approved",
		Message:    "Congratulations",
		OccurredAt: time.Now().UTC(),
	}
	require.NoError(t, svc.handle(context.Background(), jobs.Job{ID: "job-1", Payload: event}))

	require.Len(t, store.rows, 2)
	require.Len(t, mail.sent, 2)
	var addressed []string
	for _, recipients := range mail.sent {
		require.Len(t, recipients, 1)
		addressed = append(addressed, recipients[0])
	}
	require.ElementsMatch(t, []string{"student@example.edu", "advisor@example.edu"}, addressed)
}

func TestNotificationHandleWithUnconfiguredMailer(t *testing.T) {
	store := newNotificationStoreStub()
	users := newUserDirectoryStub(
		&models.User{ID: "student-1", Email: "student@example.edu", Role: models.RoleStudent, Active: true},
	)

	// Mirrors the bootstrap wiring when email delivery is disabled: the
	// interface field holds a nil *mailer.Mailer, not a nil interface.
	var mail *mailer.Mailer
	svc := NewNotificationService(store, users, mail, jobs.QueueConfig{}, nil)

	event := models.NotificationEvent{
		Type:       models.NotificationReviewStarted,
		ThesisID:   "thesis-1",
		Recipients: []string{"student-1"},
		Title:      "Review started",
		Message:    "Your thesis is under review",
		OccurredAt: time.Now().UTC(),
	}
	require.NoError(t, svc.handle(context.Background(), jobs.Job{ID: "job-1", Payload: event}))
	require.Len(t, store.rows, 1)
}

func TestNotificationMarkReadScopedToOwner(t *testing.T) {
	store := newNotificationStoreStub()
	store.rows["notif-1"] = &models.Notification{ID: "notif-1", UserID: "student-1", Type: models.NotificationThesisApproved}
	svc := NewNotificationService(store, nil, nil, jobs.QueueConfig{}, nil)

	err := svc.MarkRead(context.Background(), "notif-1", claimsFor("student-2", models.RoleStudent))
	requireErrorCode(t, err, appErrors.ErrNotFound.Code)

	require.NoError(t, svc.MarkRead(context.Background(), "notif-1", claimsFor("student-1", models.RoleStudent)))
	require.True(t, store.rows["notif-1"].Read)
}

func TestNotificationListUnreadOnly(t *testing.T) {
	store := newNotificationStoreStub()
	store.rows["notif-1"] = &models.Notification{ID: "notif-1", UserID: "student-1", Read: true}
	store.rows["notif-2"] = &models.Notification{ID: "notif-2", UserID: "student-1"}
	svc := NewNotificationService(store, nil, nil, jobs.QueueConfig{}, nil)

	unread, err := svc.List(context.Background(), claimsFor("student-1", models.RoleStudent), true, 10)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	require.Equal(t, "notif-2", unread[0].ID)
}

func TestNotificationEmitDropsEmptyRecipients(t *testing.T) {
	store := newNotificationStoreStub()
	svc := NewNotificationService(store, nil, nil, jobs.QueueConfig{}, nil)

	// Queue never started: a non-empty event would log a warning, an empty
	// one is dropped before reaching the queue.
	svc.Emit(models.NotificationEvent{Type: models.NotificationThesisApproved})
	require.Empty(t, store.rows)
}
