package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unigrad/thesis-review-api/internal/models"
	appErrors "github.com/unigrad/thesis-review-api/pkg/errors"
	"github.com/unigrad/thesis-review-api/pkg/jobs"
)

type notificationStore interface {
	Create(ctx context.Context, notification *models.Notification) error
	ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, userID string, ts time.Time) error
	MarkAllRead(ctx context.Context, userID string, ts time.Time) error
}

type emailSender interface {
	Send(to []string, subject, body string) error
}

// NotificationService fans lifecycle events out to recipient inboxes and
// email. Emit only enqueues; persistence and delivery happen on the worker
// pool, so a slow relay never holds a transition response.
type NotificationService struct {
	repo   notificationStore
	users  userDirectory
	mailer emailSender
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewNotificationService constructs the service and its delivery queue.
func NewNotificationService(repo notificationStore, users userDirectory, mailer emailSender, cfg jobs.QueueConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &NotificationService{
		repo:   repo,
		users:  users,
		mailer: mailer,
		logger: logger,
	}
	cfg.Logger = logger
	svc.queue = jobs.NewQueue("notifications", svc.handle, cfg)
	return svc
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the delivery workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Emit schedules delivery for one event. Failures are logged and never
// surfaced to the caller.
func (s *NotificationService) Emit(event models.NotificationEvent) {
	if len(event.Recipients) == 0 {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    string(event.Type),
		Payload: event,
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("failed to enqueue notification",
			zap.String("type", string(event.Type)),
			zap.String("thesis_id", event.ThesisID),
			zap.Error(err),
		)
	}
}

// List returns the actor's inbox, newest first.
func (s *NotificationService) List(ctx context.Context, actor *models.JWTClaims, unreadOnly bool, limit int) ([]models.Notification, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	notifications, err := s.repo.ListByUser(ctx, actor.UserID, unreadOnly, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return notifications, nil
}

// MarkRead flags one notification owned by the actor as read.
func (s *NotificationService) MarkRead(ctx context.Context, id string, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if err := s.repo.MarkRead(ctx, id, actor.UserID, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	return nil
}

// MarkAllRead flags the actor's whole inbox as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if err := s.repo.MarkAllRead(ctx, actor.UserID, time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	return nil
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.NotificationEvent)
	if !ok {
		s.logger.Error("notification job carried unexpected payload", zap.String("job_id", job.ID))
		return nil
	}

	var thesisID *string
	if event.ThesisID != "" {
		thesisID = &event.ThesisID
	}

	var emails []string
	for _, recipientID := range event.Recipients {
		notification := &models.Notification{
			UserID:    recipientID,
			Type:      event.Type,
			ThesisID:  thesisID,
			Title:     event.Title,
			Message:   event.Message,
			CreatedAt: event.OccurredAt,
		}
		if err := s.repo.Create(ctx, notification); err != nil {
			return fmt.Errorf("persist notification for %s: %w", recipientID, err)
		}
		if s.users != nil {
			if user, err := s.users.FindByID(ctx, recipientID); err == nil && user.Active {
				emails = append(emails, user.Email)
			}
		}
	}

	if s.mailer != nil {
		// One message per recipient; addresses stay out of each other's
		// To: header.
		for _, email := range emails {
			if err := s.mailer.Send([]string{email}, event.Title, event.Message); err != nil {
				s.logger.Warn("failed to send notification email",
					zap.String("type", string(event.Type)),
					zap.Error(err),
				)
			}
		}
	}
	return nil
}
