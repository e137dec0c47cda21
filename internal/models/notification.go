package models

import "time"

// NotificationType enumerates the events delivered to users.
type NotificationType string

const (
	NotificationNewSubmission     NotificationType = "NEW_SUBMISSION"
	NotificationAdvisorAssigned   NotificationType = "ADVISOR_ASSIGNED"
	NotificationReviewStarted     NotificationType = "REVIEW_STARTED"
	NotificationRevisionRequested NotificationType = "REVISION_REQUESTED"
	NotificationThesisApproved    NotificationType = "THESIS_APPROVED"
	NotificationThesisRejected    NotificationType = "THESIS_REJECTED"
	NotificationThesisResubmitted NotificationType = "THESIS_RESUBMITTED"
	NotificationFeedbackProvided  NotificationType = "FEEDBACK_PROVIDED"
)

// NotificationEvent is produced by a committed state change and handed to the
// delivery queue. Delivery is best-effort and decoupled from the
// transaction that produced the event.
type NotificationEvent struct {
	Type       NotificationType `json:"type"`
	ThesisID   string           `json:"thesis_id"`
	Recipients []string         `json:"recipients"`
	ActorID    string           `json:"actor_id"`
	Title      string           `json:"title"`
	Message    string           `json:"message"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// Notification is one delivered event row, scoped to a single recipient.
type Notification struct {
	ID        string           `db:"id" json:"id"`
	UserID    string           `db:"user_id" json:"user_id"`
	ThesisID  *string          `db:"thesis_id" json:"thesis_id,omitempty"`
	Type      NotificationType `db:"type" json:"type"`
	Title     string           `db:"title" json:"title"`
	Message   string           `db:"message" json:"message"`
	Read      bool             `db:"read" json:"read"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}
