package models

import "time"

// FeedbackState tracks the review state of a feedback record, independent of
// the thesis status but gated by it at creation time.
type FeedbackState string

const (
	FeedbackPending   FeedbackState = "PENDING"
	FeedbackSubmitted FeedbackState = "SUBMITTED"
)

// FeedbackComment is a positional annotation inside the reviewed document.
type FeedbackComment struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Page      *int      `json:"page,omitempty"`
	PositionX *float64  `json:"position_x,omitempty"`
	PositionY *float64  `json:"position_y,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Feedback is an advisor's review of one thesis. Comments are stored as a
// JSON column; the relational shape is not queried.
type Feedback struct {
	ID              string        `db:"id" json:"id"`
	ThesisID        string        `db:"thesis_id" json:"thesis_id"`
	AdvisorID       string        `db:"advisor_id" json:"advisor_id"`
	State           FeedbackState `db:"state" json:"state"`
	OverallComments string        `db:"overall_comments" json:"overall_comments"`
	Rating          *int          `db:"rating" json:"rating,omitempty"`
	Recommendations *string       `db:"recommendations" json:"recommendations,omitempty"`
	Comments        []byte        `db:"comments" json:"-"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`

	CommentList []FeedbackComment `db:"-" json:"comments,omitempty"`
}
