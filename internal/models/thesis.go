package models

import "time"

// ThesisStatus enumerates the lifecycle states of a submission.
type ThesisStatus string

const (
	StatusSubmitted         ThesisStatus = "SUBMITTED"
	StatusAssigned          ThesisStatus = "ASSIGNED"
	StatusUnderReview       ThesisStatus = "UNDER_REVIEW"
	StatusRevisionRequested ThesisStatus = "REVISION_REQUESTED"
	StatusApproved          ThesisStatus = "APPROVED"
	StatusRejected          ThesisStatus = "REJECTED"
)

// Valid reports whether the status belongs to the closed enumeration.
func (s ThesisStatus) Valid() bool {
	switch s {
	case StatusSubmitted, StatusAssigned, StatusUnderReview,
		StatusRevisionRequested, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether the status permits no outbound transitions.
func (s ThesisStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Thesis represents one submission tracked through the review lifecycle.
// Status is mutated exclusively through the lifecycle engine; rows are never
// physically deleted so that terminal theses remain auditable.
type Thesis struct {
	ID          string       `db:"id" json:"id"`
	StudentID   string       `db:"student_id" json:"student_id"`
	AdvisorID   *string      `db:"advisor_id" json:"advisor_id,omitempty"`
	Title       string       `db:"title" json:"title"`
	Description *string      `db:"description" json:"description,omitempty"`
	Status      ThesisStatus `db:"status" json:"status"`
	Version     int          `db:"version" json:"version"`
	FileKey     *string      `db:"file_key" json:"file_key,omitempty"`
	FileName    *string      `db:"file_name" json:"file_name,omitempty"`
	FileSize    *int64       `db:"file_size" json:"file_size,omitempty"`
	SubmittedAt time.Time    `db:"submitted_at" json:"submitted_at"`
	DecidedAt   *time.Time   `db:"decided_at" json:"decided_at,omitempty"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`

	History []StatusChange `db:"-" json:"history,omitempty"`
}

// StatusChange is one immutable audit entry in a thesis history. Entries are
// append-only and strictly ordered; the thesis status always equals the
// ToStatus of the latest entry.
type StatusChange struct {
	ID         string       `db:"id" json:"id"`
	ThesisID   string       `db:"thesis_id" json:"thesis_id"`
	FromStatus ThesisStatus `db:"from_status" json:"from_status"`
	ToStatus   ThesisStatus `db:"to_status" json:"to_status"`
	ActorID    string       `db:"actor_id" json:"actor_id"`
	ActorRole  UserRole     `db:"actor_role" json:"actor_role"`
	Note       *string      `db:"note" json:"note,omitempty"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
}

// ThesisFilter constrains thesis listing queries.
type ThesisFilter struct {
	StudentID string
	AdvisorID string
	Status    []ThesisStatus
	Search    string
	Page      int
	PageSize  int
}
