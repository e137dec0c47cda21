package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/unigrad/thesis-review-api/internal/models"
)

// FeedbackRepository persists advisor feedback records.
type FeedbackRepository struct {
	db *sqlx.DB
}

// NewFeedbackRepository constructs the repository.
func NewFeedbackRepository(db *sqlx.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

const feedbackColumns = `id, thesis_id, advisor_id, state, overall_comments, rating, recommendations, comments, created_at, updated_at`

// Create inserts a new feedback row.
func (r *FeedbackRepository) Create(ctx context.Context, feedback *models.Feedback) error {
	if feedback.ID == "" {
		feedback.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if feedback.CreatedAt.IsZero() {
		feedback.CreatedAt = now
	}
	feedback.UpdatedAt = now
	if feedback.State == "" {
		feedback.State = models.FeedbackPending
	}
	const query = `INSERT INTO feedback (id, thesis_id, advisor_id, state, overall_comments, rating, recommendations, comments, created_at, updated_at)
	VALUES (:id, :thesis_id, :advisor_id, :state, :overall_comments, :rating, :recommendations, :comments, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, feedback); err != nil {
		return fmt.Errorf("create feedback: %w", err)
	}
	return nil
}

// GetByID fetches a feedback record.
func (r *FeedbackRepository) GetByID(ctx context.Context, id string) (*models.Feedback, error) {
	query := `SELECT ` + feedbackColumns + ` FROM feedback WHERE id = $1`
	var feedback models.Feedback
	if err := r.db.GetContext(ctx, &feedback, query, id); err != nil {
		return nil, err
	}
	return &feedback, nil
}

// ListByThesis returns all feedback for a thesis, oldest first.
func (r *FeedbackRepository) ListByThesis(ctx context.Context, thesisID string) ([]models.Feedback, error) {
	query := `SELECT ` + feedbackColumns + ` FROM feedback WHERE thesis_id = $1 ORDER BY created_at ASC`
	var feedback []models.Feedback
	if err := r.db.SelectContext(ctx, &feedback, query, thesisID); err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	return feedback, nil
}

// Update replaces the mutable columns of a pending feedback.
func (r *FeedbackRepository) Update(ctx context.Context, feedback *models.Feedback) error {
	feedback.UpdatedAt = time.Now().UTC()
	const query = `UPDATE feedback SET overall_comments = :overall_comments, rating = :rating, recommendations = :recommendations, comments = :comments, updated_at = :updated_at
	WHERE id = :id AND state = 'PENDING'`
	result, err := r.db.NamedExecContext(ctx, query, feedback)
	if err != nil {
		return fmt.Errorf("update feedback: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check feedback update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkSubmitted moves a pending feedback to the submitted state.
func (r *FeedbackRepository) MarkSubmitted(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE feedback SET state = 'SUBMITTED', updated_at = $2 WHERE id = $1 AND state = 'PENDING'`
	result, err := r.db.ExecContext(ctx, query, id, ts)
	if err != nil {
		return fmt.Errorf("submit feedback: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check feedback submit rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
