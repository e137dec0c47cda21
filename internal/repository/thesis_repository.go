package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/unigrad/thesis-review-api/internal/models"
)

// ThesisRepository persists theses and their append-only status history.
type ThesisRepository struct {
	db *sqlx.DB
}

// NewThesisRepository constructs the repository.
func NewThesisRepository(db *sqlx.DB) *ThesisRepository {
	return &ThesisRepository{db: db}
}

const thesisColumns = `id, student_id, advisor_id, title, description, status, version, file_key, file_name, file_size, submitted_at, decided_at, created_at, updated_at`

// Create inserts a new thesis. The initial status carries no audit entry;
// history records transitions only.
func (r *ThesisRepository) Create(ctx context.Context, thesis *models.Thesis) error {
	if thesis.ID == "" {
		thesis.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if thesis.CreatedAt.IsZero() {
		thesis.CreatedAt = now
	}
	thesis.UpdatedAt = now
	if thesis.SubmittedAt.IsZero() {
		thesis.SubmittedAt = now
	}
	if thesis.Version == 0 {
		thesis.Version = 1
	}

	const query = `INSERT INTO theses (id, student_id, advisor_id, title, description, status, version, file_key, file_name, file_size, submitted_at, decided_at, created_at, updated_at)
	VALUES (:id, :student_id, :advisor_id, :title, :description, :status, :version, :file_key, :file_name, :file_size, :submitted_at, :decided_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, thesis); err != nil {
		return fmt.Errorf("create thesis: %w", err)
	}
	return nil
}

// GetByID fetches a thesis without its history.
func (r *ThesisRepository) GetByID(ctx context.Context, id string) (*models.Thesis, error) {
	query := `SELECT ` + thesisColumns + ` FROM theses WHERE id = $1`
	var thesis models.Thesis
	if err := r.db.GetContext(ctx, &thesis, query, id); err != nil {
		return nil, err
	}
	return &thesis, nil
}

// GetWithHistory fetches a thesis and its ordered status history.
func (r *ThesisRepository) GetWithHistory(ctx context.Context, id string) (*models.Thesis, error) {
	thesis, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := r.History(ctx, id)
	if err != nil {
		return nil, err
	}
	thesis.History = history
	return thesis, nil
}

// History returns the audit trail in creation order.
func (r *ThesisRepository) History(ctx context.Context, thesisID string) ([]models.StatusChange, error) {
	const query = `SELECT id, thesis_id, from_status, to_status, actor_id, actor_role, note, created_at
	FROM thesis_status_changes WHERE thesis_id = $1 ORDER BY created_at ASC, id ASC`
	var history []models.StatusChange
	if err := r.db.SelectContext(ctx, &history, query, thesisID); err != nil {
		return nil, fmt.Errorf("load thesis history: %w", err)
	}
	return history, nil
}

// List returns theses matching the filter (latest submissions first).
func (r *ThesisRepository) List(ctx context.Context, filter models.ThesisFilter) ([]models.Thesis, int, error) {
	baseQuery := `FROM theses WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.AdvisorID != "" {
		conditions = append(conditions, fmt.Sprintf("advisor_id = $%d", len(args)+1))
		args = append(args, filter.AdvisorID)
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(title) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY submitted_at DESC LIMIT %d OFFSET %d", thesisColumns, baseQuery, pageSize, offset)

	var theses []models.Thesis
	if err := r.db.SelectContext(ctx, &theses, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list theses: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count theses: %w", err)
	}

	return theses, total, nil
}

// TransitionParams groups the row update applied by one committed transition.
type TransitionParams struct {
	ID              string
	ExpectedVersion int
	Status          models.ThesisStatus
	AdvisorID       *string
	SetAdvisor      bool
	DecidedAt       *time.Time
	UpdatedAt       time.Time
}

// ApplyTransition writes the new status and the matching audit entry as one
// transaction, guarded by an optimistic version check. A zero-row update
// means another writer got there first; the caller sees sql.ErrNoRows and
// maps it to a retryable conflict. The audit insert rides the same
// transaction so a half-applied transition is never visible.
func (r *ThesisRepository) ApplyTransition(ctx context.Context, params TransitionParams, change *models.StatusChange) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	setParts := []string{
		"status = :status",
		"version = version + 1",
		"updated_at = :updated_at",
	}
	if params.SetAdvisor {
		setParts = append(setParts, "advisor_id = :advisor_id")
	}
	if params.DecidedAt != nil {
		setParts = append(setParts, "decided_at = :decided_at")
	}
	query := fmt.Sprintf("UPDATE theses SET %s WHERE id = :id AND version = :expected_version", strings.Join(setParts, ", "))
	result, err := tx.NamedExecContext(ctx, query, map[string]interface{}{
		"id":               params.ID,
		"expected_version": params.ExpectedVersion,
		"status":           params.Status,
		"advisor_id":       params.AdvisorID,
		"decided_at":       params.DecidedAt,
		"updated_at":       params.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("update thesis status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check transition rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	change.ThesisID = params.ID
	if err := insertStatusChange(ctx, tx, change); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}

// UpdateFile records the stored document for a thesis.
func (r *ThesisRepository) UpdateFile(ctx context.Context, id, fileKey, fileName string, fileSize int64) error {
	const query = `UPDATE theses SET file_key = $2, file_name = $3, file_size = $4, updated_at = $5 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, fileKey, fileName, fileSize, time.Now().UTC()); err != nil {
		return fmt.Errorf("update thesis file: %w", err)
	}
	return nil
}

func insertStatusChange(ctx context.Context, tx *sqlx.Tx, change *models.StatusChange) error {
	if change.ID == "" {
		change.ID = uuid.NewString()
	}
	if change.CreatedAt.IsZero() {
		change.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO thesis_status_changes (id, thesis_id, from_status, to_status, actor_id, actor_role, note, created_at)
	VALUES (:id, :thesis_id, :from_status, :to_status, :actor_id, :actor_role, :note, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, change); err != nil {
		return fmt.Errorf("append status change: %w", err)
	}
	return nil
}
