package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/unigrad/thesis-review-api/internal/models"
)

func newFeedbackRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestFeedbackRepositoryCreateDefaultsPending(t *testing.T) {
	db, mock, cleanup := newFeedbackRepoMock(t)
	defer cleanup()

	repo := NewFeedbackRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO feedback")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	feedback := &models.Feedback{
		ThesisID:        "thesis-1",
		AdvisorID:       "advisor-1",
		OverallComments: "solid methodology, weak evaluation section",
		Comments:        []byte(`[]`),
	}
	require.NoError(t, repo.Create(context.Background(), feedback))
	require.Equal(t, models.FeedbackPending, feedback.State)
	require.NotEmpty(t, feedback.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFeedbackRepositoryMarkSubmitted(t *testing.T) {
	db, mock, cleanup := newFeedbackRepoMock(t)
	defer cleanup()

	repo := NewFeedbackRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE feedback SET state = 'SUBMITTED'")).
		WithArgs("fb-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkSubmitted(context.Background(), "fb-1", time.Now().UTC()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFeedbackRepositoryMarkSubmittedAlreadySubmitted(t *testing.T) {
	db, mock, cleanup := newFeedbackRepoMock(t)
	defer cleanup()

	repo := NewFeedbackRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE feedback SET state = 'SUBMITTED'")).
		WithArgs("fb-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkSubmitted(context.Background(), "fb-1", time.Now().UTC())
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFeedbackRepositoryListByThesis(t *testing.T) {
	db, mock, cleanup := newFeedbackRepoMock(t)
	defer cleanup()

	repo := NewFeedbackRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "thesis_id", "advisor_id", "state", "overall_comments", "rating", "recommendations", "comments", "created_at", "updated_at"}).
		AddRow("fb-1", "thesis-1", "advisor-1", "SUBMITTED", "good work", 4, nil, []byte(`[]`), now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, thesis_id, advisor_id")).
		WithArgs("thesis-1").
		WillReturnRows(rows)

	list, err := repo.ListByThesis(context.Background(), "thesis-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, models.FeedbackSubmitted, list[0].State)
	require.NoError(t, mock.ExpectationsWereMet())
}
