package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unigrad/thesis-review-api/internal/models"
	appErrors "github.com/unigrad/thesis-review-api/pkg/errors"
)

var allStatuses = []models.ThesisStatus{
	models.StatusSubmitted,
	models.StatusAssigned,
	models.StatusUnderReview,
	models.StatusRevisionRequested,
	models.StatusApproved,
	models.StatusRejected,
}

func thesisIn(status models.ThesisStatus) *models.Thesis {
	advisor := "advisor-1"
	return &models.Thesis{
		ID:        "thesis-1",
		StudentID: "student-1",
		AdvisorID: &advisor,
		Status:    status,
	}
}

func requireKind(t *testing.T, err error, want *appErrors.Error) {
	t.Helper()
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, want.Code, appErr.Code)
}

func TestAuthorizeUnknownPairsRejected(t *testing.T) {
	admin := Actor{ID: "admin-1", Role: models.RoleAdmin}
	legal := make(map[[2]models.ThesisStatus]bool)
	for _, pair := range Transitions() {
		legal[[2]models.ThesisStatus{pair.From, pair.To}] = true
	}
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			if legal[[2]models.ThesisStatus{from, to}] {
				continue
			}
			err := Authorize(thesisIn(from), admin, to)
			requireKind(t, err, appErrors.ErrInvalidTransition)
		}
	}
}

func TestAuthorizeTerminalStatesSealed(t *testing.T) {
	for _, terminal := range []models.ThesisStatus{models.StatusApproved, models.StatusRejected} {
		for _, to := range allStatuses {
			for _, actor := range []Actor{
				{ID: "admin-1", Role: models.RoleAdmin},
				{ID: "advisor-1", Role: models.RoleAdvisor},
				{ID: "student-1", Role: models.RoleStudent},
			} {
				err := Authorize(thesisIn(terminal), actor, to)
				requireKind(t, err, appErrors.ErrInvalidTransition)
			}
		}
	}
}

func TestAuthorizeStudentCannotApprove(t *testing.T) {
	err := Authorize(thesisIn(models.StatusUnderReview), Actor{ID: "student-1", Role: models.RoleStudent}, models.StatusApproved)
	requireKind(t, err, appErrors.ErrForbidden)

	err = Authorize(thesisIn(models.StatusUnderReview), Actor{ID: "advisor-1", Role: models.RoleAdvisor}, models.StatusApproved)
	require.NoError(t, err)
}

func TestAuthorizeUnassignedAdvisorForbidden(t *testing.T) {
	other := Actor{ID: "advisor-2", Role: models.RoleAdvisor}
	for _, tc := range []struct {
		from, to models.ThesisStatus
	}{
		{models.StatusAssigned, models.StatusUnderReview},
		{models.StatusUnderReview, models.StatusApproved},
		{models.StatusUnderReview, models.StatusRejected},
		{models.StatusUnderReview, models.StatusRevisionRequested},
	} {
		err := Authorize(thesisIn(tc.from), other, tc.to)
		requireKind(t, err, appErrors.ErrForbidden)

		err = Authorize(thesisIn(tc.from), Actor{ID: "admin-9", Role: models.RoleAdmin}, tc.to)
		require.NoError(t, err)
	}
}

func TestAuthorizeAdvisorWithoutAssignmentForbidden(t *testing.T) {
	thesis := thesisIn(models.StatusAssigned)
	thesis.AdvisorID = nil
	err := Authorize(thesis, Actor{ID: "advisor-1", Role: models.RoleAdvisor}, models.StatusUnderReview)
	requireKind(t, err, appErrors.ErrForbidden)
}

func TestAuthorizeResubmissionOwnership(t *testing.T) {
	thesis := thesisIn(models.StatusRevisionRequested)

	err := Authorize(thesis, Actor{ID: "student-1", Role: models.RoleStudent}, models.StatusSubmitted)
	require.NoError(t, err)

	err = Authorize(thesis, Actor{ID: "student-2", Role: models.RoleStudent}, models.StatusSubmitted)
	requireKind(t, err, appErrors.ErrForbidden)

	// The assigned advisor has no role on resubmission.
	err = Authorize(thesis, Actor{ID: "advisor-1", Role: models.RoleAdvisor}, models.StatusSubmitted)
	requireKind(t, err, appErrors.ErrForbidden)

	err = Authorize(thesis, Actor{ID: "admin-1", Role: models.RoleAdmin}, models.StatusSubmitted)
	require.NoError(t, err)
}

func TestAuthorizeAssignmentAdminOnly(t *testing.T) {
	thesis := thesisIn(models.StatusSubmitted)
	err := Authorize(thesis, Actor{ID: "advisor-1", Role: models.RoleAdvisor}, models.StatusAssigned)
	requireKind(t, err, appErrors.ErrForbidden)

	err = Authorize(thesis, Actor{ID: "student-1", Role: models.RoleStudent}, models.StatusAssigned)
	requireKind(t, err, appErrors.ErrForbidden)

	err = Authorize(thesis, Actor{ID: "admin-1", Role: models.RoleAdmin}, models.StatusAssigned)
	require.NoError(t, err)
}

func TestAuthorizeUnknownTargetStatus(t *testing.T) {
	err := Authorize(thesisIn(models.StatusSubmitted), Actor{ID: "admin-1", Role: models.RoleAdmin}, models.ThesisStatus("ARCHIVED"))
	requireKind(t, err, appErrors.ErrValidation)
}

func TestAuthorizeUnknownRoleNeverAllowed(t *testing.T) {
	ghost := Actor{ID: "x", Role: models.UserRole("AUDITOR")}
	for _, pair := range Transitions() {
		err := Authorize(thesisIn(pair.From), ghost, pair.To)
		requireKind(t, err, appErrors.ErrForbidden)
	}
}

func TestEventForCoversEveryTableEntry(t *testing.T) {
	for _, pair := range Transitions() {
		event, ok := EventFor(pair.From, pair.To)
		require.True(t, ok)
		require.NotEmpty(t, event)
	}
	_, ok := EventFor(models.StatusApproved, models.StatusSubmitted)
	require.False(t, ok)
}
