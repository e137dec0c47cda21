package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unigrad/thesis-review-api/internal/dto"
	"github.com/unigrad/thesis-review-api/internal/models"
	"github.com/unigrad/thesis-review-api/internal/repository"
	appErrors "github.com/unigrad/thesis-review-api/pkg/errors"
)

type thesisStoreStub struct {
	theses      map[string]*models.Thesis
	history     map[string][]models.StatusChange
	failVersion bool
	lastParams  repository.TransitionParams
}

func newThesisStoreStub() *thesisStoreStub {
	return &thesisStoreStub{
		theses:  make(map[string]*models.Thesis),
		history: make(map[string][]models.StatusChange),
	}
}

func (s *thesisStoreStub) Create(ctx context.Context, thesis *models.Thesis) error {
	if thesis.ID == "" {
		thesis.ID = "thesis-1"
	}
	thesis.Version = 1
	copy := *thesis
	s.theses[thesis.ID] = &copy
	return nil
}

func (s *thesisStoreStub) GetByID(ctx context.Context, id string) (*models.Thesis, error) {
	if thesis, ok := s.theses[id]; ok {
		copy := *thesis
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *thesisStoreStub) GetWithHistory(ctx context.Context, id string) (*models.Thesis, error) {
	thesis, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	thesis.History = append([]models.StatusChange(nil), s.history[id]...)
	return thesis, nil
}

func (s *thesisStoreStub) History(ctx context.Context, thesisID string) ([]models.StatusChange, error) {
	return append([]models.StatusChange(nil), s.history[thesisID]...), nil
}

func (s *thesisStoreStub) List(ctx context.Context, filter models.ThesisFilter) ([]models.Thesis, int, error) {
	var result []models.Thesis
	for _, thesis := range s.theses {
		if filter.StudentID != "" && thesis.StudentID != filter.StudentID {
			continue
		}
		if filter.AdvisorID != "" && (thesis.AdvisorID == nil || *thesis.AdvisorID != filter.AdvisorID) {
			continue
		}
		result = append(result, *thesis)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	total := len(result)
	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		start := (page - 1) * filter.PageSize
		if start > total {
			start = total
		}
		end := start + filter.PageSize
		if end > total {
			end = total
		}
		result = result[start:end]
	}
	return result, total, nil
}

func (s *thesisStoreStub) ApplyTransition(ctx context.Context, params repository.TransitionParams, change *models.StatusChange) error {
	s.lastParams = params
	thesis, ok := s.theses[params.ID]
	if !ok {
		return sql.ErrNoRows
	}
	if s.failVersion || thesis.Version != params.ExpectedVersion {
		return sql.ErrNoRows
	}
	thesis.Status = params.Status
	thesis.Version++
	if params.SetAdvisor {
		thesis.AdvisorID = params.AdvisorID
	}
	if params.DecidedAt != nil {
		thesis.DecidedAt = params.DecidedAt
	}
	change.ThesisID = thesis.ID
	s.history[thesis.ID] = append(s.history[thesis.ID], *change)
	return nil
}

func (s *thesisStoreStub) UpdateFile(ctx context.Context, id, fileKey, fileName string, fileSize int64) error {
	thesis, ok := s.theses[id]
	if !ok {
		return sql.ErrNoRows
	}
	thesis.FileKey = &fileKey
	thesis.FileName = &fileName
	thesis.FileSize = &fileSize
	return nil
}

type userDirectoryStub struct {
	users map[string]*models.User
}

func newUserDirectoryStub(users ...*models.User) *userDirectoryStub {
	stub := &userDirectoryStub{users: make(map[string]*models.User)}
	for _, user := range users {
		stub.users[user.ID] = user
	}
	return stub
}

func (s *userDirectoryStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := s.users[id]; ok {
		return user, nil
	}
	return nil, sql.ErrNoRows
}

func (s *userDirectoryStub) ListByRole(ctx context.Context, role models.UserRole) ([]models.User, error) {
	var result []models.User
	for _, user := range s.users {
		if user.Role == role && user.Active {
			result = append(result, *user)
		}
	}
	return result, nil
}

type notifierStub struct {
	events []models.NotificationEvent
}

func (n *notifierStub) Emit(event models.NotificationEvent) {
	n.events = append(n.events, event)
}

func claimsFor(id string, role models.UserRole) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: role}
}

func seedThesis(store *thesisStoreStub, status models.ThesisStatus, advisorID *string) *models.Thesis {
	thesis := &models.Thesis{
		ID:        "thesis-1",
		StudentID: "student-1",
		AdvisorID: advisorID,
		Title:     "Distributed Consensus in Sensor Networks",
		Status:    status,
		Version:   3,
	}
	store.theses[thesis.ID] = thesis
	return thesis
}

func TestThesisServiceSubmit(t *testing.T) {
	store := newThesisStoreStub()
	users := newUserDirectoryStub(&models.User{ID: "admin-1", Role: models.RoleAdmin, Active: true})
	notifier := &notifierStub{}
	svc := NewThesisService(store, users, notifier, nil)

	thesis, err := svc.Submit(context.Background(), dto.CreateThesisRequest{Title: "My Thesis"}, claimsFor("student-1", models.RoleStudent))
	require.NoError(t, err)
	require.Equal(t, models.StatusSubmitted, thesis.Status)
	require.Equal(t, "student-1", thesis.StudentID)
	require.Len(t, notifier.events, 1)
	require.Equal(t, models.NotificationNewSubmission, notifier.events[0].Type)
	require.Equal(t, []string{"admin-1"}, notifier.events[0].Recipients)
}

func TestThesisServiceSubmitRejectsAdvisor(t *testing.T) {
	svc := NewThesisService(newThesisStoreStub(), newUserDirectoryStub(), nil, nil)

	_, err := svc.Submit(context.Background(), dto.CreateThesisRequest{Title: "My Thesis"}, claimsFor("advisor-1", models.RoleAdvisor))
	requireErrorCode(t, err, appErrors.ErrForbidden.Code)
}

func TestThesisServiceTransitionStartsReview(t *testing.T) {
	store := newThesisStoreStub()
	advisorID := "advisor-1"
	seedThesis(store, models.StatusAssigned, &advisorID)
	notifier := &notifierStub{}
	svc := NewThesisService(store, newUserDirectoryStub(), notifier, nil)

	updated, err := svc.RequestTransition(context.Background(), "thesis-1", claimsFor(advisorID, models.RoleAdvisor), dto.TransitionRequest{
		TargetStatus: models.StatusUnderReview,
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusUnderReview, updated.Status)
	require.Equal(t, 4, updated.Version)
	require.Len(t, updated.History, 1)
	require.Equal(t, models.StatusAssigned, updated.History[0].FromStatus)
	require.Len(t, notifier.events, 1)
	require.Equal(t, models.NotificationReviewStarted, notifier.events[0].Type)
	require.Equal(t, []string{"student-1"}, notifier.events[0].Recipients)
}

func TestThesisServiceTransitionConflict(t *testing.T) {
	store := newThesisStoreStub()
	advisorID := "advisor-1"
	seedThesis(store, models.StatusAssigned, &advisorID)
	store.failVersion = true
	svc := NewThesisService(store, newUserDirectoryStub(), nil, nil)

	_, err := svc.RequestTransition(context.Background(), "thesis-1", claimsFor(advisorID, models.RoleAdvisor), dto.TransitionRequest{
		TargetStatus: models.StatusUnderReview,
	})
	requireErrorCode(t, err, appErrors.ErrConflictRetry.Code)
}

func TestThesisServiceTransitionForbiddenForOtherAdvisor(t *testing.T) {
	store := newThesisStoreStub()
	advisorID := "advisor-1"
	seedThesis(store, models.StatusAssigned, &advisorID)
	svc := NewThesisService(store, newUserDirectoryStub(), nil, nil)

	_, err := svc.RequestTransition(context.Background(), "thesis-1", claimsFor("advisor-2", models.RoleAdvisor), dto.TransitionRequest{
		TargetStatus: models.StatusUnderReview,
	})
	requireErrorCode(t, err, appErrors.ErrForbidden.Code)
}

func TestThesisServiceTransitionNotFound(t *testing.T) {
	svc := NewThesisService(newThesisStoreStub(), newUserDirectoryStub(), nil, nil)

	_, err := svc.RequestTransition(context.Background(), "missing", claimsFor("admin-1", models.RoleAdmin), dto.TransitionRequest{
		TargetStatus: models.StatusUnderReview,
	})
	requireErrorCode(t, err, appErrors.ErrNotFound.Code)
}

func TestThesisServiceTransitionRejectsAssignTarget(t *testing.T) {
	store := newThesisStoreStub()
	seedThesis(store, models.StatusSubmitted, nil)
	svc := NewThesisService(store, newUserDirectoryStub(), nil, nil)

	_, err := svc.RequestTransition(context.Background(), "thesis-1", claimsFor("admin-1", models.RoleAdmin), dto.TransitionRequest{
		TargetStatus: models.StatusAssigned,
	})
	requireErrorCode(t, err, appErrors.ErrValidation.Code)
}

func TestThesisServiceApproveSetsDecidedAt(t *testing.T) {
	store := newThesisStoreStub()
	advisorID := "advisor-1"
	seedThesis(store, models.StatusUnderReview, &advisorID)
	svc := NewThesisService(store, newUserDirectoryStub(), nil, nil)

	updated, err := svc.RequestTransition(context.Background(), "thesis-1", claimsFor(advisorID, models.RoleAdvisor), dto.TransitionRequest{
		TargetStatus: models.StatusApproved,
		Note:         "solid work",
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, updated.Status)
	require.NotNil(t, store.lastParams.DecidedAt)
	require.NotNil(t, updated.DecidedAt)
}

func TestThesisServiceAssignAdvisor(t *testing.T) {
	store := newThesisStoreStub()
	seedThesis(store, models.StatusSubmitted, nil)
	advisor := &models.User{ID: "advisor-1", Role: models.RoleAdvisor, Active: true, FullName: "Dr. Ada"}
	notifier := &notifierStub{}
	svc := NewThesisService(store, newUserDirectoryStub(advisor), notifier, nil)

	updated, err := svc.AssignAdvisor(context.Background(), "thesis-1", claimsFor("admin-1", models.RoleAdmin), dto.AssignAdvisorRequest{
		AdvisorID: advisor.ID,
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusAssigned, updated.Status)
	require.NotNil(t, updated.AdvisorID)
	require.Equal(t, advisor.ID, *updated.AdvisorID)
	require.Len(t, notifier.events, 1)
	require.ElementsMatch(t, []string{"student-1", "advisor-1"}, notifier.events[0].Recipients)
}

func TestThesisServiceAssignAdvisorRejectsStudentAssignee(t *testing.T) {
	store := newThesisStoreStub()
	seedThesis(store, models.StatusSubmitted, nil)
	assignee := &models.User{ID: "student-2", Role: models.RoleStudent, Active: true}
	svc := NewThesisService(store, newUserDirectoryStub(assignee), nil, nil)

	_, err := svc.AssignAdvisor(context.Background(), "thesis-1", claimsFor("admin-1", models.RoleAdmin), dto.AssignAdvisorRequest{
		AdvisorID: assignee.ID,
	})
	requireErrorCode(t, err, appErrors.ErrValidation.Code)
}

func TestThesisServiceAssignAdvisorForbiddenForAdvisor(t *testing.T) {
	store := newThesisStoreStub()
	seedThesis(store, models.StatusSubmitted, nil)
	svc := NewThesisService(store, newUserDirectoryStub(), nil, nil)

	_, err := svc.AssignAdvisor(context.Background(), "thesis-1", claimsFor("advisor-1", models.RoleAdvisor), dto.AssignAdvisorRequest{
		AdvisorID: "advisor-1",
	})
	requireErrorCode(t, err, appErrors.ErrForbidden.Code)
}

func TestThesisServiceGetScope(t *testing.T) {
	store := newThesisStoreStub()
	advisorID := "advisor-1"
	seedThesis(store, models.StatusAssigned, &advisorID)
	svc := NewThesisService(store, newUserDirectoryStub(), nil, nil)

	_, err := svc.Get(context.Background(), "thesis-1", claimsFor("student-1", models.RoleStudent))
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), "thesis-1", claimsFor("student-2", models.RoleStudent))
	requireErrorCode(t, err, appErrors.ErrForbidden.Code)

	_, err = svc.Get(context.Background(), "thesis-1", claimsFor(advisorID, models.RoleAdvisor))
	require.NoError(t, err)
}

func TestThesisServiceListScopesByRole(t *testing.T) {
	store := newThesisStoreStub()
	advisorID := "advisor-1"
	seedThesis(store, models.StatusAssigned, &advisorID)
	store.theses["thesis-2"] = &models.Thesis{ID: "thesis-2", StudentID: "student-2", Status: models.StatusSubmitted, Version: 1, Title: "Other"}
	svc := NewThesisService(store, newUserDirectoryStub(), nil, nil)

	mine, _, err := svc.List(context.Background(), dto.ThesisQuery{}, claimsFor("student-1", models.RoleStudent))
	require.NoError(t, err)
	require.Len(t, mine, 1)

	all, _, err := svc.List(context.Background(), dto.ThesisQuery{}, claimsFor("admin-1", models.RoleAdmin))
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestThesisServiceExportRosterCSVSpansPages(t *testing.T) {
	store := newThesisStoreStub()
	for i := 0; i < 150; i++ {
		id := fmt.Sprintf("thesis-%03d", i)
		store.theses[id] = &models.Thesis{
			ID:        id,
			StudentID: fmt.Sprintf("student-%03d", i),
			Status:    models.StatusSubmitted,
			Version:   1,
			Title:     "Roster Entry",
		}
	}
	svc := NewThesisService(store, newUserDirectoryStub(), nil, nil)

	data, err := svc.ExportRosterCSV(context.Background(), claimsFor("admin-1", models.RoleAdmin))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 151)
	require.Contains(t, lines[1], "thesis-000")
	require.Contains(t, lines[150], "thesis-149")
}

func TestThesisServiceFullReviewCycle(t *testing.T) {
	store := newThesisStoreStub()
	advisor := &models.User{ID: "advisor-1", Role: models.RoleAdvisor, Active: true, FullName: "Dr. Ada"}
	admin := &models.User{ID: "admin-1", Role: models.RoleAdmin, Active: true}
	svc := NewThesisService(store, newUserDirectoryStub(advisor, admin), &notifierStub{}, nil)

	thesis, err := svc.Submit(context.Background(), dto.CreateThesisRequest{Title: "Full Cycle"}, claimsFor("student-1", models.RoleStudent))
	require.NoError(t, err)
	require.Equal(t, models.StatusSubmitted, thesis.Status)

	thesis, err = svc.AssignAdvisor(context.Background(), thesis.ID, claimsFor("admin-1", models.RoleAdmin), dto.AssignAdvisorRequest{
		AdvisorID: "advisor-1",
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusAssigned, thesis.Status)
	require.Len(t, thesis.History, 1)

	thesis, err = svc.RequestTransition(context.Background(), thesis.ID, claimsFor("advisor-1", models.RoleAdvisor), dto.TransitionRequest{
		TargetStatus: models.StatusUnderReview,
	})
	require.NoError(t, err)
	require.Len(t, thesis.History, 2)

	thesis, err = svc.RequestTransition(context.Background(), thesis.ID, claimsFor("advisor-1", models.RoleAdvisor), dto.TransitionRequest{
		TargetStatus: models.StatusRevisionRequested,
	})
	require.NoError(t, err)
	require.Len(t, thesis.History, 3)

	thesis, err = svc.RequestTransition(context.Background(), thesis.ID, claimsFor("student-1", models.RoleStudent), dto.TransitionRequest{
		TargetStatus: models.StatusSubmitted,
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusSubmitted, thesis.Status)
	require.Len(t, thesis.History, 4)

	// Advisor assignment survives resubmission.
	require.NotNil(t, thesis.AdvisorID)
	require.Equal(t, "advisor-1", *thesis.AdvisorID)

	// The audit trail is gap-free: each entry starts where the last ended.
	for i, change := range thesis.History {
		if i == 0 {
			require.Equal(t, models.StatusSubmitted, change.FromStatus)
			continue
		}
		require.Equal(t, thesis.History[i-1].ToStatus, change.FromStatus)
	}
	require.Equal(t, thesis.Status, thesis.History[3].ToStatus)

	// An unassigned advisor cannot act on the thesis.
	_, err = svc.AssignAdvisor(context.Background(), thesis.ID, claimsFor("admin-1", models.RoleAdmin), dto.AssignAdvisorRequest{
		AdvisorID: "advisor-1",
	})
	require.NoError(t, err)
	_, err = svc.RequestTransition(context.Background(), thesis.ID, claimsFor("advisor-2", models.RoleAdvisor), dto.TransitionRequest{
		TargetStatus: models.StatusUnderReview,
	})
	requireErrorCode(t, err, appErrors.ErrForbidden.Code)
}

func requireErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr), "expected typed error, got %v", err)
	require.Equal(t, code, appErr.Code)
}
