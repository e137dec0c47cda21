package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unigrad/thesis-review-api/internal/models"
	appErrors "github.com/unigrad/thesis-review-api/pkg/errors"
)

type userRepoStub struct {
	users    map[string]*models.User
	active   map[string]bool
	verified map[string]bool
}

func newUserRepoStub(users ...*models.User) *userRepoStub {
	stub := &userRepoStub{
		users:    make(map[string]*models.User),
		active:   make(map[string]bool),
		verified: make(map[string]bool),
	}
	for _, u := range users {
		stub.users[u.ID] = u
	}
	return stub
}

func (s *userRepoStub) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	var users []models.User
	for _, u := range s.users {
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		users = append(users, *u)
	}
	return users, len(users), nil
}

func (s *userRepoStub) ListByRole(ctx context.Context, role models.UserRole) ([]models.User, error) {
	var users []models.User
	for _, u := range s.users {
		if u.Role == role && u.Active {
			users = append(users, *u)
		}
	}
	return users, nil
}

func (s *userRepoStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (s *userRepoStub) SetActive(ctx context.Context, id string, active bool) error {
	s.active[id] = active
	return nil
}

func (s *userRepoStub) MarkEmailVerified(ctx context.Context, id string, ts time.Time) error {
	s.verified[id] = true
	return nil
}

func TestUserServiceListAdvisorsSkipsInactive(t *testing.T) {
	repo := newUserRepoStub(
		&models.User{ID: "advisor-1", Role: models.RoleAdvisor, Active: true},
		&models.User{ID: "advisor-2", Role: models.RoleAdvisor, Active: false},
		&models.User{ID: "student-1", Role: models.RoleStudent, Active: true},
	)
	svc := NewUserService(repo, zap.NewNop())

	advisors, err := svc.ListAdvisors(context.Background())
	require.NoError(t, err)
	require.Len(t, advisors, 1)
	assert.Equal(t, "advisor-1", advisors[0].ID)
}

func TestUserServiceListPagination(t *testing.T) {
	repo := newUserRepoStub(
		&models.User{ID: "user-1", Role: models.RoleStudent},
		&models.User{ID: "user-2", Role: models.RoleStudent},
	)
	svc := NewUserService(repo, zap.NewNop())

	users, pagination, err := svc.List(context.Background(), models.UserFilter{})
	require.NoError(t, err)
	assert.Len(t, users, 2)
	require.NotNil(t, pagination)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 20, pagination.PageSize)
	assert.Equal(t, 2, pagination.TotalCount)
}

func TestUserServiceSetActive(t *testing.T) {
	repo := newUserRepoStub(&models.User{ID: "user-1", Role: models.RoleStudent, Active: true})
	svc := NewUserService(repo, zap.NewNop())

	require.NoError(t, svc.SetActive(context.Background(), "user-1", false, "admin-1"))
	assert.False(t, repo.active["user-1"])
}

func TestUserServiceSetActiveRejectsSelf(t *testing.T) {
	repo := newUserRepoStub(&models.User{ID: "admin-1", Role: models.RoleAdmin, Active: true})
	svc := NewUserService(repo, zap.NewNop())

	err := svc.SetActive(context.Background(), "admin-1", false, "admin-1")
	requireErrorCode(t, err, appErrors.ErrValidation.Code)
	_, touched := repo.active["admin-1"]
	assert.False(t, touched)
}

func TestUserServiceSetActiveUnknownUser(t *testing.T) {
	svc := NewUserService(newUserRepoStub(), zap.NewNop())

	err := svc.SetActive(context.Background(), "ghost", false, "admin-1")
	requireErrorCode(t, err, appErrors.ErrNotFound.Code)
}

func TestUserServiceForceVerify(t *testing.T) {
	repo := newUserRepoStub(&models.User{ID: "user-1", Role: models.RoleStudent})
	svc := NewUserService(repo, zap.NewNop())

	require.NoError(t, svc.ForceVerify(context.Background(), "user-1"))
	assert.True(t, repo.verified["user-1"])
}
