package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/unigrad/thesis-review-api/internal/models"
	appErrors "github.com/unigrad/thesis-review-api/pkg/errors"
	"github.com/unigrad/thesis-review-api/pkg/mailer"
)

type authRepoStub struct {
	users              map[string]*models.User
	refreshTokens      map[string]*models.RefreshToken
	verificationTokens map[string]*models.VerificationToken
}

func newAuthRepoStub(users ...*models.User) *authRepoStub {
	stub := &authRepoStub{
		users:              make(map[string]*models.User),
		refreshTokens:      make(map[string]*models.RefreshToken),
		verificationTokens: make(map[string]*models.VerificationToken),
	}
	for _, user := range users {
		stub.users[user.ID] = user
	}
	return stub
}

func (s *authRepoStub) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, user := range s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *authRepoStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := s.users[id]; ok {
		return user, nil
	}
	return nil, sql.ErrNoRows
}

func (s *authRepoStub) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = "user-" + user.Email
	}
	s.users[user.ID] = user
	return nil
}

func (s *authRepoStub) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	if user, ok := s.users[id]; ok {
		user.LastLogin = &ts
	}
	return nil
}

func (s *authRepoStub) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	if user, ok := s.users[id]; ok {
		user.PasswordHash = passwordHash
	}
	return nil
}

func (s *authRepoStub) MarkEmailVerified(ctx context.Context, id string, ts time.Time) error {
	if user, ok := s.users[id]; ok {
		user.EmailVerified = true
	}
	return nil
}

func (s *authRepoStub) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	for _, token := range s.refreshTokens {
		if token.UserID == userID {
			token.Revoked = true
		}
	}
	return nil
}

func (s *authRepoStub) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	s.refreshTokens[token.Token] = token
	return nil
}

func (s *authRepoStub) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	if stored, ok := s.refreshTokens[token]; ok {
		return stored, nil
	}
	return nil, sql.ErrNoRows
}

func (s *authRepoStub) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, token := range s.refreshTokens {
		if token.ID == id {
			token.Revoked = true
			token.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (s *authRepoStub) CreateVerificationToken(ctx context.Context, token *models.VerificationToken) error {
	s.verificationTokens[token.Token] = token
	return nil
}

func (s *authRepoStub) ConsumeVerificationToken(ctx context.Context, token string, usedAt time.Time) (*models.VerificationToken, error) {
	stored, ok := s.verificationTokens[token]
	if !ok || stored.UsedAt != nil || usedAt.After(stored.ExpiresAt) {
		return nil, sql.ErrNoRows
	}
	stored.UsedAt = &usedAt
	return stored, nil
}

type mailerStub struct {
	sent [][]string
}

func (m *mailerStub) Send(to []string, subject, body string) error {
	m.sent = append(m.sent, to)
	return nil
}

func authConfigForTest() AuthConfig {
	return AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 24 * time.Hour,
		VerificationExpiry: time.Hour,
		Issuer:             "thesis-review-api",
		BaseURL:            "http://localhost:8080",
	}
}

func verifiedUser(t *testing.T, id, email, password string, role models.UserRole) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.User{
		ID:            id,
		Email:         email,
		PasswordHash:  string(hash),
		FullName:      "Test User",
		Role:          role,
		Active:        true,
		EmailVerified: true,
	}
}

func TestAuthServiceRegisterSendsVerification(t *testing.T) {
	repo := newAuthRepoStub()
	mail := &mailerStub{}
	svc := NewAuthService(repo, mail, nil, nil, authConfigForTest())

	info, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "ana@example.edu",
		Password: "correct-horse",
		FullName: "Ana Silva",
		Role:     "STUDENT",
	})
	require.NoError(t, err)
	require.Equal(t, models.RoleStudent, info.Role)
	require.Len(t, repo.verificationTokens, 1)
	require.Len(t, mail.sent, 1)
}

func TestAuthServiceRegisterWithUnconfiguredMailer(t *testing.T) {
	repo := newAuthRepoStub()
	var mail *mailer.Mailer
	svc := NewAuthService(repo, mail, nil, nil, authConfigForTest())

	info, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "ana@example.edu",
		Password: "correct-horse",
		FullName: "Ana Silva",
		Role:     "STUDENT",
	})
	require.NoError(t, err)
	require.Equal(t, models.RoleStudent, info.Role)
	require.Len(t, repo.verificationTokens, 1)
}

func TestAuthServiceRegisterDuplicateEmail(t *testing.T) {
	repo := newAuthRepoStub(verifiedUser(t, "user-1", "ana@example.edu", "pw123456", models.RoleStudent))
	svc := NewAuthService(repo, nil, nil, nil, authConfigForTest())

	_, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "ana@example.edu",
		Password: "another-pw",
		FullName: "Ana Silva",
		Role:     "STUDENT",
	})
	requireErrorCode(t, err, appErrors.ErrConflict.Code)
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	repo := newAuthRepoStub(verifiedUser(t, "user-1", "ana@example.edu", "pw123456", models.RoleStudent))
	svc := NewAuthService(repo, nil, nil, nil, authConfigForTest())

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "ana@example.edu", Password: "pw123456"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
	require.NotEmpty(t, resp.RefreshToken)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, models.RoleStudent, claims.Role)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	repo := newAuthRepoStub(verifiedUser(t, "user-1", "ana@example.edu", "pw123456", models.RoleStudent))
	svc := NewAuthService(repo, nil, nil, nil, authConfigForTest())

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ana@example.edu", Password: "nope-nope"})
	requireErrorCode(t, err, appErrors.ErrInvalidCredentials.Code)
}

func TestAuthServiceLoginUnverifiedBlocked(t *testing.T) {
	user := verifiedUser(t, "user-1", "ana@example.edu", "pw123456", models.RoleStudent)
	user.EmailVerified = false
	repo := newAuthRepoStub(user)
	cfg := authConfigForTest()
	cfg.RequireVerified = true
	svc := NewAuthService(repo, nil, nil, nil, cfg)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ana@example.edu", Password: "pw123456"})
	requireErrorCode(t, err, appErrors.ErrEmailNotVerified.Code)
}

func TestAuthServiceLoginInactiveBlocked(t *testing.T) {
	user := verifiedUser(t, "user-1", "ana@example.edu", "pw123456", models.RoleStudent)
	user.Active = false
	repo := newAuthRepoStub(user)
	svc := NewAuthService(repo, nil, nil, nil, authConfigForTest())

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ana@example.edu", Password: "pw123456"})
	requireErrorCode(t, err, appErrors.ErrInactiveAccount.Code)
}

func TestAuthServiceRefreshRotatesToken(t *testing.T) {
	repo := newAuthRepoStub(verifiedUser(t, "user-1", "ana@example.edu", "pw123456", models.RoleStudent))
	svc := NewAuthService(repo, nil, nil, nil, authConfigForTest())

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "ana@example.edu", Password: "pw123456"})
	require.NoError(t, err)

	refreshed, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	require.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	requireErrorCode(t, err, appErrors.ErrUnauthorized.Code)
}

func TestAuthServiceVerifyEmail(t *testing.T) {
	repo := newAuthRepoStub()
	mail := &mailerStub{}
	svc := NewAuthService(repo, mail, nil, nil, authConfigForTest())

	info, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "ana@example.edu",
		Password: "correct-horse",
		FullName: "Ana Silva",
		Role:     "STUDENT",
	})
	require.NoError(t, err)

	var tokenValue string
	for value := range repo.verificationTokens {
		tokenValue = value
	}
	require.NoError(t, svc.VerifyEmail(context.Background(), models.VerifyEmailRequest{Token: tokenValue}))
	require.True(t, repo.users[info.ID].EmailVerified)

	err = svc.VerifyEmail(context.Background(), models.VerifyEmailRequest{Token: tokenValue})
	requireErrorCode(t, err, appErrors.ErrUnauthorized.Code)
}

func TestAuthServiceChangePasswordRevokesSessions(t *testing.T) {
	repo := newAuthRepoStub(verifiedUser(t, "user-1", "ana@example.edu", "pw123456", models.RoleStudent))
	svc := NewAuthService(repo, nil, nil, nil, authConfigForTest())

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "ana@example.edu", Password: "pw123456"})
	require.NoError(t, err)

	require.NoError(t, svc.ChangePassword(context.Background(), "user-1", models.ChangePasswordRequest{
		OldPassword: "pw123456",
		NewPassword: "brand-new-pw",
	}))
	require.True(t, repo.refreshTokens[login.RefreshToken].Revoked)

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "ana@example.edu", Password: "brand-new-pw"})
	require.NoError(t, err)
}
