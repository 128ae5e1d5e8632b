package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/siga-api/internal/models"
	appErrors "github.com/noah-isme/siga-api/pkg/errors"
)

type mockAuthRepo struct {
	users               map[string]*models.User
	findErr             error
	refreshTokens       map[string]*models.RefreshToken
	createRefreshErr    error
	revokeUserTokensErr error
	revokedUsers        []string
	auditLogs           []*models.AuditLog
	lastLoginUpdated    bool
}

func newMockAuthRepo(users ...*models.User) *mockAuthRepo {
	repo := &mockAuthRepo{users: map[string]*models.User{}, refreshTokens: map[string]*models.RefreshToken{}}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (m *mockAuthRepo) find(match func(*models.User) bool) (*models.User, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, u := range m.users {
		if match(u) {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) FindByLogin(ctx context.Context, login string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.Username == login || u.Email == login })
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.Email == email })
}

func (m *mockAuthRepo) FindByPhone(ctx context.Context, phone string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.Phone != nil && *u.Phone == phone })
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.ID == id })
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockAuthRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	u, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = passwordHash
	return nil
}

func (m *mockAuthRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	m.revokedUsers = append(m.revokedUsers, userID)
	return m.revokeUserTokensErr
}

func (m *mockAuthRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if m.createRefreshErr != nil {
		return m.createRefreshErr
	}
	m.refreshTokens[token.Token] = token
	return nil
}

func (m *mockAuthRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	rt, ok := m.refreshTokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return rt, nil
}

func (m *mockAuthRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, token := range m.refreshTokens {
		if token.ID == id {
			token.Revoked = true
			token.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (m *mockAuthRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

type memoryResetRepo struct {
	resets []*models.PasswordReset
}

func (m *memoryResetRepo) Create(ctx context.Context, reset *models.PasswordReset) error {
	for _, r := range m.resets {
		if r.UserID == reset.UserID {
			r.Used = true
		}
	}
	m.resets = append(m.resets, reset)
	return nil
}

func (m *memoryResetRepo) FindByToken(ctx context.Context, token string) (*models.PasswordReset, error) {
	for _, r := range m.resets {
		if r.Token != nil && *r.Token == token {
			copied := *r
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryResetRepo) FindLatestByCode(ctx context.Context, phone, code string) (*models.PasswordReset, error) {
	for i := len(m.resets) - 1; i >= 0; i-- {
		r := m.resets[i]
		if r.SentTo == phone && r.Code != nil && *r.Code == code {
			copied := *r
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryResetRepo) MarkUsed(ctx context.Context, id string) (bool, error) {
	for _, r := range m.resets {
		if r.ID == id {
			if r.Used {
				return false, nil
			}
			r.Used = true
			return true, nil
		}
	}
	return false, nil
}

type stubGate struct {
	active bool
	err    error
}

func (g stubGate) IsActive(ctx context.Context) (bool, error) {
	return g.active, g.err
}

type recordingDispatcher struct {
	sent []*models.PasswordReset
}

func (d *recordingDispatcher) DispatchReset(ctx context.Context, user *models.User, reset *models.PasswordReset) error {
	d.sent = append(d.sent, reset)
	return nil
}

var testAuthConfig = AuthConfig{
	AccessTokenSecret:  "secret",
	AccessTokenExpiry:  time.Hour,
	RefreshTokenExpiry: 24 * time.Hour,
	SubscriptionGate:   true,
	ResetTokenTTL:      24 * time.Hour,
	ResetOTPTTL:        15 * time.Minute,
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func newAuthFixture(t *testing.T, gate subscriptionGate, users ...*models.User) (*AuthService, *mockAuthRepo, *memoryResetRepo, *recordingDispatcher) {
	repo := newMockAuthRepo(users...)
	resets := &memoryResetRepo{}
	dispatcher := &recordingDispatcher{}
	svc := NewAuthService(repo, resets, gate, dispatcher, validator.New(), zap.NewNop(), testAuthConfig)
	return svc, repo, resets, dispatcher
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	user := &models.User{ID: "123", Username: "ana", Email: "ana@example.com", PasswordHash: hashed(t, "password"), Active: true, Role: models.RoleAdmin}
	svc, repo, _, _ := newAuthFixture(t, stubGate{active: true}, user)

	for _, login := range []string{"ana", "ana@example.com"} {
		res, err := svc.Login(context.Background(), models.LoginRequest{Login: login, Password: "password"})
		require.NoError(t, err)
		assert.NotEmpty(t, res.AccessToken)
		assert.NotEmpty(t, res.RefreshToken)
		assert.Equal(t, "ana", res.User.Username)
	}
	assert.True(t, repo.lastLoginUpdated)
	assert.Len(t, repo.refreshTokens, 2)
}

func TestAuthServiceLoginRefusals(t *testing.T) {
	pwd := hashed(t, "password")
	cases := []struct {
		name string
		user *models.User
		gate stubGate
		pass string
		code string
	}{
		{"wrong password", &models.User{ID: "1", Username: "u", PasswordHash: pwd, Active: true, Role: models.RoleAdmin}, stubGate{active: true}, "nope", appErrors.ErrInvalidCredentials.Code},
		{"inactive", &models.User{ID: "1", Username: "u", PasswordHash: pwd, Active: false, Role: models.RoleAdmin}, stubGate{active: true}, "password", appErrors.ErrInactiveAccount.Code},
		{"pending", &models.User{ID: "1", Username: "u", PasswordHash: pwd, Active: true, Role: models.RolePending}, stubGate{active: true}, "password", appErrors.ErrProfilePending.Code},
		{"subscription expired", &models.User{ID: "1", Username: "u", PasswordHash: pwd, Active: true, Role: models.RoleSecretary}, stubGate{active: false}, "password", appErrors.ErrSubscriptionInactive.Code},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, repo, _, _ := newAuthFixture(t, tc.gate, tc.user)
			_, err := svc.Login(context.Background(), models.LoginRequest{Login: "u", Password: tc.pass})
			require.Error(t, err)
			assert.Equal(t, tc.code, appErrors.FromError(err).Code)
			assert.Empty(t, repo.refreshTokens)
		})
	}
}

func TestAuthServiceLoginUnknownUser(t *testing.T) {
	svc, _, _, _ := newAuthFixture(t, nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Login: "ghost", Password: "password"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceSuperAdminBypassesSubscriptionGate(t *testing.T) {
	user := &models.User{ID: "1", Username: "root", PasswordHash: hashed(t, "password"), Active: true, Role: models.RoleSuperAdmin}
	svc, _, _, _ := newAuthFixture(t, stubGate{active: false}, user)

	_, err := svc.Login(context.Background(), models.LoginRequest{Login: "root", Password: "password"})
	require.NoError(t, err)
}

func TestAuthServiceLoginGateError(t *testing.T) {
	user := &models.User{ID: "1", Username: "u", PasswordHash: hashed(t, "password"), Active: true, Role: models.RoleTeacher}
	svc, _, _, _ := newAuthFixture(t, stubGate{err: errors.New("db down")}, user)

	_, err := svc.Login(context.Background(), models.LoginRequest{Login: "u", Password: "password"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshToken(t *testing.T) {
	user := &models.User{ID: "u1", Email: "user@example.com", PasswordHash: "hash", Active: true, Role: models.RoleAdmin}
	svc, repo, _, _ := newAuthFixture(t, stubGate{active: true}, user)
	repo.refreshTokens["token"] = &models.RefreshToken{ID: "rt1", UserID: user.ID, Token: "token", ExpiresAt: time.Now().Add(time.Hour)}

	res, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "token"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEqual(t, "token", res.RefreshToken)
	assert.True(t, repo.refreshTokens["token"].Revoked)

	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "token"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceChangePassword(t *testing.T) {
	oldHash := hashed(t, "old")
	user := &models.User{ID: "u1", PasswordHash: oldHash, Active: true}
	svc, repo, _, _ := newAuthFixture(t, nil, user)

	err := svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{OldPassword: "wrong", NewPassword: "newpassword"})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	err = svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{OldPassword: "old", NewPassword: "newpassword"})
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.users["u1"].PasswordHash), []byte("newpassword")))
	assert.Equal(t, []string{"u1"}, repo.revokedUsers)
}

func TestValidateToken(t *testing.T) {
	svc, _, _, _ := newAuthFixture(t, nil)
	user := &models.User{ID: "u1", Email: "user@example.com", Role: models.RoleAdmin}
	token, _, err := svc.generateAccessToken(user)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, models.RoleAdmin, claims.Role)

	_, err = svc.ValidateToken(token + "x")
	assert.Error(t, err)
}

func TestAuthServiceResetByEmailToken(t *testing.T) {
	user := &models.User{ID: "u1", Email: "ana@example.com", PasswordHash: hashed(t, "old"), Active: true}
	svc, repo, _, dispatcher := newAuthFixture(t, nil, user)
	ctx := context.Background()

	res, err := svc.ForgotPassword(ctx, models.ForgotPasswordRequest{Channel: models.ResetChannelEmail, Email: "ana@example.com"})
	require.NoError(t, err)
	require.NotNil(t, res.ExpiresAt)
	require.Len(t, dispatcher.sent, 1)
	reset := dispatcher.sent[0]
	require.NotNil(t, reset.Token)
	assert.Nil(t, reset.Code)
	assert.Equal(t, "ana@example.com", reset.SentTo)

	require.NoError(t, svc.ResetPassword(ctx, models.ConfirmResetPasswordRequest{Token: *reset.Token, NewPassword: "brandnewpass"}))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.users["u1"].PasswordHash), []byte("brandnewpass")))

	err = svc.ResetPassword(ctx, models.ConfirmResetPasswordRequest{Token: *reset.Token, NewPassword: "anotherpass"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrTokenExpired.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceResetByPhoneOTP(t *testing.T) {
	phone := "923111222"
	user := &models.User{ID: "u1", Email: "ana@example.com", Phone: &phone, PasswordHash: hashed(t, "old"), Active: true}
	svc, repo, _, dispatcher := newAuthFixture(t, nil, user)
	ctx := context.Background()

	_, err := svc.ForgotPassword(ctx, models.ForgotPasswordRequest{Channel: models.ResetChannelPhone, Phone: phone})
	require.NoError(t, err)
	require.Len(t, dispatcher.sent, 1)
	code := dispatcher.sent[0].Code
	require.NotNil(t, code)
	assert.Len(t, *code, 6)
	assert.Equal(t, phone, dispatcher.sent[0].SentTo)

	require.NoError(t, svc.ResetPassword(ctx, models.ConfirmResetPasswordRequest{Phone: phone, Code: *code, NewPassword: "brandnewpass"}))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.users["u1"].PasswordHash), []byte("brandnewpass")))
}

func TestAuthServiceResetExpired(t *testing.T) {
	user := &models.User{ID: "u1", Email: "ana@example.com", PasswordHash: hashed(t, "old"), Active: true}
	svc, _, _, dispatcher := newAuthFixture(t, nil, user)
	ctx := context.Background()
	issued := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return issued }

	_, err := svc.ForgotPassword(ctx, models.ForgotPasswordRequest{Channel: models.ResetChannelEmail, Email: "ana@example.com"})
	require.NoError(t, err)
	token := *dispatcher.sent[0].Token

	svc.now = func() time.Time { return issued.Add(25 * time.Hour) }
	err = svc.ResetPassword(ctx, models.ConfirmResetPasswordRequest{Token: token, NewPassword: "brandnewpass"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrTokenExpired.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceNewResetInvalidatesPrevious(t *testing.T) {
	user := &models.User{ID: "u1", Email: "ana@example.com", PasswordHash: hashed(t, "old"), Active: true}
	svc, _, _, dispatcher := newAuthFixture(t, nil, user)
	ctx := context.Background()
	req := models.ForgotPasswordRequest{Channel: models.ResetChannelEmail, Email: "ana@example.com"}

	_, err := svc.ForgotPassword(ctx, req)
	require.NoError(t, err)
	_, err = svc.ForgotPassword(ctx, req)
	require.NoError(t, err)
	require.Len(t, dispatcher.sent, 2)

	err = svc.ResetPassword(ctx, models.ConfirmResetPasswordRequest{Token: *dispatcher.sent[0].Token, NewPassword: "brandnewpass"})
	assert.Equal(t, appErrors.ErrTokenExpired.Code, appErrors.FromError(err).Code)
	assert.NoError(t, svc.ResetPassword(ctx, models.ConfirmResetPasswordRequest{Token: *dispatcher.sent[1].Token, NewPassword: "brandnewpass"}))
}

func TestAuthServiceForgotPasswordUnknownAccount(t *testing.T) {
	svc, _, _, dispatcher := newAuthFixture(t, nil)

	res, err := svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Channel: models.ResetChannelEmail, Email: "ghost@example.com"})
	require.NoError(t, err)
	assert.Nil(t, res.ExpiresAt)
	assert.Empty(t, dispatcher.sent)

	_, err = svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Channel: models.ResetChannelPhone})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	err = svc.ResetPassword(context.Background(), models.ConfirmResetPasswordRequest{NewPassword: "brandnewpass"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
