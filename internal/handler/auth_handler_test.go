package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/siga-api/internal/models"
	appErrors "github.com/noah-isme/siga-api/pkg/errors"
)

type authServiceMock struct {
	loginReq  models.LoginRequest
	loginErr  error
	logoutFor string
	forgotReq models.ForgotPasswordRequest
	resetErr  error
}

func (m *authServiceMock) Login(_ context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	m.loginReq = req
	if m.loginErr != nil {
		return nil, m.loginErr
	}
	return &models.LoginResponse{AccessToken: "access", RefreshToken: "refresh"}, nil
}

func (m *authServiceMock) RefreshToken(context.Context, models.RefreshTokenRequest) (*models.RefreshTokenResponse, error) {
	return &models.RefreshTokenResponse{}, nil
}

func (m *authServiceMock) Logout(_ context.Context, _ string, userID string, _ models.LoginRequest) error {
	m.logoutFor = userID
	return nil
}

func (m *authServiceMock) ChangePassword(context.Context, string, models.ChangePasswordRequest) error {
	return nil
}

func (m *authServiceMock) ForgotPassword(_ context.Context, req models.ForgotPasswordRequest) (*models.ForgotPasswordResponse, error) {
	m.forgotReq = req
	return &models.ForgotPasswordResponse{Channel: req.Channel}, nil
}

func (m *authServiceMock) ResetPassword(context.Context, models.ConfirmResetPasswordRequest) error {
	return m.resetErr
}

func TestAuthHandlerLoginCarriesClientMetadata(t *testing.T) {
	svc := &authServiceMock{}
	h := NewAuthHandler(svc)
	c, w := newGinContext(http.MethodPost, "/api/v1/auth/login", []byte(`{"login":"ana","password":"secret123"}`))
	c.Request.Header.Set("User-Agent", "browser")

	h.Login(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ana", svc.loginReq.Login)
	assert.Equal(t, "browser", svc.loginReq.UserAgent)
}

func TestAuthHandlerLoginRefusedForPendingAccount(t *testing.T) {
	svc := &authServiceMock{loginErr: appErrors.Clone(appErrors.ErrForbidden, "account awaiting role assignment")}
	h := NewAuthHandler(svc)
	c, w := newGinContext(http.MethodPost, "/api/v1/auth/login", []byte(`{"login":"ana","password":"secret123"}`))

	h.Login(c)

	require.Equal(t, http.StatusForbidden, w.Code)
	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, "account awaiting role assignment", env.Error.Message)
}

func TestAuthHandlerForgotPasswordAccepted(t *testing.T) {
	svc := &authServiceMock{}
	h := NewAuthHandler(svc)
	c, w := newGinContext(http.MethodPost, "/api/v1/auth/forgot-password", []byte(`{"channel":"PHONE","phone":"923000000"}`))

	h.ForgotPassword(c)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, models.ResetChannelPhone, svc.forgotReq.Channel)
}

func TestAuthHandlerResetPasswordExpiredToken(t *testing.T) {
	h := NewAuthHandler(&authServiceMock{resetErr: appErrors.ErrTokenExpired})
	c, w := newGinContext(http.MethodPost, "/api/v1/auth/reset-password", []byte(`{"token":"abc","new_password":"newsecret1"}`))

	h.ResetPassword(c)

	assert.Equal(t, http.StatusGone, w.Code)
}

func TestAuthHandlerLogoutRequiresClaims(t *testing.T) {
	svc := &authServiceMock{}
	h := NewAuthHandler(svc)

	c, w := newGinContext(http.MethodPost, "/api/v1/auth/logout", []byte(`{"refresh_token":"r"}`))
	h.Logout(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	c, w = newGinContext(http.MethodPost, "/api/v1/auth/logout", []byte(`{"refresh_token":"r"}`))
	withClaims(c, "u-1", models.RoleAdmin)
	h.Logout(c)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "u-1", svc.logoutFor)
}

func TestAuthHandlerMeFlagsPendingAccount(t *testing.T) {
	h := NewAuthHandler(&authServiceMock{})
	c, w := newGinContext(http.MethodGet, "/api/v1/auth/me", nil)
	withClaims(c, "u-2", models.RolePending)

	h.Me(c)

	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	assert.Equal(t, true, env.Meta["awaiting_role"])
}
