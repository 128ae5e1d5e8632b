package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/siga-api/internal/models"
	appErrors "github.com/noah-isme/siga-api/pkg/errors"
)

type authUserRepository interface {
	FindByLogin(ctx context.Context, login string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByPhone(ctx context.Context, phone string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	RevokeUserRefreshTokens(ctx context.Context, userID string) error
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type passwordResetRepository interface {
	Create(ctx context.Context, reset *models.PasswordReset) error
	FindByToken(ctx context.Context, token string) (*models.PasswordReset, error)
	FindLatestByCode(ctx context.Context, phone, code string) (*models.PasswordReset, error)
	MarkUsed(ctx context.Context, id string) (bool, error)
}

type subscriptionGate interface {
	IsActive(ctx context.Context) (bool, error)
}

// ResetDispatcher delivers a recovery secret to the user by email or SMS.
type ResetDispatcher interface {
	DispatchReset(ctx context.Context, user *models.User, reset *models.PasswordReset) error
}

// LogResetDispatcher writes recovery secrets to the log. It stands in for real
// delivery in development installs.
type LogResetDispatcher struct {
	Logger *zap.Logger
}

// DispatchReset logs the secret.
func (d LogResetDispatcher) DispatchReset(ctx context.Context, user *models.User, reset *models.PasswordReset) error {
	secret := deref(reset.Token)
	if reset.Code != nil {
		secret = *reset.Code
	}
	d.Logger.Info("password reset issued",
		zap.String("user_id", user.ID),
		zap.String("channel", string(reset.Channel)),
		zap.String("sent_to", reset.SentTo),
		zap.String("secret", secret),
	)
	return nil
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTokenSecret  string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	Issuer             string
	Audience           []string
	SingleSession      bool
	SubscriptionGate   bool
	ResetTokenTTL      time.Duration
	ResetOTPTTL        time.Duration
}

// AuthService provides authentication use cases.
type AuthService struct {
	repo       authUserRepository
	resets     passwordResetRepository
	gate       subscriptionGate
	dispatcher ResetDispatcher
	validator  *validator.Validate
	logger     *zap.Logger
	config     AuthConfig
	now        func() time.Time
}

// NewAuthService constructs an AuthService instance. gate may be nil when the
// subscription check is disabled.
func NewAuthService(repo authUserRepository, resets passwordResetRepository, gate subscriptionGate, dispatcher ResetDispatcher, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if dispatcher == nil {
		dispatcher = LogResetDispatcher{Logger: logger}
	}
	if config.ResetTokenTTL <= 0 {
		config.ResetTokenTTL = 24 * time.Hour
	}
	if config.ResetOTPTTL <= 0 {
		config.ResetOTPTTL = 15 * time.Minute
	}
	return &AuthService{
		repo:       repo,
		resets:     resets,
		gate:       gate,
		dispatcher: dispatcher,
		validator:  validate,
		logger:     logger,
		config:     config,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Login authenticates a user by username or email and returns issued tokens.
// Users still waiting for an access level are refused, and so is everyone but
// a super administrator while the school subscription is not active.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid login payload")
	}

	user, err := s.repo.FindByLogin(ctx, strings.TrimSpace(req.Login))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid username or password")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid username or password")
	}

	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}

	if user.IsPending() {
		return nil, appErrors.Clone(appErrors.ErrProfilePending, "account is awaiting access level assignment")
	}

	if err := s.checkSubscription(ctx, user); err != nil {
		return nil, err
	}

	if s.config.SingleSession {
		if err := s.repo.RevokeUserRefreshTokens(ctx, user.ID); err != nil {
			s.logger.Warn("failed to revoke previous refresh tokens", zap.Error(err))
		}
	}

	accessToken, _, err := s.generateAccessToken(user)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	refreshToken, err := s.issueRefreshToken(ctx, user.ID, req.IP, req.UserAgent)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateLastLogin(ctx, user.ID, s.now()); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	s.audit(ctx, &models.AuditLog{
		UserID:     &user.ID,
		Action:     models.AuditActionLogin,
		Resource:   "auth",
		ResourceID: &user.ID,
		NewValues:  []byte(`{"status":"success"}`),
		IPAddress:  req.IP,
		UserAgent:  req.UserAgent,
	})

	return &models.LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken.Token,
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:     s.now(),
		User: models.UserInfo{
			ID:       user.ID,
			Username: user.Username,
			Email:    user.Email,
			FullName: user.FullName,
			Role:     user.Role,
		},
	}, nil
}

func (s *AuthService) checkSubscription(ctx context.Context, user *models.User) error {
	if !s.config.SubscriptionGate || s.gate == nil || user.Role == models.RoleSuperAdmin {
		return nil
	}
	active, err := s.gate.IsActive(ctx)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check subscription")
	}
	if !active {
		return appErrors.Clone(appErrors.ErrSubscriptionInactive, "school subscription has expired, renew it to continue")
	}
	return nil
}

// RefreshToken exchanges a refresh token for a new access token pair.
func (s *AuthService) RefreshToken(ctx context.Context, req models.RefreshTokenRequest) (*models.RefreshTokenResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid refresh payload")
	}

	storedToken, err := s.repo.FindRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch refresh token")
	}

	if storedToken.Revoked || s.now().After(storedToken.ExpiresAt) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token is expired or revoked")
	}

	user, err := s.repo.FindByID(ctx, storedToken.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "associated user no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}
	if err := s.checkSubscription(ctx, user); err != nil {
		return nil, err
	}

	if err := s.repo.RevokeRefreshToken(ctx, storedToken.ID, s.now()); err != nil {
		s.logger.Warn("failed to revoke used refresh token", zap.Error(err))
	}

	accessToken, _, err := s.generateAccessToken(user)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate access token")
	}

	newRefresh, err := s.issueRefreshToken(ctx, user.ID, req.IP, req.UserAgent)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, &models.AuditLog{
		UserID:     &user.ID,
		Action:     models.AuditActionLogin,
		Resource:   "auth",
		ResourceID: &user.ID,
		NewValues:  []byte(`{"refresh":"rotated"}`),
		IPAddress:  req.IP,
		UserAgent:  req.UserAgent,
	})

	return &models.RefreshTokenResponse{
		AccessToken:  accessToken,
		RefreshToken: newRefresh.Token,
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:     s.now(),
	}, nil
}

// Logout revokes the provided refresh token.
func (s *AuthService) Logout(ctx context.Context, refreshToken string, userID string, meta models.LoginRequest) error {
	storedToken, err := s.repo.FindRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrUnauthorized, "refresh token not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load refresh token")
	}

	if storedToken.UserID != userID {
		return appErrors.Clone(appErrors.ErrForbidden, "token does not belong to user")
	}

	if err := s.repo.RevokeRefreshToken(ctx, storedToken.ID, s.now()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke refresh token")
	}

	s.audit(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionLogout,
		Resource:   "auth",
		ResourceID: &userID,
		NewValues:  []byte(`{"status":"logout"}`),
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})
	return nil
}

// ChangePassword changes the password for the given user ID.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Invalid(err, "invalid change password payload")
	}

	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)); err != nil {
		return appErrors.Clone(appErrors.ErrForbidden, "old password does not match")
	}

	if err := s.setPassword(ctx, userID, req.NewPassword); err != nil {
		return err
	}

	s.audit(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionPasswordChange,
		Resource:   "auth",
		ResourceID: &userID,
		NewValues:  []byte(`{"status":"changed"}`),
	})
	return nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}

	return claims, nil
}

// ForgotPassword issues a recovery secret: a link token for the email channel
// or a six digit code for the phone channel. The response is the same whether
// or not an account matches.
func (s *AuthService) ForgotPassword(ctx context.Context, req models.ForgotPasswordRequest) (*models.ForgotPasswordResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid forgot password payload")
	}

	var (
		user *models.User
		err  error
	)
	switch req.Channel {
	case models.ResetChannelEmail:
		if strings.TrimSpace(req.Email) == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "email is required for the email channel")
		}
		user, err = s.repo.FindByEmail(ctx, strings.TrimSpace(req.Email))
	case models.ResetChannelPhone:
		if strings.TrimSpace(req.Phone) == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "phone is required for the phone channel")
		}
		user, err = s.repo.FindByPhone(ctx, strings.TrimSpace(req.Phone))
	}
	response := &models.ForgotPasswordResponse{Channel: req.Channel}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Info("password reset requested for unknown account", zap.String("channel", string(req.Channel)))
			return response, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if !user.Active {
		return response, nil
	}

	reset, err := s.newReset(user, req.Channel)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create reset secret")
	}
	if err := s.resets.Create(ctx, reset); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store reset secret")
	}
	if err := s.dispatcher.DispatchReset(ctx, user, reset); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deliver reset secret")
	}

	response.ExpiresAt = &reset.ExpiresAt
	return response, nil
}

func (s *AuthService) newReset(user *models.User, channel models.ResetChannel) (*models.PasswordReset, error) {
	now := s.now()
	reset := &models.PasswordReset{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Channel:   channel,
		CreatedAt: now,
	}
	if channel == models.ResetChannelPhone {
		code, err := generateOTP()
		if err != nil {
			return nil, err
		}
		reset.Code = &code
		reset.SentTo = deref(user.Phone)
		reset.ExpiresAt = now.Add(s.config.ResetOTPTTL)
		return reset, nil
	}
	token, err := s.generateRefreshTokenString()
	if err != nil {
		return nil, err
	}
	reset.Token = &token
	reset.SentTo = user.Email
	reset.ExpiresAt = now.Add(s.config.ResetTokenTTL)
	return reset, nil
}

// ResetPassword consumes a link token, or a phone number and OTP code, and sets
// the new password. Each secret works once and only before it expires.
func (s *AuthService) ResetPassword(ctx context.Context, req models.ConfirmResetPasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Invalid(err, "invalid reset password payload")
	}

	var (
		reset *models.PasswordReset
		err   error
	)
	switch {
	case req.Token != "":
		reset, err = s.resets.FindByToken(ctx, req.Token)
	case req.Code != "" && req.Phone != "":
		reset, err = s.resets.FindLatestByCode(ctx, strings.TrimSpace(req.Phone), req.Code)
	default:
		return appErrors.Clone(appErrors.ErrValidation, "token or phone and code are required")
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrTokenExpired, "reset secret is invalid or expired")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reset secret")
	}
	if !reset.Usable(s.now()) {
		return appErrors.Clone(appErrors.ErrTokenExpired, "reset secret is invalid or expired")
	}

	consumed, err := s.resets.MarkUsed(ctx, reset.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to consume reset secret")
	}
	if !consumed {
		return appErrors.Clone(appErrors.ErrTokenExpired, "reset secret is invalid or expired")
	}

	if err := s.setPassword(ctx, reset.UserID, req.NewPassword); err != nil {
		return err
	}

	s.audit(ctx, &models.AuditLog{
		UserID:     &reset.UserID,
		Action:     models.AuditActionPasswordReset,
		Resource:   "auth",
		ResourceID: &reset.UserID,
		NewValues:  []byte(fmt.Sprintf(`{"channel":%q}`, reset.Channel)),
	})
	return nil
}

func (s *AuthService) setPassword(ctx context.Context, userID, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	if err := s.repo.UpdatePassword(ctx, userID, string(hash), s.now()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}
	if err := s.repo.RevokeUserRefreshTokens(ctx, userID); err != nil {
		s.logger.Warn("failed to revoke refresh tokens after password update", zap.Error(err))
	}
	return nil
}

func (s *AuthService) issueRefreshToken(ctx context.Context, userID, ip, userAgent string) (*models.RefreshToken, error) {
	value, err := s.generateRefreshTokenString()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}
	now := s.now()
	token := &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     value,
		ExpiresAt: now.Add(s.config.RefreshTokenExpiry),
		CreatedAt: now,
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if err := s.repo.CreateRefreshToken(ctx, token); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist refresh token")
	}
	return token, nil
}

func (s *AuthService) audit(ctx context.Context, entry *models.AuditLog) {
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", entry.Action), zap.Error(err))
	}
}

func (s *AuthService) generateAccessToken(user *models.User) (string, time.Time, error) {
	issuedAt := time.Now().UTC()
	expiresAt := issuedAt.Add(s.config.AccessTokenExpiry)
	claims := &models.JWTClaims{
		UserID:   user.ID,
		Role:     user.Role,
		Email:    user.Email,
		FullName: user.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			Audience:  s.config.Audience,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *AuthService) generateRefreshTokenString() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// generateOTP returns a six digit code in [100000, 999999].
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
