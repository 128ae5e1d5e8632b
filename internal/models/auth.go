package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating a user. Login accepts the
// username or the email address.
type LoginRequest struct {
	Login     string `json:"login" validate:"required"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse returns the issued tokens and user info.
type LoginResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	User         UserInfo  `json:"user"`
	IssuedAt     time.Time `json:"issued_at"`
}

// RegisterRequest creates a PENDING account awaiting level assignment.
type RegisterRequest struct {
	Username string  `json:"username" validate:"required,min=3,max=50,alphanum"`
	Email    string  `json:"email" validate:"required,email"`
	Phone    *string `json:"phone" validate:"omitempty,min=6,max=20"`
	FullName string  `json:"full_name" validate:"required,max=200"`
	Password string  `json:"password" validate:"required,min=8"`
}

// RefreshTokenRequest exchanges a refresh token for a new access token.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// RefreshTokenResponse returns the refreshed tokens.
type RefreshTokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	IssuedAt     time.Time `json:"issued_at"`
}

// ChangePasswordRequest payload for updating password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

// ForgotPasswordRequest starts recovery by email link or phone OTP.
type ForgotPasswordRequest struct {
	Channel ResetChannel `json:"channel" validate:"required,oneof=EMAIL PHONE"`
	Email   string       `json:"email" validate:"omitempty,email"`
	Phone   string       `json:"phone" validate:"omitempty,min=6,max=20"`
}

// ForgotPasswordResponse never reveals whether the account exists.
type ForgotPasswordResponse struct {
	Channel   ResetChannel `json:"channel"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
}

// ConfirmResetPasswordRequest completes reset flow with a link token or an OTP code.
type ConfirmResetPasswordRequest struct {
	Token       string `json:"token"`
	Code        string `json:"code" validate:"omitempty,len=6,numeric"`
	Phone       string `json:"phone"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	Role     UserRole `json:"role"`
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}
