package models

import "time"

// RefreshToken represents a persisted refresh token session.
type RefreshToken struct {
	ID        string     `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"user_id"`
	Token     string     `db:"token" json:"token"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	Revoked   bool       `db:"revoked" json:"revoked"`
	RevokedAt *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	IPAddress string     `db:"ip_address" json:"ip_address"`
	UserAgent string     `db:"user_agent" json:"user_agent"`
}

// ResetChannel identifies how a recovery secret reaches the user.
type ResetChannel string

const (
	ResetChannelEmail ResetChannel = "EMAIL"
	ResetChannelPhone ResetChannel = "PHONE"
)

// PasswordReset is a single-use recovery secret. Email resets carry a link
// token, phone resets a six digit code.
type PasswordReset struct {
	ID        string       `db:"id" json:"id"`
	UserID    string       `db:"user_id" json:"user_id"`
	Channel   ResetChannel `db:"channel" json:"channel"`
	Token     *string      `db:"token" json:"-"`
	Code      *string      `db:"code" json:"-"`
	SentTo    string       `db:"sent_to" json:"sent_to"`
	Used      bool         `db:"used" json:"used"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	ExpiresAt time.Time    `db:"expires_at" json:"expires_at"`
}

// Usable reports whether the secret is unused and not yet expired.
func (r *PasswordReset) Usable(now time.Time) bool {
	return r != nil && !r.Used && now.Before(r.ExpiresAt)
}
