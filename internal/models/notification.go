package models

import "time"

// NotificationKind is the severity shown to the reader.
type NotificationKind string

const (
	NotificationInfo    NotificationKind = "INFO"
	NotificationWarning NotificationKind = "WARNING"
	NotificationUrgent  NotificationKind = "URGENT"
	NotificationSuccess NotificationKind = "SUCCESS"
)

// Notification is addressed to explicit recipients or to everyone when Global.
type Notification struct {
	ID         string           `db:"id" json:"id"`
	Title      string           `db:"title" json:"title"`
	Message    string           `db:"message" json:"message"`
	Kind       NotificationKind `db:"kind" json:"kind"`
	Global     bool             `db:"global" json:"global"`
	Active     bool             `db:"active" json:"active"`
	Recipients []string         `db:"-" json:"recipients,omitempty"`
	Read       bool             `db:"read" json:"read"`
	CreatedAt  time.Time        `db:"created_at" json:"created_at"`
}

// NotificationFilter selects notifications visible to a user.
type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
	Page       int
	PageSize   int
}
