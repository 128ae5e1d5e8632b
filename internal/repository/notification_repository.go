package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/siga-api/internal/models"
	"github.com/noah-isme/siga-api/pkg/database"
)

// NotificationRepository provides persistence for notifications and their read receipts.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository creates the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create stores a notification with its recipients in one transaction.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = time.Now().UTC()

	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const insert = `INSERT INTO notifications (id, title, message, kind, global, active, created_at)
VALUES (:id, :title, :message, :kind, :global, :active, :created_at)`
		if _, err := tx.NamedExecContext(ctx, insert, n); err != nil {
			return fmt.Errorf("create notification: %w", err)
		}
		if len(n.Recipients) == 0 {
			return nil
		}
		const recipients = `INSERT INTO notification_recipients (notification_id, user_id)
SELECT $1, UNNEST($2::text[]) ON CONFLICT DO NOTHING`
		if _, err := tx.ExecContext(ctx, recipients, n.ID, pq.Array(n.Recipients)); err != nil {
			return fmt.Errorf("add notification recipients: %w", err)
		}
		return nil
	})
}

const visibleToUser = `n.active AND (n.global OR EXISTS (
        SELECT 1 FROM notification_recipients nr WHERE nr.notification_id = n.id AND nr.user_id = $1))`

// ListForUser returns active notifications addressed to the user or global, newest first.
func (r *NotificationRepository) ListForUser(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	where := visibleToUser
	if filter.UnreadOnly {
		where += " AND rd.user_id IS NULL"
	}
	base := fmt.Sprintf(`FROM notifications n
LEFT JOIN notification_reads rd ON rd.notification_id = n.id AND rd.user_id = $1
WHERE %s`, where)

	page, size := normalisePage(filter.Page, filter.PageSize)
	query := fmt.Sprintf(`SELECT n.id, n.title, n.message, n.kind, n.global, n.active, n.created_at, rd.user_id IS NOT NULL AS read
%s ORDER BY n.created_at DESC LIMIT %d OFFSET %d`, base, size, (page-1)*size)

	var items []models.Notification
	if err := r.db.SelectContext(ctx, &items, query, filter.UserID); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, filter.UserID); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	return items, total, nil
}

// CountUnread returns the number of visible notifications the user has not read.
func (r *NotificationRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM notifications n
WHERE %s AND NOT EXISTS (SELECT 1 FROM notification_reads rd WHERE rd.notification_id = n.id AND rd.user_id = $1)`, visibleToUser)
	var count int
	if err := r.db.GetContext(ctx, &count, query, userID); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead records that userID read the notification.
func (r *NotificationRepository) MarkRead(ctx context.Context, notificationID, userID string) error {
	const query = `INSERT INTO notification_reads (notification_id, user_id, read_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, notificationID, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}

// VisibleTo reports whether the notification is visible to the user.
func (r *NotificationRepository) VisibleTo(ctx context.Context, notificationID, userID string) (bool, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM notifications n WHERE n.id = $2 AND %s`, visibleToUser)
	var count int
	if err := r.db.GetContext(ctx, &count, query, userID, notificationID); err != nil {
		return false, fmt.Errorf("check notification visibility: %w", err)
	}
	return count > 0, nil
}
