package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/siga-api/internal/models"
	"github.com/noah-isme/siga-api/pkg/database"
)

const passwordResetColumns = `id, user_id, channel, token, code, sent_to, used, created_at, expires_at`

// PasswordResetRepository stores single-use recovery secrets.
type PasswordResetRepository struct {
	db *sqlx.DB
}

// NewPasswordResetRepository constructs the repository.
func NewPasswordResetRepository(db *sqlx.DB) *PasswordResetRepository {
	return &PasswordResetRepository{db: db}
}

// Create invalidates outstanding secrets of the user and stores a new one.
func (r *PasswordResetRepository) Create(ctx context.Context, reset *models.PasswordReset) error {
	if reset.ID == "" {
		reset.ID = uuid.NewString()
	}
	if reset.CreatedAt.IsZero() {
		reset.CreatedAt = time.Now().UTC()
	}

	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE password_resets SET used = TRUE WHERE user_id = $1 AND NOT used`, reset.UserID); err != nil {
			return fmt.Errorf("invalidate password resets: %w", err)
		}
		const insert = `INSERT INTO password_resets (id, user_id, channel, token, code, sent_to, used, created_at, expires_at)
VALUES (:id, :user_id, :channel, :token, :code, :sent_to, :used, :created_at, :expires_at)`
		if _, err := tx.NamedExecContext(ctx, insert, reset); err != nil {
			return fmt.Errorf("create password reset: %w", err)
		}
		return nil
	})
}

// FindByToken returns the reset holding the link token.
func (r *PasswordResetRepository) FindByToken(ctx context.Context, token string) (*models.PasswordReset, error) {
	return r.findOne(ctx, fmt.Sprintf("SELECT %s FROM password_resets WHERE token = $1 LIMIT 1", passwordResetColumns), token)
}

// FindLatestByCode returns the newest reset sent to phone with the given OTP code.
func (r *PasswordResetRepository) FindLatestByCode(ctx context.Context, phone, code string) (*models.PasswordReset, error) {
	query := fmt.Sprintf("SELECT %s FROM password_resets WHERE sent_to = $1 AND code = $2 ORDER BY created_at DESC LIMIT 1", passwordResetColumns)
	return r.findOne(ctx, query, phone, code)
}

func (r *PasswordResetRepository) findOne(ctx context.Context, query string, args ...interface{}) (*models.PasswordReset, error) {
	var reset models.PasswordReset
	if err := r.db.GetContext(ctx, &reset, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find password reset: %w", err)
	}
	return &reset, nil
}

// MarkUsed consumes a reset. It reports false when it was already used.
func (r *PasswordResetRepository) MarkUsed(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE password_resets SET used = TRUE WHERE id = $1 AND NOT used`, id)
	if err != nil {
		return false, fmt.Errorf("mark password reset used: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}
