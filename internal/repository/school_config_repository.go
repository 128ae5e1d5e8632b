package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/siga-api/internal/models"
)

const schoolConfigColumns = `id, school_name, address, phone, email, logo_path, confirmation_template, updated_by, created_at, updated_at`

// SchoolConfigRepository persists the single school configuration row.
type SchoolConfigRepository struct {
	db *sqlx.DB
}

// NewSchoolConfigRepository constructs the repository.
func NewSchoolConfigRepository(db *sqlx.DB) *SchoolConfigRepository {
	return &SchoolConfigRepository{db: db}
}

// Get returns the configuration or sql.ErrNoRows when none exists yet.
func (r *SchoolConfigRepository) Get(ctx context.Context) (*models.SchoolConfiguration, error) {
	var cfg models.SchoolConfiguration
	if err := r.db.GetContext(ctx, &cfg, fmt.Sprintf("SELECT %s FROM school_configuration LIMIT 1", schoolConfigColumns)); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get school configuration: %w", err)
	}
	return &cfg, nil
}

// Create inserts the configuration. The table's singleton constraint rejects a second row.
func (r *SchoolConfigRepository) Create(ctx context.Context, cfg *models.SchoolConfiguration) error {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	const query = `INSERT INTO school_configuration (id, school_name, address, phone, email, logo_path, confirmation_template, updated_by, created_at, updated_at)
VALUES (:id, :school_name, :address, :phone, :email, :logo_path, :confirmation_template, :updated_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, cfg); err != nil {
		return fmt.Errorf("create school configuration: %w", err)
	}
	return nil
}

// Update overwrites the mutable fields.
func (r *SchoolConfigRepository) Update(ctx context.Context, cfg *models.SchoolConfiguration) error {
	cfg.UpdatedAt = time.Now().UTC()
	const query = `UPDATE school_configuration SET school_name = :school_name, address = :address, phone = :phone, email = :email,
logo_path = :logo_path, confirmation_template = :confirmation_template, updated_by = :updated_by, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, cfg)
	if err != nil {
		return fmt.Errorf("update school configuration: %w", err)
	}
	return requireAffected(res)
}
