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

// AcademicYearRepository manages academic years and the single active marker.
type AcademicYearRepository struct {
	db *sqlx.DB
}

// NewAcademicYearRepository constructs the repository.
func NewAcademicYearRepository(db *sqlx.DB) *AcademicYearRepository {
	return &AcademicYearRepository{db: db}
}

// List returns years, newest first.
func (r *AcademicYearRepository) List(ctx context.Context) ([]models.AcademicYear, error) {
	var years []models.AcademicYear
	if err := r.db.SelectContext(ctx, &years, `SELECT id, start_year, end_year, active, created_at FROM academic_years ORDER BY start_year DESC`); err != nil {
		return nil, fmt.Errorf("list academic years: %w", err)
	}
	return years, nil
}

// FindByID returns a year.
func (r *AcademicYearRepository) FindByID(ctx context.Context, id string) (*models.AcademicYear, error) {
	var year models.AcademicYear
	if err := r.db.GetContext(ctx, &year, `SELECT id, start_year, end_year, active, created_at FROM academic_years WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find academic year: %w", err)
	}
	return &year, nil
}

// FindActive returns the active year.
func (r *AcademicYearRepository) FindActive(ctx context.Context) (*models.AcademicYear, error) {
	var year models.AcademicYear
	if err := r.db.GetContext(ctx, &year, `SELECT id, start_year, end_year, active, created_at FROM academic_years WHERE active LIMIT 1`); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find active academic year: %w", err)
	}
	return &year, nil
}

// Exists reports whether the start/end pair is already registered.
func (r *AcademicYearRepository) Exists(ctx context.Context, startYear, endYear int) (bool, error) {
	var exists int
	err := r.db.GetContext(ctx, &exists, `SELECT 1 FROM academic_years WHERE start_year = $1 AND end_year = $2 LIMIT 1`, startYear, endYear)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check academic year: %w", err)
	}
	return true, nil
}

// Create inserts an inactive year.
func (r *AcademicYearRepository) Create(ctx context.Context, year *models.AcademicYear) error {
	if year.ID == "" {
		year.ID = uuid.NewString()
	}
	year.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO academic_years (id, start_year, end_year, active, created_at) VALUES (:id, :start_year, :end_year, :active, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, year); err != nil {
		return fmt.Errorf("create academic year: %w", err)
	}
	return nil
}

// SetActive marks the provided year as active and deactivates the rest.
func (r *AcademicYearRepository) SetActive(ctx context.Context, id string) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE academic_years SET active = FALSE WHERE active AND id <> $1`, id); err != nil {
			return fmt.Errorf("deactivate other academic years: %w", err)
		}
		res, err := tx.ExecContext(ctx, `UPDATE academic_years SET active = TRUE WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("activate academic year: %w", err)
		}
		return requireAffected(res)
	})
}

// Delete removes a year.
func (r *AcademicYearRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM academic_years WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete academic year: %w", err)
	}
	return requireAffected(res)
}
