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

// AcademicHistoryRepository stores the prior grades attached to an application.
type AcademicHistoryRepository struct {
	db *sqlx.DB
}

// NewAcademicHistoryRepository constructs the repository.
func NewAcademicHistoryRepository(db *sqlx.DB) *AcademicHistoryRepository {
	return &AcademicHistoryRepository{db: db}
}

// FindByApplication loads the history and its grades.
func (r *AcademicHistoryRepository) FindByApplication(ctx context.Context, applicationID string) (*models.AcademicHistory, error) {
	var history models.AcademicHistory
	const query = `SELECT id, application_id, created_at, updated_at FROM academic_histories WHERE application_id = $1`
	if err := r.db.GetContext(ctx, &history, query, applicationID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find academic history: %w", err)
	}

	const gradesQuery = `SELECT g.id, g.history_id, g.subject_id, s.name AS subject_name, g.grade, g.completion_year, g.notes
FROM subject_grades g JOIN subjects s ON s.id = g.subject_id
WHERE g.history_id = $1 ORDER BY s.name`
	if err := r.db.SelectContext(ctx, &history.Grades, gradesQuery, history.ID); err != nil {
		return nil, fmt.Errorf("list subject grades: %w", err)
	}
	return &history, nil
}

// Replace stores the history of an application, replacing any previous grades.
func (r *AcademicHistoryRepository) Replace(ctx context.Context, history *models.AcademicHistory) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		return replaceHistory(ctx, tx, history)
	})
}

// replaceHistory upserts the history row and rewrites its grades inside tx.
func replaceHistory(ctx context.Context, tx *sqlx.Tx, history *models.AcademicHistory) error {
	now := time.Now().UTC()
	if history.ID == "" {
		history.ID = uuid.NewString()
	}
	const upsert = `INSERT INTO academic_histories (id, application_id, created_at, updated_at) VALUES ($1, $2, $3, $3)
ON CONFLICT (application_id) DO UPDATE SET updated_at = EXCLUDED.updated_at
RETURNING id, created_at, updated_at`
	row := tx.QueryRowxContext(ctx, upsert, history.ID, history.ApplicationID, now)
	if err := row.Scan(&history.ID, &history.CreatedAt, &history.UpdatedAt); err != nil {
		return fmt.Errorf("upsert academic history: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM subject_grades WHERE history_id = $1`, history.ID); err != nil {
		return fmt.Errorf("clear subject grades: %w", err)
	}

	const insert = `INSERT INTO subject_grades (id, history_id, subject_id, grade, completion_year, notes)
VALUES (:id, :history_id, :subject_id, :grade, :completion_year, :notes)`
	for i := range history.Grades {
		grade := &history.Grades[i]
		if grade.ID == "" {
			grade.ID = uuid.NewString()
		}
		grade.HistoryID = history.ID
		if _, err := tx.NamedExecContext(ctx, insert, grade); err != nil {
			return fmt.Errorf("insert subject grade: %w", err)
		}
	}
	return nil
}
