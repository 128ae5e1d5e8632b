package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/siga-api/internal/models"
)

const documentColumns = `id, title, section, body, description, active, created_by, created_at, updated_at`

// DocumentRepository persists document templates.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository constructs the repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// List returns templates ordered by section then title.
func (r *DocumentRepository) List(ctx context.Context, filter models.DocumentFilter) ([]models.DocumentTemplate, int, error) {
	base := "FROM document_templates WHERE 1=1"
	var args []interface{}
	if filter.Section != "" {
		args = append(args, filter.Section)
		base += fmt.Sprintf(" AND section = $%d", len(args))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		base += fmt.Sprintf(" AND active = $%d", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		base += fmt.Sprintf(" AND LOWER(title) LIKE $%d", len(args))
	}
	page, size := normalisePage(filter.Page, filter.PageSize)
	query := fmt.Sprintf("SELECT %s %s ORDER BY section, title LIMIT %d OFFSET %d", documentColumns, base, size, (page-1)*size)

	var docs []models.DocumentTemplate
	if err := r.db.SelectContext(ctx, &docs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list document templates: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count document templates: %w", err)
	}
	return docs, total, nil
}

// FindByID returns a template.
func (r *DocumentRepository) FindByID(ctx context.Context, id string) (*models.DocumentTemplate, error) {
	var doc models.DocumentTemplate
	if err := r.db.GetContext(ctx, &doc, fmt.Sprintf("SELECT %s FROM document_templates WHERE id = $1", documentColumns), id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find document template: %w", err)
	}
	return &doc, nil
}

// Create inserts a template.
func (r *DocumentRepository) Create(ctx context.Context, doc *models.DocumentTemplate) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	const query = `INSERT INTO document_templates (id, title, section, body, description, active, created_by, created_at, updated_at)
VALUES (:id, :title, :section, :body, :description, :active, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, doc); err != nil {
		return fmt.Errorf("create document template: %w", err)
	}
	return nil
}

// Update overwrites a template.
func (r *DocumentRepository) Update(ctx context.Context, doc *models.DocumentTemplate) error {
	doc.UpdatedAt = time.Now().UTC()
	const query = `UPDATE document_templates SET title = :title, section = :section, body = :body, description = :description,
active = :active, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, doc)
	if err != nil {
		return fmt.Errorf("update document template: %w", err)
	}
	return requireAffected(res)
}

// Delete removes a template.
func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM document_templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document template: %w", err)
	}
	return requireAffected(res)
}
