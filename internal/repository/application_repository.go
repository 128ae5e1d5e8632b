package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/siga-api/internal/models"
	"github.com/noah-isme/siga-api/pkg/database"
)

const applicationColumns = `a.id, a.number, a.sequence, a.course_id, a.full_name, a.birth_date, a.birthplace, a.nationality,
        a.id_card_number, a.id_card_expiry, a.sex, a.marital_status, a.address, a.phone, a.email,
        a.previous_school, a.completion_year, a.preferred_shift, a.payment_reference, a.sponsor_name, a.sponsor_phone,
        a.guardian_name, a.guardian_relation, a.guardian_phone, a.guardian_email, a.guardian_occupation,
        a.score, a.approved, a.submitted_at, a.decided_at, a.updated_at`

// ApprovalPlanner decides the approval outcome of a course from a snapshot of its applications.
type ApprovalPlanner func(course models.Course, snapshot []models.Application) []models.ApprovalDecision

// ApplicationRepository persists enrollment applications.
type ApplicationRepository struct {
	db *sqlx.DB
}

// NewApplicationRepository constructs the repository.
func NewApplicationRepository(db *sqlx.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

// Create inserts a submitted application.
func (r *ApplicationRepository) Create(ctx context.Context, app *models.Application) error {
	return insertApplication(ctx, r.db, app)
}

// CreateWithHistory inserts a submitted application together with the
// academic history it was checked against. Either both rows are stored or
// neither is.
func (r *ApplicationRepository) CreateWithHistory(ctx context.Context, app *models.Application, history *models.AcademicHistory) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := insertApplication(ctx, tx, app); err != nil {
			return err
		}
		if history == nil {
			return nil
		}
		history.ApplicationID = app.ID
		return replaceHistory(ctx, tx, history)
	})
}

func insertApplication(ctx context.Context, ext sqlx.ExtContext, app *models.Application) error {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if app.SubmittedAt.IsZero() {
		app.SubmittedAt = now
	}
	app.UpdatedAt = now
	const query = `INSERT INTO applications (id, number, sequence, course_id, full_name, birth_date, birthplace, nationality,
id_card_number, id_card_expiry, sex, marital_status, address, phone, email, previous_school, completion_year, preferred_shift,
payment_reference, sponsor_name, sponsor_phone, guardian_name, guardian_relation, guardian_phone, guardian_email, guardian_occupation,
score, approved, submitted_at, decided_at, updated_at)
VALUES (:id, :number, :sequence, :course_id, :full_name, :birth_date, :birthplace, :nationality,
:id_card_number, :id_card_expiry, :sex, :marital_status, :address, :phone, :email, :previous_school, :completion_year, :preferred_shift,
:payment_reference, :sponsor_name, :sponsor_phone, :guardian_name, :guardian_relation, :guardian_phone, :guardian_email, :guardian_occupation,
:score, :approved, :submitted_at, :decided_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, app); err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	return nil
}

// FindByID returns an application with its course name.
func (r *ApplicationRepository) FindByID(ctx context.Context, id string) (*models.ApplicationDetail, error) {
	return r.findOne(ctx, "a.id = $1", id)
}

// FindByNumber returns an application by its INS number.
func (r *ApplicationRepository) FindByNumber(ctx context.Context, number string) (*models.ApplicationDetail, error) {
	return r.findOne(ctx, "a.number = $1", number)
}

func (r *ApplicationRepository) findOne(ctx context.Context, where string, arg interface{}) (*models.ApplicationDetail, error) {
	query := fmt.Sprintf(`SELECT %s, c.name AS course_name FROM applications a JOIN courses c ON c.id = a.course_id WHERE %s`, applicationColumns, where)
	var detail models.ApplicationDetail
	if err := r.db.GetContext(ctx, &detail, query, arg); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find application: %w", err)
	}
	return &detail, nil
}

// List returns applications with pagination.
func (r *ApplicationRepository) List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, int, error) {
	base := "FROM applications a JOIN courses c ON c.id = a.course_id"
	var conditions []string
	var args []interface{}

	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("a.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Approved != nil {
		conditions = append(conditions, fmt.Sprintf("a.approved = $%d", len(args)+1))
		args = append(args, *filter.Approved)
	}
	if filter.HasScore != nil {
		if *filter.HasScore {
			conditions = append(conditions, "a.score IS NOT NULL")
		} else {
			conditions = append(conditions, "a.score IS NULL")
		}
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(a.full_name) LIKE $%d OR a.number LIKE $%d OR a.id_card_number LIKE $%d)", len(args)+1, len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if len(conditions) > 0 {
		base += " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"number":       "a.sequence",
		"submitted_at": "a.submitted_at",
		"score":        "a.score",
		"full_name":    "a.full_name",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "a.sequence"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page, size := normalisePage(filter.Page, filter.PageSize)

	query := fmt.Sprintf("SELECT %s, c.name AS course_name %s ORDER BY %s %s NULLS LAST LIMIT %d OFFSET %d",
		applicationColumns, base, orderBy, order, size, (page-1)*size)
	var apps []models.ApplicationDetail
	if err := r.db.SelectContext(ctx, &apps, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list applications: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count applications: %w", err)
	}
	return apps, total, nil
}

// uniqueFields maps accepted field names to their columns.
var uniqueFields = map[string]string{
	"id_card_number": "id_card_number",
	"email":          "LOWER(email)",
	"phone":          "phone",
}

// ExistsByField reports whether any application already holds value in a unique field.
func (r *ApplicationRepository) ExistsByField(ctx context.Context, field, value string) (bool, error) {
	column, ok := uniqueFields[field]
	if !ok {
		return false, fmt.Errorf("unsupported unique field %q", field)
	}
	if field == "email" {
		value = strings.ToLower(value)
	}
	query := fmt.Sprintf("SELECT 1 FROM applications WHERE %s = $1 LIMIT 1", column)
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, value); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check application %s: %w", field, err)
	}
	return true, nil
}

// UpdateScore records the admission test score. approved is left untouched.
func (r *ApplicationRepository) UpdateScore(ctx context.Context, id string, score *float64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE applications SET score = $2, updated_at = $3 WHERE id = $1`, id, score, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update application score: %w", err)
	}
	return requireAffected(res)
}

// ListByCourse returns every application of a course in submission order.
func (r *ApplicationRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Application, error) {
	query := fmt.Sprintf("SELECT %s FROM applications a WHERE a.course_id = $1 ORDER BY a.sequence", applicationColumns)
	var apps []models.Application
	if err := r.db.SelectContext(ctx, &apps, query, courseID); err != nil {
		return nil, fmt.Errorf("list course applications: %w", err)
	}
	return apps, nil
}

// ProcessApprovals locks the course row, snapshots its applications, asks plan
// for the outcome and writes it back in the same transaction. Every application
// is reset first so the stored state always equals the plan.
func (r *ApplicationRepository) ProcessApprovals(ctx context.Context, courseID string, decidedAt time.Time, plan ApprovalPlanner) (*models.Course, []models.ApprovalDecision, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin approvals tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var course models.Course
	lockQuery := fmt.Sprintf("SELECT %s FROM courses c WHERE c.id = $1 FOR UPDATE", courseColumns)
	if err = tx.GetContext(ctx, &course, lockQuery, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("lock course: %w", err)
	}

	var snapshot []models.Application
	snapshotQuery := fmt.Sprintf("SELECT %s FROM applications a WHERE a.course_id = $1 ORDER BY a.sequence", applicationColumns)
	if err = tx.SelectContext(ctx, &snapshot, snapshotQuery, courseID); err != nil {
		return nil, nil, fmt.Errorf("snapshot applications: %w", err)
	}

	decisions := plan(course, snapshot)

	if _, err = tx.ExecContext(ctx, `UPDATE applications SET approved = FALSE, decided_at = NULL, updated_at = $2 WHERE course_id = $1`, courseID, decidedAt); err != nil {
		return nil, nil, fmt.Errorf("reset approvals: %w", err)
	}

	approvedIDs := make([]string, 0, len(decisions))
	for _, d := range decisions {
		if d.Approved {
			approvedIDs = append(approvedIDs, d.ApplicationID)
		}
	}
	if len(approvedIDs) > 0 {
		const approve = `UPDATE applications SET approved = TRUE, decided_at = $2, updated_at = $2 WHERE course_id = $1 AND id = ANY($3)`
		if _, err = tx.ExecContext(ctx, approve, courseID, decidedAt, pq.Array(approvedIDs)); err != nil {
			return nil, nil, fmt.Errorf("apply approvals: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit approvals: %w", err)
	}
	return &course, decisions, nil
}

// CountApproved returns how many applications of a course are approved.
func (r *ApplicationRepository) CountApproved(ctx context.Context, courseID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM applications WHERE course_id = $1 AND approved`, courseID); err != nil {
		return 0, fmt.Errorf("count approved: %w", err)
	}
	return count, nil
}
