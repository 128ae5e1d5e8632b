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

const courseColumns = `c.id, c.code, c.name, c.description, c.capacity, c.duration_months, c.minimum_score,
        c.requires_prerequisites, c.active, c.created_at, c.updated_at`

const courseCounters = `(SELECT COUNT(*) FROM applications a WHERE a.course_id = c.id AND a.approved) AS approved_count,
        (SELECT COUNT(*) FROM applications a WHERE a.course_id = c.id) AS total_applications`

// CourseRepository persists courses, their subjects and prerequisite rules.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// List returns course summaries matching the filter.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseSummary, int, error) {
	base := "FROM courses c"
	var conditions []string
	var args []interface{}

	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("c.active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(c.name) LIKE $%d OR LOWER(c.code) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if len(conditions) > 0 {
		base += " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"name":       "c.name",
		"code":       "c.code",
		"created_at": "c.created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "c.name"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page, size := normalisePage(filter.Page, filter.PageSize)

	query := fmt.Sprintf("SELECT %s, %s %s ORDER BY %s %s LIMIT %d OFFSET %d",
		courseColumns, courseCounters, base, orderBy, order, size, (page-1)*size)
	var courses []models.CourseSummary
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// FindByID returns a course by id.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	query := fmt.Sprintf("SELECT %s FROM courses c WHERE c.id = $1", courseColumns)
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course: %w", err)
	}
	return &course, nil
}

// FindSummary returns a course with its application counters.
func (r *CourseRepository) FindSummary(ctx context.Context, id string) (*models.CourseSummary, error) {
	query := fmt.Sprintf("SELECT %s, %s FROM courses c WHERE c.id = $1", courseColumns, courseCounters)
	var summary models.CourseSummary
	if err := r.db.GetContext(ctx, &summary, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course summary: %w", err)
	}
	return &summary, nil
}

// ExistsByCode reports whether another course already uses code.
func (r *CourseRepository) ExistsByCode(ctx context.Context, code, excludeID string) (bool, error) {
	query := "SELECT 1 FROM courses WHERE LOWER(code) = LOWER($1)"
	args := []interface{}{code}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	query += " LIMIT 1"
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check course code: %w", err)
	}
	return true, nil
}

// Create inserts a course.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	course.CreatedAt = now
	course.UpdatedAt = now
	const query = `INSERT INTO courses (id, code, name, description, capacity, duration_months, minimum_score, requires_prerequisites, active, created_at, updated_at)
VALUES (:id, :code, :name, :description, :capacity, :duration_months, :minimum_score, :requires_prerequisites, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// Update modifies the mutable fields of a course.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	const query = `UPDATE courses SET code = :code, name = :name, description = :description, capacity = :capacity,
duration_months = :duration_months, minimum_score = :minimum_score, requires_prerequisites = :requires_prerequisites,
active = :active, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, course)
	if err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	return requireAffected(res)
}

// SetActive toggles the active flag.
func (r *CourseRepository) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE courses SET active = $2, updated_at = $3 WHERE id = $1`, id, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set course active: %w", err)
	}
	return requireAffected(res)
}

// Delete removes a course. Applications, subjects and rules cascade.
func (r *CourseRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	return requireAffected(res)
}

// ListSubjects returns the subjects of a course ordered by name.
func (r *CourseRepository) ListSubjects(ctx context.Context, courseID string) ([]models.Subject, error) {
	const query = `SELECT id, course_id, name, code, workload_hours, created_at FROM subjects WHERE course_id = $1 ORDER BY name`
	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query, courseID); err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	return subjects, nil
}

// FindSubject returns a subject by id.
func (r *CourseRepository) FindSubject(ctx context.Context, id string) (*models.Subject, error) {
	const query = `SELECT id, course_id, name, code, workload_hours, created_at FROM subjects WHERE id = $1`
	var subject models.Subject
	if err := r.db.GetContext(ctx, &subject, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find subject: %w", err)
	}
	return &subject, nil
}

// CreateSubject inserts a subject.
func (r *CourseRepository) CreateSubject(ctx context.Context, subject *models.Subject) error {
	if subject.ID == "" {
		subject.ID = uuid.NewString()
	}
	subject.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO subjects (id, course_id, name, code, workload_hours, created_at) VALUES (:id, :course_id, :name, :code, :workload_hours, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, subject); err != nil {
		return fmt.Errorf("create subject: %w", err)
	}
	return nil
}

// ListPrerequisites returns the rules of a course in display order.
func (r *CourseRepository) ListPrerequisites(ctx context.Context, courseID string) ([]models.PrerequisiteRule, error) {
	const query = `SELECT p.id, p.course_id, p.subject_id, s.name AS subject_name, p.minimum_grade, p.mandatory, p.position, p.created_at
FROM prerequisite_rules p JOIN subjects s ON s.id = p.subject_id
WHERE p.course_id = $1 ORDER BY p.position, s.name`
	var rules []models.PrerequisiteRule
	if err := r.db.SelectContext(ctx, &rules, query, courseID); err != nil {
		return nil, fmt.Errorf("list prerequisites: %w", err)
	}
	return rules, nil
}

// PrerequisiteExists reports whether a rule for the subject is already declared.
func (r *CourseRepository) PrerequisiteExists(ctx context.Context, courseID, subjectID string) (bool, error) {
	var exists int
	err := r.db.GetContext(ctx, &exists, `SELECT 1 FROM prerequisite_rules WHERE course_id = $1 AND subject_id = $2 LIMIT 1`, courseID, subjectID)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check prerequisite: %w", err)
	}
	return true, nil
}

// AddPrerequisite inserts a rule.
func (r *CourseRepository) AddPrerequisite(ctx context.Context, rule *models.PrerequisiteRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rule.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO prerequisite_rules (id, course_id, subject_id, minimum_grade, mandatory, position, created_at)
VALUES (:id, :course_id, :subject_id, :minimum_grade, :mandatory, :position, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, rule); err != nil {
		return fmt.Errorf("add prerequisite: %w", err)
	}
	return nil
}

// RemovePrerequisite deletes a rule of a course.
func (r *CourseRepository) RemovePrerequisite(ctx context.Context, courseID, ruleID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM prerequisite_rules WHERE id = $1 AND course_id = $2`, ruleID, courseID)
	if err != nil {
		return fmt.Errorf("remove prerequisite: %w", err)
	}
	return requireAffected(res)
}

func normalisePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return page, size
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
