package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/siga-api/internal/models"
	"github.com/noah-isme/siga-api/internal/repository"
	"github.com/noah-isme/siga-api/pkg/cache"
	appErrors "github.com/noah-isme/siga-api/pkg/errors"
)

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.CourseSummary, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindSummary(ctx context.Context, id string) (*models.CourseSummary, error)
	ExistsByCode(ctx context.Context, code, excludeID string) (bool, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
	ListSubjects(ctx context.Context, courseID string) ([]models.Subject, error)
	FindSubject(ctx context.Context, id string) (*models.Subject, error)
	CreateSubject(ctx context.Context, subject *models.Subject) error
	ListPrerequisites(ctx context.Context, courseID string) ([]models.PrerequisiteRule, error)
	PrerequisiteExists(ctx context.Context, courseID, subjectID string) (bool, error)
	AddPrerequisite(ctx context.Context, rule *models.PrerequisiteRule) error
	RemovePrerequisite(ctx context.Context, courseID, ruleID string) error
}

type summaryCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// CourseRequest is the create and update payload of a course.
type CourseRequest struct {
	Code                  string  `json:"code" validate:"required,max=20"`
	Name                  string  `json:"name" validate:"required,max=200"`
	Description           string  `json:"description"`
	Capacity              int     `json:"capacity" validate:"gte=0"`
	DurationMonths        int     `json:"duration_months" validate:"required,course_duration"`
	MinimumScore          float64 `json:"minimum_score" validate:"omitempty,gte=10,lte=20"`
	RequiresPrerequisites bool    `json:"requires_prerequisites"`
	Active                *bool   `json:"active"`
}

// SubjectRequest creates a subject under a course.
type SubjectRequest struct {
	Name          string `json:"name" validate:"required,max=200"`
	Code          string `json:"code" validate:"max=20"`
	WorkloadHours int    `json:"workload_hours" validate:"gte=0"`
}

// PrerequisiteRequest adds a prerequisite rule to a course.
type PrerequisiteRequest struct {
	SubjectID    string   `json:"subject_id" validate:"required"`
	MinimumGrade *float64 `json:"minimum_grade" validate:"omitempty,gte=0,lte=20"`
	Mandatory    *bool    `json:"mandatory"`
	Position     int      `json:"position" validate:"gte=0"`
}

// CourseServiceConfig tunes the summary cache.
type CourseServiceConfig struct {
	CacheTTL  time.Duration
	KeyPrefix string
}

// CourseService manages courses, their subjects and prerequisite rules.
type CourseService struct {
	repo      courseRepository
	cache     summaryCache
	validator *validator.Validate
	logger    *zap.Logger
	cfg       CourseServiceConfig
}

// NewCourseService constructs the service. cache may be nil.
func NewCourseService(repo courseRepository, summaries summaryCache, validate *validator.Validate, logger *zap.Logger, cfg CourseServiceConfig) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "siga"
	}
	svc := &CourseService{repo: repo, cache: summaries, validator: validate, logger: logger, cfg: cfg}
	svc.validator.RegisterValidation("course_duration", func(fl validator.FieldLevel) bool {
		months := int(fl.Field().Int())
		for _, allowed := range models.CourseDurations {
			if months == allowed {
				return true
			}
		}
		return false
	})
	return svc
}

// List returns course summaries with their derived seat counters.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseSummary, *models.Pagination, error) {
	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	for i := range courses {
		courses[i].AvailableSeats = models.AvailableSeats(courses[i].Capacity, courses[i].ApprovedCount)
	}
	return courses, buildPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a course summary, served from cache when possible.
func (s *CourseService) Get(ctx context.Context, id string) (*models.CourseSummary, error) {
	summary, _, err := s.Summary(ctx, id)
	return summary, err
}

// Summary is Get that also reports whether the cache served the result.
func (s *CourseService) Summary(ctx context.Context, id string) (*models.CourseSummary, bool, error) {
	key := s.summaryKey(id)
	if s.cache != nil {
		var cached models.CourseSummary
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached, true, nil
		}
	}

	summary, err := s.repo.FindSummary(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	summary.AvailableSeats = models.AvailableSeats(summary.Capacity, summary.ApprovedCount)

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, summary, s.cfg.CacheTTL)
	}
	return summary, false, nil
}

// AvailableSeats returns max(0, capacity - approved) for a course.
func (s *CourseService) AvailableSeats(ctx context.Context, id string) (int, error) {
	summary, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return summary.AvailableSeats, nil
}

// Create adds a course. Codes are unique.
func (s *CourseService) Create(ctx context.Context, req CourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid course payload")
	}
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if err := s.ensureUniqueCode(ctx, code, ""); err != nil {
		return nil, err
	}

	course := &models.Course{
		Code:                  code,
		Name:                  strings.TrimSpace(req.Name),
		Description:           req.Description,
		Capacity:              req.Capacity,
		DurationMonths:        req.DurationMonths,
		MinimumScore:          req.MinimumScore,
		RequiresPrerequisites: req.RequiresPrerequisites,
		Active:                true,
	}
	if course.MinimumScore == 0 {
		course.MinimumScore = 10
	}
	if req.Active != nil {
		course.Active = *req.Active
	}
	if err := s.repo.Create(ctx, course); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrDuplicate, "course code already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	s.logger.Info("course created", zap.String("course_id", course.ID), zap.String("code", course.Code))
	return course, nil
}

// Update overwrites the editable attributes of a course.
func (s *CourseService) Update(ctx context.Context, id string, req CourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid course payload")
	}
	course, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code != course.Code {
		if err := s.ensureUniqueCode(ctx, code, id); err != nil {
			return nil, err
		}
	}

	course.Code = code
	course.Name = strings.TrimSpace(req.Name)
	course.Description = req.Description
	course.Capacity = req.Capacity
	course.DurationMonths = req.DurationMonths
	if req.MinimumScore != 0 {
		course.MinimumScore = req.MinimumScore
	}
	course.RequiresPrerequisites = req.RequiresPrerequisites
	if req.Active != nil {
		course.Active = *req.Active
	}
	if err := s.repo.Update(ctx, course); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrDuplicate, "course code already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	s.InvalidateSummary(ctx, id)
	return course, nil
}

// SetActive toggles whether a course accepts applications.
func (s *CourseService) SetActive(ctx context.Context, id string, active bool) error {
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	s.InvalidateSummary(ctx, id)
	return nil
}

// Delete removes a course together with its applications.
func (s *CourseService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		if repository.IsForeignKeyViolation(err) {
			return appErrors.Clone(appErrors.ErrStateConflict, "course has admitted students; deactivate it instead")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}
	s.InvalidateSummary(ctx, id)
	s.logger.Info("course deleted", zap.String("course_id", id))
	return nil
}

// ListSubjects returns the subjects taught in a course.
func (s *CourseService) ListSubjects(ctx context.Context, courseID string) ([]models.Subject, error) {
	if _, err := s.load(ctx, courseID); err != nil {
		return nil, err
	}
	subjects, err := s.repo.ListSubjects(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
	}
	return subjects, nil
}

// CreateSubject adds a subject to a course.
func (s *CourseService) CreateSubject(ctx context.Context, courseID string, req SubjectRequest) (*models.Subject, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid subject payload")
	}
	if _, err := s.load(ctx, courseID); err != nil {
		return nil, err
	}
	subject := &models.Subject{
		CourseID:      courseID,
		Name:          strings.TrimSpace(req.Name),
		Code:          strings.ToUpper(strings.TrimSpace(req.Code)),
		WorkloadHours: req.WorkloadHours,
	}
	if err := s.repo.CreateSubject(ctx, subject); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create subject")
	}
	return subject, nil
}

// ListPrerequisites returns the rules of a course in their configured order.
func (s *CourseService) ListPrerequisites(ctx context.Context, courseID string) ([]models.PrerequisiteRule, error) {
	rules, err := s.repo.ListPrerequisites(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list prerequisites")
	}
	return rules, nil
}

// AddPrerequisite attaches a minimum grade requirement on a subject. A subject
// appears at most once per course. Grade defaults to 12 and rules are mandatory
// unless stated otherwise.
func (s *CourseService) AddPrerequisite(ctx context.Context, courseID string, req PrerequisiteRequest) (*models.PrerequisiteRule, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid prerequisite payload")
	}
	if _, err := s.load(ctx, courseID); err != nil {
		return nil, err
	}
	subject, err := s.repo.FindSubject(ctx, req.SubjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}
	exists, err := s.repo.PrerequisiteExists(ctx, courseID, req.SubjectID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check prerequisite")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrDuplicate, "subject is already a prerequisite of this course")
	}

	rule := &models.PrerequisiteRule{
		CourseID:     courseID,
		SubjectID:    subject.ID,
		SubjectName:  subject.Name,
		MinimumGrade: 12,
		Mandatory:    true,
		Position:     req.Position,
	}
	if req.MinimumGrade != nil {
		rule.MinimumGrade = *req.MinimumGrade
	}
	if req.Mandatory != nil {
		rule.Mandatory = *req.Mandatory
	}
	if err := s.repo.AddPrerequisite(ctx, rule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add prerequisite")
	}
	return rule, nil
}

// RemovePrerequisite deletes a rule from a course.
func (s *CourseService) RemovePrerequisite(ctx context.Context, courseID, ruleID string) error {
	if err := s.repo.RemovePrerequisite(ctx, courseID, ruleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "prerequisite not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove prerequisite")
	}
	return nil
}

// InvalidateSummary drops the cached summary of a course.
func (s *CourseService) InvalidateSummary(ctx context.Context, courseID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, s.summaryKey(courseID)); err != nil {
		s.logger.Warn("failed to invalidate course summary", zap.String("course_id", courseID), zap.Error(err))
	}
}

func (s *CourseService) summaryKey(courseID string) string {
	return cache.Key(s.cfg.KeyPrefix, "course", courseID, "summary")
}

func (s *CourseService) load(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

func (s *CourseService) ensureUniqueCode(ctx context.Context, code, excludeID string) error {
	exists, err := s.repo.ExistsByCode(ctx, code, excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course code")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrDuplicate, "course code already exists")
	}
	return nil
}
