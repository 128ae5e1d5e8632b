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
	appErrors "github.com/noah-isme/siga-api/pkg/errors"
	"github.com/noah-isme/siga-api/pkg/sequence"
)

const dateLayout = "2006-01-02"

type applicationRepository interface {
	CreateWithHistory(ctx context.Context, app *models.Application, history *models.AcademicHistory) error
	FindByID(ctx context.Context, id string) (*models.ApplicationDetail, error)
	FindByNumber(ctx context.Context, number string) (*models.ApplicationDetail, error)
	List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, int, error)
	ExistsByField(ctx context.Context, field, value string) (bool, error)
	UpdateScore(ctx context.Context, id string, score *float64) error
}

type applicationCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	ListPrerequisites(ctx context.Context, courseID string) ([]models.PrerequisiteRule, error)
}

type academicHistoryRepository interface {
	FindByApplication(ctx context.Context, applicationID string) (*models.AcademicHistory, error)
	Replace(ctx context.Context, history *models.AcademicHistory) error
}

type sequenceGenerator interface {
	Next(ctx context.Context, prefix string) (int64, error)
}

type summaryInvalidator interface {
	InvalidateSummary(ctx context.Context, courseID string)
}

// GradeInput is one subject grade of an academic history.
type GradeInput struct {
	SubjectID      string  `json:"subject_id" validate:"required"`
	Grade          float64 `json:"grade" validate:"gte=0,lte=20"`
	CompletionYear int     `json:"completion_year" validate:"required,gte=1900,lte=2100"`
	Notes          string  `json:"notes"`
}

// AcademicHistoryRequest replaces the grades recorded for an application.
type AcademicHistoryRequest struct {
	Grades []GradeInput `json:"grades" validate:"dive"`
}

// SubmitApplicationRequest is the enrollment form of a candidate.
type SubmitApplicationRequest struct {
	CourseID      string `json:"course_id" validate:"required"`
	FullName      string `json:"full_name" validate:"required,max=200"`
	BirthDate     string `json:"birth_date" validate:"required,datetime=2006-01-02"`
	Birthplace    string `json:"birthplace" validate:"max=100"`
	Nationality   string `json:"nationality" validate:"max=50"`
	IDCardNumber  string `json:"id_card_number" validate:"required,max=50"`
	IDCardExpiry  string `json:"id_card_expiry" validate:"omitempty,datetime=2006-01-02"`
	Sex           string `json:"sex" validate:"required,oneof=M F"`
	MaritalStatus string `json:"marital_status" validate:"omitempty,oneof=S C D V"`
	Address       string `json:"address" validate:"required"`
	Phone         string `json:"phone" validate:"required,max=20"`
	Email         string `json:"email" validate:"required,email"`

	PreviousSchool string       `json:"previous_school" validate:"max=200"`
	CompletionYear string       `json:"completion_year" validate:"max=4"`
	PreferredShift models.Shift `json:"preferred_shift" validate:"omitempty,oneof=M T N"`

	PaymentReference   string `json:"payment_reference" validate:"max=100"`
	SponsorName        string `json:"sponsor_name" validate:"max=200"`
	SponsorPhone       string `json:"sponsor_phone" validate:"max=20"`
	GuardianName       string `json:"guardian_name" validate:"max=200"`
	GuardianRelation   string `json:"guardian_relation" validate:"max=50"`
	GuardianPhone      string `json:"guardian_phone" validate:"max=20"`
	GuardianEmail      string `json:"guardian_email" validate:"omitempty,email"`
	GuardianOccupation string `json:"guardian_occupation" validate:"max=100"`

	AcademicHistory *AcademicHistoryRequest `json:"academic_history"`
}

// ApplicationSubmission is returned after a successful submission.
type ApplicationSubmission struct {
	Application models.Application  `json:"application"`
	Eligibility *models.Eligibility `json:"eligibility,omitempty"`
}

// ApplicationServiceConfig toggles submission rules.
type ApplicationServiceConfig struct {
	EnforcePrerequisites bool
}

// ApplicationService handles enrollment submissions and their data-entry steps.
type ApplicationService struct {
	repo      applicationRepository
	courses   applicationCourseReader
	histories academicHistoryRepository
	sequences sequenceGenerator
	summaries summaryInvalidator
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ApplicationServiceConfig
	now       func() time.Time
}

// NewApplicationService constructs the service. summaries may be nil.
func NewApplicationService(repo applicationRepository, courses applicationCourseReader, histories academicHistoryRepository, sequences sequenceGenerator, summaries summaryInvalidator, validate *validator.Validate, logger *zap.Logger, cfg ApplicationServiceConfig) *ApplicationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApplicationService{
		repo:      repo,
		courses:   courses,
		histories: histories,
		sequences: sequences,
		summaries: summaries,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Submit validates and stores a new application. ID card, email and phone are
// unique among applications. When the course requires prerequisites and a
// history is supplied, eligibility is computed and, if enforcement is enabled,
// an ineligible candidate is rejected.
func (s *ApplicationService) Submit(ctx context.Context, req SubmitApplicationRequest) (*ApplicationSubmission, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid application payload")
	}

	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !course.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "course is not accepting applications")
	}

	unique := []struct{ field, value, label string }{
		{"id_card_number", strings.TrimSpace(req.IDCardNumber), "ID card number"},
		{"email", strings.TrimSpace(req.Email), "email"},
		{"phone", strings.TrimSpace(req.Phone), "phone"},
	}
	for _, u := range unique {
		exists, err := s.repo.ExistsByField(ctx, u.field, u.value)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check application uniqueness")
		}
		if exists {
			return nil, appErrors.Clone(appErrors.ErrDuplicate, "an application with this "+u.label+" already exists")
		}
	}

	var (
		history     *models.AcademicHistory
		eligibility *models.Eligibility
	)
	if req.AcademicHistory != nil {
		history, err = buildHistory("", *req.AcademicHistory)
		if err != nil {
			return nil, err
		}
	}
	if course.RequiresPrerequisites && history != nil {
		rules, err := s.courses.ListPrerequisites(ctx, course.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisites")
		}
		result := IsEligible(history, rules)
		eligibility = &result
		if !result.Eligible && s.cfg.EnforcePrerequisites {
			return nil, appErrors.Clone(appErrors.ErrValidation, result.Message)
		}
	}

	app, err := s.buildApplication(req)
	if err != nil {
		return nil, err
	}
	n, err := s.sequences.Next(ctx, sequence.PrefixApplication)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to allocate application number")
	}
	app.Sequence = n
	app.Number = sequence.Format(sequence.PrefixApplication, n)
	app.SubmittedAt = s.now().UTC()

	if err := s.repo.CreateWithHistory(ctx, app, history); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrDuplicate, "an application with this ID card number, email or phone already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create application")
	}
	if s.summaries != nil {
		s.summaries.InvalidateSummary(ctx, course.ID)
	}

	s.logger.Info("application submitted", zap.String("number", app.Number), zap.String("course_id", course.ID))
	return &ApplicationSubmission{Application: *app, Eligibility: eligibility}, nil
}

// Get returns an application by id.
func (s *ApplicationService) Get(ctx context.Context, id string) (*models.ApplicationDetail, error) {
	return s.find(ctx, s.repo.FindByID, id)
}

// GetByNumber returns an application by its INS number.
func (s *ApplicationService) GetByNumber(ctx context.Context, number string) (*models.ApplicationDetail, error) {
	if _, err := sequence.Parse(sequence.PrefixApplication, strings.ToUpper(strings.TrimSpace(number))); err != nil {
		return nil, appErrors.Invalid(err, "invalid application number")
	}
	return s.find(ctx, s.repo.FindByNumber, strings.ToUpper(strings.TrimSpace(number)))
}

func (s *ApplicationService) find(ctx context.Context, lookup func(context.Context, string) (*models.ApplicationDetail, error), key string) (*models.ApplicationDetail, error) {
	app, err := lookup(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	return app, nil
}

// List returns applications matching the filter.
func (s *ApplicationService) List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, *models.Pagination, error) {
	apps, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applications")
	}
	return apps, buildPagination(filter.Page, filter.PageSize, total), nil
}

// RecordScore stores the admission test score. A nil score clears it. The
// approved flag is only changed by a ranking run.
func (s *ApplicationService) RecordScore(ctx context.Context, id string, score *float64) (*models.ApplicationDetail, error) {
	if score != nil && (*score < 0 || *score > 20) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "score must be between 0 and 20")
	}
	if err := s.repo.UpdateScore(ctx, id, score); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record score")
	}
	return s.Get(ctx, id)
}

// RecordAcademicHistory replaces the grades of an application.
func (s *ApplicationService) RecordAcademicHistory(ctx context.Context, id string, req AcademicHistoryRequest) (*models.AcademicHistory, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid academic history payload")
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	history, err := buildHistory(id, req)
	if err != nil {
		return nil, err
	}
	if err := s.histories.Replace(ctx, history); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store academic history")
	}
	return history, nil
}

// CheckEligibility evaluates the stored history of an application against the
// current prerequisite rules of its course.
func (s *ApplicationService) CheckEligibility(ctx context.Context, id string) (*models.Eligibility, error) {
	app, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rules, err := s.courses.ListPrerequisites(ctx, app.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisites")
	}
	history, err := s.histories.FindByApplication(ctx, id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load academic history")
	}
	result := IsEligible(history, rules)
	return &result, nil
}

func buildHistory(applicationID string, req AcademicHistoryRequest) (*models.AcademicHistory, error) {
	seen := make(map[string]struct{}, len(req.Grades))
	history := &models.AcademicHistory{ApplicationID: applicationID}
	for _, g := range req.Grades {
		if _, dup := seen[g.SubjectID]; dup {
			return nil, appErrors.Clone(appErrors.ErrValidation, "subject "+g.SubjectID+" appears more than once")
		}
		seen[g.SubjectID] = struct{}{}
		history.Grades = append(history.Grades, models.SubjectGrade{
			SubjectID:      g.SubjectID,
			Grade:          g.Grade,
			CompletionYear: g.CompletionYear,
			Notes:          g.Notes,
		})
	}
	return history, nil
}

func (s *ApplicationService) buildApplication(req SubmitApplicationRequest) (*models.Application, error) {
	birth, err := time.Parse(dateLayout, req.BirthDate)
	if err != nil {
		return nil, appErrors.Invalid(err, "invalid birth date")
	}
	app := &models.Application{
		CourseID:           req.CourseID,
		FullName:           strings.TrimSpace(req.FullName),
		BirthDate:          birth,
		Birthplace:         req.Birthplace,
		Nationality:        req.Nationality,
		IDCardNumber:       strings.TrimSpace(req.IDCardNumber),
		Sex:                req.Sex,
		MaritalStatus:      req.MaritalStatus,
		Address:            req.Address,
		Phone:              strings.TrimSpace(req.Phone),
		Email:              strings.ToLower(strings.TrimSpace(req.Email)),
		PreviousSchool:     req.PreviousSchool,
		CompletionYear:     req.CompletionYear,
		PreferredShift:     req.PreferredShift,
		PaymentReference:   req.PaymentReference,
		SponsorName:        req.SponsorName,
		SponsorPhone:       req.SponsorPhone,
		GuardianName:       req.GuardianName,
		GuardianRelation:   req.GuardianRelation,
		GuardianPhone:      req.GuardianPhone,
		GuardianEmail:      req.GuardianEmail,
		GuardianOccupation: req.GuardianOccupation,
	}
	if app.PreferredShift == "" {
		app.PreferredShift = models.ShiftMorning
	}
	if app.Nationality == "" {
		app.Nationality = "Angolana"
	}
	if req.IDCardExpiry != "" {
		expiry, err := time.Parse(dateLayout, req.IDCardExpiry)
		if err != nil {
			return nil, appErrors.Invalid(err, "invalid ID card expiry")
		}
		app.IDCardExpiry = &expiry
	}
	return app, nil
}
