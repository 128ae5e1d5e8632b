package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/siga-api/internal/models"
	appErrors "github.com/noah-isme/siga-api/pkg/errors"
)

type academicYearRepository interface {
	List(ctx context.Context) ([]models.AcademicYear, error)
	FindByID(ctx context.Context, id string) (*models.AcademicYear, error)
	FindActive(ctx context.Context) (*models.AcademicYear, error)
	Exists(ctx context.Context, startYear, endYear int) (bool, error)
	Create(ctx context.Context, year *models.AcademicYear) error
	SetActive(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// CreateAcademicYearRequest registers a year such as 2024/2025.
type CreateAcademicYearRequest struct {
	StartYear int  `json:"start_year" validate:"required,gte=2000,lte=2100"`
	EndYear   int  `json:"end_year" validate:"required,gtfield=StartYear"`
	Active    bool `json:"active"`
}

// AcademicYearService manages academic years and the active one.
type AcademicYearService struct {
	repo      academicYearRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAcademicYearService constructs the service.
func NewAcademicYearService(repo academicYearRepository, validate *validator.Validate, logger *zap.Logger) *AcademicYearService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AcademicYearService{repo: repo, validator: validate, logger: logger}
}

// List returns every year, newest first.
func (s *AcademicYearService) List(ctx context.Context) ([]models.AcademicYear, error) {
	years, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list academic years")
	}
	return years, nil
}

// Active returns the active year.
func (s *AcademicYearService) Active(ctx context.Context) (*models.AcademicYear, error) {
	year, err := s.repo.FindActive(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no active academic year")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active academic year")
	}
	return year, nil
}

// Create registers a year. A year created as active becomes the only active one.
func (s *AcademicYearService) Create(ctx context.Context, req CreateAcademicYearRequest) (*models.AcademicYear, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid academic year payload")
	}
	exists, err := s.repo.Exists(ctx, req.StartYear, req.EndYear)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check academic year")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrDuplicate, "academic year already exists")
	}

	year := &models.AcademicYear{StartYear: req.StartYear, EndYear: req.EndYear}
	if err := s.repo.Create(ctx, year); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create academic year")
	}
	if req.Active {
		return s.SetActive(ctx, year.ID)
	}
	return year, nil
}

// SetActive makes the year the only active one.
func (s *AcademicYearService) SetActive(ctx context.Context, id string) (*models.AcademicYear, error) {
	if err := s.repo.SetActive(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "academic year not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate academic year")
	}
	year, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load academic year")
	}
	s.logger.Info("academic year activated", zap.String("academic_year", year.Label()))
	return year, nil
}

// Delete removes a year.
func (s *AcademicYearService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "academic year not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete academic year")
	}
	return nil
}
