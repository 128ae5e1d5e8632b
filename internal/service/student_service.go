package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/siga-api/internal/models"
	"github.com/noah-isme/siga-api/internal/repository"
	appErrors "github.com/noah-isme/siga-api/pkg/errors"
	"github.com/noah-isme/siga-api/pkg/sequence"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ExistsByApplication(ctx context.Context, applicationID string) (bool, error)
	Create(ctx context.Context, student *models.Student) error
	Deactivate(ctx context.Context, id string, leftOn time.Time) error
}

type studentApplicationReader interface {
	FindByID(ctx context.Context, id string) (*models.ApplicationDetail, error)
}

// StudentService admits approved applicants and manages student records.
type StudentService struct {
	repo      studentRepository
	apps      studentApplicationReader
	sequences sequenceGenerator
	audit     auditRecorder
	logger    *zap.Logger
	now       func() time.Time
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, apps studentApplicationReader, sequences sequenceGenerator, audit auditRecorder, logger *zap.Logger) *StudentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, apps: apps, sequences: sequences, audit: audit, logger: logger, now: time.Now}
}

// List returns students and pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	return students, buildPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a student.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// Admit turns an approved application into a student with an ALU number.
func (s *StudentService) Admit(ctx context.Context, applicationID, actorID string) (*models.Student, error) {
	app, err := s.apps.FindByID(ctx, applicationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	if !app.Approved {
		return nil, appErrors.Clone(appErrors.ErrStateConflict, "application is not approved")
	}
	admitted, err := s.repo.ExistsByApplication(ctx, applicationID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check admission")
	}
	if admitted {
		return nil, appErrors.Clone(appErrors.ErrStateConflict, "application already admitted")
	}

	n, err := s.sequences.Next(ctx, sequence.PrefixStudent)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to allocate student number")
	}
	student := &models.Student{
		Number:        sequence.Format(sequence.PrefixStudent, n),
		ApplicationID: &app.ID,
		CourseID:      app.CourseID,
		FullName:      app.FullName,
		IDCardNumber:  app.IDCardNumber,
		BirthDate:     app.BirthDate,
		Sex:           app.Sex,
		Phone:         app.Phone,
		Email:         app.Email,
		Address:       app.Address,
		EnrolledOn:    models.DateOnly(s.now()),
		Active:        true,
	}
	if err := s.repo.Create(ctx, student); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrStateConflict, "application already admitted")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}

	s.logger.Info("student admitted",
		zap.String("student_number", student.Number),
		zap.String("application_number", app.Number),
	)
	if s.audit != nil {
		entry := &models.AuditLog{
			UserID:     optionalString(actorID),
			Action:     models.AuditActionStudentAdmit,
			Resource:   "student",
			ResourceID: &student.ID,
		}
		if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
			s.logger.Warn("failed to write audit log", zap.Error(err))
		}
	}
	return student, nil
}

// Deactivate marks a student as having left the school.
func (s *StudentService) Deactivate(ctx context.Context, id string) error {
	if err := s.repo.Deactivate(ctx, id, models.DateOnly(s.now())); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate student")
	}
	return nil
}
