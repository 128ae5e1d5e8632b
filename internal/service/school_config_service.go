package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/siga-api/internal/models"
	"github.com/noah-isme/siga-api/pkg/document"
	appErrors "github.com/noah-isme/siga-api/pkg/errors"
)

type schoolConfigRepository interface {
	Get(ctx context.Context) (*models.SchoolConfiguration, error)
	Create(ctx context.Context, cfg *models.SchoolConfiguration) error
	Update(ctx context.Context, cfg *models.SchoolConfiguration) error
}

// SchoolConfigRequest is the create and update payload of the school settings.
type SchoolConfigRequest struct {
	SchoolName           string  `json:"school_name" validate:"required,max=200"`
	Address              string  `json:"address" validate:"max=500"`
	Phone                string  `json:"phone" validate:"max=20"`
	Email                string  `json:"email" validate:"omitempty,email"`
	LogoPath             *string `json:"logo_path"`
	ConfirmationTemplate string  `json:"confirmation_template"`
}

// SchoolConfigService manages the single configuration row of the installation.
type SchoolConfigService struct {
	repo      schoolConfigRepository
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSchoolConfigService constructs the service.
func NewSchoolConfigService(repo schoolConfigRepository, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *SchoolConfigService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchoolConfigService{repo: repo, audit: audit, validator: validate, logger: logger}
}

// Get returns the configuration.
func (s *SchoolConfigService) Get(ctx context.Context) (*models.SchoolConfiguration, error) {
	cfg, err := s.repo.Get(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "school configuration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load school configuration")
	}
	return cfg, nil
}

// Create stores the configuration. Only one may ever exist.
func (s *SchoolConfigService) Create(ctx context.Context, req SchoolConfigRequest, actorID string) (*models.SchoolConfiguration, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	existing, err := s.repo.Get(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load school configuration")
	}
	if existing != nil {
		return nil, appErrors.Clone(appErrors.ErrStateConflict, "school configuration already exists")
	}

	cfg := &models.SchoolConfiguration{}
	applySchoolConfig(cfg, req, actorID)
	if err := s.repo.Create(ctx, cfg); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create school configuration")
	}
	s.record(ctx, models.AuditActionSchoolConfigCreate, actorID, cfg)
	return cfg, nil
}

// Update overwrites the configuration.
func (s *SchoolConfigService) Update(ctx context.Context, req SchoolConfigRequest, actorID string) (*models.SchoolConfiguration, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	cfg, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	applySchoolConfig(cfg, req, actorID)
	if err := s.repo.Update(ctx, cfg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "school configuration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update school configuration")
	}
	s.record(ctx, models.AuditActionSchoolConfigUpdate, actorID, cfg)
	return cfg, nil
}

func (s *SchoolConfigService) validate(req SchoolConfigRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Invalid(err, "invalid school configuration payload")
	}
	if unknown := document.Unknown(req.ConfirmationTemplate, models.ConfirmationVariables); len(unknown) > 0 {
		return appErrors.Clone(appErrors.ErrValidation, "unknown template variables: "+strings.Join(unknown, ", "))
	}
	return nil
}

func (s *SchoolConfigService) record(ctx context.Context, action string, actorID string, cfg *models.SchoolConfiguration) {
	if s.audit == nil {
		return
	}
	values, _ := json.Marshal(cfg)
	entry := &models.AuditLog{
		UserID:     optionalString(actorID),
		Action:     action,
		Resource:   "school_configuration",
		ResourceID: optionalString(cfg.ID),
		NewValues:  values,
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to write audit log", zap.Error(err))
	}
}

func applySchoolConfig(cfg *models.SchoolConfiguration, req SchoolConfigRequest, actorID string) {
	cfg.SchoolName = strings.TrimSpace(req.SchoolName)
	cfg.Address = req.Address
	cfg.Phone = req.Phone
	cfg.Email = strings.ToLower(strings.TrimSpace(req.Email))
	cfg.LogoPath = req.LogoPath
	cfg.ConfirmationTemplate = req.ConfirmationTemplate
	cfg.UpdatedBy = optionalString(actorID)
}
