package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/siga-api/internal/models"
	appErrors "github.com/noah-isme/siga-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	ExistsByField(ctx context.Context, field, value, excludeID string) (bool, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	UpdateRole(ctx context.Context, id string, role models.UserRole) error
	Delete(ctx context.Context, id string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

var roleLabels = map[models.UserRole]string{
	models.RoleSuperAdmin:        "Super Administrador",
	models.RoleAdmin:             "Administrador",
	models.RoleSecretary:         "Secretaria",
	models.RoleAcademicSecretary: "Secretaria Acadêmica",
	models.RoleTeacher:           "Professor",
	models.RoleCoordinator:       "Coordenador",
	models.RoleStudent:           "Aluno",
}

// CreateUserRequest represents payload for administrators creating users with a level.
type CreateUserRequest struct {
	Username string          `json:"username" validate:"required,min=3,max=50,alphanum"`
	Email    string          `json:"email" validate:"required,email"`
	Phone    *string         `json:"phone" validate:"omitempty,min=6,max=20"`
	FullName string          `json:"full_name" validate:"required,max=200"`
	Role     models.UserRole `json:"role" validate:"required,user_role"`
	Active   bool            `json:"active"`
	Password string          `json:"password" validate:"required,min=8"`
}

// UpdateUserRequest payload for updating users.
type UpdateUserRequest struct {
	Email    string          `json:"email" validate:"required,email"`
	Phone    *string         `json:"phone" validate:"omitempty,min=6,max=20"`
	FullName string          `json:"full_name" validate:"required,max=200"`
	Role     models.UserRole `json:"role" validate:"required,user_role"`
	Active   *bool           `json:"active"`
}

// AssignRoleRequest grants an access level to a user.
type AssignRoleRequest struct {
	Role models.UserRole `json:"role" validate:"required,user_role"`
}

// UserService handles registration and user management workflows.
type UserService struct {
	repo      userRepository
	notifier  userNotifier
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, notifier userNotifier, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	svc := &UserService{repo: repo, notifier: notifier, validator: validate, logger: logger}
	svc.validator.RegisterValidation("user_role", func(fl validator.FieldLevel) bool {
		_, ok := roleLabels[models.UserRole(fl.Field().String())]
		return ok
	})
	return svc
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	return users, buildPagination(filter.Page, filter.PageSize, total), nil
}

// CountPending returns how many registrations wait for a level.
func (s *UserService) CountPending(ctx context.Context) (int, error) {
	pending := models.RolePending
	_, total, err := s.repo.List(ctx, models.UserFilter{Role: &pending, Page: 1, PageSize: 1})
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count pending users")
	}
	return total, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

// Register creates a self-service account. It stays PENDING until an
// administrator assigns a level.
func (s *UserService) Register(ctx context.Context, req models.RegisterRequest, meta models.LoginRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid registration payload")
	}
	user, err := s.newUser(ctx, req.Username, req.Email, req.Phone, req.FullName, req.Password, models.RolePending, true)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, &models.AuditLog{
		UserID:     &user.ID,
		Action:     models.AuditActionRegister,
		Resource:   "users",
		ResourceID: &user.ID,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})
	s.logger.Info("user registered", zap.String("user_id", user.ID), zap.String("username", user.Username))
	return user, nil
}

// Create adds a user with an access level already assigned.
func (s *UserService) Create(ctx context.Context, req CreateUserRequest, actorID string, meta models.LoginRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid create user payload")
	}
	user, err := s.newUser(ctx, req.Username, req.Email, req.Phone, req.FullName, req.Password, req.Role, req.Active)
	if err != nil {
		return nil, err
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"id": user.ID, "email": user.Email, "role": user.Role})
	s.audit(ctx, &models.AuditLog{
		UserID:     optionalString(actorID),
		Action:     models.AuditActionUserCreate,
		Resource:   "users",
		ResourceID: &user.ID,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})
	return user, nil
}

func (s *UserService) newUser(ctx context.Context, username, email string, phone *string, fullName, password string, role models.UserRole, active bool) (*models.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	phone = normalisePhone(phone)
	if err := s.ensureUnique(ctx, "", username, email, phone); err != nil {
		return nil, err
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		Phone:        phone,
		FullName:     strings.TrimSpace(fullName),
		Role:         role,
		Active:       active,
		PasswordHash: string(passwordHash),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}
	return user, nil
}

func (s *UserService) ensureUnique(ctx context.Context, excludeID, username, email string, phone *string) error {
	checks := [][2]string{{"username", username}, {"email", email}}
	if phone != nil {
		checks = append(checks, [2]string{"phone", *phone})
	}
	for _, check := range checks {
		field, value := check[0], check[1]
		if value == "" {
			continue
		}
		exists, err := s.repo.ExistsByField(ctx, field, value, excludeID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check "+field)
		}
		if exists {
			return appErrors.Clone(appErrors.ErrDuplicate, fmt.Sprintf("%s is already in use by another user", field))
		}
	}
	return nil
}

// AssignRole grants an access level and tells the user about it.
func (s *UserService) AssignRole(ctx context.Context, id string, req AssignRoleRequest, actorID string, meta models.LoginRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid role")
	}
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := user.Role
	if err := s.repo.UpdateRole(ctx, id, req.Role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign role")
	}
	user.Role = req.Role

	oldPayload, _ := json.Marshal(map[string]interface{}{"role": previous})
	newPayload, _ := json.Marshal(map[string]interface{}{"role": user.Role})
	s.audit(ctx, &models.AuditLog{
		UserID:     optionalString(actorID),
		Action:     models.AuditActionRoleAssign,
		Resource:   "users",
		ResourceID: &user.ID,
		OldValues:  oldPayload,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})
	if s.notifier != nil {
		s.notifier.NotifyUsers(ctx, []string{user.ID}, "Perfil Atribuído",
			fmt.Sprintf("Seu perfil foi atribuído como %s. Agora você pode acessar o sistema.", roleLabels[user.Role]),
			models.NotificationSuccess)
	}
	return user, nil
}

// Update modifies the user attributes.
func (s *UserService) Update(ctx context.Context, id string, req UpdateUserRequest, actorID string, meta models.LoginRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid update payload")
	}

	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	phone := normalisePhone(req.Phone)
	if err := s.ensureUnique(ctx, id, "", email, phone); err != nil {
		return nil, err
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"role": user.Role, "active": user.Active, "email": user.Email})

	user.Email = email
	user.Phone = phone
	user.FullName = strings.TrimSpace(req.FullName)
	user.Role = req.Role
	if req.Active != nil {
		user.Active = *req.Active
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"role": user.Role, "active": user.Active, "email": user.Email})
	s.audit(ctx, &models.AuditLog{
		UserID:     optionalString(actorID),
		Action:     models.AuditActionUserUpdate,
		Resource:   "users",
		ResourceID: &user.ID,
		OldValues:  oldPayload,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})
	return user, nil
}

// Delete performs a soft delete (inactive) on a user.
func (s *UserService) Delete(ctx context.Context, id string, actorID string, meta models.LoginRequest) error {
	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete user")
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"active": user.Active})
	newPayload, _ := json.Marshal(map[string]interface{}{"active": false})
	s.audit(ctx, &models.AuditLog{
		UserID:     optionalString(actorID),
		Action:     models.AuditActionUserDelete,
		Resource:   "users",
		ResourceID: &user.ID,
		OldValues:  oldPayload,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})
	return nil
}

func (s *UserService) audit(ctx context.Context, entry *models.AuditLog) {
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record user audit log", zap.String("action", entry.Action), zap.Error(err))
	}
}

func normalisePhone(phone *string) *string {
	if phone == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*phone)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
