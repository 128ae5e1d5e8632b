package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/siga-api/internal/models"
	appErrors "github.com/noah-isme/siga-api/pkg/errors"
)

type notificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	ListForUser(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, notificationID, userID string) error
	VisibleTo(ctx context.Context, notificationID, userID string) (bool, error)
}

type roleDirectory interface {
	ListIDsByRoles(ctx context.Context, roles []models.UserRole) ([]string, error)
}

// NotifyRequest describes a notification to publish. Either Global is set or
// at least one recipient is given.
type NotifyRequest struct {
	Title      string                  `json:"title" validate:"required,max=200"`
	Message    string                  `json:"message" validate:"required"`
	Kind       models.NotificationKind `json:"kind" validate:"omitempty,notification_kind"`
	Global     bool                    `json:"global"`
	Recipients []string                `json:"recipients" validate:"omitempty,dive,required"`
}

// NotificationService publishes in-app notifications and tracks read receipts.
type NotificationService struct {
	repo      notificationRepository
	users     roleDirectory
	validator *validator.Validate
	logger    *zap.Logger
}

// NewNotificationService constructs the service.
func NewNotificationService(repo notificationRepository, users roleDirectory, validate *validator.Validate, logger *zap.Logger) *NotificationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &NotificationService{repo: repo, users: users, validator: validate, logger: logger}
	svc.validator.RegisterValidation("notification_kind", func(fl validator.FieldLevel) bool {
		switch models.NotificationKind(strings.ToUpper(fl.Field().String())) {
		case models.NotificationInfo, models.NotificationWarning, models.NotificationUrgent, models.NotificationSuccess:
			return true
		default:
			return false
		}
	})
	return svc
}

// Notify stores a notification for its recipients or for everyone.
func (s *NotificationService) Notify(ctx context.Context, req NotifyRequest) (*models.Notification, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid notification payload")
	}
	if !req.Global && len(req.Recipients) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "notification needs recipients or global flag")
	}
	kind := models.NotificationKind(strings.ToUpper(string(req.Kind)))
	if kind == "" {
		kind = models.NotificationInfo
	}
	n := &models.Notification{
		Title:   strings.TrimSpace(req.Title),
		Message: req.Message,
		Kind:    kind,
		Global:  req.Global,
		Active:  true,
	}
	if !req.Global {
		n.Recipients = uniqueStrings(req.Recipients)
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create notification")
	}
	return n, nil
}

// NotifyUsers is a fire-and-forget helper used by other services. Failures are
// logged, never returned.
func (s *NotificationService) NotifyUsers(ctx context.Context, userIDs []string, title, message string, kind models.NotificationKind) {
	if s == nil || len(userIDs) == 0 {
		return
	}
	if _, err := s.Notify(ctx, NotifyRequest{Title: title, Message: message, Kind: kind, Recipients: userIDs}); err != nil {
		s.logger.Warn("failed to deliver notification", zap.String("title", title), zap.Error(err))
	}
}

// NotifyRoles addresses every active user holding one of roles.
func (s *NotificationService) NotifyRoles(ctx context.Context, roles []models.UserRole, title, message string, kind models.NotificationKind) {
	if s == nil || s.users == nil {
		return
	}
	ids, err := s.users.ListIDsByRoles(ctx, roles)
	if err != nil {
		s.logger.Warn("failed to resolve notification recipients", zap.Error(err))
		return
	}
	s.NotifyUsers(ctx, ids, title, message, kind)
}

// List returns the notifications visible to a user.
func (s *NotificationService) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, *models.Pagination, error) {
	if filter.UserID == "" {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "user context required")
	}
	items, total, err := s.repo.ListForUser(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return items, buildPagination(filter.Page, filter.PageSize, total), nil
}

// UnreadCount returns how many visible notifications the user has not read.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	count, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count notifications")
	}
	return count, nil
}

// MarkRead records a read receipt. Marking twice is harmless.
func (s *NotificationService) MarkRead(ctx context.Context, notificationID, userID string) error {
	visible, err := s.repo.VisibleTo(ctx, notificationID, userID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load notification")
	}
	if !visible {
		return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
	}
	if err := s.repo.MarkRead(ctx, notificationID, userID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	return nil
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
