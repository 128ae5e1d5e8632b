package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/siga-api/internal/models"
	"github.com/noah-isme/siga-api/internal/repository"
	appErrors "github.com/noah-isme/siga-api/pkg/errors"
	"github.com/noah-isme/siga-api/pkg/logger"
)

type approvalRepository interface {
	ListByCourse(ctx context.Context, courseID string) ([]models.Application, error)
	ProcessApprovals(ctx context.Context, courseID string, decidedAt time.Time, plan repository.ApprovalPlanner) (*models.Course, []models.ApprovalDecision, error)
}

type approvalCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	List(ctx context.Context, filter models.CourseFilter) ([]models.CourseSummary, int, error)
}

type approvalMetrics interface {
	RecordApprovalRun(approved int)
	ObserveDBQuery(label string, duration time.Duration)
}

type roleNotifier interface {
	NotifyRoles(ctx context.Context, roles []models.UserRole, title, message string, kind models.NotificationKind)
}

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// ApprovalService runs the capacity-bounded ranking of a course and persists
// its outcome.
type ApprovalService struct {
	repo      approvalRepository
	courses   approvalCourseReader
	summaries summaryInvalidator
	metrics   approvalMetrics
	notifier  roleNotifier
	audit     auditRecorder
	logger    *zap.Logger
	now       func() time.Time
}

// NewApprovalService constructs the service. Every collaborator after courses may be nil.
func NewApprovalService(repo approvalRepository, courses approvalCourseReader, summaries summaryInvalidator, metrics approvalMetrics, notifier roleNotifier, audit auditRecorder, logger *zap.Logger) *ApprovalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApprovalService{
		repo:      repo,
		courses:   courses,
		summaries: summaries,
		metrics:   metrics,
		notifier:  notifier,
		audit:     audit,
		logger:    logger,
		now:       time.Now,
	}
}

// Preview ranks the current applications of a course without writing anything.
func (s *ApprovalService) Preview(ctx context.Context, courseID string) (*models.ApprovalResult, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	apps, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load applications")
	}
	now := s.now().UTC()
	result := summariseApprovals(*course, RankApplications(*course, apps, now), now)
	return &result, nil
}

// ProcessApprovals ranks and approves the applications of one course. Running
// it twice on unchanged data yields the same approved set.
func (s *ApprovalService) ProcessApprovals(ctx context.Context, courseID, actorID string) (*models.ApprovalResult, error) {
	now := s.now().UTC()
	plan := func(course models.Course, snapshot []models.Application) []models.ApprovalDecision {
		return RankApplications(course, snapshot, now)
	}

	started := time.Now()
	course, decisions, err := s.repo.ProcessApprovals(ctx, courseID, now, plan)
	if s.metrics != nil {
		s.metrics.ObserveDBQuery("process_approvals", time.Since(started))
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to process approvals")
	}

	result := summariseApprovals(*course, decisions, now)
	logger.For(ctx, s.logger).Info("approvals processed",
		zap.String("course_id", courseID),
		zap.Int("qualified", result.Qualified),
		zap.Int("approved", result.Approved),
		zap.Int("capacity", result.Capacity),
	)

	if s.summaries != nil {
		s.summaries.InvalidateSummary(ctx, courseID)
	}
	if s.metrics != nil {
		s.metrics.RecordApprovalRun(result.Approved)
	}
	s.recordAudit(ctx, actorID, result)
	if s.notifier != nil {
		s.notifier.NotifyRoles(ctx, models.StaffRoles,
			"Resultados processados",
			fmt.Sprintf("%s: %d aprovado(s) de %d candidato(s) para %d vaga(s).", course.Name, result.Approved, result.Total, result.Capacity),
			models.NotificationSuccess,
		)
	}
	return &result, nil
}

// ProcessAll runs the ranking for every active course. A failing course is
// logged and skipped so the others still complete.
func (s *ApprovalService) ProcessAll(ctx context.Context, actorID string) ([]models.ApprovalResult, error) {
	active := true
	var courses []models.CourseSummary
	for page := 1; ; page++ {
		batch, total, err := s.courses.List(ctx, models.CourseFilter{Active: &active, Page: page, PageSize: 100})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
		}
		courses = append(courses, batch...)
		if len(batch) == 0 || len(courses) >= total {
			break
		}
	}
	results := make([]models.ApprovalResult, 0, len(courses))
	for _, c := range courses {
		res, err := s.ProcessApprovals(ctx, c.ID, actorID)
		if err != nil {
			s.logger.Error("approval run failed", zap.String("course_id", c.ID), zap.Error(err))
			continue
		}
		results = append(results, *res)
	}
	return results, nil
}

func (s *ApprovalService) recordAudit(ctx context.Context, actorID string, result models.ApprovalResult) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(map[string]int{"approved": result.Approved, "qualified": result.Qualified, "capacity": result.Capacity})
	entry := &models.AuditLog{
		Action:     models.AuditActionApprovalsProcess,
		Resource:   "course",
		ResourceID: &result.CourseID,
		NewValues:  payload,
	}
	if actorID != "" {
		entry.UserID = &actorID
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record approvals audit", zap.Error(err))
	}
}
