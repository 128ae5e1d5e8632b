package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/siga-api/internal/models"
	"github.com/noah-isme/siga-api/internal/repository"
	appErrors "github.com/noah-isme/siga-api/pkg/errors"
	"github.com/noah-isme/siga-api/pkg/jobs"
	"github.com/noah-isme/siga-api/pkg/logger"
	"github.com/noah-isme/siga-api/pkg/middleware/requestid"
)

type subscriptionRepository interface {
	Create(ctx context.Context, sub *models.Subscription) error
	FindByID(ctx context.Context, id string) (*models.Subscription, error)
	FindBySchoolName(ctx context.Context, name string) (*models.Subscription, error)
	FindCurrent(ctx context.Context) (*models.Subscription, error)
	List(ctx context.Context) ([]models.Subscription, error)
	UpdateState(ctx context.Context, id string, state models.SubscriptionState) error
	CreatePayment(ctx context.Context, payment *models.SubscriptionPayment) error
	FindPayment(ctx context.Context, id string) (*models.SubscriptionPayment, error)
	ListPayments(ctx context.Context, filter models.PaymentFilter) ([]models.SubscriptionPayment, int, error)
	DecidePayment(ctx context.Context, paymentID string, decide repository.PaymentDecider) (*models.Subscription, *models.SubscriptionPayment, error)
}

type blobStore interface {
	SaveStream(filename string, r io.Reader, limit int64) (int64, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

type fileSigner interface {
	Generate(resourceID, relPath string) (string, time.Time, error)
	Parse(token string) (resourceID, relPath string, expiresAt time.Time, err error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

type paymentMetrics interface {
	RecordPaymentDecision(status models.PaymentStatus)
}

type userNotifier interface {
	NotifyUsers(ctx context.Context, userIDs []string, title, message string, kind models.NotificationKind)
}

var errPaymentNotPending = errors.New("payment is not pending")

// CreateSubscriptionRequest opens a trial subscription for a school.
type CreateSubscriptionRequest struct {
	SchoolName string                  `json:"school_name" validate:"required,max=200"`
	Plan       models.SubscriptionPlan `json:"plan" validate:"omitempty,subscription_plan"`
	TrialDays  int                     `json:"trial_days" validate:"gte=0,lte=365"`
	Notes      string                  `json:"notes"`
}

// SubmitPaymentRequest describes a renewal paid by the school.
type SubmitPaymentRequest struct {
	Plan        models.SubscriptionPlan `json:"plan" form:"plan" validate:"required,subscription_plan"`
	Amount      float64                 `json:"amount" form:"amount" validate:"gt=0"`
	PaymentDate string                  `json:"payment_date" form:"payment_date" validate:"required,datetime=2006-01-02"`
	Reference   string                  `json:"reference" form:"reference" validate:"max=100"`
	Notes       string                  `json:"notes" form:"notes"`
}

// ProofUpload is the proof-of-payment file attached to a submission.
type ProofUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Content     io.Reader
}

// ReceiptJobPayload identifies the payment whose receipt must be generated.
type ReceiptJobPayload struct {
	PaymentID string
}

// SubscriptionServiceConfig bounds uploads and identifies the installation.
type SubscriptionServiceConfig struct {
	SchoolName       string
	TrialDays        int
	MaxProofBytes    int64
	AllowedMIMEs     []string
	DownloadBasePath string
}

// SubscriptionService drives the subscription lifecycle and its payments.
type SubscriptionService struct {
	repo      subscriptionRepository
	proofs    blobStore
	receipts  blobStore
	signer    fileSigner
	queue     jobEnqueuer
	metrics   paymentMetrics
	notifier  userNotifier
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
	cfg       SubscriptionServiceConfig
	now       func() time.Time
}

// SubscriptionDeps groups the optional collaborators of the subscription service.
type SubscriptionDeps struct {
	Proofs   blobStore
	Receipts blobStore
	Signer   fileSigner
	Queue    jobEnqueuer
	Metrics  paymentMetrics
	Notifier userNotifier
	Audit    auditRecorder
}

// NewSubscriptionService constructs the service.
func NewSubscriptionService(repo subscriptionRepository, deps SubscriptionDeps, validate *validator.Validate, logger *zap.Logger, cfg SubscriptionServiceConfig) *SubscriptionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TrialDays <= 0 {
		cfg.TrialDays = 30
	}
	if cfg.DownloadBasePath == "" {
		cfg.DownloadBasePath = "/api/v1/subscriptions/receipts"
	}
	svc := &SubscriptionService{
		repo:      repo,
		proofs:    deps.Proofs,
		receipts:  deps.Receipts,
		signer:    deps.Signer,
		queue:     deps.Queue,
		metrics:   deps.Metrics,
		notifier:  deps.Notifier,
		audit:     deps.Audit,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
	svc.validator.RegisterValidation("subscription_plan", func(fl validator.FieldLevel) bool {
		switch models.SubscriptionPlan(fl.Field().String()) {
		case models.PlanMonthly, models.PlanQuarterly, models.PlanSemiannual, models.PlanAnnual:
			return true
		}
		return false
	})
	return svc
}

// Create opens a TRIAL subscription. School names are unique.
func (s *SubscriptionService) Create(ctx context.Context, req CreateSubscriptionRequest) (*models.SubscriptionStatus, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid subscription payload")
	}
	name := strings.TrimSpace(req.SchoolName)
	if _, err := s.repo.FindBySchoolName(ctx, name); err == nil {
		return nil, appErrors.Clone(appErrors.ErrDuplicate, "a subscription for this school already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check subscription")
	}

	days := req.TrialDays
	if days == 0 {
		days = s.cfg.TrialDays
	}
	plan := req.Plan
	if plan == "" {
		plan = models.PlanMonthly
	}
	today := models.DateOnly(s.now())
	sub := &models.Subscription{
		SchoolName:     name,
		Plan:           plan,
		State:          models.SubscriptionTrial,
		StartDate:      today,
		ExpirationDate: today.AddDate(0, 0, days),
		Notes:          req.Notes,
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrDuplicate, "a subscription for this school already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create subscription")
	}
	s.logger.Info("subscription created", zap.String("subscription_id", sub.ID), zap.String("school", sub.SchoolName))
	status := sub.StatusAt(today)
	return &status, nil
}

// Current returns the subscription of the installation with derived figures.
// The configured school name wins; otherwise the first ACTIVE or TRIAL row.
func (s *SubscriptionService) Current(ctx context.Context) (*models.SubscriptionStatus, error) {
	sub, err := s.current(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no current subscription")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subscription")
	}
	status := sub.StatusAt(s.now())
	return &status, nil
}

// IsActive reports whether the installation may be used today. It backs the
// login gate.
func (s *SubscriptionService) IsActive(ctx context.Context) (bool, error) {
	sub, err := s.current(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return sub.FunctionallyActive(s.now()), nil
}

func (s *SubscriptionService) current(ctx context.Context) (*models.Subscription, error) {
	if s.cfg.SchoolName != "" {
		return s.repo.FindBySchoolName(ctx, s.cfg.SchoolName)
	}
	return s.repo.FindCurrent(ctx)
}

// Get returns one subscription.
func (s *SubscriptionService) Get(ctx context.Context, id string) (*models.SubscriptionStatus, error) {
	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subscription not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subscription")
	}
	status := sub.StatusAt(s.now())
	return &status, nil
}

// List returns every subscription with its derived figures.
func (s *SubscriptionService) List(ctx context.Context) ([]models.SubscriptionStatus, error) {
	subs, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subscriptions")
	}
	today := s.now()
	out := make([]models.SubscriptionStatus, 0, len(subs))
	for i := range subs {
		out = append(out, subs[i].StatusAt(today))
	}
	return out, nil
}

// Cancel moves a subscription to CANCELLED. Dates are kept.
func (s *SubscriptionService) Cancel(ctx context.Context, id string) error {
	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "subscription not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subscription")
	}
	if sub.State == models.SubscriptionCancelled {
		return appErrors.Clone(appErrors.ErrStateConflict, "subscription is already cancelled")
	}
	if err := s.repo.UpdateState(ctx, id, models.SubscriptionCancelled); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel subscription")
	}
	s.logger.Info("subscription cancelled", zap.String("subscription_id", id))
	return nil
}

// SubmitPayment records a PENDING payment and stores its proof.
func (s *SubscriptionService) SubmitPayment(ctx context.Context, subscriptionID, submittedBy string, req SubmitPaymentRequest, proof *ProofUpload) (*models.SubscriptionPayment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid payment payload")
	}
	paidOn, err := time.Parse(dateLayout, req.PaymentDate)
	if err != nil {
		return nil, appErrors.Invalid(err, "invalid payment date")
	}
	if _, err := s.repo.FindByID(ctx, subscriptionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subscription not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subscription")
	}

	payment := &models.SubscriptionPayment{
		ID:             uuid.NewString(),
		SubscriptionID: subscriptionID,
		Plan:           req.Plan,
		Amount:         req.Amount,
		PaymentDate:    paidOn,
		Reference:      strings.TrimSpace(req.Reference),
		Status:         models.PaymentPending,
		Notes:          req.Notes,
		SubmittedAt:    s.now().UTC(),
	}
	if submittedBy != "" {
		payment.SubmittedBy = &submittedBy
	}

	if proof != nil {
		path, err := s.storeProof(payment.ID, proof)
		if err != nil {
			return nil, err
		}
		payment.ProofPath = path
	}

	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		if payment.ProofPath != "" && s.proofs != nil {
			_ = s.proofs.Delete(payment.ProofPath)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payment")
	}
	s.logger.Info("payment submitted", zap.String("payment_id", payment.ID), zap.String("plan", string(payment.Plan)))
	return payment, nil
}

func (s *SubscriptionService) storeProof(paymentID string, proof *ProofUpload) (string, error) {
	if s.proofs == nil {
		return "", appErrors.Clone(appErrors.ErrInternal, "proof storage is not configured")
	}
	if !s.mimeAllowed(proof.ContentType) {
		return "", appErrors.Clone(appErrors.ErrValidation, "unsupported proof file type")
	}
	if s.cfg.MaxProofBytes > 0 && proof.Size > s.cfg.MaxProofBytes {
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("proof exceeds %d bytes", s.cfg.MaxProofBytes))
	}
	name := fmt.Sprintf("proofs/%s%s", paymentID, strings.ToLower(filepath.Ext(proof.Filename)))
	if _, err := s.proofs.SaveStream(name, proof.Content, s.cfg.MaxProofBytes); err != nil {
		return "", appErrors.Invalid(err, "failed to store proof")
	}
	return name, nil
}

func (s *SubscriptionService) mimeAllowed(contentType string) bool {
	if len(s.cfg.AllowedMIMEs) == 0 {
		return true
	}
	mediaType := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	for _, allowed := range s.cfg.AllowedMIMEs {
		if strings.EqualFold(allowed, mediaType) {
			return true
		}
	}
	return false
}

// ApprovePayment applies a PENDING payment to its subscription. Payment and
// subscription are locked for the duration of the decision.
func (s *SubscriptionService) ApprovePayment(ctx context.Context, paymentID, approverID string) (*models.PaymentDecision, error) {
	now := s.now().UTC()
	decision, err := s.decide(ctx, paymentID, func(sub *models.Subscription, payment *models.SubscriptionPayment) (bool, error) {
		if payment.Status != models.PaymentPending {
			return false, errPaymentNotPending
		}
		sub.ApplyPayment(payment.Plan, payment.Amount, now)
		payment.Status = models.PaymentApproved
		payment.DecidedBy = optionalString(approverID)
		payment.DecidedAt = &now
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.afterDecision(ctx, decision, approverID, models.AuditActionPaymentApprove)
	if s.queue != nil {
		job := jobs.Job{ID: paymentID, Type: jobs.TypePaymentReceipt, RequestID: requestid.FromContext(ctx), Payload: ReceiptJobPayload{PaymentID: paymentID}}
		if err := s.queue.Enqueue(job); err != nil {
			s.logger.Warn("failed to enqueue receipt", zap.String("payment_id", paymentID), zap.Error(err))
		}
	}
	if s.notifier != nil && decision.Payment.SubmittedBy != nil {
		s.notifier.NotifyUsers(ctx, []string{*decision.Payment.SubmittedBy},
			"Pagamento aprovado",
			fmt.Sprintf("A subscrição está ativa até %s.", decision.Subscription.ExpirationDate.Format("02/01/2006")),
			models.NotificationSuccess,
		)
	}
	return decision, nil
}

// RejectPayment marks a PENDING payment as rejected. The subscription is untouched.
func (s *SubscriptionService) RejectPayment(ctx context.Context, paymentID, approverID, reason string) (*models.PaymentDecision, error) {
	now := s.now().UTC()
	decision, err := s.decide(ctx, paymentID, func(sub *models.Subscription, payment *models.SubscriptionPayment) (bool, error) {
		if payment.Status != models.PaymentPending {
			return false, errPaymentNotPending
		}
		payment.Status = models.PaymentRejected
		payment.DecidedBy = optionalString(approverID)
		payment.DecidedAt = &now
		if reason = strings.TrimSpace(reason); reason != "" {
			payment.Notes = reason
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	s.afterDecision(ctx, decision, approverID, models.AuditActionPaymentReject)
	if s.notifier != nil && decision.Payment.SubmittedBy != nil {
		s.notifier.NotifyUsers(ctx, []string{*decision.Payment.SubmittedBy}, "Pagamento rejeitado", "O comprovativo submetido foi rejeitado.", models.NotificationWarning)
	}
	return decision, nil
}

func (s *SubscriptionService) decide(ctx context.Context, paymentID string, fn repository.PaymentDecider) (*models.PaymentDecision, error) {
	sub, payment, err := s.repo.DecidePayment(ctx, paymentID, fn)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		case errors.Is(err, errPaymentNotPending):
			return nil, appErrors.Clone(appErrors.ErrStateConflict, "payment has already been decided")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decide payment")
	}
	return &models.PaymentDecision{Payment: *payment, Subscription: sub.StatusAt(s.now())}, nil
}

func (s *SubscriptionService) afterDecision(ctx context.Context, decision *models.PaymentDecision, actorID, action string) {
	logger.For(ctx, s.logger).Info("payment decided",
		zap.String("payment_id", decision.Payment.ID),
		zap.String("status", string(decision.Payment.Status)),
		zap.Time("expiration", decision.Subscription.ExpirationDate),
	)
	if s.metrics != nil {
		s.metrics.RecordPaymentDecision(decision.Payment.Status)
	}
	if s.audit != nil {
		entry := &models.AuditLog{
			UserID:     optionalString(actorID),
			Action:     action,
			Resource:   "subscription_payment",
			ResourceID: &decision.Payment.ID,
		}
		if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
			s.logger.Warn("failed to record payment audit", zap.Error(err))
		}
	}
}

// GetPayment returns one payment.
func (s *SubscriptionService) GetPayment(ctx context.Context, id string) (*models.SubscriptionPayment, error) {
	payment, err := s.repo.FindPayment(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	return payment, nil
}

// ListPayments returns payments newest first.
func (s *SubscriptionService) ListPayments(ctx context.Context, filter models.PaymentFilter) ([]models.SubscriptionPayment, *models.Pagination, error) {
	payments, total, err := s.repo.ListPayments(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	return payments, buildPagination(filter.Page, filter.PageSize, total), nil
}

// OpenProof returns the stored proof of a payment.
func (s *SubscriptionService) OpenProof(ctx context.Context, paymentID string) (*os.File, error) {
	payment, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.ProofPath == "" || s.proofs == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "payment has no proof")
	}
	file, err := s.proofs.Open(payment.ProofPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "proof file not found")
	}
	return file, nil
}

// ReceiptLink signs a download link for the receipt of an approved payment.
func (s *SubscriptionService) ReceiptLink(ctx context.Context, paymentID string) (*models.FileLink, error) {
	payment, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentApproved {
		return nil, appErrors.Clone(appErrors.ErrStateConflict, "only approved payments have receipts")
	}
	if payment.ReceiptPath == nil || *payment.ReceiptPath == "" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "receipt is not ready yet")
	}
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signing is not configured")
	}
	token, expiresAt, err := s.signer.Generate(payment.ID, *payment.ReceiptPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign receipt link")
	}
	return &models.FileLink{
		Token:     token,
		URL:       strings.TrimRight(s.cfg.DownloadBasePath, "/") + "/" + token,
		ExpiresAt: expiresAt,
	}, nil
}

// OpenReceipt resolves a signed receipt token into the stored file.
func (s *SubscriptionService) OpenReceipt(token string) (*os.File, string, error) {
	if s.signer == nil || s.receipts == nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "receipts are not available")
	}
	_, relPath, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, "", downloadTokenError(err)
	}
	file, err := s.receipts.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "receipt file not found")
	}
	return file, filepath.Base(relPath), nil
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
