package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/siga-api/internal/models"
	"github.com/noah-isme/siga-api/pkg/export"
	"github.com/noah-isme/siga-api/pkg/jobs"
	"github.com/noah-isme/siga-api/pkg/logger"
)

type receiptRepository interface {
	FindByID(ctx context.Context, id string) (*models.Subscription, error)
	FindPayment(ctx context.Context, id string) (*models.SubscriptionPayment, error)
	SetReceiptPath(ctx context.Context, paymentID, path string) error
}

type receiptUserLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type documentPDFRenderer interface {
	RenderDocument(doc export.Document) ([]byte, error)
}

type blobWriter interface {
	Save(filename string, data []byte) (string, error)
}

type receiptFailureMetrics interface {
	RecordReceiptFailure()
}

var planLabels = map[models.SubscriptionPlan]string{
	models.PlanMonthly:    "Mensal",
	models.PlanQuarterly:  "Trimestral",
	models.PlanSemiannual: "Semestral",
	models.PlanAnnual:     "Anual",
}

// ReceiptService renders payment receipts. It runs as the handler of the
// receipt job queue.
type ReceiptService struct {
	repo    receiptRepository
	users   receiptUserLookup
	pdf     documentPDFRenderer
	store   blobWriter
	metrics receiptFailureMetrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewReceiptService constructs the service. users and metrics may be nil.
func NewReceiptService(repo receiptRepository, users receiptUserLookup, pdf documentPDFRenderer, store blobWriter, metrics receiptFailureMetrics, logger *zap.Logger) *ReceiptService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ReceiptService{repo: repo, users: users, pdf: pdf, store: store, metrics: metrics, logger: logger, now: time.Now}
}

// HandleJob is the jobs.Handler for receipt jobs.
func (s *ReceiptService) HandleJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(ReceiptJobPayload)
	if !ok {
		return fmt.Errorf("unexpected receipt payload %T", job.Payload)
	}
	_, err := s.Generate(ctx, payload.PaymentID)
	return err
}

// OnGiveUp records a receipt that could not be produced after every retry.
func (s *ReceiptService) OnGiveUp(ctx context.Context, job jobs.Job, err error) {
	s.logger.Error("receipt generation abandoned", zap.String("job_id", job.ID), zap.Error(err))
	if s.metrics != nil {
		s.metrics.RecordReceiptFailure()
	}
}

// Generate renders the receipt of an approved payment, stores it and records
// its path. It returns the stored relative path.
func (s *ReceiptService) Generate(ctx context.Context, paymentID string) (string, error) {
	payment, err := s.repo.FindPayment(ctx, paymentID)
	if err != nil {
		return "", fmt.Errorf("load payment %s: %w", paymentID, err)
	}
	if payment.Status != models.PaymentApproved {
		return "", fmt.Errorf("payment %s is %s, not approved", paymentID, payment.Status)
	}
	sub, err := s.repo.FindByID(ctx, payment.SubscriptionID)
	if err != nil {
		return "", fmt.Errorf("load subscription %s: %w", payment.SubscriptionID, err)
	}

	content, err := s.pdf.RenderDocument(s.receiptDocument(ctx, sub, payment))
	if err != nil {
		return "", err
	}
	now := s.now()
	name := fmt.Sprintf("recibo_pagamento_%s_%s.pdf", payment.ID, now.Format("20060102_150405"))
	path, err := s.store.Save(name, content)
	if err != nil {
		return "", err
	}
	if err := s.repo.SetReceiptPath(ctx, payment.ID, path); err != nil {
		return "", err
	}
	logger.For(ctx, s.logger).Info("receipt generated", zap.String("payment_id", payment.ID), zap.String("path", path))
	return path, nil
}

func (s *ReceiptService) receiptDocument(ctx context.Context, sub *models.Subscription, payment *models.SubscriptionPayment) export.Document {
	reference := payment.Reference
	if reference == "" {
		reference = "N/A"
	}
	decidedAt := ""
	if payment.DecidedAt != nil {
		decidedAt = payment.DecidedAt.Format("02/01/2006 15:04")
	}
	plan := planLabels[payment.Plan]
	if plan == "" {
		plan = string(payment.Plan)
	}

	return export.Document{
		Title:    "Recibo de pagamento",
		Subtitle: "Nº " + payment.ID,
		Fields: []export.Field{
			{Label: "Escola:", Value: sub.SchoolName},
			{Label: "Plano:", Value: plan},
			{Label: "Valor Pago:", Value: fmt.Sprintf("%.2f Kz", payment.Amount)},
			{Label: "Data do Pagamento:", Value: payment.PaymentDate.Format("02/01/2006")},
			{Label: "Referência:", Value: reference},
			{Label: "Aprovado Por:", Value: s.approverName(ctx, payment.DecidedBy)},
			{Label: "Data de Aprovação:", Value: decidedAt},
			{Label: "Nova Data de Expiração:", Value: sub.ExpirationDate.Format("02/01/2006")},
		},
		Paragraphs: []string{
			"Este recibo confirma o pagamento e renovação da subscrição do SIGA.",
			"Gerado em: " + s.now().Format("02/01/2006 às 15:04"),
		},
		Footer: "SIGA - Sistema Integral de Gestão Académica",
	}
}

func (s *ReceiptService) approverName(ctx context.Context, id *string) string {
	if id == nil {
		return "N/A"
	}
	if s.users == nil {
		return *id
	}
	user, err := s.users.FindByID(ctx, *id)
	if err != nil {
		return *id
	}
	if user.FullName != "" {
		return user.FullName
	}
	return user.Username
}
