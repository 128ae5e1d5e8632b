package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/siga-api/internal/models"
	"github.com/noah-isme/siga-api/pkg/export"
	"github.com/noah-isme/siga-api/pkg/jobs"
	"github.com/noah-isme/siga-api/pkg/storage"
)

type countingReceiptFailures struct {
	count int
}

func (c *countingReceiptFailures) RecordReceiptFailure() {
	c.count++
}

func TestReceiptServiceGenerate(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	repo := newMemorySubscriptionRepo()
	decided := time.Date(2025, 6, 10, 9, 30, 0, 0, time.UTC)
	approver := "admin-1"
	repo.subs["s1"] = &models.Subscription{ID: "s1", SchoolName: "Escola Central", ExpirationDate: day(2026, 6, 10)}
	repo.payments["p1"] = &models.SubscriptionPayment{
		ID: "p1", SubscriptionID: "s1", Plan: models.PlanAnnual, Amount: 120000,
		PaymentDate: day(2025, 6, 9), Status: models.PaymentApproved, DecidedBy: &approver, DecidedAt: &decided,
	}

	svc := NewReceiptService(repo, nil, export.NewPDFExporter(), store, nil, zap.NewNop())
	svc.now = func() time.Time { return decided }

	require.NoError(t, svc.HandleJob(context.Background(), jobs.Job{ID: "p1", Type: jobs.TypePaymentReceipt, Payload: ReceiptJobPayload{PaymentID: "p1"}}))
	path := repo.receipts["p1"]
	assert.Equal(t, "recibo_pagamento_p1_20250610_093000.pdf", path)
	assert.True(t, store.Exists(path))
}

func TestReceiptServiceRefusesPendingPayment(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	repo := newMemorySubscriptionRepo()
	repo.subs["s1"] = &models.Subscription{ID: "s1"}
	repo.payments["p1"] = &models.SubscriptionPayment{ID: "p1", SubscriptionID: "s1", Status: models.PaymentPending}

	svc := NewReceiptService(repo, nil, nil, store, nil, zap.NewNop())
	_, err = svc.Generate(context.Background(), "p1")
	require.Error(t, err)
	assert.Empty(t, repo.receipts)
}

func TestReceiptServiceRejectsUnknownPayload(t *testing.T) {
	svc := NewReceiptService(newMemorySubscriptionRepo(), nil, nil, nil, nil, zap.NewNop())
	err := svc.HandleJob(context.Background(), jobs.Job{Payload: "p1"})
	require.Error(t, err)
}

func TestReceiptServiceOnGiveUpRecordsFailure(t *testing.T) {
	failures := &countingReceiptFailures{}
	svc := NewReceiptService(newMemorySubscriptionRepo(), nil, nil, nil, failures, zap.NewNop())

	svc.OnGiveUp(context.Background(), jobs.Job{ID: "p1"}, errors.New("disk full"))
	assert.Equal(t, 1, failures.count)
}
