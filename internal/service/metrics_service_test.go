package service

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/siga-api/internal/models"
)

func TestMetricsServiceDomainCounters(t *testing.T) {
	m := NewMetricsService()

	m.RecordApprovalRun(3)
	m.RecordApprovalRun(0)
	m.RecordPaymentDecision(models.PaymentApproved)
	m.RecordPaymentDecision(models.PaymentRejected)
	m.RecordPaymentDecision(models.PaymentApproved)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.approvalRuns))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.applicationsApproved))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.paymentsDecided.WithLabelValues("APPROVED")))

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.ApprovalRuns)
	assert.Equal(t, uint64(3), snap.ApplicationsApproved)
	assert.Equal(t, uint64(2), snap.PaymentsApproved)
	assert.Equal(t, uint64(1), snap.PaymentsRejected)

	m.RecordReceiptFailure()
	assert.Equal(t, uint64(1), m.Snapshot().ReceiptFailures)
}

func TestMetricsServiceCacheRatioAndHandler(t *testing.T) {
	m := NewMetricsService()
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)
	m.ObserveHTTPRequest("GET", "/api/v1/courses", 200, 5*time.Millisecond)

	snap := m.Snapshot()
	assert.InDelta(t, 0.5, snap.CacheHitRatio, 0.0001)
	assert.Equal(t, uint64(1), snap.RequestsTotal)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "approval_runs_total")
}

func TestNilMetricsServiceIsSafe(t *testing.T) {
	var m *MetricsService
	m.RecordApprovalRun(1)
	m.RecordPaymentDecision(models.PaymentApproved)
	assert.Equal(t, models.SystemMetrics{}, m.Snapshot())
}
