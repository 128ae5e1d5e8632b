package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/siga-api/internal/models"
)

const metricsNamespace = "siga"

// timing accumulates a count and total duration for averages in the snapshot.
type timing struct {
	count atomic.Uint64
	nanos atomic.Uint64
}

func (t *timing) add(d time.Duration) {
	t.count.Add(1)
	if d > 0 {
		t.nanos.Add(uint64(d))
	}
}

// averageMs returns the mean duration in milliseconds, zero when empty.
func (t *timing) averageMs() (uint64, float64) {
	n := t.count.Load()
	if n == 0 {
		return 0, 0
	}
	return n, float64(t.nanos.Load()) / float64(n) / float64(time.Millisecond)
}

// MetricsService owns a private Prometheus registry. The Prometheus side is
// for scraping; the atomics back the JSON snapshot admins read from the API.
type MetricsService struct {
	handler http.Handler

	httpDuration *prometheus.HistogramVec
	httpTotal    *prometheus.CounterVec
	cacheLookups *prometheus.HistogramVec
	cacheWrites  prometheus.Histogram
	cacheRatio   prometheus.Gauge
	dbDuration   *prometheus.HistogramVec

	approvalRuns         prometheus.Counter
	applicationsApproved prometheus.Counter
	paymentsDecided      *prometheus.CounterVec
	receiptFailures      prometheus.Counter

	requests timing
	queries  timing

	hits, misses   atomic.Uint64
	runs, approved atomic.Uint64
	paid, rejected atomic.Uint64
	receiptsFailed atomic.Uint64
}

// NewMetricsService registers the HTTP, cache, database and admissions
// collectors plus the Go runtime collector.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	f := promauto.With(registry)

	labels := []string{"method", "route", "status"}
	return &MetricsService{
		handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),

		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "http", Name: "request_duration_seconds",
			Help: "HTTP request latency by route.", Buckets: prometheus.DefBuckets,
		}, labels),
		httpTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status.",
		}, labels),
		cacheLookups: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "cache", Name: "lookup_seconds",
			Help: "Course summary cache lookups by result.", Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10),
		}, []string{"result"}),
		cacheWrites: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "cache", Name: "write_seconds",
			Help: "Course summary cache writes.", Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10),
		}),
		cacheRatio: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: "cache", Name: "hit_ratio",
			Help: "Share of cache lookups served from the cache since start.",
		}),
		dbDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "db", Name: "operation_seconds",
			Help: "Latency of instrumented database operations.", Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		approvalRuns: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "approval_runs_total",
			Help: "Course ranking runs.",
		}),
		applicationsApproved: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "applications_approved_total",
			Help: "Applications approved across ranking runs.",
		}),
		paymentsDecided: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "subscription_payments_decided_total",
			Help: "Subscription payments approved or rejected.",
		}, []string{"status"}),
		receiptFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "receipt_failures_total",
			Help: "Payment receipts abandoned after retries.",
		}),
	}
}

// Handler exposes the Prometheus scrape handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records one routed request.
func (m *MetricsService) ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.httpDuration.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
	m.httpTotal.WithLabelValues(method, route, code).Inc()
	m.requests.add(elapsed)
}

// RecordCacheOperation records a cache lookup and refreshes the hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
		m.hits.Add(1)
	} else {
		m.misses.Add(1)
	}
	m.cacheLookups.WithLabelValues(result).Observe(elapsed.Seconds())
	m.cacheRatio.Set(m.hitRatio())
}

func (m *MetricsService) hitRatio() float64 {
	hits, misses := m.hits.Load(), m.misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// ObserveCacheWrite records a cache write.
func (m *MetricsService) ObserveCacheWrite(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrites.Observe(elapsed.Seconds())
}

// ObserveDBQuery records an instrumented database operation.
func (m *MetricsService) ObserveDBQuery(operation string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.dbDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
	m.queries.add(elapsed)
}

// RecordApprovalRun counts a ranking run and the applications it approved.
func (m *MetricsService) RecordApprovalRun(approved int) {
	if m == nil {
		return
	}
	m.approvalRuns.Inc()
	m.runs.Add(1)
	if approved > 0 {
		m.applicationsApproved.Add(float64(approved))
		m.approved.Add(uint64(approved))
	}
}

// RecordPaymentDecision counts an approved or rejected subscription payment.
func (m *MetricsService) RecordPaymentDecision(status models.PaymentStatus) {
	if m == nil {
		return
	}
	m.paymentsDecided.WithLabelValues(string(status)).Inc()
	switch status {
	case models.PaymentApproved:
		m.paid.Add(1)
	case models.PaymentRejected:
		m.rejected.Add(1)
	}
}

// RecordReceiptFailure counts a receipt job that gave up.
func (m *MetricsService) RecordReceiptFailure() {
	if m == nil {
		return
	}
	m.receiptFailures.Inc()
	m.receiptsFailed.Add(1)
}

// Snapshot returns the counters as served by GET /system/metrics.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	requests, avgRequest := m.requests.averageMs()
	queries, avgQuery := m.queries.averageMs()
	return models.SystemMetrics{
		CacheHitRatio:            m.hitRatio(),
		CacheHits:                m.hits.Load(),
		CacheMisses:              m.misses.Load(),
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequest,
		DBQueryCount:             queries,
		AverageDBQueryDurationMs: avgQuery,
		ApprovalRuns:             m.runs.Load(),
		ApplicationsApproved:     m.approved.Load(),
		PaymentsApproved:         m.paid.Load(),
		PaymentsRejected:         m.rejected.Load(),
		ReceiptFailures:          m.receiptsFailed.Load(),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
