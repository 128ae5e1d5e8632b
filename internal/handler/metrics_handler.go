package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/siga-api/internal/service"
	"github.com/noah-isme/siga-api/pkg/response"
)

// ReadinessProbe reports whether a dependency can serve traffic. Required
// probes fail readiness; optional ones (the cache) are only reported.
type ReadinessProbe struct {
	Name     string
	Required bool
	Check    func(ctx context.Context) (string, error)
}

// MetricsHandler serves the liveness, readiness and metrics endpoints.
type MetricsHandler struct {
	metrics *service.MetricsService
	probes  []ReadinessProbe
	started time.Time
}

// NewMetricsHandler constructs a metrics handler.
func NewMetricsHandler(metrics *service.MetricsService, probes ...ReadinessProbe) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, probes: probes, started: time.Now()}
}

// Prometheus serves the Prometheus scrape endpoint.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health is the liveness probe.
func (h *MetricsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "uptime_seconds": int64(time.Since(h.started).Seconds())})
}

// Ready runs every probe with a shared two second budget.
func (h *MetricsHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status, code := "ready", http.StatusOK
	checks := make(gin.H, len(h.probes))
	for _, p := range h.probes {
		state, err := p.Check(ctx)
		if err != nil {
			state = "unavailable"
			if p.Required {
				status, code = "unavailable", http.StatusServiceUnavailable
			}
		}
		checks[p.Name] = state
	}
	c.JSON(code, gin.H{"status": status, "checks": checks})
}

// Snapshot godoc
// @Summary Runtime metrics snapshot
// @Tags System
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /system/metrics [get]
func (h *MetricsHandler) Snapshot(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	response.JSON(c, http.StatusOK, h.metrics.Snapshot(), nil)
}
