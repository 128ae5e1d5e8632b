package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/siga-api/internal/service"
)

// unmatchedRoute labels requests gin could not route, keeping the path label bounded.
const unmatchedRoute = "unmatched"

// Metrics observes every routed request except the scrape and probe endpoints.
func Metrics(metricsSvc *service.MetricsService, skip ...string) gin.HandlerFunc {
	skipped := map[string]struct{}{"/metrics": {}, "/health": {}, "/ready": {}}
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		if _, ok := skipped[route]; ok {
			return
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
