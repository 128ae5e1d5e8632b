package middleware

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/siga-api/internal/models"
	"github.com/noah-isme/siga-api/pkg/middleware/requestid"
)

const (
	auditTargetKey = "auditTarget"
	auditTimeout   = 3 * time.Second
)

// AuditWriter persists audit entries.
type AuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// SetAuditTarget names the resource a handler created, for routes with no
// :id parameter.
func SetAuditTarget(c *gin.Context, id string) {
	if id != "" {
		c.Set(auditTargetKey, id)
	}
}

func auditTarget(c *gin.Context) *string {
	if id := c.GetString(auditTargetKey); id != "" {
		return &id
	}
	if id := c.Param("id"); id != "" {
		return &id
	}
	return nil
}

// Audit records an audit entry once the wrapped handler succeeds. The write
// outlives the request context so a client hanging up after the change was
// committed still leaves a trail; failures are attached to the gin context
// for the request logger.
func Audit(repo AuditWriter, action, resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		if repo == nil || status >= 400 {
			return
		}

		entry := &models.AuditLog{
			Action:     action,
			Resource:   resource,
			ResourceID: auditTarget(c),
			IPAddress:  c.ClientIP(),
			UserAgent:  c.GetHeader("User-Agent"),
		}
		if claims := claimsOf(c); claims != nil {
			entry.UserID = &claims.UserID
		}
		entry.NewValues, _ = json.Marshal(map[string]interface{}{
			"route":      c.FullPath(),
			"method":     c.Request.Method,
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"request_id": requestid.Value(c),
		})

		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), auditTimeout)
		defer cancel()
		if err := repo.CreateAuditLog(ctx, entry); err != nil {
			_ = c.Error(err)
		}
	}
}
