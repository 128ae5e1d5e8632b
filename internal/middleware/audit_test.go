package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/siga-api/internal/models"
)

type auditRecorder struct {
	entries []*models.AuditLog
	err     error
	ctxErr  error
}

func (r *auditRecorder) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	r.ctxErr = ctx.Err()
	r.entries = append(r.entries, log)
	return r.err
}

func auditRouter(rec *auditRecorder, status int, target string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
		c.Next()
	})
	handle := func(c *gin.Context) {
		SetAuditTarget(c, target)
		c.Status(status)
	}
	r.POST("/courses", Audit(rec, models.AuditActionCourseChange, "course"), handle)
	r.PUT("/courses/:id", Audit(rec, models.AuditActionCourseChange, "course"), handle)
	return r
}

func TestAuditRecordsCreatedResource(t *testing.T) {
	rec := &auditRecorder{}
	r := auditRouter(rec, http.StatusCreated, "course-9")

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/courses", nil))

	require.Len(t, rec.entries, 1)
	entry := rec.entries[0]
	require.NotNil(t, entry.ResourceID)
	assert.Equal(t, "course-9", *entry.ResourceID)
	require.NotNil(t, entry.UserID)
	assert.Equal(t, "admin-1", *entry.UserID)
	assert.NoError(t, rec.ctxErr)

	var details map[string]interface{}
	require.NoError(t, json.Unmarshal(entry.NewValues, &details))
	assert.Equal(t, "/courses", details["route"])
	assert.EqualValues(t, http.StatusCreated, details["status"])
}

func TestAuditUsesPathIDAndSkipsFailures(t *testing.T) {
	rec := &auditRecorder{}
	r := auditRouter(rec, http.StatusOK, "")
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/courses/c1", nil))
	require.Len(t, rec.entries, 1)
	assert.Equal(t, "c1", *rec.entries[0].ResourceID)

	rec = &auditRecorder{}
	r = auditRouter(rec, http.StatusConflict, "")
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/courses/c1", nil))
	assert.Empty(t, rec.entries)
}

func TestAuditWriteFailureDoesNotChangeResponse(t *testing.T) {
	rec := &auditRecorder{err: errors.New("db down")}
	r := auditRouter(rec, http.StatusOK, "")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/courses/c1", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, rec.entries, 1)
}
