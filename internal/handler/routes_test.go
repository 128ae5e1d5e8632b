package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/siga-api/internal/models"
	appErrors "github.com/noah-isme/siga-api/pkg/errors"
)

type staticTokens map[string]*models.JWTClaims

func (s staticTokens) ValidateToken(token string) (*models.JWTClaims, error) {
	claims, ok := s[token]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return claims, nil
}

type auditSink struct {
	entries []*models.AuditLog
}

func (a *auditSink) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.entries = append(a.entries, log)
	return nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *auditSink) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	sink := &auditSink{}
	tokens := staticTokens{
		"secretary": {UserID: "sec-1", Role: models.RoleSecretary},
		"teacher":   {UserID: "tea-1", Role: models.RoleTeacher},
		"root":      {UserID: "root-1", Role: models.RoleSuperAdmin},
	}
	RegisterRoutes(router.Group("/api/v1"), Handlers{
		Users:         NewUserHandler(&userServiceMock{}),
		Applications:  NewApplicationHandler(&applicationServiceMock{}),
		Approvals:     NewApprovalHandler(&approvalServiceMock{}),
		Exports:       NewExportHandler(&exportServiceMock{}),
		Subscriptions: NewSubscriptionHandler(&subscriptionServiceMock{}),
	}, tokens, sink)
	return router, sink
}

func serve(router *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRoutesPublicLookupNeedsNoToken(t *testing.T) {
	router, _ := newTestRouter(t)

	w := serve(router, http.MethodGet, "/api/v1/applications/number/INS-000001", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoutesSecuredRequireToken(t *testing.T) {
	router, _ := newTestRouter(t)

	w := serve(router, http.MethodGet, "/api/v1/applications", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(router, http.MethodGet, "/api/v1/applications", "forged", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(router, http.MethodGet, "/api/v1/applications", "secretary", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoutesEnforceRoles(t *testing.T) {
	router, _ := newTestRouter(t)

	w := serve(router, http.MethodGet, "/api/v1/applications", "teacher", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serve(router, http.MethodPost, "/api/v1/payments/p1/approve", "secretary", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serve(router, http.MethodPost, "/api/v1/payments/p1/approve", "root", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoutesAuditScoreEntry(t *testing.T) {
	router, sink := newTestRouter(t)

	w := serve(router, http.MethodPut, "/api/v1/applications/a1/score", "secretary", `{"score":12}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, sink.entries, 1)
	entry := sink.entries[0]
	assert.Equal(t, models.AuditActionScoreRecord, entry.Action)
	assert.Equal(t, "application", entry.Resource)
	require.NotNil(t, entry.ResourceID)
	assert.Equal(t, "a1", *entry.ResourceID)
	require.NotNil(t, entry.UserID)
	assert.Equal(t, "sec-1", *entry.UserID)
}
