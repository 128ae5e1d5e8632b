package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/siga-api/internal/models"
	"github.com/noah-isme/siga-api/internal/service"
	appErrors "github.com/noah-isme/siga-api/pkg/errors"
)

type userServiceMock struct {
	registered models.RegisterRequest
	meta       models.LoginRequest
	assigned   service.AssignRoleRequest
	actorID    string
	filter     models.UserFilter
}

func (m *userServiceMock) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	m.filter = filter
	return []models.User{}, &models.Pagination{}, nil
}

func (m *userServiceMock) CountPending(ctx context.Context) (int, error) {
	return 3, nil
}

func (m *userServiceMock) Get(ctx context.Context, id string) (*models.User, error) {
	return &models.User{ID: id}, nil
}

func (m *userServiceMock) Register(ctx context.Context, req models.RegisterRequest, meta models.LoginRequest) (*models.User, error) {
	m.registered, m.meta = req, meta
	if req.Username == "taken" {
		return nil, appErrors.Clone(appErrors.ErrDuplicate, "username is already in use by another user")
	}
	return &models.User{ID: "u1", Username: req.Username, Role: models.RolePending}, nil
}

func (m *userServiceMock) Create(ctx context.Context, req service.CreateUserRequest, actorID string, meta models.LoginRequest) (*models.User, error) {
	return &models.User{ID: "u2"}, nil
}

func (m *userServiceMock) AssignRole(ctx context.Context, id string, req service.AssignRoleRequest, actorID string, meta models.LoginRequest) (*models.User, error) {
	m.assigned, m.actorID = req, actorID
	return &models.User{ID: id, Role: req.Role}, nil
}

func (m *userServiceMock) Update(ctx context.Context, id string, req service.UpdateUserRequest, actorID string, meta models.LoginRequest) (*models.User, error) {
	return &models.User{ID: id}, nil
}

func (m *userServiceMock) Delete(ctx context.Context, id string, actorID string, meta models.LoginRequest) error {
	return nil
}

func TestUserHandlerRegister(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &userServiceMock{}
	h := NewUserHandler(mock)

	c, w := newGinContext(http.MethodPost, "/auth/register", []byte(`{"username":"maria","email":"maria@escola.ao","full_name":"Maria","password":"segredo123"}`))
	c.Request.Header.Set("User-Agent", "test-agent")
	h.Register(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "maria", mock.registered.Username)
	assert.Equal(t, "test-agent", mock.meta.UserAgent)
	assert.Contains(t, w.Body.String(), string(models.RolePending))

	c, w = newGinContext(http.MethodPost, "/auth/register", []byte(`{"username":"taken"}`))
	h.Register(c)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestUserHandlerAssignRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &userServiceMock{}
	h := NewUserHandler(mock)

	c, w := newGinContext(http.MethodPut, "/users/u1/role", []byte(`{"role":"SECRETARY"}`))
	c.Params = gin.Params{{Key: "id", Value: "u1"}}
	withClaims(c, "admin-1", models.RoleAdmin)
	h.AssignRole(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.RoleSecretary, mock.assigned.Role)
	assert.Equal(t, "admin-1", mock.actorID)
}

func TestUserHandlerPendingCountAndFilters(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &userServiceMock{}
	h := NewUserHandler(mock)

	c, w := newGinContext(http.MethodGet, "/users/pending/count", nil)
	h.PendingCount(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"pending":3}}`, w.Body.String())

	c, w = newGinContext(http.MethodGet, "/users?role=PENDING&active=true", nil)
	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, mock.filter.Role)
	assert.Equal(t, models.RolePending, *mock.filter.Role)
	require.NotNil(t, mock.filter.Active)
	assert.True(t, *mock.filter.Active)
}
