package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/siga-api/internal/models"
	"github.com/noah-isme/siga-api/internal/service"
	appErrors "github.com/noah-isme/siga-api/pkg/errors"
)

type applicationServiceMock struct {
	submitted *service.SubmitApplicationRequest
	lookedUp  string
	scoredID  string
	score     *float64
	filter    models.ApplicationFilter
	submitErr error
}

func (m *applicationServiceMock) Submit(ctx context.Context, req service.SubmitApplicationRequest) (*service.ApplicationSubmission, error) {
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	m.submitted = &req
	return &service.ApplicationSubmission{Application: models.Application{ID: "a1", Number: "INS-000001", CourseID: req.CourseID}}, nil
}

func (m *applicationServiceMock) Get(ctx context.Context, id string) (*models.ApplicationDetail, error) {
	if id != "a1" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
	}
	return &models.ApplicationDetail{Application: models.Application{ID: id}}, nil
}

func (m *applicationServiceMock) GetByNumber(ctx context.Context, number string) (*models.ApplicationDetail, error) {
	m.lookedUp = number
	if number != "INS-000001" {
		return nil, appErrors.Wrap(sql.ErrNoRows, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "application not found")
	}
	return &models.ApplicationDetail{Application: models.Application{ID: "a1", Number: number}}, nil
}

func (m *applicationServiceMock) List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, *models.Pagination, error) {
	m.filter = filter
	return []models.ApplicationDetail{}, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize}, nil
}

func (m *applicationServiceMock) RecordScore(ctx context.Context, id string, score *float64) (*models.ApplicationDetail, error) {
	m.scoredID, m.score = id, score
	return &models.ApplicationDetail{Application: models.Application{ID: id, Score: score}}, nil
}

func (m *applicationServiceMock) RecordAcademicHistory(ctx context.Context, id string, req service.AcademicHistoryRequest) (*models.AcademicHistory, error) {
	return &models.AcademicHistory{}, nil
}

func (m *applicationServiceMock) CheckEligibility(ctx context.Context, id string) (*models.Eligibility, error) {
	return &models.Eligibility{Eligible: true}, nil
}

func TestApplicationHandlerSubmit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &applicationServiceMock{}
	h := NewApplicationHandler(mock)

	payload, _ := json.Marshal(map[string]string{"course_id": "c1", "full_name": "Maria Silva"})
	c, w := newGinContext(http.MethodPost, "/applications", payload)
	h.Submit(c)

	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, mock.submitted)
	assert.Equal(t, "c1", mock.submitted.CourseID)
	assert.Contains(t, w.Body.String(), "INS-000001")
}

func TestApplicationHandlerSubmitRejectsMalformedBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewApplicationHandler(&applicationServiceMock{})

	c, w := newGinContext(http.MethodPost, "/applications", []byte("{"))
	h.Submit(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, appErrors.ErrValidation.Code, env.Error.Code)
}

func TestApplicationHandlerSubmitPropagatesDuplicate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewApplicationHandler(&applicationServiceMock{submitErr: appErrors.Clone(appErrors.ErrDuplicate, "id card already registered for this course")})

	payload, _ := json.Marshal(map[string]string{"course_id": "c1"})
	c, w := newGinContext(http.MethodPost, "/applications", payload)
	h.Submit(c)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestApplicationHandlerLookupNormalisesNumber(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &applicationServiceMock{}
	h := NewApplicationHandler(mock)

	c, w := newGinContext(http.MethodGet, "/applications/number/ins-000001", nil)
	c.Params = gin.Params{{Key: "number", Value: " ins-000001 "}}
	h.Lookup(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "INS-000001", mock.lookedUp)

	c, w = newGinContext(http.MethodGet, "/applications/number/INS-999999", nil)
	c.Params = gin.Params{{Key: "number", Value: "INS-999999"}}
	h.Lookup(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestApplicationHandlerListParsesFilters(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &applicationServiceMock{}
	h := NewApplicationHandler(mock)

	c, w := newGinContext(http.MethodGet, "/applications?course_id=c1&approved=true&has_score=false&page=2&page_size=5&search=+maria+", nil)
	withClaims(c, "u1", models.RoleSecretary)
	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c1", mock.filter.CourseID)
	require.NotNil(t, mock.filter.Approved)
	assert.True(t, *mock.filter.Approved)
	require.NotNil(t, mock.filter.HasScore)
	assert.False(t, *mock.filter.HasScore)
	assert.Equal(t, 2, mock.filter.Page)
	assert.Equal(t, 5, mock.filter.PageSize)
	assert.Equal(t, "maria", mock.filter.Search)
}

func TestApplicationHandlerRecordScore(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &applicationServiceMock{}
	h := NewApplicationHandler(mock)

	c, w := newGinContext(http.MethodPut, "/applications/a1/score", []byte(`{"score":14.5}`))
	c.Params = gin.Params{{Key: "id", Value: "a1"}}
	h.RecordScore(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a1", mock.scoredID)
	require.NotNil(t, mock.score)
	assert.Equal(t, 14.5, *mock.score)

	c, w = newGinContext(http.MethodPut, "/applications/a1/score", []byte(`{"score":null}`))
	c.Params = gin.Params{{Key: "id", Value: "a1"}}
	h.RecordScore(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, mock.score)
}
