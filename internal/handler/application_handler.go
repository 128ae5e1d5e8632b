package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/siga-api/internal/models"
	"github.com/noah-isme/siga-api/internal/service"
	"github.com/noah-isme/siga-api/pkg/response"
)

type applicationService interface {
	Submit(ctx context.Context, req service.SubmitApplicationRequest) (*service.ApplicationSubmission, error)
	Get(ctx context.Context, id string) (*models.ApplicationDetail, error)
	GetByNumber(ctx context.Context, number string) (*models.ApplicationDetail, error)
	List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, *models.Pagination, error)
	RecordScore(ctx context.Context, id string, score *float64) (*models.ApplicationDetail, error)
	RecordAcademicHistory(ctx context.Context, id string, req service.AcademicHistoryRequest) (*models.AcademicHistory, error)
	CheckEligibility(ctx context.Context, id string) (*models.Eligibility, error)
}

// ApplicationHandler exposes the enrollment form and its staff follow-up.
type ApplicationHandler struct {
	applications applicationService
}

// NewApplicationHandler constructs ApplicationHandler.
func NewApplicationHandler(applications applicationService) *ApplicationHandler {
	return &ApplicationHandler{applications: applications}
}

// Submit godoc
// @Summary Submit application
// @Description Public enrollment form. Returns the INS number and, for courses with prerequisites, the eligibility outcome.
// @Tags Applications
// @Accept json
// @Produce json
// @Param payload body service.SubmitApplicationRequest true "Application"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /applications [post]
func (h *ApplicationHandler) Submit(c *gin.Context) {
	var req service.SubmitApplicationRequest
	if !bindJSON(c, &req) {
		return
	}
	submission, err := h.applications.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, submission)
}

// Lookup godoc
// @Summary Application status
// @Description Public lookup of an application by its INS number
// @Tags Applications
// @Produce json
// @Param number path string true "Application number"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /applications/number/{number} [get]
func (h *ApplicationHandler) Lookup(c *gin.Context) {
	app, err := h.applications.GetByNumber(c.Request.Context(), strings.ToUpper(strings.TrimSpace(c.Param("number"))))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// List godoc
// @Summary List applications
// @Tags Applications
// @Produce json
// @Param course_id query string false "Course"
// @Param approved query bool false "Approval state"
// @Param has_score query bool false "Only applications with or without a test score"
// @Param search query string false "Search by name, number or ID card"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /applications [get]
func (h *ApplicationHandler) List(c *gin.Context) {
	var filter models.ApplicationFilter
	filter.CourseID = c.Query("course_id")
	filter.Approved = queryBool(c, "approved")
	filter.HasScore = queryBool(c, "has_score")
	filter.Search = strings.TrimSpace(c.Query("search"))
	filter.Page, filter.PageSize = pageParams(c)
	filter.SortBy = c.Query("sort_by")
	filter.SortOrder = c.Query("sort_order")

	apps, pagination, err := h.applications.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, apps, pagination)
}

// Get godoc
// @Summary Get application
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /applications/{id} [get]
func (h *ApplicationHandler) Get(c *gin.Context) {
	app, err := h.applications.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// RecordScore godoc
// @Summary Record test score
// @Description Set or clear the admission test score (0 to 20)
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body map[string]float64 true "Score"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /applications/{id}/score [put]
func (h *ApplicationHandler) RecordScore(c *gin.Context) {
	var payload struct {
		Score *float64 `json:"score"`
	}
	if !bindJSON(c, &payload) {
		return
	}
	app, err := h.applications.RecordScore(c.Request.Context(), c.Param("id"), payload.Score)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// RecordAcademicHistory godoc
// @Summary Record academic history
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body service.AcademicHistoryRequest true "Grades"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/academic-history [put]
func (h *ApplicationHandler) RecordAcademicHistory(c *gin.Context) {
	var req service.AcademicHistoryRequest
	if !bindJSON(c, &req) {
		return
	}
	history, err := h.applications.RecordAcademicHistory(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}

// Eligibility godoc
// @Summary Check prerequisites
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/eligibility [get]
func (h *ApplicationHandler) Eligibility(c *gin.Context) {
	result, err := h.applications.CheckEligibility(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
