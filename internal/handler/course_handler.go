package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/siga-api/internal/middleware"
	"github.com/noah-isme/siga-api/internal/models"
	"github.com/noah-isme/siga-api/internal/service"
	"github.com/noah-isme/siga-api/pkg/response"
)

type courseService interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.CourseSummary, *models.Pagination, error)
	Summary(ctx context.Context, id string) (*models.CourseSummary, bool, error)
	AvailableSeats(ctx context.Context, id string) (int, error)
	Create(ctx context.Context, req service.CourseRequest) (*models.Course, error)
	Update(ctx context.Context, id string, req service.CourseRequest) (*models.Course, error)
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
	ListSubjects(ctx context.Context, courseID string) ([]models.Subject, error)
	CreateSubject(ctx context.Context, courseID string, req service.SubjectRequest) (*models.Subject, error)
	ListPrerequisites(ctx context.Context, courseID string) ([]models.PrerequisiteRule, error)
	AddPrerequisite(ctx context.Context, courseID string, req service.PrerequisiteRequest) (*models.PrerequisiteRule, error)
	RemovePrerequisite(ctx context.Context, courseID, ruleID string) error
}

// CourseHandler exposes course, subject and prerequisite endpoints.
type CourseHandler struct {
	courses courseService
}

// NewCourseHandler constructs CourseHandler.
func NewCourseHandler(courses courseService) *CourseHandler {
	return &CourseHandler{courses: courses}
}

// List godoc
// @Summary List courses
// @Description Courses with their approved count and available seats
// @Tags Courses
// @Produce json
// @Param active query bool false "Filter by active state"
// @Param search query string false "Search by name or code"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /courses [get]
func (h *CourseHandler) List(c *gin.Context) {
	var filter models.CourseFilter
	filter.Active = queryBool(c, "active")
	filter.Search = strings.TrimSpace(c.Query("search"))
	filter.Page, filter.PageSize = pageParams(c)
	filter.SortBy = c.Query("sort_by")
	filter.SortOrder = c.Query("sort_order")

	courses, pagination, err := h.courses.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, courses, pagination)
}

// Get godoc
// @Summary Get course
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id} [get]
func (h *CourseHandler) Get(c *gin.Context) {
	course, cacheHit, err := h.courses.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, course, nil, middleware.ExtractMeta(c))
}

// AvailableSeats godoc
// @Summary Available seats
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/seats [get]
func (h *CourseHandler) AvailableSeats(c *gin.Context) {
	seats, err := h.courses.AvailableSeats(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"available_seats": seats}, nil)
}

// Create godoc
// @Summary Create course
// @Tags Courses
// @Accept json
// @Produce json
// @Param payload body service.CourseRequest true "Course"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses [post]
func (h *CourseHandler) Create(c *gin.Context) {
	var req service.CourseRequest
	if !bindJSON(c, &req) {
		return
	}
	course, err := h.courses.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetAuditTarget(c, course.ID)
	response.Created(c, course)
}

// Update godoc
// @Summary Update course
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body service.CourseRequest true "Course"
// @Success 200 {object} response.Envelope
// @Router /courses/{id} [put]
func (h *CourseHandler) Update(c *gin.Context) {
	var req service.CourseRequest
	if !bindJSON(c, &req) {
		return
	}
	course, err := h.courses.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// SetActive godoc
// @Summary Toggle course availability
// @Tags Courses
// @Accept json
// @Param id path string true "Course ID"
// @Param payload body map[string]bool true "Active flag"
// @Success 204 {object} response.Envelope
// @Router /courses/{id}/active [patch]
func (h *CourseHandler) SetActive(c *gin.Context) {
	var payload struct {
		Active *bool `json:"active" binding:"required"`
	}
	if !bindJSON(c, &payload) {
		return
	}
	if err := h.courses.SetActive(c.Request.Context(), c.Param("id"), *payload.Active); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Delete godoc
// @Summary Delete course
// @Tags Courses
// @Param id path string true "Course ID"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses/{id} [delete]
func (h *CourseHandler) Delete(c *gin.Context) {
	if err := h.courses.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListSubjects godoc
// @Summary List course subjects
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/subjects [get]
func (h *CourseHandler) ListSubjects(c *gin.Context) {
	subjects, err := h.courses.ListSubjects(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, subjects, nil)
}

// CreateSubject godoc
// @Summary Add subject to course
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body service.SubjectRequest true "Subject"
// @Success 201 {object} response.Envelope
// @Router /courses/{id}/subjects [post]
func (h *CourseHandler) CreateSubject(c *gin.Context) {
	var req service.SubjectRequest
	if !bindJSON(c, &req) {
		return
	}
	subject, err := h.courses.CreateSubject(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, subject)
}

// ListPrerequisites godoc
// @Summary List prerequisite rules
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/prerequisites [get]
func (h *CourseHandler) ListPrerequisites(c *gin.Context) {
	rules, err := h.courses.ListPrerequisites(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rules, nil)
}

// AddPrerequisite godoc
// @Summary Add prerequisite rule
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body service.PrerequisiteRequest true "Rule"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses/{id}/prerequisites [post]
func (h *CourseHandler) AddPrerequisite(c *gin.Context) {
	var req service.PrerequisiteRequest
	if !bindJSON(c, &req) {
		return
	}
	rule, err := h.courses.AddPrerequisite(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rule)
}

// RemovePrerequisite godoc
// @Summary Remove prerequisite rule
// @Tags Courses
// @Param id path string true "Course ID"
// @Param ruleId path string true "Rule ID"
// @Success 204 {object} response.Envelope
// @Router /courses/{id}/prerequisites/{ruleId} [delete]
func (h *CourseHandler) RemovePrerequisite(c *gin.Context) {
	if err := h.courses.RemovePrerequisite(c.Request.Context(), c.Param("id"), c.Param("ruleId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
