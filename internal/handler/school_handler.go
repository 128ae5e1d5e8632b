package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/siga-api/internal/models"
	"github.com/noah-isme/siga-api/internal/service"
	"github.com/noah-isme/siga-api/pkg/response"
)

type academicYearService interface {
	List(ctx context.Context) ([]models.AcademicYear, error)
	Active(ctx context.Context) (*models.AcademicYear, error)
	Create(ctx context.Context, req service.CreateAcademicYearRequest) (*models.AcademicYear, error)
	SetActive(ctx context.Context, id string) (*models.AcademicYear, error)
	Delete(ctx context.Context, id string) error
}

type schoolConfigService interface {
	Get(ctx context.Context) (*models.SchoolConfiguration, error)
	Create(ctx context.Context, req service.SchoolConfigRequest, actorID string) (*models.SchoolConfiguration, error)
	Update(ctx context.Context, req service.SchoolConfigRequest, actorID string) (*models.SchoolConfiguration, error)
}

// SchoolHandler exposes academic years and the school configuration.
type SchoolHandler struct {
	years  academicYearService
	config schoolConfigService
}

// NewSchoolHandler constructs SchoolHandler.
func NewSchoolHandler(years academicYearService, config schoolConfigService) *SchoolHandler {
	return &SchoolHandler{years: years, config: config}
}

// ListYears godoc
// @Summary List academic years
// @Tags School
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /academic-years [get]
func (h *SchoolHandler) ListYears(c *gin.Context) {
	years, err := h.years.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, years, nil)
}

// ActiveYear godoc
// @Summary Active academic year
// @Tags School
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /academic-years/active [get]
func (h *SchoolHandler) ActiveYear(c *gin.Context) {
	year, err := h.years.Active(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, year, nil)
}

// CreateYear godoc
// @Summary Create academic year
// @Tags School
// @Accept json
// @Produce json
// @Param payload body service.CreateAcademicYearRequest true "Year"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /academic-years [post]
func (h *SchoolHandler) CreateYear(c *gin.Context) {
	var req service.CreateAcademicYearRequest
	if !bindJSON(c, &req) {
		return
	}
	year, err := h.years.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, year)
}

// ActivateYear godoc
// @Summary Mark academic year active
// @Description Deactivates every other year
// @Tags School
// @Produce json
// @Param id path string true "Academic year ID"
// @Success 200 {object} response.Envelope
// @Router /academic-years/{id}/activate [post]
func (h *SchoolHandler) ActivateYear(c *gin.Context) {
	year, err := h.years.SetActive(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, year, nil)
}

// DeleteYear godoc
// @Summary Delete academic year
// @Tags School
// @Param id path string true "Academic year ID"
// @Success 204 {object} response.Envelope
// @Router /academic-years/{id} [delete]
func (h *SchoolHandler) DeleteYear(c *gin.Context) {
	if err := h.years.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// GetConfig godoc
// @Summary School configuration
// @Tags School
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /school-config [get]
func (h *SchoolHandler) GetConfig(c *gin.Context) {
	cfg, err := h.config.Get(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cfg, nil)
}

// CreateConfig godoc
// @Summary Create school configuration
// @Description Only one configuration may exist
// @Tags School
// @Accept json
// @Produce json
// @Param payload body service.SchoolConfigRequest true "Configuration"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /school-config [post]
func (h *SchoolHandler) CreateConfig(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req service.SchoolConfigRequest
	if !bindJSON(c, &req) {
		return
	}
	cfg, err := h.config.Create(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, cfg)
}

// UpdateConfig godoc
// @Summary Update school configuration
// @Tags School
// @Accept json
// @Produce json
// @Param payload body service.SchoolConfigRequest true "Configuration"
// @Success 200 {object} response.Envelope
// @Router /school-config [put]
func (h *SchoolHandler) UpdateConfig(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req service.SchoolConfigRequest
	if !bindJSON(c, &req) {
		return
	}
	cfg, err := h.config.Update(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cfg, nil)
}
