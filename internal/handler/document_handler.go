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

type documentService interface {
	Variables() []service.DocumentVariable
	List(ctx context.Context, filter models.DocumentFilter) ([]models.DocumentTemplate, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.DocumentTemplate, error)
	Create(ctx context.Context, req service.DocumentRequest, createdBy string) (*models.DocumentTemplate, error)
	Update(ctx context.Context, id string, req service.DocumentRequest) (*models.DocumentTemplate, error)
	Delete(ctx context.Context, id string) error
	Render(ctx context.Context, id string, req service.RenderRequest) (*models.RenderedDocument, error)
	RenderPDF(ctx context.Context, id string, req service.RenderRequest) ([]byte, error)
	ConfirmationPDF(ctx context.Context, number string) ([]byte, string, error)
}

// DocumentHandler manages document templates and their rendering.
type DocumentHandler struct {
	documents documentService
}

// NewDocumentHandler constructs DocumentHandler.
func NewDocumentHandler(documents documentService) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

// Variables godoc
// @Summary Template variables
// @Description Catalogue of placeholders accepted in document bodies
// @Tags Documents
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /documents/variables [get]
func (h *DocumentHandler) Variables(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.documents.Variables(), nil)
}

// List godoc
// @Summary List templates
// @Tags Documents
// @Produce json
// @Param section query string false "Section"
// @Param active query bool false "Active"
// @Param search query string false "Search by title"
// @Success 200 {object} response.Envelope
// @Router /documents [get]
func (h *DocumentHandler) List(c *gin.Context) {
	var filter models.DocumentFilter
	filter.Section = models.DocumentSection(c.Query("section"))
	filter.Active = queryBool(c, "active")
	filter.Search = strings.TrimSpace(c.Query("search"))
	filter.Page, filter.PageSize = pageParams(c)

	docs, pagination, err := h.documents.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, docs, pagination)
}

// Get godoc
// @Summary Get template
// @Tags Documents
// @Produce json
// @Param id path string true "Template ID"
// @Success 200 {object} response.Envelope
// @Router /documents/{id} [get]
func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.documents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// Create godoc
// @Summary Create template
// @Tags Documents
// @Accept json
// @Produce json
// @Param payload body service.DocumentRequest true "Template"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /documents [post]
func (h *DocumentHandler) Create(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req service.DocumentRequest
	if !bindJSON(c, &req) {
		return
	}
	doc, err := h.documents.Create(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetAuditTarget(c, doc.ID)
	response.Created(c, doc)
}

// Update godoc
// @Summary Update template
// @Tags Documents
// @Accept json
// @Produce json
// @Param id path string true "Template ID"
// @Param payload body service.DocumentRequest true "Template"
// @Success 200 {object} response.Envelope
// @Router /documents/{id} [put]
func (h *DocumentHandler) Update(c *gin.Context) {
	var req service.DocumentRequest
	if !bindJSON(c, &req) {
		return
	}
	doc, err := h.documents.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// Delete godoc
// @Summary Delete template
// @Tags Documents
// @Param id path string true "Template ID"
// @Success 204 {object} response.Envelope
// @Router /documents/{id} [delete]
func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.documents.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Render godoc
// @Summary Render template
// @Description Substitute variables from an application and explicit overrides. Pass format=pdf for a PDF file.
// @Tags Documents
// @Accept json
// @Produce json
// @Param id path string true "Template ID"
// @Param format query string false "json or pdf"
// @Param payload body service.RenderRequest true "Render input"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /documents/{id}/render [post]
func (h *DocumentHandler) Render(c *gin.Context) {
	var req service.RenderRequest
	if !bindJSON(c, &req) {
		return
	}
	if strings.EqualFold(c.Query("format"), "pdf") {
		data, err := h.documents.RenderPDF(c.Request.Context(), c.Param("id"), req)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Attachment(c, "application/pdf", "documento_"+c.Param("id")+".pdf", data)
		return
	}
	doc, err := h.documents.Render(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// Confirmation godoc
// @Summary Application confirmation PDF
// @Description Public proof of registration for an INS number
// @Tags Documents
// @Produce application/pdf
// @Param number path string true "Application number"
// @Success 200 {file} file
// @Failure 404 {object} response.Envelope
// @Router /applications/number/{number}/confirmation [get]
func (h *DocumentHandler) Confirmation(c *gin.Context) {
	number := strings.ToUpper(strings.TrimSpace(c.Param("number")))
	data, filename, err := h.documents.ConfirmationPDF(c.Request.Context(), number)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, "application/pdf", filename, data)
}
