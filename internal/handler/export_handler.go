package handler

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/siga-api/internal/models"
	"github.com/noah-isme/siga-api/pkg/response"
)

type exportService interface {
	ExportRanking(ctx context.Context, courseID string, format models.ExportFormat) (*models.FileLink, error)
	Open(token string) (*os.File, string, error)
}

// ExportHandler renders ranking results and serves the signed downloads.
type ExportHandler struct {
	exports exportService
}

// NewExportHandler constructs ExportHandler.
func NewExportHandler(exports exportService) *ExportHandler {
	return &ExportHandler{exports: exports}
}

// ExportRanking godoc
// @Summary Export ranking results
// @Tags Exports
// @Produce json
// @Param id path string true "Course ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /courses/{id}/results/export [post]
func (h *ExportHandler) ExportRanking(c *gin.Context) {
	format := models.ExportFormat(strings.ToLower(c.DefaultQuery("format", string(models.ExportFormatCSV))))
	link, err := h.exports.ExportRanking(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, link, nil)
}

// Download godoc
// @Summary Download export
// @Description Token-authenticated download of a generated export
// @Tags Exports
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} file
// @Failure 410 {object} response.Envelope
// @Router /exports/{token} [get]
func (h *ExportHandler) Download(c *gin.Context) {
	file, name, err := h.exports.Open(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	streamFile(c, file, name)
}
