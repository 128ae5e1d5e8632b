package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/siga-api/internal/models"
	"github.com/noah-isme/siga-api/pkg/response"
)

type approvalService interface {
	Preview(ctx context.Context, courseID string) (*models.ApprovalResult, error)
	ProcessApprovals(ctx context.Context, courseID, actorID string) (*models.ApprovalResult, error)
	ProcessAll(ctx context.Context, actorID string) ([]models.ApprovalResult, error)
}

// ApprovalHandler runs the ranking engine.
type ApprovalHandler struct {
	approvals approvalService
}

// NewApprovalHandler constructs ApprovalHandler.
func NewApprovalHandler(approvals approvalService) *ApprovalHandler {
	return &ApprovalHandler{approvals: approvals}
}

// Preview godoc
// @Summary Preview ranking
// @Description Rank a course's applications without persisting decisions
// @Tags Approvals
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id}/approvals/preview [get]
func (h *ApprovalHandler) Preview(c *gin.Context) {
	result, err := h.approvals.Preview(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Process godoc
// @Summary Process approvals
// @Description Rank a course's applications and persist the approvals
// @Tags Approvals
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id}/approvals [post]
func (h *ApprovalHandler) Process(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	result, err := h.approvals.ProcessApprovals(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ProcessAll godoc
// @Summary Process approvals for every active course
// @Tags Approvals
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /approvals [post]
func (h *ApprovalHandler) ProcessAll(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	results, err := h.approvals.ProcessAll(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, results, nil)
}
