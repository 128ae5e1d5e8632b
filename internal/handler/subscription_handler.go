package handler

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/siga-api/internal/models"
	"github.com/noah-isme/siga-api/internal/service"
	appErrors "github.com/noah-isme/siga-api/pkg/errors"
	"github.com/noah-isme/siga-api/pkg/response"
)

type subscriptionService interface {
	Create(ctx context.Context, req service.CreateSubscriptionRequest) (*models.SubscriptionStatus, error)
	Current(ctx context.Context) (*models.SubscriptionStatus, error)
	Get(ctx context.Context, id string) (*models.SubscriptionStatus, error)
	List(ctx context.Context) ([]models.SubscriptionStatus, error)
	Cancel(ctx context.Context, id string) error
	SubmitPayment(ctx context.Context, subscriptionID, submittedBy string, req service.SubmitPaymentRequest, proof *service.ProofUpload) (*models.SubscriptionPayment, error)
	ApprovePayment(ctx context.Context, paymentID, approverID string) (*models.PaymentDecision, error)
	RejectPayment(ctx context.Context, paymentID, approverID, reason string) (*models.PaymentDecision, error)
	GetPayment(ctx context.Context, id string) (*models.SubscriptionPayment, error)
	ListPayments(ctx context.Context, filter models.PaymentFilter) ([]models.SubscriptionPayment, *models.Pagination, error)
	OpenProof(ctx context.Context, paymentID string) (*os.File, error)
	ReceiptLink(ctx context.Context, paymentID string) (*models.FileLink, error)
	OpenReceipt(token string) (*os.File, string, error)
}

// SubscriptionHandler exposes the license lifecycle and renewal payments.
type SubscriptionHandler struct {
	subscriptions subscriptionService
}

// NewSubscriptionHandler constructs SubscriptionHandler.
func NewSubscriptionHandler(subscriptions subscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{subscriptions: subscriptions}
}

// Current godoc
// @Summary Current subscription
// @Description Status of the installation's license including days remaining and percentage used
// @Tags Subscriptions
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /subscription [get]
func (h *SubscriptionHandler) Current(c *gin.Context) {
	status, err := h.subscriptions.Current(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// List godoc
// @Summary List subscriptions
// @Tags Subscriptions
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /subscriptions [get]
func (h *SubscriptionHandler) List(c *gin.Context) {
	items, err := h.subscriptions.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Get godoc
// @Summary Get subscription
// @Tags Subscriptions
// @Produce json
// @Param id path string true "Subscription ID"
// @Success 200 {object} response.Envelope
// @Router /subscriptions/{id} [get]
func (h *SubscriptionHandler) Get(c *gin.Context) {
	status, err := h.subscriptions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// Create godoc
// @Summary Create subscription
// @Description Start a trial or a paid plan for the school
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Param payload body service.CreateSubscriptionRequest true "Subscription"
// @Success 201 {object} response.Envelope
// @Router /subscriptions [post]
func (h *SubscriptionHandler) Create(c *gin.Context) {
	var req service.CreateSubscriptionRequest
	if !bindJSON(c, &req) {
		return
	}
	status, err := h.subscriptions.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, status)
}

// Cancel godoc
// @Summary Cancel subscription
// @Tags Subscriptions
// @Param id path string true "Subscription ID"
// @Success 204 {object} response.Envelope
// @Router /subscriptions/{id}/cancel [post]
func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	if err := h.subscriptions.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// SubmitPayment godoc
// @Summary Submit renewal payment
// @Description Multipart form with the payment fields and an optional proof file
// @Tags Subscriptions
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Subscription ID"
// @Param plan formData string true "MONTHLY, QUARTERLY, SEMIANNUAL or ANNUAL"
// @Param amount formData number true "Amount paid"
// @Param payment_date formData string true "YYYY-MM-DD"
// @Param reference formData string false "Bank reference"
// @Param proof formData file false "Proof of payment"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /subscriptions/{id}/payments [post]
func (h *SubscriptionHandler) SubmitPayment(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req service.SubmitPaymentRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Invalid(err, "invalid payment payload"))
		return
	}

	var proof *service.ProofUpload
	if header, err := c.FormFile("proof"); err == nil {
		src, openErr := header.Open()
		if openErr != nil {
			response.Error(c, appErrors.Wrap(openErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open proof"))
			return
		}
		defer src.Close()
		proof = &service.ProofUpload{
			Filename:    filepath.Base(header.Filename),
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Content:     src,
		}
	} else if !errors.Is(err, http.ErrMissingFile) {
		response.Error(c, appErrors.Invalid(err, "invalid proof upload"))
		return
	}

	payment, err := h.subscriptions.SubmitPayment(c.Request.Context(), c.Param("id"), claims.UserID, req, proof)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, payment)
}

// ListPayments godoc
// @Summary List payments
// @Tags Subscriptions
// @Produce json
// @Param subscription_id query string false "Subscription"
// @Param status query string false "PENDING, APPROVED or REJECTED"
// @Success 200 {object} response.Envelope
// @Router /payments [get]
func (h *SubscriptionHandler) ListPayments(c *gin.Context) {
	var filter models.PaymentFilter
	filter.SubscriptionID = c.Query("subscription_id")
	filter.Status = models.PaymentStatus(c.Query("status"))
	filter.Page, filter.PageSize = pageParams(c)

	payments, pagination, err := h.subscriptions.ListPayments(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payments, pagination)
}

// GetPayment godoc
// @Summary Get payment
// @Tags Subscriptions
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} response.Envelope
// @Router /payments/{id} [get]
func (h *SubscriptionHandler) GetPayment(c *gin.Context) {
	payment, err := h.subscriptions.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payment, nil)
}

// ApprovePayment godoc
// @Summary Approve payment
// @Description Extends or restarts the subscription and queues the receipt
// @Tags Subscriptions
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /payments/{id}/approve [post]
func (h *SubscriptionHandler) ApprovePayment(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	decision, err := h.subscriptions.ApprovePayment(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, decision, nil)
}

// RejectPayment godoc
// @Summary Reject payment
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Param id path string true "Payment ID"
// @Param payload body map[string]string false "Reason"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /payments/{id}/reject [post]
func (h *SubscriptionHandler) RejectPayment(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var payload struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength > 0 && !bindJSON(c, &payload) {
		return
	}
	decision, err := h.subscriptions.RejectPayment(c.Request.Context(), c.Param("id"), claims.UserID, payload.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, decision, nil)
}

// Proof godoc
// @Summary Download payment proof
// @Tags Subscriptions
// @Produce octet-stream
// @Param id path string true "Payment ID"
// @Success 200 {file} file
// @Router /payments/{id}/proof [get]
func (h *SubscriptionHandler) Proof(c *gin.Context) {
	file, err := h.subscriptions.OpenProof(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	streamFile(c, file, filepath.Base(file.Name()))
}

// ReceiptLink godoc
// @Summary Receipt download link
// @Tags Subscriptions
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /payments/{id}/receipt [get]
func (h *SubscriptionHandler) ReceiptLink(c *gin.Context) {
	link, err := h.subscriptions.ReceiptLink(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// DownloadReceipt godoc
// @Summary Download receipt
// @Tags Subscriptions
// @Produce application/pdf
// @Param token path string true "Signed token"
// @Success 200 {file} file
// @Failure 410 {object} response.Envelope
// @Router /receipts/{token} [get]
func (h *SubscriptionHandler) DownloadReceipt(c *gin.Context) {
	file, name, err := h.subscriptions.OpenReceipt(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	streamFile(c, file, name)
}
