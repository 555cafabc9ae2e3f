package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/matatufleet/booking-backend/internal/middleware"
	"github.com/matatufleet/booking-backend/internal/models"
	"github.com/matatufleet/booking-backend/internal/services"
)

// RefundHandler handles refund endpoints
type RefundHandler struct {
	refundService *services.RefundService
	logger        *logrus.Logger
}

// NewRefundHandler creates a new RefundHandler
func NewRefundHandler(refundService *services.RefundService, logger *logrus.Logger) *RefundHandler {
	return &RefundHandler{
		refundService: refundService,
		logger:        logger,
	}
}

// RequestRefund opens a refund against a completed payment
// @Summary Request refund
// @Tags Refunds
// @Accept json
// @Produce json
// @Param request body models.RequestRefundRequest true "Refund request"
// @Success 201 {object} models.RefundResponse
// @Failure 400 {object} map[string]interface{} "Validation error or over-refund"
// @Failure 409 {object} map[string]interface{} "Payment not completed"
// @Router /refunds [post]
func (h *RefundHandler) RequestRefund(c *gin.Context) {
	var req models.RequestRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	paymentID, err := uuid.Parse(req.PaymentID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment id"})
		return
	}

	refund, err := h.refundService.RequestRefund(paymentID, req.Amount, models.RefundReason(req.Reason), req.Notes)
	if err != nil {
		h.logger.WithError(err).WithField("payment_id", paymentID).Error("Failed to request refund")
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, refundResponse(refund))
}

// ApproveRefund approves a pending refund
// @Summary Approve refund
// @Tags Refunds
// @Produce json
// @Param refund_id path string true "Refund ID"
// @Success 200 {object} models.RefundResponse
// @Failure 409 {object} map[string]interface{} "Refund not pending"
// @Router /refunds/{refund_id}/approve [post]
func (h *RefundHandler) ApproveRefund(c *gin.Context) {
	refundID, err := uuid.Parse(c.Param("refund_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid refund id"})
		return
	}

	approver := "operations"
	if claims, ok := middleware.GetClaims(c); ok {
		approver = claims.Subject
	}

	if err := h.refundService.Approve(refundID, approver); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	refund, err := h.refundService.GetRefund(refundID)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, refundResponse(refund))
}

// ProcessRefund dispatches an approved refund to the provider
// @Summary Process refund
// @Tags Refunds
// @Produce json
// @Param refund_id path string true "Refund ID"
// @Success 200 {object} models.RefundResponse
// @Failure 409 {object} map[string]interface{} "Refund not approved"
// @Failure 502 {object} map[string]interface{} "Provider unavailable"
// @Router /refunds/{refund_id}/process [post]
func (h *RefundHandler) ProcessRefund(c *gin.Context) {
	refundID, err := uuid.Parse(c.Param("refund_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid refund id"})
		return
	}

	if err := h.refundService.Process(c.Request.Context(), refundID); err != nil {
		h.logger.WithError(err).WithField("refund_id", refundID).Error("Failed to process refund")
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	refund, err := h.refundService.GetRefund(refundID)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, refundResponse(refund))
}

// CancelRefund withdraws a refund that has not started processing
// @Summary Cancel refund
// @Tags Refunds
// @Produce json
// @Param refund_id path string true "Refund ID"
// @Success 200 {object} models.RefundResponse
// @Failure 409 {object} map[string]interface{} "Refund already dispatched or settled"
// @Router /refunds/{refund_id}/cancel [post]
func (h *RefundHandler) CancelRefund(c *gin.Context) {
	refundID, err := uuid.Parse(c.Param("refund_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid refund id"})
		return
	}

	if err := h.refundService.Cancel(refundID); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	refund, err := h.refundService.GetRefund(refundID)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, refundResponse(refund))
}

// ListPaymentRefunds returns every refund opened against a payment
// @Summary List refunds for a payment
// @Tags Refunds
// @Produce json
// @Param payment_id path string true "Payment ID"
// @Success 200 {array} models.RefundResponse
// @Router /payments/{payment_id}/refunds [get]
func (h *RefundHandler) ListPaymentRefunds(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("payment_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment id"})
		return
	}

	refunds, err := h.refundService.ListForPayment(paymentID)
	if err != nil {
		h.logger.WithError(err).WithField("payment_id", paymentID).Error("Failed to list refunds")
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	out := make([]models.RefundResponse, 0, len(refunds))
	for i := range refunds {
		out = append(out, refundResponse(&refunds[i]))
	}
	c.JSON(http.StatusOK, gin.H{"refunds": out, "count": len(out)})
}

// GetRefund returns a refund transaction
// @Summary Get refund
// @Tags Refunds
// @Produce json
// @Param refund_id path string true "Refund ID"
// @Success 200 {object} models.RefundResponse
// @Failure 404 {object} map[string]interface{} "Refund not found"
// @Router /refunds/{refund_id} [get]
func (h *RefundHandler) GetRefund(c *gin.Context) {
	refundID, err := uuid.Parse(c.Param("refund_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid refund id"})
		return
	}

	refund, err := h.refundService.GetRefund(refundID)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, refundResponse(refund))
}

func refundResponse(refund *models.RefundTransaction) models.RefundResponse {
	return models.RefundResponse{
		RefundID:         refund.ID,
		RefundReference:  refund.RefundReference,
		PaymentID:        refund.OriginalPaymentID,
		Amount:           refund.Amount,
		Status:           refund.Status,
		RequiresApproval: refund.RequiresApproval,
		FailureReason:    refund.FailureReason,
	}
}
