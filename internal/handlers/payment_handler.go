package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/matatufleet/booking-backend/internal/models"
	"github.com/matatufleet/booking-backend/internal/services"
)

// PaymentHandler handles payment status and provider webhook endpoints
type PaymentHandler struct {
	orchestrator *services.PaymentOrchestratorService
	ingest       *services.WebhookIngestService
	logger       *logrus.Logger
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(
	orchestrator *services.PaymentOrchestratorService,
	ingest *services.WebhookIngestService,
	logger *logrus.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		orchestrator: orchestrator,
		ingest:       ingest,
		logger:       logger,
	}
}

// GetPaymentStatus returns a payment transaction
// @Summary Get payment status
// @Tags Payments
// @Produce json
// @Param payment_id path string true "Payment ID"
// @Success 200 {object} models.PaymentStatusResponse
// @Failure 404 {object} map[string]interface{} "Payment not found"
// @Router /payments/{payment_id} [get]
func (h *PaymentHandler) GetPaymentStatus(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("payment_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment id"})
		return
	}

	payment, err := h.orchestrator.GetPayment(paymentID)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, models.PaymentStatusResponse{
		PaymentID:        payment.ID,
		PaymentReference: payment.PaymentReference,
		BookingID:        payment.BookingID,
		Status:           payment.Status,
		Amount:           payment.Amount,
		ReceiptNumber:    payment.ReceiptNumber,
		FailureReason:    payment.FailureReason,
		CompletedAt:      payment.CompletedAt,
	})
}

// GetProviderStatus asks M-Pesa for its view of a payment's STK Push, for
// reconciling transactions whose callback never arrived
// @Summary Query provider payment status
// @Tags Payments
// @Produce json
// @Param payment_id path string true "Payment ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{} "Payment not found or never pushed"
// @Failure 502 {object} map[string]interface{} "Provider unavailable"
// @Router /payments/{payment_id}/provider-status [get]
func (h *PaymentHandler) GetProviderStatus(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("payment_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment id"})
		return
	}

	resp, err := h.orchestrator.QueryProviderStatus(c.Request.Context(), paymentID)
	if err != nil {
		h.logger.WithError(err).WithField("payment_id", paymentID).Warn("Provider status query failed")
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payment_id":  paymentID,
		"result_code": resp.ResultCode,
		"result_desc": resp.ResultDesc,
	})
}

// STKCallback receives the asynchronous STK Push outcome from Daraja
// @Summary M-Pesa STK Push callback
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param X-Webhook-Signature header string true "HMAC-SHA256 of the body"
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} map[string]interface{} "Bad signature"
// @Router /webhooks/mpesa/stk [post]
func (h *PaymentHandler) STKCallback(c *gin.Context) {
	h.handleWebhook(c, h.ingest.IngestSTKCallback)
}

// B2CResultCallback receives the asynchronous B2C payout outcome from Daraja
// @Summary M-Pesa B2C result callback
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param X-Webhook-Signature header string true "HMAC-SHA256 of the body"
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} map[string]interface{} "Bad signature"
// @Router /webhooks/mpesa/b2c [post]
func (h *PaymentHandler) B2CResultCallback(c *gin.Context) {
	h.handleWebhook(c, h.ingest.IngestB2CResult)
}

// handleWebhook reads the raw body and applies one ingest function. A
// duplicate returns 200 like a first delivery; a transient failure returns
// 500 so the provider redelivers.
func (h *PaymentHandler) handleWebhook(c *gin.Context, ingest func([]byte, string, services.RequestMeta) error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	meta := services.RequestMeta{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}

	err = ingest(body, c.GetHeader("X-Webhook-Signature"), meta)
	if err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			h.logger.WithError(err).Error("Webhook processing failed")
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	// Daraja expects this shape in acknowledgements
	c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
}
