package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/matatufleet/booking-backend/internal/models"
	"github.com/matatufleet/booking-backend/internal/services"
)

// BookingHandler handles booking endpoints
type BookingHandler struct {
	bookingService *services.BookingService
	logger         *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(bookingService *services.BookingService, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{
		bookingService: bookingService,
		logger:         logger,
	}
}

// CreateBooking reserves seats on a trip and starts payment
// @Summary Create booking
// @Description Holds seats and sends an STK Push to the passenger's phone
// @Tags Bookings
// @Accept json
// @Produce json
// @Param request body models.CreateBookingRequest true "Booking request"
// @Success 201 {object} models.CreateBookingResponse
// @Failure 400 {object} map[string]interface{} "Validation error"
// @Failure 409 {object} models.CreateBookingResponse "Seats unavailable"
// @Router /bookings [post]
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	resp, err := h.bookingService.CreateBooking(c.Request.Context(), &req)
	if err != nil {
		h.logger.WithError(err).Error("Failed to create booking")
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	if resp.Outcome == models.OutcomeRejected {
		c.JSON(http.StatusConflict, resp)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// GetBookingStatus returns a booking with its latest payment state. The path
// segment accepts a booking id or the BKG reference from the passenger's SMS.
// @Summary Get booking status
// @Tags Bookings
// @Produce json
// @Param booking_id path string true "Booking ID or BKG reference"
// @Success 200 {object} models.BookingStatusResponse
// @Failure 404 {object} map[string]interface{} "Booking not found"
// @Router /bookings/{booking_id} [get]
func (h *BookingHandler) GetBookingStatus(c *gin.Context) {
	key := c.Param("booking_id")

	var resp *models.BookingStatusResponse
	bookingID, err := uuid.Parse(key)
	if err == nil {
		resp, err = h.bookingService.GetBookingStatus(bookingID)
	} else {
		resp, err = h.bookingService.GetBookingStatusByReference(key)
	}
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListBookings returns a passenger's bookings, newest first
// @Summary List bookings for a passenger
// @Tags Bookings
// @Produce json
// @Param passenger_ref query string true "Passenger reference"
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Offset" default(0)
// @Success 200 {array} models.Booking
// @Failure 400 {object} map[string]interface{} "Missing passenger_ref"
// @Router /bookings [get]
func (h *BookingHandler) ListBookings(c *gin.Context) {
	passengerRef := c.Query("passenger_ref")
	if passengerRef == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "passenger_ref is required"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	bookings, err := h.bookingService.ListBookings(passengerRef, limit, offset)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list bookings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings, "count": len(bookings)})
}

// CancelBooking cancels a booking, opening a refund when it is already paid
// @Summary Cancel booking
// @Tags Bookings
// @Produce json
// @Param booking_id path string true "Booking ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{} "Booking not found"
// @Failure 409 {object} map[string]interface{} "Booking not cancellable"
// @Router /bookings/{booking_id}/cancel [post]
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	bookingID, err := uuid.Parse(c.Param("booking_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid booking id"})
		return
	}

	refund, err := h.bookingService.CancelBooking(bookingID)
	if err != nil {
		h.logger.WithError(err).WithField("booking_id", bookingID).Error("Failed to cancel booking")
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"message": "booking cancelled"}
	if refund != nil {
		resp["refund_id"] = refund.ID
		resp["refund_reference"] = refund.RefundReference
		resp["refund_status"] = refund.Status
	}
	c.JSON(http.StatusOK, resp)
}

// RetryPayment starts a fresh STK Push for a pending booking
// @Summary Retry payment
// @Tags Bookings
// @Accept json
// @Produce json
// @Param booking_id path string true "Booking ID"
// @Param request body models.InitiatePaymentRequest true "Payment request"
// @Success 200 {object} models.InitiatePaymentResponse
// @Failure 409 {object} map[string]interface{} "Payment already in progress"
// @Router /bookings/{booking_id}/retry-payment [post]
func (h *BookingHandler) RetryPayment(c *gin.Context) {
	bookingID, err := uuid.Parse(c.Param("booking_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid booking id"})
		return
	}

	var req struct {
		Phone string `json:"phone" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	payment, err := h.bookingService.RetryPayment(c.Request.Context(), bookingID, req.Phone)
	if err != nil {
		h.logger.WithError(err).WithField("booking_id", bookingID).Error("Failed to retry payment")
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, models.InitiatePaymentResponse{
		PaymentID:         payment.ID,
		PaymentReference:  payment.PaymentReference,
		Status:            payment.Status,
		CheckoutRequestID: derefString(payment.CheckoutRequestID),
		Amount:            payment.Amount,
		ExpiresAt:         payment.ExpiresAt,
	})
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
