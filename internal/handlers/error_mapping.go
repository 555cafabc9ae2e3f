package handlers

import (
	"errors"
	"net/http"

	"github.com/matatufleet/booking-backend/internal/models"
)

// statusForError maps domain errors to HTTP statuses: validation problems are
// 400, missing entities 404, state conflicts 409, provider outages 502.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidSeatCount),
		errors.Is(err, models.ErrAmountMismatch),
		errors.Is(err, models.ErrAmountExceedsOriginal),
		errors.Is(err, models.ErrBookingNotRefundable),
		errors.Is(err, models.ErrPaymentNotCompleted),
		errors.Is(err, models.ErrMalformedPayload):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrTripNotFound),
		errors.Is(err, models.ErrHoldNotFound),
		errors.Is(err, models.ErrBookingNotFound),
		errors.Is(err, models.ErrPaymentNotFound),
		errors.Is(err, models.ErrRefundNotFound),
		errors.Is(err, models.ErrUnknownCorrelation):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInsufficientSeats),
		errors.Is(err, models.ErrHoldExpired),
		errors.Is(err, models.ErrHoldAlreadyConsumed),
		errors.Is(err, models.ErrBookingNotPending),
		errors.Is(err, models.ErrPaymentInProgress),
		errors.Is(err, models.ErrAlreadyTerminal),
		errors.Is(err, models.ErrRefundNotPending),
		errors.Is(err, models.ErrRefundNotApproved):
		return http.StatusConflict
	case errors.Is(err, models.ErrPaymentUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
