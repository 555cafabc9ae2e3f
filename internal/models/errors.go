package models

import "errors"

// Domain errors returned by repositories and services. Handlers map these to
// HTTP statuses; callers branch with errors.Is.

// Capacity errors.
var (
	ErrInsufficientSeats = errors.New("insufficient seats available")
	ErrInvalidSeatCount  = errors.New("seat count must be positive")
)

// Not-found errors.
var (
	ErrTripNotFound    = errors.New("trip not found")
	ErrHoldNotFound    = errors.New("seat hold not found")
	ErrBookingNotFound = errors.New("booking not found")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrRefundNotFound  = errors.New("refund not found")
)

// Conflict errors: the entity exists but is in the wrong state.
var (
	ErrHoldExpired         = errors.New("seat hold has expired")
	ErrHoldAlreadyConsumed = errors.New("seat hold already consumed")
	ErrBookingNotPending   = errors.New("booking is not pending")
	ErrPaymentInProgress   = errors.New("a payment is already in progress for this booking")
	ErrAlreadyTerminal     = errors.New("transaction is already in a terminal state")
	ErrUnknownCorrelation  = errors.New("no transaction matches the correlation id")
	ErrRefundNotPending    = errors.New("refund is not pending")
	ErrRefundNotApproved   = errors.New("refund is not approved")
)

// Validation errors.
var (
	ErrAmountMismatch        = errors.New("payment amount does not match booking amount due")
	ErrBookingNotRefundable  = errors.New("booking is not refundable")
	ErrPaymentNotCompleted   = errors.New("payment is not completed")
	ErrAmountExceedsOriginal = errors.New("refund amount exceeds remaining refundable amount")
)

// External errors.
var (
	ErrPaymentUnavailable = errors.New("payment provider unavailable")
)

// Webhook errors.
var (
	ErrInvalidSignature = errors.New("webhook signature is invalid")
	ErrMalformedPayload = errors.New("webhook payload is malformed")
)

// Integrity errors. These indicate seat accounting drift and always roll the
// enclosing transaction back.
var (
	ErrSeatAccounting = errors.New("seat accounting invariant violated")
)
