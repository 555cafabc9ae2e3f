package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus represents the status of a payment transaction
// Matches PostgreSQL ENUM: payment_status
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
	PaymentStatusExpired    PaymentStatus = "expired"
)

// IsTerminal reports whether no further transitions are allowed.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusExpired:
		return true
	}
	return false
}

// CanTransitionTo reports whether a payment status transition is allowed.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentStatusPending:
		return next == PaymentStatusProcessing || next == PaymentStatusFailed ||
			next == PaymentStatusCancelled || next == PaymentStatusExpired
	case PaymentStatusProcessing:
		return next == PaymentStatusCompleted || next == PaymentStatusFailed ||
			next == PaymentStatusCancelled || next == PaymentStatusExpired
	default:
		return false
	}
}

// PaymentTransaction records one STK Push attempt against a booking. A
// booking may accumulate several failed or expired transactions but carries
// at most one non-terminal transaction at a time.
type PaymentTransaction struct {
	ID               uuid.UUID     `json:"id" db:"id"`
	BookingID        uuid.UUID     `json:"booking_id" db:"booking_id"`
	PaymentReference string        `json:"payment_reference" db:"payment_reference"`
	Phone            string        `json:"phone" db:"phone"`
	Amount           float64       `json:"amount" db:"amount"`
	Currency         string        `json:"currency" db:"currency"`
	Status           PaymentStatus `json:"status" db:"status"`

	// Provider correlation. CheckoutRequestID is unique once the STK push is
	// accepted; webhook callbacks are matched on it.
	CheckoutRequestID *string `json:"checkout_request_id,omitempty" db:"checkout_request_id"`
	MerchantRequestID *string `json:"merchant_request_id,omitempty" db:"merchant_request_id"`
	ReceiptNumber     *string `json:"receipt_number,omitempty" db:"receipt_number"`

	FailureReason   *string `json:"failure_reason,omitempty" db:"failure_reason"`
	GatewayResponse JSONB   `json:"gateway_response,omitempty" db:"gateway_response"`

	InitiatedAt time.Time  `json:"initiated_at" db:"initiated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	ExpiresAt   time.Time  `json:"expires_at" db:"expires_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// InitiatePaymentRequest asks for a fresh STK Push against a booking.
type InitiatePaymentRequest struct {
	BookingID string `json:"booking_id" binding:"required"`
	Phone     string `json:"phone" binding:"required"`
}

// InitiatePaymentResponse is returned after the push is accepted.
type InitiatePaymentResponse struct {
	PaymentID         uuid.UUID     `json:"payment_id"`
	PaymentReference  string        `json:"payment_reference"`
	Status            PaymentStatus `json:"status"`
	CheckoutRequestID string        `json:"checkout_request_id"`
	Amount            float64       `json:"amount"`
	ExpiresAt         time.Time     `json:"expires_at"`
	CustomerMessage   string        `json:"customer_message,omitempty"`
}

// PaymentStatusResponse is returned from payment status polling.
type PaymentStatusResponse struct {
	PaymentID        uuid.UUID     `json:"payment_id"`
	PaymentReference string        `json:"payment_reference"`
	BookingID        uuid.UUID     `json:"booking_id"`
	Status           PaymentStatus `json:"status"`
	Amount           float64       `json:"amount"`
	ReceiptNumber    *string       `json:"receipt_number,omitempty"`
	FailureReason    *string       `json:"failure_reason,omitempty"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}
