package models

import (
	"time"

	"github.com/google/uuid"
)

// RefundStatus represents the status of a refund transaction
// Matches PostgreSQL ENUM: refund_status
type RefundStatus string

const (
	RefundStatusPending    RefundStatus = "pending"
	RefundStatusApproved   RefundStatus = "approved"
	RefundStatusProcessing RefundStatus = "processing"
	RefundStatusCompleted  RefundStatus = "completed"
	RefundStatusFailed     RefundStatus = "failed"
	RefundStatusCancelled  RefundStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s RefundStatus) IsTerminal() bool {
	switch s {
	case RefundStatusCompleted, RefundStatusFailed, RefundStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether a refund status transition is allowed.
func (s RefundStatus) CanTransitionTo(next RefundStatus) bool {
	switch s {
	case RefundStatusPending:
		return next == RefundStatusApproved || next == RefundStatusCancelled
	case RefundStatusApproved:
		return next == RefundStatusProcessing || next == RefundStatusCancelled
	case RefundStatusProcessing:
		return next == RefundStatusCompleted || next == RefundStatusFailed
	default:
		return false
	}
}

// RefundReason categorizes why a refund was requested.
type RefundReason string

const (
	RefundReasonTripCancelledByOperator RefundReason = "trip_cancelled_by_operator"
	RefundReasonVehicleBreakdown        RefundReason = "vehicle_breakdown"
	RefundReasonWeatherConditions       RefundReason = "weather_conditions"
	RefundReasonPassengerRequest        RefundReason = "passenger_request"
	RefundReasonDuplicateBooking        RefundReason = "duplicate_booking"
	RefundReasonSystemError             RefundReason = "system_error"
	RefundReasonOther                   RefundReason = "other"
)

// Valid reports whether the reason is one of the known categories.
func (r RefundReason) Valid() bool {
	switch r {
	case RefundReasonTripCancelledByOperator, RefundReasonVehicleBreakdown,
		RefundReasonWeatherConditions, RefundReasonPassengerRequest,
		RefundReasonDuplicateBooking, RefundReasonSystemError, RefundReasonOther:
		return true
	}
	return false
}

// RefundTransaction reverses part or all of a completed payment via B2C.
type RefundTransaction struct {
	ID                uuid.UUID    `json:"id" db:"id"`
	RefundReference   string       `json:"refund_reference" db:"refund_reference"`
	OriginalPaymentID uuid.UUID    `json:"original_payment_id" db:"original_payment_id"`
	BookingID         uuid.UUID    `json:"booking_id" db:"booking_id"`
	Amount            float64      `json:"amount" db:"amount"`
	Reason            RefundReason `json:"reason" db:"reason"`
	Notes             *string      `json:"notes,omitempty" db:"notes"`

	RequiresApproval bool       `json:"requires_approval" db:"requires_approval"`
	ApprovedBy       *string    `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty" db:"approved_at"`

	Status RefundStatus `json:"status" db:"status"`

	// B2C correlation ids from Daraja.
	ConversationID           *string `json:"conversation_id,omitempty" db:"conversation_id"`
	OriginatorConversationID *string `json:"originator_conversation_id,omitempty" db:"originator_conversation_id"`
	ProviderReceipt          *string `json:"provider_receipt,omitempty" db:"provider_receipt"`
	FailureReason            *string `json:"failure_reason,omitempty" db:"failure_reason"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// RequestRefundRequest is the inbound payload for requesting a refund.
type RequestRefundRequest struct {
	PaymentID string  `json:"payment_id" binding:"required"`
	Amount    float64 `json:"amount" binding:"required"`
	Reason    string  `json:"reason" binding:"required"`
	Notes     string  `json:"notes"`
}

// RefundResponse is returned from refund endpoints.
type RefundResponse struct {
	RefundID         uuid.UUID    `json:"refund_id"`
	RefundReference  string       `json:"refund_reference"`
	PaymentID        uuid.UUID    `json:"payment_id"`
	Amount           float64      `json:"amount"`
	Status           RefundStatus `json:"status"`
	RequiresApproval bool         `json:"requires_approval"`
	FailureReason    *string      `json:"failure_reason,omitempty"`
}
