package models

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// BookingStatus represents the status of a booking
// Matches PostgreSQL ENUM: booking_status
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusExpired   BookingStatus = "expired"
)

// CanTransitionTo reports whether a booking status transition is allowed.
// Terminal statuses (cancelled, completed, expired) accept no transitions.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	switch s {
	case BookingStatusPending:
		return next == BookingStatusConfirmed || next == BookingStatusCancelled || next == BookingStatusExpired
	case BookingStatusConfirmed:
		return next == BookingStatusCompleted || next == BookingStatusCancelled
	default:
		return false
	}
}

// Booking represents a passenger's intent to travel on a trip. It is created
// together with a seat hold and becomes confirmed only once its payment
// completes; if the hold lapses unpaid the booking expires.
type Booking struct {
	ID               uuid.UUID     `json:"id" db:"id"`
	BookingReference string        `json:"booking_reference" db:"booking_reference"`
	TripID           uuid.UUID     `json:"trip_id" db:"trip_id"`
	PassengerRef     string        `json:"passenger_ref" db:"passenger_ref"`
	PassengerName    string        `json:"passenger_name" db:"passenger_name"`
	PassengerPhone   string        `json:"passenger_phone" db:"passenger_phone"`
	SeatCount        int           `json:"seat_count" db:"seat_count"`
	AmountDue        float64       `json:"amount_due" db:"amount_due"`
	Status           BookingStatus `json:"status" db:"status"`
	PaymentDeadline  time.Time     `json:"payment_deadline" db:"payment_deadline"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at" db:"updated_at"`
}

const referenceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateBookingReference returns a reference in BKG-XXXXXXXX format.
func GenerateBookingReference() string {
	return "BKG-" + randomReferencePart(8)
}

// GeneratePaymentReference returns a reference in PAY-XXXXXXXX format.
func GeneratePaymentReference() string {
	return "PAY-" + randomReferencePart(8)
}

// GenerateRefundReference returns a reference in RFD-XXXXXXXX format.
func GenerateRefundReference() string {
	return "RFD-" + randomReferencePart(8)
}

func randomReferencePart(n int) string {
	out := make([]byte, n)
	max := big.NewInt(int64(len(referenceAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken;
			// fall back to a time-derived character rather than panic.
			out[i] = referenceAlphabet[int(time.Now().UnixNano())%len(referenceAlphabet)]
			continue
		}
		out[i] = referenceAlphabet[idx.Int64()]
	}
	return string(out)
}

// CreateBookingRequest is the inbound payload for creating a booking.
type CreateBookingRequest struct {
	TripID         string `json:"trip_id" binding:"required"`
	PassengerRef   string `json:"passenger_ref"`
	PassengerName  string `json:"passenger_name" binding:"required"`
	PassengerPhone string `json:"passenger_phone" binding:"required"`
	SeatCount      int    `json:"seat_count" binding:"required"`
}

// BookingOutcome is the caller-facing result of a booking attempt.
type BookingOutcome string

const (
	OutcomeConfirmed      BookingOutcome = "Confirmed"
	OutcomePendingPayment BookingOutcome = "PendingPayment"
	OutcomeRejected       BookingOutcome = "Rejected"
)

// CreateBookingResponse is returned from booking creation.
type CreateBookingResponse struct {
	Outcome          BookingOutcome `json:"outcome"`
	Reason           string         `json:"reason,omitempty"`
	BookingID        uuid.UUID      `json:"booking_id"`
	BookingReference string         `json:"booking_reference"`
	PaymentID        *uuid.UUID     `json:"payment_id,omitempty"`
	AmountDue        float64        `json:"amount_due"`
	HoldExpiresAt    time.Time      `json:"hold_expires_at"`
}

// BookingStatusResponse is returned from booking status polling. Statuses are
// reported verbatim.
type BookingStatusResponse struct {
	BookingID        uuid.UUID      `json:"booking_id"`
	BookingReference string         `json:"booking_reference"`
	Status           BookingStatus  `json:"status"`
	SeatCount        int            `json:"seat_count"`
	AmountDue        float64        `json:"amount_due"`
	PaymentID        *uuid.UUID     `json:"payment_id,omitempty"`
	PaymentStatus    *PaymentStatus `json:"payment_status,omitempty"`
}

func (b *Booking) String() string {
	return fmt.Sprintf("%s (%s)", b.BookingReference, b.Status)
}
