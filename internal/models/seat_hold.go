package models

import (
	"time"

	"github.com/google/uuid"
)

// SeatHoldStatus represents the status of a seat hold
// Matches PostgreSQL ENUM: seat_hold_status
type SeatHoldStatus string

const (
	SeatHoldStatusActive SeatHoldStatus = "active"
	// expiring is the sweep claim state: an expired hold the reclaimer has
	// claimed but not yet released. Claiming is a CAS so two sweepers never
	// release the same hold twice.
	SeatHoldStatusExpiring SeatHoldStatus = "expiring"
	SeatHoldStatusConsumed SeatHoldStatus = "consumed"
	SeatHoldStatusReleased SeatHoldStatus = "released"
)

// SeatHold pins seats out of a trip's available pool until it is consumed by
// a completed payment or released back.
type SeatHold struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	TripID    uuid.UUID      `json:"trip_id" db:"trip_id"`
	BookingID *uuid.UUID     `json:"booking_id" db:"booking_id"`
	SeatCount int            `json:"seat_count" db:"seat_count"`
	Status    SeatHoldStatus `json:"status" db:"status"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	ExpiresAt time.Time      `json:"expires_at" db:"expires_at"`
}

// IsExpired reports whether the hold's TTL has lapsed.
func (h *SeatHold) IsExpired() bool {
	return time.Now().After(h.ExpiresAt)
}

// IsActive reports whether the hold can still be consumed.
func (h *SeatHold) IsActive() bool {
	return h.Status == SeatHoldStatusActive && !h.IsExpired()
}
