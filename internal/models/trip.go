package models

import (
	"time"

	"github.com/google/uuid"
)

// TripStatus represents the status of a trip
// Matches PostgreSQL ENUM: trip_status
type TripStatus string

const (
	TripStatusScheduled  TripStatus = "scheduled"
	TripStatusInProgress TripStatus = "in_progress"
	TripStatusCompleted  TripStatus = "completed"
	TripStatusCancelled  TripStatus = "cancelled"
)

// Trip is the seat-inventory aggregate. Route and vehicle are opaque labels;
// their registries live in other services.
type Trip struct {
	ID                 uuid.UUID  `json:"id" db:"id"`
	RouteName          string     `json:"route_name" db:"route_name"`
	VehicleRef         string     `json:"vehicle_ref" db:"vehicle_ref"`
	Fare               float64    `json:"fare" db:"fare"`
	ScheduledDeparture time.Time  `json:"scheduled_departure" db:"scheduled_departure"`
	TotalSeats         int        `json:"total_seats" db:"total_seats"`
	AvailableSeats     int        `json:"available_seats" db:"available_seats"`
	BookedSeats        int        `json:"booked_seats" db:"booked_seats"`
	Status             TripStatus `json:"status" db:"status"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
}

// IsBookable reports whether new holds may be placed on the trip.
func (t *Trip) IsBookable() bool {
	return t.Status == TripStatusScheduled && time.Now().Before(t.ScheduledDeparture)
}

// SeatAccountingValid checks the inventory invariant: every seat is exactly
// one of available, booked, or held by an active hold.
func (t *Trip) SeatAccountingValid(heldSeats int) bool {
	return t.AvailableSeats+t.BookedSeats+heldSeats == t.TotalSeats &&
		t.AvailableSeats >= 0 && t.BookedSeats >= 0 && heldSeats >= 0
}
