package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/matatufleet/booking-backend/internal/models"
)

// TripRepository handles trip database operations
type TripRepository struct {
	db *sqlx.DB
}

// NewTripRepository creates a new TripRepository
func NewTripRepository(db *sqlx.DB) *TripRepository {
	return &TripRepository{db: db}
}

// CreateTrip creates a new trip with all seats available
func (r *TripRepository) CreateTrip(trip *models.Trip) error {
	trip.ID = uuid.New()
	trip.AvailableSeats = trip.TotalSeats
	trip.BookedSeats = 0
	trip.Status = models.TripStatusScheduled
	trip.CreatedAt = time.Now()
	trip.UpdatedAt = time.Now()

	query := `
		INSERT INTO trips (
			id, route_name, vehicle_ref, fare, scheduled_departure,
			total_seats, available_seats, booked_seats, status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.Exec(query,
		trip.ID, trip.RouteName, trip.VehicleRef, trip.Fare, trip.ScheduledDeparture,
		trip.TotalSeats, trip.AvailableSeats, trip.BookedSeats, trip.Status,
		trip.CreatedAt, trip.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create trip: %w", err)
	}
	return nil
}

// GetTripByID retrieves a trip by ID
func (r *TripRepository) GetTripByID(tripID uuid.UUID) (*models.Trip, error) {
	var trip models.Trip
	query := `
		SELECT id, route_name, vehicle_ref, fare, scheduled_departure,
		       total_seats, available_seats, booked_seats, status,
		       created_at, updated_at
		FROM trips
		WHERE id = $1`

	err := r.db.Get(&trip, query, tripID)
	if err == sql.ErrNoRows {
		return nil, models.ErrTripNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trip: %w", err)
	}
	return &trip, nil
}

// ListBookableTrips returns scheduled trips departing after now
func (r *TripRepository) ListBookableTrips(limit, offset int) ([]models.Trip, error) {
	trips := []models.Trip{}
	query := `
		SELECT id, route_name, vehicle_ref, fare, scheduled_departure,
		       total_seats, available_seats, booked_seats, status,
		       created_at, updated_at
		FROM trips
		WHERE status = 'scheduled' AND scheduled_departure > NOW()
		ORDER BY scheduled_departure ASC
		LIMIT $1 OFFSET $2`

	if err := r.db.Select(&trips, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list trips: %w", err)
	}
	return trips, nil
}

// CancelTrip marks a scheduled trip as cancelled
func (r *TripRepository) CancelTrip(tripID uuid.UUID) error {
	query := `
		UPDATE trips
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'scheduled'`

	result, err := r.db.Exec(query, tripID)
	if err != nil {
		return fmt.Errorf("failed to cancel trip: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return models.ErrTripNotFound
	}
	return nil
}

// ReleaseBookedSeats returns booked seats to the available pool, used when a
// confirmed booking is unwound by a completed refund
func (r *TripRepository) ReleaseBookedSeats(tripID uuid.UUID, seatCount int) error {
	query := `
		UPDATE trips
		SET booked_seats = booked_seats - $2,
		    available_seats = available_seats + $2,
		    updated_at = NOW()
		WHERE id = $1 AND booked_seats >= $2`

	result, err := r.db.Exec(query, tripID, seatCount)
	if err != nil {
		return fmt.Errorf("failed to release booked seats: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return models.ErrSeatAccounting
	}
	return nil
}

// ActiveHeldSeats returns the number of seats pinned by unexpired active
// holds on a trip. Used to verify the seat accounting invariant.
func (r *TripRepository) ActiveHeldSeats(tripID uuid.UUID) (int, error) {
	var held int
	query := `
		SELECT COALESCE(SUM(seat_count), 0)
		FROM seat_holds
		WHERE trip_id = $1 AND status IN ('active', 'expiring')`

	if err := r.db.Get(&held, query, tripID); err != nil {
		return 0, fmt.Errorf("failed to sum held seats: %w", err)
	}
	return held, nil
}
