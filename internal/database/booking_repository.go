package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/matatufleet/booking-backend/internal/models"
)

// BookingRepository handles booking database operations
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

const bookingColumns = `
	id, booking_reference, trip_id, passenger_ref, passenger_name,
	passenger_phone, seat_count, amount_due, status, payment_deadline,
	created_at, updated_at`

// CreateWithHold atomically reserves seats and records the booking. The
// conditional decrement, the hold row, and the booking row commit together,
// so a failed reservation leaves no trace.
func (r *BookingRepository) CreateWithHold(booking *models.Booking, ttl time.Duration) (*models.SeatHold, error) {
	if booking.SeatCount <= 0 {
		return nil, models.ErrInvalidSeatCount
	}

	tx, err := r.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var fare float64
	err = tx.QueryRow(`
		UPDATE trips
		SET available_seats = available_seats - $2, updated_at = NOW()
		WHERE id = $1
		  AND status = 'scheduled'
		  AND scheduled_departure > NOW()
		  AND available_seats >= $2
		RETURNING fare`,
		booking.TripID, booking.SeatCount).Scan(&fare)
	if err == sql.ErrNoRows {
		var exists bool
		if err := tx.Get(&exists, `
			SELECT EXISTS (
				SELECT 1 FROM trips
				WHERE id = $1 AND status = 'scheduled' AND scheduled_departure > NOW()
			)`, booking.TripID); err != nil {
			return nil, fmt.Errorf("failed to check trip: %w", err)
		}
		if !exists {
			return nil, models.ErrTripNotFound
		}
		return nil, models.ErrInsufficientSeats
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reserve seats: %w", err)
	}

	now := time.Now()
	booking.ID = uuid.New()
	booking.BookingReference = models.GenerateBookingReference()
	booking.AmountDue = fare * float64(booking.SeatCount)
	booking.Status = models.BookingStatusPending
	booking.PaymentDeadline = now.Add(ttl)
	booking.CreatedAt = now
	booking.UpdatedAt = now

	_, err = tx.Exec(`
		INSERT INTO bookings (
			id, booking_reference, trip_id, passenger_ref, passenger_name,
			passenger_phone, seat_count, amount_due, status, payment_deadline,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		booking.ID, booking.BookingReference, booking.TripID, booking.PassengerRef,
		booking.PassengerName, booking.PassengerPhone, booking.SeatCount,
		booking.AmountDue, booking.Status, booking.PaymentDeadline,
		booking.CreatedAt, booking.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	hold := &models.SeatHold{
		ID:        uuid.New(),
		TripID:    booking.TripID,
		BookingID: &booking.ID,
		SeatCount: booking.SeatCount,
		Status:    models.SeatHoldStatusActive,
		CreatedAt: now,
		ExpiresAt: booking.PaymentDeadline,
	}

	_, err = tx.Exec(`
		INSERT INTO seat_holds (id, trip_id, booking_id, seat_count, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		hold.ID, hold.TripID, hold.BookingID, hold.SeatCount, hold.Status, hold.CreatedAt, hold.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create seat hold: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit booking: %w", err)
	}
	return hold, nil
}

// GetBookingByID retrieves a booking by ID
func (r *BookingRepository) GetBookingByID(bookingID uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	err := r.db.Get(&booking, query, bookingID)
	if err == sql.ErrNoRows {
		return nil, models.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &booking, nil
}

// GetBookingByReference retrieves a booking by its BKG reference
func (r *BookingRepository) GetBookingByReference(reference string) (*models.Booking, error) {
	var booking models.Booking
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE booking_reference = $1`

	err := r.db.Get(&booking, query, reference)
	if err == sql.ErrNoRows {
		return nil, models.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &booking, nil
}

// MarkConfirmed moves a pending booking to confirmed
func (r *BookingRepository) MarkConfirmed(bookingID uuid.UUID) error {
	return r.casStatus(bookingID, models.BookingStatusConfirmed, models.BookingStatusPending)
}

// MarkExpired moves a pending booking to expired
func (r *BookingRepository) MarkExpired(bookingID uuid.UUID) error {
	return r.casStatus(bookingID, models.BookingStatusExpired, models.BookingStatusPending)
}

// MarkCancelled moves a pending or confirmed booking to cancelled
func (r *BookingRepository) MarkCancelled(bookingID uuid.UUID) error {
	return r.casStatus(bookingID, models.BookingStatusCancelled,
		models.BookingStatusPending, models.BookingStatusConfirmed)
}

func (r *BookingRepository) casStatus(bookingID uuid.UUID, to models.BookingStatus, from ...models.BookingStatus) error {
	query, args, err := sqlx.In(`
		UPDATE bookings
		SET status = ?, updated_at = NOW()
		WHERE id = ? AND status IN (?)`,
		to, bookingID, from)
	if err != nil {
		return fmt.Errorf("failed to build status update: %w", err)
	}
	query = r.db.Rebind(query)

	result, err := r.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		var current models.BookingStatus
		err := r.db.Get(&current, `SELECT status FROM bookings WHERE id = $1`, bookingID)
		if err == sql.ErrNoRows {
			return models.ErrBookingNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check booking: %w", err)
		}
		if current == to {
			return nil // idempotent
		}
		return models.ErrBookingNotPending
	}
	return nil
}

// ListBookingsByPassenger retrieves bookings for a passenger, newest first
func (r *BookingRepository) ListBookingsByPassenger(passengerRef string, limit, offset int) ([]models.Booking, error) {
	bookings := []models.Booking{}
	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE passenger_ref = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	if err := r.db.Select(&bookings, query, passengerRef, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}
