package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/matatufleet/booking-backend/internal/models"
)

// SeatHoldRepository handles seat hold database operations. Holds pin seats
// out of a trip's available pool; every mutation here adjusts the hold row
// and the trip's seat counters inside one transaction.
type SeatHoldRepository struct {
	db *sqlx.DB
}

// NewSeatHoldRepository creates a new SeatHoldRepository
func NewSeatHoldRepository(db *sqlx.DB) *SeatHoldRepository {
	return &SeatHoldRepository{db: db}
}

// HoldSeats atomically moves seatCount seats from available to held on a
// bookable trip and records the hold. The conditional decrement on the trip
// row is what linearizes competing holds: of two concurrent requests for the
// last seat, exactly one UPDATE matches.
func (r *SeatHoldRepository) HoldSeats(tripID uuid.UUID, seatCount int, bookingID *uuid.UUID, ttl time.Duration) (*models.SeatHold, error) {
	if seatCount <= 0 {
		return nil, models.ErrInvalidSeatCount
	}

	tx, err := r.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := reserveTripSeats(tx, tripID, seatCount); err != nil {
		return nil, err
	}

	hold := &models.SeatHold{
		ID:        uuid.New(),
		TripID:    tripID,
		BookingID: bookingID,
		SeatCount: seatCount,
		Status:    models.SeatHoldStatusActive,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}
	if err := insertHold(tx, hold); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit seat hold: %w", err)
	}
	return hold, nil
}

// EnsureHoldForBooking returns the booking's live hold, placing a fresh one
// when none exists. The booking row lock serializes concurrent callers, so
// two payment retries can never double-pin seats for one booking: the loser
// of the lock sees the winner's hold and reuses it.
func (r *SeatHoldRepository) EnsureHoldForBooking(bookingID uuid.UUID, ttl time.Duration) (*models.SeatHold, error) {
	tx, err := r.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var booking struct {
		TripID    uuid.UUID            `db:"trip_id"`
		SeatCount int                  `db:"seat_count"`
		Status    models.BookingStatus `db:"status"`
	}
	err = tx.Get(&booking, `
		SELECT trip_id, seat_count, status FROM bookings
		WHERE id = $1 FOR UPDATE`, bookingID)
	if err == sql.ErrNoRows {
		return nil, models.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock booking: %w", err)
	}
	if booking.Status != models.BookingStatusPending {
		return nil, models.ErrBookingNotPending
	}

	var existing models.SeatHold
	err = tx.Get(&existing, `
		SELECT id, trip_id, booking_id, seat_count, status, created_at, expires_at
		FROM seat_holds
		WHERE booking_id = $1 AND status IN ('active', 'expiring')
		ORDER BY created_at DESC
		LIMIT 1`, bookingID)
	if err == nil {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit hold lookup: %w", err)
		}
		return &existing, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to check holds: %w", err)
	}

	if err := reserveTripSeats(tx, booking.TripID, booking.SeatCount); err != nil {
		return nil, err
	}

	hold := &models.SeatHold{
		ID:        uuid.New(),
		TripID:    booking.TripID,
		BookingID: &bookingID,
		SeatCount: booking.SeatCount,
		Status:    models.SeatHoldStatusActive,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}
	if err := insertHold(tx, hold); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit seat hold: %w", err)
	}
	return hold, nil
}

// reserveTripSeats moves seatCount seats out of the available pool of a
// bookable trip within the caller's transaction
func reserveTripSeats(tx *sqlx.Tx, tripID uuid.UUID, seatCount int) error {
	result, err := tx.Exec(`
		UPDATE trips
		SET available_seats = available_seats - $2, updated_at = NOW()
		WHERE id = $1
		  AND status = 'scheduled'
		  AND scheduled_departure > NOW()
		  AND available_seats >= $2`,
		tripID, seatCount)
	if err != nil {
		return fmt.Errorf("failed to reserve seats: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Distinguish a missing/unbookable trip from a full one
		var exists bool
		if err := tx.Get(&exists, `
			SELECT EXISTS (
				SELECT 1 FROM trips
				WHERE id = $1 AND status = 'scheduled' AND scheduled_departure > NOW()
			)`, tripID); err != nil {
			return fmt.Errorf("failed to check trip: %w", err)
		}
		if !exists {
			return models.ErrTripNotFound
		}
		return models.ErrInsufficientSeats
	}
	return nil
}

func insertHold(tx *sqlx.Tx, hold *models.SeatHold) error {
	_, err := tx.Exec(`
		INSERT INTO seat_holds (id, trip_id, booking_id, seat_count, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		hold.ID, hold.TripID, hold.BookingID, hold.SeatCount, hold.Status, hold.CreatedAt, hold.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create seat hold: %w", err)
	}
	return nil
}

// ConsumeHold converts an active unexpired hold into booked seats. The hold
// CAS and the booked counter increment commit together; consuming an expired
// or already-settled hold fails without side effects.
func (r *SeatHoldRepository) ConsumeHold(holdID uuid.UUID) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var tripID uuid.UUID
	var seatCount int
	err = tx.QueryRow(`
		UPDATE seat_holds
		SET status = 'consumed'
		WHERE id = $1 AND status = 'active' AND expires_at > NOW()
		RETURNING trip_id, seat_count`,
		holdID).Scan(&tripID, &seatCount)
	if err == sql.ErrNoRows {
		return r.classifyHoldConflict(tx, holdID)
	}
	if err != nil {
		return fmt.Errorf("failed to consume hold: %w", err)
	}

	result, err := tx.Exec(`
		UPDATE trips
		SET booked_seats = booked_seats + $2, updated_at = NOW()
		WHERE id = $1 AND booked_seats + $2 <= total_seats`,
		tripID, seatCount)
	if err != nil {
		return fmt.Errorf("failed to book seats: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return models.ErrSeatAccounting
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit consume: %w", err)
	}
	return nil
}

// ReleaseHold returns a hold's seats to the available pool. Releasing a hold
// that is already released is a no-op, so webhook and sweep races are safe;
// releasing a consumed hold is a conflict.
func (r *SeatHoldRepository) ReleaseHold(holdID uuid.UUID) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var tripID uuid.UUID
	var seatCount int
	err = tx.QueryRow(`
		UPDATE seat_holds
		SET status = 'released'
		WHERE id = $1 AND status IN ('active', 'expiring')
		RETURNING trip_id, seat_count`,
		holdID).Scan(&tripID, &seatCount)
	if err == sql.ErrNoRows {
		var status models.SeatHoldStatus
		err := tx.Get(&status, `SELECT status FROM seat_holds WHERE id = $1`, holdID)
		if err == sql.ErrNoRows {
			return models.ErrHoldNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check hold: %w", err)
		}
		if status == models.SeatHoldStatusReleased {
			return nil // idempotent
		}
		return models.ErrHoldAlreadyConsumed
	}
	if err != nil {
		return fmt.Errorf("failed to release hold: %w", err)
	}

	// The guard keeps a double release from pushing availability past the
	// seats not already booked
	result, err := tx.Exec(`
		UPDATE trips
		SET available_seats = available_seats + $2, updated_at = NOW()
		WHERE id = $1 AND available_seats + booked_seats + $2 <= total_seats`,
		tripID, seatCount)
	if err != nil {
		return fmt.Errorf("failed to restore seats: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return models.ErrSeatAccounting
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit release: %w", err)
	}
	return nil
}

// ClaimExpiredHolds claims up to limit expired active holds for the reclaim
// sweep by moving them to expiring. SKIP LOCKED lets concurrent sweepers
// partition the backlog instead of blocking on each other.
func (r *SeatHoldRepository) ClaimExpiredHolds(limit int) ([]models.SeatHold, error) {
	holds := []models.SeatHold{}
	query := `
		UPDATE seat_holds
		SET status = 'expiring'
		WHERE id IN (
			SELECT id FROM seat_holds
			WHERE status = 'active' AND expires_at <= NOW()
			ORDER BY expires_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, trip_id, booking_id, seat_count, status, created_at, expires_at`

	if err := r.db.Select(&holds, query, limit); err != nil {
		return nil, fmt.Errorf("failed to claim expired holds: %w", err)
	}
	return holds, nil
}

// GetHoldByID retrieves a seat hold by ID
func (r *SeatHoldRepository) GetHoldByID(holdID uuid.UUID) (*models.SeatHold, error) {
	var hold models.SeatHold
	query := `
		SELECT id, trip_id, booking_id, seat_count, status, created_at, expires_at
		FROM seat_holds
		WHERE id = $1`

	err := r.db.Get(&hold, query, holdID)
	if err == sql.ErrNoRows {
		return nil, models.ErrHoldNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hold: %w", err)
	}
	return &hold, nil
}

// GetActiveHoldByBooking retrieves the unsettled hold backing a booking
func (r *SeatHoldRepository) GetActiveHoldByBooking(bookingID uuid.UUID) (*models.SeatHold, error) {
	var hold models.SeatHold
	query := `
		SELECT id, trip_id, booking_id, seat_count, status, created_at, expires_at
		FROM seat_holds
		WHERE booking_id = $1 AND status IN ('active', 'expiring')
		ORDER BY created_at DESC
		LIMIT 1`

	err := r.db.Get(&hold, query, bookingID)
	if err == sql.ErrNoRows {
		return nil, models.ErrHoldNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hold for booking: %w", err)
	}
	return &hold, nil
}

// classifyHoldConflict maps a failed consume CAS to the precise domain error.
func (r *SeatHoldRepository) classifyHoldConflict(tx *sqlx.Tx, holdID uuid.UUID) error {
	var hold struct {
		Status    models.SeatHoldStatus `db:"status"`
		ExpiresAt time.Time             `db:"expires_at"`
	}
	err := tx.Get(&hold, `SELECT status, expires_at FROM seat_holds WHERE id = $1`, holdID)
	if err == sql.ErrNoRows {
		return models.ErrHoldNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check hold: %w", err)
	}
	switch hold.Status {
	case models.SeatHoldStatusConsumed:
		return models.ErrHoldAlreadyConsumed
	case models.SeatHoldStatusActive, models.SeatHoldStatusExpiring:
		return models.ErrHoldExpired
	default:
		return models.ErrHoldExpired
	}
}
