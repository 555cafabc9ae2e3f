package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matatufleet/booking-backend/internal/database"
)

func newReclaimer(t *testing.T, db *sqlx.DB, batchSize int) *HoldReclaimerService {
	t.Helper()
	return NewHoldReclaimerService(
		database.NewSeatHoldRepository(db),
		database.NewBookingRepository(db),
		database.NewPaymentRepository(db),
		newSilentAudit(t),
		discardLogger(),
		batchSize,
	)
}

func claimedHoldRows(holdID, tripID, bookingID uuid.UUID, seats int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "trip_id", "booking_id", "seat_count", "status", "created_at", "expires_at",
	}).AddRow(holdID, tripID, bookingID, seats, "expiring", now.Add(-11*time.Minute), now.Add(-time.Minute))
}

func expectHoldRelease(mock sqlmock.Sqlmock, holdID, tripID uuid.UUID, seats int) {
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE seat_holds`).
		WithArgs(holdID).
		WillReturnRows(sqlmock.NewRows([]string{"trip_id", "seat_count"}).AddRow(tripID, seats))
	mock.ExpectExec(`UPDATE trips`).
		WithArgs(tripID, seats).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestReclaimRunOnce(t *testing.T) {
	holdID := uuid.New()
	tripID := uuid.New()
	bookingID := uuid.New()
	paymentID := uuid.New()

	t.Run("Releases Hold, Cancels Payment, Expires Booking", func(t *testing.T) {
		db, mock := newServiceDB(t)
		svc := newReclaimer(t, db, 100)

		mock.ExpectQuery(`UPDATE seat_holds`).
			WithArgs(100).
			WillReturnRows(claimedHoldRows(holdID, tripID, bookingID, 2))
		expectHoldRelease(mock, holdID, tripID, 2)
		mock.ExpectQuery(`SELECT (.+) FROM payment_transactions`).
			WithArgs(bookingID).
			WillReturnRows(paymentRow(paymentID, bookingID, "processing", "ws_CO_003"))
		mock.ExpectExec(`UPDATE payment_transactions`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE bookings`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		released, err := svc.RunOnce()
		require.NoError(t, err)
		assert.Equal(t, 1, released)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Nothing To Reclaim", func(t *testing.T) {
		db, mock := newServiceDB(t)
		svc := newReclaimer(t, db, 100)

		mock.ExpectQuery(`UPDATE seat_holds`).
			WithArgs(100).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "trip_id", "booking_id", "seat_count", "status", "created_at", "expires_at",
			}))

		released, err := svc.RunOnce()
		require.NoError(t, err)
		assert.Zero(t, released)
	})

	t.Run("Booking Settled Elsewhere Is Skipped", func(t *testing.T) {
		db, mock := newServiceDB(t)
		svc := newReclaimer(t, db, 100)

		mock.ExpectQuery(`UPDATE seat_holds`).
			WithArgs(100).
			WillReturnRows(claimedHoldRows(holdID, tripID, bookingID, 2))
		expectHoldRelease(mock, holdID, tripID, 2)
		// No in-flight payment for the booking
		mock.ExpectQuery(`SELECT (.+) FROM payment_transactions`).
			WithArgs(bookingID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectExec(`UPDATE bookings`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT status FROM bookings`).
			WithArgs(bookingID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("cancelled"))

		released, err := svc.RunOnce()
		require.NoError(t, err)
		assert.Equal(t, 1, released)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Hold Without Booking Just Frees Seats", func(t *testing.T) {
		db, mock := newServiceDB(t)
		svc := newReclaimer(t, db, 100)

		now := time.Now()
		mock.ExpectQuery(`UPDATE seat_holds`).
			WithArgs(100).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "trip_id", "booking_id", "seat_count", "status", "created_at", "expires_at",
			}).AddRow(holdID, tripID, nil, 3, "expiring", now.Add(-11*time.Minute), now.Add(-time.Minute)))
		expectHoldRelease(mock, holdID, tripID, 3)

		released, err := svc.RunOnce()
		require.NoError(t, err)
		assert.Equal(t, 1, released)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
