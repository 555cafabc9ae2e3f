package database

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matatufleet/booking-backend/internal/models"
)

func TestCreateForBooking(t *testing.T) {
	bookingID := uuid.New()

	newPayment := func() *models.PaymentTransaction {
		return &models.PaymentTransaction{
			BookingID: bookingID,
			Phone:     "254712345678",
			Amount:    1500.00,
			Currency:  "KES",
		}
	}

	t.Run("Success", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPaymentRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT status, amount_due FROM bookings`).
			WithArgs(bookingID).
			WillReturnRows(sqlmock.NewRows([]string{"status", "amount_due"}).AddRow("pending", 1500.00))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM payment_transactions`).
			WithArgs(bookingID).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectExec(`INSERT INTO payment_transactions`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		payment := newPayment()
		err := repo.CreateForBooking(payment, 2*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusPending, payment.Status)
		assert.NotEmpty(t, payment.PaymentReference)
		assert.WithinDuration(t, time.Now().Add(2*time.Minute), payment.ExpiresAt, 5*time.Second)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Booking Not Pending", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPaymentRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT status, amount_due FROM bookings`).
			WithArgs(bookingID).
			WillReturnRows(sqlmock.NewRows([]string{"status", "amount_due"}).AddRow("confirmed", 1500.00))
		mock.ExpectRollback()

		err := repo.CreateForBooking(newPayment(), 2*time.Minute)
		assert.ErrorIs(t, err, models.ErrBookingNotPending)
	})

	t.Run("Amount Mismatch", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPaymentRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT status, amount_due FROM bookings`).
			WithArgs(bookingID).
			WillReturnRows(sqlmock.NewRows([]string{"status", "amount_due"}).AddRow("pending", 2000.00))
		mock.ExpectRollback()

		err := repo.CreateForBooking(newPayment(), 2*time.Minute)
		assert.ErrorIs(t, err, models.ErrAmountMismatch)
	})

	t.Run("Payment Already In Flight", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPaymentRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT status, amount_due FROM bookings`).
			WithArgs(bookingID).
			WillReturnRows(sqlmock.NewRows([]string{"status", "amount_due"}).AddRow("pending", 1500.00))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM payment_transactions`).
			WithArgs(bookingID).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectRollback()

		err := repo.CreateForBooking(newPayment(), 2*time.Minute)
		assert.ErrorIs(t, err, models.ErrPaymentInProgress)
	})

	t.Run("Booking Not Found", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPaymentRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT status, amount_due FROM bookings`).
			WithArgs(bookingID).
			WillReturnRows(sqlmock.NewRows([]string{"status", "amount_due"}))
		mock.ExpectRollback()

		err := repo.CreateForBooking(newPayment(), 2*time.Minute)
		assert.ErrorIs(t, err, models.ErrBookingNotFound)
	})
}

func TestMarkCompleted(t *testing.T) {
	paymentID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPaymentRepository(db)

		mock.ExpectExec(`UPDATE payment_transactions`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.MarkCompleted(paymentID, "SAF12345", models.JSONB{"result_code": 0})
		assert.NoError(t, err)
	})

	t.Run("Duplicate Completion Is Terminal Conflict", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPaymentRepository(db)

		mock.ExpectExec(`UPDATE payment_transactions`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT status FROM payment_transactions`).
			WithArgs(paymentID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))

		err := repo.MarkCompleted(paymentID, "SAF12345", nil)
		assert.ErrorIs(t, err, models.ErrAlreadyTerminal)
	})

	t.Run("Unknown Payment", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPaymentRepository(db)

		mock.ExpectExec(`UPDATE payment_transactions`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT status FROM payment_transactions`).
			WithArgs(paymentID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}))

		err := repo.MarkCompleted(paymentID, "SAF12345", nil)
		assert.ErrorIs(t, err, models.ErrPaymentNotFound)
	})
}

func TestExpireStaleBatch(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepository(db)

	paymentID := uuid.New()
	bookingID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`UPDATE payment_transactions`).
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "booking_id", "payment_reference", "phone", "amount", "currency", "status",
			"checkout_request_id", "merchant_request_id", "receipt_number",
			"failure_reason", "gateway_response", "initiated_at", "completed_at",
			"expires_at", "created_at", "updated_at",
		}).AddRow(
			paymentID, bookingID, "PAY-ABC12345", "254712345678", 1500.00, "KES", "expired",
			nil, nil, nil,
			nil, nil, now.Add(-3*time.Minute), nil,
			now.Add(-time.Minute), now.Add(-3*time.Minute), now,
		))

	payments, err := repo.ExpireStaleBatch(100)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentStatusExpired, payments[0].Status)
	assert.Equal(t, bookingID, payments[0].BookingID)
}
