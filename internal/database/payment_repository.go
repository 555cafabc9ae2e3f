package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/matatufleet/booking-backend/internal/models"
)

// PaymentRepository handles payment transaction database operations
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository creates a new PaymentRepository
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `
	id, booking_id, payment_reference, phone, amount, currency, status,
	checkout_request_id, merchant_request_id, receipt_number,
	failure_reason, gateway_response, initiated_at, completed_at,
	expires_at, created_at, updated_at`

// CreateForBooking records a new pending payment against a pending booking.
// The booking row is locked so two concurrent initiations serialize; only
// one can observe zero non-terminal transactions and insert.
func (r *PaymentRepository) CreateForBooking(payment *models.PaymentTransaction, timeout time.Duration) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var booking struct {
		Status    models.BookingStatus `db:"status"`
		AmountDue float64              `db:"amount_due"`
	}
	err = tx.Get(&booking, `
		SELECT status, amount_due FROM bookings WHERE id = $1 FOR UPDATE`,
		payment.BookingID)
	if err == sql.ErrNoRows {
		return models.ErrBookingNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock booking: %w", err)
	}
	if booking.Status != models.BookingStatusPending {
		return models.ErrBookingNotPending
	}
	if payment.Amount != booking.AmountDue {
		return models.ErrAmountMismatch
	}

	var inFlight int
	err = tx.Get(&inFlight, `
		SELECT COUNT(*) FROM payment_transactions
		WHERE booking_id = $1 AND status IN ('pending', 'processing')`,
		payment.BookingID)
	if err != nil {
		return fmt.Errorf("failed to count in-flight payments: %w", err)
	}
	if inFlight > 0 {
		return models.ErrPaymentInProgress
	}

	now := time.Now()
	payment.ID = uuid.New()
	payment.PaymentReference = models.GeneratePaymentReference()
	payment.Status = models.PaymentStatusPending
	payment.InitiatedAt = now
	payment.ExpiresAt = now.Add(timeout)
	payment.CreatedAt = now
	payment.UpdatedAt = now

	_, err = tx.Exec(`
		INSERT INTO payment_transactions (
			id, booking_id, payment_reference, phone, amount, currency, status,
			initiated_at, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		payment.ID, payment.BookingID, payment.PaymentReference, payment.Phone,
		payment.Amount, payment.Currency, payment.Status,
		payment.InitiatedAt, payment.ExpiresAt, payment.CreatedAt, payment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payment: %w", err)
	}
	return nil
}

// MarkProcessing attaches the provider correlation ids and moves the payment
// from pending to processing once the STK push is accepted
func (r *PaymentRepository) MarkProcessing(paymentID uuid.UUID, checkoutRequestID, merchantRequestID string, gatewayResponse models.JSONB) error {
	query := `
		UPDATE payment_transactions
		SET status = 'processing',
		    checkout_request_id = $2,
		    merchant_request_id = $3,
		    gateway_response = $4,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	result, err := r.db.Exec(query, paymentID, checkoutRequestID, merchantRequestID, gatewayResponse)
	if err != nil {
		return fmt.Errorf("failed to mark payment processing: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return r.classifyConflict(paymentID)
	}
	return nil
}

// MarkCompleted settles a non-terminal payment. The CAS makes duplicate and
// out-of-order callbacks harmless: a second completion matches zero rows.
func (r *PaymentRepository) MarkCompleted(paymentID uuid.UUID, receiptNumber string, gatewayResponse models.JSONB) error {
	query := `
		UPDATE payment_transactions
		SET status = 'completed',
		    receipt_number = $2,
		    gateway_response = COALESCE($3, gateway_response),
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')`

	result, err := r.db.Exec(query, paymentID, receiptNumber, gatewayResponse)
	if err != nil {
		return fmt.Errorf("failed to mark payment completed: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return r.classifyConflict(paymentID)
	}
	return nil
}

// MarkFailed moves a non-terminal payment to failed with a reason
func (r *PaymentRepository) MarkFailed(paymentID uuid.UUID, reason string) error {
	return r.markTerminal(paymentID, models.PaymentStatusFailed, reason)
}

// MarkCancelled moves a non-terminal payment to cancelled
func (r *PaymentRepository) MarkCancelled(paymentID uuid.UUID, reason string) error {
	return r.markTerminal(paymentID, models.PaymentStatusCancelled, reason)
}

func (r *PaymentRepository) markTerminal(paymentID uuid.UUID, to models.PaymentStatus, reason string) error {
	query := `
		UPDATE payment_transactions
		SET status = $2,
		    failure_reason = $3,
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')`

	result, err := r.db.Exec(query, paymentID, to, reason)
	if err != nil {
		return fmt.Errorf("failed to mark payment %s: %w", to, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return r.classifyConflict(paymentID)
	}
	return nil
}

// ExpireStaleBatch expires up to limit payments whose lifecycle deadline has
// passed without a terminal callback, and returns them so their holds can be
// released. SKIP LOCKED keeps concurrent sweepers from contending.
func (r *PaymentRepository) ExpireStaleBatch(limit int) ([]models.PaymentTransaction, error) {
	payments := []models.PaymentTransaction{}
	query := `
		UPDATE payment_transactions
		SET status = 'expired', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM payment_transactions
			WHERE status IN ('pending', 'processing') AND expires_at <= NOW()
			ORDER BY expires_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + paymentColumns

	if err := r.db.Select(&payments, query, limit); err != nil {
		return nil, fmt.Errorf("failed to expire stale payments: %w", err)
	}
	return payments, nil
}

// GetPaymentByID retrieves a payment by ID
func (r *PaymentRepository) GetPaymentByID(paymentID uuid.UUID) (*models.PaymentTransaction, error) {
	var payment models.PaymentTransaction
	query := `SELECT ` + paymentColumns + ` FROM payment_transactions WHERE id = $1`

	err := r.db.Get(&payment, query, paymentID)
	if err == sql.ErrNoRows {
		return nil, models.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &payment, nil
}

// GetPaymentByCheckoutRequestID matches a webhook callback to its payment
func (r *PaymentRepository) GetPaymentByCheckoutRequestID(checkoutRequestID string) (*models.PaymentTransaction, error) {
	var payment models.PaymentTransaction
	query := `SELECT ` + paymentColumns + ` FROM payment_transactions WHERE checkout_request_id = $1`

	err := r.db.Get(&payment, query, checkoutRequestID)
	if err == sql.ErrNoRows {
		return nil, models.ErrUnknownCorrelation
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment by correlation: %w", err)
	}
	return &payment, nil
}

// GetActivePaymentByBooking retrieves the in-flight payment for a booking
func (r *PaymentRepository) GetActivePaymentByBooking(bookingID uuid.UUID) (*models.PaymentTransaction, error) {
	var payment models.PaymentTransaction
	query := `SELECT ` + paymentColumns + `
		FROM payment_transactions
		WHERE booking_id = $1 AND status IN ('pending', 'processing')
		ORDER BY created_at DESC
		LIMIT 1`

	err := r.db.Get(&payment, query, bookingID)
	if err == sql.ErrNoRows {
		return nil, models.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active payment: %w", err)
	}
	return &payment, nil
}

// GetLatestPaymentByBooking retrieves the newest payment for a booking
func (r *PaymentRepository) GetLatestPaymentByBooking(bookingID uuid.UUID) (*models.PaymentTransaction, error) {
	var payment models.PaymentTransaction
	query := `SELECT ` + paymentColumns + `
		FROM payment_transactions
		WHERE booking_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	err := r.db.Get(&payment, query, bookingID)
	if err == sql.ErrNoRows {
		return nil, models.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest payment: %w", err)
	}
	return &payment, nil
}

// classifyConflict maps a failed payment CAS to the precise domain error.
func (r *PaymentRepository) classifyConflict(paymentID uuid.UUID) error {
	var status models.PaymentStatus
	err := r.db.Get(&status, `SELECT status FROM payment_transactions WHERE id = $1`, paymentID)
	if err == sql.ErrNoRows {
		return models.ErrPaymentNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check payment: %w", err)
	}
	if status.IsTerminal() {
		return models.ErrAlreadyTerminal
	}
	return models.ErrPaymentInProgress
}
