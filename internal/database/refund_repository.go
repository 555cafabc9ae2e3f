package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/matatufleet/booking-backend/internal/models"
)

// RefundRepository handles refund transaction database operations
type RefundRepository struct {
	db *sqlx.DB
}

// NewRefundRepository creates a new RefundRepository
func NewRefundRepository(db *sqlx.DB) *RefundRepository {
	return &RefundRepository{db: db}
}

const refundColumns = `
	id, refund_reference, original_payment_id, booking_id, amount, reason,
	notes, requires_approval, approved_by, approved_at, status,
	conversation_id, originator_conversation_id, provider_receipt,
	failure_reason, created_at, updated_at, completed_at`

// CreateRefund records a refund request against a completed payment. The
// payment row is locked while the running refund total is reconciled, so
// concurrent requests cannot jointly exceed the original amount.
func (r *RefundRepository) CreateRefund(refund *models.RefundTransaction) error {
	if refund.Amount <= 0 {
		return models.ErrAmountExceedsOriginal
	}
	if !refund.Reason.Valid() {
		return fmt.Errorf("unknown refund reason %q", refund.Reason)
	}

	tx, err := r.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var payment struct {
		BookingID uuid.UUID            `db:"booking_id"`
		Amount    float64              `db:"amount"`
		Status    models.PaymentStatus `db:"status"`
	}
	err = tx.Get(&payment, `
		SELECT booking_id, amount, status FROM payment_transactions
		WHERE id = $1 FOR UPDATE`,
		refund.OriginalPaymentID)
	if err == sql.ErrNoRows {
		return models.ErrPaymentNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock payment: %w", err)
	}
	if payment.Status != models.PaymentStatusCompleted {
		return models.ErrPaymentNotCompleted
	}

	// Failed and cancelled refunds release their share of the original
	var refunded float64
	err = tx.Get(&refunded, `
		SELECT COALESCE(SUM(amount), 0) FROM refund_transactions
		WHERE original_payment_id = $1 AND status NOT IN ('failed', 'cancelled')`,
		refund.OriginalPaymentID)
	if err != nil {
		return fmt.Errorf("failed to sum refunds: %w", err)
	}
	if refunded+refund.Amount > payment.Amount {
		return models.ErrAmountExceedsOriginal
	}

	now := time.Now()
	refund.ID = uuid.New()
	refund.RefundReference = models.GenerateRefundReference()
	refund.BookingID = payment.BookingID
	refund.CreatedAt = now
	refund.UpdatedAt = now

	_, err = tx.Exec(`
		INSERT INTO refund_transactions (
			id, refund_reference, original_payment_id, booking_id, amount,
			reason, notes, requires_approval, approved_by, approved_at,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		refund.ID, refund.RefundReference, refund.OriginalPaymentID, refund.BookingID,
		refund.Amount, refund.Reason, refund.Notes, refund.RequiresApproval,
		refund.ApprovedBy, refund.ApprovedAt, refund.Status,
		refund.CreatedAt, refund.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create refund: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit refund: %w", err)
	}
	return nil
}

// Approve moves a pending refund to approved
func (r *RefundRepository) Approve(refundID uuid.UUID, approver string) error {
	query := `
		UPDATE refund_transactions
		SET status = 'approved',
		    approved_by = $2,
		    approved_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	result, err := r.db.Exec(query, refundID, approver)
	if err != nil {
		return fmt.Errorf("failed to approve refund: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := r.GetRefundByID(refundID); err != nil {
			return err
		}
		return models.ErrRefundNotPending
	}
	return nil
}

// MarkProcessing claims an approved refund for dispatch. The CAS guarantees
// only one caller proceeds to the provider, so a refund is never sent twice.
func (r *RefundRepository) MarkProcessing(refundID uuid.UUID) error {
	query := `
		UPDATE refund_transactions
		SET status = 'processing', updated_at = NOW()
		WHERE id = $1 AND status = 'approved'`

	result, err := r.db.Exec(query, refundID)
	if err != nil {
		return fmt.Errorf("failed to mark refund processing: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := r.GetRefundByID(refundID); err != nil {
			return err
		}
		return models.ErrRefundNotApproved
	}
	return nil
}

// SetProviderCorrelation attaches the B2C correlation ids once the provider
// accepts the request
func (r *RefundRepository) SetProviderCorrelation(refundID uuid.UUID, conversationID, originatorConversationID string) error {
	query := `
		UPDATE refund_transactions
		SET conversation_id = $2,
		    originator_conversation_id = $3,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`

	_, err := r.db.Exec(query, refundID, conversationID, originatorConversationID)
	if err != nil {
		return fmt.Errorf("failed to set refund correlation: %w", err)
	}
	return nil
}

// MarkCompleted settles a processing refund
func (r *RefundRepository) MarkCompleted(refundID uuid.UUID, providerReceipt string) error {
	query := `
		UPDATE refund_transactions
		SET status = 'completed',
		    provider_receipt = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`

	result, err := r.db.Exec(query, refundID, providerReceipt)
	if err != nil {
		return fmt.Errorf("failed to mark refund completed: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return r.classifyConflict(refundID)
	}
	return nil
}

// MarkFailed moves a processing refund to failed with a reason
func (r *RefundRepository) MarkFailed(refundID uuid.UUID, reason string) error {
	query := `
		UPDATE refund_transactions
		SET status = 'failed',
		    failure_reason = $2,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`

	result, err := r.db.Exec(query, refundID, reason)
	if err != nil {
		return fmt.Errorf("failed to mark refund failed: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return r.classifyConflict(refundID)
	}
	return nil
}

// Cancel withdraws a refund that has not started processing
func (r *RefundRepository) Cancel(refundID uuid.UUID) error {
	query := `
		UPDATE refund_transactions
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'approved')`

	result, err := r.db.Exec(query, refundID)
	if err != nil {
		return fmt.Errorf("failed to cancel refund: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return r.classifyConflict(refundID)
	}
	return nil
}

// GetRefundByID retrieves a refund by ID
func (r *RefundRepository) GetRefundByID(refundID uuid.UUID) (*models.RefundTransaction, error) {
	var refund models.RefundTransaction
	query := `SELECT ` + refundColumns + ` FROM refund_transactions WHERE id = $1`

	err := r.db.Get(&refund, query, refundID)
	if err == sql.ErrNoRows {
		return nil, models.ErrRefundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refund: %w", err)
	}
	return &refund, nil
}

// GetRefundByConversationID matches a B2C result callback to its refund
func (r *RefundRepository) GetRefundByConversationID(conversationID string) (*models.RefundTransaction, error) {
	var refund models.RefundTransaction
	query := `SELECT ` + refundColumns + `
		FROM refund_transactions
		WHERE conversation_id = $1 OR originator_conversation_id = $1`

	err := r.db.Get(&refund, query, conversationID)
	if err == sql.ErrNoRows {
		return nil, models.ErrUnknownCorrelation
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refund by correlation: %w", err)
	}
	return &refund, nil
}

// SumCompletedRefunds returns the total already paid back against a payment
func (r *RefundRepository) SumCompletedRefunds(paymentID uuid.UUID) (float64, error) {
	var total float64
	query := `
		SELECT COALESCE(SUM(amount), 0) FROM refund_transactions
		WHERE original_payment_id = $1 AND status = 'completed'`

	if err := r.db.Get(&total, query, paymentID); err != nil {
		return 0, fmt.Errorf("failed to sum completed refunds: %w", err)
	}
	return total, nil
}

// ListRefundsByPayment retrieves all refunds against a payment
func (r *RefundRepository) ListRefundsByPayment(paymentID uuid.UUID) ([]models.RefundTransaction, error) {
	refunds := []models.RefundTransaction{}
	query := `SELECT ` + refundColumns + `
		FROM refund_transactions
		WHERE original_payment_id = $1
		ORDER BY created_at DESC`

	if err := r.db.Select(&refunds, query, paymentID); err != nil {
		return nil, fmt.Errorf("failed to list refunds: %w", err)
	}
	return refunds, nil
}

func (r *RefundRepository) classifyConflict(refundID uuid.UUID) error {
	var status models.RefundStatus
	err := r.db.Get(&status, `SELECT status FROM refund_transactions WHERE id = $1`, refundID)
	if err == sql.ErrNoRows {
		return models.ErrRefundNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check refund: %w", err)
	}
	if status.IsTerminal() {
		return models.ErrAlreadyTerminal
	}
	return models.ErrRefundNotApproved
}
