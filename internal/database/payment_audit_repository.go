package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/matatufleet/booking-backend/internal/models"
)

// PaymentAuditRepository appends immutable payment audit rows
type PaymentAuditRepository struct {
	db *sqlx.DB
}

// NewPaymentAuditRepository creates a new PaymentAuditRepository
func NewPaymentAuditRepository(db *sqlx.DB) *PaymentAuditRepository {
	return &PaymentAuditRepository{db: db}
}

// CreateAudit inserts an audit row. Rows are never updated or deleted.
func (r *PaymentAuditRepository) CreateAudit(audit *models.PaymentAudit) error {
	query := `
		INSERT INTO payment_audits (
			id, payment_id, booking_id, payment_reference,
			event_type, event_source,
			expected_amount, received_amount, currency, amounts_match,
			payment_status, request_payload, response_payload, raw_body,
			error_message, is_duplicate, idempotency_key,
			ip_address, user_agent, correlation_id, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21
		)`

	_, err := r.db.Exec(query,
		audit.ID, audit.PaymentID, audit.BookingID, audit.PaymentReference,
		audit.EventType, audit.EventSource,
		audit.ExpectedAmount, audit.ReceivedAmount, audit.Currency, audit.AmountsMatch,
		audit.PaymentStatus, audit.RequestPayload, audit.ResponsePayload, audit.RawBody,
		audit.ErrorMessage, audit.IsDuplicate, audit.IdempotencyKey,
		audit.IPAddress, audit.UserAgent, audit.CorrelationID, audit.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payment audit: %w", err)
	}
	return nil
}
