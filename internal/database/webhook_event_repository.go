package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/matatufleet/booking-backend/internal/models"
)

// WebhookEventRepository handles webhook dedup records
type WebhookEventRepository struct {
	db *sqlx.DB
}

// NewWebhookEventRepository creates a new WebhookEventRepository
func NewWebhookEventRepository(db *sqlx.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// InsertEvent records a callback if it has not been seen. Returns false when
// the (correlation_id, idempotency_key) pair already exists; the caller must
// then treat the delivery as a duplicate.
func (r *WebhookEventRepository) InsertEvent(event *models.WebhookEvent) (bool, error) {
	event.ID = uuid.New()
	event.ReceivedAt = time.Now()

	query := `
		INSERT INTO webhook_events (
			id, correlation_id, idempotency_key, event_type, payload,
			processed, received_at
		) VALUES ($1, $2, $3, $4, $5, false, $6)
		ON CONFLICT (correlation_id, idempotency_key) DO NOTHING`

	result, err := r.db.Exec(query,
		event.ID, event.CorrelationID, event.IdempotencyKey, event.EventType,
		event.Payload, event.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert webhook event: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

// MarkProcessed flips the processed flag after the event's effect committed
func (r *WebhookEventRepository) MarkProcessed(eventID uuid.UUID) error {
	query := `
		UPDATE webhook_events
		SET processed = true, processed_at = NOW(), failure_reason = NULL
		WHERE id = $1`

	_, err := r.db.Exec(query, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}
	return nil
}

// MarkFailed records why the event's effect could not be applied. The event
// stays unprocessed so a redelivery can retry it.
func (r *WebhookEventRepository) MarkFailed(eventID uuid.UUID, reason string) error {
	query := `
		UPDATE webhook_events
		SET failure_reason = $2
		WHERE id = $1`

	_, err := r.db.Exec(query, eventID, reason)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event failed: %w", err)
	}
	return nil
}

// GetEvent retrieves a previously recorded delivery
func (r *WebhookEventRepository) GetEvent(correlationID, idempotencyKey string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	query := `
		SELECT id, correlation_id, idempotency_key, event_type, payload,
		       processed, failure_reason, received_at, processed_at
		FROM webhook_events
		WHERE correlation_id = $1 AND idempotency_key = $2`

	err := r.db.Get(&event, query, correlationID, idempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}
	return &event, nil
}
