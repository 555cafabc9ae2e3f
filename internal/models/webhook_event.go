package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEventType identifies which Daraja callback family an event belongs
// to. The same correlation id never appears under two different types.
type WebhookEventType string

const (
	WebhookEventSTKPush   WebhookEventType = "stk_push"
	WebhookEventB2CResult WebhookEventType = "b2c_result"
)

// WebhookEvent is the dedup record for provider callbacks. Uniqueness on
// (correlation_id, idempotency_key) makes redelivered events no-ops; the
// processed flag flips only after the event's effect has committed, so a
// crash between insert and effect leaves the event eligible for reprocessing
// on redelivery.
type WebhookEvent struct {
	ID             uuid.UUID        `json:"id" db:"id"`
	CorrelationID  string           `json:"correlation_id" db:"correlation_id"`
	IdempotencyKey string           `json:"idempotency_key" db:"idempotency_key"`
	EventType      WebhookEventType `json:"event_type" db:"event_type"`
	Payload        JSONB            `json:"payload" db:"payload"`
	Processed      bool             `json:"processed" db:"processed"`
	FailureReason  *string          `json:"failure_reason,omitempty" db:"failure_reason"`
	ReceivedAt     time.Time        `json:"received_at" db:"received_at"`
	ProcessedAt    *time.Time       `json:"processed_at,omitempty" db:"processed_at"`
}
