package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/matatufleet/booking-backend/internal/database"
	"github.com/matatufleet/booking-backend/internal/models"
	"github.com/matatufleet/booking-backend/pkg/daraja"
)

// WebhookIngestService validates, deduplicates, and applies provider
// callbacks. Deliveries are at-least-once; the unique
// (correlation_id, idempotency_key) record plus the idempotent CAS
// transitions downstream make redeliveries harmless.
type WebhookIngestService struct {
	eventRepo    *database.WebhookEventRepository
	orchestrator *PaymentOrchestratorService
	refunds      *RefundService
	audit        *AuditService
	logger       *logrus.Logger
	secret       []byte
}

// NewWebhookIngestService creates a new WebhookIngestService
func NewWebhookIngestService(
	eventRepo *database.WebhookEventRepository,
	orchestrator *PaymentOrchestratorService,
	refunds *RefundService,
	audit *AuditService,
	logger *logrus.Logger,
	secret string,
) *WebhookIngestService {
	return &WebhookIngestService{
		eventRepo:    eventRepo,
		orchestrator: orchestrator,
		refunds:      refunds,
		audit:        audit,
		logger:       logger,
		secret:       []byte(secret),
	}
}

// VerifySignature checks the HMAC-SHA256 hex signature of a callback body.
// Comparison is constant time. An empty configured secret disables the check
// (sandbox only).
func (s *WebhookIngestService) VerifySignature(body []byte, signature string) error {
	if len(s.secret) == 0 {
		return nil
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return models.ErrInvalidSignature
	}
	return nil
}

// IngestSTKCallback processes an STK Push outcome callback. A redelivery of a
// processed event is a no-op; a redelivery of an event whose effect never
// committed re-applies the effect. The dedup record is marked processed only
// after the effect commits, so a transient failure stays retryable.
func (s *WebhookIngestService) IngestSTKCallback(body []byte, signature string, meta RequestMeta) error {
	if err := s.VerifySignature(body, signature); err != nil {
		s.logger.WithField("ip", meta.IP).Warn("Rejected STK callback with bad signature")
		return err
	}

	cb, err := daraja.ParseSTKCallback(body)
	if err != nil || cb.Body.StkCallback.CheckoutRequestID == "" {
		return fmt.Errorf("%w: %v", models.ErrMalformedPayload, err)
	}

	correlationID := cb.Body.StkCallback.CheckoutRequestID
	idempotencyKey := cb.Body.StkCallback.MerchantRequestID
	if idempotencyKey == "" {
		idempotencyKey = bodyDigest(body)
	}

	event := &models.WebhookEvent{
		CorrelationID:  correlationID,
		IdempotencyKey: idempotencyKey,
		EventType:      models.WebhookEventSTKPush,
		Payload:        models.JSONB{"raw": string(body)},
	}
	retry, err := s.admitDelivery(event, body, meta)
	if err != nil || !retry {
		return err
	}

	if err := s.orchestrator.HandleSTKResult(cb, meta); err != nil {
		s.logger.WithError(err).WithField("correlation_id", correlationID).Error("Failed to apply STK callback")
		if markErr := s.eventRepo.MarkFailed(event.ID, err.Error()); markErr != nil {
			s.logger.WithError(markErr).Error("Failed to record webhook failure")
		}
		return err
	}

	return s.eventRepo.MarkProcessed(event.ID)
}

// IngestB2CResult processes a B2C payout result callback for refunds
func (s *WebhookIngestService) IngestB2CResult(body []byte, signature string, meta RequestMeta) error {
	if err := s.VerifySignature(body, signature); err != nil {
		s.logger.WithField("ip", meta.IP).Warn("Rejected B2C result with bad signature")
		return err
	}

	result, err := daraja.ParseB2CResult(body)
	if err != nil || (result.Result.ConversationID == "" && result.Result.OriginatorConversationID == "") {
		return fmt.Errorf("%w: %v", models.ErrMalformedPayload, err)
	}

	correlationID := result.Result.ConversationID
	if correlationID == "" {
		correlationID = result.Result.OriginatorConversationID
	}
	idempotencyKey := result.Result.OriginatorConversationID
	if idempotencyKey == "" {
		idempotencyKey = bodyDigest(body)
	}

	event := &models.WebhookEvent{
		CorrelationID:  correlationID,
		IdempotencyKey: idempotencyKey,
		EventType:      models.WebhookEventB2CResult,
		Payload:        models.JSONB{"raw": string(body)},
	}
	retry, err := s.admitDelivery(event, body, meta)
	if err != nil || !retry {
		return err
	}

	if err := s.refunds.HandleReversalResult(result, meta); err != nil {
		s.logger.WithError(err).WithField("correlation_id", correlationID).Error("Failed to apply B2C result")
		if markErr := s.eventRepo.MarkFailed(event.ID, err.Error()); markErr != nil {
			s.logger.WithError(markErr).Error("Failed to record webhook failure")
		}
		return err
	}

	return s.eventRepo.MarkProcessed(event.ID)
}

// admitDelivery records the delivery and decides whether its effect must be
// applied. A first delivery and a redelivery of an unprocessed event both
// proceed; only a redelivery of an already processed event is suppressed. On
// the redelivery path the prior row's id is carried over so the processed
// flag lands on the right record.
func (s *WebhookIngestService) admitDelivery(event *models.WebhookEvent, body []byte, meta RequestMeta) (bool, error) {
	inserted, err := s.eventRepo.InsertEvent(event)
	if err != nil {
		return false, err
	}
	if inserted {
		return true, nil
	}

	prior, err := s.eventRepo.GetEvent(event.CorrelationID, event.IdempotencyKey)
	if err != nil {
		return false, err
	}
	if prior.Processed {
		s.recordDuplicate(event.CorrelationID, event.IdempotencyKey, body, meta)
		return false, nil
	}

	s.logger.WithFields(logrus.Fields{
		"correlation_id":  event.CorrelationID,
		"idempotency_key": event.IdempotencyKey,
	}).Info("Retrying webhook event whose effect did not commit")
	event.ID = prior.ID
	return true, nil
}

func (s *WebhookIngestService) recordDuplicate(correlationID, idempotencyKey string, body []byte, meta RequestMeta) {
	s.logger.WithFields(logrus.Fields{
		"correlation_id":  correlationID,
		"idempotency_key": idempotencyKey,
	}).Info("Suppressed duplicate webhook delivery")

	s.audit.RecordAsync(ApplyMeta(
		models.NewPaymentAudit(models.PaymentEventWebhookDuplicate, models.PaymentSourceMpesaWebhook).
			SetRawBody(string(body)).
			SetIdempotencyKey(idempotencyKey).
			MarkAsDuplicate(),
		meta, correlationID))
}

func bodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
