package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matatufleet/booking-backend/internal/database"
	"github.com/matatufleet/booking-backend/internal/models"
)

func newIngest(t *testing.T, db *sqlx.DB, secret string) *WebhookIngestService {
	t.Helper()
	audit := newSilentAudit(t)
	logger := discardLogger()
	orchestrator := newOrchestrator(t, db, &fakeGateway{})
	refunds := NewRefundService(
		database.NewRefundRepository(db),
		database.NewPaymentRepository(db),
		database.NewBookingRepository(db),
		database.NewTripRepository(db),
		&fakeRefundGateway{},
		audit, logger, 1000.00,
	)
	return NewWebhookIngestService(
		database.NewWebhookEventRepository(db),
		orchestrator, refunds, audit, logger, secret,
	)
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func webhookEventRows(eventID uuid.UUID, correlationID, idempotencyKey, eventType string, processed bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "correlation_id", "idempotency_key", "event_type", "payload",
		"processed", "failure_reason", "received_at", "processed_at",
	}).AddRow(eventID, correlationID, idempotencyKey, eventType, []byte(`{}`), processed, nil, time.Now(), nil)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"Body":{}}`)

	t.Run("Valid Signature", func(t *testing.T) {
		db, _ := newServiceDB(t)
		svc := newIngest(t, db, "s3cret")
		assert.NoError(t, svc.VerifySignature(body, sign(body, "s3cret")))
	})

	t.Run("Wrong Signature Rejected", func(t *testing.T) {
		db, _ := newServiceDB(t)
		svc := newIngest(t, db, "s3cret")
		assert.ErrorIs(t, svc.VerifySignature(body, sign(body, "wrong")), models.ErrInvalidSignature)
	})

	t.Run("Tampered Body Rejected", func(t *testing.T) {
		db, _ := newServiceDB(t)
		svc := newIngest(t, db, "s3cret")
		sig := sign(body, "s3cret")
		assert.ErrorIs(t, svc.VerifySignature([]byte(`{"Body":{"x":1}}`), sig), models.ErrInvalidSignature)
	})

	t.Run("Empty Secret Disables Check", func(t *testing.T) {
		db, _ := newServiceDB(t)
		svc := newIngest(t, db, "")
		assert.NoError(t, svc.VerifySignature(body, "anything"))
	})
}

func TestIngestSTKCallback(t *testing.T) {
	body := []byte(`{
		"Body": {"stkCallback": {
			"MerchantRequestID": "mr-001",
			"CheckoutRequestID": "ws_CO_001",
			"ResultCode": 0,
			"ResultDesc": "The service request is processed successfully.",
			"CallbackMetadata": {"Item": [
				{"Name": "Amount", "Value": 1500.0},
				{"Name": "MpesaReceiptNumber", "Value": "SAF12345"}
			]}
		}}
	}`)

	t.Run("Bad Signature Rejected", func(t *testing.T) {
		db, _ := newServiceDB(t)
		svc := newIngest(t, db, "s3cret")

		err := svc.IngestSTKCallback(body, "deadbeef", RequestMeta{IP: "196.201.214.1"})
		assert.ErrorIs(t, err, models.ErrInvalidSignature)
	})

	t.Run("Malformed Payload Rejected", func(t *testing.T) {
		db, _ := newServiceDB(t)
		svc := newIngest(t, db, "")

		err := svc.IngestSTKCallback([]byte(`{"Body":`), "", RequestMeta{})
		assert.ErrorIs(t, err, models.ErrMalformedPayload)

		err = svc.IngestSTKCallback([]byte(`{"Body":{"stkCallback":{}}}`), "", RequestMeta{})
		assert.ErrorIs(t, err, models.ErrMalformedPayload)
	})

	t.Run("Duplicate Of Processed Event Suppressed", func(t *testing.T) {
		db, mock := newServiceDB(t)
		svc := newIngest(t, db, "")

		mock.ExpectExec(`INSERT INTO webhook_events`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT (.+) FROM webhook_events`).
			WithArgs("ws_CO_001", "mr-001").
			WillReturnRows(webhookEventRows(uuid.New(), "ws_CO_001", "mr-001", "stk_push", true))

		assert.NoError(t, svc.IngestSTKCallback(body, "", RequestMeta{}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Redelivery After Transient Failure Reapplies The Effect", func(t *testing.T) {
		db, mock := newServiceDB(t)
		svc := newIngest(t, db, "")

		paymentID := uuid.New()
		bookingID := uuid.New()
		holdID := uuid.New()
		tripID := uuid.New()
		now := time.Now()

		// The first delivery left the row behind unprocessed, so this
		// delivery must drive the payment to completed instead of being
		// swallowed as a duplicate
		mock.ExpectExec(`INSERT INTO webhook_events`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT (.+) FROM webhook_events`).
			WithArgs("ws_CO_001", "mr-001").
			WillReturnRows(webhookEventRows(uuid.New(), "ws_CO_001", "mr-001", "stk_push", false))
		mock.ExpectQuery(`SELECT (.+) FROM payment_transactions WHERE checkout_request_id`).
			WithArgs("ws_CO_001").
			WillReturnRows(paymentRow(paymentID, bookingID, "processing", "ws_CO_001"))
		mock.ExpectExec(`UPDATE payment_transactions`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT (.+) FROM seat_holds`).
			WithArgs(bookingID).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "trip_id", "booking_id", "seat_count", "status", "created_at", "expires_at",
			}).AddRow(holdID, tripID, bookingID, 2, "active", now, now.Add(10*time.Minute)))
		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE seat_holds`).
			WithArgs(holdID).
			WillReturnRows(sqlmock.NewRows([]string{"trip_id", "seat_count"}).AddRow(tripID, 2))
		mock.ExpectExec(`UPDATE trips`).
			WithArgs(tripID, 2).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		mock.ExpectExec(`UPDATE bookings`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE webhook_events`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, svc.IngestSTKCallback(body, "", RequestMeta{}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("First Delivery Confirms Booking And Marks Processed", func(t *testing.T) {
		db, mock := newServiceDB(t)
		svc := newIngest(t, db, "")

		paymentID := uuid.New()
		bookingID := uuid.New()
		holdID := uuid.New()
		tripID := uuid.New()
		now := time.Now()

		mock.ExpectExec(`INSERT INTO webhook_events`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT (.+) FROM payment_transactions WHERE checkout_request_id`).
			WithArgs("ws_CO_001").
			WillReturnRows(paymentRow(paymentID, bookingID, "processing", "ws_CO_001"))
		mock.ExpectExec(`UPDATE payment_transactions`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT (.+) FROM seat_holds`).
			WithArgs(bookingID).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "trip_id", "booking_id", "seat_count", "status", "created_at", "expires_at",
			}).AddRow(holdID, tripID, bookingID, 2, "active", now, now.Add(10*time.Minute)))
		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE seat_holds`).
			WithArgs(holdID).
			WillReturnRows(sqlmock.NewRows([]string{"trip_id", "seat_count"}).AddRow(tripID, 2))
		mock.ExpectExec(`UPDATE trips`).
			WithArgs(tripID, 2).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		mock.ExpectExec(`UPDATE bookings`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE webhook_events`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, svc.IngestSTKCallback(body, "", RequestMeta{}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestIngestB2CResult(t *testing.T) {
	body := []byte(`{
		"Result": {
			"ResultType": 0,
			"ResultCode": 0,
			"ResultDesc": "The service request is processed successfully.",
			"OriginatorConversationID": "oc-001",
			"ConversationID": "AG_001",
			"TransactionID": "SAF77777"
		}
	}`)

	t.Run("Duplicate Of Processed Result Suppressed", func(t *testing.T) {
		db, mock := newServiceDB(t)
		svc := newIngest(t, db, "")

		mock.ExpectExec(`INSERT INTO webhook_events`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT (.+) FROM webhook_events`).
			WithArgs("AG_001", "oc-001").
			WillReturnRows(webhookEventRows(uuid.New(), "AG_001", "oc-001", "b2c_result", true))

		assert.NoError(t, svc.IngestB2CResult(body, "", RequestMeta{}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Redelivery Retries Unapplied Result", func(t *testing.T) {
		db, mock := newServiceDB(t)
		svc := newIngest(t, db, "")

		refundID := uuid.New()
		paymentID := uuid.New()
		bookingID := uuid.New()

		mock.ExpectExec(`INSERT INTO webhook_events`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT (.+) FROM webhook_events`).
			WithArgs("AG_001", "oc-001").
			WillReturnRows(webhookEventRows(uuid.New(), "AG_001", "oc-001", "b2c_result", false))
		mock.ExpectQuery(`SELECT (.+) FROM refund_transactions`).
			WithArgs("AG_001").
			WillReturnRows(refundRow(refundID, paymentID, bookingID, 500.00, "processing", nil))
		mock.ExpectExec(`UPDATE refund_transactions`).
			WithArgs(refundID, "SAF77777").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT (.+) FROM payment_transactions WHERE id`).
			WithArgs(paymentID).
			WillReturnRows(paymentRow(paymentID, bookingID, "completed", "ws_CO_001"))
		mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\) FROM refund_transactions`).
			WithArgs(paymentID).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(500.00))
		mock.ExpectExec(`UPDATE webhook_events`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, svc.IngestB2CResult(body, "", RequestMeta{}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Unknown Correlation Leaves Event Retryable", func(t *testing.T) {
		db, mock := newServiceDB(t)
		svc := newIngest(t, db, "")

		mock.ExpectExec(`INSERT INTO webhook_events`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT (.+) FROM refund_transactions`).
			WithArgs("AG_001").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectExec(`UPDATE webhook_events`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := svc.IngestB2CResult(body, "", RequestMeta{})
		assert.ErrorIs(t, err, models.ErrUnknownCorrelation)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Missing Correlation Rejected", func(t *testing.T) {
		db, _ := newServiceDB(t)
		svc := newIngest(t, db, "")

		err := svc.IngestB2CResult([]byte(`{"Result":{}}`), "", RequestMeta{})
		assert.ErrorIs(t, err, models.ErrMalformedPayload)
	})
}
