package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matatufleet/booking-backend/internal/database"
	"github.com/matatufleet/booking-backend/internal/models"
	"github.com/matatufleet/booking-backend/pkg/daraja"
)

type fakeRefundGateway struct {
	b2cResp  *daraja.B2CResponse
	b2cErr   error
	b2cCalls int
}

func (f *fakeRefundGateway) InitiateB2C(ctx context.Context, req daraja.B2CRequest) (*daraja.B2CResponse, error) {
	f.b2cCalls++
	if f.b2cErr != nil {
		return nil, f.b2cErr
	}
	return f.b2cResp, nil
}

func newRefundSvc(t *testing.T, db *sqlx.DB, gateway RefundGateway) *RefundService {
	t.Helper()
	return NewRefundService(
		database.NewRefundRepository(db),
		database.NewPaymentRepository(db),
		database.NewBookingRepository(db),
		database.NewTripRepository(db),
		gateway,
		newSilentAudit(t),
		discardLogger(),
		1000.00,
	)
}

func refundRow(refundID, paymentID, bookingID uuid.UUID, amount float64, status string, conversationID *string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "refund_reference", "original_payment_id", "booking_id", "amount", "reason",
		"notes", "requires_approval", "approved_by", "approved_at", "status",
		"conversation_id", "originator_conversation_id", "provider_receipt",
		"failure_reason", "created_at", "updated_at", "completed_at",
	}).AddRow(
		refundID, "RFD-TEST0001", paymentID, bookingID, amount, "passenger_request",
		nil, false, nil, nil, status,
		conversationID, nil, nil,
		nil, now, now, nil,
	)
}

func expectRefundCreation(mock sqlmock.Sqlmock, paymentID, bookingID uuid.UUID, paymentAmount, alreadyRefunded float64) {
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT booking_id, amount, status FROM payment_transactions`).
		WithArgs(paymentID).
		WillReturnRows(sqlmock.NewRows([]string{"booking_id", "amount", "status"}).
			AddRow(bookingID, paymentAmount, "completed"))
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\) FROM refund_transactions`).
		WithArgs(paymentID).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(alreadyRefunded))
	mock.ExpectExec(`INSERT INTO refund_transactions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestRequestRefund(t *testing.T) {
	paymentID := uuid.New()
	bookingID := uuid.New()

	t.Run("Below Threshold Is Auto-Approved", func(t *testing.T) {
		db, mock := newServiceDB(t)
		svc := newRefundSvc(t, db, &fakeRefundGateway{})

		expectRefundCreation(mock, paymentID, bookingID, 1500.00, 0)

		refund, err := svc.RequestRefund(paymentID, 800.00, models.RefundReasonPassengerRequest, "")
		require.NoError(t, err)
		assert.Equal(t, models.RefundStatusApproved, refund.Status)
		assert.False(t, refund.RequiresApproval)
	})

	t.Run("Above Threshold Waits For Approval", func(t *testing.T) {
		db, mock := newServiceDB(t)
		svc := newRefundSvc(t, db, &fakeRefundGateway{})

		expectRefundCreation(mock, paymentID, bookingID, 1500.00, 0)

		refund, err := svc.RequestRefund(paymentID, 1500.00, models.RefundReasonTripCancelledByOperator, "full fare back")
		require.NoError(t, err)
		assert.Equal(t, models.RefundStatusPending, refund.Status)
		assert.True(t, refund.RequiresApproval)
	})

	t.Run("Exactly At Threshold Is Auto-Approved", func(t *testing.T) {
		db, mock := newServiceDB(t)
		svc := newRefundSvc(t, db, &fakeRefundGateway{})

		expectRefundCreation(mock, paymentID, bookingID, 1500.00, 0)

		refund, err := svc.RequestRefund(paymentID, 1000.00, models.RefundReasonPassengerRequest, "")
		require.NoError(t, err)
		assert.Equal(t, models.RefundStatusApproved, refund.Status)
	})

	t.Run("Fractional Amount Rejected", func(t *testing.T) {
		db, _ := newServiceDB(t)
		svc := newRefundSvc(t, db, &fakeRefundGateway{})

		_, err := svc.RequestRefund(paymentID, 499.99, models.RefundReasonPassengerRequest, "")
		assert.ErrorIs(t, err, models.ErrMalformedPayload)
	})

	t.Run("Unknown Reason Rejected", func(t *testing.T) {
		db, _ := newServiceDB(t)
		svc := newRefundSvc(t, db, &fakeRefundGateway{})

		_, err := svc.RequestRefund(paymentID, 500.00, models.RefundReason("buyer_remorse"), "")
		assert.ErrorIs(t, err, models.ErrMalformedPayload)
	})
}

func TestProcessRefund(t *testing.T) {
	refundID := uuid.New()
	paymentID := uuid.New()
	bookingID := uuid.New()

	t.Run("Dispatches Approved Refund", func(t *testing.T) {
		db, mock := newServiceDB(t)
		gateway := &fakeRefundGateway{b2cResp: &daraja.B2CResponse{
			ConversationID:           "AG_001",
			OriginatorConversationID: "oc-001",
			ResponseCode:             "0",
		}}
		svc := newRefundSvc(t, db, gateway)

		mock.ExpectQuery(`SELECT (.+) FROM refund_transactions WHERE id`).
			WithArgs(refundID).
			WillReturnRows(refundRow(refundID, paymentID, bookingID, 500.00, "approved", nil))
		mock.ExpectQuery(`SELECT (.+) FROM payment_transactions WHERE id`).
			WithArgs(paymentID).
			WillReturnRows(paymentRow(paymentID, bookingID, "completed", "ws_CO_001"))
		mock.ExpectExec(`UPDATE refund_transactions`).
			WithArgs(refundID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE refund_transactions`).
			WithArgs(refundID, "AG_001", "oc-001").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, svc.Process(context.Background(), refundID))
		assert.Equal(t, 1, gateway.b2cCalls)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Lost Claim Never Calls Provider", func(t *testing.T) {
		db, mock := newServiceDB(t)
		gateway := &fakeRefundGateway{}
		svc := newRefundSvc(t, db, gateway)

		mock.ExpectQuery(`SELECT (.+) FROM refund_transactions WHERE id`).
			WithArgs(refundID).
			WillReturnRows(refundRow(refundID, paymentID, bookingID, 500.00, "processing", nil))
		mock.ExpectQuery(`SELECT (.+) FROM payment_transactions WHERE id`).
			WithArgs(paymentID).
			WillReturnRows(paymentRow(paymentID, bookingID, "completed", "ws_CO_001"))
		mock.ExpectExec(`UPDATE refund_transactions`).
			WithArgs(refundID).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT (.+) FROM refund_transactions WHERE id`).
			WithArgs(refundID).
			WillReturnRows(refundRow(refundID, paymentID, bookingID, 500.00, "processing", nil))

		err := svc.Process(context.Background(), refundID)
		assert.ErrorIs(t, err, models.ErrRefundNotApproved)
		assert.Zero(t, gateway.b2cCalls)
	})

	t.Run("Provider Failure Marks Refund Failed", func(t *testing.T) {
		db, mock := newServiceDB(t)
		gateway := &fakeRefundGateway{b2cErr: errors.New("connection refused")}
		svc := newRefundSvc(t, db, gateway)

		mock.ExpectQuery(`SELECT (.+) FROM refund_transactions WHERE id`).
			WithArgs(refundID).
			WillReturnRows(refundRow(refundID, paymentID, bookingID, 500.00, "approved", nil))
		mock.ExpectQuery(`SELECT (.+) FROM payment_transactions WHERE id`).
			WithArgs(paymentID).
			WillReturnRows(paymentRow(paymentID, bookingID, "completed", "ws_CO_001"))
		mock.ExpectExec(`UPDATE refund_transactions`).
			WithArgs(refundID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE refund_transactions`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := svc.Process(context.Background(), refundID)
		assert.ErrorIs(t, err, models.ErrPaymentUnavailable)
	})
}

func TestCancelRefund(t *testing.T) {
	refundID := uuid.New()

	t.Run("Cancels Undispatched Refund", func(t *testing.T) {
		db, mock := newServiceDB(t)
		svc := newRefundSvc(t, db, &fakeRefundGateway{})

		mock.ExpectExec(`UPDATE refund_transactions`).
			WithArgs(refundID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, svc.Cancel(refundID))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Dispatched Refund Cannot Be Recalled", func(t *testing.T) {
		db, mock := newServiceDB(t)
		svc := newRefundSvc(t, db, &fakeRefundGateway{})

		mock.ExpectExec(`UPDATE refund_transactions`).
			WithArgs(refundID).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT status FROM refund_transactions`).
			WithArgs(refundID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("processing"))

		assert.ErrorIs(t, svc.Cancel(refundID), models.ErrRefundNotApproved)
	})

	t.Run("Settled Refund Cannot Be Cancelled", func(t *testing.T) {
		db, mock := newServiceDB(t)
		svc := newRefundSvc(t, db, &fakeRefundGateway{})

		mock.ExpectExec(`UPDATE refund_transactions`).
			WithArgs(refundID).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT status FROM refund_transactions`).
			WithArgs(refundID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))

		assert.ErrorIs(t, svc.Cancel(refundID), models.ErrAlreadyTerminal)
	})
}

func TestHandleReversalResult(t *testing.T) {
	refundID := uuid.New()
	paymentID := uuid.New()
	bookingID := uuid.New()
	tripID := uuid.New()
	conversationID := "AG_001"

	successBody := []byte(`{
		"Result": {
			"ResultCode": 0,
			"ResultDesc": "The service request is processed successfully.",
			"OriginatorConversationID": "oc-001",
			"ConversationID": "AG_001",
			"TransactionID": "SAF77777"
		}
	}`)
	failureBody := []byte(`{
		"Result": {
			"ResultCode": 2001,
			"ResultDesc": "The initiator information is invalid.",
			"ConversationID": "AG_001"
		}
	}`)

	bookingRowFor := func(status string, seats int) *sqlmock.Rows {
		now := time.Now()
		return sqlmock.NewRows([]string{
			"id", "booking_reference", "trip_id", "passenger_ref", "passenger_name",
			"passenger_phone", "seat_count", "amount_due", "status", "payment_deadline",
			"created_at", "updated_at",
		}).AddRow(
			bookingID, "BKG-TEST0001", tripID, "psg-1", "Amina Odhiambo",
			"254712345678", seats, 1500.00, status, now.Add(10*time.Minute),
			now, now,
		)
	}

	t.Run("Full Refund Unwinds Confirmed Booking", func(t *testing.T) {
		db, mock := newServiceDB(t)
		svc := newRefundSvc(t, db, &fakeRefundGateway{})

		mock.ExpectQuery(`SELECT (.+) FROM refund_transactions`).
			WithArgs(conversationID).
			WillReturnRows(refundRow(refundID, paymentID, bookingID, 1500.00, "processing", &conversationID))
		mock.ExpectExec(`UPDATE refund_transactions`).
			WithArgs(refundID, "SAF77777").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT (.+) FROM payment_transactions WHERE id`).
			WithArgs(paymentID).
			WillReturnRows(paymentRow(paymentID, bookingID, "completed", "ws_CO_001"))
		mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\) FROM refund_transactions`).
			WithArgs(paymentID).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(1500.00))
		mock.ExpectQuery(`SELECT (.+) FROM bookings WHERE id`).
			WithArgs(bookingID).
			WillReturnRows(bookingRowFor("confirmed", 2))
		mock.ExpectExec(`UPDATE bookings`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE trips`).
			WithArgs(tripID, 2).
			WillReturnResult(sqlmock.NewResult(0, 1))

		result, err := daraja.ParseB2CResult(successBody)
		require.NoError(t, err)

		require.NoError(t, svc.HandleReversalResult(result, RequestMeta{}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Partial Refund Leaves Booking Standing", func(t *testing.T) {
		db, mock := newServiceDB(t)
		svc := newRefundSvc(t, db, &fakeRefundGateway{})

		mock.ExpectQuery(`SELECT (.+) FROM refund_transactions`).
			WithArgs(conversationID).
			WillReturnRows(refundRow(refundID, paymentID, bookingID, 500.00, "processing", &conversationID))
		mock.ExpectExec(`UPDATE refund_transactions`).
			WithArgs(refundID, "SAF77777").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT (.+) FROM payment_transactions WHERE id`).
			WithArgs(paymentID).
			WillReturnRows(paymentRow(paymentID, bookingID, "completed", "ws_CO_001"))
		mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\) FROM refund_transactions`).
			WithArgs(paymentID).
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(500.00))

		result, err := daraja.ParseB2CResult(successBody)
		require.NoError(t, err)

		require.NoError(t, svc.HandleReversalResult(result, RequestMeta{}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Failed Payout Marks Refund Failed", func(t *testing.T) {
		db, mock := newServiceDB(t)
		svc := newRefundSvc(t, db, &fakeRefundGateway{})

		mock.ExpectQuery(`SELECT (.+) FROM refund_transactions`).
			WithArgs(conversationID).
			WillReturnRows(refundRow(refundID, paymentID, bookingID, 500.00, "processing", &conversationID))
		mock.ExpectExec(`UPDATE refund_transactions`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		result, err := daraja.ParseB2CResult(failureBody)
		require.NoError(t, err)

		require.NoError(t, svc.HandleReversalResult(result, RequestMeta{}))
	})

	t.Run("Duplicate Result For Settled Refund Ignored", func(t *testing.T) {
		db, mock := newServiceDB(t)
		svc := newRefundSvc(t, db, &fakeRefundGateway{})

		mock.ExpectQuery(`SELECT (.+) FROM refund_transactions`).
			WithArgs(conversationID).
			WillReturnRows(refundRow(refundID, paymentID, bookingID, 500.00, "completed", &conversationID))
		mock.ExpectExec(`UPDATE refund_transactions`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT status FROM refund_transactions`).
			WithArgs(refundID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))

		result, err := daraja.ParseB2CResult(successBody)
		require.NoError(t, err)

		assert.NoError(t, svc.HandleReversalResult(result, RequestMeta{}))
	})
}
