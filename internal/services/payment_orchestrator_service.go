package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/matatufleet/booking-backend/internal/database"
	"github.com/matatufleet/booking-backend/internal/models"
	"github.com/matatufleet/booking-backend/pkg/daraja"
)

// PaymentGateway is the slice of the Daraja client the orchestrator needs.
// Tests substitute a fake.
type PaymentGateway interface {
	InitiateSTKPush(ctx context.Context, req daraja.STKPushRequest) (*daraja.STKPushResponse, error)
	QuerySTKStatus(ctx context.Context, checkoutRequestID string) (*daraja.STKQueryResponse, error)
}

// PaymentOrchestratorService drives the payment state machine: pending on
// initiation, processing once the provider accepts the push, then exactly one
// of completed, failed, cancelled, or expired.
type PaymentOrchestratorService struct {
	paymentRepo *database.PaymentRepository
	bookingRepo *database.BookingRepository
	holdRepo    *database.SeatHoldRepository
	gateway     PaymentGateway
	audit       *AuditService
	logger      *logrus.Logger
	currency    string

	// providerTimeout bounds the synchronous STK push call; lifecycleTimeout
	// bounds how long the resulting payment may stay non-terminal.
	providerTimeout  time.Duration
	lifecycleTimeout time.Duration
}

// NewPaymentOrchestratorService creates a new PaymentOrchestratorService
func NewPaymentOrchestratorService(
	paymentRepo *database.PaymentRepository,
	bookingRepo *database.BookingRepository,
	holdRepo *database.SeatHoldRepository,
	gateway PaymentGateway,
	audit *AuditService,
	logger *logrus.Logger,
	currency string,
	providerTimeout, lifecycleTimeout time.Duration,
) *PaymentOrchestratorService {
	return &PaymentOrchestratorService{
		paymentRepo:      paymentRepo,
		bookingRepo:      bookingRepo,
		holdRepo:         holdRepo,
		gateway:          gateway,
		audit:            audit,
		logger:           logger,
		currency:         currency,
		providerTimeout:  providerTimeout,
		lifecycleTimeout: lifecycleTimeout,
	}
}

// Initiate creates a pending payment for a booking and sends the STK Push.
// At most one non-terminal payment may exist per booking; the amount always
// equals the booking's amount due.
func (s *PaymentOrchestratorService) Initiate(ctx context.Context, booking *models.Booking, phone string) (*models.PaymentTransaction, error) {
	normalized, err := daraja.NormalizePhone(phone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMalformedPayload, err)
	}
	// M-Pesa collects whole KES only; a fractional amount due could never be
	// matched by a callback
	if booking.AmountDue != math.Trunc(booking.AmountDue) {
		return nil, fmt.Errorf("%w: amount due %.2f is not a whole number of KES", models.ErrMalformedPayload, booking.AmountDue)
	}

	payment := &models.PaymentTransaction{
		BookingID: booking.ID,
		Phone:     normalized,
		Amount:    booking.AmountDue,
		Currency:  s.currency,
	}
	if err := s.paymentRepo.CreateForBooking(payment, s.lifecycleTimeout); err != nil {
		return nil, err
	}

	s.audit.RecordAsync(models.NewPaymentAudit(models.PaymentEventInitiated, models.PaymentSourceBackend).
		SetPayment(payment.ID, payment.PaymentReference).
		SetBooking(booking.ID).
		SetPaymentStatus(payment.Status))

	pushCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	resp, err := s.gateway.InitiateSTKPush(pushCtx, daraja.STKPushRequest{
		Phone:            normalized,
		Amount:           payment.Amount,
		AccountReference: booking.BookingReference,
		Description:      "Matatu seat booking",
	})
	if err != nil {
		s.logger.WithError(err).WithField("payment_id", payment.ID).Error("STK push failed")
		if markErr := s.paymentRepo.MarkFailed(payment.ID, "provider rejected or unreachable"); markErr != nil {
			s.logger.WithError(markErr).WithField("payment_id", payment.ID).Error("Failed to mark payment failed")
		}
		s.audit.RecordAsync(models.NewPaymentAudit(models.PaymentEventError, models.PaymentSourceMpesaAPI).
			SetPayment(payment.ID, payment.PaymentReference).
			SetError(err.Error()))
		return nil, fmt.Errorf("%w: %v", models.ErrPaymentUnavailable, err)
	}

	gatewayResponse := models.JSONB{
		"merchant_request_id": resp.MerchantRequestID,
		"checkout_request_id": resp.CheckoutRequestID,
		"response_code":       resp.ResponseCode,
		"customer_message":    resp.CustomerMessage,
	}
	if err := s.paymentRepo.MarkProcessing(payment.ID, resp.CheckoutRequestID, resp.MerchantRequestID, gatewayResponse); err != nil {
		return nil, err
	}
	payment.Status = models.PaymentStatusProcessing
	payment.CheckoutRequestID = &resp.CheckoutRequestID
	payment.MerchantRequestID = &resp.MerchantRequestID

	s.audit.RecordAsync(models.NewPaymentAudit(models.PaymentEventProviderResponse, models.PaymentSourceMpesaAPI).
		SetPayment(payment.ID, payment.PaymentReference).
		SetResponsePayload(gatewayResponse).
		SetPaymentStatus(payment.Status))

	s.logger.WithFields(logrus.Fields{
		"payment_id":          payment.ID,
		"booking_id":          booking.ID,
		"checkout_request_id": resp.CheckoutRequestID,
	}).Info("STK push accepted")
	return payment, nil
}

// HandleSTKResult applies a payment outcome delivered on the callback URL.
// The CAS transitions make it idempotent: a duplicate or out-of-order event
// matches a terminal transaction and is logged and ignored.
func (s *PaymentOrchestratorService) HandleSTKResult(cb *daraja.STKCallback, meta RequestMeta) error {
	checkoutID := cb.Body.StkCallback.CheckoutRequestID
	payment, err := s.paymentRepo.GetPaymentByCheckoutRequestID(checkoutID)
	if err != nil {
		return err
	}

	if cb.Succeeded() {
		return s.completePayment(payment, cb, meta)
	}
	return s.failPayment(payment, cb.Body.StkCallback.ResultDesc, meta)
}

func (s *PaymentOrchestratorService) completePayment(payment *models.PaymentTransaction, cb *daraja.STKCallback, meta RequestMeta) error {
	receipt := cb.ReceiptNumber()

	if received, ok := cb.Amount(); ok {
		audit := models.NewPaymentAudit(models.PaymentEventWebhookReceived, models.PaymentSourceMpesaWebhook).
			SetPayment(payment.ID, payment.PaymentReference).
			SetBooking(payment.BookingID)
		if !audit.SetAmounts(payment.Amount, received, payment.Currency) {
			audit.EventType = models.PaymentEventAmountMismatch
			s.audit.Record(ApplyMeta(audit, meta, deref(payment.CheckoutRequestID)))
			s.logger.WithFields(logrus.Fields{
				"payment_id": payment.ID,
				"expected":   payment.Amount,
				"received":   received,
			}).Error("Callback amount does not match payment")
			return models.ErrAmountMismatch
		}
		s.audit.RecordAsync(ApplyMeta(audit, meta, deref(payment.CheckoutRequestID)))
	}

	err := s.paymentRepo.MarkCompleted(payment.ID, receipt, models.JSONB{
		"result_code": cb.Body.StkCallback.ResultCode,
		"result_desc": cb.Body.StkCallback.ResultDesc,
		"receipt":     receipt,
	})
	if errors.Is(err, models.ErrAlreadyTerminal) {
		s.logger.WithField("payment_id", payment.ID).Warn("Ignoring late callback for terminal payment")
		return nil
	}
	if err != nil {
		return err
	}

	s.audit.RecordAsync(models.NewPaymentAudit(models.PaymentEventSuccess, models.PaymentSourceMpesaWebhook).
		SetPayment(payment.ID, payment.PaymentReference).
		SetBooking(payment.BookingID).
		SetPaymentStatus(models.PaymentStatusCompleted))

	return s.confirmBooking(payment)
}

// confirmBooking consumes the hold backing the paid booking. A completed
// payment whose hold already lapsed keeps its money; the mismatch is audited
// for the refund desk instead of being silently reversed.
func (s *PaymentOrchestratorService) confirmBooking(payment *models.PaymentTransaction) error {
	hold, err := s.holdRepo.GetActiveHoldByBooking(payment.BookingID)
	if err == nil {
		err = s.holdRepo.ConsumeHold(hold.ID)
	}
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"payment_id": payment.ID,
			"booking_id": payment.BookingID,
		}).Error("Payment completed but seats could not be confirmed")
		s.audit.Record(models.NewPaymentAudit(models.PaymentEventBookingConfirmFailed, models.PaymentSourceBackend).
			SetPayment(payment.ID, payment.PaymentReference).
			SetBooking(payment.BookingID).
			SetError(err.Error()))
		return nil
	}

	if err := s.bookingRepo.MarkConfirmed(payment.BookingID); err != nil {
		s.logger.WithError(err).WithField("booking_id", payment.BookingID).Error("Failed to confirm booking")
		return err
	}

	s.audit.RecordAsync(models.NewPaymentAudit(models.PaymentEventBookingConfirmed, models.PaymentSourceBackend).
		SetPayment(payment.ID, payment.PaymentReference).
		SetBooking(payment.BookingID))

	s.logger.WithFields(logrus.Fields{
		"payment_id": payment.ID,
		"booking_id": payment.BookingID,
	}).Info("Booking confirmed")
	return nil
}

func (s *PaymentOrchestratorService) failPayment(payment *models.PaymentTransaction, reason string, meta RequestMeta) error {
	err := s.paymentRepo.MarkFailed(payment.ID, reason)
	if errors.Is(err, models.ErrAlreadyTerminal) {
		s.logger.WithField("payment_id", payment.ID).Warn("Ignoring late failure callback for terminal payment")
		return nil
	}
	if err != nil {
		return err
	}

	s.audit.RecordAsync(ApplyMeta(
		models.NewPaymentAudit(models.PaymentEventFailed, models.PaymentSourceMpesaWebhook).
			SetPayment(payment.ID, payment.PaymentReference).
			SetBooking(payment.BookingID).
			SetError(reason),
		meta, deref(payment.CheckoutRequestID)))

	// Free the seats right away; a retry places a fresh hold
	hold, err := s.holdRepo.GetActiveHoldByBooking(payment.BookingID)
	if err == nil {
		if err := s.holdRepo.ReleaseHold(hold.ID); err != nil {
			s.logger.WithError(err).WithField("hold_id", hold.ID).Error("Failed to release hold after payment failure")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"payment_id": payment.ID,
		"reason":     reason,
	}).Info("Payment failed")
	return nil
}

// ExpireStale expires payments whose lifecycle deadline passed without a
// terminal callback and frees the seats they were holding
func (s *PaymentOrchestratorService) ExpireStale(batchSize int) (int, error) {
	payments, err := s.paymentRepo.ExpireStaleBatch(batchSize)
	if err != nil {
		return 0, err
	}

	for _, payment := range payments {
		s.audit.RecordAsync(models.NewPaymentAudit(models.PaymentEventExpired, models.PaymentSourceSweepService).
			SetPayment(payment.ID, payment.PaymentReference).
			SetBooking(payment.BookingID).
			SetPaymentStatus(models.PaymentStatusExpired))

		hold, err := s.holdRepo.GetActiveHoldByBooking(payment.BookingID)
		if err != nil {
			continue
		}
		if err := s.holdRepo.ReleaseHold(hold.ID); err != nil {
			s.logger.WithError(err).WithField("hold_id", hold.ID).Error("Failed to release hold for expired payment")
		}
	}

	if len(payments) > 0 {
		s.logger.WithField("count", len(payments)).Info("Expired stale payments")
	}
	return len(payments), nil
}

// GetPayment retrieves a payment by ID
func (s *PaymentOrchestratorService) GetPayment(paymentID uuid.UUID) (*models.PaymentTransaction, error) {
	return s.paymentRepo.GetPaymentByID(paymentID)
}

// QueryProviderStatus asks the provider for its view of a payment's STK Push.
// It is a reconciliation aid for stuck transactions; state changes still
// arrive only on the callback path.
func (s *PaymentOrchestratorService) QueryProviderStatus(ctx context.Context, paymentID uuid.UUID) (*daraja.STKQueryResponse, error) {
	payment, err := s.paymentRepo.GetPaymentByID(paymentID)
	if err != nil {
		return nil, err
	}
	if payment.CheckoutRequestID == nil {
		// No push was ever accepted, so there is nothing to query
		return nil, models.ErrUnknownCorrelation
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	resp, err := s.gateway.QuerySTKStatus(queryCtx, *payment.CheckoutRequestID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPaymentUnavailable, err)
	}
	return resp, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
