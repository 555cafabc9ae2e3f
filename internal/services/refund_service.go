package services

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/matatufleet/booking-backend/internal/database"
	"github.com/matatufleet/booking-backend/internal/models"
	"github.com/matatufleet/booking-backend/pkg/daraja"
)

// RefundGateway is the slice of the Daraja client the refund flow needs
type RefundGateway interface {
	InitiateB2C(ctx context.Context, req daraja.B2CRequest) (*daraja.B2CResponse, error)
}

// RefundService drives the refund state machine: pending on request,
// approved (automatically below the threshold), processing once dispatched
// to B2C, then completed or failed from the result callback.
type RefundService struct {
	refundRepo  *database.RefundRepository
	paymentRepo *database.PaymentRepository
	bookingRepo *database.BookingRepository
	tripRepo    *database.TripRepository
	gateway     RefundGateway
	audit       *AuditService
	logger      *logrus.Logger

	autoApproveLimit float64
}

// NewRefundService creates a new RefundService
func NewRefundService(
	refundRepo *database.RefundRepository,
	paymentRepo *database.PaymentRepository,
	bookingRepo *database.BookingRepository,
	tripRepo *database.TripRepository,
	gateway RefundGateway,
	audit *AuditService,
	logger *logrus.Logger,
	autoApproveLimit float64,
) *RefundService {
	return &RefundService{
		refundRepo:       refundRepo,
		paymentRepo:      paymentRepo,
		bookingRepo:      bookingRepo,
		tripRepo:         tripRepo,
		gateway:          gateway,
		audit:            audit,
		logger:           logger,
		autoApproveLimit: autoApproveLimit,
	}
}

// RequestRefund opens a refund against a completed payment. Amounts above
// the auto-approval threshold wait for a manual Approve.
func (s *RefundService) RequestRefund(paymentID uuid.UUID, amount float64, reason models.RefundReason, notes string) (*models.RefundTransaction, error) {
	if !reason.Valid() {
		return nil, fmt.Errorf("%w: unknown refund reason %q", models.ErrMalformedPayload, reason)
	}
	// B2C pays out whole KES only
	if amount != math.Trunc(amount) {
		return nil, fmt.Errorf("%w: refund amount %.2f is not a whole number of KES", models.ErrMalformedPayload, amount)
	}

	refund := &models.RefundTransaction{
		OriginalPaymentID: paymentID,
		Amount:            amount,
		Reason:            reason,
		Status:            models.RefundStatusPending,
	}
	if notes != "" {
		refund.Notes = &notes
	}
	if amount > s.autoApproveLimit {
		refund.RequiresApproval = true
	} else {
		refund.Status = models.RefundStatusApproved
	}

	if err := s.refundRepo.CreateRefund(refund); err != nil {
		return nil, err
	}

	s.audit.RecordAsync(models.NewPaymentAudit(models.PaymentEventRefundRequested, models.PaymentSourceRefundDesk).
		SetPayment(paymentID, refund.RefundReference).
		SetBooking(refund.BookingID))

	s.logger.WithFields(logrus.Fields{
		"refund_id":         refund.ID,
		"payment_id":        paymentID,
		"amount":            amount,
		"requires_approval": refund.RequiresApproval,
	}).Info("Refund requested")
	return refund, nil
}

// Approve moves a pending refund to approved
func (s *RefundService) Approve(refundID uuid.UUID, approver string) error {
	if err := s.refundRepo.Approve(refundID, approver); err != nil {
		return err
	}

	if refund, err := s.refundRepo.GetRefundByID(refundID); err == nil {
		s.audit.RecordAsync(models.NewPaymentAudit(models.PaymentEventRefundApproved, models.PaymentSourceRefundDesk).
			SetPayment(refund.OriginalPaymentID, refund.RefundReference).
			SetBooking(refund.BookingID))
	}

	s.logger.WithFields(logrus.Fields{
		"refund_id": refundID,
		"approver":  approver,
	}).Info("Refund approved")
	return nil
}

// Process dispatches an approved refund to the provider. The processing CAS
// is taken before the B2C call so two concurrent dispatches cannot both
// send money.
func (s *RefundService) Process(ctx context.Context, refundID uuid.UUID) error {
	refund, err := s.refundRepo.GetRefundByID(refundID)
	if err != nil {
		return err
	}

	payment, err := s.paymentRepo.GetPaymentByID(refund.OriginalPaymentID)
	if err != nil {
		return err
	}

	if err := s.refundRepo.MarkProcessing(refundID); err != nil {
		return err
	}

	resp, err := s.gateway.InitiateB2C(ctx, daraja.B2CRequest{
		Phone:   payment.Phone,
		Amount:  refund.Amount,
		Remarks: fmt.Sprintf("Refund %s", refund.RefundReference),
	})
	if err != nil {
		s.logger.WithError(err).WithField("refund_id", refundID).Error("B2C dispatch failed")
		if markErr := s.refundRepo.MarkFailed(refundID, "provider rejected or unreachable"); markErr != nil {
			s.logger.WithError(markErr).WithField("refund_id", refundID).Error("Failed to mark refund failed")
		}
		s.audit.RecordAsync(models.NewPaymentAudit(models.PaymentEventRefundFailed, models.PaymentSourceMpesaAPI).
			SetPayment(payment.ID, refund.RefundReference).
			SetError(err.Error()))
		return fmt.Errorf("%w: %v", models.ErrPaymentUnavailable, err)
	}

	if err := s.refundRepo.SetProviderCorrelation(refundID, resp.ConversationID, resp.OriginatorConversationID); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"refund_id":       refundID,
		"conversation_id": resp.ConversationID,
	}).Info("Refund dispatched to provider")
	return nil
}

// HandleReversalResult applies a B2C outcome delivered on the result URL.
// Like the payment path it is idempotent: late events for settled refunds
// are logged and ignored.
func (s *RefundService) HandleReversalResult(result *daraja.B2CResult, meta RequestMeta) error {
	conversationID := result.Result.ConversationID
	if conversationID == "" {
		conversationID = result.Result.OriginatorConversationID
	}

	refund, err := s.refundRepo.GetRefundByConversationID(conversationID)
	if err != nil {
		return err
	}

	if !result.Succeeded() {
		err := s.refundRepo.MarkFailed(refund.ID, result.Result.ResultDesc)
		if errors.Is(err, models.ErrAlreadyTerminal) {
			s.logger.WithField("refund_id", refund.ID).Warn("Ignoring late result for terminal refund")
			return nil
		}
		if err != nil {
			return err
		}
		s.audit.RecordAsync(ApplyMeta(
			models.NewPaymentAudit(models.PaymentEventRefundFailed, models.PaymentSourceMpesaWebhook).
				SetPayment(refund.OriginalPaymentID, refund.RefundReference).
				SetBooking(refund.BookingID).
				SetError(result.Result.ResultDesc),
			meta, conversationID))
		return nil
	}

	err = s.refundRepo.MarkCompleted(refund.ID, result.TransactionReceipt())
	if errors.Is(err, models.ErrAlreadyTerminal) {
		s.logger.WithField("refund_id", refund.ID).Warn("Ignoring duplicate result for completed refund")
		return nil
	}
	if err != nil {
		return err
	}

	s.audit.RecordAsync(ApplyMeta(
		models.NewPaymentAudit(models.PaymentEventRefundCompleted, models.PaymentSourceMpesaWebhook).
			SetPayment(refund.OriginalPaymentID, refund.RefundReference).
			SetBooking(refund.BookingID),
		meta, conversationID))

	return s.unwindBookingIfFullyRefunded(refund)
}

// unwindBookingIfFullyRefunded cancels the booking and frees its booked
// seats once the whole payment has been returned. Partial refunds leave the
// booking standing.
func (s *RefundService) unwindBookingIfFullyRefunded(refund *models.RefundTransaction) error {
	payment, err := s.paymentRepo.GetPaymentByID(refund.OriginalPaymentID)
	if err != nil {
		return err
	}
	refunded, err := s.refundRepo.SumCompletedRefunds(refund.OriginalPaymentID)
	if err != nil {
		return err
	}
	if refunded < payment.Amount {
		return nil
	}

	booking, err := s.bookingRepo.GetBookingByID(refund.BookingID)
	if err != nil {
		return err
	}

	if err := s.bookingRepo.MarkCancelled(booking.ID); err != nil && !errors.Is(err, models.ErrBookingNotPending) {
		return err
	}
	if booking.Status == models.BookingStatusConfirmed {
		if err := s.tripRepo.ReleaseBookedSeats(booking.TripID, booking.SeatCount); err != nil {
			s.logger.WithError(err).WithField("booking_id", booking.ID).Error("Failed to free booked seats after refund")
			return err
		}
	}

	s.logger.WithFields(logrus.Fields{
		"refund_id":  refund.ID,
		"booking_id": booking.ID,
	}).Info("Booking cancelled after full refund")
	return nil
}

// Cancel withdraws a refund that has not yet been dispatched. A refund in
// processing or beyond cannot be recalled; the money is already moving.
func (s *RefundService) Cancel(refundID uuid.UUID) error {
	if err := s.refundRepo.Cancel(refundID); err != nil {
		return err
	}
	s.logger.WithField("refund_id", refundID).Info("Refund cancelled")
	return nil
}

// GetRefund retrieves a refund by ID
func (s *RefundService) GetRefund(refundID uuid.UUID) (*models.RefundTransaction, error) {
	return s.refundRepo.GetRefundByID(refundID)
}

// ListForPayment retrieves every refund opened against a payment
func (s *RefundService) ListForPayment(paymentID uuid.UUID) ([]models.RefundTransaction, error) {
	return s.refundRepo.ListRefundsByPayment(paymentID)
}
