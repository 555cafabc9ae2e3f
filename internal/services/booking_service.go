package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/matatufleet/booking-backend/internal/database"
	"github.com/matatufleet/booking-backend/internal/models"
)

// BookingService composes seat reservation and payment initiation into the
// passenger-facing booking flow.
type BookingService struct {
	bookingRepo  *database.BookingRepository
	holdRepo     *database.SeatHoldRepository
	paymentRepo  *database.PaymentRepository
	orchestrator *PaymentOrchestratorService
	refunds      *RefundService
	logger       *logrus.Logger

	holdTTL time.Duration
}

// NewBookingService creates a new BookingService
func NewBookingService(
	bookingRepo *database.BookingRepository,
	holdRepo *database.SeatHoldRepository,
	paymentRepo *database.PaymentRepository,
	orchestrator *PaymentOrchestratorService,
	refunds *RefundService,
	logger *logrus.Logger,
	holdTTL time.Duration,
) *BookingService {
	return &BookingService{
		bookingRepo:  bookingRepo,
		holdRepo:     holdRepo,
		paymentRepo:  paymentRepo,
		orchestrator: orchestrator,
		refunds:      refunds,
		logger:       logger,
		holdTTL:      holdTTL,
	}
}

// CreateBooking reserves seats and starts payment in one flow. A capacity or
// trip failure yields a Rejected outcome with no residue; a provider failure
// leaves the booking pending so payment can be retried.
func (s *BookingService) CreateBooking(ctx context.Context, req *models.CreateBookingRequest) (*models.CreateBookingResponse, error) {
	tripID, err := uuid.Parse(req.TripID)
	if err != nil {
		return nil, models.ErrTripNotFound
	}

	booking := &models.Booking{
		TripID:         tripID,
		PassengerRef:   req.PassengerRef,
		PassengerName:  req.PassengerName,
		PassengerPhone: req.PassengerPhone,
		SeatCount:      req.SeatCount,
	}

	hold, err := s.bookingRepo.CreateWithHold(booking, s.holdTTL)
	if err != nil {
		if errors.Is(err, models.ErrInsufficientSeats) || errors.Is(err, models.ErrTripNotFound) ||
			errors.Is(err, models.ErrInvalidSeatCount) {
			return &models.CreateBookingResponse{
				Outcome: models.OutcomeRejected,
				Reason:  err.Error(),
			}, nil
		}
		return nil, err
	}

	resp := &models.CreateBookingResponse{
		Outcome:          models.OutcomePendingPayment,
		BookingID:        booking.ID,
		BookingReference: booking.BookingReference,
		AmountDue:        booking.AmountDue,
		HoldExpiresAt:    hold.ExpiresAt,
	}

	payment, err := s.orchestrator.Initiate(ctx, booking, req.PassengerPhone)
	if err != nil {
		// Seats stay held; the passenger can retry payment until the hold
		// lapses
		s.logger.WithError(err).WithField("booking_id", booking.ID).Warn("Payment initiation failed at booking time")
		resp.Reason = "payment initiation failed, retry payment"
		return resp, nil
	}
	resp.PaymentID = &payment.ID

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"payment_id": payment.ID,
		"trip_id":    tripID,
	}).Info("Booking created")
	return resp, nil
}

// GetBookingStatus returns the booking with its latest payment state
func (s *BookingService) GetBookingStatus(bookingID uuid.UUID) (*models.BookingStatusResponse, error) {
	booking, err := s.bookingRepo.GetBookingByID(bookingID)
	if err != nil {
		return nil, err
	}
	return s.statusResponse(booking), nil
}

// GetBookingStatusByReference resolves a BKG reference to its booking status.
// References are what passengers read off their SMS, so lookups accept them
// interchangeably with ids.
func (s *BookingService) GetBookingStatusByReference(reference string) (*models.BookingStatusResponse, error) {
	booking, err := s.bookingRepo.GetBookingByReference(reference)
	if err != nil {
		return nil, err
	}
	return s.statusResponse(booking), nil
}

// ListBookings returns a passenger's bookings, newest first
func (s *BookingService) ListBookings(passengerRef string, limit, offset int) ([]models.Booking, error) {
	return s.bookingRepo.ListBookingsByPassenger(passengerRef, limit, offset)
}

func (s *BookingService) statusResponse(booking *models.Booking) *models.BookingStatusResponse {
	resp := &models.BookingStatusResponse{
		BookingID:        booking.ID,
		BookingReference: booking.BookingReference,
		Status:           booking.Status,
		SeatCount:        booking.SeatCount,
		AmountDue:        booking.AmountDue,
	}

	if payment, err := s.paymentRepo.GetLatestPaymentByBooking(booking.ID); err == nil {
		resp.PaymentID = &payment.ID
		resp.PaymentStatus = &payment.Status
	}
	return resp
}

// RetryPayment starts a fresh payment on a pending booking. If the original
// hold was released by a failed payment, a new hold is placed first; the
// store does that under a booking row lock, so concurrent retries end up
// sharing one hold instead of each pinning seats.
func (s *BookingService) RetryPayment(ctx context.Context, bookingID uuid.UUID, phone string) (*models.PaymentTransaction, error) {
	booking, err := s.bookingRepo.GetBookingByID(bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingStatusPending {
		return nil, models.ErrBookingNotPending
	}

	if _, err := s.holdRepo.EnsureHoldForBooking(bookingID, s.holdTTL); err != nil {
		return nil, err
	}

	return s.orchestrator.Initiate(ctx, booking, phone)
}

// CancelBooking cancels a booking. Pending bookings release their hold and
// void any in-flight payment; confirmed bookings open a passenger refund for
// the full amount instead of cancelling outright.
func (s *BookingService) CancelBooking(bookingID uuid.UUID) (*models.RefundTransaction, error) {
	booking, err := s.bookingRepo.GetBookingByID(bookingID)
	if err != nil {
		return nil, err
	}

	switch booking.Status {
	case models.BookingStatusPending:
		if payment, err := s.paymentRepo.GetActivePaymentByBooking(bookingID); err == nil {
			err := s.paymentRepo.MarkCancelled(payment.ID, "booking cancelled by passenger")
			if err != nil && !errors.Is(err, models.ErrAlreadyTerminal) {
				return nil, err
			}
		}
		if hold, err := s.holdRepo.GetActiveHoldByBooking(bookingID); err == nil {
			if err := s.holdRepo.ReleaseHold(hold.ID); err != nil {
				return nil, err
			}
		}
		if err := s.bookingRepo.MarkCancelled(bookingID); err != nil {
			return nil, err
		}
		s.logger.WithField("booking_id", bookingID).Info("Pending booking cancelled")
		return nil, nil

	case models.BookingStatusConfirmed:
		payment, err := s.paymentRepo.GetLatestPaymentByBooking(bookingID)
		if err != nil {
			return nil, models.ErrBookingNotRefundable
		}
		if payment.Status != models.PaymentStatusCompleted {
			return nil, models.ErrBookingNotRefundable
		}
		refund, err := s.refunds.RequestRefund(payment.ID, payment.Amount, models.RefundReasonPassengerRequest, "booking cancellation")
		if err != nil {
			return nil, err
		}
		s.logger.WithFields(logrus.Fields{
			"booking_id": bookingID,
			"refund_id":  refund.ID,
		}).Info("Refund opened for confirmed booking cancellation")
		return refund, nil

	default:
		return nil, models.ErrBookingNotPending
	}
}
