package services

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/matatufleet/booking-backend/internal/database"
	"github.com/matatufleet/booking-backend/internal/models"
)

// HoldReclaimerService returns lapsed holds to the seat pool. Each sweep
// claims a batch of expired active holds, releases their seats, and expires
// the bookings that never paid. The claim CAS means a hold consumed by a
// racing payment completion is simply not claimed.
type HoldReclaimerService struct {
	holdRepo    *database.SeatHoldRepository
	bookingRepo *database.BookingRepository
	paymentRepo *database.PaymentRepository
	audit       *AuditService
	logger      *logrus.Logger
	batchSize   int
}

// NewHoldReclaimerService creates a new HoldReclaimerService
func NewHoldReclaimerService(
	holdRepo *database.SeatHoldRepository,
	bookingRepo *database.BookingRepository,
	paymentRepo *database.PaymentRepository,
	audit *AuditService,
	logger *logrus.Logger,
	batchSize int,
) *HoldReclaimerService {
	return &HoldReclaimerService{
		holdRepo:    holdRepo,
		bookingRepo: bookingRepo,
		paymentRepo: paymentRepo,
		audit:       audit,
		logger:      logger,
		batchSize:   batchSize,
	}
}

// RunOnce performs a single reclaim pass and returns how many holds were
// released
func (s *HoldReclaimerService) RunOnce() (int, error) {
	holds, err := s.holdRepo.ClaimExpiredHolds(s.batchSize)
	if err != nil {
		return 0, err
	}
	if len(holds) == 0 {
		return 0, nil
	}

	s.logger.WithField("count", len(holds)).Info("Reclaiming expired seat holds")

	released := 0
	for _, hold := range holds {
		if err := s.reclaim(hold); err != nil {
			s.logger.WithError(err).WithField("hold_id", hold.ID).Error("Failed to reclaim hold")
			continue
		}
		released++
	}
	return released, nil
}

func (s *HoldReclaimerService) reclaim(hold models.SeatHold) error {
	if err := s.holdRepo.ReleaseHold(hold.ID); err != nil {
		return err
	}

	if hold.BookingID == nil {
		return nil
	}
	bookingID := *hold.BookingID

	// Drop any payment still waiting on the customer; its window died with
	// the hold
	if payment, err := s.paymentRepo.GetActivePaymentByBooking(bookingID); err == nil {
		err := s.paymentRepo.MarkCancelled(payment.ID, "seat hold expired before payment completed")
		if err != nil && !errors.Is(err, models.ErrAlreadyTerminal) {
			s.logger.WithError(err).WithField("payment_id", payment.ID).Error("Failed to cancel payment for expired hold")
		}
	}

	err := s.bookingRepo.MarkExpired(bookingID)
	if errors.Is(err, models.ErrBookingNotPending) {
		// Booking settled by another path between claim and expiry
		s.logger.WithField("booking_id", bookingID).Warn("Skipped expiring booking no longer pending")
		return nil
	}
	if err != nil {
		return err
	}

	s.audit.RecordAsync(models.NewPaymentAudit(models.PaymentEventExpired, models.PaymentSourceSweepService).
		SetBooking(bookingID))

	s.logger.WithFields(logrus.Fields{
		"hold_id":    hold.ID,
		"booking_id": bookingID,
		"seat_count": hold.SeatCount,
	}).Info("Expired booking reclaimed")
	return nil
}
