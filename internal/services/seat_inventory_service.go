package services

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/matatufleet/booking-backend/internal/database"
	"github.com/matatufleet/booking-backend/internal/models"
)

// SeatInventoryService is the seat reservation contract: Hold pins seats out
// of the available pool, Consume converts a hold into booked seats, Release
// returns them. Each operation is atomic against concurrent callers.
type SeatInventoryService struct {
	holdRepo *database.SeatHoldRepository
	tripRepo *database.TripRepository
	logger   *logrus.Logger
	holdTTL  time.Duration
}

// NewSeatInventoryService creates a new SeatInventoryService
func NewSeatInventoryService(
	holdRepo *database.SeatHoldRepository,
	tripRepo *database.TripRepository,
	logger *logrus.Logger,
	holdTTL time.Duration,
) *SeatInventoryService {
	return &SeatInventoryService{
		holdRepo: holdRepo,
		tripRepo: tripRepo,
		logger:   logger,
		holdTTL:  holdTTL,
	}
}

// Hold reserves seatCount seats on a trip for the configured TTL
func (s *SeatInventoryService) Hold(tripID uuid.UUID, seatCount int, bookingID *uuid.UUID) (*models.SeatHold, error) {
	hold, err := s.holdRepo.HoldSeats(tripID, seatCount, bookingID, s.holdTTL)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"hold_id":    hold.ID,
		"trip_id":    tripID,
		"seat_count": seatCount,
		"expires_at": hold.ExpiresAt,
	}).Info("Seats held")
	return hold, nil
}

// Consume converts an active hold into booked seats
func (s *SeatInventoryService) Consume(holdID uuid.UUID) error {
	if err := s.holdRepo.ConsumeHold(holdID); err != nil {
		return err
	}
	s.logger.WithField("hold_id", holdID).Info("Seat hold consumed")
	return nil
}

// Release returns a hold's seats to the pool. Safe to call more than once.
func (s *SeatInventoryService) Release(holdID uuid.UUID) error {
	err := s.holdRepo.ReleaseHold(holdID)
	if err == models.ErrSeatAccounting {
		s.logger.WithField("hold_id", holdID).Error("Seat accounting violation on release, rolled back")
		return err
	}
	if err != nil {
		return err
	}
	s.logger.WithField("hold_id", holdID).Info("Seat hold released")
	return nil
}

// GetHold retrieves a hold by ID
func (s *SeatInventoryService) GetHold(holdID uuid.UUID) (*models.SeatHold, error) {
	return s.holdRepo.GetHoldByID(holdID)
}

// VerifyTripAccounting checks the seat invariant for a trip and logs a
// violation without correcting it
func (s *SeatInventoryService) VerifyTripAccounting(tripID uuid.UUID) (bool, error) {
	trip, err := s.tripRepo.GetTripByID(tripID)
	if err != nil {
		return false, err
	}
	held, err := s.tripRepo.ActiveHeldSeats(tripID)
	if err != nil {
		return false, err
	}
	if !trip.SeatAccountingValid(held) {
		s.logger.WithFields(logrus.Fields{
			"trip_id":         tripID,
			"total_seats":     trip.TotalSeats,
			"available_seats": trip.AvailableSeats,
			"booked_seats":    trip.BookedSeats,
			"held_seats":      held,
		}).Error("Seat accounting invariant violated")
		return false, nil
	}
	return true, nil
}
