package services

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// SweepService schedules the background sweeps: reclaiming expired seat
// holds and expiring stale payments.
type SweepService struct {
	cron         *cron.Cron
	reclaimer    *HoldReclaimerService
	orchestrator *PaymentOrchestratorService
	logger       *logrus.Logger
	interval     time.Duration
	batchSize    int
}

// NewSweepService creates a new SweepService
func NewSweepService(
	reclaimer *HoldReclaimerService,
	orchestrator *PaymentOrchestratorService,
	logger *logrus.Logger,
	interval time.Duration,
	batchSize int,
) *SweepService {
	return &SweepService{
		cron:         cron.New(cron.WithSeconds()),
		reclaimer:    reclaimer,
		orchestrator: orchestrator,
		logger:       logger,
		interval:     interval,
		batchSize:    batchSize,
	}
}

// Start schedules and starts the sweeps
func (s *SweepService) Start() error {
	spec := fmt.Sprintf("@every %s", s.interval)

	if _, err := s.cron.AddFunc(spec, s.reclaimHoldsJob); err != nil {
		return fmt.Errorf("failed to schedule hold reclaim job: %w", err)
	}
	if _, err := s.cron.AddFunc(spec, s.expirePaymentsJob); err != nil {
		return fmt.Errorf("failed to schedule payment expiry job: %w", err)
	}

	s.cron.Start()
	s.logger.WithField("interval", s.interval).Info("Sweep service started")
	return nil
}

// Stop stops the sweeps and waits for running jobs to finish
func (s *SweepService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Sweep service stopped")
}

// RunOnce runs both sweeps immediately (manual trigger)
func (s *SweepService) RunOnce() {
	s.reclaimHoldsJob()
	s.expirePaymentsJob()
}

func (s *SweepService) reclaimHoldsJob() {
	start := time.Now()
	released, err := s.reclaimer.RunOnce()
	if err != nil {
		s.logger.WithError(err).Error("Hold reclaim sweep failed")
		return
	}
	if released > 0 {
		s.logger.WithFields(logrus.Fields{
			"released": released,
			"took":     time.Since(start),
		}).Info("Hold reclaim sweep finished")
	}
}

func (s *SweepService) expirePaymentsJob() {
	start := time.Now()
	expired, err := s.orchestrator.ExpireStale(s.batchSize)
	if err != nil {
		s.logger.WithError(err).Error("Payment expiry sweep failed")
		return
	}
	if expired > 0 {
		s.logger.WithFields(logrus.Fields{
			"expired": expired,
			"took":    time.Since(start),
		}).Info("Payment expiry sweep finished")
	}
}
