package services

import (
	"github.com/mssola/user_agent"
	"github.com/sirupsen/logrus"

	"github.com/matatufleet/booking-backend/internal/database"
	"github.com/matatufleet/booking-backend/internal/models"
)

// AuditService writes payment audit rows. Audit failures are logged but never
// fail the operation being audited.
type AuditService struct {
	auditRepo *database.PaymentAuditRepository
	logger    *logrus.Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(auditRepo *database.PaymentAuditRepository, logger *logrus.Logger) *AuditService {
	return &AuditService{
		auditRepo: auditRepo,
		logger:    logger,
	}
}

// Record persists an audit entry synchronously
func (s *AuditService) Record(audit *models.PaymentAudit) {
	if err := s.auditRepo.CreateAudit(audit); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"event_type":   audit.EventType,
			"event_source": audit.EventSource,
		}).Error("Failed to write payment audit")
	}
}

// RecordAsync persists an audit entry without blocking the caller
func (s *AuditService) RecordAsync(audit *models.PaymentAudit) {
	go s.Record(audit)
}

// RequestMeta carries caller metadata attached to audit rows
type RequestMeta struct {
	IP        string
	UserAgent string
}

// NormalizeUserAgent reduces a raw User-Agent header to "browser/version on
// OS" so audit rows stay searchable
func NormalizeUserAgent(raw string) string {
	if raw == "" {
		return ""
	}
	ua := user_agent.New(raw)
	name, version := ua.Browser()
	if name == "" {
		return raw
	}
	os := ua.OS()
	if os == "" {
		return name + "/" + version
	}
	return name + "/" + version + " on " + os
}

// ApplyMeta attaches normalized request metadata to an audit row
func ApplyMeta(audit *models.PaymentAudit, meta RequestMeta, correlationID string) *models.PaymentAudit {
	return audit.SetMetadata(meta.IP, NormalizeUserAgent(meta.UserAgent), correlationID)
}
