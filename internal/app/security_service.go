// internal/app/security_service.go
package app

import (
	"context"
	"encoding/json"
	"time"

	"reward_verification_service/internal/domain/paging"
	"reward_verification_service/internal/domain/security"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultIntrusionWindow is the lookback of the intrusion summary when no since is given.
const DefaultIntrusionWindow = 24 * time.Hour

// AuditEntry describes one admin mutation to record.
type AuditEntry struct {
	AdminID      string
	Action       string
	ResourceType string
	ResourceID   string
	Before       any
	After        any
	IPAddress    string
}

type SecurityService struct {
	repo   security.Repository
	logger *logrus.Entry
	now    func() time.Time
}

func NewSecurityService(repo security.Repository, logger *logrus.Entry) *SecurityService {
	return &SecurityService{
		repo:   repo,
		logger: logger.WithField("component", "security_service"),
		now:    time.Now,
	}
}

// RecordAudit stores an audit entry. Snapshots are serialized to JSON.
func (s *SecurityService) RecordAudit(ctx context.Context, e AuditEntry) error {
	before, err := snapshot(e.Before)
	if err != nil {
		return errors.Wrap(err, "encode before snapshot")
	}
	after, err := snapshot(e.After)
	if err != nil {
		return errors.Wrap(err, "encode after snapshot")
	}
	entry := &security.AuditLog{
		ID:           uuid.New(),
		AdminID:      e.AdminID,
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		BeforeJSON:   before,
		AfterJSON:    after,
		IPAddress:    e.IPAddress,
		CreatedAt:    s.now(),
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		return errors.Wrap(err, "create audit log")
	}
	return nil
}

func snapshot(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *SecurityService) ListAuditLogs(ctx context.Context, filter security.AuditFilter) ([]*security.AuditLog, paging.Pagination, error) {
	filter.Page = filter.Page.Normalize()
	logs, total, err := s.repo.ListAuditLogs(ctx, filter)
	if err != nil {
		return nil, paging.Pagination{}, errors.Wrap(err, "list audit logs")
	}
	return logs, paging.NewPagination(filter.Page, total), nil
}

// RecordIntrusion stores a rejected access attempt and logs it.
func (s *SecurityService) RecordIntrusion(ctx context.Context, ip, path, reason string) error {
	ev := &security.IntrusionEvent{
		ID:        uuid.New(),
		IPAddress: ip,
		Path:      path,
		Reason:    reason,
		CreatedAt: s.now(),
	}
	s.logger.WithFields(logrus.Fields{"ip": ip, "path": path, "reason": reason}).Warn("Rejected admin request")
	if err := s.repo.CreateIntrusionEvent(ctx, ev); err != nil {
		return errors.Wrap(err, "create intrusion event")
	}
	return nil
}

func (s *SecurityService) ListIntrusionEvents(ctx context.Context, filter security.IntrusionFilter) ([]*security.IntrusionEvent, paging.Pagination, error) {
	filter.Page = filter.Page.Normalize()
	events, total, err := s.repo.ListIntrusionEvents(ctx, filter)
	if err != nil {
		return nil, paging.Pagination{}, errors.Wrap(err, "list intrusion events")
	}
	return events, paging.NewPagination(filter.Page, total), nil
}

// SummarizeIntrusions counts events per IP since the given time, busiest first.
// A zero since means the last DefaultIntrusionWindow.
func (s *SecurityService) SummarizeIntrusions(ctx context.Context, since time.Time) ([]security.IPSummary, error) {
	if since.IsZero() {
		since = s.now().Add(-DefaultIntrusionWindow)
	}
	sums, err := s.repo.SummarizeIntrusions(ctx, since)
	if err != nil {
		return nil, errors.Wrap(err, "summarize intrusions")
	}
	if sums == nil {
		sums = []security.IPSummary{}
	}
	return sums, nil
}
