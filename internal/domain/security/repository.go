// internal/domain/security/repository.go
package security

import (
	"context"
	"time"

	"reward_verification_service/internal/domain/paging"
)

// AuditFilter narrows ListAuditLogs. Empty fields match anything.
type AuditFilter struct {
	AdminID      string
	Action       string
	ResourceType string
	paging.Page
}

// IntrusionFilter narrows ListIntrusionEvents.
type IntrusionFilter struct {
	IPAddress string
	Since     time.Time // zero = no lower bound
	paging.Page
}

type Repository interface {
	CreateAuditLog(ctx context.Context, entry *AuditLog) error
	ListAuditLogs(ctx context.Context, filter AuditFilter) ([]*AuditLog, int, error)
	CreateIntrusionEvent(ctx context.Context, ev *IntrusionEvent) error
	ListIntrusionEvents(ctx context.Context, filter IntrusionFilter) ([]*IntrusionEvent, int, error)
	// SummarizeIntrusions groups events since the given time by IP, most frequent first.
	SummarizeIntrusions(ctx context.Context, since time.Time) ([]IPSummary, error)
}
