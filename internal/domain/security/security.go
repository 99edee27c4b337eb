// internal/domain/security/security.go
package security

import (
	"time"

	"github.com/google/uuid"
)

// AuditLog records one admin mutation with before/after snapshots.
type AuditLog struct {
	ID           uuid.UUID `json:"id"`
	AdminID      string    `json:"admin_id"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	BeforeJSON   string    `json:"before,omitempty"`
	AfterJSON    string    `json:"after,omitempty"`
	IPAddress    string    `json:"ip_address"`
	CreatedAt    time.Time `json:"created_at"`
}

// IntrusionEvent records a rejected access attempt.
type IntrusionEvent struct {
	ID        uuid.UUID `json:"id"`
	IPAddress string    `json:"ip_address"`
	Path      string    `json:"path"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// IPSummary is the number of intrusion events seen from one address.
type IPSummary struct {
	IPAddress string    `json:"ip_address"`
	Count     int       `json:"count"`
	LastSeen  time.Time `json:"last_seen"`
}
