// internal/domain/verification/database.go
package verification

import (
	"time"

	"github.com/google/uuid"
)

// DatabaseStatus is the state of one business's verification database.
type DatabaseStatus string

const (
	DatabaseStatusPreparing DatabaseStatus = "preparing"
	DatabaseStatusReady     DatabaseStatus = "ready"
	DatabaseStatusSubmitted DatabaseStatus = "submitted"
	DatabaseStatusProcessed DatabaseStatus = "processed"
)

func (s DatabaseStatus) Valid() bool {
	switch s {
	case DatabaseStatusPreparing, DatabaseStatusReady, DatabaseStatusSubmitted, DatabaseStatusProcessed:
		return true
	}
	return false
}

// Database is the per-business export of transactions awaiting confirmation.
// Corresponds to the 'verification_databases' table.
type Database struct {
	ID               uuid.UUID      `json:"id"`
	CycleID          uuid.UUID      `json:"cycle_id"`
	BusinessID       uuid.UUID      `json:"business_id"`
	Status           DatabaseStatus `json:"status"`
	TransactionCount int            `json:"transaction_count"`
	VerifiedCount    int            `json:"verified_count"`
	RejectedCount    int            `json:"rejected_count"`
	SubmittedAt      *time.Time     `json:"submitted_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Locked reports whether the business has already handed the database back.
// A locked database can no longer be regenerated or resubmitted.
func (d *Database) Locked() bool {
	return d.Status == DatabaseStatusSubmitted || d.Status == DatabaseStatusProcessed
}

// Verdict is a business's decision on one transaction.
type Verdict string

const (
	VerdictPending  Verdict = "pending"
	VerdictVerified Verdict = "verified"
	VerdictRejected Verdict = "rejected"
)

// Record is one transaction inside a verification database.
// Corresponds to the 'verification_records' table.
type Record struct {
	ID                uuid.UUID `json:"id"`
	DatabaseID        uuid.UUID `json:"database_id"`
	TransactionID     uuid.UUID `json:"transaction_id"`
	CustomerPhone     string    `json:"customer_phone"`
	TransactionAmount int64     `json:"transaction_amount"` // minor units
	RewardAmount      int64     `json:"reward_amount"`      // minor units
	TransactionTime   time.Time `json:"transaction_time"`
	Verdict           Verdict   `json:"verdict"`
}

// BusinessSummary aggregates the verified records of one business within a cycle.
type BusinessSummary struct {
	BusinessID    uuid.UUID
	VerifiedCount int
	RewardAmount  int64
}
