// internal/domain/verification/job.go
package verification

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the state of a database preparation job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// InFlight reports whether a job in this status still blocks a new one.
func (s JobStatus) InFlight() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// PreparationJob tracks the asynchronous build of a cycle's verification databases.
type PreparationJob struct {
	ID                  uuid.UUID  `json:"id"`
	CycleID             uuid.UUID  `json:"cycle_id"`
	Status              JobStatus  `json:"status"`
	TotalBusinesses     int        `json:"total_businesses"`
	ProcessedBusinesses int        `json:"processed_businesses"`
	ErrorMessage        string     `json:"error_message,omitempty"`
	StartedAt           time.Time  `json:"started_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
}
