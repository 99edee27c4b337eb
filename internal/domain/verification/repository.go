// internal/domain/verification/repository.go
package verification

import (
	"context"
	"errors"
	"time"

	"reward_verification_service/internal/domain/paging"

	"github.com/google/uuid"
)

var (
	ErrCycleNotFound       = errors.New("verification cycle not found")
	ErrDuplicateCycleWeek  = errors.New("verification cycle already exists for week")
	ErrStaleCycleStatus    = errors.New("verification cycle status changed concurrently")
	ErrDatabaseNotFound    = errors.New("verification database not found")
	ErrDuplicateDatabase   = errors.New("verification database already exists for business in cycle")
	ErrRecordNotFound      = errors.New("verification record not found")
	ErrJobNotFound         = errors.New("preparation job not found")
	ErrJobInFlight         = errors.New("preparation job already in flight for cycle")
	ErrDatabaseNotWritable = errors.New("verification database is not accepting results")
	ErrVerdictsIncomplete  = errors.New("verdicts do not cover every record of the database")
)

// CycleFilter narrows ListCycles.
type CycleFilter struct {
	Status CycleStatus // empty = any
	paging.Page
}

// DatabaseFilter narrows ListDatabases.
type DatabaseFilter struct {
	CycleID uuid.UUID
	Status  DatabaseStatus // empty = any
	paging.Page
}

// Repository defines persistence for cycles, their databases, records and preparation jobs.
type Repository interface {
	// Cycle methods
	CreateCycle(ctx context.Context, cycle *Cycle) error
	GetCycleByID(ctx context.Context, id uuid.UUID) (*Cycle, error)
	GetCycleByWeek(ctx context.Context, week time.Time) (*Cycle, error)
	ListCycles(ctx context.Context, filter CycleFilter) ([]*Cycle, int, error)
	// UpdateCycleStatus moves the cycle only if it is still in 'from'; otherwise ErrStaleCycleStatus.
	UpdateCycleStatus(ctx context.Context, id uuid.UUID, from, to CycleStatus) (*Cycle, error)
	SetCycleDatabaseCount(ctx context.Context, id uuid.UUID, count int) error
	ListCyclesPastDeadline(ctx context.Context, now time.Time, statuses []CycleStatus) ([]*Cycle, error)

	// Database methods
	CreateDatabase(ctx context.Context, db *Database) error
	GetDatabaseByID(ctx context.Context, id uuid.UUID) (*Database, error)
	GetDatabaseByCycleAndBusiness(ctx context.Context, cycleID, businessID uuid.UUID) (*Database, error)
	ListDatabases(ctx context.Context, filter DatabaseFilter) ([]*Database, int, error)
	ListDatabasesByCycle(ctx context.Context, cycleID uuid.UUID) ([]*Database, error)
	UpdateDatabase(ctx context.Context, db *Database) error
	// MarkDatabasesProcessed promotes every submitted database of move's cycle to processed
	// and applies move in the same transaction. Nothing is written if the cycle left move.From.
	MarkDatabasesProcessed(ctx context.Context, move CycleMove) (*Cycle, int, error)

	// Record methods
	// ReplaceRecords swaps the database's records for the given set in one transaction.
	ReplaceRecords(ctx context.Context, databaseID uuid.UUID, records []*Record) error
	ListRecords(ctx context.Context, databaseID uuid.UUID) ([]*Record, error)
	// SubmitVerdicts applies verdicts and marks the database submitted atomically.
	// Fails with ErrDatabaseNotWritable if the database is no longer 'ready' and with
	// ErrVerdictsIncomplete unless every record of the database gets a verdict.
	SubmitVerdicts(ctx context.Context, databaseID uuid.UUID, verdicts map[uuid.UUID]Verdict, submittedAt time.Time) (*Database, error)
	SummarizeVerifiedByBusiness(ctx context.Context, cycleID uuid.UUID) ([]BusinessSummary, error)
	ListVerifiedRecords(ctx context.Context, cycleID, businessID uuid.UUID) ([]*Record, error)

	// Preparation job methods
	// CreateJob fails with ErrJobInFlight if the cycle already has a pending or processing job.
	CreateJob(ctx context.Context, job *PreparationJob) error
	GetLatestJob(ctx context.Context, cycleID uuid.UUID) (*PreparationJob, error)
	UpdateJob(ctx context.Context, job *PreparationJob) error
}
