// internal/domain/payment/repository.go
package payment

import (
	"context"
	"errors"
	"time"

	"reward_verification_service/internal/domain/paging"
	"reward_verification_service/internal/domain/verification"

	"github.com/google/uuid"
)

var (
	ErrInvoiceNotFound     = errors.New("payment invoice not found")
	ErrInvoicesExist       = errors.New("invoices already exist for cycle")
	ErrStaleInvoiceStatus  = errors.New("invoice status changed concurrently")
	ErrBatchNotFound       = errors.New("payment batch not found")
	ErrLeaseNotHeld        = errors.New("payment batch lease not held by caller")
	ErrDeliveryNotFound    = errors.New("feedback delivery not found")
	ErrOutboxEventNotFound = errors.New("outbox event not found")
)

// InvoiceFilter narrows ListInvoices.
type InvoiceFilter struct {
	CycleID    uuid.UUID     // uuid.Nil = any
	BusinessID uuid.UUID     // uuid.Nil = any
	Status     InvoiceStatus // empty = any
	paging.Page
}

// Repository defines persistence for invoices, reward batches, deliveries and the outbox.
type Repository interface {
	// Invoice methods
	// CreateInvoices inserts all invoices and applies move in one transaction; ErrInvoicesExist
	// if any (cycle_id, business_id) pair is already invoiced. Nothing is written if the
	// cycle left move.From.
	CreateInvoices(ctx context.Context, move verification.CycleMove, invoices []*Invoice) (*verification.Cycle, error)
	CountInvoicesByCycle(ctx context.Context, cycleID uuid.UUID) (int, error)
	CountOpenInvoicesByCycle(ctx context.Context, cycleID uuid.UUID) (int, error)
	GetInvoiceByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]*Invoice, int, error)
	// UpdateInvoiceStatus persists inv (status, payment date, notes) only if the stored
	// status is still 'from', and inserts events in the same transaction.
	UpdateInvoiceStatus(ctx context.Context, inv *Invoice, from InvoiceStatus, events []*OutboxEvent) error
	TouchInvoiceNotified(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkOverdue moves pending invoices due before now to overdue and returns them.
	MarkOverdue(ctx context.Context, now time.Time) ([]*Invoice, error)

	// Batch methods
	GetOrCreateBatch(ctx context.Context, week time.Time) (*Batch, error)
	GetBatchByID(ctx context.Context, id uuid.UUID) (*Batch, error)
	// AcquireBatchLease takes the job lock if it is free or its lease has expired.
	AcquireBatchLease(ctx context.Context, batchID uuid.UUID, key string, now, until time.Time) (bool, error)
	ReleaseBatchLease(ctx context.Context, batchID uuid.UUID, key string) error
	ReclaimExpiredLeases(ctx context.Context, now time.Time) (int, error)
	// AddRewards inserts rewards under the caller's lease, skipping ones already present,
	// and refreshes batch totals. Returns how many were inserted.
	AddRewards(ctx context.Context, batchID uuid.UUID, key string, now time.Time, rewards []*CustomerReward) (int, error)
	ListRewardsByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*CustomerReward, error)

	// Delivery methods
	GetDeliveryByInvoice(ctx context.Context, invoiceID uuid.UUID) (*FeedbackDelivery, error)
	CreateDelivery(ctx context.Context, d *FeedbackDelivery) error

	// Outbox methods
	// ClaimDueEvents returns pending events due at now and pushes their next_attempt_at to
	// claimUntil so concurrent workers skip them.
	ClaimDueEvents(ctx context.Context, now, claimUntil time.Time, limit int) ([]*OutboxEvent, error)
	MarkEventDone(ctx context.Context, id uuid.UUID) error
	MarkEventFailed(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastErr string, dead bool) error
	ListEventsByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*OutboxEvent, error)
}
