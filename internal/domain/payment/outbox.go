// internal/domain/payment/outbox.go
package payment

import (
	"time"

	"github.com/google/uuid"
)

// EventKind names a side effect queued by a payment status change.
type EventKind string

const (
	EventDeliverFeedbackDatabase EventKind = "deliver_feedback_database"
	EventCreateRewardBatches     EventKind = "create_reward_batches"
)

// EventStatus is the processing state of an outbox event.
type EventStatus string

const (
	EventStatusPending EventStatus = "pending"
	EventStatusDone    EventStatus = "done"
	EventStatusDead    EventStatus = "dead"
)

const (
	backoffBase = 30 * time.Second
	backoffCap  = time.Hour
)

// OutboxEvent is a side effect written in the same transaction as the change that caused it.
// Corresponds to the 'payment_outbox' table.
type OutboxEvent struct {
	ID            uuid.UUID   `json:"id"`
	Kind          EventKind   `json:"kind"`
	InvoiceID     uuid.UUID   `json:"invoice_id"`
	Status        EventStatus `json:"status"`
	Attempts      int         `json:"attempts"`
	NextAttemptAt time.Time   `json:"next_attempt_at"`
	LastError     string      `json:"last_error,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// NewOutboxEvent builds a pending event due immediately.
func NewOutboxEvent(kind EventKind, invoiceID uuid.UUID, now time.Time) *OutboxEvent {
	return &OutboxEvent{
		ID:            uuid.New(),
		Kind:          kind,
		InvoiceID:     invoiceID,
		Status:        EventStatusPending,
		NextAttemptAt: now,
	}
}

// Backoff returns the delay before retry number attempts (1-based): 30s, 60s, 120s ... capped at 1h.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := backoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}
