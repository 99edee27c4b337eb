// Package memstore keeps every repository in process memory. It backs the
// "memory" storage driver and the service and HTTP tests, and mirrors the
// constraint behavior of the Postgres repositories.
package memstore

import (
	"sync"
	"time"

	"reward_verification_service/internal/domain/business"
	"reward_verification_service/internal/domain/payment"
	"reward_verification_service/internal/domain/security"
	"reward_verification_service/internal/domain/verification"

	"github.com/google/uuid"
)

// Store implements verification.Repository, payment.Repository, business.Repository
// and security.Repository behind one mutex.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	businesses   map[uuid.UUID]*business.Business
	transactions map[uuid.UUID][]*business.Transaction // by business

	cycles    map[uuid.UUID]*verification.Cycle
	databases map[uuid.UUID]*verification.Database
	records   map[uuid.UUID][]*verification.Record // by database
	jobs      map[uuid.UUID][]*verification.PreparationJob // by cycle, oldest first

	invoices   map[uuid.UUID]*payment.Invoice
	batches    map[uuid.UUID]*payment.Batch
	rewards    []*payment.CustomerReward
	deliveries map[uuid.UUID]*payment.FeedbackDelivery // by invoice
	outbox     map[uuid.UUID]*payment.OutboxEvent

	auditLogs  []*security.AuditLog
	intrusions []*security.IntrusionEvent
}

func New() *Store {
	return &Store{
		now:          time.Now,
		businesses:   make(map[uuid.UUID]*business.Business),
		transactions: make(map[uuid.UUID][]*business.Transaction),
		cycles:       make(map[uuid.UUID]*verification.Cycle),
		databases:    make(map[uuid.UUID]*verification.Database),
		records:      make(map[uuid.UUID][]*verification.Record),
		jobs:         make(map[uuid.UUID][]*verification.PreparationJob),
		invoices:     make(map[uuid.UUID]*payment.Invoice),
		batches:      make(map[uuid.UUID]*payment.Batch),
		deliveries:   make(map[uuid.UUID]*payment.FeedbackDelivery),
		outbox:       make(map[uuid.UUID]*payment.OutboxEvent),
	}
}

var (
	_ verification.Repository = (*Store)(nil)
	_ payment.Repository      = (*Store)(nil)
	_ business.Repository     = (*Store)(nil)
	_ security.Repository     = (*Store)(nil)
)

// window copies items[start:end] into a fresh slice.
func window[T any](items []T, start, end int) []T {
	out := make([]T, 0, end-start)
	return append(out, items[start:end]...)
}
