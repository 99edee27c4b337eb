package memstore

import (
	"context"
	"sort"
	"time"

	"reward_verification_service/internal/domain/payment"
	"reward_verification_service/internal/domain/verification"

	"github.com/google/uuid"
)

// --- Invoices ---

func (s *Store) CreateInvoices(_ context.Context, move verification.CycleMove, invoices []*payment.Invoice) (*verification.Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.guardMove(move)
	if err != nil {
		return nil, err
	}
	type pair struct{ cycle, business uuid.UUID }
	taken := make(map[pair]bool, len(s.invoices))
	for _, inv := range s.invoices {
		taken[pair{inv.CycleID, inv.BusinessID}] = true
	}
	for _, inv := range invoices {
		k := pair{inv.CycleID, inv.BusinessID}
		if taken[k] {
			return nil, payment.ErrInvoicesExist
		}
		taken[k] = true
	}
	now := s.now()
	for _, inv := range invoices {
		inv.CreatedAt, inv.UpdatedAt = now, now
		cp := *inv
		s.invoices[inv.ID] = &cp
	}
	return s.applyMove(c, move), nil
}

func (s *Store) CountInvoicesByCycle(_ context.Context, cycleID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, inv := range s.invoices {
		if inv.CycleID == cycleID {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountOpenInvoicesByCycle(_ context.Context, cycleID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, inv := range s.invoices {
		if inv.CycleID == cycleID && !inv.Status.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (s *Store) GetInvoiceByID(_ context.Context, id uuid.UUID) (*payment.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, payment.ErrInvoiceNotFound
	}
	return copyInvoice(inv), nil
}

func copyInvoice(inv *payment.Invoice) *payment.Invoice {
	cp := *inv
	if inv.PaymentDate != nil {
		t := *inv.PaymentDate
		cp.PaymentDate = &t
	}
	if inv.LastNotifiedAt != nil {
		t := *inv.LastNotifiedAt
		cp.LastNotifiedAt = &t
	}
	return &cp
}

func (s *Store) ListInvoices(_ context.Context, filter payment.InvoiceFilter) ([]*payment.Invoice, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*payment.Invoice, 0)
	for _, inv := range s.invoices {
		if filter.CycleID != uuid.Nil && inv.CycleID != filter.CycleID {
			continue
		}
		if filter.BusinessID != uuid.Nil && inv.BusinessID != filter.BusinessID {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		matched = append(matched, copyInvoice(inv))
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})
	start, end := filter.Page.Window(len(matched))
	return window(matched, start, end), len(matched), nil
}

func (s *Store) UpdateInvoiceStatus(_ context.Context, inv *payment.Invoice, from payment.InvoiceStatus, events []*payment.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.invoices[inv.ID]
	if !ok || stored.Status != from {
		return payment.ErrStaleInvoiceStatus
	}
	now := s.now()
	stored.Status = inv.Status
	stored.PaymentDate = nil
	if inv.PaymentDate != nil {
		t := *inv.PaymentDate
		stored.PaymentDate = &t
	}
	stored.Notes = inv.Notes
	stored.UpdatedAt = now
	inv.UpdatedAt = now
	for _, ev := range events {
		ev.CreatedAt, ev.UpdatedAt = now, now
		cp := *ev
		s.outbox[ev.ID] = &cp
	}
	return nil
}

func (s *Store) TouchInvoiceNotified(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return payment.ErrInvoiceNotFound
	}
	t := at
	inv.LastNotifiedAt = &t
	inv.UpdatedAt = s.now()
	return nil
}

func (s *Store) MarkOverdue(_ context.Context, now time.Time) ([]*payment.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	today := verification.DateOnly(now)
	marked := make([]*payment.Invoice, 0)
	for _, inv := range s.invoices {
		if inv.Status == payment.InvoiceStatusPending && inv.DueDate.Before(today) {
			inv.Status = payment.InvoiceStatusOverdue
			inv.UpdatedAt = s.now()
			marked = append(marked, copyInvoice(inv))
		}
	}
	return marked, nil
}

// --- Batches ---

func copyBatch(b *payment.Batch) *payment.Batch {
	cp := *b
	if b.JobLockKey != nil {
		k := *b.JobLockKey
		cp.JobLockKey = &k
	}
	if b.JobLockExpiresAt != nil {
		t := *b.JobLockExpiresAt
		cp.JobLockExpiresAt = &t
	}
	return &cp
}

func (s *Store) GetOrCreateBatch(_ context.Context, week time.Time) (*payment.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := verification.DateOnly(week)
	for _, b := range s.batches {
		if b.BatchWeek.Equal(w) {
			return copyBatch(b), nil
		}
	}
	now := s.now()
	b := &payment.Batch{
		ID:        uuid.New(),
		BatchWeek: w,
		Status:    payment.BatchStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.batches[b.ID] = b
	return copyBatch(b), nil
}

func (s *Store) GetBatchByID(_ context.Context, id uuid.UUID) (*payment.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, payment.ErrBatchNotFound
	}
	return copyBatch(b), nil
}

func (s *Store) AcquireBatchLease(_ context.Context, batchID uuid.UUID, key string, now, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return false, payment.ErrBatchNotFound
	}
	if b.JobLockKey != nil && b.JobLockExpiresAt != nil && !b.JobLockExpiresAt.Before(now) {
		return false, nil
	}
	k, u := key, until
	b.JobLockKey = &k
	b.JobLockExpiresAt = &u
	b.Status = payment.BatchStatusProcessing
	b.UpdatedAt = s.now()
	return true, nil
}

func (s *Store) ReleaseBatchLease(_ context.Context, batchID uuid.UUID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok || b.JobLockKey == nil || *b.JobLockKey != key {
		return nil
	}
	b.JobLockKey = nil
	b.JobLockExpiresAt = nil
	b.Status = payment.BatchStatusPending
	b.UpdatedAt = s.now()
	return nil
}

func (s *Store) ReclaimExpiredLeases(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		if b.JobLockKey != nil && b.JobLockExpiresAt != nil && b.JobLockExpiresAt.Before(now) {
			b.JobLockKey = nil
			b.JobLockExpiresAt = nil
			b.Status = payment.BatchStatusPending
			b.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}

func (s *Store) AddRewards(_ context.Context, batchID uuid.UUID, key string, now time.Time, rewards []*payment.CustomerReward) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return 0, payment.ErrBatchNotFound
	}
	if b.JobLockKey == nil || *b.JobLockKey != key || b.JobLockExpiresAt == nil || !b.JobLockExpiresAt.After(now) {
		return 0, payment.ErrLeaseNotHeld
	}

	type rewardKey struct {
		invoice uuid.UUID
		phone   string
	}
	present := make(map[rewardKey]bool)
	for _, r := range s.rewards {
		if r.BatchID == batchID {
			present[rewardKey{r.InvoiceID, r.CustomerPhone}] = true
		}
	}
	inserted := 0
	for _, r := range rewards {
		k := rewardKey{r.InvoiceID, r.CustomerPhone}
		if present[k] {
			continue
		}
		present[k] = true
		cp := *r
		cp.BatchID = batchID
		cp.CreatedAt = s.now()
		s.rewards = append(s.rewards, &cp)
		inserted++
	}

	b.TotalAmount, b.RewardCount = 0, 0
	for _, r := range s.rewards {
		if r.BatchID == batchID {
			b.TotalAmount += r.Amount
			b.RewardCount++
		}
	}
	b.UpdatedAt = s.now()
	return inserted, nil
}

func (s *Store) ListRewardsByInvoice(_ context.Context, invoiceID uuid.UUID) ([]*payment.CustomerReward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*payment.CustomerReward, 0)
	for _, r := range s.rewards {
		if r.InvoiceID == invoiceID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerPhone < out[j].CustomerPhone })
	return out, nil
}

// --- Deliveries ---

func (s *Store) GetDeliveryByInvoice(_ context.Context, invoiceID uuid.UUID) (*payment.FeedbackDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deliveries[invoiceID]
	if !ok {
		return nil, payment.ErrDeliveryNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *Store) CreateDelivery(_ context.Context, d *payment.FeedbackDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[d.InvoiceID]; ok {
		return nil
	}
	cp := *d
	s.deliveries[d.InvoiceID] = &cp
	return nil
}

// --- Outbox ---

func (s *Store) ClaimDueEvents(_ context.Context, now, claimUntil time.Time, limit int) ([]*payment.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	due := make([]*payment.OutboxEvent, 0)
	for _, ev := range s.outbox {
		if ev.Status == payment.EventStatusPending && !ev.NextAttemptAt.After(now) {
			due = append(due, ev)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
			return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
		}
		if !due[i].CreatedAt.Equal(due[j].CreatedAt) {
			return due[i].CreatedAt.Before(due[j].CreatedAt)
		}
		return due[i].Kind < due[j].Kind
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]*payment.OutboxEvent, 0, len(due))
	for _, ev := range due {
		ev.NextAttemptAt = claimUntil
		ev.UpdatedAt = s.now()
		cp := *ev
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) MarkEventDone(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.outbox[id]
	if !ok {
		return payment.ErrOutboxEventNotFound
	}
	ev.Status = payment.EventStatusDone
	ev.Attempts++
	ev.LastError = ""
	ev.UpdatedAt = s.now()
	return nil
}

func (s *Store) MarkEventFailed(_ context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastErr string, dead bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.outbox[id]
	if !ok {
		return payment.ErrOutboxEventNotFound
	}
	ev.Status = payment.EventStatusPending
	if dead {
		ev.Status = payment.EventStatusDead
	}
	ev.Attempts = attempts
	ev.NextAttemptAt = nextAttemptAt
	ev.LastError = lastErr
	ev.UpdatedAt = s.now()
	return nil
}

func (s *Store) ListEventsByInvoice(_ context.Context, invoiceID uuid.UUID) ([]*payment.OutboxEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*payment.OutboxEvent, 0)
	for _, ev := range s.outbox {
		if ev.InvoiceID == invoiceID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Kind < out[j].Kind
	})
	return out, nil
}
