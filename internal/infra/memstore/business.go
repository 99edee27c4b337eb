package memstore

import (
	"context"
	"sort"
	"time"

	"reward_verification_service/internal/domain/business"

	"github.com/google/uuid"
)

// AddBusiness seeds a business. The memory driver has no business admin surface.
func (s *Store) AddBusiness(b *business.Business) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.businesses[cp.ID] = &cp
}

// AddTransaction seeds a feedback transaction.
func (s *Store) AddTransaction(t *business.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.transactions[cp.BusinessID] = append(s.transactions[cp.BusinessID], &cp)
}

func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*business.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.businesses[id]
	if !ok {
		return nil, business.ErrBusinessNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *Store) ListActive(_ context.Context) ([]*business.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*business.Business, 0, len(s.businesses))
	for _, b := range s.businesses {
		if b.Active {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) ListTransactions(_ context.Context, businessID uuid.UUID, from, to time.Time) ([]*business.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*business.Transaction, 0)
	for _, t := range s.transactions[businessID] {
		if !t.TransactionTime.Before(from) && t.TransactionTime.Before(to) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionTime.Before(out[j].TransactionTime) })
	return out, nil
}
