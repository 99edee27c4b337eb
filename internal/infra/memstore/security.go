package memstore

import (
	"context"
	"sort"
	"time"

	"reward_verification_service/internal/domain/security"
)

func (s *Store) CreateAuditLog(_ context.Context, e *security.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.auditLogs = append(s.auditLogs, &cp)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, filter security.AuditFilter) ([]*security.AuditLog, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*security.AuditLog, 0)
	for _, e := range s.auditLogs {
		if filter.AdminID != "" && e.AdminID != filter.AdminID {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.ResourceType != "" && e.ResourceType != filter.ResourceType {
			continue
		}
		cp := *e
		matched = append(matched, &cp)
	}
	// Newest first; insertion order breaks ties.
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	start, end := filter.Page.Window(len(matched))
	return window(matched, start, end), len(matched), nil
}

func (s *Store) CreateIntrusionEvent(_ context.Context, ev *security.IntrusionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	s.intrusions = append(s.intrusions, &cp)
	return nil
}

func (s *Store) ListIntrusionEvents(_ context.Context, filter security.IntrusionFilter) ([]*security.IntrusionEvent, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*security.IntrusionEvent, 0)
	for _, ev := range s.intrusions {
		if filter.IPAddress != "" && ev.IPAddress != filter.IPAddress {
			continue
		}
		if !filter.Since.IsZero() && ev.CreatedAt.Before(filter.Since) {
			continue
		}
		cp := *ev
		matched = append(matched, &cp)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	start, end := filter.Page.Window(len(matched))
	return window(matched, start, end), len(matched), nil
}

func (s *Store) SummarizeIntrusions(_ context.Context, since time.Time) ([]security.IPSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byIP := make(map[string]*security.IPSummary)
	for _, ev := range s.intrusions {
		if ev.CreatedAt.Before(since) {
			continue
		}
		sum, ok := byIP[ev.IPAddress]
		if !ok {
			sum = &security.IPSummary{IPAddress: ev.IPAddress}
			byIP[ev.IPAddress] = sum
		}
		sum.Count++
		if ev.CreatedAt.After(sum.LastSeen) {
			sum.LastSeen = ev.CreatedAt
		}
	}
	out := make([]security.IPSummary, 0, len(byIP))
	for _, sum := range byIP {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].IPAddress < out[j].IPAddress
	})
	return out, nil
}
