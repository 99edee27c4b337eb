package memstore

import (
	"context"
	"sort"
	"time"

	"reward_verification_service/internal/domain/verification"

	"github.com/google/uuid"
)

// --- Cycles ---

func (s *Store) CreateCycle(_ context.Context, c *verification.Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	week := verification.DateOnly(c.CycleWeek)
	for _, existing := range s.cycles {
		if existing.CycleWeek.Equal(week) {
			return verification.ErrDuplicateCycleWeek
		}
	}
	now := s.now()
	c.CreatedAt, c.UpdatedAt = now, now
	cp := *c
	s.cycles[c.ID] = &cp
	return nil
}

func (s *Store) GetCycleByID(_ context.Context, id uuid.UUID) (*verification.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cycles[id]
	if !ok {
		return nil, verification.ErrCycleNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) GetCycleByWeek(_ context.Context, week time.Time) (*verification.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w := verification.DateOnly(week)
	for _, c := range s.cycles {
		if c.CycleWeek.Equal(w) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, verification.ErrCycleNotFound
}

func (s *Store) ListCycles(_ context.Context, filter verification.CycleFilter) ([]*verification.Cycle, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*verification.Cycle, 0)
	for _, c := range s.cycles {
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		cp := *c
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CycleWeek.After(matched[j].CycleWeek) })
	start, end := filter.Page.Window(len(matched))
	return window(matched, start, end), len(matched), nil
}

func (s *Store) UpdateCycleStatus(_ context.Context, id uuid.UUID, from, to verification.CycleStatus) (*verification.Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	move := verification.CycleMove{CycleID: id, From: from, To: to}
	c, err := s.guardMove(move)
	if err != nil {
		return nil, err
	}
	return s.applyMove(c, move), nil
}

// guardMove returns the stored cycle if move still applies. Callers hold s.mu.
func (s *Store) guardMove(move verification.CycleMove) (*verification.Cycle, error) {
	c, ok := s.cycles[move.CycleID]
	if !ok {
		return nil, verification.ErrCycleNotFound
	}
	if c.Status != move.From {
		return nil, verification.ErrStaleCycleStatus
	}
	return c, nil
}

func (s *Store) applyMove(c *verification.Cycle, move verification.CycleMove) *verification.Cycle {
	c.Status = move.To
	c.UpdatedAt = s.now()
	cp := *c
	return &cp
}

func (s *Store) SetCycleDatabaseCount(_ context.Context, id uuid.UUID, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cycles[id]
	if !ok {
		return verification.ErrCycleNotFound
	}
	c.TotalDatabases = count
	c.UpdatedAt = s.now()
	return nil
}

func (s *Store) ListCyclesPastDeadline(_ context.Context, now time.Time, statuses []verification.CycleStatus) ([]*verification.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[verification.CycleStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	out := make([]*verification.Cycle, 0)
	for _, c := range s.cycles {
		if want[c.Status] && c.DeadlinePassed(now) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CycleWeek.Before(out[j].CycleWeek) })
	return out, nil
}

// --- Databases ---

func (s *Store) CreateDatabase(_ context.Context, d *verification.Database) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.databases {
		if existing.CycleID == d.CycleID && existing.BusinessID == d.BusinessID {
			return verification.ErrDuplicateDatabase
		}
	}
	now := s.now()
	d.CreatedAt, d.UpdatedAt = now, now
	cp := *d
	s.databases[d.ID] = &cp
	return nil
}

func (s *Store) GetDatabaseByID(_ context.Context, id uuid.UUID) (*verification.Database, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.databases[id]
	if !ok {
		return nil, verification.ErrDatabaseNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *Store) GetDatabaseByCycleAndBusiness(_ context.Context, cycleID, businessID uuid.UUID) (*verification.Database, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.databases {
		if d.CycleID == cycleID && d.BusinessID == businessID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, verification.ErrDatabaseNotFound
}

// databasesOf returns copies of the cycle's databases in creation order. Caller holds the lock.
func (s *Store) databasesOf(cycleID uuid.UUID, status verification.DatabaseStatus) []*verification.Database {
	out := make([]*verification.Database, 0)
	for _, d := range s.databases {
		if d.CycleID != cycleID || (status != "" && d.Status != status) {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (s *Store) ListDatabases(_ context.Context, filter verification.DatabaseFilter) ([]*verification.Database, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := s.databasesOf(filter.CycleID, filter.Status)
	start, end := filter.Page.Window(len(matched))
	return window(matched, start, end), len(matched), nil
}

func (s *Store) ListDatabasesByCycle(_ context.Context, cycleID uuid.UUID) ([]*verification.Database, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.databasesOf(cycleID, ""), nil
}

func (s *Store) UpdateDatabase(_ context.Context, d *verification.Database) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.databases[d.ID]
	if !ok {
		return verification.ErrDatabaseNotFound
	}
	d.CreatedAt = stored.CreatedAt
	d.UpdatedAt = s.now()
	cp := *d
	s.databases[d.ID] = &cp
	return nil
}

func (s *Store) MarkDatabasesProcessed(_ context.Context, move verification.CycleMove) (*verification.Cycle, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.guardMove(move)
	if err != nil {
		return nil, 0, err
	}
	n := 0
	for _, d := range s.databases {
		if d.CycleID == move.CycleID && d.Status == verification.DatabaseStatusSubmitted {
			d.Status = verification.DatabaseStatusProcessed
			d.UpdatedAt = s.now()
			n++
		}
	}
	return s.applyMove(c, move), n, nil
}

// --- Records ---

func (s *Store) ReplaceRecords(_ context.Context, databaseID uuid.UUID, records []*verification.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.databases[databaseID]; !ok {
		return verification.ErrDatabaseNotFound
	}
	copied := make([]*verification.Record, 0, len(records))
	for _, r := range records {
		cp := *r
		cp.DatabaseID = databaseID
		copied = append(copied, &cp)
	}
	s.records[databaseID] = copied
	return nil
}

func (s *Store) ListRecords(_ context.Context, databaseID uuid.UUID) ([]*verification.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := copyRecords(s.records[databaseID], func(*verification.Record) bool { return true })
	sort.SliceStable(out, func(i, j int) bool { return out[i].TransactionTime.Before(out[j].TransactionTime) })
	return out, nil
}

func copyRecords(in []*verification.Record, keep func(*verification.Record) bool) []*verification.Record {
	out := make([]*verification.Record, 0, len(in))
	for _, r := range in {
		if keep(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out
}

func (s *Store) SubmitVerdicts(_ context.Context, databaseID uuid.UUID, verdicts map[uuid.UUID]verification.Verdict, submittedAt time.Time) (*verification.Database, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.databases[databaseID]
	if !ok {
		return nil, verification.ErrDatabaseNotFound
	}
	if d.Status != verification.DatabaseStatusReady {
		return nil, verification.ErrDatabaseNotWritable
	}

	byID := make(map[uuid.UUID]*verification.Record, len(s.records[databaseID]))
	for _, r := range s.records[databaseID] {
		byID[r.ID] = r
	}
	for id := range verdicts {
		if _, ok := byID[id]; !ok {
			return nil, verification.ErrRecordNotFound
		}
	}
	if len(verdicts) != len(byID) {
		return nil, verification.ErrVerdictsIncomplete
	}
	for id, v := range verdicts {
		byID[id].Verdict = v
	}

	d.VerifiedCount, d.RejectedCount = 0, 0
	for _, r := range s.records[databaseID] {
		switch r.Verdict {
		case verification.VerdictVerified:
			d.VerifiedCount++
		case verification.VerdictRejected:
			d.RejectedCount++
		}
	}
	at := submittedAt
	d.Status = verification.DatabaseStatusSubmitted
	d.SubmittedAt = &at
	d.UpdatedAt = s.now()
	cp := *d
	return &cp, nil
}

func (s *Store) SummarizeVerifiedByBusiness(_ context.Context, cycleID uuid.UUID) ([]verification.BusinessSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []verification.BusinessSummary
	for _, d := range s.databases {
		if d.CycleID != cycleID || !d.Locked() {
			continue
		}
		sum := verification.BusinessSummary{BusinessID: d.BusinessID}
		for _, r := range s.records[d.ID] {
			if r.Verdict == verification.VerdictVerified {
				sum.VerifiedCount++
				sum.RewardAmount += r.RewardAmount
			}
		}
		if sum.VerifiedCount > 0 {
			out = append(out, sum)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BusinessID.String() < out[j].BusinessID.String() })
	return out, nil
}

func (s *Store) ListVerifiedRecords(_ context.Context, cycleID, businessID uuid.UUID) ([]*verification.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*verification.Record, 0)
	for _, d := range s.databases {
		if d.CycleID == cycleID && d.BusinessID == businessID {
			out = copyRecords(s.records[d.ID], func(r *verification.Record) bool { return r.Verdict == verification.VerdictVerified })
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CustomerPhone != out[j].CustomerPhone {
			return out[i].CustomerPhone < out[j].CustomerPhone
		}
		return out[i].TransactionTime.Before(out[j].TransactionTime)
	})
	return out, nil
}

// --- Preparation jobs ---

func (s *Store) CreateJob(_ context.Context, job *verification.PreparationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs[job.CycleID] {
		if j.Status.InFlight() {
			return verification.ErrJobInFlight
		}
	}
	cp := *job
	s.jobs[job.CycleID] = append(s.jobs[job.CycleID], &cp)
	return nil
}

func (s *Store) GetLatestJob(_ context.Context, cycleID uuid.UUID) (*verification.PreparationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := s.jobs[cycleID]
	if len(jobs) == 0 {
		return nil, verification.ErrJobNotFound
	}
	cp := *jobs[len(jobs)-1]
	return &cp, nil
}

func (s *Store) UpdateJob(_ context.Context, job *verification.PreparationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, j := range s.jobs[job.CycleID] {
		if j.ID == job.ID {
			cp := *job
			s.jobs[job.CycleID][i] = &cp
			return nil
		}
	}
	return verification.ErrJobNotFound
}
