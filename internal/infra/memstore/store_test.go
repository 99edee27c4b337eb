package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"reward_verification_service/internal/domain/paging"
	"reward_verification_service/internal/domain/payment"
	"reward_verification_service/internal/domain/verification"

	"github.com/google/uuid"
)

var week = time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)

func newCycle(t *testing.T, s *Store, w time.Time) *verification.Cycle {
	t.Helper()
	c := verification.NewCycle(w, "admin-1")
	if err := s.CreateCycle(context.Background(), c); err != nil {
		t.Fatalf("CreateCycle() error = %v", err)
	}
	return c
}

// cycleIn creates a cycle and walks it forward to status.
func cycleIn(t *testing.T, s *Store, w time.Time, status verification.CycleStatus) *verification.Cycle {
	t.Helper()
	order := []verification.CycleStatus{
		verification.CycleStatusPreparing,
		verification.CycleStatusReady,
		verification.CycleStatusDistributed,
		verification.CycleStatusCollecting,
		verification.CycleStatusProcessing,
		verification.CycleStatusInvoicing,
	}
	c := newCycle(t, s, w)
	for i := 1; i < len(order) && c.Status != status; i++ {
		var err error
		if c, err = s.UpdateCycleStatus(context.Background(), c.ID, order[i-1], order[i]); err != nil {
			t.Fatalf("UpdateCycleStatus(%s) error = %v", order[i], err)
		}
	}
	return c
}

func invoicingMove(cycleID uuid.UUID) verification.CycleMove {
	return verification.CycleMove{CycleID: cycleID, From: verification.CycleStatusProcessing, To: verification.CycleStatusInvoicing}
}

func newDatabase(t *testing.T, s *Store, cycleID uuid.UUID, phones ...string) (*verification.Database, []*verification.Record) {
	t.Helper()
	ctx := context.Background()
	db := &verification.Database{ID: uuid.New(), CycleID: cycleID, BusinessID: uuid.New(), Status: verification.DatabaseStatusReady}
	if err := s.CreateDatabase(ctx, db); err != nil {
		t.Fatalf("CreateDatabase() error = %v", err)
	}
	records := make([]*verification.Record, 0, len(phones))
	for i, p := range phones {
		records = append(records, &verification.Record{
			ID:              uuid.New(),
			CustomerPhone:   p,
			RewardAmount:    500,
			TransactionTime: week.Add(time.Duration(i) * time.Hour),
			Verdict:         verification.VerdictPending,
		})
	}
	if err := s.ReplaceRecords(ctx, db.ID, records); err != nil {
		t.Fatalf("ReplaceRecords() error = %v", err)
	}
	return db, records
}

func TestCycles_GivenConstraints_WhenWriting_ThenEnforced(t *testing.T) {
	s := New()
	ctx := context.Background()
	c := newCycle(t, s, week)

	if err := s.CreateCycle(ctx, verification.NewCycle(week, "admin-2")); !errors.Is(err, verification.ErrDuplicateCycleWeek) {
		t.Errorf("duplicate week error = %v, want ErrDuplicateCycleWeek", err)
	}
	if _, err := s.UpdateCycleStatus(ctx, c.ID, verification.CycleStatusReady, verification.CycleStatusDistributed); !errors.Is(err, verification.ErrStaleCycleStatus) {
		t.Errorf("stale from error = %v, want ErrStaleCycleStatus", err)
	}
	updated, err := s.UpdateCycleStatus(ctx, c.ID, verification.CycleStatusPreparing, verification.CycleStatusReady)
	if err != nil || updated.Status != verification.CycleStatusReady {
		t.Fatalf("UpdateCycleStatus() = %v, %v", updated, err)
	}
	if _, err := s.UpdateCycleStatus(ctx, uuid.New(), verification.CycleStatusPreparing, verification.CycleStatusReady); !errors.Is(err, verification.ErrCycleNotFound) {
		t.Errorf("unknown cycle error = %v, want ErrCycleNotFound", err)
	}
}

func TestListCycles_GivenThreeWeeks_WhenPaging_ThenNewestFirst(t *testing.T) {
	s := New()
	for i := 0; i < 3; i++ {
		newCycle(t, s, week.AddDate(0, 0, 7*i))
	}

	tests := []struct {
		name      string
		page      paging.Page
		wantWeeks []time.Time
	}{
		{name: "Given first page of two", page: paging.Page{Page: 1, Limit: 2}, wantWeeks: []time.Time{week.AddDate(0, 0, 14), week.AddDate(0, 0, 7)}},
		{name: "Given second page of two", page: paging.Page{Page: 2, Limit: 2}, wantWeeks: []time.Time{week}},
		{name: "Given page past the end", page: paging.Page{Page: 5, Limit: 2}, wantWeeks: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := s.ListCycles(context.Background(), verification.CycleFilter{Page: tt.page})
			if err != nil {
				t.Fatalf("ListCycles() error = %v", err)
			}
			if total != 3 || len(got) != len(tt.wantWeeks) {
				t.Fatalf("got %d of %d, want %d of 3", len(got), total, len(tt.wantWeeks))
			}
			for i, c := range got {
				if !c.CycleWeek.Equal(tt.wantWeeks[i]) {
					t.Errorf("cycle %d week = %s, want %s", i, c.CycleWeek, tt.wantWeeks[i])
				}
			}
		})
	}
}

func TestSubmitVerdicts_GivenDatabase_WhenSubmitting_ThenCountedOnceAndLocked(t *testing.T) {
	s := New()
	ctx := context.Background()
	c := newCycle(t, s, week)
	db, records := newDatabase(t, s, c.ID, "+46701", "+46702", "+46701")

	if _, err := s.SubmitVerdicts(ctx, db.ID, map[uuid.UUID]verification.Verdict{uuid.New(): verification.VerdictVerified}, week); !errors.Is(err, verification.ErrRecordNotFound) {
		t.Fatalf("foreign record error = %v, want ErrRecordNotFound", err)
	}

	verdicts := map[uuid.UUID]verification.Verdict{
		records[0].ID: verification.VerdictVerified,
		records[1].ID: verification.VerdictRejected,
		records[2].ID: verification.VerdictVerified,
	}
	partial := map[uuid.UUID]verification.Verdict{records[0].ID: verification.VerdictVerified}
	if _, err := s.SubmitVerdicts(ctx, db.ID, partial, week); !errors.Is(err, verification.ErrVerdictsIncomplete) {
		t.Fatalf("partial verdicts error = %v, want ErrVerdictsIncomplete", err)
	}
	stored, _ := s.ListRecords(ctx, db.ID)
	for _, r := range stored {
		if r.Verdict != verification.VerdictPending {
			t.Fatalf("record %s verdict after refused submission = %s, want pending", r.ID, r.Verdict)
		}
	}

	submitted, err := s.SubmitVerdicts(ctx, db.ID, verdicts, week.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("SubmitVerdicts() error = %v", err)
	}
	if submitted.Status != verification.DatabaseStatusSubmitted || submitted.VerifiedCount != 2 || submitted.RejectedCount != 1 {
		t.Errorf("submitted = %+v, want submitted with 2 verified 1 rejected", submitted)
	}
	if _, err := s.SubmitVerdicts(ctx, db.ID, verdicts, week.Add(49*time.Hour)); !errors.Is(err, verification.ErrDatabaseNotWritable) {
		t.Errorf("resubmit error = %v, want ErrDatabaseNotWritable", err)
	}

	sums, _ := s.SummarizeVerifiedByBusiness(ctx, c.ID)
	if len(sums) != 1 || sums[0].VerifiedCount != 2 || sums[0].RewardAmount != 1000 {
		t.Errorf("summaries = %+v, want one business with 2 verified worth 1000", sums)
	}
	verified, _ := s.ListVerifiedRecords(ctx, c.ID, db.BusinessID)
	if len(verified) != 2 || verified[0].CustomerPhone != "+46701" {
		t.Errorf("verified records = %d, want 2 for +46701", len(verified))
	}

	processing := verification.CycleMove{CycleID: c.ID, From: verification.CycleStatusCollecting, To: verification.CycleStatusProcessing}
	if _, _, err := s.MarkDatabasesProcessed(ctx, processing); !errors.Is(err, verification.ErrStaleCycleStatus) {
		t.Fatalf("process from preparing error = %v, want ErrStaleCycleStatus", err)
	}
	if got, _ := s.GetDatabaseByID(ctx, db.ID); got.Status != verification.DatabaseStatusSubmitted {
		t.Fatalf("database status after stale move = %s, want submitted", got.Status)
	}
	for _, m := range []verification.CycleMove{
		{CycleID: c.ID, From: verification.CycleStatusPreparing, To: verification.CycleStatusReady},
		{CycleID: c.ID, From: verification.CycleStatusReady, To: verification.CycleStatusDistributed},
		{CycleID: c.ID, From: verification.CycleStatusDistributed, To: verification.CycleStatusCollecting},
	} {
		if _, err := s.UpdateCycleStatus(ctx, m.CycleID, m.From, m.To); err != nil {
			t.Fatalf("UpdateCycleStatus(%s) error = %v", m.To, err)
		}
	}
	moved, n, err := s.MarkDatabasesProcessed(ctx, processing)
	if err != nil || n != 1 || moved.Status != verification.CycleStatusProcessing {
		t.Errorf("MarkDatabasesProcessed() = %v, %d, %v; want processing cycle and 1 database", moved, n, err)
	}
	if err := s.CreateDatabase(ctx, &verification.Database{ID: uuid.New(), CycleID: c.ID, BusinessID: db.BusinessID}); !errors.Is(err, verification.ErrDuplicateDatabase) {
		t.Errorf("duplicate database error = %v, want ErrDuplicateDatabase", err)
	}
}

func TestCreateJob_GivenJobInFlight_WhenCreating_ThenRefusedUntilFinished(t *testing.T) {
	s := New()
	ctx := context.Background()
	cycleID := uuid.New()
	first := &verification.PreparationJob{ID: uuid.New(), CycleID: cycleID, Status: verification.JobStatusProcessing}
	if err := s.CreateJob(ctx, first); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	second := &verification.PreparationJob{ID: uuid.New(), CycleID: cycleID, Status: verification.JobStatusPending}
	if err := s.CreateJob(ctx, second); !errors.Is(err, verification.ErrJobInFlight) {
		t.Fatalf("second job error = %v, want ErrJobInFlight", err)
	}

	first.Status = verification.JobStatusFailed
	if err := s.UpdateJob(ctx, first); err != nil {
		t.Fatalf("UpdateJob() error = %v", err)
	}
	if err := s.CreateJob(ctx, second); err != nil {
		t.Fatalf("retry job error = %v", err)
	}
	latest, _ := s.GetLatestJob(ctx, cycleID)
	if latest.ID != second.ID {
		t.Errorf("latest job = %s, want %s", latest.ID, second.ID)
	}
}

func TestBatchLease_GivenHolders_WhenAcquiring_ThenExclusiveUntilExpiry(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := week.Add(72 * time.Hour)

	batch, err := s.GetOrCreateBatch(ctx, week.Add(5*time.Hour))
	if err != nil {
		t.Fatalf("GetOrCreateBatch() error = %v", err)
	}
	again, _ := s.GetOrCreateBatch(ctx, week)
	if again.ID != batch.ID {
		t.Fatalf("second GetOrCreateBatch() = %s, want %s", again.ID, batch.ID)
	}

	if ok, _ := s.AcquireBatchLease(ctx, batch.ID, "worker-a", now, now.Add(time.Minute)); !ok {
		t.Fatal("first acquire refused")
	}
	if ok, _ := s.AcquireBatchLease(ctx, batch.ID, "worker-b", now.Add(30*time.Second), now.Add(2*time.Minute)); ok {
		t.Fatal("second acquire granted while lease live")
	}

	invoiceID := uuid.New()
	rewards := []*payment.CustomerReward{
		{ID: uuid.New(), InvoiceID: invoiceID, CustomerPhone: "+46701", Amount: 1000, RecordCount: 2},
		{ID: uuid.New(), InvoiceID: invoiceID, CustomerPhone: "+46702", Amount: 500, RecordCount: 1},
	}
	if _, err := s.AddRewards(ctx, batch.ID, "worker-b", now, rewards); !errors.Is(err, payment.ErrLeaseNotHeld) {
		t.Fatalf("AddRewards() without lease error = %v, want ErrLeaseNotHeld", err)
	}
	n, err := s.AddRewards(ctx, batch.ID, "worker-a", now, rewards)
	if err != nil || n != 2 {
		t.Fatalf("AddRewards() = %d, %v; want 2", n, err)
	}
	if n, _ := s.AddRewards(ctx, batch.ID, "worker-a", now, rewards); n != 0 {
		t.Errorf("repeat AddRewards() inserted %d, want 0", n)
	}
	stored, _ := s.GetBatchByID(ctx, batch.ID)
	if stored.TotalAmount != 1500 || stored.RewardCount != 2 || !stored.LeaseHeld(now) {
		t.Errorf("batch = %+v, want 1500 over 2 rewards with live lease", stored)
	}

	if n, _ := s.ReclaimExpiredLeases(ctx, now.Add(30*time.Second)); n != 0 {
		t.Errorf("reclaimed %d live leases, want 0", n)
	}
	if n, _ := s.ReclaimExpiredLeases(ctx, now.Add(2*time.Minute)); n != 1 {
		t.Errorf("reclaimed %d expired leases, want 1", n)
	}
	if ok, _ := s.AcquireBatchLease(ctx, batch.ID, "worker-b", now.Add(2*time.Minute), now.Add(3*time.Minute)); !ok {
		t.Error("acquire after reclaim refused")
	}
	if err := s.ReleaseBatchLease(ctx, batch.ID, "worker-a"); err != nil {
		t.Fatalf("ReleaseBatchLease() error = %v", err)
	}
	if b, _ := s.GetBatchByID(ctx, batch.ID); !b.LeaseHeld(now.Add(2*time.Minute)) {
		t.Error("release by a stale holder dropped the live lease")
	}
}

func TestOutbox_GivenDueEvents_WhenClaimed_ThenHiddenUntilClaimExpires(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := week.Add(72 * time.Hour)

	c := cycleIn(t, s, week, verification.CycleStatusProcessing)
	inv := payment.NewInvoice(c.ID, uuid.New(), 1, 500, 0.2, week.AddDate(0, 0, 14))
	if _, err := s.CreateInvoices(ctx, invoicingMove(c.ID), []*payment.Invoice{inv}); err != nil {
		t.Fatalf("CreateInvoices() error = %v", err)
	}

	paid := *inv
	paid.Status = payment.InvoiceStatusPaid
	events := []*payment.OutboxEvent{
		payment.NewOutboxEvent(payment.EventDeliverFeedbackDatabase, inv.ID, now),
		payment.NewOutboxEvent(payment.EventCreateRewardBatches, inv.ID, now),
	}
	if err := s.UpdateInvoiceStatus(ctx, &paid, payment.InvoiceStatusDisputed, events); !errors.Is(err, payment.ErrStaleInvoiceStatus) {
		t.Fatalf("stale update error = %v, want ErrStaleInvoiceStatus", err)
	}
	if err := s.UpdateInvoiceStatus(ctx, &paid, payment.InvoiceStatusPending, events); err != nil {
		t.Fatalf("UpdateInvoiceStatus() error = %v", err)
	}

	claimed, err := s.ClaimDueEvents(ctx, now, now.Add(2*time.Minute), 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimDueEvents(limit 1) = %d, %v", len(claimed), err)
	}
	if claimed[0].Kind != payment.EventCreateRewardBatches {
		t.Errorf("first claimed = %s, want create_reward_batches", claimed[0].Kind)
	}
	rest, _ := s.ClaimDueEvents(ctx, now, now.Add(2*time.Minute), 10)
	if len(rest) != 1 || rest[0].ID == claimed[0].ID {
		t.Fatalf("second claim = %d events, want the other one", len(rest))
	}
	if none, _ := s.ClaimDueEvents(ctx, now.Add(time.Minute), now.Add(3*time.Minute), 10); len(none) != 0 {
		t.Fatalf("claimed %d events inside the claim window, want 0", len(none))
	}

	if err := s.MarkEventDone(ctx, claimed[0].ID); err != nil {
		t.Fatalf("MarkEventDone() error = %v", err)
	}
	if err := s.MarkEventFailed(ctx, rest[0].ID, 1, now.Add(30*time.Second), "boom", false); err != nil {
		t.Fatalf("MarkEventFailed() error = %v", err)
	}
	again, _ := s.ClaimDueEvents(ctx, now.Add(time.Minute), now.Add(3*time.Minute), 10)
	if len(again) != 1 || again[0].ID != rest[0].ID || again[0].Attempts != 1 {
		t.Errorf("reclaimed = %+v, want the failed event after 1 attempt", again)
	}
	if err := s.MarkEventDone(ctx, uuid.New()); !errors.Is(err, payment.ErrOutboxEventNotFound) {
		t.Errorf("unknown event error = %v, want ErrOutboxEventNotFound", err)
	}
}

func TestMarkOverdue_GivenDueDates_WhenSweeping_ThenOnlyPendingPastDueMarked(t *testing.T) {
	s := New()
	ctx := context.Background()
	due := week.AddDate(0, 0, 14)
	c := cycleIn(t, s, week, verification.CycleStatusProcessing)
	late := payment.NewInvoice(c.ID, uuid.New(), 1, 500, 0.2, due)
	onTime := payment.NewInvoice(c.ID, uuid.New(), 1, 500, 0.2, due.AddDate(0, 0, 7))
	disputed := payment.NewInvoice(c.ID, uuid.New(), 1, 500, 0.2, due)
	if _, err := s.CreateInvoices(ctx, invoicingMove(c.ID), []*payment.Invoice{late, onTime, disputed}); err != nil {
		t.Fatalf("CreateInvoices() error = %v", err)
	}
	d := *disputed
	d.Status = payment.InvoiceStatusDisputed
	if err := s.UpdateInvoiceStatus(ctx, &d, payment.InvoiceStatusPending, nil); err != nil {
		t.Fatalf("UpdateInvoiceStatus() error = %v", err)
	}

	marked, err := s.MarkOverdue(ctx, due.Add(23*time.Hour))
	if err != nil || len(marked) != 0 {
		t.Fatalf("on due date marked %d, %v; want 0", len(marked), err)
	}
	marked, _ = s.MarkOverdue(ctx, due.AddDate(0, 0, 1))
	if len(marked) != 1 || marked[0].ID != late.ID || marked[0].Status != payment.InvoiceStatusOverdue {
		t.Fatalf("marked = %+v, want only the late invoice", marked)
	}
	if open, _ := s.CountOpenInvoicesByCycle(ctx, late.CycleID); open != 3 {
		t.Errorf("open invoices = %d, want 3", open)
	}
}

func TestCreateInvoices_GivenCycleMove_WhenWriting_ThenInvoicesAndStatusCommitTogether(t *testing.T) {
	s := New()
	ctx := context.Background()
	c := cycleIn(t, s, week, verification.CycleStatusProcessing)
	due := week.AddDate(0, 0, 14)
	bizID := uuid.New()

	dup := []*payment.Invoice{
		payment.NewInvoice(c.ID, bizID, 1, 500, 0.2, due),
		payment.NewInvoice(c.ID, bizID, 2, 1000, 0.2, due),
	}
	if _, err := s.CreateInvoices(ctx, invoicingMove(c.ID), dup); !errors.Is(err, payment.ErrInvoicesExist) {
		t.Fatalf("duplicate pair error = %v, want ErrInvoicesExist", err)
	}
	if got, _ := s.GetCycleByID(ctx, c.ID); got.Status != verification.CycleStatusProcessing {
		t.Fatalf("cycle status after refused batch = %s, want processing", got.Status)
	}
	if n, _ := s.CountInvoicesByCycle(ctx, c.ID); n != 0 {
		t.Fatalf("invoices after refused batch = %d, want 0", n)
	}

	moved, err := s.CreateInvoices(ctx, invoicingMove(c.ID), dup[:1])
	if err != nil {
		t.Fatalf("CreateInvoices() error = %v", err)
	}
	if moved.Status != verification.CycleStatusInvoicing {
		t.Errorf("cycle status = %s, want invoicing", moved.Status)
	}

	again := []*payment.Invoice{payment.NewInvoice(c.ID, uuid.New(), 1, 500, 0.2, due)}
	if _, err := s.CreateInvoices(ctx, invoicingMove(c.ID), again); !errors.Is(err, verification.ErrStaleCycleStatus) {
		t.Fatalf("second generation error = %v, want ErrStaleCycleStatus", err)
	}
	if n, _ := s.CountInvoicesByCycle(ctx, c.ID); n != 1 {
		t.Errorf("invoices = %d, want 1", n)
	}
	if _, err := s.CreateInvoices(ctx, invoicingMove(uuid.New()), nil); !errors.Is(err, verification.ErrCycleNotFound) {
		t.Errorf("unknown cycle error = %v, want ErrCycleNotFound", err)
	}
}
