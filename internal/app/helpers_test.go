package app

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"reward_verification_service/internal/domain/business"
	"reward_verification_service/internal/domain/paging"
	"reward_verification_service/internal/domain/verification"
	"reward_verification_service/internal/infra/export"
	"reward_verification_service/internal/infra/memstore"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// testWeek is a Monday; the clock starts mid-week.
var testWeek = time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)

type fakeNotifier struct {
	mu                 sync.Mutex
	NotifyBusinessFunc func(ctx context.Context, b *business.Business, text string) error
	sent               []string
}

func (n *fakeNotifier) NotifyBusiness(ctx context.Context, b *business.Business, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.NotifyBusinessFunc != nil {
		if err := n.NotifyBusinessFunc(ctx, b, text); err != nil {
			return err
		}
	}
	n.sent = append(n.sent, text)
	return nil
}

func (n *fakeNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent...)
}

// storeDirectory resolves businesses straight from the store, without caching.
type storeDirectory struct {
	store *memstore.Store
}

func (d storeDirectory) Get(ctx context.Context, id uuid.UUID) (*business.Business, error) {
	return d.store.GetByID(ctx, id)
}

type testEnv struct {
	store       *memstore.Store
	notifier    *fakeNotifier
	exports     *ExportService
	cycles      *CycleService
	preparation *PreparationService
	payments    *PaymentService
	rewards     *RewardService
	outbox      *OutboxProcessor
	security    *SecurityService
	admin       *AdminService

	mu    sync.Mutex
	clock time.Time
}

const testAdminTelegramID = 777

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	entry := logrus.NewEntry(logger)

	env := &testEnv{
		store:    memstore.New(),
		notifier: &fakeNotifier{},
		clock:    testWeek.Add(2*24*time.Hour + 10*time.Hour),
	}
	dir := storeDirectory{store: env.store}

	env.exports = NewExportService(env.store, env.store, export.NewSigner("test-download-secret"), "https://rewards.example", entry)
	env.cycles = NewCycleService(env.store, dir, env.notifier, env.exports, entry)
	env.preparation = NewPreparationService(context.Background(), env.store, env.store, env.cycles, entry)
	env.payments = NewPaymentService(env.store, env.store, env.cycles, dir, env.notifier, PaymentSettings{
		ServiceFeeRate:   DefaultServiceFeeRate,
		PaymentTermsDays: DefaultPaymentTermsDays,
	}, entry)
	env.rewards = NewRewardService(env.store, env.store, env.exports, dir, env.notifier, "test-worker", time.Minute, entry)
	env.outbox = NewOutboxProcessor(env.store, env.rewards, 3, entry)
	env.security = NewSecurityService(env.store, entry)
	env.admin = NewAdminService(env.cycles, env.payments, []int64{testAdminTelegramID})

	env.cycles.now = env.now
	env.preparation.now = env.now
	env.payments.now = env.now
	env.rewards.now = env.now
	env.outbox.now = env.now
	env.security.now = env.now
	return env
}

func (e *testEnv) now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock
}

func (e *testEnv) setNow(t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = t
}

// addBusiness seeds an active business with one transaction per phone inside testWeek.
func (e *testEnv) addBusiness(name string, phones ...string) *business.Business {
	b := &business.Business{ID: uuid.New(), Name: name, TelegramChatID: 1000, Active: true}
	e.store.AddBusiness(b)
	for i, phone := range phones {
		e.store.AddTransaction(&business.Transaction{
			ID:                uuid.New(),
			BusinessID:        b.ID,
			CustomerPhone:     phone,
			TransactionAmount: 10000,
			RewardAmount:      500,
			TransactionTime:   testWeek.Add(time.Duration(i+1) * time.Hour),
		})
	}
	return b
}

// distributedCycle creates, prepares and distributes the testWeek cycle.
func (e *testEnv) distributedCycle(t *testing.T) *verification.Cycle {
	t.Helper()
	ctx := context.Background()
	cycle, err := e.cycles.CreateCycle(ctx, testWeek, "admin-1")
	if err != nil {
		t.Fatalf("CreateCycle() error = %v", err)
	}
	if _, err := e.preparation.StartPreparation(ctx, cycle.ID); err != nil {
		t.Fatalf("StartPreparation() error = %v", err)
	}
	e.preparation.Wait()
	cycle, err = e.cycles.DistributeCycle(ctx, cycle.ID)
	if err != nil {
		t.Fatalf("DistributeCycle() error = %v", err)
	}
	return cycle
}

// submitAll submits every database of the cycle, rejecting records whose phone is in reject.
func (e *testEnv) submitAll(t *testing.T, cycleID uuid.UUID, reject ...string) {
	t.Helper()
	ctx := context.Background()
	rejected := make(map[string]bool, len(reject))
	for _, p := range reject {
		rejected[p] = true
	}
	dbs, err := e.store.ListDatabasesByCycle(ctx, cycleID)
	if err != nil {
		t.Fatalf("ListDatabasesByCycle() error = %v", err)
	}
	for _, db := range dbs {
		records, err := e.store.ListRecords(ctx, db.ID)
		if err != nil {
			t.Fatalf("ListRecords() error = %v", err)
		}
		verdicts := make(map[uuid.UUID]verification.Verdict, len(records))
		for _, r := range records {
			verdicts[r.ID] = verification.VerdictVerified
			if rejected[r.CustomerPhone] {
				verdicts[r.ID] = verification.VerdictRejected
			}
		}
		if _, err := e.cycles.SubmitVerificationResults(ctx, cycleID, db.ID, verdicts); err != nil {
			t.Fatalf("SubmitVerificationResults() error = %v", err)
		}
	}
}

// invoicedCycle drives a cycle through submission and processing and generates invoices.
func (e *testEnv) invoicedCycle(t *testing.T, reject ...string) (*verification.Cycle, *InvoiceGenerationResult) {
	t.Helper()
	ctx := context.Background()
	cycle := e.distributedCycle(t)
	e.submitAll(t, cycle.ID, reject...)
	if _, err := e.cycles.BeginProcessing(ctx, cycle.ID); err != nil {
		t.Fatalf("BeginProcessing() error = %v", err)
	}
	res, err := e.payments.GenerateInvoices(ctx, cycle.ID)
	if err != nil {
		t.Fatalf("GenerateInvoices() error = %v", err)
	}
	return cycle, res
}

func pageOf(page, limit int) paging.Page {
	return paging.Page{Page: page, Limit: limit}
}

func expectCode(t *testing.T, err error, want Code) {
	t.Helper()
	appErr, ok := AsError(err)
	if !ok {
		t.Fatalf("error = %v, want *app.Error with code %s", err, want)
	}
	if appErr.Code != want {
		t.Fatalf("error code = %s (%s), want %s", appErr.Code, appErr.Message, want)
	}
}
