package scheduler

import (
	"context"
	"fmt"
	"time"

	"reward_verification_service/internal/app"
	"reward_verification_service/internal/domain/verification"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

type CycleJobs interface {
	EnsureCycleForWeek(ctx context.Context, now time.Time) (*verification.Cycle, bool, error)
	ExpireOverdueCycles(ctx context.Context) (int, error)
}

type InvoiceJobs interface {
	MarkOverdueInvoices(ctx context.Context) (int, error)
}

type OutboxJobs interface {
	ProcessDue(ctx context.Context, limit int) (app.OutboxResult, error)
}

type LeaseJobs interface {
	ReclaimExpiredLeases(ctx context.Context) (int, error)
}

// Specs holds the cron expressions of every job.
type Specs struct {
	WeeklyCycle  string
	CycleExpiry  string
	OverdueSweep string
	Outbox       string
	LeaseReclaim string
}

// RewardScheduler runs the periodic jobs of the verification and payment workflow.
type RewardScheduler struct {
	cronEngine *cron.Cron
	cycles     CycleJobs
	invoices   InvoiceJobs
	outbox     OutboxJobs
	leases     LeaseJobs
	specs      Specs
	logger     *logrus.Entry
	now        func() time.Time
}

func NewRewardScheduler(
	cycles CycleJobs,
	invoices InvoiceJobs,
	outbox OutboxJobs,
	leases LeaseJobs,
	specs Specs,
	logger *logrus.Entry,
) *RewardScheduler {
	logger = logger.WithField("component", "scheduler")
	return &RewardScheduler{
		// Cycle weeks are UTC calendar weeks.
		cronEngine: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
		),
		cycles:   cycles,
		invoices: invoices,
		outbox:   outbox,
		leases:   leases,
		specs:    specs,
		logger:   logger,
		now:      time.Now,
	}
}

// Start registers every job and starts the cron engine. A bad spec is returned
// before anything runs.
func (s *RewardScheduler) Start() error {
	s.logger.Info("Starting reward scheduler...")

	jobs := []struct {
		name    string
		spec    string
		timeout time.Duration
		run     func(ctx context.Context) error
	}{
		{"weekly_cycle", s.specs.WeeklyCycle, time.Minute, s.runWeeklyCycle},
		{"cycle_expiry", s.specs.CycleExpiry, 2 * time.Minute, s.runCycleExpiry},
		{"invoice_overdue", s.specs.OverdueSweep, 2 * time.Minute, s.runOverdueSweep},
		{"outbox", s.specs.Outbox, 50 * time.Second, s.runOutbox},
		{"lease_reclaim", s.specs.LeaseReclaim, time.Minute, s.runLeaseReclaim},
	}
	for _, job := range jobs {
		job := job
		if _, err := s.cronEngine.AddFunc(job.spec, func() {
			s.execute(job.name, job.timeout, job.run)
		}); err != nil {
			return fmt.Errorf("could not add %s cron job with spec %q: %w", job.name, job.spec, err)
		}
	}

	s.cronEngine.Start()
	s.logger.WithField("jobs", len(jobs)).Info("Reward scheduler started")
	return nil
}

// execute runs one job under its own timeout and logs the outcome.
func (s *RewardScheduler) execute(name string, timeout time.Duration, run func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	logCtx := s.logger.WithField("job", name)
	logCtx.Debug("Cron job triggered")
	start := time.Now()
	if err := run(ctx); err != nil {
		logCtx.WithError(err).Errorf("Cron job failed: %+v", err)
		return
	}
	logCtx.WithField("duration", time.Since(start)).Debug("Cron job finished")
}

func (s *RewardScheduler) runWeeklyCycle(ctx context.Context) error {
	cycle, created, err := s.cycles.EnsureCycleForWeek(ctx, s.now())
	if err != nil {
		return err
	}
	logCtx := s.logger.WithFields(logrus.Fields{
		"cycle_id":   cycle.ID,
		"cycle_week": cycle.CycleWeek.Format("2006-01-02"),
	})
	if created {
		logCtx.Info("Weekly verification cycle created")
	} else {
		logCtx.Info("Verification cycle for this week already exists. Skipping creation.")
	}
	return nil
}

func (s *RewardScheduler) runCycleExpiry(ctx context.Context) error {
	n, err := s.cycles.ExpireOverdueCycles(ctx)
	if n > 0 {
		s.logger.WithField("expired", n).Info("Cycles past their verification deadline expired")
	}
	return err
}

func (s *RewardScheduler) runOverdueSweep(ctx context.Context) error {
	n, err := s.invoices.MarkOverdueInvoices(ctx)
	if n > 0 {
		s.logger.WithField("overdue", n).Info("Invoices marked overdue")
	}
	return err
}

func (s *RewardScheduler) runOutbox(ctx context.Context) error {
	res, err := s.outbox.ProcessDue(ctx, app.DefaultOutboxBatchSize)
	if res.Claimed > 0 {
		s.logger.WithFields(logrus.Fields{
			"claimed": res.Claimed,
			"done":    res.Done,
			"retried": res.Retried,
			"dead":    res.Dead,
		}).Info("Outbox drained")
	}
	return err
}

func (s *RewardScheduler) runLeaseReclaim(ctx context.Context) error {
	_, err := s.leases.ReclaimExpiredLeases(ctx)
	return err
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *RewardScheduler) Stop() {
	s.logger.Info("Stopping reward scheduler...")
	ctx := s.cronEngine.Stop()
	<-ctx.Done()
	s.logger.Info("Reward scheduler gracefully stopped.")
}
