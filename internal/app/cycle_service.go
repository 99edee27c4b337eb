// internal/app/cycle_service.go
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"reward_verification_service/internal/domain/paging"
	"reward_verification_service/internal/domain/verification"
	"reward_verification_service/internal/infra/export"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// CycleService owns the verification cycle lifecycle. Every status change goes through
// transition, which consults the state machine in the verification package.
type CycleService struct {
	repo      verification.Repository
	directory BusinessDirectory
	notifier  Notifier
	exports   *ExportService
	logger    *logrus.Entry
	now       func() time.Time
}

func NewCycleService(
	repo verification.Repository,
	directory BusinessDirectory,
	notifier Notifier,
	exports *ExportService,
	logger *logrus.Entry,
) *CycleService {
	return &CycleService{
		repo:      repo,
		directory: directory,
		notifier:  notifier,
		exports:   exports,
		logger:    logger.WithField("component", "cycle_service"),
		now:       time.Now,
	}
}

// CreateCycle opens the cycle for the week starting on the given Monday.
func (s *CycleService) CreateCycle(ctx context.Context, week time.Time, createdBy string) (*verification.Cycle, error) {
	if !verification.IsMonday(week) {
		return nil, ErrNotMonday
	}

	_, err := s.repo.GetCycleByWeek(ctx, week)
	if err == nil {
		return nil, ErrCycleExists
	}
	if !errors.Is(err, verification.ErrCycleNotFound) {
		return nil, errors.Wrap(err, "check existing cycle")
	}

	cycle := verification.NewCycle(week, createdBy)
	if err := s.repo.CreateCycle(ctx, cycle); err != nil {
		if errors.Is(err, verification.ErrDuplicateCycleWeek) {
			return nil, ErrCycleExists
		}
		return nil, errors.Wrap(err, "create cycle")
	}

	s.logger.WithFields(logrus.Fields{
		"cycle_id":   cycle.ID,
		"cycle_week": cycle.CycleWeek.Format("2006-01-02"),
		"created_by": createdBy,
	}).Info("Verification cycle created")
	return cycle, nil
}

// EnsureCycleForWeek creates the cycle for the week containing now unless it exists.
// Used by the weekly scheduler job.
func (s *CycleService) EnsureCycleForWeek(ctx context.Context, now time.Time) (*verification.Cycle, bool, error) {
	week := verification.WeekOf(now)
	existing, err := s.repo.GetCycleByWeek(ctx, week)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, verification.ErrCycleNotFound) {
		return nil, false, errors.Wrap(err, "check existing cycle")
	}
	cycle, err := s.CreateCycle(ctx, week, "scheduler")
	if err != nil {
		return nil, false, err
	}
	return cycle, true, nil
}

func (s *CycleService) GetCycle(ctx context.Context, id uuid.UUID) (*verification.Cycle, error) {
	cycle, err := s.repo.GetCycleByID(ctx, id)
	if err != nil {
		if errors.Is(err, verification.ErrCycleNotFound) {
			return nil, ErrCycleNotFound
		}
		return nil, errors.Wrap(err, "get cycle")
	}
	return cycle, nil
}

func (s *CycleService) ListCycles(ctx context.Context, filter verification.CycleFilter) ([]*verification.Cycle, paging.Pagination, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, paging.Pagination{}, Validation("unknown cycle status %q", filter.Status)
	}
	filter.Page = filter.Page.Normalize()
	cycles, total, err := s.repo.ListCycles(ctx, filter)
	if err != nil {
		return nil, paging.Pagination{}, errors.Wrap(err, "list cycles")
	}
	return cycles, paging.NewPagination(filter.Page, total), nil
}

// ownedMoves names the operation that performs each forward move together with its
// side effects. A bare status update never applies these.
var ownedMoves = map[verification.CycleStatus]string{
	verification.CycleStatusReady:       "POST /prepare",
	verification.CycleStatusDistributed: "POST /distribute",
	verification.CycleStatusCollecting:  "POST /databases/{databaseId}/submit",
	verification.CycleStatusProcessing:  "POST /process",
	verification.CycleStatusInvoicing:   "POST /invoices",
	verification.CycleStatusCompleted:   "PUT /invoices/{invoiceId}/payment on every open invoice",
}

// UpdateCycleStatus applies an admin-requested move. Only expiry of a cycle still waiting
// on businesses is accepted here; every other move belongs to its operation.
func (s *CycleService) UpdateCycleStatus(ctx context.Context, id uuid.UUID, to verification.CycleStatus) (*verification.Cycle, error) {
	if !to.Valid() {
		return nil, Validation("unknown cycle status %q", to)
	}
	cycle, err := s.GetCycle(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := verification.CheckTransition(cycle.Status, to); err != nil {
		return nil, invalidCycleTransition(cycle.Status, to)
	}
	if op, ok := ownedMoves[to]; ok {
		return nil, ownedCycleTransition(cycle.Status, to, "use "+op)
	}
	if !cycle.Status.Expirable() {
		return nil, ownedCycleTransition(cycle.Status, to, "verified results are being invoiced")
	}
	return s.transition(ctx, cycle, to)
}

// transition moves the cycle with no other writes.
func (s *CycleService) transition(ctx context.Context, cycle *verification.Cycle, to verification.CycleStatus) (*verification.Cycle, error) {
	return s.transitionWith(ctx, cycle, to, func(move verification.CycleMove) (*verification.Cycle, error) {
		return s.repo.UpdateCycleStatus(ctx, move.CycleID, move.From, move.To)
	})
}

// transitionWith is the single write path for cycle status. write persists the move,
// together with the operation's own rows when it has any.
func (s *CycleService) transitionWith(
	ctx context.Context,
	cycle *verification.Cycle,
	to verification.CycleStatus,
	write func(verification.CycleMove) (*verification.Cycle, error),
) (*verification.Cycle, error) {
	if err := verification.CheckTransition(cycle.Status, to); err != nil {
		return nil, invalidCycleTransition(cycle.Status, to)
	}
	updated, err := write(verification.CycleMove{CycleID: cycle.ID, From: cycle.Status, To: to})
	if err != nil {
		if errors.Is(err, verification.ErrStaleCycleStatus) {
			return nil, Conflict("Cycle status changed concurrently; reload and retry")
		}
		if errors.Is(err, verification.ErrCycleNotFound) {
			return nil, ErrCycleNotFound
		}
		return nil, errors.Wrapf(err, "move cycle %s to %s", cycle.ID, to)
	}
	s.logger.WithFields(logrus.Fields{
		"cycle_id": cycle.ID,
		"from":     cycle.Status,
		"to":       to,
	}).Info("Cycle status changed")
	return updated, nil
}

// requireStatus returns the 409 used by operations that need one specific cycle state.
func requireStatus(cycle *verification.Cycle, want verification.CycleStatus) error {
	if cycle.Status != want {
		return invalidCycleStatus(want, cycle.Status)
	}
	return nil
}

// DistributeCycle moves a ready cycle to distributed and sends every business its
// download link. Notification failures are logged and do not undo the move.
func (s *CycleService) DistributeCycle(ctx context.Context, id uuid.UUID) (*verification.Cycle, error) {
	cycle, err := s.GetCycle(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(cycle, verification.CycleStatusReady); err != nil {
		return nil, err
	}
	updated, err := s.transition(ctx, cycle, verification.CycleStatusDistributed)
	if err != nil {
		return nil, err
	}

	databases, err := s.repo.ListDatabasesByCycle(ctx, cycle.ID)
	if err != nil {
		s.logger.WithError(err).WithField("cycle_id", cycle.ID).Error("Failed to list databases for distribution notices")
		return updated, nil
	}
	sent := 0
	for _, db := range databases {
		if err := s.notifyDatabaseReady(ctx, updated, db); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"cycle_id":    cycle.ID,
				"database_id": db.ID,
				"business_id": db.BusinessID,
			}).Warn("Failed to notify business about verification database")
			continue
		}
		sent++
	}
	s.logger.WithFields(logrus.Fields{"cycle_id": cycle.ID, "databases": len(databases), "notified": sent}).Info("Cycle distributed")
	return updated, nil
}

func (s *CycleService) notifyDatabaseReady(ctx context.Context, cycle *verification.Cycle, db *verification.Database) error {
	biz, err := s.directory.Get(ctx, db.BusinessID)
	if err != nil {
		return errors.Wrap(err, "resolve business")
	}
	link, err := s.exports.signedLink(db, export.FormatExcel)
	if err != nil {
		return err
	}
	text := fmt.Sprintf(
		"Hello %s! Your verification database for the week of %s is ready (%d transactions).\nDownload: %s\nPlease submit your results before %s.",
		biz.Name,
		cycle.CycleWeek.Format("2006-01-02"),
		db.TransactionCount,
		link.DownloadURL,
		cycle.VerificationDeadline.Format("2006-01-02"),
	)
	return s.notifier.NotifyBusiness(ctx, biz, text)
}

// SubmitVerificationResults records a business's verdicts and locks its database.
// The first submission of a cycle moves it from distributed to collecting.
func (s *CycleService) SubmitVerificationResults(ctx context.Context, cycleID, databaseID uuid.UUID, verdicts map[uuid.UUID]verification.Verdict) (*verification.Database, error) {
	if len(verdicts) == 0 {
		return nil, Validation("results must contain at least one verdict")
	}
	for recordID, v := range verdicts {
		if v != verification.VerdictVerified && v != verification.VerdictRejected {
			return nil, Validation("record %s: verdict must be verified or rejected", recordID)
		}
	}

	cycle, err := s.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if cycle.Status == verification.CycleStatusExpired || cycle.DeadlinePassed(s.now()) {
		return nil, ErrDeadlineExpired
	}
	if cycle.Status != verification.CycleStatusDistributed && cycle.Status != verification.CycleStatusCollecting {
		return nil, invalidCycleStatus(verification.CycleStatusCollecting, cycle.Status)
	}

	db, err := s.exports.databaseInCycle(ctx, cycleID, databaseID)
	if err != nil {
		return nil, err
	}
	if db.Locked() {
		return nil, ErrDatabaseLocked
	}
	if db.Status != verification.DatabaseStatusReady {
		return nil, Conflict("Verification database is not ready (status %s)", db.Status)
	}

	updated, err := s.repo.SubmitVerdicts(ctx, db.ID, verdicts, s.now())
	if err != nil {
		switch {
		case errors.Is(err, verification.ErrRecordNotFound):
			return nil, Validation("results reference records outside this database")
		case errors.Is(err, verification.ErrDatabaseNotWritable):
			return nil, ErrDatabaseLocked
		case errors.Is(err, verification.ErrVerdictsIncomplete):
			return nil, Validation("results must contain a verdict for every record in the database")
		}
		return nil, errors.Wrap(err, "submit verdicts")
	}

	if cycle.Status == verification.CycleStatusDistributed {
		if _, err := s.transition(ctx, cycle, verification.CycleStatusCollecting); err != nil {
			// Another submission may have moved the cycle first.
			s.logger.WithError(err).WithField("cycle_id", cycle.ID).Debug("Cycle not moved to collecting")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"cycle_id":    cycle.ID,
		"database_id": db.ID,
		"verified":    updated.VerifiedCount,
		"rejected":    updated.RejectedCount,
	}).Info("Verification results submitted")
	return updated, nil
}

// BeginProcessing closes collection: submitted databases become processed and the
// cycle moves to processing, which unlocks invoicing.
func (s *CycleService) BeginProcessing(ctx context.Context, id uuid.UUID) (*verification.Cycle, error) {
	cycle, err := s.GetCycle(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(cycle, verification.CycleStatusCollecting); err != nil {
		return nil, err
	}
	processed := 0
	updated, err := s.transitionWith(ctx, cycle, verification.CycleStatusProcessing, func(move verification.CycleMove) (*verification.Cycle, error) {
		c, n, err := s.repo.MarkDatabasesProcessed(ctx, move)
		processed = n
		return c, err
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"cycle_id": cycle.ID, "processed_databases": processed}).Info("Databases marked processed")
	return updated, nil
}

// ExpireOverdueCycles expires cycles still waiting on businesses after their deadline.
func (s *CycleService) ExpireOverdueCycles(ctx context.Context) (int, error) {
	cycles, err := s.repo.ListCyclesPastDeadline(ctx, s.now(), verification.ExpirableStatuses)
	if err != nil {
		return 0, errors.Wrap(err, "list cycles past deadline")
	}
	expired := 0
	var failures []string
	for _, c := range cycles {
		if _, err := s.transition(ctx, c, verification.CycleStatusExpired); err != nil {
			s.logger.WithError(err).WithField("cycle_id", c.ID).Error("Failed to expire cycle")
			failures = append(failures, c.ID.String())
			continue
		}
		expired++
	}
	if len(failures) > 0 {
		return expired, errors.Errorf("failed to expire cycles: %s", strings.Join(failures, ", "))
	}
	return expired, nil
}
