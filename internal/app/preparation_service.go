// internal/app/preparation_service.go
package app

import (
	"context"
	"sync"
	"time"

	"reward_verification_service/internal/domain/business"
	"reward_verification_service/internal/domain/verification"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// PreparationService builds the per-business verification databases of a cycle on a
// background goroutine and tracks progress in a PreparationJob row.
type PreparationService struct {
	repo       verification.Repository
	businesses business.Repository
	builder    *databaseBuilder
	cycles     *CycleService
	logger     *logrus.Entry
	now        func() time.Time

	// baseCtx outlives requests; cancelling it stops running jobs.
	baseCtx context.Context
	wg      sync.WaitGroup
}

func NewPreparationService(
	baseCtx context.Context,
	repo verification.Repository,
	businesses business.Repository,
	cycles *CycleService,
	logger *logrus.Entry,
) *PreparationService {
	return &PreparationService{
		repo:       repo,
		businesses: businesses,
		builder:    &databaseBuilder{repo: repo, businesses: businesses},
		cycles:     cycles,
		logger:     logger.WithField("component", "preparation_service"),
		now:        time.Now,
		baseCtx:    baseCtx,
	}
}

// StartPreparation creates a job for the cycle and returns it immediately; the work
// continues in the background.
func (s *PreparationService) StartPreparation(ctx context.Context, cycleID uuid.UUID) (*verification.PreparationJob, error) {
	cycle, err := s.cycles.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(cycle, verification.CycleStatusPreparing); err != nil {
		return nil, err
	}

	latest, err := s.repo.GetLatestJob(ctx, cycleID)
	if err == nil && latest.Status.InFlight() {
		return nil, ErrPreparationInFlight
	}
	if err != nil && !errors.Is(err, verification.ErrJobNotFound) {
		return nil, errors.Wrap(err, "check running preparation job")
	}

	job := &verification.PreparationJob{
		ID:        uuid.New(),
		CycleID:   cycleID,
		Status:    verification.JobStatusPending,
		StartedAt: s.now(),
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		if errors.Is(err, verification.ErrJobInFlight) {
			return nil, ErrPreparationInFlight
		}
		return nil, errors.Wrap(err, "create preparation job")
	}

	accepted := *job
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(job, cycle)
	}()

	s.logger.WithFields(logrus.Fields{"cycle_id": cycleID, "job_id": job.ID}).Info("Database preparation started")
	return &accepted, nil
}

// GetPreparationStatus returns the most recent job for the cycle.
func (s *PreparationService) GetPreparationStatus(ctx context.Context, cycleID uuid.UUID) (*verification.PreparationJob, error) {
	if _, err := s.cycles.GetCycle(ctx, cycleID); err != nil {
		return nil, err
	}
	job, err := s.repo.GetLatestJob(ctx, cycleID)
	if err != nil {
		if errors.Is(err, verification.ErrJobNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, errors.Wrap(err, "get preparation job")
	}
	return job, nil
}

// Wait blocks until every started job has returned.
func (s *PreparationService) Wait() {
	s.wg.Wait()
}

func (s *PreparationService) run(job *verification.PreparationJob, cycle *verification.Cycle) {
	ctx := s.baseCtx
	log := s.logger.WithFields(logrus.Fields{"cycle_id": cycle.ID, "job_id": job.ID})

	if err := s.prepare(ctx, job, cycle, log); err != nil {
		log.WithError(err).Error("Database preparation failed")
		finished := s.now()
		job.Status = verification.JobStatusFailed
		job.ErrorMessage = err.Error()
		job.CompletedAt = &finished
		// The job context may be cancelled already; the failure must still be recorded.
		if uerr := s.repo.UpdateJob(context.WithoutCancel(ctx), job); uerr != nil {
			log.WithError(uerr).Error("Failed to record preparation failure")
		}
		return
	}

	finished := s.now()
	job.Status = verification.JobStatusCompleted
	job.CompletedAt = &finished
	if err := s.repo.UpdateJob(ctx, job); err != nil {
		log.WithError(err).Error("Failed to record preparation completion")
		return
	}
	log.WithField("databases", job.ProcessedBusinesses).Info("Database preparation completed")
}

func (s *PreparationService) prepare(ctx context.Context, job *verification.PreparationJob, cycle *verification.Cycle, log *logrus.Entry) error {
	businesses, err := s.businesses.ListActive(ctx)
	if err != nil {
		return errors.Wrap(err, "list active businesses")
	}

	job.Status = verification.JobStatusProcessing
	job.TotalBusinesses = len(businesses)
	if err := s.repo.UpdateJob(ctx, job); err != nil {
		return errors.Wrap(err, "mark job processing")
	}

	built := 0
	for _, b := range businesses {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "preparation cancelled")
		}
		existing, err := s.repo.GetDatabaseByCycleAndBusiness(ctx, cycle.ID, b.ID)
		if err != nil && !errors.Is(err, verification.ErrDatabaseNotFound) {
			return errors.Wrapf(err, "load database for business %s", b.ID)
		}
		if err != nil {
			existing = nil
		}

		db, err := s.builder.build(ctx, cycle, b.ID, existing)
		if err != nil {
			return err
		}
		if db != nil {
			built++
			log.WithFields(logrus.Fields{"business_id": b.ID, "database_id": db.ID, "transactions": db.TransactionCount}).Debug("Verification database ready")
		}

		job.ProcessedBusinesses++
		if err := s.repo.UpdateJob(ctx, job); err != nil {
			return errors.Wrap(err, "update job progress")
		}
	}

	if err := s.repo.SetCycleDatabaseCount(ctx, cycle.ID, built); err != nil {
		return errors.Wrap(err, "record database count")
	}
	if _, err := s.cycles.transition(ctx, cycle, verification.CycleStatusReady); err != nil {
		return errors.Wrap(err, "mark cycle ready")
	}
	return nil
}
