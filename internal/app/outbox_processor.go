// internal/app/outbox_processor.go
package app

import (
	"context"
	"time"

	"reward_verification_service/internal/domain/payment"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultOutboxMaxAttempts = 8
	DefaultOutboxBatchSize   = 50

	// outboxClaimTTL hides claimed events from other workers while they run.
	outboxClaimTTL = 2 * time.Minute
)

// OutboxResult counts what one ProcessDue pass did.
type OutboxResult struct {
	Claimed int
	Done    int
	Retried int
	Dead    int
}

// OutboxProcessor runs queued payment side effects until they succeed or run out of attempts.
type OutboxProcessor struct {
	repo        payment.Repository
	rewards     *RewardService
	maxAttempts int
	logger      *logrus.Entry
	now         func() time.Time
}

func NewOutboxProcessor(repo payment.Repository, rewards *RewardService, maxAttempts int, logger *logrus.Entry) *OutboxProcessor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultOutboxMaxAttempts
	}
	return &OutboxProcessor{
		repo:        repo,
		rewards:     rewards,
		maxAttempts: maxAttempts,
		logger:      logger.WithField("component", "outbox_processor"),
		now:         time.Now,
	}
}

// ProcessDue claims up to limit due events and executes them.
func (p *OutboxProcessor) ProcessDue(ctx context.Context, limit int) (OutboxResult, error) {
	if limit <= 0 {
		limit = DefaultOutboxBatchSize
	}
	now := p.now()
	events, err := p.repo.ClaimDueEvents(ctx, now, now.Add(outboxClaimTTL), limit)
	if err != nil {
		return OutboxResult{}, errors.Wrap(err, "claim outbox events")
	}

	res := OutboxResult{Claimed: len(events)}
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		log := p.logger.WithFields(logrus.Fields{
			"event_id":   ev.ID,
			"kind":       ev.Kind,
			"invoice_id": ev.InvoiceID,
			"attempt":    ev.Attempts + 1,
		})

		runErr := p.dispatch(ctx, ev)
		if runErr == nil {
			if err := p.repo.MarkEventDone(ctx, ev.ID); err != nil {
				return res, errors.Wrapf(err, "mark event %s done", ev.ID)
			}
			res.Done++
			log.Info("Outbox event done")
			continue
		}

		attempts := ev.Attempts + 1
		dead := attempts >= p.maxAttempts
		next := p.now().Add(payment.Backoff(attempts))
		if err := p.repo.MarkEventFailed(ctx, ev.ID, attempts, next, runErr.Error(), dead); err != nil {
			return res, errors.Wrapf(err, "mark event %s failed", ev.ID)
		}
		if dead {
			res.Dead++
			log.WithError(runErr).Error("Outbox event dead after max attempts")
			continue
		}
		res.Retried++
		log.WithError(runErr).WithField("next_attempt_at", next).Warn("Outbox event failed; will retry")
	}
	return res, nil
}

func (p *OutboxProcessor) dispatch(ctx context.Context, ev *payment.OutboxEvent) error {
	switch ev.Kind {
	case payment.EventDeliverFeedbackDatabase:
		_, err := p.rewards.DeliverFeedbackDatabase(ctx, ev.InvoiceID)
		return err
	case payment.EventCreateRewardBatches:
		_, err := p.rewards.CreateCustomerRewardBatches(ctx, ev.InvoiceID)
		return err
	}
	return errors.Errorf("unknown outbox event kind %q", ev.Kind)
}
