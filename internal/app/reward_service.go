// internal/app/reward_service.go
package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"reward_verification_service/internal/domain/payment"
	"reward_verification_service/internal/domain/verification"
	"reward_verification_service/internal/infra/export"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const DefaultBatchLeaseTTL = 5 * time.Minute

// RewardBatchResult reports what one batching run added to the week's batch.
type RewardBatchResult struct {
	BatchID        uuid.UUID `json:"batch_id"`
	RewardsCreated int       `json:"rewards_created"`
	Customers      int       `json:"customers"`
	TotalAmount    int64     `json:"total_amount"`
}

// RewardService executes the side effects of a paid invoice: customer reward batching
// and handing the feedback database to the business.
type RewardService struct {
	repo      payment.Repository
	cycleRepo verification.Repository
	exports   *ExportService
	directory BusinessDirectory
	notifier  Notifier
	workerID  string
	leaseTTL  time.Duration
	logger    *logrus.Entry
	now       func() time.Time
}

func NewRewardService(
	repo payment.Repository,
	cycleRepo verification.Repository,
	exports *ExportService,
	directory BusinessDirectory,
	notifier Notifier,
	workerID string,
	leaseTTL time.Duration,
	logger *logrus.Entry,
) *RewardService {
	if leaseTTL <= 0 {
		leaseTTL = DefaultBatchLeaseTTL
	}
	return &RewardService{
		repo:      repo,
		cycleRepo: cycleRepo,
		exports:   exports,
		directory: directory,
		notifier:  notifier,
		workerID:  workerID,
		leaseTTL:  leaseTTL,
		logger:    logger.WithField("component", "reward_service"),
		now:       time.Now,
	}
}

func (s *RewardService) paidInvoice(ctx context.Context, id uuid.UUID) (*payment.Invoice, *verification.Cycle, error) {
	inv, err := s.repo.GetInvoiceByID(ctx, id)
	if err != nil {
		if errors.Is(err, payment.ErrInvoiceNotFound) {
			return nil, nil, ErrInvoiceNotFound
		}
		return nil, nil, errors.Wrap(err, "get invoice")
	}
	if inv.Status != payment.InvoiceStatusPaid {
		return nil, nil, Conflict("Invoice %s is %s, not paid", inv.ID, inv.Status)
	}
	cycle, err := s.cycleRepo.GetCycleByID(ctx, inv.CycleID)
	if err != nil {
		if errors.Is(err, verification.ErrCycleNotFound) {
			return nil, nil, ErrCycleNotFound
		}
		return nil, nil, errors.Wrap(err, "get cycle")
	}
	return inv, cycle, nil
}

// CreateCustomerRewardBatches adds one reward per customer phone of the invoice to the
// batch of the cycle week. Runs under the batch lease; a held lease is ErrBatchLocked.
// Re-running for the same invoice adds nothing.
func (s *RewardService) CreateCustomerRewardBatches(ctx context.Context, invoiceID uuid.UUID) (*RewardBatchResult, error) {
	inv, cycle, err := s.paidInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	records, err := s.cycleRepo.ListVerifiedRecords(ctx, cycle.ID, inv.BusinessID)
	if err != nil {
		return nil, errors.Wrap(err, "list verified records")
	}
	rewards := groupRewards(inv.ID, records)

	batch, err := s.repo.GetOrCreateBatch(ctx, cycle.CycleWeek)
	if err != nil {
		return nil, errors.Wrap(err, "get payment batch")
	}

	now := s.now()
	key := fmt.Sprintf("%s:%s", s.workerID, uuid.NewString())
	acquired, err := s.repo.AcquireBatchLease(ctx, batch.ID, key, now, now.Add(s.leaseTTL))
	if err != nil {
		return nil, errors.Wrap(err, "acquire batch lease")
	}
	if !acquired {
		return nil, ErrBatchLocked
	}
	defer func() {
		if err := s.repo.ReleaseBatchLease(context.WithoutCancel(ctx), batch.ID, key); err != nil {
			s.logger.WithError(err).WithField("batch_id", batch.ID).Warn("Failed to release batch lease")
		}
	}()

	for _, r := range rewards {
		r.BatchID = batch.ID
	}
	inserted, err := s.repo.AddRewards(ctx, batch.ID, key, s.now(), rewards)
	if err != nil {
		if errors.Is(err, payment.ErrLeaseNotHeld) {
			return nil, ErrBatchLocked
		}
		return nil, errors.Wrap(err, "add customer rewards")
	}

	result := &RewardBatchResult{BatchID: batch.ID, RewardsCreated: inserted, Customers: len(rewards)}
	for _, r := range rewards {
		result.TotalAmount += r.Amount
	}
	s.logger.WithFields(logrus.Fields{
		"invoice_id": inv.ID,
		"batch_id":   batch.ID,
		"batch_week": batch.BatchWeek.Format("2006-01-02"),
		"inserted":   inserted,
		"customers":  len(rewards),
	}).Info("Customer rewards batched")
	return result, nil
}

// groupRewards folds verified records into one reward per customer phone, ordered by phone.
func groupRewards(invoiceID uuid.UUID, records []*verification.Record) []*payment.CustomerReward {
	byPhone := make(map[string]*payment.CustomerReward)
	for _, rec := range records {
		r, ok := byPhone[rec.CustomerPhone]
		if !ok {
			r = &payment.CustomerReward{
				ID:            uuid.New(),
				InvoiceID:     invoiceID,
				CustomerPhone: rec.CustomerPhone,
				Status:        payment.RewardStatusPending,
			}
			byPhone[rec.CustomerPhone] = r
		}
		r.Amount += rec.RewardAmount
		r.RecordCount++
	}
	out := make([]*payment.CustomerReward, 0, len(byPhone))
	for _, r := range byPhone {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerPhone < out[j].CustomerPhone })
	return out
}

// DeliverFeedbackDatabase sends the business a signed JSON link to its reviewed database
// and records the delivery. An invoice is delivered at most once.
func (s *RewardService) DeliverFeedbackDatabase(ctx context.Context, invoiceID uuid.UUID) (*payment.FeedbackDelivery, error) {
	inv, cycle, err := s.paidInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.GetDeliveryByInvoice(ctx, inv.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, payment.ErrDeliveryNotFound) {
		return nil, errors.Wrap(err, "check existing delivery")
	}

	db, err := s.cycleRepo.GetDatabaseByCycleAndBusiness(ctx, cycle.ID, inv.BusinessID)
	if err != nil {
		if errors.Is(err, verification.ErrDatabaseNotFound) {
			return nil, ErrDatabaseNotFound
		}
		return nil, errors.Wrap(err, "get verification database")
	}
	link, err := s.exports.signedLink(db, export.FormatJSON)
	if err != nil {
		return nil, err
	}

	biz, err := s.directory.Get(ctx, inv.BusinessID)
	if err != nil {
		return nil, errors.Wrap(err, "resolve business")
	}
	text := fmt.Sprintf(
		"Thank you %s! Payment for invoice %s was received. Your feedback database for the week of %s is available until %s:\n%s",
		biz.Name,
		inv.ID,
		cycle.CycleWeek.Format("2006-01-02"),
		link.ExpiresAt.Format("2006-01-02 15:04 MST"),
		link.DownloadURL,
	)
	if err := s.notifier.NotifyBusiness(ctx, biz, text); err != nil {
		return nil, errors.Wrap(err, "notify business")
	}

	delivery := &payment.FeedbackDelivery{
		ID:          uuid.New(),
		InvoiceID:   inv.ID,
		BusinessID:  inv.BusinessID,
		CycleID:     cycle.ID,
		DownloadURL: link.DownloadURL,
		DeliveredAt: s.now(),
	}
	if err := s.repo.CreateDelivery(ctx, delivery); err != nil {
		return nil, errors.Wrap(err, "record delivery")
	}
	s.logger.WithFields(logrus.Fields{
		"invoice_id":  inv.ID,
		"business_id": inv.BusinessID,
		"database_id": db.ID,
	}).Info("Feedback database delivered")
	return delivery, nil
}

// ReclaimExpiredLeases frees batch leases left behind by crashed workers.
func (s *RewardService) ReclaimExpiredLeases(ctx context.Context) (int, error) {
	n, err := s.repo.ReclaimExpiredLeases(ctx, s.now())
	if err != nil {
		return 0, errors.Wrap(err, "reclaim expired batch leases")
	}
	if n > 0 {
		s.logger.WithField("reclaimed", n).Warn("Expired batch leases reclaimed")
	}
	return n, nil
}
