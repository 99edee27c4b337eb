// internal/app/payment_service.go
package app

import (
	"context"
	"fmt"
	"time"

	"reward_verification_service/internal/domain/paging"
	"reward_verification_service/internal/domain/payment"
	"reward_verification_service/internal/domain/verification"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultServiceFeeRate   = 0.20
	DefaultPaymentTermsDays = 14
)

// PaymentSettings carries the commercial terms applied to new invoices.
type PaymentSettings struct {
	ServiceFeeRate   float64
	PaymentTermsDays int
}

// InvoiceGenerationResult summarizes one GenerateInvoices run.
type InvoiceGenerationResult struct {
	InvoicesCreated    int   `json:"invoices_created"`
	TotalAmount        int64 `json:"total_amount"`
	BusinessesInvoiced int   `json:"businesses_invoiced"`
}

// PaymentStatusUpdate is an admin request to move an invoice.
type PaymentStatusUpdate struct {
	Status      payment.InvoiceStatus
	PaymentDate *time.Time
	Notes       *string
}

// PaymentService issues invoices and tracks their payment. Side effects of a payment
// are queued in the outbox together with the status change.
type PaymentService struct {
	repo      payment.Repository
	cycleRepo verification.Repository
	cycles    *CycleService
	directory BusinessDirectory
	notifier  Notifier
	settings  PaymentSettings
	logger    *logrus.Entry
	now       func() time.Time
}

func NewPaymentService(
	repo payment.Repository,
	cycleRepo verification.Repository,
	cycles *CycleService,
	directory BusinessDirectory,
	notifier Notifier,
	settings PaymentSettings,
	logger *logrus.Entry,
) *PaymentService {
	if settings.ServiceFeeRate <= 0 {
		settings.ServiceFeeRate = DefaultServiceFeeRate
	}
	if settings.PaymentTermsDays <= 0 {
		settings.PaymentTermsDays = DefaultPaymentTermsDays
	}
	return &PaymentService{
		repo:      repo,
		cycleRepo: cycleRepo,
		cycles:    cycles,
		directory: directory,
		notifier:  notifier,
		settings:  settings,
		logger:    logger.WithField("component", "payment_service"),
		now:       time.Now,
	}
}

// GenerateInvoices bills every business with verified records in a processing cycle
// and moves the cycle to invoicing.
func (s *PaymentService) GenerateInvoices(ctx context.Context, cycleID uuid.UUID) (*InvoiceGenerationResult, error) {
	cycle, err := s.cycles.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.CountInvoicesByCycle(ctx, cycleID)
	if err != nil {
		return nil, errors.Wrap(err, "count existing invoices")
	}
	if existing > 0 {
		return nil, ErrInvoicesExist
	}
	if err := requireStatus(cycle, verification.CycleStatusProcessing); err != nil {
		return nil, err
	}

	summaries, err := s.cycleRepo.SummarizeVerifiedByBusiness(ctx, cycleID)
	if err != nil {
		return nil, errors.Wrap(err, "summarize verified records")
	}

	now := s.now()
	due := verification.DateOnly(now).AddDate(0, 0, s.settings.PaymentTermsDays)
	result := &InvoiceGenerationResult{}
	invoices := make([]*payment.Invoice, 0, len(summaries))
	for _, sum := range summaries {
		if sum.VerifiedCount == 0 {
			continue
		}
		inv := payment.NewInvoice(cycleID, sum.BusinessID, sum.VerifiedCount, sum.RewardAmount, s.settings.ServiceFeeRate, due)
		invoices = append(invoices, inv)
		result.TotalAmount += inv.TotalAmount
	}
	result.InvoicesCreated = len(invoices)
	result.BusinessesInvoiced = len(invoices)

	invoicing, err := s.cycles.transitionWith(ctx, cycle, verification.CycleStatusInvoicing, func(move verification.CycleMove) (*verification.Cycle, error) {
		return s.repo.CreateInvoices(ctx, move, invoices)
	})
	if err != nil {
		if errors.Is(err, payment.ErrInvoicesExist) {
			return nil, ErrInvoicesExist
		}
		return nil, err
	}
	if len(invoices) == 0 {
		// Nothing to collect; the cycle is settled immediately.
		if _, err := s.cycles.transition(ctx, invoicing, verification.CycleStatusCompleted); err != nil {
			return nil, err
		}
	}

	for _, inv := range invoices {
		if err := s.sendInvoiceNotice(ctx, inv); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"invoice_id":  inv.ID,
				"business_id": inv.BusinessID,
			}).Warn("Failed to send invoice notice")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"cycle_id":     cycleID,
		"invoices":     result.InvoicesCreated,
		"total_amount": result.TotalAmount,
	}).Info("Invoices generated")
	return result, nil
}

func (s *PaymentService) GetInvoice(ctx context.Context, id uuid.UUID) (*payment.Invoice, error) {
	inv, err := s.repo.GetInvoiceByID(ctx, id)
	if err != nil {
		if errors.Is(err, payment.ErrInvoiceNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, errors.Wrap(err, "get invoice")
	}
	return inv, nil
}

func (s *PaymentService) ListInvoices(ctx context.Context, filter payment.InvoiceFilter) ([]*payment.Invoice, paging.Pagination, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, paging.Pagination{}, Validation("unknown invoice status %q", filter.Status)
	}
	filter.Page = filter.Page.Normalize()
	invoices, total, err := s.repo.ListInvoices(ctx, filter)
	if err != nil {
		return nil, paging.Pagination{}, errors.Wrap(err, "list invoices")
	}
	return invoices, paging.NewPagination(filter.Page, total), nil
}

// UpdatePaymentStatus applies an admin move from the invoice transition table. Marking
// an invoice paid queues feedback delivery and reward batching in the same write.
func (s *PaymentService) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, upd PaymentStatusUpdate) (*payment.Invoice, error) {
	if !upd.Status.Valid() {
		return nil, Validation("unknown invoice status %q", upd.Status)
	}
	if upd.Status == payment.InvoiceStatusPaid && upd.PaymentDate == nil {
		return nil, ErrPaymentDateRequired
	}

	inv, err := s.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	from := inv.Status
	if !payment.CanTransition(from, upd.Status) {
		return nil, invalidInvoiceTransition(from, upd.Status)
	}

	now := s.now()
	inv.Status = upd.Status
	if upd.PaymentDate != nil {
		pd := *upd.PaymentDate
		inv.PaymentDate = &pd
	}
	if upd.Notes != nil {
		inv.Notes = *upd.Notes
	}

	var events []*payment.OutboxEvent
	if upd.Status == payment.InvoiceStatusPaid {
		events = []*payment.OutboxEvent{
			payment.NewOutboxEvent(payment.EventDeliverFeedbackDatabase, inv.ID, now),
			payment.NewOutboxEvent(payment.EventCreateRewardBatches, inv.ID, now),
		}
	}
	if err := s.repo.UpdateInvoiceStatus(ctx, inv, from, events); err != nil {
		if errors.Is(err, payment.ErrStaleInvoiceStatus) {
			return nil, Conflict("Invoice status changed concurrently; reload and retry")
		}
		return nil, errors.Wrapf(err, "move invoice %s to %s", inv.ID, upd.Status)
	}

	s.logger.WithFields(logrus.Fields{
		"invoice_id": inv.ID,
		"from":       from,
		"to":         inv.Status,
		"events":     len(events),
	}).Info("Invoice status changed")

	if inv.Status.IsTerminal() {
		if err := s.completeCycleIfSettled(ctx, inv.CycleID); err != nil {
			s.logger.WithError(err).WithField("cycle_id", inv.CycleID).Error("Failed to complete settled cycle")
		}
	}
	return inv, nil
}

// completeCycleIfSettled moves an invoicing cycle to completed once no invoice is open.
func (s *PaymentService) completeCycleIfSettled(ctx context.Context, cycleID uuid.UUID) error {
	open, err := s.repo.CountOpenInvoicesByCycle(ctx, cycleID)
	if err != nil {
		return errors.Wrap(err, "count open invoices")
	}
	if open > 0 {
		return nil
	}
	cycle, err := s.cycles.GetCycle(ctx, cycleID)
	if err != nil {
		return err
	}
	if cycle.Status != verification.CycleStatusInvoicing {
		return nil
	}
	_, err = s.cycles.transition(ctx, cycle, verification.CycleStatusCompleted)
	return err
}

// ResendInvoiceNotification re-sends the notice for an unpaid invoice.
func (s *PaymentService) ResendInvoiceNotification(ctx context.Context, id uuid.UUID) (*payment.Invoice, error) {
	inv, err := s.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if !inv.Status.AllowsReminder() {
		return nil, Conflict("Cannot resend notification for invoice with status %s", inv.Status)
	}
	if err := s.sendInvoiceNotice(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *PaymentService) sendInvoiceNotice(ctx context.Context, inv *payment.Invoice) error {
	biz, err := s.directory.Get(ctx, inv.BusinessID)
	if err != nil {
		return errors.Wrap(err, "resolve business")
	}
	text := fmt.Sprintf(
		"Hello %s! Invoice %s: %d verified rewards, %s rewards + %s service fee = %s due by %s.",
		biz.Name,
		inv.ID,
		inv.VerifiedCount,
		payment.FormatAmount(inv.RewardAmount),
		payment.FormatAmount(inv.ServiceFee),
		payment.FormatAmount(inv.TotalAmount),
		inv.DueDate.Format("2006-01-02"),
	)
	if inv.Status == payment.InvoiceStatusOverdue {
		text = "Reminder: this invoice is overdue.\n" + text
	}
	if err := s.notifier.NotifyBusiness(ctx, biz, text); err != nil {
		return errors.Wrap(err, "send invoice notice")
	}

	at := s.now()
	if err := s.repo.TouchInvoiceNotified(ctx, inv.ID, at); err != nil {
		return errors.Wrap(err, "stamp invoice notification")
	}
	inv.LastNotifiedAt = &at
	return nil
}

// MarkOverdueInvoices is the system sweep moving unpaid invoices past their due date
// to overdue. It is not an admin transition.
func (s *PaymentService) MarkOverdueInvoices(ctx context.Context) (int, error) {
	marked, err := s.repo.MarkOverdue(ctx, s.now())
	if err != nil {
		return 0, errors.Wrap(err, "mark overdue invoices")
	}
	for _, inv := range marked {
		s.logger.WithFields(logrus.Fields{
			"invoice_id":  inv.ID,
			"business_id": inv.BusinessID,
			"due_date":    inv.DueDate.Format("2006-01-02"),
		}).Warn("Invoice overdue")
	}
	return len(marked), nil
}
