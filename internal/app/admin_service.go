package app

import (
	"context"
	"errors"

	"reward_verification_service/internal/domain/paging"
	"reward_verification_service/internal/domain/payment"
	"reward_verification_service/internal/domain/verification"

	"github.com/google/uuid"
)

// ErrAdminNotAuthorized is returned when a chat command comes from a non-admin Telegram user.
var ErrAdminNotAuthorized = errors.New("performing user is not authorized as an admin")

// CycleOverview is a cycle with its invoice counts, shown by the /cycles chat command.
type CycleOverview struct {
	Cycle        *verification.Cycle
	Invoices     int
	OpenInvoices int
}

// AdminService backs the Telegram admin commands. Every call is checked against the
// configured admin Telegram IDs before reaching the workflow services.
type AdminService struct {
	cycles   *CycleService
	payments *PaymentService
	admins   map[int64]bool
}

func NewAdminService(cycles *CycleService, payments *PaymentService, adminTelegramIDs []int64) *AdminService {
	admins := make(map[int64]bool, len(adminTelegramIDs))
	for _, id := range adminTelegramIDs {
		admins[id] = true
	}
	return &AdminService{cycles: cycles, payments: payments, admins: admins}
}

func (s *AdminService) IsAdmin(telegramID int64) bool {
	return s.admins[telegramID]
}

// RecentCycles returns the newest cycles with invoice counts.
func (s *AdminService) RecentCycles(ctx context.Context, performingAdminID int64, limit int) ([]CycleOverview, error) {
	if !s.IsAdmin(performingAdminID) {
		return nil, ErrAdminNotAuthorized
	}
	cycles, _, err := s.cycles.ListCycles(ctx, verification.CycleFilter{Page: paging.Page{Page: 1, Limit: limit}})
	if err != nil {
		return nil, err
	}
	out := make([]CycleOverview, 0, len(cycles))
	for _, c := range cycles {
		total, err := s.payments.repo.CountInvoicesByCycle(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		open, err := s.payments.repo.CountOpenInvoicesByCycle(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, CycleOverview{Cycle: c, Invoices: total, OpenInvoices: open})
	}
	return out, nil
}

func (s *AdminService) Invoice(ctx context.Context, performingAdminID int64, invoiceID uuid.UUID) (*payment.Invoice, error) {
	if !s.IsAdmin(performingAdminID) {
		return nil, ErrAdminNotAuthorized
	}
	return s.payments.GetInvoice(ctx, invoiceID)
}

func (s *AdminService) ResendInvoice(ctx context.Context, performingAdminID int64, invoiceID uuid.UUID) (*payment.Invoice, error) {
	if !s.IsAdmin(performingAdminID) {
		return nil, ErrAdminNotAuthorized
	}
	return s.payments.ResendInvoiceNotification(ctx, invoiceID)
}

// OpenInvoices lists pending and overdue invoices, overdue first.
func (s *AdminService) OpenInvoices(ctx context.Context, performingAdminID int64, limit int) ([]*payment.Invoice, error) {
	if !s.IsAdmin(performingAdminID) {
		return nil, ErrAdminNotAuthorized
	}
	var out []*payment.Invoice
	for _, st := range []payment.InvoiceStatus{payment.InvoiceStatusOverdue, payment.InvoiceStatusPending} {
		invs, _, err := s.payments.ListInvoices(ctx, payment.InvoiceFilter{Status: st, Page: paging.Page{Page: 1, Limit: limit}})
		if err != nil {
			return nil, err
		}
		out = append(out, invs...)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
