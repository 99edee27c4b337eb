package httpapi

import (
	"net/http"
	"time"

	"reward_verification_service/internal/app"
	"reward_verification_service/internal/domain/payment"
)

type updatePaymentRequest struct {
	Status      string  `json:"status" validate:"required,oneof=pending disputed overdue paid cancelled"`
	PaymentDate *string `json:"payment_date"`
	Notes       *string `json:"notes" validate:"omitempty,max=2000"`
}

// parsePaymentDate accepts a calendar date or a full RFC 3339 timestamp.
func parsePaymentDate(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, app.Validation("payment_date must be YYYY-MM-DD or RFC 3339")
	}
	return t.UTC(), nil
}

func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	page, err := pageParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cycleID, err := s.queryID(r, "cycle_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	businessID, err := s.queryID(r, "business_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter := payment.InvoiceFilter{
		CycleID:    cycleID,
		BusinessID: businessID,
		Status:     payment.InvoiceStatus(r.URL.Query().Get("status")),
		Page:       page,
	}
	invoices, pagination, err := s.payments.ListInvoices(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writePage(w, invoices, pagination)
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := s.pathID(r, "invoiceId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	inv, err := s.payments.GetInvoice(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleUpdatePayment(w http.ResponseWriter, r *http.Request) {
	id, err := s.pathID(r, "invoiceId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req updatePaymentRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	upd := app.PaymentStatusUpdate{
		Status: payment.InvoiceStatus(req.Status),
		Notes:  req.Notes,
	}
	if req.PaymentDate != nil && *req.PaymentDate != "" {
		date, err := parsePaymentDate(*req.PaymentDate)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		upd.PaymentDate = &date
	}

	before, err := s.payments.GetInvoice(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.payments.UpdatePaymentStatus(r.Context(), id, upd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.audit(r, "payment_invoice.update_status", "payment_invoice", id.String(), before, updated)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleResendInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := s.pathID(r, "invoiceId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	inv, err := s.payments.ResendInvoiceNotification(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.audit(r, "payment_invoice.resend", "payment_invoice", id.String(), nil, nil)
	writeJSON(w, http.StatusOK, inv)
}
