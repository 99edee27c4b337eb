// internal/domain/payment/invoice.go
package payment

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// InvoiceStatus is the payment state of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusPending   InvoiceStatus = "pending"
	InvoiceStatusDisputed  InvoiceStatus = "disputed"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// invoiceTransitions lists the moves an admin may make. The pending -> overdue move
// is made only by the overdue sweep and is deliberately absent here.
var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusPending:   {InvoiceStatusPaid, InvoiceStatusDisputed, InvoiceStatusCancelled},
	InvoiceStatusDisputed:  {InvoiceStatusPaid, InvoiceStatusCancelled},
	InvoiceStatusOverdue:   {InvoiceStatusPaid, InvoiceStatusDisputed, InvoiceStatusCancelled},
	InvoiceStatusPaid:      {},
	InvoiceStatusCancelled: {},
}

func (s InvoiceStatus) Valid() bool {
	_, ok := invoiceTransitions[s]
	return ok
}

func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusCancelled
}

// AllowsReminder reports whether an invoice notice may be (re)sent in this status.
func (s InvoiceStatus) AllowsReminder() bool {
	return s == InvoiceStatusPending || s == InvoiceStatusOverdue
}

// CanTransition reports whether an admin may move an invoice from one status to another.
func CanTransition(from, to InvoiceStatus) bool {
	for _, next := range invoiceTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Invoice is a payment request to a business for a cycle's verified rewards plus fee.
// Corresponds to the 'payment_invoices' table. Amounts are in minor units.
type Invoice struct {
	ID             uuid.UUID     `json:"id"`
	CycleID        uuid.UUID     `json:"cycle_id"`
	BusinessID     uuid.UUID     `json:"business_id"`
	Status         InvoiceStatus `json:"status"`
	VerifiedCount  int           `json:"verified_count"`
	RewardAmount   int64         `json:"reward_amount"`
	ServiceFee     int64         `json:"service_fee"`
	TotalAmount    int64         `json:"total_amount"`
	DueDate        time.Time     `json:"due_date"`
	PaymentDate    *time.Time    `json:"payment_date,omitempty"`
	Notes          string        `json:"notes,omitempty"`
	LastNotifiedAt *time.Time    `json:"last_notified_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// ServiceFee computes the platform fee on a reward total, rounded half away from zero.
func ServiceFee(rewardAmount int64, rate float64) int64 {
	return int64(math.Round(float64(rewardAmount) * rate))
}

// NewInvoice builds a pending invoice with its fee and total filled in.
func NewInvoice(cycleID, businessID uuid.UUID, verifiedCount int, rewardAmount int64, feeRate float64, dueDate time.Time) *Invoice {
	fee := ServiceFee(rewardAmount, feeRate)
	return &Invoice{
		ID:            uuid.New(),
		CycleID:       cycleID,
		BusinessID:    businessID,
		Status:        InvoiceStatusPending,
		VerifiedCount: verifiedCount,
		RewardAmount:  rewardAmount,
		ServiceFee:    fee,
		TotalAmount:   rewardAmount + fee,
		DueDate:       dueDate,
	}
}

// FormatAmount renders minor units as a decimal string, e.g. 12345 -> "123.45".
func FormatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
