// internal/domain/payment/batch.go
package payment

import (
	"time"

	"github.com/google/uuid"
)

// BatchStatus is the payout state of a weekly reward batch.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

// Batch groups the customer payouts of one cycle week.
// Corresponds to the 'payment_batches' table.
type Batch struct {
	ID               uuid.UUID   `json:"id"`
	BatchWeek        time.Time   `json:"batch_week"`
	Status           BatchStatus `json:"status"`
	TotalAmount      int64       `json:"total_amount"`
	RewardCount      int         `json:"reward_count"`
	JobLockKey       *string     `json:"-"`
	JobLockExpiresAt *time.Time  `json:"-"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// LeaseHeld reports whether a live lease is held on the batch at now.
func (b *Batch) LeaseHeld(now time.Time) bool {
	return b.JobLockKey != nil && b.JobLockExpiresAt != nil && now.Before(*b.JobLockExpiresAt)
}

// RewardStatus is the payout state of a single customer reward.
type RewardStatus string

const (
	RewardStatusPending RewardStatus = "pending"
	RewardStatusPaid    RewardStatus = "paid"
	RewardStatusFailed  RewardStatus = "failed"
)

// CustomerReward is the payout owed to one customer phone for one invoice.
// (batch_id, invoice_id, customer_phone) is unique.
type CustomerReward struct {
	ID            uuid.UUID    `json:"id"`
	BatchID       uuid.UUID    `json:"batch_id"`
	InvoiceID     uuid.UUID    `json:"invoice_id"`
	CustomerPhone string       `json:"customer_phone"`
	Amount        int64        `json:"amount"`
	RecordCount   int          `json:"record_count"`
	Status        RewardStatus `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
}

// FeedbackDelivery records that a paid invoice's feedback database was handed to the business.
type FeedbackDelivery struct {
	ID          uuid.UUID `json:"id"`
	InvoiceID   uuid.UUID `json:"invoice_id"`
	BusinessID  uuid.UUID `json:"business_id"`
	CycleID     uuid.UUID `json:"cycle_id"`
	DownloadURL string    `json:"download_url"`
	DeliveredAt time.Time `json:"delivered_at"`
}
