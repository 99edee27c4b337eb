// internal/domain/business/business.go
package business

import (
	"time"

	"github.com/google/uuid"
)

// Business is a retail customer of the platform. Owned by the business portal;
// this service only reads it.
type Business struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	TelegramChatID int64     `json:"telegram_chat_id,omitempty"` // 0 = not linked
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

// Transaction is a purchase a customer left feedback on, with the reward it earned.
// Produced by the customer portal.
type Transaction struct {
	ID                uuid.UUID `json:"id"`
	BusinessID        uuid.UUID `json:"business_id"`
	CustomerPhone     string    `json:"customer_phone"`
	TransactionAmount int64     `json:"transaction_amount"` // minor units
	RewardAmount      int64     `json:"reward_amount"`      // minor units
	TransactionTime   time.Time `json:"transaction_time"`
}
