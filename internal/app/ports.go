// internal/app/ports.go
package app

import (
	"context"

	"reward_verification_service/internal/domain/business"

	"github.com/google/uuid"
)

// Notifier delivers a text message to a business. Implementations skip businesses
// without a linked channel and return nil.
type Notifier interface {
	NotifyBusiness(ctx context.Context, b *business.Business, text string) error
}

// BusinessDirectory resolves businesses by id, usually through a cache.
type BusinessDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (*business.Business, error)
}
