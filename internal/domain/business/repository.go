// internal/domain/business/repository.go
package business

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrBusinessNotFound = errors.New("business not found")

// Repository defines read access to businesses and their feedback transactions.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Business, error)
	ListActive(ctx context.Context) ([]*Business, error)
	// ListTransactions returns the business's transactions with from <= time < to.
	ListTransactions(ctx context.Context, businessID uuid.UUID, from, to time.Time) ([]*Transaction, error)
}
