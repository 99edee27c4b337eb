// internal/infra/database/postgres_business_repository.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"reward_verification_service/internal/domain/business"

	"github.com/google/uuid"
)

// PostgresBusinessRepository reads the businesses and feedback_transactions tables,
// which other services write.
type PostgresBusinessRepository struct {
	db *sql.DB
}

func NewPostgresBusinessRepository(db *sql.DB) *PostgresBusinessRepository {
	return &PostgresBusinessRepository{db: db}
}

func (r *PostgresBusinessRepository) GetByID(ctx context.Context, id uuid.UUID) (*business.Business, error) {
	query := `SELECT id, name, email, telegram_chat_id, active, created_at
               FROM businesses WHERE id = $1`
	b := &business.Business{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&b.ID, &b.Name, &b.Email, &b.TelegramChatID, &b.Active, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, business.ErrBusinessNotFound
		}
		return nil, fmt.Errorf("error getting business by ID: %w", err)
	}
	return b, nil
}

func (r *PostgresBusinessRepository) ListActive(ctx context.Context) ([]*business.Business, error) {
	query := `SELECT id, name, email, telegram_chat_id, active, created_at
               FROM businesses WHERE active = TRUE ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing active businesses: %w", err)
	}
	defer rows.Close()

	businesses := make([]*business.Business, 0)
	for rows.Next() {
		b := &business.Business{}
		if err := rows.Scan(&b.ID, &b.Name, &b.Email, &b.TelegramChatID, &b.Active, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning active business: %w", err)
		}
		businesses = append(businesses, b)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating active businesses: %w", err)
	}
	return businesses, nil
}

func (r *PostgresBusinessRepository) ListTransactions(ctx context.Context, businessID uuid.UUID, from, to time.Time) ([]*business.Transaction, error) {
	query := `SELECT id, business_id, customer_phone, transaction_amount, reward_amount, transaction_time
               FROM feedback_transactions
               WHERE business_id = $1 AND transaction_time >= $2 AND transaction_time < $3
               ORDER BY transaction_time, id`

	rows, err := r.db.QueryContext(ctx, query, businessID, from, to)
	if err != nil {
		return nil, fmt.Errorf("error listing feedback transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]*business.Transaction, 0)
	for rows.Next() {
		t := &business.Transaction{}
		if err := rows.Scan(&t.ID, &t.BusinessID, &t.CustomerPhone, &t.TransactionAmount, &t.RewardAmount, &t.TransactionTime); err != nil {
			return nil, fmt.Errorf("error scanning feedback transaction: %w", err)
		}
		txs = append(txs, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feedback transactions: %w", err)
	}
	return txs, nil
}
