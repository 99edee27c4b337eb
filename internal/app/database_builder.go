// internal/app/database_builder.go
package app

import (
	"context"

	"reward_verification_service/internal/domain/business"
	"reward_verification_service/internal/domain/verification"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// databaseBuilder (re)fills a business's verification database from its feedback
// transactions in the cycle week. Shared by preparation and regeneration.
type databaseBuilder struct {
	repo       verification.Repository
	businesses business.Repository
}

// build creates or refreshes the database for businessID. When the business has no
// transactions in the week and no database exists yet, it returns (nil, nil).
func (b *databaseBuilder) build(ctx context.Context, cycle *verification.Cycle, businessID uuid.UUID, existing *verification.Database) (*verification.Database, error) {
	from, to := cycle.WeekRange()
	txs, err := b.businesses.ListTransactions(ctx, businessID, from, to)
	if err != nil {
		return nil, errors.Wrapf(err, "list transactions for business %s", businessID)
	}
	if len(txs) == 0 && existing == nil {
		return nil, nil
	}

	db := existing
	if db == nil {
		db = &verification.Database{
			ID:         uuid.New(),
			CycleID:    cycle.ID,
			BusinessID: businessID,
			Status:     verification.DatabaseStatusPreparing,
		}
		if err := b.repo.CreateDatabase(ctx, db); err != nil {
			if !errors.Is(err, verification.ErrDuplicateDatabase) {
				return nil, errors.Wrapf(err, "create database for business %s", businessID)
			}
			db, err = b.repo.GetDatabaseByCycleAndBusiness(ctx, cycle.ID, businessID)
			if err != nil {
				return nil, errors.Wrapf(err, "load existing database for business %s", businessID)
			}
		}
	}
	if db.Locked() {
		return db, nil
	}

	records := make([]*verification.Record, 0, len(txs))
	for _, tx := range txs {
		records = append(records, &verification.Record{
			ID:                uuid.New(),
			DatabaseID:        db.ID,
			TransactionID:     tx.ID,
			CustomerPhone:     tx.CustomerPhone,
			TransactionAmount: tx.TransactionAmount,
			RewardAmount:      tx.RewardAmount,
			TransactionTime:   tx.TransactionTime,
			Verdict:           verification.VerdictPending,
		})
	}
	if err := b.repo.ReplaceRecords(ctx, db.ID, records); err != nil {
		return nil, errors.Wrapf(err, "write records for database %s", db.ID)
	}

	db.Status = verification.DatabaseStatusReady
	db.TransactionCount = len(records)
	db.VerifiedCount = 0
	db.RejectedCount = 0
	if err := b.repo.UpdateDatabase(ctx, db); err != nil {
		return nil, errors.Wrapf(err, "mark database %s ready", db.ID)
	}
	return db, nil
}
