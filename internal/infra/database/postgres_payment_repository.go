// internal/infra/database/postgres_payment_repository.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"reward_verification_service/internal/domain/payment"
	"reward_verification_service/internal/domain/verification"

	"github.com/google/uuid"
)

type PostgresPaymentRepository struct {
	db *sql.DB
}

func NewPostgresPaymentRepository(db *sql.DB) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{db: db}
}

// --- Invoice Methods ---

const invoiceColumns = `id, cycle_id, business_id, status, verified_count, reward_amount, service_fee, total_amount,
               due_date, payment_date, notes, last_notified_at, created_at, updated_at`

func scanInvoice(s rowScanner) (*payment.Invoice, error) {
	inv := &payment.Invoice{}
	var paid, notified sql.NullTime
	err := s.Scan(&inv.ID, &inv.CycleID, &inv.BusinessID, &inv.Status, &inv.VerifiedCount, &inv.RewardAmount, &inv.ServiceFee, &inv.TotalAmount,
		&inv.DueDate, &paid, &inv.Notes, &notified, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inv.PaymentDate = timePtr(paid)
	inv.LastNotifiedAt = timePtr(notified)
	return inv, nil
}

func (r *PostgresPaymentRepository) CreateInvoices(ctx context.Context, move verification.CycleMove, invoices []*payment.Invoice) (*verification.Cycle, error) {
	var cycle *verification.Cycle
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		if cycle, err = moveCycleTx(ctx, tx, move); err != nil {
			return err
		}
		if len(invoices) == 0 {
			return nil
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO payment_invoices
                   (id, cycle_id, business_id, status, verified_count, reward_amount, service_fee, total_amount, due_date, notes)
                   VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
                   RETURNING created_at, updated_at`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement for invoice insert: %w", err)
		}
		defer stmt.Close()

		for _, inv := range invoices {
			err := stmt.QueryRowContext(ctx, inv.ID, inv.CycleID, inv.BusinessID, inv.Status, inv.VerifiedCount, inv.RewardAmount,
				inv.ServiceFee, inv.TotalAmount, inv.DueDate, inv.Notes).Scan(&inv.CreatedAt, &inv.UpdatedAt)
			if err != nil {
				if isUniqueViolation(err, "payment_invoices_cycle_business_key") {
					return payment.ErrInvoicesExist
				}
				return fmt.Errorf("error inserting invoice for business %s: %w", inv.BusinessID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cycle, nil
}

func (r *PostgresPaymentRepository) CountInvoicesByCycle(ctx context.Context, cycleID uuid.UUID) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payment_invoices WHERE cycle_id = $1`, cycleID).Scan(&n); err != nil {
		return 0, fmt.Errorf("error counting invoices: %w", err)
	}
	return n, nil
}

func (r *PostgresPaymentRepository) CountOpenInvoicesByCycle(ctx context.Context, cycleID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payment_invoices WHERE cycle_id = $1 AND status NOT IN ($2, $3)`,
		cycleID, payment.InvoiceStatusPaid, payment.InvoiceStatusCancelled).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("error counting open invoices: %w", err)
	}
	return n, nil
}

func (r *PostgresPaymentRepository) GetInvoiceByID(ctx context.Context, id uuid.UUID) (*payment.Invoice, error) {
	inv, err := scanInvoice(r.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM payment_invoices WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, payment.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("error getting invoice by ID: %w", err)
	}
	return inv, nil
}

func (r *PostgresPaymentRepository) ListInvoices(ctx context.Context, filter payment.InvoiceFilter) ([]*payment.Invoice, int, error) {
	where, args := ` WHERE TRUE`, []any{}
	if filter.CycleID != uuid.Nil {
		args = append(args, filter.CycleID)
		where += fmt.Sprintf(` AND cycle_id = $%d`, len(args))
	}
	if filter.BusinessID != uuid.Nil {
		args = append(args, filter.BusinessID)
		where += fmt.Sprintf(` AND business_id = $%d`, len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += fmt.Sprintf(` AND status = $%d`, len(args))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payment_invoices`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("error counting invoices: %w", err)
	}

	page := filter.Page.Normalize()
	query := fmt.Sprintf(`SELECT %s FROM payment_invoices%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		invoiceColumns, where, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, page.Limit, page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("error listing invoices: %w", err)
	}
	defer rows.Close()

	invoices := make([]*payment.Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("error scanning invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating invoices: %w", err)
	}
	return invoices, total, nil
}

func (r *PostgresPaymentRepository) UpdateInvoiceStatus(ctx context.Context, inv *payment.Invoice, from payment.InvoiceStatus, events []*payment.OutboxEvent) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `UPDATE payment_invoices
                   SET status = $1, payment_date = $2, notes = $3, updated_at = NOW()
                   WHERE id = $4 AND status = $5
                   RETURNING updated_at`,
			inv.Status, nullTime(inv.PaymentDate), inv.Notes, inv.ID, from).Scan(&inv.UpdatedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return payment.ErrStaleInvoiceStatus
			}
			return fmt.Errorf("error updating invoice status: %w", err)
		}
		for _, ev := range events {
			if err := insertOutboxEvent(ctx, tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertOutboxEvent(ctx context.Context, tx *sql.Tx, ev *payment.OutboxEvent) error {
	err := tx.QueryRowContext(ctx, `INSERT INTO payment_outbox (id, kind, invoice_id, status, attempts, next_attempt_at)
               VALUES ($1, $2, $3, $4, $5, $6)
               RETURNING created_at, updated_at`,
		ev.ID, ev.Kind, ev.InvoiceID, ev.Status, ev.Attempts, ev.NextAttemptAt).Scan(&ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error inserting outbox event %s: %w", ev.Kind, err)
	}
	return nil
}

func (r *PostgresPaymentRepository) TouchInvoiceNotified(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE payment_invoices SET last_notified_at = $1, updated_at = NOW() WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("error stamping invoice notification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return payment.ErrInvoiceNotFound
	}
	return nil
}

func (r *PostgresPaymentRepository) MarkOverdue(ctx context.Context, now time.Time) ([]*payment.Invoice, error) {
	query := `UPDATE payment_invoices SET status = $1, updated_at = NOW()
               WHERE status = $2 AND due_date < $3
               RETURNING ` + invoiceColumns
	rows, err := r.db.QueryContext(ctx, query, payment.InvoiceStatusOverdue, payment.InvoiceStatusPending, verification.DateOnly(now))
	if err != nil {
		return nil, fmt.Errorf("error marking invoices overdue: %w", err)
	}
	defer rows.Close()

	marked := make([]*payment.Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning overdue invoice: %w", err)
		}
		marked = append(marked, inv)
	}
	return marked, rows.Err()
}

// --- Batch Methods ---

const batchColumns = `id, batch_week, status, total_amount, reward_count, job_lock_key, job_lock_expires_at, created_at, updated_at`

func scanBatch(s rowScanner) (*payment.Batch, error) {
	b := &payment.Batch{}
	var key sql.NullString
	var expires sql.NullTime
	if err := s.Scan(&b.ID, &b.BatchWeek, &b.Status, &b.TotalAmount, &b.RewardCount, &key, &expires, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	if key.Valid {
		k := key.String
		b.JobLockKey = &k
	}
	b.JobLockExpiresAt = timePtr(expires)
	return b, nil
}

func (r *PostgresPaymentRepository) GetOrCreateBatch(ctx context.Context, week time.Time) (*payment.Batch, error) {
	// The no-op update makes RETURNING yield the existing row on conflict.
	query := `INSERT INTO payment_batches (id, batch_week, status)
               VALUES ($1, $2, $3)
               ON CONFLICT (batch_week) DO UPDATE SET batch_week = EXCLUDED.batch_week
               RETURNING ` + batchColumns
	b, err := scanBatch(r.db.QueryRowContext(ctx, query, uuid.New(), verification.DateOnly(week), payment.BatchStatusPending))
	if err != nil {
		return nil, fmt.Errorf("error getting or creating payment batch: %w", err)
	}
	return b, nil
}

func (r *PostgresPaymentRepository) GetBatchByID(ctx context.Context, id uuid.UUID) (*payment.Batch, error) {
	b, err := scanBatch(r.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM payment_batches WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, payment.ErrBatchNotFound
		}
		return nil, fmt.Errorf("error getting payment batch: %w", err)
	}
	return b, nil
}

func (r *PostgresPaymentRepository) AcquireBatchLease(ctx context.Context, batchID uuid.UUID, key string, now, until time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE payment_batches
               SET job_lock_key = $1, job_lock_expires_at = $2, status = $3, updated_at = NOW()
               WHERE id = $4 AND (job_lock_key IS NULL OR job_lock_expires_at < $5)`,
		key, until, payment.BatchStatusProcessing, batchID, now)
	if err != nil {
		return false, fmt.Errorf("error acquiring batch lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading lease result: %w", err)
	}
	if n == 0 {
		if _, err := r.GetBatchByID(ctx, batchID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (r *PostgresPaymentRepository) ReleaseBatchLease(ctx context.Context, batchID uuid.UUID, key string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE payment_batches
               SET job_lock_key = NULL, job_lock_expires_at = NULL, status = $1, updated_at = NOW()
               WHERE id = $2 AND job_lock_key = $3`,
		payment.BatchStatusPending, batchID, key)
	if err != nil {
		return fmt.Errorf("error releasing batch lease: %w", err)
	}
	return nil
}

func (r *PostgresPaymentRepository) ReclaimExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE payment_batches
               SET job_lock_key = NULL, job_lock_expires_at = NULL, status = $1, updated_at = NOW()
               WHERE job_lock_key IS NOT NULL AND job_lock_expires_at < $2`,
		payment.BatchStatusPending, now)
	if err != nil {
		return 0, fmt.Errorf("error reclaiming batch leases: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error reading reclaim count: %w", err)
	}
	return int(n), nil
}

func (r *PostgresPaymentRepository) AddRewards(ctx context.Context, batchID uuid.UUID, key string, now time.Time, rewards []*payment.CustomerReward) (int, error) {
	inserted := 0
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var held bool
		err := tx.QueryRowContext(ctx, `SELECT COALESCE(job_lock_key = $1 AND job_lock_expires_at > $2, FALSE)
               FROM payment_batches WHERE id = $3 FOR UPDATE`, key, now, batchID).Scan(&held)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return payment.ErrBatchNotFound
			}
			return fmt.Errorf("error checking batch lease: %w", err)
		}
		if !held {
			return payment.ErrLeaseNotHeld
		}

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO customer_rewards (id, batch_id, invoice_id, customer_phone, amount, record_count, status)
                   VALUES ($1, $2, $3, $4, $5, $6, $7)
                   ON CONFLICT ON CONSTRAINT customer_rewards_batch_invoice_phone_key DO NOTHING`)
		if err != nil {
			return fmt.Errorf("failed to prepare reward insert: %w", err)
		}
		defer stmt.Close()

		for _, rw := range rewards {
			res, err := stmt.ExecContext(ctx, rw.ID, batchID, rw.InvoiceID, rw.CustomerPhone, rw.Amount, rw.RecordCount, rw.Status)
			if err != nil {
				return fmt.Errorf("error inserting reward for %s: %w", rw.CustomerPhone, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
		}

		_, err = tx.ExecContext(ctx, `UPDATE payment_batches SET
                   total_amount = (SELECT COALESCE(SUM(amount), 0) FROM customer_rewards WHERE batch_id = $1),
                   reward_count = (SELECT COUNT(*) FROM customer_rewards WHERE batch_id = $1),
                   updated_at = NOW()
               WHERE id = $1`, batchID)
		if err != nil {
			return fmt.Errorf("error refreshing batch totals: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (r *PostgresPaymentRepository) ListRewardsByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*payment.CustomerReward, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, batch_id, invoice_id, customer_phone, amount, record_count, status, created_at
               FROM customer_rewards WHERE invoice_id = $1 ORDER BY customer_phone`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("error listing customer rewards: %w", err)
	}
	defer rows.Close()

	rewards := make([]*payment.CustomerReward, 0)
	for rows.Next() {
		rw := &payment.CustomerReward{}
		if err := rows.Scan(&rw.ID, &rw.BatchID, &rw.InvoiceID, &rw.CustomerPhone, &rw.Amount, &rw.RecordCount, &rw.Status, &rw.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning customer reward: %w", err)
		}
		rewards = append(rewards, rw)
	}
	return rewards, rows.Err()
}

// --- Delivery Methods ---

func (r *PostgresPaymentRepository) GetDeliveryByInvoice(ctx context.Context, invoiceID uuid.UUID) (*payment.FeedbackDelivery, error) {
	d := &payment.FeedbackDelivery{}
	err := r.db.QueryRowContext(ctx, `SELECT id, invoice_id, business_id, cycle_id, download_url, delivered_at
               FROM feedback_deliveries WHERE invoice_id = $1`, invoiceID).
		Scan(&d.ID, &d.InvoiceID, &d.BusinessID, &d.CycleID, &d.DownloadURL, &d.DeliveredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, payment.ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("error getting feedback delivery: %w", err)
	}
	return d, nil
}

func (r *PostgresPaymentRepository) CreateDelivery(ctx context.Context, d *payment.FeedbackDelivery) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO feedback_deliveries (id, invoice_id, business_id, cycle_id, download_url, delivered_at)
               VALUES ($1, $2, $3, $4, $5, $6)
               ON CONFLICT ON CONSTRAINT feedback_deliveries_invoice_key DO NOTHING`,
		d.ID, d.InvoiceID, d.BusinessID, d.CycleID, d.DownloadURL, d.DeliveredAt)
	if err != nil {
		return fmt.Errorf("error creating feedback delivery: %w", err)
	}
	return nil
}

// --- Outbox Methods ---

const outboxColumns = `id, kind, invoice_id, status, attempts, next_attempt_at, last_error, created_at, updated_at`

func scanOutboxEvent(s rowScanner) (*payment.OutboxEvent, error) {
	ev := &payment.OutboxEvent{}
	if err := s.Scan(&ev.ID, &ev.Kind, &ev.InvoiceID, &ev.Status, &ev.Attempts, &ev.NextAttemptAt, &ev.LastError, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
		return nil, err
	}
	return ev, nil
}

func (r *PostgresPaymentRepository) ClaimDueEvents(ctx context.Context, now, claimUntil time.Time, limit int) ([]*payment.OutboxEvent, error) {
	// SKIP LOCKED lets several workers drain the outbox without claiming the same row.
	query := `UPDATE payment_outbox SET next_attempt_at = $1, updated_at = NOW()
               WHERE id IN (
                   SELECT id FROM payment_outbox
                   WHERE status = $2 AND next_attempt_at <= $3
                   ORDER BY next_attempt_at, created_at
                   LIMIT $4
                   FOR UPDATE SKIP LOCKED
               )
               RETURNING ` + outboxColumns
	rows, err := r.db.QueryContext(ctx, query, claimUntil, payment.EventStatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("error claiming outbox events: %w", err)
	}
	defer rows.Close()
	return collectOutboxEvents(rows)
}

func collectOutboxEvents(rows *sql.Rows) ([]*payment.OutboxEvent, error) {
	events := make([]*payment.OutboxEvent, 0)
	for rows.Next() {
		ev, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning outbox event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox events: %w", err)
	}
	return events, nil
}

func (r *PostgresPaymentRepository) MarkEventDone(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `UPDATE payment_outbox SET status = $1, attempts = attempts + 1, last_error = '', updated_at = NOW() WHERE id = $2`,
		payment.EventStatusDone, id)
	if err != nil {
		return fmt.Errorf("error marking outbox event done: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return payment.ErrOutboxEventNotFound
	}
	return nil
}

func (r *PostgresPaymentRepository) MarkEventFailed(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastErr string, dead bool) error {
	status := payment.EventStatusPending
	if dead {
		status = payment.EventStatusDead
	}
	res, err := r.db.ExecContext(ctx, `UPDATE payment_outbox
               SET status = $1, attempts = $2, next_attempt_at = $3, last_error = $4, updated_at = NOW()
               WHERE id = $5`,
		status, attempts, nextAttemptAt, lastErr, id)
	if err != nil {
		return fmt.Errorf("error marking outbox event failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return payment.ErrOutboxEventNotFound
	}
	return nil
}

func (r *PostgresPaymentRepository) ListEventsByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*payment.OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+outboxColumns+` FROM payment_outbox WHERE invoice_id = $1 ORDER BY created_at, kind`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("error listing outbox events: %w", err)
	}
	defer rows.Close()
	return collectOutboxEvents(rows)
}
