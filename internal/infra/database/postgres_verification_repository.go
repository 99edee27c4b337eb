// internal/infra/database/postgres_verification_repository.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"reward_verification_service/internal/domain/verification"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type PostgresVerificationRepository struct {
	db *sql.DB
}

func NewPostgresVerificationRepository(db *sql.DB) *PostgresVerificationRepository {
	return &PostgresVerificationRepository{db: db}
}

// --- Cycle Methods ---

const cycleColumns = `id, cycle_week, status, created_by, verification_deadline, total_databases, created_at, updated_at`

func scanCycle(s rowScanner) (*verification.Cycle, error) {
	c := &verification.Cycle{}
	if err := s.Scan(&c.ID, &c.CycleWeek, &c.Status, &c.CreatedBy, &c.VerificationDeadline, &c.TotalDatabases, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *PostgresVerificationRepository) CreateCycle(ctx context.Context, c *verification.Cycle) error {
	query := `INSERT INTO verification_cycles (id, cycle_week, status, created_by, verification_deadline)
               VALUES ($1, $2, $3, $4, $5)
               RETURNING created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, c.ID, c.CycleWeek, c.Status, c.CreatedBy, c.VerificationDeadline).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "verification_cycles_week_key") {
			return verification.ErrDuplicateCycleWeek
		}
		return fmt.Errorf("error creating verification cycle: %w", err)
	}
	return nil
}

func (r *PostgresVerificationRepository) GetCycleByID(ctx context.Context, id uuid.UUID) (*verification.Cycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM verification_cycles WHERE id = $1`
	c, err := scanCycle(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, verification.ErrCycleNotFound
		}
		return nil, fmt.Errorf("error getting verification cycle by ID: %w", err)
	}
	return c, nil
}

func (r *PostgresVerificationRepository) GetCycleByWeek(ctx context.Context, week time.Time) (*verification.Cycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM verification_cycles WHERE cycle_week = $1`
	c, err := scanCycle(r.db.QueryRowContext(ctx, query, verification.DateOnly(week)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, verification.ErrCycleNotFound
		}
		return nil, fmt.Errorf("error getting verification cycle by week: %w", err)
	}
	return c, nil
}

func (r *PostgresVerificationRepository) ListCycles(ctx context.Context, filter verification.CycleFilter) ([]*verification.Cycle, int, error) {
	where, args := "", []any{}
	if filter.Status != "" {
		where = ` WHERE status = $1`
		args = append(args, filter.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM verification_cycles`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("error counting verification cycles: %w", err)
	}

	page := filter.Page.Normalize()
	query := fmt.Sprintf(`SELECT %s FROM verification_cycles%s ORDER BY cycle_week DESC LIMIT $%d OFFSET $%d`,
		cycleColumns, where, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, page.Limit, page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("error listing verification cycles: %w", err)
	}
	defer rows.Close()

	cycles := make([]*verification.Cycle, 0)
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("error scanning verification cycle: %w", err)
		}
		cycles = append(cycles, c)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating verification cycles: %w", err)
	}
	return cycles, total, nil
}

func (r *PostgresVerificationRepository) UpdateCycleStatus(ctx context.Context, id uuid.UUID, from, to verification.CycleStatus) (*verification.Cycle, error) {
	query := `UPDATE verification_cycles SET status = $1, updated_at = NOW()
               WHERE id = $2 AND status = $3
               RETURNING ` + cycleColumns
	c, err := scanCycle(r.db.QueryRowContext(ctx, query, to, id, from))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("error updating verification cycle status: %w", err)
	}
	// Either the cycle is gone or someone else moved it first.
	if _, gerr := r.GetCycleByID(ctx, id); gerr != nil {
		return nil, gerr
	}
	return nil, verification.ErrStaleCycleStatus
}

// moveCycleTx applies move inside tx and locks the cycle row until commit. A miss is
// resolved to ErrCycleNotFound or ErrStaleCycleStatus.
func moveCycleTx(ctx context.Context, tx *sql.Tx, move verification.CycleMove) (*verification.Cycle, error) {
	query := `UPDATE verification_cycles SET status = $1, updated_at = NOW()
               WHERE id = $2 AND status = $3
               RETURNING ` + cycleColumns
	c, err := scanCycle(tx.QueryRowContext(ctx, query, move.To, move.CycleID, move.From))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("error moving verification cycle: %w", err)
	}
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM verification_cycles WHERE id = $1)`, move.CycleID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("error checking verification cycle: %w", err)
	}
	if !exists {
		return nil, verification.ErrCycleNotFound
	}
	return nil, verification.ErrStaleCycleStatus
}

func (r *PostgresVerificationRepository) SetCycleDatabaseCount(ctx context.Context, id uuid.UUID, count int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE verification_cycles SET total_databases = $1, updated_at = NOW() WHERE id = $2`, count, id)
	if err != nil {
		return fmt.Errorf("error setting cycle database count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return verification.ErrCycleNotFound
	}
	return nil
}

func (r *PostgresVerificationRepository) ListCyclesPastDeadline(ctx context.Context, now time.Time, statuses []verification.CycleStatus) ([]*verification.Cycle, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	query := `SELECT ` + cycleColumns + ` FROM verification_cycles
               WHERE verification_deadline <= $1 AND status = ANY($2)
               ORDER BY cycle_week`
	rows, err := r.db.QueryContext(ctx, query, now, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("error listing cycles past deadline: %w", err)
	}
	defer rows.Close()

	cycles := make([]*verification.Cycle, 0)
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning cycle past deadline: %w", err)
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

// --- Database Methods ---

const databaseColumns = `id, cycle_id, business_id, status, transaction_count, verified_count, rejected_count, submitted_at, created_at, updated_at`

func scanDatabase(s rowScanner) (*verification.Database, error) {
	d := &verification.Database{}
	var submitted sql.NullTime
	if err := s.Scan(&d.ID, &d.CycleID, &d.BusinessID, &d.Status, &d.TransactionCount, &d.VerifiedCount, &d.RejectedCount, &submitted, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.SubmittedAt = timePtr(submitted)
	return d, nil
}

func (r *PostgresVerificationRepository) CreateDatabase(ctx context.Context, d *verification.Database) error {
	query := `INSERT INTO verification_databases (id, cycle_id, business_id, status, transaction_count)
               VALUES ($1, $2, $3, $4, $5)
               RETURNING created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, d.ID, d.CycleID, d.BusinessID, d.Status, d.TransactionCount).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "verification_databases_cycle_business_key") {
			return verification.ErrDuplicateDatabase
		}
		return fmt.Errorf("error creating verification database: %w", err)
	}
	return nil
}

func (r *PostgresVerificationRepository) GetDatabaseByID(ctx context.Context, id uuid.UUID) (*verification.Database, error) {
	query := `SELECT ` + databaseColumns + ` FROM verification_databases WHERE id = $1`
	d, err := scanDatabase(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, verification.ErrDatabaseNotFound
		}
		return nil, fmt.Errorf("error getting verification database by ID: %w", err)
	}
	return d, nil
}

func (r *PostgresVerificationRepository) GetDatabaseByCycleAndBusiness(ctx context.Context, cycleID, businessID uuid.UUID) (*verification.Database, error) {
	query := `SELECT ` + databaseColumns + ` FROM verification_databases WHERE cycle_id = $1 AND business_id = $2`
	d, err := scanDatabase(r.db.QueryRowContext(ctx, query, cycleID, businessID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, verification.ErrDatabaseNotFound
		}
		return nil, fmt.Errorf("error getting verification database by business: %w", err)
	}
	return d, nil
}

func (r *PostgresVerificationRepository) ListDatabases(ctx context.Context, filter verification.DatabaseFilter) ([]*verification.Database, int, error) {
	where, args := ` WHERE cycle_id = $1`, []any{filter.CycleID}
	if filter.Status != "" {
		where += ` AND status = $2`
		args = append(args, filter.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM verification_databases`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("error counting verification databases: %w", err)
	}

	page := filter.Page.Normalize()
	query := fmt.Sprintf(`SELECT %s FROM verification_databases%s ORDER BY created_at, id LIMIT $%d OFFSET $%d`,
		databaseColumns, where, len(args)+1, len(args)+2)
	dbs, err := r.queryDatabases(ctx, query, append(args, page.Limit, page.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	return dbs, total, nil
}

func (r *PostgresVerificationRepository) ListDatabasesByCycle(ctx context.Context, cycleID uuid.UUID) ([]*verification.Database, error) {
	query := `SELECT ` + databaseColumns + ` FROM verification_databases WHERE cycle_id = $1 ORDER BY created_at, id`
	return r.queryDatabases(ctx, query, cycleID)
}

func (r *PostgresVerificationRepository) queryDatabases(ctx context.Context, query string, args ...any) ([]*verification.Database, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing verification databases: %w", err)
	}
	defer rows.Close()

	dbs := make([]*verification.Database, 0)
	for rows.Next() {
		d, err := scanDatabase(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning verification database: %w", err)
		}
		dbs = append(dbs, d)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating verification databases: %w", err)
	}
	return dbs, nil
}

func (r *PostgresVerificationRepository) UpdateDatabase(ctx context.Context, d *verification.Database) error {
	query := `UPDATE verification_databases
               SET status = $1, transaction_count = $2, verified_count = $3, rejected_count = $4, submitted_at = $5, updated_at = NOW()
               WHERE id = $6
               RETURNING updated_at`
	err := r.db.QueryRowContext(ctx, query, d.Status, d.TransactionCount, d.VerifiedCount, d.RejectedCount, nullTime(d.SubmittedAt), d.ID).Scan(&d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return verification.ErrDatabaseNotFound
		}
		return fmt.Errorf("error updating verification database: %w", err)
	}
	return nil
}

func (r *PostgresVerificationRepository) MarkDatabasesProcessed(ctx context.Context, move verification.CycleMove) (*verification.Cycle, int, error) {
	var (
		cycle *verification.Cycle
		n     int64
	)
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		if cycle, err = moveCycleTx(ctx, tx, move); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `UPDATE verification_databases SET status = $1, updated_at = NOW()
               WHERE cycle_id = $2 AND status = $3`,
			verification.DatabaseStatusProcessed, move.CycleID, verification.DatabaseStatusSubmitted)
		if err != nil {
			return fmt.Errorf("error marking databases processed: %w", err)
		}
		if n, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("error reading processed count: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return cycle, int(n), nil
}

// --- Record Methods ---

const recordColumns = `id, database_id, transaction_id, customer_phone, transaction_amount, reward_amount, transaction_time, verdict`

func scanRecord(s rowScanner) (*verification.Record, error) {
	rec := &verification.Record{}
	if err := s.Scan(&rec.ID, &rec.DatabaseID, &rec.TransactionID, &rec.CustomerPhone, &rec.TransactionAmount, &rec.RewardAmount, &rec.TransactionTime, &rec.Verdict); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *PostgresVerificationRepository) ReplaceRecords(ctx context.Context, databaseID uuid.UUID, records []*verification.Record) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM verification_records WHERE database_id = $1`, databaseID); err != nil {
			return fmt.Errorf("error clearing verification records: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("verification_records",
			"id", "database_id", "transaction_id", "customer_phone", "transaction_amount", "reward_amount", "transaction_time", "verdict"))
		if err != nil {
			return fmt.Errorf("failed to prepare record copy: %w", err)
		}
		defer stmt.Close()

		for _, rec := range records {
			if _, err := stmt.ExecContext(ctx, rec.ID, databaseID, rec.TransactionID, rec.CustomerPhone, rec.TransactionAmount, rec.RewardAmount, rec.TransactionTime, rec.Verdict); err != nil {
				return fmt.Errorf("error copying verification record %s: %w", rec.ID, err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			return fmt.Errorf("error flushing record copy: %w", err)
		}
		return nil
	})
}

func (r *PostgresVerificationRepository) ListRecords(ctx context.Context, databaseID uuid.UUID) ([]*verification.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM verification_records WHERE database_id = $1 ORDER BY transaction_time, id`
	return r.queryRecords(ctx, query, databaseID)
}

func (r *PostgresVerificationRepository) queryRecords(ctx context.Context, query string, args ...any) ([]*verification.Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing verification records: %w", err)
	}
	defer rows.Close()

	records := make([]*verification.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning verification record: %w", err)
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating verification records: %w", err)
	}
	return records, nil
}

func (r *PostgresVerificationRepository) SubmitVerdicts(ctx context.Context, databaseID uuid.UUID, verdicts map[uuid.UUID]verification.Verdict, submittedAt time.Time) (*verification.Database, error) {
	var out *verification.Database
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		// Lock the database row so concurrent submissions serialize.
		var status verification.DatabaseStatus
		err := tx.QueryRowContext(ctx, `SELECT status FROM verification_databases WHERE id = $1 FOR UPDATE`, databaseID).Scan(&status)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return verification.ErrDatabaseNotFound
			}
			return fmt.Errorf("error locking verification database: %w", err)
		}
		if status != verification.DatabaseStatusReady {
			return verification.ErrDatabaseNotWritable
		}

		ids := make([]string, 0, len(verdicts))
		values := make([]string, 0, len(verdicts))
		for id, v := range verdicts {
			ids = append(ids, id.String())
			values = append(values, string(v))
		}
		res, err := tx.ExecContext(ctx, `UPDATE verification_records AS r SET verdict = v.verdict
               FROM unnest($1::uuid[], $2::text[]) AS v(id, verdict)
               WHERE r.id = v.id AND r.database_id = $3`,
			pq.Array(ids), pq.Array(values), databaseID)
		if err != nil {
			return fmt.Errorf("error applying verdicts: %w", err)
		}
		if n, _ := res.RowsAffected(); int(n) != len(verdicts) {
			return verification.ErrRecordNotFound
		}
		var total int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM verification_records WHERE database_id = $1`, databaseID).Scan(&total); err != nil {
			return fmt.Errorf("error counting verification records: %w", err)
		}
		if total != len(verdicts) {
			return verification.ErrVerdictsIncomplete
		}

		query := `UPDATE verification_databases SET
                   status = $1,
                   submitted_at = $2,
                   verified_count = (SELECT COUNT(*) FROM verification_records WHERE database_id = $3 AND verdict = 'verified'),
                   rejected_count = (SELECT COUNT(*) FROM verification_records WHERE database_id = $3 AND verdict = 'rejected'),
                   updated_at = NOW()
               WHERE id = $3
               RETURNING ` + databaseColumns
		out, err = scanDatabase(tx.QueryRowContext(ctx, query, verification.DatabaseStatusSubmitted, submittedAt, databaseID))
		if err != nil {
			return fmt.Errorf("error marking database submitted: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresVerificationRepository) SummarizeVerifiedByBusiness(ctx context.Context, cycleID uuid.UUID) ([]verification.BusinessSummary, error) {
	query := `SELECT d.business_id, COUNT(r.id), COALESCE(SUM(r.reward_amount), 0)
               FROM verification_databases d
               JOIN verification_records r ON r.database_id = d.id
               WHERE d.cycle_id = $1 AND d.status IN ('submitted', 'processed') AND r.verdict = 'verified'
               GROUP BY d.business_id
               ORDER BY d.business_id`
	rows, err := r.db.QueryContext(ctx, query, cycleID)
	if err != nil {
		return nil, fmt.Errorf("error summarizing verified records: %w", err)
	}
	defer rows.Close()

	var out []verification.BusinessSummary
	for rows.Next() {
		var s verification.BusinessSummary
		if err := rows.Scan(&s.BusinessID, &s.VerifiedCount, &s.RewardAmount); err != nil {
			return nil, fmt.Errorf("error scanning business summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresVerificationRepository) ListVerifiedRecords(ctx context.Context, cycleID, businessID uuid.UUID) ([]*verification.Record, error) {
	cols := "r." + strings.ReplaceAll(recordColumns, ", ", ", r.")
	query := `SELECT ` + cols + ` FROM verification_records r
               JOIN verification_databases d ON d.id = r.database_id
               WHERE d.cycle_id = $1 AND d.business_id = $2 AND r.verdict = 'verified'
               ORDER BY r.customer_phone, r.transaction_time`
	return r.queryRecords(ctx, query, cycleID, businessID)
}

// --- Preparation Job Methods ---

const jobColumns = `id, cycle_id, status, total_businesses, processed_businesses, error_message, started_at, completed_at`

func (r *PostgresVerificationRepository) CreateJob(ctx context.Context, job *verification.PreparationJob) error {
	query := `INSERT INTO preparation_jobs (id, cycle_id, status, total_businesses, processed_businesses, error_message, started_at)
               VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query, job.ID, job.CycleID, job.Status, job.TotalBusinesses, job.ProcessedBusinesses, job.ErrorMessage, job.StartedAt)
	if err != nil {
		if isUniqueViolation(err, "preparation_jobs_in_flight_key") {
			return verification.ErrJobInFlight
		}
		return fmt.Errorf("error creating preparation job: %w", err)
	}
	return nil
}

func (r *PostgresVerificationRepository) GetLatestJob(ctx context.Context, cycleID uuid.UUID) (*verification.PreparationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM preparation_jobs WHERE cycle_id = $1 ORDER BY started_at DESC LIMIT 1`
	job := &verification.PreparationJob{}
	var completed sql.NullTime
	err := r.db.QueryRowContext(ctx, query, cycleID).Scan(&job.ID, &job.CycleID, &job.Status, &job.TotalBusinesses, &job.ProcessedBusinesses, &job.ErrorMessage, &job.StartedAt, &completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, verification.ErrJobNotFound
		}
		return nil, fmt.Errorf("error getting latest preparation job: %w", err)
	}
	job.CompletedAt = timePtr(completed)
	return job, nil
}

func (r *PostgresVerificationRepository) UpdateJob(ctx context.Context, job *verification.PreparationJob) error {
	query := `UPDATE preparation_jobs
               SET status = $1, total_businesses = $2, processed_businesses = $3, error_message = $4, completed_at = $5
               WHERE id = $6`
	res, err := r.db.ExecContext(ctx, query, job.Status, job.TotalBusinesses, job.ProcessedBusinesses, job.ErrorMessage, nullTime(job.CompletedAt), job.ID)
	if err != nil {
		return fmt.Errorf("error updating preparation job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return verification.ErrJobNotFound
	}
	return nil
}
