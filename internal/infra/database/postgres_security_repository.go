// internal/infra/database/postgres_security_repository.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"reward_verification_service/internal/domain/security"
)

type PostgresSecurityRepository struct {
	db *sql.DB
}

func NewPostgresSecurityRepository(db *sql.DB) *PostgresSecurityRepository {
	return &PostgresSecurityRepository{db: db}
}

func (r *PostgresSecurityRepository) CreateAuditLog(ctx context.Context, e *security.AuditLog) error {
	query := `INSERT INTO admin_audit_logs (id, admin_id, action, resource_type, resource_id, before_json, after_json, ip_address, created_at)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, query, e.ID, e.AdminID, e.Action, e.ResourceType, e.ResourceID, e.BeforeJSON, e.AfterJSON, e.IPAddress, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("error creating audit log: %w", err)
	}
	return nil
}

func (r *PostgresSecurityRepository) ListAuditLogs(ctx context.Context, filter security.AuditFilter) ([]*security.AuditLog, int, error) {
	where, args := ` WHERE TRUE`, []any{}
	for _, f := range []struct{ col, val string }{
		{"admin_id", filter.AdminID},
		{"action", filter.Action},
		{"resource_type", filter.ResourceType},
	} {
		if f.val == "" {
			continue
		}
		args = append(args, f.val)
		where += fmt.Sprintf(` AND %s = $%d`, f.col, len(args))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM admin_audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("error counting audit logs: %w", err)
	}

	page := filter.Page.Normalize()
	query := fmt.Sprintf(`SELECT id, admin_id, action, resource_type, resource_id, before_json, after_json, ip_address, created_at
               FROM admin_audit_logs%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, page.Limit, page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("error listing audit logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*security.AuditLog, 0)
	for rows.Next() {
		e := &security.AuditLog{}
		if err := rows.Scan(&e.ID, &e.AdminID, &e.Action, &e.ResourceType, &e.ResourceID, &e.BeforeJSON, &e.AfterJSON, &e.IPAddress, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("error scanning audit log: %w", err)
		}
		logs = append(logs, e)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating audit logs: %w", err)
	}
	return logs, total, nil
}

func (r *PostgresSecurityRepository) CreateIntrusionEvent(ctx context.Context, ev *security.IntrusionEvent) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO intrusion_events (id, ip_address, path, reason, created_at) VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.IPAddress, ev.Path, ev.Reason, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("error creating intrusion event: %w", err)
	}
	return nil
}

func (r *PostgresSecurityRepository) ListIntrusionEvents(ctx context.Context, filter security.IntrusionFilter) ([]*security.IntrusionEvent, int, error) {
	where, args := ` WHERE TRUE`, []any{}
	if filter.IPAddress != "" {
		args = append(args, filter.IPAddress)
		where += fmt.Sprintf(` AND ip_address = $%d`, len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		where += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM intrusion_events`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("error counting intrusion events: %w", err)
	}

	page := filter.Page.Normalize()
	query := fmt.Sprintf(`SELECT id, ip_address, path, reason, created_at FROM intrusion_events%s
               ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, page.Limit, page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("error listing intrusion events: %w", err)
	}
	defer rows.Close()

	events := make([]*security.IntrusionEvent, 0)
	for rows.Next() {
		ev := &security.IntrusionEvent{}
		if err := rows.Scan(&ev.ID, &ev.IPAddress, &ev.Path, &ev.Reason, &ev.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("error scanning intrusion event: %w", err)
		}
		events = append(events, ev)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating intrusion events: %w", err)
	}
	return events, total, nil
}

func (r *PostgresSecurityRepository) SummarizeIntrusions(ctx context.Context, since time.Time) ([]security.IPSummary, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT ip_address, COUNT(*), MAX(created_at)
               FROM intrusion_events WHERE created_at >= $1
               GROUP BY ip_address
               ORDER BY COUNT(*) DESC, ip_address`, since)
	if err != nil {
		return nil, fmt.Errorf("error summarizing intrusion events: %w", err)
	}
	defer rows.Close()

	out := make([]security.IPSummary, 0)
	for rows.Next() {
		var s security.IPSummary
		if err := rows.Scan(&s.IPAddress, &s.Count, &s.LastSeen); err != nil {
			return nil, fmt.Errorf("error scanning intrusion summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
