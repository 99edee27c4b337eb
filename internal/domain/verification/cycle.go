// internal/domain/verification/cycle.go
package verification

import (
	"time"

	"github.com/google/uuid"
)

// VerificationWindow is how long businesses have, counted from the cycle week's Monday,
// to submit their results before the cycle expires.
const VerificationWindow = 14 * 24 * time.Hour

// Cycle is one weekly verification run.
// Corresponds to the 'verification_cycles' table.
type Cycle struct {
	ID                   uuid.UUID   `json:"id"`
	CycleWeek            time.Time   `json:"cycle_week"` // Always a Monday, date only
	Status               CycleStatus `json:"status"`
	CreatedBy            string      `json:"created_by"`
	VerificationDeadline time.Time   `json:"verification_deadline"`
	TotalDatabases       int         `json:"total_databases"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// IsMonday reports whether the calendar date of t is a Monday.
func IsMonday(t time.Time) bool {
	return t.Weekday() == time.Monday
}

// DateOnly strips the clock part, keeping the calendar date in UTC.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// WeekOf returns the Monday of the week containing t.
func WeekOf(t time.Time) time.Time {
	d := DateOnly(t)
	offset := (int(d.Weekday()) + 6) % 7 // Monday=0 ... Sunday=6
	return d.AddDate(0, 0, -offset)
}

// NewCycle builds a cycle in the initial 'preparing' state. The caller is expected
// to have checked IsMonday.
func NewCycle(week time.Time, createdBy string) *Cycle {
	w := DateOnly(week)
	return &Cycle{
		ID:                   uuid.New(),
		CycleWeek:            w,
		Status:               CycleStatusPreparing,
		CreatedBy:            createdBy,
		VerificationDeadline: w.Add(VerificationWindow),
	}
}

// WeekRange is the [start, end) interval of transactions that belong to the cycle.
func (c *Cycle) WeekRange() (time.Time, time.Time) {
	return c.CycleWeek, c.CycleWeek.AddDate(0, 0, 7)
}

// DeadlinePassed reports whether the verification deadline is behind now.
func (c *Cycle) DeadlinePassed(now time.Time) bool {
	return !now.Before(c.VerificationDeadline)
}
