// internal/domain/verification/status.go
package verification

import (
	"fmt"

	"github.com/google/uuid"
)

// CycleStatus is the lifecycle state of a verification cycle.
type CycleStatus string

const (
	CycleStatusPreparing   CycleStatus = "preparing"
	CycleStatusReady       CycleStatus = "ready"
	CycleStatusDistributed CycleStatus = "distributed"
	CycleStatusCollecting  CycleStatus = "collecting"
	CycleStatusProcessing  CycleStatus = "processing"
	CycleStatusInvoicing   CycleStatus = "invoicing"
	CycleStatusCompleted   CycleStatus = "completed"
	CycleStatusExpired     CycleStatus = "expired"
)

// cycleTransitions is the only place legal cycle moves are defined.
// 'expired' is appended to every non-terminal state in init.
var cycleTransitions = map[CycleStatus][]CycleStatus{
	CycleStatusPreparing:   {CycleStatusReady},
	CycleStatusReady:       {CycleStatusDistributed},
	CycleStatusDistributed: {CycleStatusCollecting},
	CycleStatusCollecting:  {CycleStatusProcessing},
	CycleStatusProcessing:  {CycleStatusInvoicing},
	CycleStatusInvoicing:   {CycleStatusCompleted},
	CycleStatusCompleted:   {},
	CycleStatusExpired:     {},
}

func init() {
	for from, to := range cycleTransitions {
		if !from.IsTerminal() {
			cycleTransitions[from] = append(to, CycleStatusExpired)
		}
	}
}

// ExpirableStatuses are the states still waiting on businesses; the deadline sweep
// only expires cycles in one of these.
var ExpirableStatuses = []CycleStatus{
	CycleStatusPreparing,
	CycleStatusReady,
	CycleStatusDistributed,
	CycleStatusCollecting,
}

func (s CycleStatus) Valid() bool {
	_, ok := cycleTransitions[s]
	return ok
}

func (s CycleStatus) IsTerminal() bool {
	return s == CycleStatusCompleted || s == CycleStatusExpired
}

// CanTransition reports whether a cycle may move from one status to another.
func CanTransition(from, to CycleStatus) bool {
	for _, next := range cycleTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Expirable reports whether s is one of ExpirableStatuses.
func (s CycleStatus) Expirable() bool {
	for _, e := range ExpirableStatuses {
		if s == e {
			return true
		}
	}
	return false
}

// CycleMove is a guarded status change: it applies only while the cycle is still in From.
// Repository writes that carry one persist the move in the same transaction as their own rows.
type CycleMove struct {
	CycleID uuid.UUID
	From    CycleStatus
	To      CycleStatus
}

// TransitionError describes an illegal cycle move.
type TransitionError struct {
	From CycleStatus
	To   CycleStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cycle cannot move from %s to %s", e.From, e.To)
}

// CheckTransition returns a *TransitionError when from -> to is not allowed.
func CheckTransition(from, to CycleStatus) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
