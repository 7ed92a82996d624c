// Package purchase — state_machine.go holds the transition matrix.
//
//	pending_plan_selection → awaiting_receipt → pending_review → approved
//	                                                          ↘ rejected
//
// approved and rejected are terminal.
package purchase

import (
	"fmt"
	"time"

	"serotonyl.ru/filegate-bot/internal/common"
)

// validTransitions — key is the current status, value the allowed targets.
var validTransitions = map[Status]map[Status]bool{
	StatusPendingPlanSelection: {StatusAwaitingReceipt: true},
	StatusAwaitingReceipt:      {StatusPendingReview: true},
	StatusPendingReview:        {StatusApproved: true, StatusRejected: true},
	StatusApproved:             {},
	StatusRejected:             {},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to Status) bool {
	return validTransitions[from][to]
}

// transition moves r to the target status and records who did it.
// The request is left untouched when the move is not allowed.
func transition(r *Request, to Status, actor int64) error {
	if !CanTransition(r.Status, to) {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("purchase %s: %s → %s is not allowed", r.ID, r.Status, to),
		}
	}
	now := time.Now().UTC()
	r.History = append(r.History, TransitionRecord{From: r.Status, To: to, Actor: actor, At: now})
	r.Status = to
	r.UpdatedAt = now
	if to.Terminal() {
		r.DecidedAt = &now
		r.DecidedBy = actor
	}
	return nil
}

// TransitionError is returned for a disallowed status change.
// It matches common.ErrInvalidState with errors.Is.
type TransitionError struct {
	Code    string // INVALID_TRANSITION
	Message string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *TransitionError) Unwrap() error { return common.ErrInvalidState }
