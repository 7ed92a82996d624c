// Package purchase implements manual payment approval: the user picks a
// coin package, sends a payment receipt and an admin approves or rejects it.
package purchase

import (
	"time"

	"serotonyl.ru/filegate-bot/internal/events"
)

// Status of a purchase request.
type Status string

const (
	StatusPendingPlanSelection Status = "pending_plan_selection"
	StatusAwaitingReceipt      Status = "awaiting_receipt"
	StatusPendingReview        Status = "pending_review"
	StatusApproved             Status = "approved"
	StatusRejected             Status = "rejected"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Request is stored under purchase:{id}.
type Request struct {
	ID              string      `json:"id"`
	UserID          int64       `json:"user_id"`
	RequestedAmount int64       `json:"requested_amount"`
	Price           int64       `json:"price"`
	Status          Status      `json:"status"`
	ReceiptRef      string      `json:"receipt_ref,omitempty"`
	ReceiptKind     events.Kind `json:"receipt_kind,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
	DecidedBy int64      `json:"decided_by,omitempty"`

	History []TransitionRecord `json:"history,omitempty"`
}

// TransitionRecord is one status change.
type TransitionRecord struct {
	From  Status    `json:"from"`
	To    Status    `json:"to"`
	Actor int64     `json:"actor"`
	At    time.Time `json:"at"`
}
