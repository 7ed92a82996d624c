// Package spend turns a priced content request into a two-step
// offer/confirm exchange: the user sees the price, then explicitly confirms
// and is debited exactly once.
package spend

import (
	"errors"
	"time"

	"serotonyl.ru/filegate-bot/internal/features/content"
)

// ErrConfirmationRequired is returned by Deliver for a priced item the
// caller does not own.
var ErrConfirmationRequired = errors.New("price confirmation required")

// PendingSpend is stored under pendingspend:{userId}:{token}.
type PendingSpend struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the offer is no longer valid at now.
func (p *PendingSpend) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// Quote is the answer to an Offer.
type Quote struct {
	Item *content.Item
	// Free is true for zero-priced items, for the owner and for users who
	// already received the item; no spend record is written and the item
	// can be delivered right away.
	Free  bool
	Spend *PendingSpend
}
