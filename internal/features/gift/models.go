// Package gift implements code-based rewards: every user may redeem a code
// once, and a code may have a global usage cap.
package gift

import (
	"errors"
	"time"
)

// ErrCodeExists is returned when creating a code that is already taken.
var ErrCodeExists = errors.New("gift code already exists")

// Code is stored under gift:{code}. Codes are upper-cased.
type Code struct {
	Code      string    `json:"code"`
	Amount    int64     `json:"amount"`
	MaxUses   int64     `json:"max_uses"` // 0 — unlimited
	UsedCount int64     `json:"used_count"`
	Disabled  bool      `json:"disabled"`
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Exhausted reports whether the usage cap is reached.
func (c *Code) Exhausted() bool {
	return c.MaxUses > 0 && c.UsedCount >= c.MaxUses
}

// Redemption is stored under giftredemption:{code}:{userId}. Its existence
// alone marks the code as used by that user.
type Redemption struct {
	Code   string    `json:"code"`
	UserID int64     `json:"user_id"`
	Amount int64     `json:"amount"`
	At     time.Time `json:"at"`
}
