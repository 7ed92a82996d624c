// Package users stores bot users: identity, balance, referral links and
// moderation flags. Users are created on first contact and never deleted.
package users

import "time"

// User is stored under user:{id}.
type User struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Balance int64  `json:"balance"` // written only by the ledger
	Frozen  bool   `json:"frozen"`  // balance mutations disabled
	Blocked bool   `json:"blocked"` // bot ignores the user

	ReferrerID       int64 `json:"referrer_id,omitempty"` // 0 — no referrer, set once
	ReferralCredited bool  `json:"referral_credited"`     // referrer already rewarded for this user
	ReferralCount    int64 `json:"referral_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasPendingReferral reports whether the user was referred and the referrer
// has not been rewarded yet.
func (u *User) HasPendingReferral() bool {
	return u.ReferrerID != 0 && !u.ReferralCredited
}
