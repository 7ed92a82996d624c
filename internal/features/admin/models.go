// Package admin implements the password-gated admin panel.
// models.go describes sessions and failed login bookkeeping.
package admin

import "time"

// Session is an authenticated admin, stored under adminsession:{userId}.
type Session struct {
	UserID          int64     `json:"user_id"`
	Token           string    `json:"token"`
	AuthenticatedAt time.Time `json:"authenticated_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	LastActivity    time.Time `json:"last_activity"`
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Attempts keeps recent failed logins, stored under adminattempts:{userId}.
type Attempts struct {
	Failures []time.Time `json:"failures"`
}

// Recent returns how many failures happened after since.
func (a *Attempts) Recent(since time.Time) int {
	n := 0
	for _, t := range a.Failures {
		if t.After(since) {
			n++
		}
	}
	return n
}

// prune drops failures at or before since.
func (a *Attempts) prune(since time.Time) {
	kept := a.Failures[:0]
	for _, t := range a.Failures {
		if t.After(since) {
			kept = append(kept, t)
		}
	}
	a.Failures = kept
}
