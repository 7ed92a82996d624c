// Package middleware — ratelimit.go throttles updates per user with a
// sliding window. Histories live in an expiring LRU, so users who went
// quiet for a whole window are forgotten without a sweeper.
package middleware

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// maxTrackedUsers bounds memory under a flood of distinct senders.
const maxTrackedUsers = 100_000

// RateLimiter caps updates per user.
type RateLimiter struct {
	mu     sync.Mutex
	hits   *expirable.LRU[int64, []time.Time]
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter allows limit updates per window for each user.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		hits:   expirable.NewLRU[int64, []time.Time](maxTrackedUsers, nil, window),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow records an update from userID and reports whether it fits the limit.
// Rejected updates do not extend the window.
func (rl *RateLimiter) Allow(userID int64) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)

	prev, _ := rl.hits.Peek(userID)
	recent := make([]time.Time, 0, len(prev)+1)
	for _, t := range prev {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= rl.limit {
		rl.hits.Add(userID, recent)
		return false
	}
	rl.hits.Add(userID, append(recent, now))
	return true
}

// Tracked returns how many users currently have a history.
func (rl *RateLimiter) Tracked() int {
	return rl.hits.Len()
}

// Close drops all histories.
func (rl *RateLimiter) Close() {
	rl.hits.Purge()
}
