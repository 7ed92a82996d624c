// Package admin — repository.go keeps sessions and login attempts in the
// entity store.
package admin

import (
	"context"
	"errors"
	"time"

	"serotonyl.ru/filegate-bot/internal/store"
)

// Repository works with adminsession:* and adminattempts:* records.
type Repository struct {
	kv       store.KV
	attempts int
}

// NewRepository creates the admin repository.
func NewRepository(kv store.KV, attempts int) *Repository {
	return &Repository{kv: kv, attempts: attempts}
}

// CreateSession stores s, replacing an older session of the same admin.
func (r *Repository) CreateSession(ctx context.Context, s *Session) error {
	_, err := store.PutJSON(ctx, r.kv, store.AdminSessionKey(s.UserID), s, store.Any)
	return err
}

// GetSession returns the stored session or store.ErrNotFound.
func (r *Repository) GetSession(ctx context.Context, userID int64) (*Session, error) {
	s, _, err := store.GetJSON[Session](ctx, r.kv, store.AdminSessionKey(userID))
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateActivity refreshes LastActivity.
func (r *Repository) UpdateActivity(ctx context.Context, userID int64) error {
	_, err := store.Update(ctx, r.kv, store.AdminSessionKey(userID), r.attempts, func(s *Session) error {
		s.LastActivity = time.Now().UTC()
		return nil
	})
	return err
}

// DeleteSession ends the session of userID.
func (r *Repository) DeleteSession(ctx context.Context, userID int64) error {
	err := r.kv.Delete(ctx, store.AdminSessionKey(userID), store.Any)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// ListSessions returns every stored session with its record version.
func (r *Repository) ListSessions(ctx context.Context) ([]store.Record, error) {
	return r.kv.List(ctx, store.PrefixAdminSession, 0)
}

// LogFailure appends a failed attempt and forgets failures older than window.
func (r *Repository) LogFailure(ctx context.Context, userID int64, at time.Time, window time.Duration) error {
	_, err := store.Upsert(ctx, r.kv, store.AdminAttemptsKey(userID), r.attempts,
		func() Attempts { return Attempts{} },
		func(a *Attempts) error {
			a.prune(at.Add(-window))
			a.Failures = append(a.Failures, at)
			return nil
		})
	return err
}

// RecentFailures counts failures after since.
func (r *Repository) RecentFailures(ctx context.Context, userID int64, since time.Time) (int, error) {
	a, _, err := store.GetJSON[Attempts](ctx, r.kv, store.AdminAttemptsKey(userID))
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return a.Recent(since), nil
}

// ClearFailures resets the failure log after a successful login.
func (r *Repository) ClearFailures(ctx context.Context, userID int64) error {
	err := r.kv.Delete(ctx, store.AdminAttemptsKey(userID), store.Any)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}
