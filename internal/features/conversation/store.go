// Package conversation — store.go persists the per-user slot.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/filegate-bot/internal/store"
)

// Store reads and writes conversation:{userId} records.
type Store struct {
	kv  store.KV
	ttl time.Duration
	now func() time.Time
}

// NewStore creates the conversation store. States older than ttl are
// treated as cancelled.
func NewStore(kv store.KV, ttl time.Duration) *Store {
	return &Store{kv: kv, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

// Get returns the user's state. Missing and stale states come back as the
// zero State.
func (s *Store) Get(ctx context.Context, userID int64) (State, error) {
	st, ver, err := store.GetJSON[State](ctx, s.kv, store.ConversationKey(userID))
	if errors.Is(err, store.ErrNotFound) {
		return State{}, nil
	}
	if err != nil {
		return State{}, err
	}
	if st.Stale(s.now(), s.ttl) || !st.Active() {
		if err := s.kv.Delete(ctx, store.ConversationKey(userID), ver); err != nil && !errors.Is(err, store.ErrNotFound) {
			log.WithError(err).WithField("user_id", userID).Debug("stale conversation cleanup failed")
		}
		return State{}, nil
	}
	return st, nil
}

// Set replaces whatever the user was doing with step.
func (s *Store) Set(ctx context.Context, userID int64, step Step, payload string) error {
	if step == StepNone {
		return s.Clear(ctx, userID)
	}
	st := State{Awaiting: step, Payload: payload, LastUpdated: s.now()}
	_, err := store.PutJSON(ctx, s.kv, store.ConversationKey(userID), st, store.Any)
	return err
}

// Clear drops the state unconditionally.
func (s *Store) Clear(ctx context.Context, userID int64) error {
	err := s.kv.Delete(ctx, store.ConversationKey(userID), store.Any)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// SweepStale deletes states older than the ttl and returns how many were
// removed.
func (s *Store) SweepStale(ctx context.Context, now time.Time) (int, error) {
	recs, err := s.kv.List(ctx, store.PrefixConversation, 0)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, rec := range recs {
		var st State
		if err := json.Unmarshal(rec.Value, &st); err == nil && !st.Stale(now, s.ttl) && st.Active() {
			continue
		}
		if err := s.kv.Delete(ctx, rec.Key, rec.Version); err == nil {
			removed++
		}
	}
	return removed, nil
}
