// Package settings — service.go reads and flips settings and bumps counters.
package settings

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/store"
)

// Service manages settings and stats.
type Service struct {
	kv       store.KV
	attempts int
}

// NewService creates the settings service.
func NewService(kv store.KV, attempts int) *Service {
	return &Service{kv: kv, attempts: attempts}
}

// Get returns current settings; a missing record yields defaults.
func (s *Service) Get(ctx context.Context) (Settings, error) {
	st, _, err := store.GetJSON[Settings](ctx, s.kv, store.SettingsKey)
	if errors.Is(err, store.ErrNotFound) {
		return Settings{}, nil
	}
	return st, err
}

// ToggleService flips ServiceEnabled and returns the new settings.
func (s *Service) ToggleService(ctx context.Context) (Settings, error) {
	return s.update(ctx, func(st *Settings) error {
		enabled := !st.Enabled()
		st.ServiceEnabled = &enabled
		return nil
	})
}

// ToggleUpdateMode flips UpdateMode.
func (s *Service) ToggleUpdateMode(ctx context.Context) (Settings, error) {
	return s.update(ctx, func(st *Settings) error {
		st.UpdateMode = !st.UpdateMode
		return nil
	})
}

// SetPricePerCoin sets the coin price; zero clears it.
func (s *Service) SetPricePerCoin(ctx context.Context, price int64) (Settings, error) {
	if price < 0 {
		return Settings{}, common.ErrInvalidAmount
	}
	return s.update(ctx, func(st *Settings) error {
		st.PricePerCoin = price
		return nil
	})
}

func (s *Service) update(ctx context.Context, fn func(*Settings) error) (Settings, error) {
	return store.Upsert(ctx, s.kv, store.SettingsKey, s.attempts, func() Settings { return Settings{} }, fn)
}

// Stats returns the global counters.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	st, _, err := store.GetJSON[Stats](ctx, s.kv, store.StatsKey)
	if errors.Is(err, store.ErrNotFound) {
		return Stats{}, nil
	}
	return st, err
}

// Bump increments a counter. Counters are informational, so failures are
// logged and swallowed.
func (s *Service) Bump(ctx context.Context, c Counter) {
	_, err := store.Upsert(ctx, s.kv, store.StatsKey, s.attempts, func() Stats { return Stats{} }, func(st *Stats) error {
		switch c {
		case CounterUpdates:
			st.Updates++
		case CounterUsers:
			st.Users++
		case CounterFiles:
			st.Files++
		case CounterDownloads:
			st.Downloads++
		}
		return nil
	})
	if err != nil {
		log.WithError(err).WithField("counter", c).Debug("stats bump failed")
	}
}
