// Package users — service.go contains user registration, referral linking
// and moderation flags. Balance changes go through the ledger package.
package users

import (
	"context"
	"errors"
	"sort"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/features/settings"
)

// StatsBumper counts new registrations.
type StatsBumper interface {
	Bump(ctx context.Context, c settings.Counter)
}

// Service manages users.
type Service struct {
	repo  *Repository
	stats StatsBumper
}

// NewService creates the user service.
func NewService(repo *Repository, stats StatsBumper) *Service {
	return &Service{repo: repo, stats: stats}
}

// Repository exposes the underlying repository to the ledger.
func (s *Service) Repository() *Repository { return s.repo }

// EnsureUser returns the user, creating it on first contact.
// Concurrent first contacts are harmless: only one create wins.
func (s *Service) EnsureUser(ctx context.Context, id int64, name string) (*User, bool, error) {
	u, err := s.repo.Get(ctx, id)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, false, err
	}

	u, created, err := s.repo.Create(ctx, &User{ID: id, Name: name})
	if err != nil {
		return nil, false, err
	}
	if created {
		if s.stats != nil {
			s.stats.Bump(ctx, settings.CounterUsers)
		}
		log.WithFields(log.Fields{"user_id": id, "name": name}).Info("New user registered")
	}
	return u, created, nil
}

// Get returns the user or common.ErrNotFound.
func (s *Service) Get(ctx context.Context, id int64) (*User, error) {
	return s.repo.Get(ctx, id)
}

// SetFrozen freezes or unfreezes balance mutations.
func (s *Service) SetFrozen(ctx context.Context, id int64, frozen bool) (*User, error) {
	return s.repo.Mutate(ctx, id, func(u *User) error {
		u.Frozen = frozen
		return nil
	})
}

// SetBlocked blocks or unblocks the user.
func (s *Service) SetBlocked(ctx context.Context, id int64, blocked bool) (*User, error) {
	return s.repo.Mutate(ctx, id, func(u *User) error {
		u.Blocked = blocked
		return nil
	})
}

// AttachReferrer links referredID to referrerID once. It is a no-op when
// the user already has a referrer, refers themselves, or the referrer is unknown.
func (s *Service) AttachReferrer(ctx context.Context, referredID, referrerID int64) (bool, error) {
	if referrerID == 0 || referrerID == referredID {
		return false, nil
	}
	if _, err := s.repo.Get(ctx, referrerID); err != nil {
		return false, nil
	}

	attached := false
	_, err := s.repo.Mutate(ctx, referredID, func(u *User) error {
		attached = false
		if u.ReferrerID != 0 || u.ReferralCredited {
			return nil
		}
		u.ReferrerID = referrerID
		attached = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return attached, nil
}

// ListPendingReferrals returns referred users whose referrer has not been
// rewarded, oldest first.
func (s *Service) ListPendingReferrals(ctx context.Context, limit int) ([]User, error) {
	all, err := s.repo.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	var out []User
	for _, u := range all {
		if u.HasPendingReferral() {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TopReferrers returns users with the most credited referrals.
func (s *Service) TopReferrers(ctx context.Context, limit int) ([]User, error) {
	all, err := s.repo.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	var out []User
	for _, u := range all {
		if u.ReferralCount > 0 {
			out = append(out, u)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReferralCount > out[j].ReferralCount })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of registered users.
func (s *Service) Count(ctx context.Context) (int, error) {
	all, err := s.repo.List(ctx, 0)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}
