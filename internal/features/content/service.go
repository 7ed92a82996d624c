// Package content — service.go implements item management and the quota
// enforcer. ConsumeDownload never moves money; pricing is handled by the
// spend package before a consume.
package content

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/events"
	"serotonyl.ru/filegate-bot/internal/features/settings"
	"serotonyl.ru/filegate-bot/internal/metrics"
	"serotonyl.ru/filegate-bot/internal/store"
)

// tokenAttempts bounds regeneration on a token collision.
const tokenAttempts = 5

// StatsBumper counts uploads and downloads.
type StatsBumper interface {
	Bump(ctx context.Context, c settings.Counter)
}

// Service manages content items.
type Service struct {
	repo    *Repository
	stats   StatsBumper
	isAdmin func(userID int64) bool
}

// NewService creates the content service. isAdmin decides who may manage
// items they do not own.
func NewService(repo *Repository, stats StatsBumper, isAdmin func(int64) bool) *Service {
	if isAdmin == nil {
		isAdmin = func(int64) bool { return false }
	}
	return &Service{repo: repo, stats: stats, isAdmin: isAdmin}
}

// CreateItem stores a new item and returns it with its token.
func (s *Service) CreateItem(ctx context.Context, ownerID int64, kind events.Kind, payloadRef string, price, maxDownloads int64, opts ...Option) (*Item, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown content kind %q", kind)
	}
	if kind != events.KindText && payloadRef == "" {
		return nil, common.ErrPayloadRequired
	}
	if price < 0 || maxDownloads < 0 {
		return nil, common.ErrInvalidAmount
	}

	now := time.Now().UTC()
	it := &Item{
		OwnerID:      ownerID,
		Kind:         kind,
		PayloadRef:   payloadRef,
		Price:        price,
		MaxDownloads: maxDownloads,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, opt := range opts {
		opt(it)
	}

	for i := 0; i < tokenAttempts; i++ {
		token, err := common.NewToken(common.ContentTokenSize)
		if err != nil {
			return nil, err
		}
		it.Token = token
		err = s.repo.Create(ctx, it)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.bump(ctx, settings.CounterFiles)
		log.WithFields(log.Fields{
			"token":    token,
			"owner_id": ownerID,
			"kind":     kind,
			"price":    price,
			"max":      maxDownloads,
		}).Info("Content item created")
		return it, nil
	}
	return nil, fmt.Errorf("could not allocate a unique token after %d attempts", tokenAttempts)
}

// GetItem returns the item or common.ErrNotFound.
func (s *Service) GetItem(ctx context.Context, token string) (*Item, error) {
	it, _, err := s.repo.Get(ctx, token)
	return it, err
}

// SetPrice changes the price. Owner or admin only.
func (s *Service) SetPrice(ctx context.Context, token string, actorID, price int64) (*Item, error) {
	if price < 0 {
		return nil, common.ErrInvalidAmount
	}
	return s.mutateAsOwner(ctx, token, actorID, func(it *Item) error {
		it.Price = price
		return nil
	})
}

// SetQuota changes max_downloads; 0 removes the limit. Owner or admin only.
func (s *Service) SetQuota(ctx context.Context, token string, actorID, maxDownloads int64) (*Item, error) {
	if maxDownloads < 0 {
		return nil, common.ErrInvalidAmount
	}
	return s.mutateAsOwner(ctx, token, actorID, func(it *Item) error {
		it.MaxDownloads = maxDownloads
		return nil
	})
}

// ToggleDisabled flips the disabled flag. Owner or admin only.
func (s *Service) ToggleDisabled(ctx context.Context, token string, actorID int64) (*Item, error) {
	return s.mutateAsOwner(ctx, token, actorID, func(it *Item) error {
		it.Disabled = !it.Disabled
		return nil
	})
}

// SetDeleteOnLimit sets whether the item is removed when the quota is hit.
func (s *Service) SetDeleteOnLimit(ctx context.Context, token string, actorID int64, on bool) (*Item, error) {
	return s.mutateAsOwner(ctx, token, actorID, func(it *Item) error {
		it.DeleteOnLimit = on
		return nil
	})
}

// ReplacePayload swaps the delivered file while keeping the token, price and
// counters. Owner or admin only.
func (s *Service) ReplacePayload(ctx context.Context, token string, actorID int64, kind events.Kind, payloadRef, fileName string) (*Item, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown content kind %q", kind)
	}
	if kind != events.KindText && payloadRef == "" {
		return nil, common.ErrPayloadRequired
	}
	return s.mutateAsOwner(ctx, token, actorID, func(it *Item) error {
		it.Kind = kind
		it.PayloadRef = payloadRef
		it.FileName = fileName
		return nil
	})
}

// Delete removes the item. Owner or admin only.
func (s *Service) Delete(ctx context.Context, token string, actorID int64) error {
	for i := 0; i < s.repo.attempts; i++ {
		it, ver, err := s.repo.Get(ctx, token)
		if err != nil {
			return err
		}
		if !s.canManage(it, actorID) {
			return common.ErrForbidden
		}
		err = s.repo.Remove(ctx, token, ver)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if err == nil {
			log.WithFields(log.Fields{"token": token, "actor": actorID}).Info("Content item deleted")
		}
		return err
	}
	return common.Unavailable("delete content", fmt.Errorf("%s: %w", token, store.ErrVersionConflict))
}

// ConsumeDownload checks the item can be delivered, increments its download
// counter with a version check and returns the item as it was delivered.
// When the new count reaches the quota and DeleteOnLimit is set the item is
// deleted in the same versioned step instead of being rewritten.
//
// A user who already received the item gets it again without using up the
// quota; only a disabled item is refused.
func (s *Service) ConsumeDownload(ctx context.Context, token string, userID int64) (*Item, error) {
	again, err := s.Received(ctx, token, userID)
	if err != nil {
		return nil, err
	}
	if again {
		return s.redeliver(ctx, token, userID)
	}

	it, err := s.consume(ctx, token)
	metrics.Downloads.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.repo.AddRecipient(ctx, token, userID, now); err != nil {
		log.WithError(err).WithField("token", token).Warn("recipient write failed")
	}
	if err := s.repo.LogDownload(ctx, DownloadEntry{Token: token, UserID: userID, At: now}); err != nil {
		log.WithError(err).WithField("token", token).Warn("download log write failed")
	}
	s.bump(ctx, settings.CounterDownloads)

	log.WithFields(log.Fields{
		"token":     token,
		"user_id":   userID,
		"downloads": it.Downloads,
		"max":       it.MaxDownloads,
	}).Info("Content delivered")
	return it, nil
}

// Received reports whether userID already got token. Anonymous requests
// (userID 0) never count as received.
func (s *Service) Received(ctx context.Context, token string, userID int64) (bool, error) {
	if userID == 0 {
		return false, nil
	}
	return s.repo.IsRecipient(ctx, token, userID)
}

func (s *Service) redeliver(ctx context.Context, token string, userID int64) (*Item, error) {
	it, _, err := s.repo.Get(ctx, token)
	if err == nil && it.Disabled {
		err = common.ErrItemDisabled
	}
	metrics.Downloads.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, err
	}

	if err := s.repo.LogDownload(ctx, DownloadEntry{Token: token, UserID: userID, At: time.Now().UTC()}); err != nil {
		log.WithError(err).WithField("token", token).Warn("download log write failed")
	}
	log.WithFields(log.Fields{"token": token, "user_id": userID}).Info("Content delivered again")
	return it, nil
}

func (s *Service) consume(ctx context.Context, token string) (*Item, error) {
	for i := 0; i < s.repo.attempts; i++ {
		it, ver, err := s.repo.Get(ctx, token)
		if err != nil {
			return nil, err
		}
		if it.Disabled {
			return nil, common.ErrItemDisabled
		}
		if it.Exhausted() {
			return nil, common.ErrQuotaExceeded
		}

		it.Downloads++
		if it.Exhausted() && it.DeleteOnLimit {
			err = s.repo.Remove(ctx, token, ver)
		} else {
			err = s.repo.Put(ctx, it, ver)
		}
		if errors.Is(err, store.ErrVersionConflict) || errors.Is(err, common.ErrNotFound) {
			// Lost the race; the next read decides again.
			continue
		}
		if err != nil {
			return nil, err
		}
		return it, nil
	}
	return nil, common.Unavailable("consume download", fmt.Errorf("%s: %w", token, store.ErrVersionConflict))
}

// ListByOwner returns the owner's items, newest first.
func (s *Service) ListByOwner(ctx context.Context, ownerID int64, limit int) ([]Item, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []Item
	for _, it := range all {
		if it.OwnerID == ownerID {
			out = append(out, it)
		}
	}
	return newestFirst(out, limit), nil
}

// List returns all items, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]Item, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	return newestFirst(all, limit), nil
}

// Downloads returns the download log of an item.
func (s *Service) Downloads(ctx context.Context, token string, limit int) ([]DownloadEntry, error) {
	return s.repo.Downloads(ctx, token, limit)
}

// CanManage reports whether actorID may change the item.
func (s *Service) CanManage(it *Item, actorID int64) bool {
	return s.canManage(it, actorID)
}

func (s *Service) canManage(it *Item, actorID int64) bool {
	return it.OwnerID == actorID || s.isAdmin(actorID)
}

func (s *Service) mutateAsOwner(ctx context.Context, token string, actorID int64, fn func(*Item) error) (*Item, error) {
	return s.repo.Mutate(ctx, token, func(it *Item) error {
		if !s.canManage(it, actorID) {
			return common.ErrForbidden
		}
		return fn(it)
	})
}

func (s *Service) bump(ctx context.Context, c settings.Counter) {
	if s.stats != nil {
		s.stats.Bump(ctx, c)
	}
}

func newestFirst(items []Item, limit int) []Item {
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
