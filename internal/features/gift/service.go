// Package gift — service.go creates and redeems gift codes.
package gift

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/metrics"
	"serotonyl.ru/filegate-bot/internal/store"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9_-]{3,32}$`)

// Crediter is the part of the ledger gift codes need.
type Crediter interface {
	Credit(ctx context.Context, userID, amount int64) (int64, error)
}

// Service manages gift codes.
type Service struct {
	kv       store.KV
	ledger   Crediter
	attempts int
}

// NewService creates the gift code service.
func NewService(kv store.KV, ledger Crediter, attempts int) *Service {
	return &Service{kv: kv, ledger: ledger, attempts: attempts}
}

// Normalize trims and upper-cases a code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Create stores a new code. An empty code gets a random one.
func (s *Service) Create(ctx context.Context, amount, maxUses int64, code string, createdBy int64) (*Code, error) {
	if amount <= 0 || maxUses < 0 {
		return nil, common.ErrInvalidAmount
	}
	code = Normalize(code)
	if code == "" {
		var err error
		if code, err = common.NewGiftCode(); err != nil {
			return nil, err
		}
	}
	if !codePattern.MatchString(code) {
		return nil, fmt.Errorf("gift code %q: use 3-32 letters, digits, '-' or '_'", code)
	}

	gc := &Code{
		Code:      code,
		Amount:    amount,
		MaxUses:   maxUses,
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}
	_, err := store.PutJSON(ctx, s.kv, store.GiftKey(code), gc, store.Absent)
	if errors.Is(err, store.ErrVersionConflict) {
		return nil, ErrCodeExists
	}
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"code":     code,
		"amount":   amount,
		"max_uses": maxUses,
		"admin_id": createdBy,
	}).Info("Gift code created")
	return gc, nil
}

// Get returns the code or common.ErrCodeNotFound.
func (s *Service) Get(ctx context.Context, code string) (*Code, error) {
	gc, _, err := store.GetJSON[Code](ctx, s.kv, store.GiftKey(Normalize(code)))
	if errors.Is(err, store.ErrNotFound) {
		return nil, common.ErrCodeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &gc, nil
}

// Redeem credits the code amount to userID.
//
// The guards run in order: code exists, enabled, under its cap, not yet
// redeemed by this user. No money moves until the user's marker and a slot
// under the cap are both claimed; a failed credit releases them again.
func (s *Service) Redeem(ctx context.Context, code string, userID int64) (*Code, error) {
	gc, err := s.redeem(ctx, Normalize(code), userID)
	metrics.LedgerOperations.WithLabelValues("gift_redeem", metrics.Outcome(err)).Inc()
	return gc, err
}

func (s *Service) redeem(ctx context.Context, code string, userID int64) (*Code, error) {
	gc, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if gc.Disabled {
		return nil, common.ErrCodeDisabled
	}
	if gc.Exhausted() {
		return nil, common.ErrQuotaExceeded
	}

	markerKey := store.GiftRedemptionKey(code, userID)
	_, err = s.kv.Get(ctx, markerKey)
	if err == nil {
		return nil, common.ErrAlreadyRedeemed
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	marker := Redemption{Code: code, UserID: userID, Amount: gc.Amount, At: time.Now().UTC()}
	_, err = store.PutJSON(ctx, s.kv, markerKey, marker, store.Absent)
	if errors.Is(err, store.ErrVersionConflict) {
		return nil, common.ErrAlreadyRedeemed
	}
	if err != nil {
		return nil, err
	}

	reserved, err := s.reserve(ctx, code)
	if err != nil {
		s.dropMarker(ctx, code, userID)
		return nil, err
	}

	if _, err := s.ledger.Credit(ctx, userID, reserved.Amount); err != nil {
		s.release(ctx, code)
		s.dropMarker(ctx, code, userID)
		return nil, err
	}

	log.WithFields(log.Fields{
		"code":    code,
		"user_id": userID,
		"amount":  reserved.Amount,
		"used":    reserved.UsedCount,
	}).Info("Gift code redeemed")
	return reserved, nil
}

// reserve takes one use of the code. The cap is checked against the
// version being replaced, so concurrent redemptions never overshoot it.
func (s *Service) reserve(ctx context.Context, code string) (*Code, error) {
	gc, err := store.Update(ctx, s.kv, store.GiftKey(code), s.attempts, func(c *Code) error {
		if c.Disabled {
			return common.ErrCodeDisabled
		}
		if c.Exhausted() {
			return common.ErrQuotaExceeded
		}
		c.UsedCount++
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, common.ErrCodeNotFound
	}
	if errors.Is(err, store.ErrVersionConflict) {
		return nil, common.Unavailable("reserve gift use", err)
	}
	if err != nil {
		return nil, err
	}
	return &gc, nil
}

// release gives back a use taken by reserve.
func (s *Service) release(ctx context.Context, code string) {
	_, err := store.Update(ctx, s.kv, store.GiftKey(code), s.attempts, func(c *Code) error {
		if c.UsedCount > 0 {
			c.UsedCount--
		}
		return nil
	})
	if err != nil {
		log.WithError(err).WithField("code", code).Error("Gift use not released, used_count is one too high")
	}
}

func (s *Service) dropMarker(ctx context.Context, code string, userID int64) {
	err := s.kv.Delete(ctx, store.GiftRedemptionKey(code, userID), store.Any)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.WithError(err).WithFields(log.Fields{
			"code":    code,
			"user_id": userID,
		}).Error("Gift redemption marker not removed, the user cannot retry")
	}
}

// SetDisabled switches a code off or back on.
func (s *Service) SetDisabled(ctx context.Context, code string, disabled bool) (*Code, error) {
	gc, err := store.Update(ctx, s.kv, store.GiftKey(Normalize(code)), s.attempts, func(c *Code) error {
		c.Disabled = disabled
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, common.ErrCodeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &gc, nil
}

// List returns codes ordered by name.
func (s *Service) List(ctx context.Context, limit int) ([]Code, error) {
	return store.ListJSON[Code](ctx, s.kv, store.PrefixGift, limit)
}
