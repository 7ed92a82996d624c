// Package spend — service.go implements Offer, Confirm and the free path.
package spend

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/features/content"
	"serotonyl.ru/filegate-bot/internal/store"
)

// Ledger is the part of the credit ledger a spend needs.
type Ledger interface {
	Debit(ctx context.Context, userID, amount int64) (int64, error)
	Refund(ctx context.Context, userID, amount int64) error
}

// Service coordinates pending spends.
type Service struct {
	kv      store.KV
	content *content.Service
	ledger  Ledger
	ttl     time.Duration
	now     func() time.Time
}

// NewService creates the spend service. ttl is how long an offer stays valid.
func NewService(kv store.KV, contentSvc *content.Service, ledger Ledger, ttl time.Duration) *Service {
	return &Service{
		kv:      kv,
		content: contentSvc,
		ledger:  ledger,
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Offer looks the item up and, for priced items, records a pending spend
// that Confirm can consume. A new offer replaces an older one for the same
// user and token. A user who already received the item is quoted free.
func (s *Service) Offer(ctx context.Context, userID int64, token string) (*Quote, error) {
	it, err := s.content.GetItem(ctx, token)
	if err != nil {
		return nil, err
	}
	if it.Disabled {
		return nil, common.ErrItemDisabled
	}
	again, err := s.content.Received(ctx, token, userID)
	if err != nil {
		return nil, err
	}
	if again {
		return &Quote{Item: it, Free: true}, nil
	}
	if it.Exhausted() {
		return nil, common.ErrQuotaExceeded
	}
	if it.Free() || it.OwnerID == userID {
		return &Quote{Item: it, Free: true}, nil
	}

	now := s.now()
	ps := &PendingSpend{
		Token:     token,
		UserID:    userID,
		Amount:    it.Price,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if _, err := store.PutJSON(ctx, s.kv, store.PendingSpendKey(userID, token), ps, store.Any); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user_id": userID,
		"token":   token,
		"amount":  ps.Amount,
	}).Debug("Spend offered")
	return &Quote{Item: it, Spend: ps}, nil
}

// Confirm consumes the pending spend exactly once, debits the offered
// amount and consumes a download. If the download fails after the debit
// the amount is refunded. A user who already received the item is not
// charged again.
func (s *Service) Confirm(ctx context.Context, userID int64, token string) (*content.Item, error) {
	key := store.PendingSpendKey(userID, token)
	ps, ver, err := store.GetJSON[PendingSpend](ctx, s.kv, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, common.ErrInvalidState
	}
	if err != nil {
		return nil, err
	}

	// The versioned delete is the single point where the offer is used up;
	// a concurrent or repeated confirm loses here.
	if err := s.kv.Delete(ctx, key, ver); err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrVersionConflict) {
			return nil, common.ErrInvalidState
		}
		return nil, err
	}
	if ps.Expired(s.now()) {
		return nil, common.ErrInvalidState
	}
	if again, err := s.content.Received(ctx, token, userID); err != nil {
		return nil, err
	} else if again {
		return s.content.ConsumeDownload(ctx, token, userID)
	}

	if _, err := s.ledger.Debit(ctx, userID, ps.Amount); err != nil {
		return nil, err
	}

	it, err := s.content.ConsumeDownload(ctx, token, userID)
	if err != nil {
		if rerr := s.ledger.Refund(ctx, userID, ps.Amount); rerr != nil {
			log.WithError(rerr).WithFields(log.Fields{
				"user_id": userID,
				"token":   token,
				"amount":  ps.Amount,
			}).Error("spend refund failed")
		}
		return nil, err
	}

	log.WithFields(log.Fields{
		"user_id": userID,
		"token":   token,
		"amount":  ps.Amount,
	}).Info("Spend confirmed")
	return it, nil
}

// Cancel drops the pending spend if there is one.
func (s *Service) Cancel(ctx context.Context, userID int64, token string) error {
	err := s.kv.Delete(ctx, store.PendingSpendKey(userID, token), store.Any)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// Deliver consumes a download of a free item, or of any item for its owner.
// Users who already received a priced item get it again without paying.
func (s *Service) Deliver(ctx context.Context, userID int64, token string) (*content.Item, error) {
	it, err := s.content.GetItem(ctx, token)
	if err != nil {
		return nil, err
	}
	if !it.Free() && it.OwnerID != userID {
		again, err := s.content.Received(ctx, token, userID)
		if err != nil {
			return nil, err
		}
		if !again {
			return nil, ErrConfirmationRequired
		}
	}
	return s.content.ConsumeDownload(ctx, token, userID)
}

// SweepExpired removes offers that expired before now and returns how many
// were removed.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	recs, err := s.kv.List(ctx, store.PrefixPendingSpend, 0)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, rec := range recs {
		var ps PendingSpend
		if err := json.Unmarshal(rec.Value, &ps); err != nil || ps.Expired(now) {
			if err := s.kv.Delete(ctx, rec.Key, rec.Version); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
