// Package referral rewards a referrer once per referred user.
//
// The store has no multi-key transactions, so the reward is ordered to keep
// the failure window small: the referred user's flag is read first, the
// referrer is credited next and the flag is set last. Two calls racing
// between the first read and the final write can both credit; the second
// flag write detects this and logs it for reconciliation.
package referral

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/features/users"
)

// Crediter is the part of the ledger the referral service needs.
type Crediter interface {
	Credit(ctx context.Context, userID, amount int64) (int64, error)
}

// Service pays referral rewards.
type Service struct {
	users  *users.Repository
	ledger Crediter
	reward int64
}

// NewService creates the referral service paying reward per referred user.
func NewService(repo *users.Repository, ledger Crediter, reward int64) *Service {
	return &Service{users: repo, ledger: ledger, reward: reward}
}

// Reward returns the amount paid per referral.
func (s *Service) Reward() int64 { return s.reward }

// CreditReferrerIfEligible credits the referrer for referredID unless that
// was already done. It returns true only when this call paid the reward.
// Ineligible pairs (self referral, unknown referred user, a different
// recorded referrer, already credited) are a no-op returning false.
func (s *Service) CreditReferrerIfEligible(ctx context.Context, referrerID, referredID int64) (bool, error) {
	if referrerID == 0 || referrerID == referredID {
		return false, nil
	}

	referred, err := s.users.Get(ctx, referredID)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if referred.ReferralCredited {
		return false, nil
	}
	if referred.ReferrerID != 0 && referred.ReferrerID != referrerID {
		return false, nil
	}

	if _, err := s.ledger.Credit(ctx, referrerID, s.reward); err != nil {
		return false, err
	}

	if _, err := s.users.Mutate(ctx, referrerID, func(u *users.User) error {
		u.ReferralCount++
		return nil
	}); err != nil {
		log.WithError(err).WithField("referrer_id", referrerID).Warn("referral count update failed")
	}

	var creditedTwice bool
	_, err = s.users.Mutate(ctx, referredID, func(u *users.User) error {
		creditedTwice = u.ReferralCredited
		u.ReferralCredited = true
		if u.ReferrerID == 0 {
			u.ReferrerID = referrerID
		}
		return nil
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"referrer_id": referrerID,
			"referred_id": referredID,
		}).Error("Referral credited but flag not set")
		return true, err
	}
	if creditedTwice {
		log.WithFields(log.Fields{
			"referrer_id": referrerID,
			"referred_id": referredID,
		}).Error("Referral credited twice, reconcile the referrer balance")
	}

	log.WithFields(log.Fields{
		"referrer_id": referrerID,
		"referred_id": referredID,
		"reward":      s.reward,
	}).Info("Referral reward credited")
	return true, nil
}

// Qualify pays the reward for userID's referrer, if any. It returns the
// referrer id when this call paid.
func (s *Service) Qualify(ctx context.Context, userID int64) (int64, error) {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !u.HasPendingReferral() {
		return 0, nil
	}
	credited, err := s.CreditReferrerIfEligible(ctx, u.ReferrerID, userID)
	if err != nil || !credited {
		return 0, err
	}
	return u.ReferrerID, nil
}
