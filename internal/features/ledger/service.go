// Package ledger owns every change of User.balance: credit, debit and
// transfer. No other package writes the balance field.
//
// Each operation is a single versioned read-modify-write of one user record.
// Guards (amount, frozen flag, sufficient funds) are evaluated against the
// exact version being replaced, so a concurrent debit can never overdraw:
// the loser of a race re-reads and re-checks. Business operations themselves
// are never retried here; callers that need idempotency gate on their own
// markers before calling.
package ledger

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/features/users"
	"serotonyl.ru/filegate-bot/internal/metrics"
)

// Service is the credit ledger.
type Service struct {
	users *users.Repository
}

// NewService creates the ledger on top of the user repository.
func NewService(repo *users.Repository) *Service {
	return &Service{users: repo}
}

// Balance returns the current balance.
func (s *Service) Balance(ctx context.Context, userID int64) (int64, error) {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.Balance, nil
}

// Credit adds amount to the balance and returns the new balance.
// Frozen accounts are rejected with ErrAccountFrozen.
func (s *Service) Credit(ctx context.Context, userID, amount int64) (int64, error) {
	bal, err := s.credit(ctx, userID, amount, false)
	metrics.LedgerOperations.WithLabelValues("credit", metrics.Outcome(err)).Inc()
	return bal, err
}

// Debit subtracts amount from the balance and returns the new balance.
func (s *Service) Debit(ctx context.Context, userID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, common.ErrInvalidAmount
	}
	u, err := s.users.Mutate(ctx, userID, func(u *users.User) error {
		if u.Frozen {
			return common.ErrAccountFrozen
		}
		if u.Balance < amount {
			return common.ErrInsufficientFunds
		}
		u.Balance -= amount
		return nil
	})
	metrics.LedgerOperations.WithLabelValues("debit", metrics.Outcome(err)).Inc()
	if err != nil {
		return 0, err
	}

	log.WithFields(log.Fields{
		"user_id": userID,
		"amount":  amount,
		"balance": u.Balance,
	}).Debug("debit")
	return u.Balance, nil
}

// Refund returns amount to the user even if the account was frozen in the
// meantime. It exists only to compensate a debit whose follow-up step failed.
func (s *Service) Refund(ctx context.Context, userID, amount int64) error {
	_, err := s.credit(ctx, userID, amount, true)
	metrics.LedgerOperations.WithLabelValues("refund", metrics.Outcome(err)).Inc()
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"user_id": userID,
			"amount":  amount,
		}).Error("Refund failed, balance needs manual reconciliation")
	}
	return err
}

// Transfer moves amount between two users as debit(from) then credit(to).
// If the credit fails the debit is compensated with a refund.
func (s *Service) Transfer(ctx context.Context, fromID, toID, amount int64) error {
	if fromID == toID {
		return common.ErrSelfTransfer
	}
	if amount <= 0 {
		return common.ErrInvalidAmount
	}
	// Recipient must exist before any money moves.
	if _, err := s.users.Get(ctx, toID); err != nil {
		return err
	}

	if _, err := s.Debit(ctx, fromID, amount); err != nil {
		return err
	}
	if _, err := s.Credit(ctx, toID, amount); err != nil {
		if rerr := s.Refund(ctx, fromID, amount); rerr != nil {
			return fmt.Errorf("transfer credit failed (%w), refund failed: %v", err, rerr)
		}
		return err
	}

	log.WithFields(log.Fields{
		"from":   fromID,
		"to":     toID,
		"amount": amount,
	}).Info("Transfer completed")
	return nil
}

func (s *Service) credit(ctx context.Context, userID, amount int64, allowFrozen bool) (int64, error) {
	if amount <= 0 {
		return 0, common.ErrInvalidAmount
	}
	u, err := s.users.Mutate(ctx, userID, func(u *users.User) error {
		if u.Frozen && !allowFrozen {
			return common.ErrAccountFrozen
		}
		u.Balance += amount
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return 0, fmt.Errorf("credit user %d: %w", userID, err)
		}
		return 0, err
	}

	log.WithFields(log.Fields{
		"user_id": userID,
		"amount":  amount,
		"balance": u.Balance,
	}).Debug("credit")
	return u.Balance, nil
}
