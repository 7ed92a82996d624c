// Package purchase — service.go drives purchase requests through the
// state machine and credits approved ones.
package purchase

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
	"serotonyl.ru/filegate-bot/internal/id"
	"serotonyl.ru/filegate-bot/internal/metrics"
	"serotonyl.ru/filegate-bot/internal/store"
)

// Crediter is the part of the ledger purchases need.
type Crediter interface {
	Credit(ctx context.Context, userID, amount int64) (int64, error)
}

// PriceSource provides the current coin price.
type PriceSource interface {
	Get(ctx context.Context) (settings.Settings, error)
}

// Service manages purchase requests.
type Service struct {
	kv       store.KV
	ledger   Crediter
	prices   PriceSource
	plans    []int64
	attempts int
}

// NewService creates the purchase service. plans are the coin packages
// offered to users.
func NewService(kv store.KV, ledger Crediter, prices PriceSource, plans []int64, attempts int) *Service {
	return &Service{kv: kv, ledger: ledger, prices: prices, plans: plans, attempts: attempts}
}

// Plans returns the offered coin packages.
func (s *Service) Plans() []int64 { return s.plans }

// Start returns the user's open request that still waits for user input,
// or creates a new one in pending_plan_selection. A request under review
// blocks new ones until an admin decides.
func (s *Service) Start(ctx context.Context, userID int64) (*Request, error) {
	active, err := s.ActiveForUser(ctx, userID)
	switch {
	case err == nil && active.Status == StatusPendingReview:
		return nil, common.ErrInvalidState
	case err == nil:
		return active, nil
	case !errors.Is(err, common.ErrNotFound):
		return nil, err
	}

	now := time.Now().UTC()
	r := &Request{
		ID:        id.New(id.PrefixPurchase),
		UserID:    userID,
		Status:    StatusPendingPlanSelection,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := store.PutJSON(ctx, s.kv, store.PurchaseKey(r.ID), r, store.Absent); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"purchase_id": r.ID, "user_id": userID}).Info("Purchase started")
	return r, nil
}

// SelectPlan records the requested amount and its price and moves the
// request to awaiting_receipt.
func (s *Service) SelectPlan(ctx context.Context, reqID string, userID, amount int64) (*Request, error) {
	if amount <= 0 {
		return nil, common.ErrInvalidAmount
	}
	price := s.priceFor(ctx, amount)
	return s.mutate(ctx, reqID, func(r *Request) error {
		if r.UserID != userID {
			return common.ErrForbidden
		}
		if err := transition(r, StatusAwaitingReceipt, userID); err != nil {
			return err
		}
		r.RequestedAmount = amount
		r.Price = price
		return nil
	})
}

// SubmitReceipt attaches the payment proof and moves the request to
// pending_review. A second submission fails with common.ErrInvalidState.
func (s *Service) SubmitReceipt(ctx context.Context, reqID string, userID int64, kind events.Kind, receiptRef string) (*Request, error) {
	if receiptRef == "" {
		return nil, common.ErrPayloadRequired
	}
	r, err := s.mutate(ctx, reqID, func(r *Request) error {
		if r.UserID != userID {
			return common.ErrForbidden
		}
		if err := transition(r, StatusPendingReview, userID); err != nil {
			return err
		}
		r.ReceiptRef = receiptRef
		r.ReceiptKind = kind
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"purchase_id": r.ID,
		"user_id":     userID,
		"amount":      r.RequestedAmount,
	}).Info("Purchase receipt submitted")
	return r, nil
}

// Approve credits the requested amount and then marks the request approved.
// The decision is claimed before any money moves, so of two concurrent
// decisions only one credits; the other fails with common.ErrInvalidState.
// If the status write fails after the credit, the claim keeps the request
// from being credited again and the error is logged for reconciliation.
func (s *Service) Approve(ctx context.Context, reqID string, adminID int64) (*Request, error) {
	r, err := s.Get(ctx, reqID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(r.Status, StatusApproved) {
		return nil, transition(r, StatusApproved, adminID)
	}
	if err := s.claim(ctx, reqID, StatusApproved, adminID); err != nil {
		return nil, err
	}

	_, err = s.ledger.Credit(ctx, r.UserID, r.RequestedAmount)
	metrics.LedgerOperations.WithLabelValues("purchase_credit", metrics.Outcome(err)).Inc()
	if err != nil {
		s.unclaim(ctx, reqID)
		return nil, err
	}

	approved, err := s.mutate(ctx, reqID, func(r *Request) error {
		return transition(r, StatusApproved, adminID)
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"purchase_id": reqID,
			"user_id":     r.UserID,
			"amount":      r.RequestedAmount,
		}).Error("Purchase credited but not marked approved, reconcile manually")
		return nil, err
	}

	log.WithFields(log.Fields{
		"purchase_id": reqID,
		"user_id":     r.UserID,
		"amount":      r.RequestedAmount,
		"admin_id":    adminID,
	}).Info("Purchase approved")
	return approved, nil
}

// Reject marks a request under review as rejected. No money moves.
func (s *Service) Reject(ctx context.Context, reqID string, adminID int64) (*Request, error) {
	cur, err := s.Get(ctx, reqID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(cur.Status, StatusRejected) {
		return nil, transition(cur, StatusRejected, adminID)
	}
	if err := s.claim(ctx, reqID, StatusRejected, adminID); err != nil {
		return nil, err
	}

	r, err := s.mutate(ctx, reqID, func(r *Request) error {
		return transition(r, StatusRejected, adminID)
	})
	if err != nil {
		s.unclaim(ctx, reqID)
		return nil, err
	}
	log.WithFields(log.Fields{"purchase_id": reqID, "admin_id": adminID}).Info("Purchase rejected")
	return r, nil
}

// decisionClaim is the record behind store.PurchaseClaimKey.
type decisionClaim struct {
	Decision Status    `json:"decision"`
	AdminID  int64     `json:"admin_id"`
	At       time.Time `json:"at"`
}

// claim reserves the right to decide reqID. Only the first caller wins.
func (s *Service) claim(ctx context.Context, reqID string, decision Status, adminID int64) error {
	c := decisionClaim{Decision: decision, AdminID: adminID, At: time.Now().UTC()}
	_, err := store.PutJSON(ctx, s.kv, store.PurchaseClaimKey(reqID), c, store.Absent)
	if errors.Is(err, store.ErrVersionConflict) {
		return fmt.Errorf("purchase %s is already decided: %w", reqID, common.ErrInvalidState)
	}
	return err
}

// unclaim releases a claim whose decision did not go through.
func (s *Service) unclaim(ctx context.Context, reqID string) {
	err := s.kv.Delete(ctx, store.PurchaseClaimKey(reqID), store.Any)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.WithError(err).WithField("purchase_id", reqID).Error("Purchase decision claim not released")
	}
}

// Get returns a request or common.ErrNotFound.
func (s *Service) Get(ctx context.Context, reqID string) (*Request, error) {
	if !id.Valid(reqID, id.PrefixPurchase) {
		return nil, common.ErrNotFound
	}
	r, _, err := store.GetJSON[Request](ctx, s.kv, store.PurchaseKey(reqID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListPending returns requests waiting for review, oldest first.
func (s *Service) ListPending(ctx context.Context, limit int) ([]Request, error) {
	all, err := store.ListJSON[Request](ctx, s.kv, store.PrefixPurchase, 0)
	if err != nil {
		return nil, err
	}
	var out []Request
	for _, r := range all {
		if r.Status == StatusPendingReview {
			out = append(out, r)
		}
	}
	// typeid ids are time ordered, so key order is already creation order.
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ActiveForUser returns the newest non-terminal request of the user.
func (s *Service) ActiveForUser(ctx context.Context, userID int64) (*Request, error) {
	all, err := store.ListJSON[Request](ctx, s.kv, store.PrefixPurchase, 0)
	if err != nil {
		return nil, err
	}
	var open []Request
	for _, r := range all {
		if r.UserID == userID && !r.Status.Terminal() {
			open = append(open, r)
		}
	}
	if len(open) == 0 {
		return nil, common.ErrNotFound
	}
	sort.Slice(open, func(i, j int) bool { return open[i].CreatedAt.After(open[j].CreatedAt) })
	return &open[0], nil
}

func (s *Service) mutate(ctx context.Context, reqID string, fn func(*Request) error) (*Request, error) {
	if !id.Valid(reqID, id.PrefixPurchase) {
		return nil, common.ErrNotFound
	}
	r, err := store.Update(ctx, s.kv, store.PurchaseKey(reqID), s.attempts, fn)
	if errors.Is(err, store.ErrNotFound) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// priceFor returns amount × price_per_coin, or 0 when no price is set.
func (s *Service) priceFor(ctx context.Context, amount int64) int64 {
	if s.prices == nil {
		return 0
	}
	st, err := s.prices.Get(ctx)
	if err != nil {
		log.WithError(err).Warn("coin price unavailable")
		return 0
	}
	return amount * st.PricePerCoin
}
