// Package tickets stores support requests users send to the admins.
package tickets

import (
	"context"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/id"
	"serotonyl.ru/filegate-bot/internal/store"
)

// MaxTextLength caps the stored ticket text.
const MaxTextLength = 2000

// Ticket is stored under ticket:{id}.
type Ticket struct {
	ID        string     `json:"id"`
	UserID    int64      `json:"user_id"`
	Text      string     `json:"text"`
	Closed    bool       `json:"closed"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	ClosedBy  int64      `json:"closed_by,omitempty"`
}

// Service manages tickets.
type Service struct {
	kv       store.KV
	attempts int
}

// NewService creates the ticket service.
func NewService(kv store.KV, attempts int) *Service {
	return &Service{kv: kv, attempts: attempts}
}

// Create opens a ticket.
func (s *Service) Create(ctx context.Context, userID int64, text string) (*Ticket, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, common.ErrPayloadRequired
	}
	t := &Ticket{
		ID:        id.New(id.PrefixTicket),
		UserID:    userID,
		Text:      common.Truncate(text, MaxTextLength),
		CreatedAt: time.Now().UTC(),
	}
	if _, err := store.PutJSON(ctx, s.kv, store.TicketKey(t.ID), t, store.Absent); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"ticket_id": t.ID, "user_id": userID}).Info("Ticket created")
	return t, nil
}

// List returns tickets newest first. Closed tickets are skipped unless
// withClosed is set.
func (s *Service) List(ctx context.Context, limit int, withClosed bool) ([]Ticket, error) {
	all, err := store.ListJSON[Ticket](ctx, s.kv, store.PrefixTicket, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Ticket, 0, len(all))
	// Keys are time ordered; walk backwards for newest first.
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Closed && !withClosed {
			continue
		}
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Close marks a ticket as handled.
func (s *Service) Close(ctx context.Context, ticketID string, adminID int64) (*Ticket, error) {
	if !id.Valid(ticketID, id.PrefixTicket) {
		return nil, common.ErrNotFound
	}
	t, err := store.Update(ctx, s.kv, store.TicketKey(ticketID), s.attempts, func(t *Ticket) error {
		if t.Closed {
			return common.ErrInvalidState
		}
		now := time.Now().UTC()
		t.Closed = true
		t.ClosedAt = &now
		t.ClosedBy = adminID
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
