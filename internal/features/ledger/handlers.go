// Package ledger — handlers.go shows the account page and serves /balance
// and /send.
package ledger

import (
	"context"
	"fmt"
	"strings"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/events"
	"serotonyl.ru/filegate-bot/internal/features/users"
)

// CallbackAccount opens the account page.
const CallbackAccount = "account"

// Handler serves balance related events.
type Handler struct {
	service    *Service
	users      *users.Service
	notifier   events.Notifier
	currency   string
	supportURL string
}

// NewHandler creates the account handler. supportURL may be empty.
func NewHandler(service *Service, usersSvc *users.Service, notifier events.Notifier, currency, supportURL string) *Handler {
	return &Handler{service: service, users: usersSvc, notifier: notifier, currency: currency, supportURL: supportURL}
}

// HandleAccount shows id, name and balance.
func (h *Handler) HandleAccount(ctx context.Context, ev events.Event) events.Result {
	u, err := h.users.Get(ctx, ev.SenderID)
	if err != nil {
		return events.Fail(ev, err)
	}

	lines := []string{
		"👤 <b>Account</b>",
		fmt.Sprintf("ID: <code>%d</code>", u.ID),
		fmt.Sprintf("Name: <b>%s</b>", common.Escape(nameOr(u.Name, "-"))),
		fmt.Sprintf("Balance: <b>%s</b>", common.FormatBalance(u.Balance, h.currency)),
	}
	if u.Frozen {
		lines = append(lines, "🧊 Account is frozen")
	}

	support := []events.Button{events.Btn("🎫 New ticket", "ticket_new")}
	if h.supportURL != "" {
		support = append([]events.Button{events.LinkBtn("🆘 Support", h.supportURL)}, support...)
	}
	return events.Reply(strings.Join(lines, "\n"), support, events.BackRow())
}

// HandleBalance serves /balance.
func (h *Handler) HandleBalance(ctx context.Context, ev events.Event) events.Result {
	bal, err := h.service.Balance(ctx, ev.SenderID)
	if err != nil {
		return events.Fail(ev, err)
	}
	return events.Reply(fmt.Sprintf("💰 Balance: <b>%s</b>", common.FormatBalance(bal, h.currency)))
}

// HandleSend serves /send <user_id> <amount>.
func (h *Handler) HandleSend(ctx context.Context, ev events.Event) events.Result {
	to, ok := common.ParseUserID(ev.Arg(0))
	if !ok || ev.Arg(1) == "" {
		return events.Reply("Usage: /send <user_id> <amount>")
	}
	amount, err := common.ParseAmount(ev.Arg(1))
	if err != nil {
		return events.Fail(ev, err)
	}
	if err := h.service.Transfer(ctx, ev.SenderID, to, amount); err != nil {
		return events.Fail(ev, err)
	}

	h.notifier.NotifyUser(to, fmt.Sprintf("💸 <code>%d</code> sent you %s",
		ev.SenderID, common.FormatBalance(amount, h.currency)))
	return events.Reply(fmt.Sprintf("✅ Sent %s to <code>%d</code>.", common.FormatBalance(amount, h.currency), to))
}

func nameOr(name, fallback string) string {
	if strings.TrimSpace(name) == "" {
		return fallback
	}
	return name
}
