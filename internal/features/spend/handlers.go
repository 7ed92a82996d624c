// Package spend — handlers.go answers token requests: /get, the
// "redeem token" button, the typed token step and the pay/cancel buttons.
package spend

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/events"
	"serotonyl.ru/filegate-bot/internal/features/content"
	"serotonyl.ru/filegate-bot/internal/features/conversation"
)

// Callback actions.
const (
	CallbackRedeemToken = "redeem_token"
	CallbackSpendOK     = "spend_ok"
	CallbackSpendNo     = "spend_no"
)

// BalanceReader shows the user's balance next to a price.
type BalanceReader interface {
	Balance(ctx context.Context, userID int64) (int64, error)
}

// Handler serves token requests.
type Handler struct {
	service  *Service
	balances BalanceReader
	conv     *conversation.Store
	currency string
}

// NewHandler creates the token request handler.
func NewHandler(service *Service, balances BalanceReader, conv *conversation.Store, currency string) *Handler {
	return &Handler{service: service, balances: balances, conv: conv, currency: currency}
}

// Register binds the conversation steps owned by this handler.
func (h *Handler) Register(d *conversation.Dispatcher) {
	d.Register(conversation.StepContentToken, h.stepContentToken)
	d.Register(conversation.StepSpendConfirm, h.stepSpendConfirm)
}

// HandleGet serves /get <token>. Without a token the user is asked for one.
func (h *Handler) HandleGet(ctx context.Context, ev events.Event) events.Result {
	token := strings.TrimSpace(ev.Arg(0))
	if token == "" {
		return h.HandleTokenPrompt(ctx, ev)
	}
	return h.Request(ctx, ev, token)
}

// Request answers a token outside the conversation dispatcher, e.g. from a
// /start deep link.
func (h *Handler) Request(ctx context.Context, ev events.Event, token string) events.Result {
	res, pending := h.request(ctx, ev, token)
	if pending {
		h.setStep(ctx, ev.SenderID, conversation.StepSpendConfirm, token)
	}
	return res
}

// HandleTokenPrompt asks the user to type a token.
func (h *Handler) HandleTokenPrompt(ctx context.Context, ev events.Event) events.Result {
	h.setStep(ctx, ev.SenderID, conversation.StepContentToken, "")
	return events.Reply("🔑 Send the file token.\n\n/cancel to stop.", events.BackRow())
}

func (h *Handler) stepContentToken(ctx context.Context, ev events.Event, _ string) conversation.Outcome {
	token := strings.TrimSpace(ev.Text)
	if token == "" {
		return conversation.Stay(events.Reply("🔑 Send the file token as text."))
	}
	res, pending := h.request(ctx, ev, token)
	if pending {
		return conversation.Advance(res, conversation.StepSpendConfirm, token)
	}
	return conversation.Done(res)
}

// request delivers free items right away and shows a confirmation prompt
// for priced ones. pending reports the latter.
func (h *Handler) request(ctx context.Context, ev events.Event, token string) (events.Result, bool) {
	q, err := h.service.Offer(ctx, ev.SenderID, token)
	if err != nil {
		return events.Fail(ev, err), false
	}
	if q.Free {
		return h.deliver(ev, func() (*content.Item, error) { return h.service.Deliver(ctx, ev.SenderID, token) }), false
	}

	var b strings.Builder
	b.WriteString(content.Describe(q.Item))
	fmt.Fprintf(&b, "\n\n💰 Pay <b>%s</b> to download.", common.FormatBalance(q.Spend.Amount, h.currency))
	if bal, err := h.balances.Balance(ctx, ev.SenderID); err == nil {
		fmt.Fprintf(&b, "\n👛 Your balance: %s", common.FormatBalance(bal, h.currency))
	}
	return events.Reply(b.String(), confirmRow(token)), true
}

// HandleSpendOK confirms a pending spend from the inline button.
func (h *Handler) HandleSpendOK(ctx context.Context, ev events.Event) events.Result {
	token, _ := ev.CallbackArg(CallbackSpendOK)
	h.clearStep(ctx, ev.SenderID)
	return h.deliver(ev, func() (*content.Item, error) { return h.service.Confirm(ctx, ev.SenderID, token) })
}

// HandleSpendNo drops a pending spend.
func (h *Handler) HandleSpendNo(ctx context.Context, ev events.Event) events.Result {
	token, _ := ev.CallbackArg(CallbackSpendNo)
	h.clearStep(ctx, ev.SenderID)
	return h.cancel(ctx, ev, token)
}

func (h *Handler) stepSpendConfirm(ctx context.Context, ev events.Event, token string) conversation.Outcome {
	switch strings.ToLower(strings.TrimSpace(ev.Text)) {
	case "yes", "y", "ok", "pay", "confirm", "✅":
		return conversation.Done(h.deliver(ev, func() (*content.Item, error) { return h.service.Confirm(ctx, ev.SenderID, token) }))
	case "no", "n", "cancel", "❌":
		return conversation.Done(h.cancel(ctx, ev, token))
	}
	return conversation.Stay(events.Reply("Reply <b>yes</b> to pay or <b>no</b> to cancel.", confirmRow(token)))
}

func (h *Handler) cancel(ctx context.Context, ev events.Event, token string) events.Result {
	if err := h.service.Cancel(ctx, ev.SenderID, token); err != nil {
		return events.Fail(ev, err)
	}
	return events.Reply("❎ Purchase cancelled.", events.BackRow())
}

func (h *Handler) deliver(ev events.Event, consume func() (*content.Item, error)) events.Result {
	it, err := consume()
	if err != nil {
		return events.Fail(ev, err)
	}
	res := events.Result{Deliver: content.Delivery(it, ev.SenderID)}
	if it.Remaining() == 0 {
		res = res.Add("📦 That was the last download of this file.")
	}
	return res
}

func (h *Handler) setStep(ctx context.Context, userID int64, step conversation.Step, payload string) {
	if err := h.conv.Set(ctx, userID, step, payload); err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("conversation state write failed")
	}
}

func (h *Handler) clearStep(ctx context.Context, userID int64) {
	if err := h.conv.Clear(ctx, userID); err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("conversation state clear failed")
	}
}

func confirmRow(token string) []events.Button {
	return events.Row(
		events.Btn("✅ Pay", CallbackSpendOK+":"+token),
		events.Btn("❌ Cancel", CallbackSpendNo+":"+token),
	)
}
