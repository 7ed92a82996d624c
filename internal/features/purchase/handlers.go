// Package purchase — handlers.go serves the "buy coins" flow for users and
// the review buttons for admins.
package purchase

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/events"
	"serotonyl.ru/filegate-bot/internal/features/conversation"
)

// Callback actions.
const (
	CallbackStart     = "buy_coins"
	CallbackPlan      = "buy_plan"
	CallbackCustom    = "buy_custom"
	CallbackApprove   = "pur_ok"
	CallbackReject    = "pur_no"
	CallbackAdminList = "adm_purchases"
)

// Handler serves purchase events.
type Handler struct {
	service  *Service
	conv     *conversation.Store
	notifier events.Notifier
	currency string
}

// NewHandler creates the purchase handler.
func NewHandler(service *Service, conv *conversation.Store, notifier events.Notifier, currency string) *Handler {
	return &Handler{service: service, conv: conv, notifier: notifier, currency: currency}
}

// Register binds the conversation steps owned by this handler.
func (h *Handler) Register(d *conversation.Dispatcher) {
	d.Register(conversation.StepPurchaseAmount, h.stepPurchaseAmount)
	d.Register(conversation.StepPurchaseReceipt, h.stepPurchaseReceipt)
}

// HandleStart opens or resumes the user's purchase (/buy, buy_coins).
func (h *Handler) HandleStart(ctx context.Context, ev events.Event) events.Result {
	r, err := h.service.Start(ctx, ev.SenderID)
	if err != nil {
		if common.IsRejection(err) {
			return events.Reply("⏳ Your previous payment is still being reviewed. You will get a message once it is decided.", events.BackRow())
		}
		return events.Fail(ev, err)
	}

	if r.Status == StatusAwaitingReceipt {
		return h.askReceipt(ctx, ev, r)
	}

	kb := make([][]events.Button, 0, len(h.service.Plans())+2)
	for _, amount := range h.service.Plans() {
		kb = append(kb, events.Row(events.Btn(
			common.FormatBalance(amount, h.currency),
			fmt.Sprintf("%s:%s:%d", CallbackPlan, r.ID, amount),
		)))
	}
	kb = append(kb, events.Row(events.Btn("✏️ Other amount", CallbackCustom+":"+r.ID)), events.BackRow())
	return events.Reply("💳 <b>Buy coins</b>\n\nPick a package:", kb...)
}

// HandlePlan applies a package button buy_plan:{id}:{amount}.
func (h *Handler) HandlePlan(ctx context.Context, ev events.Event) events.Result {
	arg, _ := ev.CallbackArg(CallbackPlan)
	reqID, rawAmount, ok := strings.Cut(arg, ":")
	if !ok {
		return events.Fail(ev, common.ErrInvalidAmount)
	}
	amount, err := strconv.ParseInt(rawAmount, 10, 64)
	if err != nil {
		return events.Fail(ev, common.ErrInvalidAmount)
	}
	r, err := h.service.SelectPlan(ctx, reqID, ev.SenderID, amount)
	if err != nil {
		return events.Fail(ev, err)
	}
	return h.askReceipt(ctx, ev, r)
}

// HandleCustom asks for a custom amount.
func (h *Handler) HandleCustom(ctx context.Context, ev events.Event) events.Result {
	reqID, _ := ev.CallbackArg(CallbackCustom)
	if err := h.conv.Set(ctx, ev.SenderID, conversation.StepPurchaseAmount, reqID); err != nil {
		return events.Fail(ev, err)
	}
	return events.Reply("✏️ How many coins do you want to buy?\n\n/cancel to stop.")
}

func (h *Handler) stepPurchaseAmount(ctx context.Context, ev events.Event, reqID string) conversation.Outcome {
	amount, err := common.ParseAmount(ev.Text)
	if err != nil {
		return conversation.Stay(events.Fail(ev, err))
	}
	r, err := h.service.SelectPlan(ctx, reqID, ev.SenderID, amount)
	if err != nil {
		return conversation.Done(events.Fail(ev, err))
	}
	return conversation.Advance(h.receiptPrompt(r), conversation.StepPurchaseReceipt, r.ID)
}

func (h *Handler) askReceipt(ctx context.Context, ev events.Event, r *Request) events.Result {
	if err := h.conv.Set(ctx, ev.SenderID, conversation.StepPurchaseReceipt, r.ID); err != nil {
		return events.Fail(ev, err)
	}
	return h.receiptPrompt(r)
}

func (h *Handler) receiptPrompt(r *Request) events.Result {
	var b strings.Builder
	fmt.Fprintf(&b, "🧾 You are buying <b>%s</b>.\n", common.FormatBalance(r.RequestedAmount, h.currency))
	if r.Price > 0 {
		fmt.Fprintf(&b, "💵 Amount to pay: <b>%s</b>\n", common.FormatNumber(r.Price))
	}
	b.WriteString("\nMake the payment and send a photo or a document of the receipt here.\n/cancel to stop.")
	return events.Reply(b.String())
}

func (h *Handler) stepPurchaseReceipt(ctx context.Context, ev events.Event, reqID string) conversation.Outcome {
	if ev.Attachment == nil {
		return conversation.Stay(events.Fail(ev, common.ErrPayloadRequired))
	}
	r, err := h.service.SubmitReceipt(ctx, reqID, ev.SenderID, ev.Attachment.Kind, ev.Attachment.PayloadRef)
	if err != nil {
		return conversation.Done(events.Fail(ev, err))
	}

	caption := fmt.Sprintf("🧾 <b>New payment</b>\n\nUser: <code>%d</code> %s\nAmount: %s\nPrice: %s\nRequest: <code>%s</code>",
		r.UserID, common.Escape(ev.SenderName),
		common.FormatBalance(r.RequestedAmount, h.currency), common.FormatNumber(r.Price), r.ID)
	h.notifier.NotifyAdminsMedia(&events.Delivery{
		Kind:       ev.Attachment.Kind,
		PayloadRef: ev.Attachment.PayloadRef,
		FileName:   ev.Attachment.FileName,
	}, caption, reviewRow(r.ID))

	return conversation.Done(events.Reply("✅ Receipt received. An admin will review it shortly.", events.BackRow()))
}

// HandleApprove serves pur_ok:{id}.
func (h *Handler) HandleApprove(ctx context.Context, ev events.Event) events.Result {
	reqID, _ := ev.CallbackArg(CallbackApprove)
	r, err := h.service.Approve(ctx, reqID, ev.SenderID)
	if err != nil {
		return events.Fail(ev, err)
	}
	h.notifier.NotifyUser(r.UserID, fmt.Sprintf("✅ Your payment was approved: %s",
		common.FormatSignedAmount(r.RequestedAmount, h.currency)))
	return events.Reply(fmt.Sprintf("✅ Request <code>%s</code> approved, %s credited to <code>%d</code>.",
		r.ID, common.FormatBalance(r.RequestedAmount, h.currency), r.UserID)).Toast("Approved")
}

// HandleReject serves pur_no:{id}.
func (h *Handler) HandleReject(ctx context.Context, ev events.Event) events.Result {
	reqID, _ := ev.CallbackArg(CallbackReject)
	r, err := h.service.Reject(ctx, reqID, ev.SenderID)
	if err != nil {
		return events.Fail(ev, err)
	}
	h.notifier.NotifyUser(r.UserID, "❌ Your payment was rejected. Contact support if you think this is a mistake.")
	return events.Reply(fmt.Sprintf("❌ Request <code>%s</code> rejected.", r.ID)).Toast("Rejected")
}

// HandleAdminList shows requests waiting for review.
func (h *Handler) HandleAdminList(ctx context.Context, ev events.Event) events.Result {
	pending, err := h.service.ListPending(ctx, 10)
	if err != nil {
		return events.Fail(ev, err)
	}
	if len(pending) == 0 {
		return events.Reply("No payments to review.", events.AdminBackRow())
	}
	res := events.Reply(fmt.Sprintf("🧾 <b>%d payment(s) waiting</b>", len(pending)))
	for _, r := range pending {
		res = res.Add(fmt.Sprintf("User <code>%d</code>: %s, price %s\n<code>%s</code>",
			r.UserID, common.FormatBalance(r.RequestedAmount, h.currency), common.FormatNumber(r.Price), r.ID),
			reviewRow(r.ID))
	}
	return res.Add("Back to the panel:", events.AdminBackRow())
}

func reviewRow(reqID string) []events.Button {
	return events.Row(
		events.Btn("✅ Approve", CallbackApprove+":"+reqID),
		events.Btn("❌ Reject", CallbackReject+":"+reqID),
	)
}
