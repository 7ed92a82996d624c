// Package gift — handlers.go serves /redeem, the gift code button and the
// admin screens for creating and switching codes.
package gift

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/events"
	"serotonyl.ru/filegate-bot/internal/features/conversation"
)

// Callback actions.
const (
	CallbackPrompt      = "giftcode"
	CallbackAdminCreate = "adm_gift"
	CallbackAdminList   = "adm_gifts"
	CallbackAdminToggle = "adm_gift_toggle"
)

// Handler serves gift code events.
type Handler struct {
	service  *Service
	conv     *conversation.Store
	currency string
}

// NewHandler creates the gift code handler.
func NewHandler(service *Service, conv *conversation.Store, currency string) *Handler {
	return &Handler{service: service, conv: conv, currency: currency}
}

// Register binds the conversation steps owned by this handler.
func (h *Handler) Register(d *conversation.Dispatcher) {
	d.Register(conversation.StepGiftCode, h.stepGiftCode)
	d.Register(conversation.StepAdminGiftAmount, h.stepAdminGiftAmount)
}

// HandlePrompt asks for a code.
func (h *Handler) HandlePrompt(ctx context.Context, ev events.Event) events.Result {
	if err := h.conv.Set(ctx, ev.SenderID, conversation.StepGiftCode, ""); err != nil {
		return events.Fail(ev, err)
	}
	return events.Reply("🎁 Send your gift code.\n\n/cancel to stop.", events.BackRow())
}

// HandleRedeem serves /redeem <code>.
func (h *Handler) HandleRedeem(ctx context.Context, ev events.Event) events.Result {
	code := ev.Arg(0)
	if code == "" {
		return h.HandlePrompt(ctx, ev)
	}
	return h.redeem(ctx, ev, code)
}

func (h *Handler) stepGiftCode(ctx context.Context, ev events.Event, _ string) conversation.Outcome {
	code := strings.TrimSpace(ev.Text)
	if code == "" {
		return conversation.Stay(events.Reply("🎁 Send the code as text."))
	}
	res := h.redeem(ctx, ev, code)
	if _, err := h.service.Get(ctx, code); errors.Is(err, common.ErrCodeNotFound) {
		// Most likely a typo; let the user try again.
		return conversation.Stay(res.Add("Try again or /cancel."))
	}
	return conversation.Done(res)
}

func (h *Handler) redeem(ctx context.Context, ev events.Event, code string) events.Result {
	gc, err := h.service.Redeem(ctx, code, ev.SenderID)
	if err != nil {
		return events.Fail(ev, err)
	}
	return events.Reply(fmt.Sprintf("🎉 Gift code <b>%s</b> redeemed: %s",
		common.Escape(gc.Code), common.FormatSignedAmount(gc.Amount, h.currency)), events.BackRow())
}

// HandleAdminCreate starts gift code creation.
func (h *Handler) HandleAdminCreate(ctx context.Context, ev events.Event) events.Result {
	if err := h.conv.Set(ctx, ev.SenderID, conversation.StepAdminGiftAmount, ""); err != nil {
		return events.Fail(ev, err)
	}
	return events.Reply("🎁 Send: <code>amount [max_uses] [CODE]</code>\n\n"+
		"Examples:\n<code>10</code>: random code, unlimited uses\n<code>10 100 WELCOME10</code>",
		events.AdminBackRow())
}

func (h *Handler) stepAdminGiftAmount(ctx context.Context, ev events.Event, _ string) conversation.Outcome {
	fields := strings.Fields(ev.Text)
	if len(fields) == 0 {
		return conversation.Stay(events.Reply("❌ Send at least the amount."))
	}
	amount, err := common.ParseAmount(fields[0])
	if err != nil {
		return conversation.Stay(events.Fail(ev, err))
	}
	var maxUses int64
	if len(fields) > 1 {
		if maxUses, err = common.ParseNonNegative(fields[1]); err != nil {
			return conversation.Stay(events.Fail(ev, err))
		}
	}
	code := ""
	if len(fields) > 2 {
		code = fields[2]
	}

	gc, err := h.service.Create(ctx, amount, maxUses, code, ev.SenderID)
	if errors.Is(err, ErrCodeExists) {
		return conversation.Stay(events.Reply("❌ This code already exists, pick another one."))
	}
	if err != nil {
		return conversation.Done(events.Fail(ev, err))
	}
	return conversation.Done(events.Reply(fmt.Sprintf("✅ Gift code created: <code>%s</code>\n%s, %s",
		gc.Code, common.FormatBalance(gc.Amount, h.currency), usesLabel(gc)), events.AdminBackRow()))
}

// HandleAdminList shows existing codes with toggle buttons.
func (h *Handler) HandleAdminList(ctx context.Context, ev events.Event) events.Result {
	codes, err := h.service.List(ctx, 30)
	if err != nil {
		return events.Fail(ev, err)
	}
	if len(codes) == 0 {
		return events.Reply("No gift codes yet.", events.AdminBackRow())
	}
	var b strings.Builder
	b.WriteString("🎁 <b>Gift codes</b>\n\n")
	kb := make([][]events.Button, 0, len(codes)+1)
	for _, gc := range codes {
		state := "✅"
		label := "Disable "
		if gc.Disabled {
			state = "🚫"
			label = "Enable "
		}
		fmt.Fprintf(&b, "%s <code>%s</code> %s, %s\n", state, gc.Code, common.FormatBalance(gc.Amount, h.currency), usesLabel(&gc))
		kb = append(kb, events.Row(events.Btn(label+gc.Code, CallbackAdminToggle+":"+gc.Code)))
	}
	kb = append(kb, events.AdminBackRow())
	return events.Reply(b.String(), kb...)
}

// HandleAdminToggle switches a code on or off.
func (h *Handler) HandleAdminToggle(ctx context.Context, ev events.Event) events.Result {
	code, _ := ev.CallbackArg(CallbackAdminToggle)
	gc, err := h.service.Get(ctx, code)
	if err != nil {
		return events.Fail(ev, err)
	}
	if _, err := h.service.SetDisabled(ctx, code, !gc.Disabled); err != nil {
		return events.Fail(ev, err)
	}
	log.WithFields(log.Fields{"code": gc.Code, "disabled": !gc.Disabled, "admin_id": ev.SenderID}).Info("Gift code toggled")
	return h.HandleAdminList(ctx, ev).Toast("Saved")
}

func usesLabel(gc *Code) string {
	if gc.MaxUses == 0 {
		return fmt.Sprintf("used %d/∞", gc.UsedCount)
	}
	return fmt.Sprintf("used %d/%d", gc.UsedCount, gc.MaxUses)
}
