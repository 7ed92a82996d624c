// Package referral — handlers.go shows the user's referral page and lets
// admins approve pending rewards by hand.
package referral

import (
	"context"
	"fmt"
	"strings"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/events"
	"serotonyl.ru/filegate-bot/internal/features/users"
)

// Callback actions.
const (
	CallbackPage      = "referrals"
	CallbackAdminList = "adm_refs"
	CallbackApprove   = "adm_ref_ok"
)

// Handler serves referral events.
type Handler struct {
	service  *Service
	users    *users.Service
	notifier events.Notifier
	currency string
	botName  string
}

// NewHandler creates the referral handler. botName is the bot username
// without @.
func NewHandler(service *Service, usersSvc *users.Service, notifier events.Notifier, currency, botName string) *Handler {
	return &Handler{service: service, users: usersSvc, notifier: notifier, currency: currency, botName: botName}
}

// Link returns the invitation link of userID.
func (h *Handler) Link(userID int64) string {
	if h.botName == "" {
		return fmt.Sprintf("/start %d", userID)
	}
	return fmt.Sprintf("https://t.me/%s?start=%d", h.botName, userID)
}

// HandlePage shows the referral link and counters.
func (h *Handler) HandlePage(ctx context.Context, ev events.Event) events.Result {
	u, err := h.users.Get(ctx, ev.SenderID)
	if err != nil {
		return events.Fail(ev, err)
	}
	text := fmt.Sprintf(
		"👥 <b>Referral program</b>\n\n"+
			"Invite friends and get %s for each one who joins the channel.\n\n"+
			"Your link:\n<code>%s</code>\n\n"+
			"Invited: <b>%d</b>",
		common.FormatBalance(h.service.Reward(), h.currency),
		h.Link(u.ID),
		u.ReferralCount,
	)
	return events.Reply(text, events.BackRow())
}

// HandleAdminList shows referred users whose referrer is not rewarded yet.
func (h *Handler) HandleAdminList(ctx context.Context, ev events.Event) events.Result {
	pending, err := h.users.ListPendingReferrals(ctx, 10)
	if err != nil {
		return events.Fail(ev, err)
	}
	if len(pending) == 0 {
		return events.Reply("No pending referrals.", events.AdminBackRow())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "👥 <b>Pending referrals: %d</b>\n\n", len(pending))
	kb := make([][]events.Button, 0, len(pending)+1)
	for _, u := range pending {
		fmt.Fprintf(&b, "• <code>%d</code> %s, invited by <code>%d</code>\n", u.ID, common.Escape(u.Name), u.ReferrerID)
		kb = append(kb, events.Row(events.Btn(fmt.Sprintf("✅ Credit for %d", u.ID), fmt.Sprintf("%s:%d", CallbackApprove, u.ID))))
	}
	kb = append(kb, events.AdminBackRow())
	return events.Reply(b.String(), kb...)
}

// HandleApprove serves adm_ref_ok:{referred_id}.
func (h *Handler) HandleApprove(ctx context.Context, ev events.Event) events.Result {
	arg, _ := ev.CallbackArg(CallbackApprove)
	referredID, ok := common.ParseUserID(arg)
	if !ok {
		return events.Fail(ev, common.ErrNotFound)
	}
	referrerID, err := h.service.Qualify(ctx, referredID)
	if err != nil {
		return events.Fail(ev, err)
	}
	if referrerID == 0 {
		return events.Reply("Nothing to credit: the reward was already paid.", events.AdminBackRow()).Toast("Already credited")
	}
	h.NotifyReferrer(referrerID)
	return events.Reply(fmt.Sprintf("✅ Referrer <code>%d</code> credited.", referrerID), events.AdminBackRow()).Toast("Credited")
}

// NotifyReferrer tells the referrer about the reward.
func (h *Handler) NotifyReferrer(referrerID int64) {
	h.notifier.NotifyUser(referrerID, fmt.Sprintf("🎉 Your friend joined! %s",
		common.FormatSignedAmount(h.service.Reward(), h.currency)))
}
