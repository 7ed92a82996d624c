// Package bot — router.go maps events to feature handlers. It holds every
// access rule that applies before a handler runs: blocked users, the
// maintenance and service switches, the mandatory channel join and the
// admin session check.
package bot

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/events"
	"serotonyl.ru/filegate-bot/internal/features/admin"
	"serotonyl.ru/filegate-bot/internal/features/content"
	"serotonyl.ru/filegate-bot/internal/features/conversation"
	"serotonyl.ru/filegate-bot/internal/features/gift"
	"serotonyl.ru/filegate-bot/internal/features/ledger"
	"serotonyl.ru/filegate-bot/internal/features/purchase"
	"serotonyl.ru/filegate-bot/internal/features/referral"
	"serotonyl.ru/filegate-bot/internal/features/settings"
	"serotonyl.ru/filegate-bot/internal/features/spend"
	"serotonyl.ru/filegate-bot/internal/features/tickets"
	"serotonyl.ru/filegate-bot/internal/features/users"
)

// Callbacks handled by the router itself.
const (
	CallbackJoinCheck = "join_check"
	CallbackUpdate    = "update"
	CallbackMyFiles   = "myfiles"

	startGetPrefix = "get_"
)

// JoinGate is the mandatory channel check.
type JoinGate interface {
	Missing(ctx context.Context, userID int64) []int64
	Forget(userID int64)
}

// Deps wires the router to the feature layer.
type Deps struct {
	Users      *users.Service
	Settings   *settings.Service
	Referral   *referral.Service
	Dispatcher *conversation.Dispatcher
	Join       JoinGate

	Account  *ledger.Handler
	Content  *content.Handler
	Spend    *spend.Handler
	Gift     *gift.Handler
	Purchase *purchase.Handler
	Referrer *referral.Handler
	Tickets  *tickets.Handler
	Admin    *admin.Handler

	// JoinInviteURL is shown as a button on the join prompt.
	JoinInviteURL string
	// ReferralAutoCredit pays referrers as soon as the referred user
	// passes the join check.
	ReferralAutoCredit bool
}

type route struct {
	handler events.HandlerFunc
	admin   bool
}

// Router turns one Event into one Result.
type Router struct {
	Deps
	commands  map[string]route
	callbacks map[string]route
}

// NewRouter builds the routing tables and registers every conversation step.
func NewRouter(d Deps) *Router {
	r := &Router{
		Deps:      d,
		commands:  make(map[string]route),
		callbacks: make(map[string]route),
	}

	d.Content.Register(d.Dispatcher)
	d.Spend.Register(d.Dispatcher)
	d.Gift.Register(d.Dispatcher)
	d.Purchase.Register(d.Dispatcher)
	d.Tickets.Register(d.Dispatcher)
	d.Admin.Register(d.Dispatcher)
	d.Dispatcher.SetGuard(d.Admin.Guard)

	// User commands
	r.command("help", r.handleHelp)
	r.command("balance", d.Account.HandleBalance)
	r.command("send", d.Account.HandleSend)
	r.command("get", d.Spend.HandleGet)
	r.command("redeem", d.Gift.HandleRedeem)
	r.command("buy", d.Purchase.HandleStart)
	r.command("item", d.Content.HandleItem)
	r.command("myfiles", d.Content.HandleMyFiles)
	r.command("login", d.Admin.HandleLogin)
	r.command("logout", d.Admin.HandleLogout)

	// Admin commands
	for _, c := range []string{"freeze", "unfreeze", "block", "unblock"} {
		r.adminCommand(c, d.Admin.HandleModeration)
	}

	// User callbacks
	r.callback(events.CallbackBackMain, r.handleMenu)
	r.callback(CallbackUpdate, r.handleCancel)
	r.callback(CallbackMyFiles, d.Content.HandleMyFiles)
	r.callback(ledger.CallbackAccount, d.Account.HandleAccount)
	r.callback(referral.CallbackPage, d.Referrer.HandlePage)
	r.callback(gift.CallbackPrompt, d.Gift.HandlePrompt)
	r.callback(spend.CallbackRedeemToken, d.Spend.HandleTokenPrompt)
	r.callback(spend.CallbackSpendOK, d.Spend.HandleSpendOK)
	r.callback(spend.CallbackSpendNo, d.Spend.HandleSpendNo)
	r.callback(purchase.CallbackStart, d.Purchase.HandleStart)
	r.callback(purchase.CallbackPlan, d.Purchase.HandlePlan)
	r.callback(purchase.CallbackCustom, d.Purchase.HandleCustom)
	r.callback(tickets.CallbackNew, d.Tickets.HandleNew)
	r.callback(content.CallbackItem, d.Content.HandleItem)
	for _, c := range []string{
		content.CallbackItemPrice, content.CallbackItemQuota, content.CallbackItemToggle,
		content.CallbackItemDelete, content.CallbackItemReplace, content.CallbackItemRemove,
	} {
		r.callback(c, d.Content.HandleItemAction)
	}

	// Admin panel
	r.callback(events.CallbackAdmin, d.Admin.HandlePanel)
	r.adminCallback(admin.CallbackUpload, d.Admin.HandleUpload)
	r.adminCallback(admin.CallbackFiles, d.Admin.HandleFiles)
	r.adminCallback(admin.CallbackCredit, d.Admin.HandleCredit)
	r.adminCallback(admin.CallbackDebit, d.Admin.HandleDebit)
	r.adminCallback(admin.CallbackCoinPrice, d.Admin.HandleCoinPrice)
	r.adminCallback(admin.CallbackToggleService, d.Admin.HandleToggleService)
	r.adminCallback(admin.CallbackToggleUpdate, d.Admin.HandleToggleUpdate)
	r.adminCallback(admin.CallbackStats, d.Admin.HandleStats)
	r.adminCallback(gift.CallbackAdminCreate, d.Gift.HandleAdminCreate)
	r.adminCallback(gift.CallbackAdminList, d.Gift.HandleAdminList)
	r.adminCallback(gift.CallbackAdminToggle, d.Gift.HandleAdminToggle)
	r.adminCallback(purchase.CallbackAdminList, d.Purchase.HandleAdminList)
	r.adminCallback(purchase.CallbackApprove, d.Purchase.HandleApprove)
	r.adminCallback(purchase.CallbackReject, d.Purchase.HandleReject)
	r.adminCallback(referral.CallbackAdminList, d.Referrer.HandleAdminList)
	r.adminCallback(referral.CallbackApprove, d.Referrer.HandleApprove)
	r.adminCallback(tickets.CallbackAdminList, d.Tickets.HandleAdminList)
	r.adminCallback(tickets.CallbackClose, d.Tickets.HandleClose)

	if missing := d.Dispatcher.Unhandled(); len(missing) > 0 {
		log.WithField("steps", missing).Warn("conversation steps without handler")
	}
	return r
}

func (r *Router) command(name string, h events.HandlerFunc) {
	r.commands[name] = route{handler: h}
}

func (r *Router) adminCommand(name string, h events.HandlerFunc) {
	r.commands[name] = route{handler: h, admin: true}
}

func (r *Router) callback(action string, h events.HandlerFunc) {
	r.callbacks[action] = route{handler: h}
}

func (r *Router) adminCallback(action string, h events.HandlerFunc) {
	r.callbacks[action] = route{handler: h, admin: true}
}

// Handle processes one event.
func (r *Router) Handle(ctx context.Context, ev events.Event) events.Result {
	u, created, err := r.Users.EnsureUser(ctx, ev.SenderID, ev.SenderName)
	if err != nil {
		return events.Fail(ev, err)
	}
	r.Settings.Bump(ctx, settings.CounterUpdates)

	isAdmin := r.Admin.Service.IsAdmin(ev.SenderID)
	if u.Blocked && !isAdmin {
		log.WithField("user_id", ev.SenderID).Debug("blocked user ignored")
		return events.Result{}
	}

	if !isAdmin {
		s, err := r.Settings.Get(ctx)
		if err != nil {
			return events.Fail(ev, err)
		}
		if s.UpdateMode {
			return events.Reply("🛠 The bot is being updated. Please try again later.").Toast("Updating")
		}
	}

	if ev.Type == events.TypeCommand && ev.Command == "start" && created {
		r.attachReferrer(ctx, ev)
	}

	if !isAdmin {
		if ev.Type == events.TypeCallback && ev.CallbackData == CallbackJoinCheck {
			return r.handleJoinCheck(ctx, ev)
		}
		if missing := r.Join.Missing(ctx, ev.SenderID); len(missing) > 0 {
			return r.joinPrompt().Toast("Join the channels first")
		}
	}

	switch ev.Type {
	case events.TypeCommand:
		return r.handleCommand(ctx, ev)
	case events.TypeCallback:
		return r.handleCallback(ctx, ev)
	default:
		return r.handleInput(ctx, ev, isAdmin)
	}
}

func (r *Router) handleCommand(ctx context.Context, ev events.Event) events.Result {
	switch ev.Command {
	case "start":
		return r.handleStart(ctx, ev)
	case "cancel", "update":
		return r.handleCancel(ctx, ev)
	}
	rt, ok := r.commands[ev.Command]
	if !ok {
		return r.handleMenu(ctx, ev)
	}
	return r.run(ctx, ev, rt)
}

func (r *Router) handleCallback(ctx context.Context, ev events.Event) events.Result {
	action, _, _ := strings.Cut(ev.CallbackData, ":")
	rt, ok := r.callbacks[action]
	if !ok {
		log.WithField("callback", ev.CallbackData).Debug("unknown callback")
		return events.Result{}.Toast("Unknown action")
	}
	return r.run(ctx, ev, rt)
}

// handleInput routes free text and attachments: an active conversation step
// wins, otherwise attachments become uploads.
func (r *Router) handleInput(ctx context.Context, ev events.Event, isAdmin bool) events.Result {
	res, handled, err := r.Dispatcher.Dispatch(ctx, ev)
	if err != nil {
		return events.Fail(ev, err)
	}
	if handled {
		return res
	}

	if ev.Attachment == nil {
		return r.handleMenu(ctx, ev)
	}
	if !isAdmin {
		s, err := r.Settings.Get(ctx)
		if err != nil {
			return events.Fail(ev, err)
		}
		if !s.Enabled() {
			return events.Reply("⏸ Uploads are temporarily disabled. Please try again later.")
		}
	}
	return r.Content.HandleUpload(ctx, ev)
}

func (r *Router) run(ctx context.Context, ev events.Event, rt route) events.Result {
	if rt.admin {
		if err := r.Admin.Service.Authorize(ctx, ev.SenderID); err != nil {
			if errors.Is(err, common.ErrSessionExpired) {
				return r.Admin.HandlePanel(ctx, ev)
			}
			return events.Fail(ev, err)
		}
	}
	return rt.handler(ctx, ev)
}

// handleStart serves /start, /start <referrer_id> and /start get_<token>.
func (r *Router) handleStart(ctx context.Context, ev events.Event) events.Result {
	r.qualifyReferral(ctx, ev.SenderID)
	if token, ok := strings.CutPrefix(ev.Arg(0), startGetPrefix); ok && token != "" {
		return r.Spend.Request(ctx, ev, token)
	}
	return r.mainMenu(ev.SenderID, "👋 Welcome! Choose an option:")
}

func (r *Router) attachReferrer(ctx context.Context, ev events.Event) {
	referrerID, ok := common.ParseUserID(ev.Arg(0))
	if !ok {
		return
	}
	attached, err := r.Users.AttachReferrer(ctx, ev.SenderID, referrerID)
	if err != nil {
		log.WithError(err).WithField("user_id", ev.SenderID).Warn("referrer attach failed")
		return
	}
	if attached {
		log.WithFields(log.Fields{"user_id": ev.SenderID, "referrer_id": referrerID}).Info("Referrer attached")
	}
}

// qualifyReferral pays the referrer once the referred user passed the
// join check, when auto credit is enabled.
func (r *Router) qualifyReferral(ctx context.Context, userID int64) {
	if !r.ReferralAutoCredit {
		return
	}
	referrerID, err := r.Referral.Qualify(ctx, userID)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("referral qualification failed")
		return
	}
	if referrerID != 0 {
		r.Referrer.NotifyReferrer(referrerID)
	}
}

func (r *Router) handleJoinCheck(ctx context.Context, ev events.Event) events.Result {
	r.Join.Forget(ev.SenderID)
	if missing := r.Join.Missing(ctx, ev.SenderID); len(missing) > 0 {
		return events.Result{}.Toast("You have not joined all channels yet")
	}
	r.qualifyReferral(ctx, ev.SenderID)
	return r.mainMenu(ev.SenderID, "✅ Membership confirmed. Main menu:").Toast("Confirmed")
}

func (r *Router) joinPrompt() events.Result {
	var kb [][]events.Button
	if r.JoinInviteURL != "" {
		kb = append(kb, events.Row(events.LinkBtn("📢 Join the channel", r.JoinInviteURL)))
	}
	kb = append(kb, events.Row(events.Btn("✅ Check membership", CallbackJoinCheck)))
	return events.Reply("To use the bot, join the required channels first and press the check button:", kb...)
}

func (r *Router) handleCancel(ctx context.Context, ev events.Event) events.Result {
	if err := r.Dispatcher.Store().Clear(ctx, ev.SenderID); err != nil {
		return events.Fail(ev, err)
	}
	return r.mainMenu(ev.SenderID, "Main menu:")
}

func (r *Router) handleMenu(_ context.Context, ev events.Event) events.Result {
	return r.mainMenu(ev.SenderID, "Main menu:")
}

func (r *Router) handleHelp(_ context.Context, ev events.Event) events.Result {
	text := "ℹ️ <b>Commands</b>\n\n" +
		"/get &lt;token&gt; get a file\n" +
		"/redeem &lt;code&gt; use a gift code\n" +
		"/balance show your balance\n" +
		"/send &lt;user_id&gt; &lt;amount&gt; send coins\n" +
		"/buy buy coins\n" +
		"/myfiles your uploads\n" +
		"/cancel stop the current action\n\n" +
		"Send any file to share it."
	return events.Reply(text, events.BackRow())
}

func (r *Router) mainMenu(userID int64, text string) events.Result {
	kb := [][]events.Button{
		events.Row(events.Btn("👤 Account", ledger.CallbackAccount), events.Btn("👥 Invite friends", referral.CallbackPage)),
		events.Row(events.Btn("🎁 Gift code", gift.CallbackPrompt), events.Btn("🔑 Get by token", spend.CallbackRedeemToken)),
		events.Row(events.Btn("🪙 Buy coins", purchase.CallbackStart), events.Btn("📂 My files", CallbackMyFiles)),
	}
	if r.Admin.Service.IsAdmin(userID) {
		kb = append(kb, events.Row(events.Btn("🛠 Admin panel", events.CallbackAdmin)))
	}
	return events.Reply(text, kb...)
}
