// Package admin — handlers.go serves the admin panel.
// Flow: login (when a password is configured) → panel buttons → step dialog.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/events"
	"serotonyl.ru/filegate-bot/internal/features/content"
	"serotonyl.ru/filegate-bot/internal/features/conversation"
	"serotonyl.ru/filegate-bot/internal/features/ledger"
	"serotonyl.ru/filegate-bot/internal/features/settings"
	"serotonyl.ru/filegate-bot/internal/features/users"
)

// Callback actions of the panel.
const (
	CallbackUpload        = "adm_upload"
	CallbackCredit        = "adm_credit"
	CallbackDebit         = "adm_debit"
	CallbackCoinPrice     = "adm_coin_price"
	CallbackToggleService = "adm_toggle_service"
	CallbackToggleUpdate  = "adm_toggle_update"
	CallbackStats         = "adm_stats"
	CallbackFiles         = "adm_files"
)

// Deps are the services the panel drives.
type Deps struct {
	Service  *Service
	Conv     *conversation.Store
	Content  *content.Service
	Items    *content.Handler
	Ledger   *ledger.Service
	Users    *users.Service
	Settings *settings.Service
	Notifier events.Notifier
	Currency string
}

// Handler serves admin events.
type Handler struct {
	Deps
}

// NewHandler creates the admin panel handler.
func NewHandler(d Deps) *Handler {
	return &Handler{Deps: d}
}

// Register binds the panel's conversation steps.
func (h *Handler) Register(d *conversation.Dispatcher) {
	d.Register(conversation.StepAdminPassword, h.stepPassword)
	d.Register(conversation.StepAdminUploadFile, h.stepUploadFile)
	d.Register(conversation.StepAdminUploadPrice, h.stepUploadPrice)
	d.Register(conversation.StepAdminUploadLimit, h.stepUploadLimit)
	d.Register(conversation.StepAdminCreditUser, h.stepBalanceUser(conversation.StepAdminCreditAmount))
	d.Register(conversation.StepAdminCreditAmount, h.stepCreditAmount)
	d.Register(conversation.StepAdminDebitUser, h.stepBalanceUser(conversation.StepAdminDebitAmount))
	d.Register(conversation.StepAdminDebitAmount, h.stepDebitAmount)
	d.Register(conversation.StepAdminCoinPrice, h.stepCoinPrice)
}

// Guard vetoes admin-only steps for users without a valid session.
func (h *Handler) Guard(ctx context.Context, userID int64, step conversation.Step) error {
	if !step.AdminOnly() {
		return nil
	}
	return h.Service.Authorize(ctx, userID)
}

// HandlePanel shows the panel, asking for the password first when needed.
func (h *Handler) HandlePanel(ctx context.Context, ev events.Event) events.Result {
	err := h.Service.Authorize(ctx, ev.SenderID)
	switch {
	case err == nil:
		return h.panel(ctx, ev)
	case errors.Is(err, common.ErrSessionExpired):
		if err := h.Conv.Set(ctx, ev.SenderID, conversation.StepAdminPassword, ""); err != nil {
			return events.Fail(ev, err)
		}
		return events.Reply("🔐 Enter the admin password:\n\n/cancel to stop.")
	default:
		return events.Fail(ev, err)
	}
}

// HandleLogin serves /login <password>.
func (h *Handler) HandleLogin(ctx context.Context, ev events.Event) events.Result {
	if ev.Arg(0) == "" {
		return h.HandlePanel(ctx, ev)
	}
	if err := h.Service.Login(ctx, ev.SenderID, ev.Arg(0)); err != nil {
		return events.Fail(ev, err)
	}
	return h.panel(ctx, ev)
}

// HandleLogout serves /logout.
func (h *Handler) HandleLogout(ctx context.Context, ev events.Event) events.Result {
	if !h.Service.IsAdmin(ev.SenderID) {
		return events.Fail(ev, common.ErrNotAdmin)
	}
	if err := h.Service.Logout(ctx, ev.SenderID); err != nil {
		return events.Fail(ev, err)
	}
	return events.Reply("👋 Logged out.", events.BackRow())
}

func (h *Handler) stepPassword(ctx context.Context, ev events.Event, _ string) conversation.Outcome {
	if err := h.Service.Login(ctx, ev.SenderID, strings.TrimSpace(ev.Text)); err != nil {
		return conversation.Done(events.Fail(ev, err))
	}
	return conversation.Done(h.panel(ctx, ev).Add("✅ Logged in."))
}

func (h *Handler) panel(ctx context.Context, ev events.Event) events.Result {
	s, err := h.Settings.Get(ctx)
	if err != nil {
		return events.Fail(ev, err)
	}
	service := "🟢 Service: on"
	if !s.Enabled() {
		service = "🔴 Service: off"
	}
	update := "🛠 Update mode: off"
	if s.UpdateMode {
		update = "🛠 Update mode: on"
	}
	return events.Reply("🛡 <b>Admin panel</b>",
		events.Row(events.Btn("📤 Upload", CallbackUpload), events.Btn("📂 Files", CallbackFiles)),
		events.Row(events.Btn("➕ Credit", CallbackCredit), events.Btn("➖ Debit", CallbackDebit)),
		events.Row(events.Btn("🎁 New gift code", "adm_gift"), events.Btn("🎟 Gift codes", "adm_gifts")),
		events.Row(events.Btn("🧾 Payments", "adm_purchases"), events.Btn("💵 Coin price", CallbackCoinPrice)),
		events.Row(events.Btn("👥 Referrals", "adm_refs"), events.Btn("🆘 Tickets", "adm_tickets")),
		events.Row(events.Btn(service, CallbackToggleService), events.Btn(update, CallbackToggleUpdate)),
		events.Row(events.Btn("📊 Stats", CallbackStats)),
		events.BackRow(),
	)
}

// HandleToggleService switches uploads for non-admins on and off.
func (h *Handler) HandleToggleService(ctx context.Context, ev events.Event) events.Result {
	s, err := h.Settings.ToggleService(ctx)
	if err != nil {
		return events.Fail(ev, err)
	}
	log.WithFields(log.Fields{"admin_id": ev.SenderID, "enabled": s.Enabled()}).Info("Service toggled")
	return h.panel(ctx, ev).Toast("Saved")
}

// HandleToggleUpdate switches maintenance mode.
func (h *Handler) HandleToggleUpdate(ctx context.Context, ev events.Event) events.Result {
	s, err := h.Settings.ToggleUpdateMode(ctx)
	if err != nil {
		return events.Fail(ev, err)
	}
	log.WithFields(log.Fields{"admin_id": ev.SenderID, "update_mode": s.UpdateMode}).Info("Update mode toggled")
	return h.panel(ctx, ev).Toast("Saved")
}

// HandleStats shows the global counters.
func (h *Handler) HandleStats(ctx context.Context, ev events.Event) events.Result {
	st, err := h.Settings.Stats(ctx)
	if err != nil {
		return events.Fail(ev, err)
	}
	s, err := h.Settings.Get(ctx)
	if err != nil {
		return events.Fail(ev, err)
	}
	text := fmt.Sprintf("📊 <b>Statistics</b>\n\n"+
		"👤 Users: <b>%s</b>\n"+
		"📁 Files: <b>%s</b>\n"+
		"📥 Downloads: <b>%s</b>\n"+
		"🔄 Updates: <b>%s</b>\n"+
		"💵 Coin price: <b>%s</b>",
		common.FormatNumber(st.Users), common.FormatNumber(st.Files),
		common.FormatNumber(st.Downloads), common.FormatNumber(st.Updates),
		common.FormatNumber(s.PricePerCoin))
	return events.Reply(text, events.AdminBackRow())
}

// HandleFiles lists the newest items of every owner.
func (h *Handler) HandleFiles(ctx context.Context, ev events.Event) events.Result {
	items, err := h.Content.List(ctx, 20)
	if err != nil {
		return events.Fail(ev, err)
	}
	if len(items) == 0 {
		return events.Reply("No files yet.", events.AdminBackRow())
	}
	kb := make([][]events.Button, 0, len(items)+1)
	for _, it := range items {
		label := fmt.Sprintf("%s · %d", common.Truncate(it.FileName+" "+string(it.Kind), 24), it.OwnerID)
		kb = append(kb, events.Row(events.Btn(label, content.CallbackItem+":"+it.Token)))
	}
	kb = append(kb, events.AdminBackRow())
	return events.Reply(fmt.Sprintf("📂 <b>Latest files: %d</b>", len(items)), kb...)
}

// --- Upload: file → price → limit ---

// uploadDraft travels in the conversation payload between upload steps.
type uploadDraft struct {
	Kind     events.Kind `json:"kind"`
	Ref      string      `json:"ref,omitempty"`
	FileName string      `json:"file_name,omitempty"`
	Text     string      `json:"text,omitempty"`
	Price    int64       `json:"price"`
}

func (d uploadDraft) encode() string {
	b, _ := json.Marshal(d)
	return string(b)
}

func decodeDraft(payload string) (uploadDraft, error) {
	var d uploadDraft
	err := json.Unmarshal([]byte(payload), &d)
	return d, err
}

// HandleUpload starts the upload dialog.
func (h *Handler) HandleUpload(ctx context.Context, ev events.Event) events.Result {
	if err := h.Conv.Set(ctx, ev.SenderID, conversation.StepAdminUploadFile, ""); err != nil {
		return events.Fail(ev, err)
	}
	return events.Reply("📤 Send a file, a photo, a link or a text.\n\n/cancel to stop.")
}

func (h *Handler) stepUploadFile(_ context.Context, ev events.Event, _ string) conversation.Outcome {
	var d uploadDraft
	switch {
	case ev.Attachment != nil:
		d = uploadDraft{Kind: ev.Attachment.Kind, Ref: ev.Attachment.PayloadRef, FileName: ev.Attachment.FileName, Text: ev.Text}
	case isLink(ev.Text):
		d = uploadDraft{Kind: events.KindLink, Text: strings.TrimSpace(ev.Text)}
	case strings.TrimSpace(ev.Text) != "":
		d = uploadDraft{Kind: events.KindText, Text: strings.TrimSpace(ev.Text)}
	default:
		return conversation.Stay(events.Fail(ev, common.ErrPayloadRequired))
	}
	return conversation.Advance(
		events.Reply(fmt.Sprintf("💰 Price in %s? Send 0 for a free file.", h.currencyLabel())),
		conversation.StepAdminUploadPrice, d.encode(),
	)
}

func (h *Handler) stepUploadPrice(_ context.Context, ev events.Event, payload string) conversation.Outcome {
	d, err := decodeDraft(payload)
	if err != nil {
		return conversation.Done(events.Reply("⚠️ Upload expired, start again.", events.AdminBackRow()))
	}
	price, err := common.ParseNonNegative(ev.Text)
	if err != nil {
		return conversation.Stay(events.Reply("❌ Send a number, for example 5."))
	}
	d.Price = price
	return conversation.Advance(
		events.Reply("📥 Download limit? Send 0 for unlimited."),
		conversation.StepAdminUploadLimit, d.encode(),
	)
}

func (h *Handler) stepUploadLimit(ctx context.Context, ev events.Event, payload string) conversation.Outcome {
	d, err := decodeDraft(payload)
	if err != nil {
		return conversation.Done(events.Reply("⚠️ Upload expired, start again.", events.AdminBackRow()))
	}
	limit, err := common.ParseNonNegative(ev.Text)
	if err != nil {
		return conversation.Stay(events.Reply("❌ Send a number, for example 10 (0 means unlimited)."))
	}
	it, err := h.Content.CreateItem(ctx, ev.SenderID, d.Kind, d.Ref, d.Price, limit,
		content.WithFileName(d.FileName), content.WithText(d.Text))
	if err != nil {
		return conversation.Done(events.Fail(ev, err))
	}
	log.WithFields(log.Fields{"admin_id": ev.SenderID, "token": it.Token, "price": it.Price}).Info("Item uploaded")
	return conversation.Done(h.Items.Card(it))
}

// --- Manual balance changes: user → amount ---

// HandleCredit starts a manual credit.
func (h *Handler) HandleCredit(ctx context.Context, ev events.Event) events.Result {
	return h.askUser(ctx, ev, conversation.StepAdminCreditUser, "➕ Send the user id to credit.")
}

// HandleDebit starts a manual debit.
func (h *Handler) HandleDebit(ctx context.Context, ev events.Event) events.Result {
	return h.askUser(ctx, ev, conversation.StepAdminDebitUser, "➖ Send the user id to debit.")
}

func (h *Handler) askUser(ctx context.Context, ev events.Event, step conversation.Step, prompt string) events.Result {
	if err := h.Conv.Set(ctx, ev.SenderID, step, ""); err != nil {
		return events.Fail(ev, err)
	}
	return events.Reply(prompt + "\n\n/cancel to stop.")
}

func (h *Handler) stepBalanceUser(next conversation.Step) conversation.Handler {
	return func(ctx context.Context, ev events.Event, _ string) conversation.Outcome {
		uid, ok := common.ParseUserID(ev.Text)
		if !ok {
			return conversation.Stay(events.Reply("❌ Send a numeric user id."))
		}
		u, err := h.Users.Get(ctx, uid)
		if err != nil {
			return conversation.Stay(events.Fail(ev, err))
		}
		text := fmt.Sprintf("👤 <code>%d</code> %s\n💰 Balance: %s\n\nHow much?",
			u.ID, common.Escape(u.Name), common.FormatBalance(u.Balance, h.Currency))
		return conversation.Advance(events.Reply(text), next, fmt.Sprint(uid))
	}
}

func (h *Handler) stepCreditAmount(ctx context.Context, ev events.Event, payload string) conversation.Outcome {
	uid, amount, res, ok := h.parseBalanceStep(ev, payload)
	if !ok {
		return res
	}
	balance, err := h.Ledger.Credit(ctx, uid, amount)
	if err != nil {
		return conversation.Done(events.Fail(ev, err))
	}
	log.WithFields(log.Fields{"admin_id": ev.SenderID, "user_id": uid, "amount": amount}).Info("Manual credit")
	h.Notifier.NotifyUser(uid, fmt.Sprintf("💰 Your balance was topped up: %s", common.FormatSignedAmount(amount, h.Currency)))
	return conversation.Done(events.Reply(fmt.Sprintf("✅ Credited. New balance of <code>%d</code>: %s",
		uid, common.FormatBalance(balance, h.Currency)), events.AdminBackRow()))
}

func (h *Handler) stepDebitAmount(ctx context.Context, ev events.Event, payload string) conversation.Outcome {
	uid, amount, res, ok := h.parseBalanceStep(ev, payload)
	if !ok {
		return res
	}
	balance, err := h.Ledger.Debit(ctx, uid, amount)
	if err != nil {
		return conversation.Done(events.Fail(ev, err))
	}
	log.WithFields(log.Fields{"admin_id": ev.SenderID, "user_id": uid, "amount": amount}).Info("Manual debit")
	return conversation.Done(events.Reply(fmt.Sprintf("✅ Debited. New balance of <code>%d</code>: %s",
		uid, common.FormatBalance(balance, h.Currency)), events.AdminBackRow()))
}

func (h *Handler) parseBalanceStep(ev events.Event, payload string) (int64, int64, conversation.Outcome, bool) {
	uid, ok := common.ParseUserID(payload)
	if !ok {
		return 0, 0, conversation.Done(events.Reply("⚠️ Start again from the panel.", events.AdminBackRow())), false
	}
	amount, err := common.ParseAmount(ev.Text)
	if err != nil {
		return 0, 0, conversation.Stay(events.Fail(ev, err)), false
	}
	return uid, amount, conversation.Outcome{}, true
}

// --- Coin price ---

// HandleCoinPrice asks for the fiat price of one coin.
func (h *Handler) HandleCoinPrice(ctx context.Context, ev events.Event) events.Result {
	s, err := h.Settings.Get(ctx)
	if err != nil {
		return events.Fail(ev, err)
	}
	if err := h.Conv.Set(ctx, ev.SenderID, conversation.StepAdminCoinPrice, ""); err != nil {
		return events.Fail(ev, err)
	}
	return events.Reply(fmt.Sprintf("💵 Current price of one coin: <b>%s</b>\nSend the new price.\n\n/cancel to stop.",
		common.FormatNumber(s.PricePerCoin)))
}

func (h *Handler) stepCoinPrice(ctx context.Context, ev events.Event, _ string) conversation.Outcome {
	price, err := common.ParseNonNegative(ev.Text)
	if err != nil {
		return conversation.Stay(events.Reply("❌ Send a number, for example 100."))
	}
	if _, err := h.Settings.SetPricePerCoin(ctx, price); err != nil {
		return conversation.Done(events.Fail(ev, err))
	}
	log.WithFields(log.Fields{"admin_id": ev.SenderID, "price": price}).Info("Coin price changed")
	return conversation.Done(events.Reply("✅ Coin price saved.", events.AdminBackRow()))
}

// --- Moderation commands ---

// HandleModeration serves /freeze, /unfreeze, /block and /unblock <user_id>.
func (h *Handler) HandleModeration(ctx context.Context, ev events.Event) events.Result {
	uid, ok := common.ParseUserID(ev.Arg(0))
	if !ok {
		return events.Reply(fmt.Sprintf("Usage: /%s <user_id>", ev.Command))
	}

	var (
		u   *users.User
		err error
	)
	switch ev.Command {
	case "freeze":
		u, err = h.Users.SetFrozen(ctx, uid, true)
	case "unfreeze":
		u, err = h.Users.SetFrozen(ctx, uid, false)
	case "block":
		u, err = h.Users.SetBlocked(ctx, uid, true)
	case "unblock":
		u, err = h.Users.SetBlocked(ctx, uid, false)
	default:
		return events.Reply("Unknown command.")
	}
	if err != nil {
		return events.Fail(ev, err)
	}

	log.WithFields(log.Fields{
		"admin_id": ev.SenderID,
		"user_id":  uid,
		"action":   ev.Command,
	}).Info("Moderation action")
	return events.Reply(fmt.Sprintf("✅ <code>%d</code>: frozen=%t, blocked=%t", u.ID, u.Frozen, u.Blocked))
}

func (h *Handler) currencyLabel() string {
	if h.Currency == "" {
		return "coins"
	}
	return h.Currency
}

func isLink(s string) bool {
	s = strings.TrimSpace(s)
	return !strings.ContainsAny(s, " \n") &&
		(strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://"))
}
