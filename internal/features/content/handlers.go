// Package content — handlers.go lets owners upload and manage their items:
// /item, /myfiles, uploads and the itm_* buttons.
package content

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/events"
	"serotonyl.ru/filegate-bot/internal/features/conversation"
)

// Callback actions.
const (
	CallbackItem        = "itm"
	CallbackItemPrice   = "itm_price"
	CallbackItemQuota   = "itm_quota"
	CallbackItemToggle  = "itm_toggle"
	CallbackItemDelete  = "itm_dol"
	CallbackItemReplace = "itm_replace"
	CallbackItemRemove  = "itm_del"
)

// Handler serves content related events.
type Handler struct {
	service  *Service
	conv     *conversation.Store
	currency string
	baseURL  string
	botName  string
}

// NewHandler creates the content handler.
func NewHandler(service *Service, conv *conversation.Store, currency, baseURL, botName string) *Handler {
	return &Handler{
		service:  service,
		conv:     conv,
		currency: currency,
		baseURL:  strings.TrimRight(baseURL, "/"),
		botName:  botName,
	}
}

// Register binds the conversation steps owned by this handler.
func (h *Handler) Register(d *conversation.Dispatcher) {
	d.Register(conversation.StepAdminSetPrice, h.stepSetPrice)
	d.Register(conversation.StepAdminSetQuota, h.stepSetQuota)
	d.Register(conversation.StepAdminReplacePayload, h.stepReplacePayload)
}

// Delivery describes how to send it to chatID.
func Delivery(it *Item, chatID int64) *events.Delivery {
	return &events.Delivery{
		ChatID:     chatID,
		Kind:       it.Kind,
		PayloadRef: it.PayloadRef,
		FileName:   it.FileName,
		Caption:    it.Text,
	}
}

// HandleUpload stores an attachment sent outside any flow as a new free
// item owned by the sender.
func (h *Handler) HandleUpload(ctx context.Context, ev events.Event) events.Result {
	if ev.Attachment == nil {
		return events.Fail(ev, common.ErrPayloadRequired)
	}
	it, err := h.service.CreateItem(ctx, ev.SenderID, ev.Attachment.Kind, ev.Attachment.PayloadRef, 0, 0,
		WithFileName(ev.Attachment.FileName), WithText(ev.Text))
	if err != nil {
		return events.Fail(ev, err)
	}
	return events.Reply("✅ File saved.\n\n"+h.links(it), h.manageKeyboard(it)...)
}

// HandleItem shows an item with its management buttons (/item <token> or
// the itm:{token} button).
func (h *Handler) HandleItem(ctx context.Context, ev events.Event) events.Result {
	token := ev.Arg(0)
	if t, ok := ev.CallbackArg(CallbackItem); ok {
		token = t
	}
	if token == "" {
		return events.Reply("Usage: /item <token>")
	}
	it, err := h.service.GetItem(ctx, token)
	if err != nil {
		return events.Fail(ev, err)
	}
	if !h.service.CanManage(it, ev.SenderID) {
		return events.Fail(ev, common.ErrForbidden)
	}
	return h.Card(it)
}

// Card renders an item with its management buttons.
func (h *Handler) Card(it *Item) events.Result {
	return events.Reply(Describe(it)+"\n\n"+h.links(it), h.manageKeyboard(it)...)
}

// HandleMyFiles lists the sender's items.
func (h *Handler) HandleMyFiles(ctx context.Context, ev events.Event) events.Result {
	items, err := h.service.ListByOwner(ctx, ev.SenderID, 20)
	if err != nil {
		return events.Fail(ev, err)
	}
	if len(items) == 0 {
		return events.Reply("📂 You have no files yet. Send a document, photo or video to upload one.", events.BackRow())
	}
	var b strings.Builder
	b.WriteString("📂 <b>Your files</b>\n\n")
	kb := make([][]events.Button, 0, len(items)+1)
	for _, it := range items {
		fmt.Fprintf(&b, "• <code>%s</code> %s, %s\n", it.Token, kindLabel(&it), downloadsLabel(&it))
		kb = append(kb, events.Row(events.Btn(common.Truncate(titleOf(&it), 30), CallbackItem+":"+it.Token)))
	}
	kb = append(kb, events.BackRow())
	return events.Reply(b.String(), kb...)
}

// HandleItemAction serves the itm_* buttons.
func (h *Handler) HandleItemAction(ctx context.Context, ev events.Event) events.Result {
	action, token, _ := strings.Cut(ev.CallbackData, ":")
	it, err := h.service.GetItem(ctx, token)
	if err != nil {
		return events.Fail(ev, err)
	}
	if !h.service.CanManage(it, ev.SenderID) {
		return events.Fail(ev, common.ErrForbidden)
	}

	switch action {
	case CallbackItemPrice:
		h.setStep(ctx, ev.SenderID, conversation.StepAdminSetPrice, token)
		return events.Reply(fmt.Sprintf("💰 Send the new price in %s (0 makes the file free).", h.currency))
	case CallbackItemQuota:
		h.setStep(ctx, ev.SenderID, conversation.StepAdminSetQuota, token)
		return events.Reply("📥 Send the download limit (0 means unlimited).")
	case CallbackItemReplace:
		h.setStep(ctx, ev.SenderID, conversation.StepAdminReplacePayload, token)
		return events.Reply("📎 Send the new file. Token, price and counters stay the same.")
	case CallbackItemToggle:
		it, err = h.service.ToggleDisabled(ctx, token, ev.SenderID)
	case CallbackItemDelete:
		it, err = h.service.SetDeleteOnLimit(ctx, token, ev.SenderID, !it.DeleteOnLimit)
	case CallbackItemRemove:
		if err := h.service.Delete(ctx, token, ev.SenderID); err != nil {
			return events.Fail(ev, err)
		}
		return events.Reply("🗑 File deleted.", events.BackRow()).Toast("Deleted")
	default:
		return events.Reply("Unknown action.")
	}
	if err != nil {
		return events.Fail(ev, err)
	}
	return h.Card(it).Toast("Saved")
}

func (h *Handler) stepSetPrice(ctx context.Context, ev events.Event, token string) conversation.Outcome {
	price, err := common.ParseNonNegative(ev.Text)
	if err != nil {
		return conversation.Stay(events.Reply("❌ Send a number, for example 5."))
	}
	it, err := h.service.SetPrice(ctx, token, ev.SenderID, price)
	if err != nil {
		return conversation.Done(events.Fail(ev, err))
	}
	return conversation.Done(h.Card(it))
}

func (h *Handler) stepSetQuota(ctx context.Context, ev events.Event, token string) conversation.Outcome {
	limit, err := common.ParseNonNegative(ev.Text)
	if err != nil {
		return conversation.Stay(events.Reply("❌ Send a number, for example 10 (0 means unlimited)."))
	}
	it, err := h.service.SetQuota(ctx, token, ev.SenderID, limit)
	if err != nil {
		return conversation.Done(events.Fail(ev, err))
	}
	return conversation.Done(h.Card(it))
}

func (h *Handler) stepReplacePayload(ctx context.Context, ev events.Event, token string) conversation.Outcome {
	if ev.Attachment == nil {
		return conversation.Stay(events.Fail(ev, common.ErrPayloadRequired))
	}
	it, err := h.service.ReplacePayload(ctx, token, ev.SenderID, ev.Attachment.Kind, ev.Attachment.PayloadRef, ev.Attachment.FileName)
	if err != nil {
		return conversation.Done(events.Fail(ev, err))
	}
	return conversation.Done(h.Card(it))
}

func (h *Handler) manageKeyboard(it *Item) [][]events.Button {
	toggle := "🚫 Disable"
	if it.Disabled {
		toggle = "✅ Enable"
	}
	dol := "🗑 Delete at limit: off"
	if it.DeleteOnLimit {
		dol = "🗑 Delete at limit: on"
	}
	return [][]events.Button{
		events.Row(
			events.Btn("💰 Price", CallbackItemPrice+":"+it.Token),
			events.Btn("📥 Limit", CallbackItemQuota+":"+it.Token),
		),
		events.Row(
			events.Btn(toggle, CallbackItemToggle+":"+it.Token),
			events.Btn(dol, CallbackItemDelete+":"+it.Token),
		),
		events.Row(
			events.Btn("📎 Replace file", CallbackItemReplace+":"+it.Token),
			events.Btn("❌ Delete", CallbackItemRemove+":"+it.Token),
		),
		events.BackRow(),
	}
}

func (h *Handler) links(it *Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔑 Token: <code>%s</code>\n", it.Token)
	fmt.Fprintf(&b, "🤖 In bot: <code>/get %s</code>\n", it.Token)
	if h.botName != "" {
		fmt.Fprintf(&b, "🔗 Share: https://t.me/%s?start=get_%s\n", h.botName, it.Token)
	}
	if h.baseURL != "" && it.Free() {
		fmt.Fprintf(&b, "🌐 Direct: %s/f/%s\n", h.baseURL, it.Token)
	}
	return b.String()
}

func (h *Handler) setStep(ctx context.Context, userID int64, step conversation.Step, payload string) {
	if err := h.conv.Set(ctx, userID, step, payload); err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("conversation state write failed")
	}
}

// Describe renders a short item card.
func Describe(it *Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b>\n", kindIcon(it.Kind), common.Escape(titleOf(it)))
	if it.Text != "" {
		fmt.Fprintf(&b, "📝 %s\n", common.Escape(common.Truncate(it.Text, 200)))
	}
	if it.Free() {
		b.WriteString("💰 Price: free\n")
	} else {
		fmt.Fprintf(&b, "💰 Price: %s\n", common.FormatBalance(it.Price, ""))
	}
	fmt.Fprintf(&b, "📥 Downloads: %s", downloadsLabel(it))
	if it.Disabled {
		b.WriteString("\n🚫 Disabled")
	}
	return b.String()
}

func titleOf(it *Item) string {
	if it.FileName != "" {
		return it.FileName
	}
	return kindLabel(it)
}

func kindLabel(it *Item) string {
	return string(it.Kind)
}

func downloadsLabel(it *Item) string {
	if it.MaxDownloads == 0 {
		return fmt.Sprintf("%d/∞", it.Downloads)
	}
	return fmt.Sprintf("%d/%d", it.Downloads, it.MaxDownloads)
}

func kindIcon(k events.Kind) string {
	switch k {
	case events.KindPhoto:
		return "🖼"
	case events.KindVideo:
		return "🎬"
	case events.KindAudio:
		return "🎵"
	case events.KindVoice:
		return "🎙"
	case events.KindLink:
		return "🔗"
	case events.KindText:
		return "📝"
	default:
		return "📄"
	}
}
