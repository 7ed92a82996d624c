// Package tickets — handlers.go lets users write to support and admins
// review and close the requests.
package tickets

import (
	"context"
	"fmt"
	"strings"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/events"
	"serotonyl.ru/filegate-bot/internal/features/conversation"
)

// Callback actions.
const (
	CallbackNew       = "ticket_new"
	CallbackAdminList = "adm_tickets"
	CallbackClose     = "tkt_close"
)

// Handler serves support ticket events.
type Handler struct {
	service  *Service
	conv     *conversation.Store
	notifier events.Notifier
}

// NewHandler creates the ticket handler.
func NewHandler(service *Service, conv *conversation.Store, notifier events.Notifier) *Handler {
	return &Handler{service: service, conv: conv, notifier: notifier}
}

// Register binds StepTicketText.
func (h *Handler) Register(d *conversation.Dispatcher) {
	d.Register(conversation.StepTicketText, h.stepTicketText)
}

// HandleNew asks the user to describe the problem.
func (h *Handler) HandleNew(ctx context.Context, ev events.Event) events.Result {
	if err := h.conv.Set(ctx, ev.SenderID, conversation.StepTicketText, ""); err != nil {
		return events.Fail(ev, err)
	}
	return events.Reply("🆘 Describe your problem in one message.\n\n/cancel to stop.")
}

func (h *Handler) stepTicketText(ctx context.Context, ev events.Event, _ string) conversation.Outcome {
	t, err := h.service.Create(ctx, ev.SenderID, ev.Text)
	if err != nil {
		if common.IsRejection(err) {
			return conversation.Stay(events.Reply("✏️ Please send your question as text."))
		}
		return conversation.Done(events.Fail(ev, err))
	}

	h.notifier.NotifyAdmins(
		fmt.Sprintf("🆘 <b>New ticket</b> from <code>%d</code> %s\n\n%s",
			t.UserID, common.Escape(ev.SenderName), common.Escape(t.Text)),
		events.Row(events.Btn("✅ Close", CallbackClose+":"+t.ID)),
	)
	return conversation.Done(events.Reply("✅ Your message was sent to support. We will answer you here.", events.BackRow()))
}

// HandleAdminList shows open tickets.
func (h *Handler) HandleAdminList(ctx context.Context, ev events.Event) events.Result {
	open, err := h.service.List(ctx, 10, false)
	if err != nil {
		return events.Fail(ev, err)
	}
	if len(open) == 0 {
		return events.Reply("No open tickets.", events.AdminBackRow())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🆘 <b>Open tickets: %d</b>\n", len(open))
	kb := make([][]events.Button, 0, len(open)+1)
	for i, t := range open {
		fmt.Fprintf(&b, "\n%d. <code>%d</code>: %s", i+1, t.UserID, common.Escape(common.Truncate(t.Text, 200)))
		kb = append(kb, events.Row(events.Btn(fmt.Sprintf("✅ Close #%d", i+1), CallbackClose+":"+t.ID)))
	}
	kb = append(kb, events.AdminBackRow())
	return events.Reply(b.String(), kb...)
}

// HandleClose serves tkt_close:{id}.
func (h *Handler) HandleClose(ctx context.Context, ev events.Event) events.Result {
	ticketID, _ := ev.CallbackArg(CallbackClose)
	t, err := h.service.Close(ctx, ticketID, ev.SenderID)
	if err != nil {
		return events.Fail(ev, err)
	}
	h.notifier.NotifyUser(t.UserID, "✅ Your support request was closed. Write again if you still need help.")
	return events.Reply("Ticket closed.", events.AdminBackRow()).Toast("Closed")
}
