// Package middleware holds per-update helpers: logging, panic recovery and
// rate limiting.
package middleware

import (
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/filegate-bot/internal/events"
)

// LogEvent logs an inbound event at debug level.
// Fields: user_id, chat_id, type, command or callback, text length.
// Message text is never logged: it may carry the admin password.
func LogEvent(ev events.Event) {
	fields := log.Fields{
		"user_id": ev.SenderID,
		"chat_id": ev.ChatID,
		"type":    ev.Type,
	}
	switch ev.Type {
	case events.TypeCommand:
		fields["command"] = ev.Command
	case events.TypeCallback:
		fields["callback"] = ev.CallbackData
	case events.TypeAttachment:
		fields["kind"] = ev.Attachment.Kind
	}
	if ev.Text != "" {
		fields["text_len"] = len(ev.Text)
	}
	log.WithFields(fields).Debug("Incoming update")
}
