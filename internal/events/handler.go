package events

import (
	"context"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/filegate-bot/internal/common"
)

// Callback data shared by several features.
const (
	CallbackBackMain = "back_main"
	CallbackAdmin    = "admin"
)

// HandlerFunc answers one event.
type HandlerFunc func(ctx context.Context, ev Event) Result

// Notifier pushes messages outside the request/response cycle. Delivery is
// best effort; callers never learn whether it succeeded.
type Notifier interface {
	NotifyUser(userID int64, text string, keyboard ...[]Button)
	NotifyAdmins(text string, keyboard ...[]Button)
	// NotifyAdminsMedia sends media with text as its caption.
	NotifyAdminsMedia(media *Delivery, text string, keyboard ...[]Button)
}

// Fail turns an error into the reply shown to the user. Infrastructure
// errors are logged; business rejections are expected and are not.
func Fail(ev Event, err error) Result {
	if !common.IsRejection(err) {
		log.WithError(err).WithFields(log.Fields{
			"user_id":  ev.SenderID,
			"type":     ev.Type,
			"command":  ev.Command,
			"callback": ev.CallbackData,
		}).Error("request failed")
	}
	return Reply(common.UserMessage(err))
}

// BackRow is the "back to menu" keyboard row.
func BackRow() []Button {
	return Row(Btn("⬅️ Menu", CallbackBackMain))
}

// AdminBackRow returns to the admin panel.
func AdminBackRow() []Button {
	return Row(Btn("⬅️ Admin panel", CallbackAdmin))
}
