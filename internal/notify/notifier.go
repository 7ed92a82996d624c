// Package notify delivers best-effort messages to users and admins from a
// bounded queue. A full queue drops messages instead of blocking the caller,
// and send failures are only logged.
package notify

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/filegate-bot/internal/events"
	"serotonyl.ru/filegate-bot/internal/metrics"
)

// Sender performs the actual API call.
type Sender interface {
	Send(ctx context.Context, msg events.Message) error
}

// Notifier queues messages for background delivery.
type Notifier struct {
	sender  Sender
	admins  []int64
	queue   chan events.Message
	workers int
}

// New creates a notifier with a queue of size and the given number of workers.
func New(sender Sender, admins []int64, size, workers int) *Notifier {
	if workers <= 0 {
		workers = 1
	}
	return &Notifier{
		sender:  sender,
		admins:  admins,
		queue:   make(chan events.Message, size),
		workers: workers,
	}
}

// NotifyUser queues a message to one user.
func (n *Notifier) NotifyUser(userID int64, text string, keyboard ...[]events.Button) {
	n.enqueue(events.Message{ChatID: userID, Text: text, Keyboard: keyboard})
}

// NotifyAdmins queues the message to every admin.
func (n *Notifier) NotifyAdmins(text string, keyboard ...[]events.Button) {
	for _, id := range n.admins {
		n.enqueue(events.Message{ChatID: id, Text: text, Keyboard: keyboard})
	}
}

// NotifyAdminsMedia queues media with a caption to every admin.
func (n *Notifier) NotifyAdminsMedia(media *events.Delivery, text string, keyboard ...[]events.Button) {
	for _, id := range n.admins {
		m := *media
		m.ChatID = id
		n.enqueue(events.Message{ChatID: id, Text: text, Keyboard: keyboard, Media: &m})
	}
}

func (n *Notifier) enqueue(msg events.Message) {
	select {
	case n.queue <- msg:
	default:
		metrics.Notifications.WithLabelValues(metrics.ResultDropped).Inc()
		log.WithFields(log.Fields{
			"component": "notifier",
			"chat_id":   msg.ChatID,
		}).Warn("notification queue full, message dropped")
	}
}

// Run delivers queued messages until ctx is cancelled. Messages still
// queued at shutdown are dropped.
func (n *Notifier) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < n.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.work(ctx)
		}()
	}
	log.WithFields(log.Fields{"component": "notifier", "workers": n.workers}).Info("Notifier started")
	wg.Wait()
	log.WithField("component", "notifier").Info("Notifier stopped")
	return nil
}

// send turns a panic inside the sender into an error so one bad message
// does not kill the worker.
func (n *Notifier) send(ctx context.Context, msg events.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.Panics.WithLabelValues("notifier").Inc()
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	return n.sender.Send(ctx, msg)
}

func (n *Notifier) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-n.queue:
			if err := n.send(ctx, msg); err != nil {
				metrics.Notifications.WithLabelValues(metrics.ResultError).Inc()
				log.WithError(err).WithFields(log.Fields{
					"component": "notifier",
					"chat_id":   msg.ChatID,
				}).Warn("notification failed")
				continue
			}
			metrics.Notifications.WithLabelValues(metrics.ResultOK).Inc()
		}
	}
}
