// Package bot contains the Telegram side of the application: long polling,
// update conversion, the router and reply sending.
// bot.go runs the polling loop and hands every update to the router.
package bot

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/filegate-bot/internal/bot/middleware"
	"serotonyl.ru/filegate-bot/internal/config"
	"serotonyl.ru/filegate-bot/internal/events"
	"serotonyl.ru/filegate-bot/internal/metrics"
)

// Handler answers one event. *Router implements it.
type Handler interface {
	Handle(ctx context.Context, ev events.Event) events.Result
}

// Bot is the polling loop.
type Bot struct {
	api     *telego.Bot
	client  *Client
	cfg     *config.Config
	handler Handler

	rateLimiter *middleware.RateLimiter
	parser      *CommandParser

	// bounds the number of updates processed in parallel
	inflight chan struct{}
}

// New creates the bot.
func New(api *telego.Bot, client *Client, cfg *config.Config, handler Handler) *Bot {
	maxInFlight := cfg.BotMaxInflight
	if maxInFlight <= 0 {
		maxInFlight = 64
	}

	return &Bot{
		api:         api,
		client:      client,
		cfg:         cfg,
		handler:     handler,
		rateLimiter: middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		parser:      NewCommandParser(cfg.BotUsername),
		inflight:    make(chan struct{}, maxInFlight),
	}
}

// Start polls updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	defer b.rateLimiter.Close()

	updates, err := b.api.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        b.cfg.BotUpdateTimeoutSeconds,
		AllowedUpdates: []string{"message", "callback_query"},
	})
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	log.WithFields(log.Fields{
		"max_inflight": cap(b.inflight),
		"timeout_sec":  b.cfg.BotUpdateTimeoutSeconds,
	}).Info("Bot started, waiting for updates...")

	for {
		select {
		case <-ctx.Done():
			log.Info("Bot stopping (ctx done)...")
			return nil

		case update, ok := <-updates:
			if !ok {
				log.Info("Updates channel closed, bot stopped")
				return nil
			}

			select {
			case b.inflight <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
			go func(upd telego.Update) {
				defer func() { <-b.inflight }()
				b.handleUpdate(ctx, upd)
			}(update)
		}
	}
}

// handleUpdate converts, filters and answers one update.
func (b *Bot) handleUpdate(ctx context.Context, update telego.Update) {
	defer middleware.Recover("update", log.Fields{"update_id": update.UpdateID})

	ev, queryID, ok := b.toEvent(update)
	if !ok {
		return
	}
	metrics.Updates.WithLabelValues(string(ev.Type)).Inc()
	middleware.LogEvent(ev)

	if !b.rateLimiter.Allow(ev.SenderID) {
		log.WithField("user_id", ev.SenderID).Debug("rate limited")
		if queryID != "" {
			b.answer(ctx, queryID, "Too many requests, slow down")
		}
		return
	}

	res := b.handler.Handle(ctx, ev)
	b.respond(ctx, ev, res)
	if queryID != "" {
		b.answer(ctx, queryID, res.CallbackText)
	}
}

// respond sends the delivery first, then the messages in order.
func (b *Bot) respond(ctx context.Context, ev events.Event, res events.Result) {
	if res.Deliver != nil {
		d := *res.Deliver
		if d.ChatID == 0 {
			d.ChatID = ev.ChatID
		}
		if err := b.client.Deliver(ctx, &d); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"chat_id": d.ChatID,
				"kind":    d.Kind,
			}).Error("Content delivery failed")
		}
	}

	for _, msg := range res.Messages {
		if msg.ChatID == 0 {
			msg.ChatID = ev.ChatID
		}
		if err := b.client.Send(ctx, msg); err != nil {
			log.WithError(err).WithField("chat_id", msg.ChatID).Error("Failed to send message")
		}
	}
}

func (b *Bot) answer(ctx context.Context, queryID, text string) {
	if err := b.client.AnswerCallback(ctx, queryID, text); err != nil {
		log.WithError(err).Debug("answer callback failed")
	}
}
