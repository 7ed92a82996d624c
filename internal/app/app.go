// Package app wires every component together.
// app.go is the assembly point: it opens the store, builds services,
// handlers and filters, and runs the bot, the HTTP server, the notifier and
// the scheduler under one context.
package app

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"serotonyl.ru/filegate-bot/internal/bot"
	"serotonyl.ru/filegate-bot/internal/bot/filters"
	"serotonyl.ru/filegate-bot/internal/config"
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
	"serotonyl.ru/filegate-bot/internal/httpapi"
	"serotonyl.ru/filegate-bot/internal/jobs"
	"serotonyl.ru/filegate-bot/internal/notify"
)

// App holds the long-running components.
type App struct {
	Bot       *bot.Bot
	HTTP      *httpapi.Server
	Notifier  *notify.Notifier
	Scheduler *jobs.Scheduler

	closeStore func()
}

// New builds the application. Order matters: components depend on the ones
// created before them.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// === 1. Store ===
	kv, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			closeStore()
		}
	}()

	// === 2. Telegram Bot API ===
	var botOpts []telego.BotOption
	if cfg.AppEnv == "development" {
		botOpts = append(botOpts, telego.WithDefaultDebugLogger())
	}
	api, err := telego.NewBot(cfg.TelegramBotToken, botOpts...)
	if err != nil {
		return nil, fmt.Errorf("create Telegram API: %w", err)
	}
	me, err := api.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("getMe: %w", err)
	}
	if cfg.BotUsername == "" {
		cfg.BotUsername = me.Username
	}
	log.Infof("Authorized as @%s", me.Username)

	client := bot.NewClient(api)
	notifier := notify.New(client, cfg.AdminIDs, cfg.NotifyQueueSize, cfg.NotifyWorkers)
	attempts := cfg.StoreCASAttempts

	// === 3. Services ===
	settingsSvc := settings.NewService(kv, attempts)
	usersRepo := users.NewRepository(kv, attempts)
	usersSvc := users.NewService(usersRepo, settingsSvc)
	ledgerSvc := ledger.NewService(usersRepo)
	contentSvc := content.NewService(content.NewRepository(kv, attempts), settingsSvc, cfg.IsAdmin)
	spendSvc := spend.NewService(kv, contentSvc, ledgerSvc, cfg.SpendTTL)
	giftSvc := gift.NewService(kv, ledgerSvc, attempts)
	purchaseSvc := purchase.NewService(kv, ledgerSvc, settingsSvc, cfg.PurchasePlans, attempts)
	referralSvc := referral.NewService(usersRepo, ledgerSvc, cfg.ReferralReward)
	ticketsSvc := tickets.NewService(kv, attempts)
	adminSvc := admin.NewService(admin.NewRepository(kv, attempts), cfg.IsAdmin, cfg.AdminPasswordHash, cfg.AdminSessionTTL)

	conv := conversation.NewStore(kv, cfg.ConversationTTL)
	dispatcher := conversation.NewDispatcher(conv)

	// === 4. Handlers ===
	items := content.NewHandler(contentSvc, conv, cfg.CurrencyName, cfg.PublicBaseURL, cfg.BotUsername)
	adminHandler := admin.NewHandler(admin.Deps{
		Service:  adminSvc,
		Conv:     conv,
		Content:  contentSvc,
		Items:    items,
		Ledger:   ledgerSvc,
		Users:    usersSvc,
		Settings: settingsSvc,
		Notifier: notifier,
		Currency: cfg.CurrencyName,
	})

	// === 5. Filters ===
	joinFilter := filters.NewJoinFilter(cfg.JoinChannels, client, cfg.MembershipCacheSize, cfg.MembershipCacheTTL)

	// === 6. Router and bot ===
	router := bot.NewRouter(bot.Deps{
		Users:              usersSvc,
		Settings:           settingsSvc,
		Referral:           referralSvc,
		Dispatcher:         dispatcher,
		Join:               joinFilter,
		Account:            ledger.NewHandler(ledgerSvc, usersSvc, notifier, cfg.CurrencyName, cfg.SupportURL),
		Content:            items,
		Spend:              spend.NewHandler(spendSvc, ledgerSvc, conv, cfg.CurrencyName),
		Gift:               gift.NewHandler(giftSvc, conv, cfg.CurrencyName),
		Purchase:           purchase.NewHandler(purchaseSvc, conv, notifier, cfg.CurrencyName),
		Referrer:           referral.NewHandler(referralSvc, usersSvc, notifier, cfg.CurrencyName, cfg.BotUsername),
		Tickets:            tickets.NewHandler(ticketsSvc, conv, notifier),
		Admin:              adminHandler,
		JoinInviteURL:      cfg.JoinInviteURL,
		ReferralAutoCredit: cfg.ReferralAutoCredit,
	})
	b := bot.New(api, client, cfg, router)

	// === 7. HTTP ===
	httpServer := httpapi.New(cfg.HTTPAddr, httpapi.Deps{
		Content:  contentSvc,
		Files:    client,
		Settings: settingsSvc,
		Users:    usersSvc,
		Currency: cfg.CurrencyName,
	})

	// === 8. Scheduler ===
	scheduler := jobs.NewScheduler(cfg.Location(), jobs.Deps{
		Spends:        spendSvc,
		Conversations: conv,
		Sessions:      adminSvc,
		Stats:         settingsSvc,
	})

	ok = true
	return &App{
		Bot:        b,
		HTTP:       httpServer,
		Notifier:   notifier,
		Scheduler:  scheduler,
		closeStore: closeStore,
	}, nil
}

// Run blocks until ctx is cancelled or one of the components fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer a.Scheduler.Stop()

	g.Go(func() error { return a.Notifier.Run(ctx) })
	g.Go(func() error { return a.HTTP.Run(ctx) })
	g.Go(func() error { return a.Bot.Start(ctx) })

	return g.Wait()
}

// Close releases the store connection.
func (a *App) Close() {
	a.closeStore()
}
