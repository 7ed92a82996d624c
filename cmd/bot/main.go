// Package main is the bot entry point.
// It loads configuration, builds the application and runs it until
// SIGINT/SIGTERM.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/filegate-bot/internal/app"
	"serotonyl.ru/filegate-bot/internal/config"
)

func main() {
	setupLogging()

	log.Info("=== Bot starting ===")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	if level, err := log.ParseLevel(cfg.AppLogLevel); err == nil {
		log.SetLevel(level)
	}
	if cfg.AppEnv == "production" {
		log.SetFormatter(&log.JSONFormatter{})
	}

	// Cancelled on Ctrl+C or docker stop.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize the application")
	}
	defer application.Close()

	log.WithFields(log.Fields{
		"store": cfg.StoreBackend,
		"http":  cfg.HTTPAddr,
	}).Info("=== Bot is ready ===")

	if err := application.Run(ctx); err != nil {
		application.Close()
		log.WithError(err).Fatal("Application stopped with an error")
	}

	log.Info("=== Bot stopped ===")
}

// setupLogging sets the log format.
func setupLogging() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.DebugLevel)
}
