// Package main runs the appointment slot monitor: a headless-browser check
// engine, a recurring scheduler, and a Telegram bot front-end.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"citawatch/bot"
	"citawatch/check"
	"citawatch/config"
	"citawatch/monitor"
	"citawatch/notify"
	"citawatch/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	store, err := storage.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close store", "error", err)
		}
	}()

	checker := check.New(check.Config{
		TargetURL:         cfg.TargetURL,
		DataDir:           cfg.DataDir,
		ScreenshotOnSlots: cfg.ScreenshotOnSlots,
		Headless:          cfg.Headless,
	}, logger)

	var (
		provider notify.Provider
		api      *tgbotapi.BotAPI
	)
	if cfg.MockTelegram {
		logger.Info("Mock notification mode enabled (MOCK_TELEGRAM)")
		provider = notify.NewMockProvider(logger)
	} else {
		api, err = tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			return err
		}
		logger.Info("Authorized with Telegram", "username", api.Self.UserName)
		provider = notify.NewTelegramProvider(api)
	}
	sender := notify.New(provider, logger)

	mon := monitor.New(checker, store, sender, cfg.TargetURL, logger)
	defer mon.Stop()

	logger.Info("Starting slot monitor",
		"target_url", cfg.TargetURL,
		"data_dir", cfg.DataDir,
		"default_interval_seconds", cfg.DefaultIntervalSeconds,
		"headless", cfg.Headless)

	if api == nil {
		// No chat front-end without a real bot; run the scheduler directly.
		interval, err := store.IntervalSeconds(ctx, cfg.DefaultIntervalSeconds)
		if err != nil {
			return err
		}
		if err := mon.Start(ctx, time.Duration(interval)*time.Second); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	}

	b := bot.New(api, store, mon, checker, sender, cfg.Admins, cfg.DefaultIntervalSeconds, logger)
	b.AutoRestore(ctx)
	b.Run(ctx)
	return nil
}
