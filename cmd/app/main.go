package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gptrelay/internal/analytics"
	"gptrelay/internal/bot"
	"gptrelay/internal/config"
	"gptrelay/internal/dialog"
	"gptrelay/internal/history"
	"gptrelay/internal/httpserver"
	"gptrelay/internal/llm"
	"gptrelay/internal/relay"
	"gptrelay/internal/retry"
	"gptrelay/internal/telegram"
	"gptrelay/internal/transport"

	"github.com/spf13/pflag"
)

const shutdownTimeout = 20 * time.Second

func main() {
	configPath := pflag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telegramClient := telegram.NewClient(cfg.Telegram, transport.NewHTTPClient(cfg.RequestTimeout))
	openAI := llm.NewOpenAIClient(cfg.OpenAI, transport.NewStreamingHTTPClient(cfg.RequestTimeout), logger)

	store := dialog.NewStore(cfg.Context.InactivityReset)
	sweeper := dialog.NewSweeper(store, cfg.Context.TTL, cfg.Context.SweepInterval, logger)
	go sweeper.Run(ctx)

	throttle := retry.ThrottlePolicy()
	throttle.MaxAttempts = cfg.Stream.RetryAttempts
	throttle.BaseDelay = cfg.Stream.RetryDelay
	streamer := relay.New(telegramClient, relay.Config{
		FlushThreshold:   cfg.Stream.FlushThreshold,
		ThrottleCooldown: cfg.Stream.ThrottleCooldown,
		TypingInterval:   cfg.Stream.TypingInterval,
		Retry:            throttle,
	}, logger)

	sink, err := analytics.New(cfg.Analytics, logger)
	if err != nil {
		log.Fatalf("failed to init analytics: %v", err)
	}

	recorder, err := history.Open(ctx, cfg.History, logger)
	if err != nil {
		log.Fatalf("failed to open history: %v", err)
	}
	historyWriter := history.NewAsync(recorder, cfg.RequestTimeout, logger)

	handler := bot.New(ctx, bot.Deps{
		Messenger:   telegramClient,
		Store:       store,
		LLM:         openAI,
		Transcriber: openAI,
		Relay:       streamer,
		Analytics:   sink,
		History:     historyWriter,
		Logger:      logger,
		Model:       cfg.OpenAI.Model,
		SupportBot:  cfg.SupportBot,
	})

	routerDeps := httpserver.RouterDeps{
		Logger: logger,
		Health: func() map[string]any {
			return map[string]any{
				"mode":            cfg.Telegram.Mode,
				"active_contexts": store.Len(),
			}
		},
	}
	if cfg.Telegram.Mode == config.ModeWebhook {
		routerDeps.WebhookHandler = telegram.NewWebhookHandler(telegram.WebhookDeps{
			Dispatcher:    handler,
			Logger:        logger,
			WebhookSecret: cfg.Telegram.WebhookSecret,
		})
	}

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpserver.NewRouter(routerDeps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			slog.String("addr", cfg.HTTPAddr),
			slog.String("mode", cfg.Telegram.Mode),
			slog.String("model", cfg.OpenAI.Model))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	if cfg.Telegram.Mode == config.ModePolling {
		poller := telegram.NewPoller(telegramClient, handler, cfg.Telegram.PollTimeout, logger)
		go func() {
			if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("poller stopped", slog.String("error", err.Error()))
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}
	if err := handler.Wait(shutdownCtx); err != nil {
		logger.Warn("in-flight updates not finished", slog.String("error", err.Error()))
	}
	if err := historyWriter.Close(shutdownCtx); err != nil {
		logger.Error("history close error", slog.String("error", err.Error()))
	}
	if err := sink.Close(); err != nil {
		logger.Error("analytics close error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

func newLogger(level string) *slog.Logger {
	slogLevel := slog.LevelInfo
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))
}
