// Package analytics отправляет события взаимодействия с ботом.
// Запись событий никогда не блокирует и не прерывает обработку сообщения.
package analytics

import (
	"fmt"
	"log/slog"
	"strconv"

	"gptrelay/internal/config"

	"github.com/posthog/posthog-go"
)

const (
	EventBotStart        = "bot_start"
	EventNewConversation = "new_conversation"
	EventHelp            = "help_command"
	EventMessageSent     = "message_sent"
	EventError           = "error_occurred"
)

type Sink interface {
	Record(userID int64, event string, props map[string]any)
	Close() error
}

// New возвращает PostHog, если задан ключ, иначе события только логируются.
func New(cfg config.AnalyticsConfig, logger *slog.Logger) (Sink, error) {
	if cfg.PostHogAPIKey == "" {
		return NewLogSink(cfg.BotName, logger), nil
	}
	return NewPostHog(cfg, logger)
}

type PostHog struct {
	client posthog.Client
	bot    string
	logger *slog.Logger
}

func NewPostHog(cfg config.AnalyticsConfig, logger *slog.Logger) (*PostHog, error) {
	client, err := posthog.NewWithConfig(cfg.PostHogAPIKey, posthog.Config{
		Endpoint: cfg.PostHogHost,
		Logger:   slogAdapter{logger: logger},
	})
	if err != nil {
		return nil, fmt.Errorf("init posthog: %w", err)
	}
	return &PostHog{client: client, bot: cfg.BotName, logger: logger}, nil
}

// Record ставит событие в очередь клиента PostHog; отправка идёт пачками в фоне.
func (p *PostHog) Record(userID int64, event string, props map[string]any) {
	properties := posthog.NewProperties().
		Set("bot", p.bot).
		Set("user_id", userID)
	for k, v := range props {
		properties.Set(k, v)
	}

	err := p.client.Enqueue(posthog.Capture{
		DistinctId: strconv.FormatInt(userID, 10),
		Event:      event,
		Properties: properties,
	})
	if err != nil {
		p.logger.Warn("analytics enqueue failed",
			slog.String("event", event),
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()))
	}
}

// Close отправляет накопленные события.
func (p *PostHog) Close() error {
	return p.client.Close()
}

// LogSink пишет события в лог, когда PostHog не настроен.
type LogSink struct {
	bot    string
	logger *slog.Logger
}

func NewLogSink(bot string, logger *slog.Logger) *LogSink {
	return &LogSink{bot: bot, logger: logger}
}

func (s *LogSink) Record(userID int64, event string, props map[string]any) {
	attrs := make([]any, 0, len(props)+3)
	attrs = append(attrs,
		slog.String("event", event),
		slog.String("bot", s.bot),
		slog.Int64("user_id", userID))
	for k, v := range props {
		attrs = append(attrs, slog.Any(k, v))
	}
	s.logger.Debug("analytics event", attrs...)
}

func (s *LogSink) Close() error { return nil }

// slogAdapter направляет внутренние сообщения клиента PostHog в slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Debugf(format string, args ...any) {
	a.logger.Debug(fmt.Sprintf(format, args...), slog.String("component", "posthog"))
}

func (a slogAdapter) Logf(format string, args ...any) {
	a.logger.Info(fmt.Sprintf(format, args...), slog.String("component", "posthog"))
}

func (a slogAdapter) Warnf(format string, args ...any) {
	a.logger.Warn(fmt.Sprintf(format, args...), slog.String("component", "posthog"))
}

func (a slogAdapter) Errorf(format string, args ...any) {
	a.logger.Error(fmt.Sprintf(format, args...), slog.String("component", "posthog"))
}
