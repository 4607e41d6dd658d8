// Package relay доставляет потоковый ответ модели в чат: одно сообщение-заглушка,
// которое редактируется по мере накопления текста, с деградацией при flood control.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"gptrelay/internal/retry"
	"gptrelay/internal/telegram"

	"github.com/google/uuid"
)

const (
	DefaultFlushThreshold   = 30
	DefaultThrottleCooldown = 30 * time.Second

	placeholderText = "..."
	degradedNotice  = "⚠️ Telegram is limiting message updates, live streaming is paused. The full answer will arrive in a moment."
	flushTriggers   = ".!?\n"
)

var (
	// ErrStream генерация оборвалась с ошибкой до конца потока.
	ErrStream = errors.New("completion stream failed")
	// ErrEmptyResponse поток завершился, не вернув текста.
	ErrEmptyResponse = errors.New("empty completion")
	// ErrDeliveryFailed ни одна ступень доставки финального текста не прошла.
	ErrDeliveryFailed = errors.New("final delivery failed")
)

// Channel исходящие операции чата, нужные для доставки ответа.
type Channel interface {
	SendMessage(ctx context.Context, chatID int64, text string, parseMode string) (int64, error)
	EditMessage(ctx context.Context, chatID int64, messageID int64, text string, parseMode string) error
	SendChatAction(ctx context.Context, chatID int64, action string) error
}

// Fragments источник фрагментов ответа; io.EOF означает конец.
type Fragments interface {
	Next() (string, error)
}

type Config struct {
	FlushThreshold   int
	ThrottleCooldown time.Duration
	TypingInterval   time.Duration
	// Retry политика повторов финальной доставки при flood control.
	Retry retry.Policy
}

type Relay struct {
	channel Channel
	cfg     Config
	logger  *slog.Logger
	sleep   retry.Sleeper
}

// Result итог одной доставленной сессии.
type Result struct {
	Text      string
	MessageID int64
	Edits     int
	Degraded  bool
}

func New(channel Channel, cfg Config, logger *slog.Logger) *Relay {
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = DefaultFlushThreshold
	}
	if cfg.ThrottleCooldown <= 0 {
		cfg.ThrottleCooldown = DefaultThrottleCooldown
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.ThrottlePolicy()
	}
	return &Relay{
		channel: channel,
		cfg:     cfg,
		logger:  logger,
		sleep:   sleepContext,
	}
}

// session состояние одной доставки. Живёт внутри одного вызова Run,
// все исходящие вызовы выполняются последовательно.
type session struct {
	id        string
	chatID    int64
	userID    int64
	logger    *slog.Logger
	messageID int64

	accumulated strings.Builder
	buffer      strings.Builder
	streaming   bool
	degraded    bool
	edits       int
	// shown текст, который сейчас отображается в заглушке.
	shown string
}

// Run читает фрагменты из stream и доставляет их в чат chatID.
// Индикатор набора работает всё время чтения и останавливается до финальной доставки.
// При ErrStream и ErrEmptyResponse Result.MessageID указывает на уже отправленную
// заглушку (0, если её нет), чтобы вызывающий мог заменить её сообщением об ошибке.
func (r *Relay) Run(ctx context.Context, chatID, userID int64, stream Fragments) (Result, error) {
	s := &session{
		id:        uuid.NewString(),
		chatID:    chatID,
		userID:    userID,
		streaming: true,
	}
	s.logger = r.logger.With(
		slog.String("session_id", s.id),
		slog.Int64("user_id", userID),
		slog.Int64("chat_id", chatID))

	liveness := StartLiveness(ctx, r.channel, chatID, r.cfg.TypingInterval, s.logger)
	defer liveness.Stop()

	received := 0
	for {
		fragment, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.logger.Error("completion stream aborted",
				slog.String("stage", "stream"),
				slog.Int("fragments", received),
				slog.String("error", err.Error()))
			return Result{MessageID: s.messageID}, fmt.Errorf("%w: %w", ErrStream, err)
		}
		received++

		if received == 1 {
			r.sendPlaceholder(ctx, s)
		}

		s.accumulated.WriteString(fragment)
		s.buffer.WriteString(fragment)
		if s.streaming && r.shouldFlush(s.buffer.String()) {
			r.flush(ctx, s)
		}
	}

	text := s.accumulated.String()
	if strings.TrimSpace(text) == "" {
		return Result{MessageID: s.messageID}, ErrEmptyResponse
	}

	liveness.Stop()

	if err := r.deliver(ctx, s, text); err != nil {
		return Result{}, err
	}

	s.logger.Info("response delivered",
		slog.Int("fragments", received),
		slog.Int("edits", s.edits),
		slog.Bool("degraded", s.degraded),
		slog.Int("length", utf8.RuneCountInString(text)))

	return Result{
		Text:      text,
		MessageID: s.messageID,
		Edits:     s.edits,
		Degraded:  s.degraded,
	}, nil
}

func (r *Relay) shouldFlush(buffer string) bool {
	return utf8.RuneCountInString(buffer) >= r.cfg.FlushThreshold ||
		strings.ContainsAny(buffer, flushTriggers)
}

func (r *Relay) sendPlaceholder(ctx context.Context, s *session) {
	id, err := r.channel.SendMessage(ctx, s.chatID, placeholderText, telegram.ParseModeNone)
	if err == nil {
		s.messageID = id
		s.shown = placeholderText
		return
	}
	if _, ok := retry.AsThrottled(err); ok {
		r.degrade(ctx, s, err)
		return
	}
	// без заглушки редактировать нечего: ответ уйдёт одним сообщением в конце
	s.streaming = false
	s.logger.Warn("placeholder send failed",
		slog.String("stage", "placeholder"),
		slog.String("error", err.Error()))
}

// flush обновляет заглушку накопленным текстом без разметки: незакрытый
// Markdown в середине ответа не должен ломать редактирование.
func (r *Relay) flush(ctx context.Context, s *session) {
	text := s.accumulated.String()
	if strings.TrimSpace(text) == strings.TrimSpace(s.shown) {
		s.buffer.Reset()
		return
	}

	err := r.channel.EditMessage(ctx, s.chatID, s.messageID, text, telegram.ParseModeNone)
	if err == nil {
		s.edits++
		s.shown = text
		s.buffer.Reset()
		return
	}
	if _, ok := retry.AsThrottled(err); ok {
		r.degrade(ctx, s, err)
		return
	}
	s.logger.Warn("intermediate edit failed",
		slog.String("stage", "edit"),
		slog.String("error", err.Error()))
}

// degrade отключает редактирование до конца сессии и один раз предупреждает пользователя.
func (r *Relay) degrade(ctx context.Context, s *session, cause error) {
	if s.degraded {
		return
	}
	s.degraded = true
	s.streaming = false
	s.logger.Warn("streaming disabled by flood control",
		slog.String("stage", "edit"),
		slog.String("error", cause.Error()))

	if _, err := r.channel.SendMessage(ctx, s.chatID, degradedNotice, telegram.ParseModeNone); err != nil {
		s.logger.Warn("degraded notice failed",
			slog.String("stage", "notice"),
			slog.String("error", err.Error()))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
