package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gptrelay/internal/telegram"
)

// DefaultTypingInterval период отправки индикатора "печатает".
const DefaultTypingInterval = 5 * time.Second

type typingSender interface {
	SendChatAction(ctx context.Context, chatID int64, action string) error
}

// Liveness периодически шлёт в чат индикатор набора текста, пока идёт генерация.
type Liveness struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// StartLiveness отправляет индикатор сразу и затем каждые interval.
// Ошибка отправки завершает только этот цикл.
func StartLiveness(ctx context.Context, sender typingSender, chatID int64, interval time.Duration, logger *slog.Logger) *Liveness {
	if interval <= 0 {
		interval = DefaultTypingInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	l := &Liveness{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(l.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if err := sender.SendChatAction(ctx, chatID, telegram.ChatActionTyping); err != nil {
				if ctx.Err() == nil {
					logger.Debug("typing indicator stopped",
						slog.Int64("chat_id", chatID),
						slog.String("error", err.Error()))
				}
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return l
}

// Stop отменяет цикл и дожидается его завершения. Повторный вызов безопасен.
func (l *Liveness) Stop() {
	l.once.Do(l.cancel)
	<-l.done
}
