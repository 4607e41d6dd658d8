// Package history сохраняет профили пользователей и завершённые обмены репликами.
// Хранилище необязательно: без него бот работает так же.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gptrelay/internal/config"
)

const (
	MessageTypeText  = "text"
	MessageTypeVoice = "voice"

	defaultWriteTimeout = 5 * time.Second
)

// User профиль пользователя Telegram.
type User struct {
	UserID     int64     `bson:"user_id" json:"user_id"`
	Username   string    `bson:"username" json:"username"`
	FirstName  string    `bson:"first_name" json:"first_name"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	LastActive time.Time `bson:"last_active" json:"last_active"`
}

// Record одна пара "вопрос/ответ".
type Record struct {
	UserID      int64     `bson:"user_id" json:"user_id"`
	Username    string    `bson:"username,omitempty" json:"username,omitempty"`
	FirstName   string    `bson:"first_name,omitempty" json:"first_name,omitempty"`
	UserMessage string    `bson:"user_message" json:"user_message"`
	BotResponse string    `bson:"bot_response" json:"bot_response"`
	MessageType string    `bson:"message_type" json:"message_type"`
	Timestamp   time.Time `bson:"timestamp" json:"timestamp"`
}

type Recorder interface {
	// TouchUser создаёт профиль при первом обращении и обновляет last_active.
	TouchUser(ctx context.Context, user User) error
	SaveInteraction(ctx context.Context, rec Record) error
	Close(ctx context.Context) error
}

// Open выбирает хранилище по конфигурации: MongoDB, JSONL-файл или никакого.
func Open(ctx context.Context, cfg config.HistoryConfig, logger *slog.Logger) (Recorder, error) {
	switch {
	case cfg.MongoURL != "":
		rec, err := NewMongoRecorder(ctx, cfg.MongoURL, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		logger.Info("history store enabled", slog.String("backend", "mongodb"), slog.String("database", cfg.MongoDatabase))
		return rec, nil
	case cfg.FilePath != "":
		rec, err := NewFileRecorder(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		logger.Info("history store enabled", slog.String("backend", "file"), slog.String("path", cfg.FilePath))
		return rec, nil
	default:
		return Nop{}, nil
	}
}

type Nop struct{}

func (Nop) TouchUser(context.Context, User) error { return nil }

func (Nop) SaveInteraction(context.Context, Record) error { return nil }

func (Nop) Close(context.Context) error { return nil }

// Async выполняет записи в фоне с ограничением по времени.
// Ошибки только логируются: вызывающий не ждёт хранилище.
type Async struct {
	rec     Recorder
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func NewAsync(rec Recorder, timeout time.Duration, logger *slog.Logger) *Async {
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return &Async{rec: rec, timeout: timeout, logger: logger}
}

func (a *Async) TouchUser(user User) {
	a.run("touch_user", user.UserID, func(ctx context.Context) error {
		return a.rec.TouchUser(ctx, user)
	})
}

func (a *Async) SaveInteraction(rec Record) {
	a.run("save_interaction", rec.UserID, func(ctx context.Context) error {
		return a.rec.SaveInteraction(ctx, rec)
	})
}

func (a *Async) run(op string, userID int64, fn func(ctx context.Context) error) {
	if _, ok := a.rec.(Nop); ok {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			a.logger.Warn("history write failed",
				slog.String("stage", op),
				slog.Int64("user_id", userID),
				slog.String("error", err.Error()))
		}
	}()
}

// Close дожидается незавершённых записей и закрывает хранилище.
func (a *Async) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("wait history writes: %w", ctx.Err())
	}
	return a.rec.Close(ctx)
}
