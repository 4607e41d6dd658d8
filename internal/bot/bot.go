// Package bot связывает входящие обновления Telegram с диалогами, моделью и доставкой ответа.
package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"unicode/utf8"

	"gptrelay/internal/analytics"
	"gptrelay/internal/dialog"
	"gptrelay/internal/history"
	"gptrelay/internal/llm"
	"gptrelay/internal/relay"
	"gptrelay/internal/telegram"
)

const (
	apologyText    = "Извините, произошла ошибка. Попробуйте позже."
	voiceErrorText = "Sorry, I couldn't process your voice message."
)

// Messenger операции Telegram, которые нужны обработчику напрямую.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, parseMode string) (int64, error)
	EditMessage(ctx context.Context, chatID int64, messageID int64, text string, parseMode string) error
	GetFile(ctx context.Context, fileID string) (telegram.File, error)
	DownloadFile(ctx context.Context, filePath string, dst io.Writer) error
}

// Streamer доставляет потоковый ответ в чат.
type Streamer interface {
	Run(ctx context.Context, chatID, userID int64, stream relay.Fragments) (relay.Result, error)
}

// HistoryWriter фоновая запись профилей и обменов.
type HistoryWriter interface {
	TouchUser(user history.User)
	SaveInteraction(rec history.Record)
}

type Deps struct {
	Messenger   Messenger
	Store       *dialog.Store
	LLM         llm.Client
	Transcriber llm.Transcriber
	Relay       Streamer
	Analytics   analytics.Sink
	History     HistoryWriter
	Logger      *slog.Logger
	Model       string
	SupportBot  string
	// TempDir каталог для временных аудиофайлов; пустой означает os.TempDir.
	TempDir string
}

// Handler обрабатывает обновления. Сообщения одного пользователя
// обрабатываются строго по очереди, разных пользователей параллельно.
type Handler struct {
	deps   Deps
	logger *slog.Logger
	locks  *keyedMutex
	wg     sync.WaitGroup
	ctx    context.Context
}

var _ telegram.Dispatcher = (*Handler)(nil)

func New(ctx context.Context, deps Deps) *Handler {
	if deps.Analytics == nil {
		deps.Analytics = analytics.NewLogSink("", deps.Logger)
	}
	if deps.History == nil {
		deps.History = history.NewAsync(history.Nop{}, 0, deps.Logger)
	}
	return &Handler{
		deps:   deps,
		logger: deps.Logger,
		locks:  newKeyedMutex(),
		ctx:    context.WithoutCancel(ctx),
	}
}

// Dispatch запускает обработку обновления в фоне и сразу возвращает управление.
func (h *Handler) Dispatch(upd telegram.Update) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.Handle(h.ctx, upd)
	}()
}

// Wait дожидается завершения начатых обработок или отмены ctx.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait in-flight updates: %w", ctx.Err())
	}
}

// Handle синхронно обрабатывает одно обновление. Panic не выходит за его пределы.
func (h *Handler) Handle(ctx context.Context, upd telegram.Update) {
	msg := upd.Message
	if msg == nil || msg.From == nil {
		return
	}
	userID := msg.From.ID

	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("panic while handling update",
				slog.Int64("update_id", upd.UpdateID),
				slog.Int64("user_id", userID),
				slog.Any("error", rec),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	unlock := h.locks.Lock(userID)
	defer unlock()

	h.deps.History.TouchUser(history.User{
		UserID:    userID,
		Username:  msg.From.Username,
		FirstName: msg.From.FirstName,
	})

	if msg.IsCommand() {
		if h.handleCommand(ctx, msg) {
			return
		}
	}

	messageType := history.MessageTypeText
	text := strings.TrimSpace(msg.Text)
	if fileID, ok := msg.AudioFileID(); ok {
		messageType = history.MessageTypeVoice
		transcribed, err := h.transcribe(ctx, fileID)
		if err != nil {
			h.fail(ctx, msg, "transcription", err, voiceErrorText)
			return
		}
		text = transcribed
	}
	if text == "" {
		h.logger.Debug("skip message without text", slog.Int64("user_id", userID))
		return
	}

	h.respond(ctx, msg, text, messageType)
}

// respond добавляет реплику пользователя в диалог, стримит ответ модели
// и при успешной доставке сохраняет ответ ассистента.
func (h *Handler) respond(ctx context.Context, msg *telegram.Message, text, messageType string) {
	userID := msg.From.ID
	chatID := msg.Chat.ID
	logger := h.logger.With(slog.Int64("user_id", userID))

	h.deps.Store.Append(userID, dialog.RoleUser, text)
	turns := h.deps.Store.Snapshot(userID)
	logger.Info("starting completion", slog.Int("turns", len(turns)))

	stream, err := h.deps.LLM.StreamChat(ctx, turns)
	if err != nil {
		h.fail(ctx, msg, "completion", err, apologyText)
		return
	}
	defer stream.Close()

	res, err := h.deps.Relay.Run(ctx, chatID, userID, stream)
	if err != nil {
		if errors.Is(err, relay.ErrDeliveryFailed) {
			// ответ сгенерирован, но не доставлен: извинение упрётся в тот же канал
			h.fail(ctx, msg, "delivery", err, "")
			return
		}
		h.fail(ctx, msg, "completion", err, "")
		h.replace(ctx, chatID, res.MessageID, apologyText)
		return
	}

	h.deps.Store.Append(userID, dialog.RoleAssistant, res.Text)

	tokens := stream.Usage().CompletionTokens
	if tokens == 0 {
		tokens = utf8.RuneCountInString(res.Text)
	}
	h.deps.Analytics.Record(userID, analytics.EventMessageSent, map[string]any{
		"tokens":         tokens,
		"message_length": utf8.RuneCountInString(text),
		"message_type":   messageType,
		"degraded":       res.Degraded,
	})
	h.deps.History.SaveInteraction(history.Record{
		UserID:      userID,
		Username:    msg.From.Username,
		FirstName:   msg.From.FirstName,
		UserMessage: text,
		BotResponse: res.Text,
		MessageType: messageType,
	})
	logger.Info("completed message generation", slog.Int("edits", res.Edits))
}

// fail логирует ошибку этапа, отправляет событие и, если задан, короткий ответ пользователю.
func (h *Handler) fail(ctx context.Context, msg *telegram.Message, stage string, err error, userText string) {
	userID := msg.From.ID
	h.logger.Error("update handling failed",
		slog.Int64("user_id", userID),
		slog.String("stage", stage),
		slog.String("error", err.Error()))

	h.deps.Analytics.Record(userID, analytics.EventError, map[string]any{
		"stage":      stage,
		"error_type": errorType(err),
	})
	if userText != "" {
		h.reply(ctx, msg.Chat.ID, userText, telegram.ParseModeNone)
	}
}

func (h *Handler) reply(ctx context.Context, chatID int64, text, parseMode string) {
	if _, err := h.deps.Messenger.SendMessage(ctx, chatID, text, parseMode); err != nil {
		h.logger.Error("send message failed",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()))
	}
}

// replace заменяет оставшуюся заглушку текстом text, а без заглушки
// или при ошибке редактирования отправляет его новым сообщением.
func (h *Handler) replace(ctx context.Context, chatID, messageID int64, text string) {
	if messageID != 0 {
		err := h.deps.Messenger.EditMessage(ctx, chatID, messageID, text, telegram.ParseModeNone)
		if err == nil {
			return
		}
		h.logger.Warn("replace placeholder failed",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()))
	}
	h.reply(ctx, chatID, text, telegram.ParseModeNone)
}

func errorType(err error) string {
	switch {
	case errors.Is(err, relay.ErrStream):
		return "stream"
	case errors.Is(err, relay.ErrEmptyResponse):
		return "empty_response"
	case errors.Is(err, relay.ErrDeliveryFailed):
		return "delivery"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	}
	var statusErr *llm.StatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("http_%d", statusErr.StatusCode)
	}
	var apiErr *telegram.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("telegram_%d", apiErr.ErrorCode)
	}
	return "internal"
}
