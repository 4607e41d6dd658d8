package llm

import (
	"context"

	"gptrelay/internal/dialog"
)

// Client стримит ответ модели на историю диалога.
type Client interface {
	StreamChat(ctx context.Context, turns []dialog.Turn) (Stream, error)
}

// Stream последовательность фрагментов ответа. Next возвращает io.EOF после
// последнего фрагмента; любая другая ошибка означает сбой генерации.
type Stream interface {
	Next() (string, error)
	Usage() Usage
	Close() error
}

// Usage расход токенов, если сервис его сообщил (stream_options.include_usage).
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Transcriber переводит аудиофайл в текст.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}
