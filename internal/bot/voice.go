package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"unicode/utf8"
)

var errEmptyTranscription = errors.New("empty transcription")

// transcribe скачивает голосовое сообщение во временный .oga файл и распознаёт его.
// Файл удаляется в любом случае.
func (h *Handler) transcribe(ctx context.Context, fileID string) (string, error) {
	if h.deps.Transcriber == nil {
		return "", errors.New("transcription is not configured")
	}

	file, err := h.deps.Messenger.GetFile(ctx, fileID)
	if err != nil {
		return "", fmt.Errorf("get file: %w", err)
	}

	tmp, err := os.CreateTemp(h.deps.TempDir, "voice-*.oga")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	path := tmp.Name()
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.logger.Warn("remove temp audio failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}()

	if err := h.deps.Messenger.DownloadFile(ctx, file.FilePath, tmp); err != nil {
		tmp.Close()
		return "", fmt.Errorf("download file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	text, err := h.deps.Transcriber.Transcribe(ctx, path)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", errEmptyTranscription
	}

	preview := text
	if utf8.RuneCountInString(preview) > 50 {
		preview = string([]rune(preview)[:50])
	}
	h.logger.Info("voice message transcribed", slog.String("preview", preview))
	return text, nil
}
