package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"gptrelay/internal/config"
)

const (
	// ParseModeHTML включает HTML-разметку Telegram.
	ParseModeHTML = "HTML"
	// ParseModeNone отправляет текст без разметки.
	ParseModeNone = ""

	ChatActionTyping = "typing"
)

type BotClient interface {
	SendMessage(ctx context.Context, chatID int64, text string, parseMode string) (int64, error)
	EditMessage(ctx context.Context, chatID int64, messageID int64, text string, parseMode string) error
	SendChatAction(ctx context.Context, chatID int64, action string) error
	GetFile(ctx context.Context, fileID string) (File, error)
	DownloadFile(ctx context.Context, filePath string, dst io.Writer) error
	GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]Update, error)
}

var _ BotClient = (*HTTPBotClient)(nil)

type HTTPBotClient struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg config.TelegramConfig, httpClient *http.Client) *HTTPBotClient {
	return &HTTPBotClient{
		token:      cfg.BotToken,
		baseURL:    strings.TrimSuffix(cfg.APIBaseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *HTTPBotClient) SendMessage(ctx context.Context, chatID int64, text string, parseMode string) (int64, error) {
	var sent Message
	err := c.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:    chatID,
		Text:      text,
		ParseMode: parseMode,
	}, &sent)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (c *HTTPBotClient) EditMessage(ctx context.Context, chatID int64, messageID int64, text string, parseMode string) error {
	// editMessageText возвращает Message или true для inline-сообщений, результат не нужен.
	var ignored json.RawMessage
	return c.call(ctx, "editMessageText", editMessageRequest{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
		ParseMode: parseMode,
	}, &ignored)
}

func (c *HTTPBotClient) SendChatAction(ctx context.Context, chatID int64, action string) error {
	var ok bool
	return c.call(ctx, "sendChatAction", sendChatActionRequest{ChatID: chatID, Action: action}, &ok)
}

func (c *HTTPBotClient) GetFile(ctx context.Context, fileID string) (File, error) {
	var file File
	if err := c.call(ctx, "getFile", getFileRequest{FileID: fileID}, &file); err != nil {
		return File{}, err
	}
	if file.FilePath == "" {
		return File{}, fmt.Errorf("telegram getFile: empty file_path for %s", fileID)
	}
	return file, nil
}

// DownloadFile скачивает файл по file_path, полученному из GetFile, и пишет его в dst.
func (c *HTTPBotClient) DownloadFile(ctx context.Context, filePath string, dst io.Writer) error {
	endpoint := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, strings.TrimPrefix(filePath, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build telegram file request: %w", c.redact(err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute telegram file request: %w", c.redact(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{Method: "file", StatusCode: resp.StatusCode, ErrorCode: resp.StatusCode, Description: resp.Status}
	}
	if _, err := io.Copy(dst, resp.Body); err != nil {
		return fmt.Errorf("read telegram file: %w", err)
	}
	return nil
}

// GetUpdates выполняет long polling. timeoutSeconds должен быть меньше таймаута http клиента.
func (c *HTTPBotClient) GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]Update, error) {
	var updates []Update
	err := c.call(ctx, "getUpdates", getUpdatesRequest{
		Offset:         offset,
		Timeout:        timeoutSeconds,
		AllowedUpdates: []string{"message"},
	}, &updates)
	return updates, err
}

// call выполняет метод Bot API и раскладывает result в out.
// Ошибки API возвращаются как *APIError, чтобы вызывающий мог отличить flood control.
func (c *HTTPBotClient) call(ctx context.Context, method string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", c.redact(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute telegram request: %w", c.redact(err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read telegram response: %w", err)
	}

	var envelope apiResponse[json.RawMessage]
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{Method: method, StatusCode: resp.StatusCode, ErrorCode: resp.StatusCode, Description: string(respBody)}
		}
		return fmt.Errorf("decode telegram response: %w", err)
	}

	if !envelope.Ok {
		apiErr := &APIError{
			Method:      method,
			StatusCode:  resp.StatusCode,
			ErrorCode:   envelope.ErrorCode,
			Description: envelope.Description,
		}
		if envelope.Parameters != nil {
			apiErr.RetryAfterSeconds = envelope.Parameters.RetryAfter
		}
		return apiErr
	}

	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("decode telegram %s result: %w", method, err)
	}
	return nil
}

// redact убирает токен бота из URL в транспортных ошибках, чтобы он не попадал в логи.
func (c *HTTPBotClient) redact(err error) error {
	var urlErr *url.Error
	if c.token == "" || !errors.As(err, &urlErr) {
		return err
	}
	return &url.Error{
		Op:  urlErr.Op,
		URL: strings.ReplaceAll(urlErr.URL, c.token, "<redacted>"),
		Err: urlErr.Err,
	}
}
