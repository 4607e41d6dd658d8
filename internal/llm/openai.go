package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"gptrelay/internal/config"
	"gptrelay/internal/dialog"
	"gptrelay/internal/retry"
)

var ErrInvalidModel = errors.New("model is required")

// StatusError неуспешный ответ сервиса, который не имеет смысла повторять.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// OpenAIClient клиент OpenAI-совместимого API (/chat/completions, /audio/transcriptions).
type OpenAIClient struct {
	cfg        config.OpenAIConfig
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
	logger     *slog.Logger
}

var (
	_ Client      = (*OpenAIClient)(nil)
	_ Transcriber = (*OpenAIClient)(nil)
)

// NewOpenAIClient ожидает http клиент без общего таймаута: тело потокового
// ответа читается столько, сколько длится генерация.
func NewOpenAIClient(cfg config.OpenAIConfig, httpClient *http.Client, logger *slog.Logger) *OpenAIClient {
	return &OpenAIClient{
		cfg:        cfg,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: httpClient,
		policy:     retry.DefaultPolicy(),
		logger:     logger,
	}
}

func (c *OpenAIClient) StreamChat(ctx context.Context, turns []dialog.Turn) (Stream, error) {
	if c.cfg.Model == "" {
		return nil, ErrInvalidModel
	}

	messages := make([]chatMessage, 0, len(turns)+1)
	if c.cfg.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: c.cfg.SystemPrompt})
	}
	for _, turn := range turns {
		messages = append(messages, chatMessage{Role: string(turn.Role), Content: turn.Content})
	}

	payload, err := json.Marshal(chatRequest{
		Model:         c.cfg.Model,
		Messages:      messages,
		Temperature:   c.cfg.Temperature,
		MaxTokens:     c.cfg.MaxTokens,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, body, err := retry.DoHTTP(ctx, c.policy, c.logger, func(ctx context.Context) (*http.Response, []byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		c.authorize(req)
		return c.send(req)
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return newSSEStream(resp.Body), nil
}

// send выполняет запрос. Успешный ответ возвращается с открытым телом,
// неуспешный вычитывается и закрывается, чтобы DoHTTP мог повторить запрос.
func (c *OpenAIClient) send(req *http.Request) (*http.Response, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("execute request: %w", err)
	}
	if resp.StatusCode < 300 {
		return resp, nil, nil
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	return resp, body, nil
}

func (c *OpenAIClient) authorize(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	Temperature   float64        `json:"temperature"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Stream        bool           `json:"stream"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
