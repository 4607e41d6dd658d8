package llm

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const doneMarker = "[DONE]"

type chunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// sseStream разбирает text/event-stream ответа /chat/completions.
// Каждое событие "data:" содержит JSON-чанк, поток завершается "data: [DONE]".
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	usage   Usage
	done    bool
}

func newSSEStream(body io.ReadCloser) *sseStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseStream{body: body, scanner: scanner}
}

// Next возвращает следующий непустой фрагмент текста.
func (s *sseStream) Next() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := strings.TrimRight(s.scanner.Text(), "\r")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		if field != "data" {
			continue
		}
		data := strings.TrimPrefix(value, " ")
		if data == doneMarker {
			s.done = true
			return "", io.EOF
		}

		var c chunk
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return "", fmt.Errorf("decode stream chunk: %w", err)
		}
		if c.Error != nil {
			return "", fmt.Errorf("stream error (%s): %s", c.Error.Type, c.Error.Message)
		}
		if c.Usage != nil {
			s.usage = *c.Usage
		}
		for _, choice := range c.Choices {
			if choice.Delta.Content != "" {
				return choice.Delta.Content, nil
			}
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("read stream: %w", err)
	}
	// соединение закрыто без [DONE]
	return "", errors.New("stream ended unexpectedly")
}

func (s *sseStream) Usage() Usage {
	return s.usage
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
