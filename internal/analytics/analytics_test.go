package analytics

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"gptrelay/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WithoutKeyFallsBackToLog(t *testing.T) {
	sink, err := New(config.AnalyticsConfig{BotName: "bot"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	_, ok := sink.(*LogSink)
	assert.True(t, ok)
	assert.NoError(t, sink.Close())
}

func TestLogSink_WritesEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	NewLogSink("relay-bot", logger).Record(42, EventMessageSent, map[string]any{"message_type": "voice"})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, EventMessageSent, entry["event"])
	assert.Equal(t, "relay-bot", entry["bot"])
	assert.EqualValues(t, 42, entry["user_id"])
	assert.Equal(t, "voice", entry["message_type"])
}

func TestPostHog_FlushesOnClose(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, r.URL.Path+" "+string(body))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink, err := NewPostHog(config.AnalyticsConfig{
		PostHogAPIKey: "phc_test",
		PostHogHost:   server.URL,
		BotName:       "relay-bot",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	sink.Record(7, EventBotStart, nil)
	require.NoError(t, sink.Close())

	mu.Lock()
	defer mu.Unlock()
	joined := strings.Join(bodies, "\n")
	assert.Contains(t, joined, "batch")
	assert.Contains(t, joined, EventBotStart)
	assert.Contains(t, joined, "relay-bot")
}
