package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouter_Ping(t *testing.T) {
	router := NewRouter(RouterDeps{Logger: testLogger()})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "pong", rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestRouter_HealthIncludesDiagnostics(t *testing.T) {
	router := NewRouter(RouterDeps{
		Logger: testLogger(),
		Health: func() map[string]any { return map[string]any{"contexts": 3} },
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 3, body["contexts"])
}

func TestRouter_Webhook(t *testing.T) {
	called := false
	router := NewRouter(RouterDeps{
		Logger: testLogger(),
		WebhookHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			w.WriteHeader(http.StatusOK)
		}),
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader("{}")))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, called)
}

func TestRouter_WebhookAbsentInPollingMode(t *testing.T) {
	router := NewRouter(RouterDeps{Logger: testLogger()})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader("{}")))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "not_found")
}

func TestRouter_RecoversPanics(t *testing.T) {
	router := NewRouter(RouterDeps{
		Logger: testLogger(),
		WebhookHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}),
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader("{}")))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
