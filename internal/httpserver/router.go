package httpserver

import (
	"log/slog"
	"net/http"

	"gptrelay/internal/middleware"

	"github.com/go-chi/chi/v5"
)

// HealthFunc сообщает диагностику процесса для /healthz.
type HealthFunc func() map[string]any

type RouterDeps struct {
	Logger         *slog.Logger
	WebhookHandler http.Handler
	Health         HealthFunc
}

// NewRouter собирает chi-роутер. Webhook монтируется только если задан обработчик
// (в режиме polling его нет).
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(deps.Logger))
	r.Use(middleware.Logging(deps.Logger))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ok"}
		if deps.Health != nil {
			for k, v := range deps.Health() {
				body[k] = v
			}
		}
		WriteJSON(w, http.StatusOK, body)
	})

	if deps.WebhookHandler != nil {
		r.Method(http.MethodPost, "/telegram/webhook", deps.WebhookHandler)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteJSONError(w, http.StatusNotFound, "not_found", "route not found")
	})

	return r
}
