package telegram

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"gptrelay/internal/httpserver"
	"gptrelay/internal/middleware"
)

// Dispatcher принимает входящие обновления. Dispatch не должен блокироваться
// на время генерации ответа: Telegram повторит webhook, если не получит ответ вовремя.
type Dispatcher interface {
	Dispatch(upd Update)
}

type WebhookDeps struct {
	Dispatcher    Dispatcher
	Logger        *slog.Logger
	WebhookSecret string
}

type WebhookHandler struct {
	dispatcher    Dispatcher
	logger        *slog.Logger
	webhookSecret string
}

func NewWebhookHandler(deps WebhookDeps) *WebhookHandler {
	return &WebhookHandler{
		dispatcher:    deps.Dispatcher,
		logger:        deps.Logger,
		webhookSecret: deps.WebhookSecret,
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.webhookSecret != "" {
		if secret := r.Header.Get("X-Telegram-Bot-Api-Secret-Token"); secret != h.webhookSecret {
			httpserver.WriteJSONError(w, http.StatusForbidden, "forbidden", "invalid webhook secret")
			return
		}
	}

	var upd Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		httpserver.WriteJSONError(w, http.StatusBadRequest, "bad_request", "cannot parse update")
		return
	}

	if upd.Message != nil && upd.Message.From != nil {
		h.logger.Debug("update received",
			slog.Int64("update_id", upd.UpdateID),
			slog.Int64("user_id", upd.Message.From.ID),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())))
		h.dispatcher.Dispatch(upd)
	}

	httpserver.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
