package telegram

import (
	"fmt"
	"net/http"
	"time"
)

// APIError ошибка, которую вернул Bot API (ok=false или неуспешный HTTP статус).
type APIError struct {
	Method      string
	StatusCode  int
	ErrorCode   int
	Description string
	// RetryAfterSeconds из parameters.retry_after, заполняется при flood control.
	RetryAfterSeconds int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: error %d: %s", e.Method, e.ErrorCode, e.Description)
}

// Throttled сообщает, что запрос отклонён из-за превышения лимита (flood control).
func (e *APIError) Throttled() bool {
	return e.ErrorCode == http.StatusTooManyRequests || e.StatusCode == http.StatusTooManyRequests
}

// RetryAfter рекомендованная Telegram пауза перед повтором.
func (e *APIError) RetryAfter() time.Duration {
	if e.RetryAfterSeconds <= 0 {
		return 0
	}
	return time.Duration(e.RetryAfterSeconds) * time.Second
}
