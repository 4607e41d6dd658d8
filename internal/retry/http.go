package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// HTTPStatusError ответ сервера со статусом, который имеет смысл повторить.
type HTTPStatusError struct {
	StatusCode  int
	BodySnippet string
}

func (e *HTTPStatusError) Error() string {
	if e.BodySnippet == "" {
		return fmt.Sprintf("transient status %d", e.StatusCode)
	}
	return fmt.Sprintf("transient status %d: %s", e.StatusCode, e.BodySnippet)
}

var transientStatuses = map[int]string{
	http.StatusRequestTimeout:      "timeout",
	http.StatusTooManyRequests:     "rate limit",
	http.StatusInternalServerError: "upstream 5xx",
	http.StatusBadGateway:          "upstream 5xx",
	http.StatusServiceUnavailable:  "upstream 5xx",
	http.StatusGatewayTimeout:      "upstream 5xx",
}

// DoHTTP выполняет do с повторами на сетевых ошибках и статусах 408/429/5xx.
// Для потоковых ответов do может вернуть resp с непрочитанным телом и body == nil:
// тело тогда остаётся открытым и закрывается вызывающим.
func DoHTTP(ctx context.Context, policy Policy, logger *slog.Logger, do func(ctx context.Context) (*http.Response, []byte, error)) (*http.Response, []byte, error) {
	policy = policy.normalize()
	if policy.JitterFraction == 0 {
		policy.JitterFraction = httpJitter
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		resp, body, err := do(ctx)
		ev := retryEvent{next: attempt + 1, of: policy.MaxAttempts}
		var cause error

		switch {
		case err != nil:
			reason, ok := netErrReason(ctx, err)
			if !ok {
				return resp, body, err
			}
			cause = err
			ev.reason = reason
			ev.wait = policy.jitter(policy.backoff(attempt))
		case resp == nil:
			return nil, nil, errors.New("nil response from http client")
		default:
			reason, ok := transientStatuses[resp.StatusCode]
			if !ok {
				return resp, body, nil
			}
			ev.status = resp.StatusCode
			ev.reason = reason
			ev.snippet = truncate(body, policy.SnippetLimit)
			cause = &HTTPStatusError{StatusCode: ev.status, BodySnippet: ev.snippet}
			if advised, ok := retryAfter(resp.Header, policy.Now()); ok {
				ev.wait = min(advised, policy.MaxDelay)
				ev.retryAfter = true
			} else {
				ev.wait = policy.jitter(policy.backoff(attempt))
			}
		}

		if attempt >= policy.MaxAttempts {
			return resp, body, &ExhaustedError{Cause: cause, Attempts: attempt}
		}
		ev.log(logger, "retrying request")
		if err := policy.Sleep(ctx, ev.wait); err != nil {
			return nil, nil, err
		}
	}
}

// retryAfter разбирает заголовок Retry-After: число секунд или HTTP-дату.
func retryAfter(header http.Header, now time.Time) (time.Duration, bool) {
	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return max(time.Duration(seconds)*time.Second, 0), true
	}
	at, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	return max(at.Sub(now), 0), true
}

// netErrReason решает, стоит ли повторять сетевую ошибку, и называет её причину для лога.
// Отмена ctx не повторяется.
func netErrReason(ctx context.Context, err error) (string, bool) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return "", false
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout", true
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout", true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return "eof", true
	case errors.Is(err, syscall.ECONNRESET):
		return "connection reset", true
	}
	return "", false
}
