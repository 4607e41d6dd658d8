// Package retry содержит политики повторов: HTTP-повторы для вызовов LLM
// и ограниченный повтор операций, упёршихся в rate limit чата.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

type (
	Sleeper  func(ctx context.Context, d time.Duration) error
	NowFunc  func() time.Time
	RandFunc func() float64
)

// Policy описывает число попыток и рост пауз между ними.
// Нулевые поля заменяются значениями DefaultPolicy.
type Policy struct {
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	MaxAttempts    int
	JitterFraction float64
	SnippetLimit   int
	Sleep          Sleeper
	Now            NowFunc
	Rand           RandFunc
}

// DefaultPolicy политика для HTTP-запросов к внешним API: 6 попыток,
// пауза от 500ms с удвоением до 8s и разбросом ±30%.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       8 * time.Second,
		Multiplier:     2,
		MaxAttempts:    6,
		JitterFraction: httpJitter,
		SnippetLimit:   200,
	}.normalize()
}

// ThrottlePolicy политика для операций, упёршихся в flood control:
// 3 попытки, первая пауза 1s, затем удвоение. Джиттер не используется.
func ThrottlePolicy() Policy {
	return Policy{
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
		Multiplier:  2,
		MaxAttempts: 3,
	}.normalize()
}

const httpJitter = 0.30

// ExhaustedError возвращается, когда все попытки израсходованы.
type ExhaustedError struct {
	Cause    error
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry attempts exhausted after %d: %v", e.Attempts, e.Cause)
}

func (e *ExhaustedError) Unwrap() error { return e.Cause }

func (p Policy) normalize() Policy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 8 * time.Second
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 6
	}
	if p.SnippetLimit <= 0 {
		p.SnippetLimit = 200
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Rand == nil {
		p.Rand = rand.New(rand.NewSource(time.Now().UnixNano())).Float64
	}
	return p
}

// backoff пауза перед повтором номер n (n >= 1), не больше MaxDelay.
func (p Policy) backoff(n int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 1; i < n && d < float64(p.MaxDelay); i++ {
		d *= p.Multiplier
	}
	return min(time.Duration(d), p.MaxDelay)
}

// jitter разносит паузу в пределах ±JitterFraction.
func (p Policy) jitter(d time.Duration) time.Duration {
	if d <= 0 || p.JitterFraction <= 0 {
		return d
	}
	spread := (p.Rand()*2 - 1) * p.JitterFraction
	return max(time.Duration(float64(d)*(1+spread)), 0)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retryEvent запланированная повторная попытка, пишется в лог одной строкой.
type retryEvent struct {
	next       int
	of         int
	reason     string
	wait       time.Duration
	retryAfter bool
	status     int
	snippet    string
}

func (e retryEvent) log(logger *slog.Logger, msg string) {
	if logger == nil {
		return
	}
	attrs := []slog.Attr{
		slog.Int("attempt", e.next),
		slog.Int("max_attempts", e.of),
		slog.String("reason", e.reason),
		slog.Duration("retry_in", e.wait),
		slog.Bool("retry_after_used", e.retryAfter),
	}
	if e.status != 0 {
		attrs = append(attrs, slog.Int("status", e.status))
	}
	if e.snippet != "" {
		attrs = append(attrs, slog.String("snippet", e.snippet))
	}
	logger.LogAttrs(context.Background(), slog.LevelWarn, msg, attrs...)
}

func truncate(body []byte, limit int) string {
	if limit <= 0 || len(body) == 0 {
		return ""
	}
	return string(body[:min(len(body), limit)])
}
