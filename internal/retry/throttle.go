package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Throttler реализуют ошибки, которыми внешний канал сообщает о превышении лимита запросов.
// RetryAfter возвращает рекомендованную паузу или 0, если канал её не указал.
type Throttler interface {
	error
	Throttled() bool
	RetryAfter() time.Duration
}

// AsThrottled сообщает, является ли err (или любая обёрнутая в неё ошибка) сигналом throttling.
func AsThrottled(err error) (Throttler, bool) {
	var t Throttler
	if errors.As(err, &t) && t.Throttled() {
		return t, true
	}
	return nil, false
}

// Do выполняет op и повторяет её только при throttling, не более policy.MaxAttempts раз.
// Пауза берётся из RetryAfter ошибки, иначе используется текущая задержка;
// следующая задержка равна последней паузе, умноженной на policy.Multiplier.
// Прочие ошибки возвращаются сразу, при исчерпании попыток возвращается *ExhaustedError.
func Do[T any](ctx context.Context, policy Policy, logger *slog.Logger, op func(ctx context.Context) (T, error)) (T, error) {
	policy = policy.normalize()

	var zero T
	delay := policy.BaseDelay
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		throttled, ok := AsThrottled(err)
		if !ok {
			return zero, err
		}
		if attempt >= policy.MaxAttempts {
			return zero, &ExhaustedError{Cause: err, Attempts: attempt}
		}

		wait := delay
		advised := throttled.RetryAfter()
		if advised > 0 {
			wait = advised
		}
		retryEvent{
			next:       attempt + 1,
			of:         policy.MaxAttempts,
			reason:     "throttled",
			wait:       wait,
			retryAfter: advised > 0,
		}.log(logger, "flood control hit, waiting before retry")
		if err := policy.Sleep(ctx, wait); err != nil {
			return zero, err
		}
		delay = time.Duration(float64(wait) * policy.Multiplier)
	}
}
