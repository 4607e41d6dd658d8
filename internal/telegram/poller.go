package telegram

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	// DefaultPollTimeout таймаут long polling в getUpdates.
	DefaultPollTimeout = 10 * time.Second

	pollErrorBackoff    = time.Second
	pollErrorMaxBackoff = 30 * time.Second
)

type updateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]Update, error)
}

// Poller получает обновления через getUpdates, используется вместо webhook при локальном запуске.
type Poller struct {
	source     updateSource
	dispatcher Dispatcher
	timeout    time.Duration
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewPoller(source updateSource, dispatcher Dispatcher, timeout time.Duration, logger *slog.Logger) *Poller {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	return &Poller{
		source:     source,
		dispatcher: dispatcher,
		timeout:    timeout,
		logger:     logger,
		sleep:      sleepContext,
	}
}

// Run опрашивает Telegram, пока не отменён ctx. Ошибки опроса не фатальны:
// после паузы (удваивается до 30s) опрос продолжается.
func (p *Poller) Run(ctx context.Context) error {
	var offset int64
	backoff := pollErrorBackoff

	for {
		updates, err := p.source.GetUpdates(ctx, offset, int(p.timeout/time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := backoff
			if retryAfter := throttleDelay(err); retryAfter > 0 {
				delay = retryAfter
			}
			p.logger.Warn("get updates failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay))
			if err := p.sleep(ctx, delay); err != nil {
				return err
			}
			backoff = min(backoff*2, pollErrorMaxBackoff)
			continue
		}
		backoff = pollErrorBackoff

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			if upd.Message == nil || upd.Message.From == nil {
				continue
			}
			p.dispatcher.Dispatch(upd)
		}
	}
}

func throttleDelay(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Throttled() {
		return apiErr.RetryAfter()
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
