package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type throttleErr struct {
	retryAfter time.Duration
}

func (e *throttleErr) Error() string             { return "Too Many Requests" }
func (e *throttleErr) Throttled() bool           { return true }
func (e *throttleErr) RetryAfter() time.Duration { return e.retryAfter }

func throttlePolicy(sleep *recordSleeper) Policy {
	p := ThrottlePolicy()
	p.Sleep = sleep.Sleep
	return p
}

func TestDo_ThrottledTwiceThenSuccess(t *testing.T) {
	sleep := &recordSleeper{}
	var calls int

	got, err := Do(context.Background(), throttlePolicy(sleep), nil, func(ctx context.Context) (int64, error) {
		calls++
		if calls <= 2 {
			return 0, &throttleErr{}
		}
		return 77, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 77 {
		t.Fatalf("expected result 77, got %d", got)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(sleep.delays) != 2 || sleep.delays[0] != time.Second || sleep.delays[1] != 2*time.Second {
		t.Fatalf("expected doubling delays [1s 2s], got %v", sleep.delays)
	}
}

func TestDo_AlwaysThrottledExhausts(t *testing.T) {
	sleep := &recordSleeper{}
	var calls int

	_, err := Do(context.Background(), throttlePolicy(sleep), nil, func(ctx context.Context) (struct{}, error) {
		calls++
		return struct{}{}, &throttleErr{}
	})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 3 || calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got attempts=%d calls=%d", exhausted.Attempts, calls)
	}
	if _, ok := AsThrottled(err); !ok {
		t.Fatalf("exhausted error must keep the throttle cause")
	}
}

func TestDo_RetryAfterAdvisory(t *testing.T) {
	sleep := &recordSleeper{}
	var calls int

	_, err := Do(context.Background(), throttlePolicy(sleep), nil, func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", fmt.Errorf("edit message: %w", &throttleErr{retryAfter: 7 * time.Second})
		}
		if calls == 2 {
			return "", &throttleErr{}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Подсказка канала используется как есть и становится базой для следующей паузы
	if len(sleep.delays) != 2 || sleep.delays[0] != 7*time.Second || sleep.delays[1] != 14*time.Second {
		t.Fatalf("expected delays [7s 14s], got %v", sleep.delays)
	}
}

func TestDo_NonThrottleErrorNotRetried(t *testing.T) {
	sleep := &recordSleeper{}
	boom := errors.New("bad request: message text is empty")
	var calls int

	_, err := Do(context.Background(), throttlePolicy(sleep), nil, func(ctx context.Context) (int, error) {
		calls++
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected original error, got %v", err)
	}
	if calls != 1 || len(sleep.delays) != 0 {
		t.Fatalf("expected single call without sleeps, got calls=%d sleeps=%d", calls, len(sleep.delays))
	}
}

func TestDo_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := ThrottlePolicy()
	policy.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := Do(ctx, policy, nil, func(ctx context.Context) (int, error) {
		return 0, &throttleErr{}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
