package dialog

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval период фоновой очистки контекстов.
const DefaultSweepInterval = 60 * time.Second

// Sweeper периодически удаляет истёкшие контексты из Store.
type Sweeper struct {
	store    *Store
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper создаёт фоновую задачу очистки.
func NewSweeper(store *Store, ttl, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		store:    store,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
	}
}

// Run выполняет очистку раз в interval, пока не отменён ctx.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	evicted := s.store.SweepExpired(s.ttl)
	if len(evicted) == 0 || s.logger == nil {
		return
	}
	s.logger.Debug("expired contexts evicted",
		slog.Int("count", len(evicted)),
		slog.Int("remaining", s.store.Len()))
}
