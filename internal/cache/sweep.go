package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// SweepTimeout bounds a single ClearExpired pass.
const SweepTimeout = 5 * time.Minute

// RunSweepLoop clears expired entries immediately and then every interval
// until stop is closed. A non-positive interval returns at once.
func RunSweepLoop(stop <-chan struct{}, store Store, interval time.Duration, clock clockwork.Clock, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}

	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	sweep := func() {
		ctx, cancel := context.WithTimeout(context.Background(), SweepTimeout)
		defer cancel()
		if _, err := store.ClearExpired(ctx); err != nil {
			logger.Error("failed to clear expired cache entries", "error", err)
		}
	}

	sweep()
	for {
		select {
		case <-ticker.Chan():
			sweep()
		case <-stop:
			return
		}
	}
}
