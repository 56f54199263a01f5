package quota

import (
	"context"
	"time"
)

const (
	// CleanupInterval is how often RunCleanupLoop deletes old counters.
	CleanupInterval = 1 * time.Hour

	cleanupTimeout = 5 * time.Minute
)

// RunCleanupLoop runs CleanupOldRecords immediately and then every
// CleanupInterval until stop is closed. It returns at once when
// retentionDays is not positive.
func (t *Tracker) RunCleanupLoop(stop <-chan struct{}, retentionDays int) {
	if retentionDays <= 0 {
		return
	}

	ticker := t.clock.NewTicker(CleanupInterval)
	defer ticker.Stop()

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if _, err := t.CleanupOldRecords(ctx, retentionDays); err != nil {
			t.logger.Error("failed to cleanup old quota usage", "error", err)
		}
	}

	cleanup()
	for {
		select {
		case <-ticker.Chan():
			cleanup()
		case <-stop:
			return
		}
	}
}
