package checkpoint

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often the sweeper looks for abandoned sessions.
const DefaultSweepInterval = 5 * time.Minute

// SweepCallback is called after a sweep removed at least one session.
type SweepCallback func(removed int64)

// StartSweeper runs a background goroutine that periodically expires
// abandoned (non-terminal) sessions older than ttl. It stops with ctx.
func StartSweeper(ctx context.Context, store Store, interval, ttl time.Duration, onSweep SweepCallback) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("checkpoint sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				Sweep(ctx, store, ttl, onSweep)
			case <-ctx.Done():
				slog.Info("checkpoint sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep runs one expiry pass and returns the number of sessions removed.
func Sweep(ctx context.Context, store Store, ttl time.Duration, onSweep SweepCallback) int64 {
	removed, err := store.Expire(ctx, ttl)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("checkpoint sweep canceled", "error", err)
			return 0
		}
		slog.Error("checkpoint sweep failed", "error", err)
		return 0
	}
	if removed == 0 {
		return 0
	}
	slog.Info("checkpoint sweep expired abandoned sessions", "count", removed)
	if onSweep != nil {
		onSweep(removed)
	}
	return removed
}
