// ABOUTME: Periodic expiry pass over the conversation registry
// ABOUTME: Bounds residency of channels that go silent and are never queried again

package conversation

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often the Sweeper walks the registry.
const DefaultSweepInterval = time.Minute

// Sweeper periodically calls Registry.Sweep.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper. A non-positive interval uses DefaultSweepInterval.
func NewSweeper(registry *Registry, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		registry: registry,
		interval: interval,
		logger:   logger.With("component", "conversation.sweeper"),
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Sweeper) sweepOnce() {
	start := time.Now()
	removed := s.registry.Sweep()
	if removed > 0 {
		s.logger.Info("expired idle conversations",
			"removed", removed,
			"duration", time.Since(start))
	}

	stats := s.registry.Stats()
	s.logger.Debug("registry stats after sweep",
		"channels", stats.Channels,
		"active", stats.Active)
}
