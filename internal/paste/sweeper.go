package paste

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"pasteit/internal/metrics"
)

// StartSweeper runs repo.Sweep every interval until ctx is cancelled.
func StartSweeper(ctx context.Context, repo *Repository, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweepOnce(ctx, repo, logger)
			}
		}
	}()
}

func sweepOnce(ctx context.Context, repo *Repository, logger zerolog.Logger) {
	c, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	metrics.SweepCycles.Inc()
	removed, err := repo.Sweep(c)
	if err != nil {
		logger.Error().Err(err).Msg("sweep failed")
	}
	if removed > 0 {
		logger.Info().Int("count", removed).Msg("sweeper removed expired pastes")
	}
}
