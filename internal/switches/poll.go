package switches

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Poll reads src every interval and stores each reading in latest until ctx is done.
func Poll(ctx context.Context, src Source, interval time.Duration, latest *Latest, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failing := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r, err := src.Read()
			if err != nil {
				if !failing {
					logger.Error().Err(err).Msg("switch read failed")
					failing = true
				}
				continue
			}
			if failing {
				logger.Info().Msg("switch reads recovered")
				failing = false
			}
			latest.Store(r)
		}
	}
}
