package jobs

import (
	"context"
	"time"

	"marketpay/services"

	"github.com/rs/zerolog"
)

// StartDealSyncScheduler runs the deal-reference recovery sweep on its
// interval and the audit-row pruning once a day. Stops when ctx does.
func StartDealSyncScheduler(ctx context.Context, sync *services.DealSync, interval time.Duration, log zerolog.Logger) {
	sweepTicker := time.NewTicker(interval)
	go func() {
		defer sweepTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sweepTicker.C:
				if err := sync.Sweep(ctx); err != nil {
					log.Error().Err(err).Msg("deal sweep failed")
				}
			}
		}
	}()

	pruneTicker := time.NewTicker(24 * time.Hour)
	go func() {
		defer pruneTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-pruneTicker.C:
				if err := sync.PruneEvents(ctx); err != nil {
					log.Error().Err(err).Msg("webhook event pruning failed")
				}
			}
		}
	}()
}
