package services

import (
	"context"
	"time"

	"chat-engine/internal/logging"
)

// Sweeper periodically purges sessions left tombstoned by an interrupted delete.
type Sweeper struct {
	manager  *MembershipManager
	interval time.Duration
	batch    int
}

func NewSweeper(manager *MembershipManager, interval time.Duration, batch int) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{manager: manager, interval: interval, batch: batch}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log := logging.Ctx(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			purged, err := s.manager.PurgeTombstoned(ctx, s.batch)
			if err != nil {
				log.Warn().Err(err).Msg("tombstone sweep failed")
				continue
			}
			if purged > 0 {
				log.Info().Int("purged", purged).Msg("tombstoned sessions purged")
			}
		}
	}
}
