// ABOUTME: Background sweep of expired key-history entries
// ABOUTME: Periodic janitor; expired entries are already rejected at lookup, this reclaims rows

package registry

import (
	"context"
	"time"
)

// StartSweeper launches a goroutine that periodically deletes key-history
// entries whose grace period has passed. It stops when ctx is cancelled.
// Returns a channel that closes when the sweeper has exited.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				count, err := s.store.DeleteExpiredHistory(ctx, time.Now())
				if err != nil {
					s.logger.Warn("key history sweep failed", "error", err)
					continue
				}
				if count > 0 {
					s.logger.Info("swept expired key history", "count", count)
				}
			}
		}
	}()
	return done
}
