package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-archive-bot/internal/repo"
)

// purgeIdempotency deletes expired replay records every interval until ctx
// is canceled.
func purgeIdempotency(ctx context.Context, db *gorm.DB, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("purge expired idempotency records")
				continue
			}
			if n > 0 {
				log.Info().Int64("deleted", n).Msg("purged expired idempotency records")
			}
		}
	}
}
