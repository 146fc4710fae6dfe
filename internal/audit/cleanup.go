package audit

import (
	"context"
	"time"

	log "github.com/go-pkgz/lgr"
)

// RunCleanup periodically purges audit entries older than retention,
// blocking until ctx is canceled — the same ticker-until-cancel shape
// internal/reconcile's Runner uses for its own background loops.
func (l *Logger) RunCleanup(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retention)
			if _, err := l.store.DeleteAuditOlderThan(ctx, cutoff); err != nil {
				log.Printf("[WARN] audit cleanup failed: %v", err)
			}
		}
	}
}
