package logging

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/models"
)

// Retention is how long system_logs rows are kept.
const Retention = 30 * 24 * time.Hour

// StartCleanup prunes system_logs once per interval until ctx is done.
// The ledger and audit tables are never touched here; their triggers reject deletes anyway.
func StartCleanup(ctx context.Context, db *gorm.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				deleted, err := Prune(ctx, db, now.Add(-Retention))
				switch {
				case err != nil:
					slog.Error("system log cleanup failed", "error", err)
				case deleted > 0:
					slog.Info("system log cleanup completed", "deleted", deleted)
				}
			}
		}
	}()
}

// Prune deletes system_logs rows written before cutoff.
func Prune(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("timestamp < ?", cutoff.UTC()).Delete(&models.SystemLog{})
	return res.RowsAffected, res.Error
}
