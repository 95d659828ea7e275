package db

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// runRetentionOnce performs a single pass of retention cleanup. Projects
// with their own retention_days keep that many days of errors and hourly
// buckets; all others keep defaultDays. defaultDays <= 0 keeps them forever.
func runRetentionOnce(ctx context.Context, db *gorm.DB, now time.Time, defaultDays int) error {
	now = now.UTC()

	var custom []Project
	if err := db.WithContext(ctx).Where("retention_days > 0").Find(&custom).Error; err != nil {
		return err
	}

	ids := make([]string, 0, len(custom))
	for _, p := range custom {
		ids = append(ids, p.ID)
		only := func(tx *gorm.DB) *gorm.DB { return tx.Where("project_id = ?", p.ID) }
		if err := purgeBefore(ctx, db, now.AddDate(0, 0, -*p.RetentionDays), only); err != nil {
			return err
		}
	}

	if defaultDays <= 0 {
		return nil
	}
	rest := func(tx *gorm.DB) *gorm.DB {
		if len(ids) == 0 {
			return tx
		}
		return tx.Where("project_id NOT IN ?", ids)
	}
	return purgeBefore(ctx, db, now.AddDate(0, 0, -defaultDays), rest)
}

func purgeBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, scope func(*gorm.DB) *gorm.DB) error {
	if err := db.WithContext(ctx).Scopes(scope).Where("created_at < ?", cutoff).Delete(&ErrorRecord{}).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).Scopes(scope).Where("bucket_start < ?", cutoff).Delete(&ErrorBucket{}).Error
}

// StartRetentionWorker launches a background goroutine that runs the
// retention cleanup once at startup and then once per day until ctx ends.
// It runs even with retentionDays <= 0, since projects may set their own.
func StartRetentionWorker(ctx context.Context, db *gorm.DB, retentionDays int, logger *slog.Logger) {
	go func() {
		if err := runRetentionOnce(ctx, db, time.Now(), retentionDays); err != nil {
			logger.Error("retention cleanup failed (startup)", "err", err)
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				if err := runRetentionOnce(ctx, db, t, retentionDays); err != nil {
					logger.Error("retention cleanup failed", "err", err)
				}
			}
		}
	}()
}
