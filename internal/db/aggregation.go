package db

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
)

// runAggregationOnce counts the errors created in the hour starting at
// bucketStart into ErrorBucket rows, one per (project, severity).
// Re-running a bucket overwrites its counts.
func runAggregationOnce(ctx context.Context, db *gorm.DB, bucketStart time.Time) error {
	bucketStart = bucketStart.UTC().Truncate(time.Hour)
	bucketEnd := bucketStart.Add(time.Hour)
	tx := db.WithContext(ctx)

	var rows []struct {
		ProjectID string
		Severity  string
		Count     int64
	}
	if err := tx.Model(&ErrorRecord{}).
		Select("project_id, severity, count(*) AS count").
		Where("created_at >= ? AND created_at < ?", bucketStart, bucketEnd).
		Group("project_id, severity").
		Scan(&rows).Error; err != nil {
		return errors.Wrap(err, "count errors for bucket")
	}

	for _, row := range rows {
		var existing ErrorBucket
		err := tx.Where("project_id = ? AND severity = ? AND bucket_start = ?", row.ProjectID, row.Severity, bucketStart).
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = tx.Create(&ErrorBucket{
				ProjectID:   row.ProjectID,
				Severity:    row.Severity,
				BucketStart: bucketStart,
				Count:       row.Count,
			}).Error
		} else if err == nil {
			err = tx.Model(&existing).Update("count", row.Count).Error
		}
		if err != nil {
			return errors.Wrapf(err, "store bucket %s/%s", row.ProjectID, row.Severity)
		}
	}
	return nil
}

// StartAggregationWorker aggregates the last 24 completed hours at startup,
// then every 15 minutes refreshes the current and previous hour so trend
// charts stay close to live. Buckets are in UTC.
func StartAggregationWorker(ctx context.Context, db *gorm.DB, logger *slog.Logger) {
	go func() {
		now := time.Now().UTC()
		for i := 24; i >= 0; i-- {
			bucketStart := now.Truncate(time.Hour).Add(-time.Duration(i) * time.Hour)
			if err := runAggregationOnce(ctx, db, bucketStart); err != nil {
				logger.Error("aggregation failed (startup)", "bucket", bucketStart.Format(time.RFC3339), "err", err)
			}
		}

		ticker := time.NewTicker(15 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				current := t.UTC().Truncate(time.Hour)
				for _, bucketStart := range []time.Time{current.Add(-time.Hour), current} {
					if err := runAggregationOnce(ctx, db, bucketStart); err != nil {
						logger.Error("aggregation failed", "bucket", bucketStart.Format(time.RFC3339), "err", err)
					}
				}
			}
		}
	}()
}
