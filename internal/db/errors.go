package db

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"

	"traceiq/api"
)

// MaxListErrors caps how many records a list call returns.
const MaxListErrors = 100

// ErrorRepository reads and writes error records. Every query is scoped
// to a single project.
type ErrorRepository struct {
	db *gorm.DB
}

func NewErrorRepository(db *gorm.DB) *ErrorRepository {
	return &ErrorRepository{db: db}
}

// Insert persists rec as a new row. One call creates exactly one record.
func (r *ErrorRepository) Insert(ctx context.Context, rec *ErrorRecord) error {
	return errors.Wrap(r.db.WithContext(ctx).Create(rec).Error, "insert error record")
}

// ListByProject returns up to limit of the project's most recent records.
// limit <= 0 or above MaxListErrors is clamped to MaxListErrors.
func (r *ErrorRepository) ListByProject(ctx context.Context, projectID string, limit int) ([]ErrorRecord, error) {
	if limit <= 0 || limit > MaxListErrors {
		limit = MaxListErrors
	}
	var recs []ErrorRecord
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, errors.Wrap(err, "list error records")
	}
	return recs, nil
}

// UpdateStatus sets the status of one record in a single conditional
// UPDATE. An id that belongs to another project matches no rows and is
// not an error.
func (r *ErrorRepository) UpdateStatus(ctx context.Context, projectID, id string, status api.Status) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	err := r.db.WithContext(ctx).
		Model(&ErrorRecord{}).
		Where("id = ? AND project_id = ?", id, projectID).
		Update("status", string(status)).Error
	return errors.Wrap(err, "update error status")
}

// Stats counts the project's records by severity.
func (r *ErrorRepository) Stats(ctx context.Context, projectID string) (api.Stats, error) {
	var rows []struct {
		Severity string
		Count    int64
	}
	err := r.db.WithContext(ctx).
		Model(&ErrorRecord{}).
		Select("severity, count(*) AS count").
		Where("project_id = ?", projectID).
		Group("severity").
		Scan(&rows).Error
	if err != nil {
		return api.Stats{}, errors.Wrap(err, "count error records")
	}

	var stats api.Stats
	for _, row := range rows {
		stats.Total += row.Count
		switch api.Severity(row.Severity) {
		case api.SeverityCritical:
			stats.Critical += row.Count
		case api.SeverityError:
			stats.Error += row.Count
		case api.SeverityWarning:
			stats.Warning += row.Count
		}
	}
	return stats, nil
}

// Trend returns the project's hourly buckets starting at or after since,
// oldest first, one point per hour that has any errors.
func (r *ErrorRepository) Trend(ctx context.Context, projectID string, since time.Time) ([]api.TrendPoint, error) {
	var buckets []ErrorBucket
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND bucket_start >= ?", projectID, since.UTC().Truncate(time.Hour)).
		Order("bucket_start").
		Find(&buckets).Error
	if err != nil {
		return nil, errors.Wrap(err, "load error buckets")
	}

	points := make([]api.TrendPoint, 0, len(buckets))
	for _, b := range buckets {
		if n := len(points); n == 0 || !points[n-1].Bucket.Equal(b.BucketStart) {
			points = append(points, api.TrendPoint{Bucket: b.BucketStart.UTC()})
		}
		p := &points[len(points)-1]
		switch api.Severity(b.Severity) {
		case api.SeverityCritical:
			p.Critical += b.Count
		case api.SeverityError:
			p.Error += b.Count
		case api.SeverityWarning:
			p.Warning += b.Count
		}
	}
	return points, nil
}
