package db

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"traceiq/api"
	"traceiq/internal/config"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "traceiq.db") + "?_busy_timeout=5000"
	gdb, err := Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

func insertRecord(t *testing.T, repo *ErrorRepository, projectID, severity string, at time.Time) *ErrorRecord {
	t.Helper()
	rec := &ErrorRecord{
		ProjectID: projectID,
		Message:   "boom",
		Type:      "Error",
		Severity:  severity,
		Status:    string(api.StatusOpen),
		CreatedAt: at,
	}
	require.NoError(t, repo.Insert(context.Background(), rec))
	return rec
}

func TestKeyRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	keys := NewKeyRepository(newTestDB(t))

	key, err := keys.Create(ctx, "p-1", KeyTypeProduction)
	require.NoError(t, err)
	assert.NotEmpty(t, key.ID)
	assert.Contains(t, key.KeyValue, "tiq_")
	assert.True(t, key.IsActive)

	found, err := keys.FindActive(ctx, key.KeyValue)
	require.NoError(t, err)
	assert.Equal(t, "p-1", found.ProjectID)
	assert.Nil(t, found.LastUsedAt)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, keys.TouchLastUsed(ctx, key.KeyValue, now))
	found, err = keys.FindActive(ctx, key.KeyValue)
	require.NoError(t, err)
	require.NotNil(t, found.LastUsedAt)
	assert.True(t, found.LastUsedAt.Equal(now))

	require.NoError(t, keys.Revoke(ctx, key.ID))
	_, err = keys.FindActive(ctx, key.KeyValue)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = keys.FindActive(ctx, "tiq_unknown")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, keys.Revoke(ctx, "missing"), ErrNotFound)

	list, err := keys.ListByProject(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].IsActive)
}

func TestErrorRepositoryListIsScopedAndOrdered(t *testing.T) {
	repo := NewErrorRepository(newTestDB(t))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	older := insertRecord(t, repo, "p-a", "error", base)
	newer := insertRecord(t, repo, "p-a", "critical", base.Add(time.Minute))
	insertRecord(t, repo, "p-b", "warning", base.Add(2*time.Minute))

	recs, err := repo.ListByProject(context.Background(), "p-a", 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, newer.ID, recs[0].ID)
	assert.Equal(t, older.ID, recs[1].ID)

	again, err := repo.ListByProject(context.Background(), "p-a", 0)
	require.NoError(t, err)
	assert.Equal(t, recs, again)
}

func TestErrorRepositoryListCapsAtMax(t *testing.T) {
	repo := NewErrorRepository(newTestDB(t))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < MaxListErrors+5; i++ {
		insertRecord(t, repo, "p-a", "error", base.Add(time.Duration(i)*time.Second))
	}

	recs, err := repo.ListByProject(context.Background(), "p-a", 500)
	require.NoError(t, err)
	assert.Len(t, recs, MaxListErrors)
}

func TestErrorRecordClientFieldsAreUnbounded(t *testing.T) {
	s, err := schema.Parse(&ErrorRecord{}, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)

	pg := postgres.New(postgres.Config{})
	for _, name := range []string{"Message", "Type", "StackTrace", "Browser", "OS", "Environment"} {
		field := s.LookUpField(name)
		require.NotNil(t, field, name)
		assert.Equal(t, "text", pg.DataTypeOf(field), name)
	}

	ctx := context.Background()
	repo := NewErrorRepository(newTestDB(t))
	long := strings.Repeat("x", 1000)
	agent := strings.Repeat("Chromium-Embedded-", 40)
	rec := &ErrorRecord{
		ProjectID:   "p-a",
		Message:     long,
		Type:        "com.example." + long,
		Browser:     &agent,
		OS:          &agent,
		Severity:    "error",
		Status:      string(api.StatusOpen),
		Environment: long,
	}
	require.NoError(t, repo.Insert(ctx, rec))

	recs, err := repo.ListByProject(ctx, "p-a", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec.Type, recs[0].Type)
	assert.Equal(t, agent, *recs[0].Browser)
	assert.Equal(t, agent, *recs[0].OS)
	assert.Equal(t, long, recs[0].Environment)
}

func TestErrorRepositoryUpdateStatus(t *testing.T) {
	ctx := context.Background()
	gdb := newTestDB(t)
	repo := NewErrorRepository(gdb)
	rec := insertRecord(t, repo, "p-a", "error", time.Now().UTC())

	assert.ErrorIs(t, repo.UpdateStatus(ctx, "p-a", rec.ID, "closed"), ErrInvalidStatus)

	// Another project's id matches nothing and is not an error.
	require.NoError(t, repo.UpdateStatus(ctx, "p-b", rec.ID, api.StatusResolved))
	var got ErrorRecord
	require.NoError(t, gdb.First(&got, "id = ?", rec.ID).Error)
	assert.Equal(t, "open", got.Status)

	require.NoError(t, repo.UpdateStatus(ctx, "p-a", rec.ID, api.StatusIgnored))
	require.NoError(t, gdb.First(&got, "id = ?", rec.ID).Error)
	assert.Equal(t, "ignored", got.Status)
}

func TestErrorRepositoryStats(t *testing.T) {
	repo := NewErrorRepository(newTestDB(t))
	now := time.Now().UTC()
	insertRecord(t, repo, "p-a", "critical", now)
	insertRecord(t, repo, "p-a", "error", now)
	insertRecord(t, repo, "p-a", "error", now)
	insertRecord(t, repo, "p-a", "warning", now)
	insertRecord(t, repo, "p-b", "critical", now)

	stats, err := repo.Stats(context.Background(), "p-a")
	require.NoError(t, err)
	assert.Equal(t, api.Stats{Total: 4, Critical: 1, Error: 2, Warning: 1}, stats)
}

func TestAggregationAndTrend(t *testing.T) {
	ctx := context.Background()
	gdb := newTestDB(t)
	repo := NewErrorRepository(gdb)
	hour := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	insertRecord(t, repo, "p-a", "critical", hour.Add(5*time.Minute))
	insertRecord(t, repo, "p-a", "error", hour.Add(10*time.Minute))
	insertRecord(t, repo, "p-a", "error", hour.Add(59*time.Minute))
	insertRecord(t, repo, "p-a", "warning", hour.Add(61*time.Minute))
	insertRecord(t, repo, "p-b", "error", hour.Add(15*time.Minute))

	require.NoError(t, runAggregationOnce(ctx, gdb, hour))
	require.NoError(t, runAggregationOnce(ctx, gdb, hour.Add(time.Hour)))
	// Re-running a bucket keeps counts stable.
	require.NoError(t, runAggregationOnce(ctx, gdb, hour))

	points, err := repo.Trend(ctx, "p-a", hour.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.True(t, points[0].Bucket.Equal(hour))
	assert.Equal(t, int64(1), points[0].Critical)
	assert.Equal(t, int64(2), points[0].Error)
	assert.Equal(t, int64(1), points[1].Warning)
}

func TestRetentionDeletesOldRecords(t *testing.T) {
	ctx := context.Background()
	gdb := newTestDB(t)
	repo := NewErrorRepository(gdb)
	now := time.Now().UTC()

	insertRecord(t, repo, "p-a", "error", now.Add(-40*24*time.Hour))
	fresh := insertRecord(t, repo, "p-a", "error", now.Add(-time.Hour))

	require.NoError(t, runRetentionOnce(ctx, gdb, now, 30))

	recs, err := repo.ListByProject(ctx, "p-a", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, fresh.ID, recs[0].ID)
}

func TestRetentionHonoursProjectOverride(t *testing.T) {
	ctx := context.Background()
	gdb := newTestDB(t)
	repo := NewErrorRepository(gdb)
	projects := NewProjectRepository(gdb)
	now := time.Now().UTC()

	short, err := projects.Create(ctx, "short", EnvironmentProduction)
	require.NoError(t, err)
	long, err := projects.Create(ctx, "long", EnvironmentProduction)
	require.NoError(t, err)
	global, err := projects.Create(ctx, "global", EnvironmentProduction)
	require.NoError(t, err)

	seven, ninety := 7, 90
	_, err = projects.SetRetention(ctx, short.ID, &seven)
	require.NoError(t, err)
	updated, err := projects.SetRetention(ctx, long.ID, &ninety)
	require.NoError(t, err)
	require.NotNil(t, updated.RetentionDays)
	assert.Equal(t, 90, *updated.RetentionDays)

	_, err = projects.SetRetention(ctx, "missing", &seven)
	assert.ErrorIs(t, err, ErrNotFound)

	tenDaysAgo := now.Add(-10 * 24 * time.Hour)
	fortyDaysAgo := now.Add(-40 * 24 * time.Hour)
	for _, p := range []*Project{short, long, global} {
		insertRecord(t, repo, p.ID, "error", tenDaysAgo)
		insertRecord(t, repo, p.ID, "error", fortyDaysAgo)
	}

	require.NoError(t, runRetentionOnce(ctx, gdb, now, 30))

	count := func(projectID string) int {
		recs, err := repo.ListByProject(ctx, projectID, 0)
		require.NoError(t, err)
		return len(recs)
	}
	assert.Equal(t, 0, count(short.ID))
	assert.Equal(t, 2, count(long.ID))
	assert.Equal(t, 1, count(global.ID))

	// Clearing the override falls back to the global setting, and a
	// non-positive global setting keeps everything else.
	_, err = projects.SetRetention(ctx, long.ID, nil)
	require.NoError(t, err)
	require.NoError(t, runRetentionOnce(ctx, gdb, now, 0))
	assert.Equal(t, 2, count(long.ID))
	require.NoError(t, runRetentionOnce(ctx, gdb, now, 30))
	assert.Equal(t, 1, count(long.ID))
}

func TestEnsureBootstrap(t *testing.T) {
	gdb := newTestDB(t)
	cfg := &config.Config{
		AdminUser:         "root",
		AdminPassword:     "secret",
		InternalAPIKey:    "tiq_internal",
		InternalProjectID: "internal-project",
	}

	require.NoError(t, EnsureBootstrapAdmin(gdb, cfg))
	require.NoError(t, EnsureBootstrapAdmin(gdb, cfg))
	var users int64
	require.NoError(t, gdb.Model(&User{}).Count(&users).Error)
	assert.Equal(t, int64(1), users)

	require.NoError(t, EnsureBootstrapAPIKey(gdb, cfg))
	keys := NewKeyRepository(gdb)
	require.NoError(t, gdb.Model(&APIKey{}).Where("key_value = ?", "tiq_internal").Update("is_active", false).Error)

	// A second run reactivates the key rather than duplicating it.
	require.NoError(t, EnsureBootstrapAPIKey(gdb, cfg))
	key, err := keys.FindActive(context.Background(), "tiq_internal")
	require.NoError(t, err)
	assert.Equal(t, "internal-project", key.ProjectID)

	_, err = NewProjectRepository(gdb).Get(context.Background(), "internal-project")
	require.NoError(t, err)
}
