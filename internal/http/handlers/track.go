package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/valyala/fasthttp"

	"traceiq/api"
	dbpkg "traceiq/internal/db"
	"traceiq/internal/event"
	"traceiq/internal/metrics"
)

// ErrorStore is the error repository the /api endpoints use.
type ErrorStore interface {
	Insert(ctx context.Context, rec *dbpkg.ErrorRecord) error
	ListByProject(ctx context.Context, projectID string, limit int) ([]dbpkg.ErrorRecord, error)
	UpdateStatus(ctx context.Context, projectID, id string, status api.Status) error
	Stats(ctx context.Context, projectID string) (api.Stats, error)
	Trend(ctx context.Context, projectID string, since time.Time) ([]api.TrendPoint, error)
}

// Track accepts one error event for the authenticated project and
// persists it as one record.
func Track(store ErrorStore, m *metrics.Metrics, logger *slog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		p, ok := MustPrincipal(ctx)
		if !ok {
			return
		}

		var ev api.ErrorEvent
		if err := json.Unmarshal(ctx.PostBody(), &ev); err != nil {
			fail(ctx, fasthttp.StatusBadRequest, "Invalid JSON body")
			return
		}

		rec := event.Normalize(ev, p.ProjectID)
		if err := store.Insert(ctx, &rec); err != nil {
			m.IngestFailures.WithLabelValues(p.ProjectID).Inc()
			logger.Error("error tracking failed", "project", p.ProjectID, "err", err)
			fail(ctx, fasthttp.StatusInternalServerError, "Failed to track error")
			return
		}

		m.ErrorsIngested.WithLabelValues(p.ProjectID, rec.Severity).Inc()
		logger.Debug("tracked error", "project", p.ProjectID, "id", rec.ID, "type", rec.Type, "severity", rec.Severity)
		writeJSON(ctx, fasthttp.StatusOK, api.Response[any]{Success: true})
	}
}
