package handlers

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/valyala/fasthttp"

	"traceiq/api"
	"traceiq/internal/auth"
	dbpkg "traceiq/internal/db"
	"traceiq/internal/event"
	"traceiq/internal/metrics"
)

const (
	defaultTrendHours = 24
	maxTrendHours     = 24 * 30
)

// The /api/errors/{id} segment is a project id on reads and an error id
// on status updates. The router requires one name for both.
const errorsPathParam = "id"

// pathProject checks the project id path segment against the verified
// project. Queries are always scoped to the verified project.
func pathProject(ctx *fasthttp.RequestCtx) (string, bool) {
	p, ok := MustPrincipal(ctx)
	if !ok {
		return "", false
	}
	if pathParam(ctx, errorsPathParam) != p.ProjectID {
		writeJSON(ctx, fasthttp.StatusUnauthorized, map[string]string{"error": auth.Reason(auth.ErrProjectMismatch)})
		return "", false
	}
	return p.ProjectID, true
}

// ListErrors returns the project's most recent errors, newest first.
func ListErrors(store ErrorStore, logger *slog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		projectID, ok := pathProject(ctx)
		if !ok {
			return
		}

		recs, err := store.ListByProject(ctx, projectID, dbpkg.MaxListErrors)
		if err != nil {
			logger.Error("error fetching failed", "project", projectID, "err", err)
			fail(ctx, fasthttp.StatusInternalServerError, "Failed to fetch errors")
			return
		}
		succeedList(ctx, event.ToWireList(recs))
	}
}

// UpdateErrorStatus moves one of the project's errors to a new status.
// Ids belonging to other projects are silently left alone.
func UpdateErrorStatus(store ErrorStore, m *metrics.Metrics, logger *slog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		p, ok := MustPrincipal(ctx)
		if !ok {
			return
		}
		errorID := pathParam(ctx, errorsPathParam)

		var body api.StatusUpdate
		if err := json.Unmarshal(ctx.PostBody(), &body); err != nil || !body.Status.Valid() {
			fail(ctx, fasthttp.StatusBadRequest, "Invalid status. Must be one of: open, resolved, ignored")
			return
		}

		err := store.UpdateStatus(ctx, p.ProjectID, errorID, body.Status)
		if errors.Is(err, dbpkg.ErrInvalidStatus) {
			fail(ctx, fasthttp.StatusBadRequest, "Invalid status. Must be one of: open, resolved, ignored")
			return
		}
		if err != nil {
			logger.Error("error status update failed", "project", p.ProjectID, "id", errorID, "err", err)
			fail(ctx, fasthttp.StatusInternalServerError, "Failed to update error status")
			return
		}

		m.StatusUpdates.WithLabelValues(p.ProjectID, string(body.Status)).Inc()
		writeJSON(ctx, fasthttp.StatusOK, api.Response[any]{Success: true})
	}
}

// ErrorStats counts the project's errors by severity.
func ErrorStats(store ErrorStore, logger *slog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		projectID, ok := pathProject(ctx)
		if !ok {
			return
		}

		stats, err := store.Stats(ctx, projectID)
		if err != nil {
			logger.Error("error stats failed", "project", projectID, "err", err)
			fail(ctx, fasthttp.StatusInternalServerError, "Failed to fetch error stats")
			return
		}
		succeed(ctx, stats)
	}
}

// ErrorTrend returns hourly error counts over the last ?hours= hours
// (default 24, at most 30 days).
func ErrorTrend(store ErrorStore, logger *slog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		projectID, ok := pathProject(ctx)
		if !ok {
			return
		}

		hours := defaultTrendHours
		if s := string(ctx.QueryArgs().Peek("hours")); s != "" {
			if n, err := strconv.Atoi(s); err == nil && n > 0 {
				hours = min(n, maxTrendHours)
			}
		}

		points, err := store.Trend(ctx, projectID, time.Now().Add(-time.Duration(hours)*time.Hour))
		if err != nil {
			logger.Error("error trend failed", "project", projectID, "err", err)
			fail(ctx, fasthttp.StatusInternalServerError, "Failed to fetch error trend")
			return
		}
		succeedList(ctx, points)
	}
}
