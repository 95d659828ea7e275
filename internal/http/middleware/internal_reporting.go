package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"traceiq/api"
	"traceiq/tracker"
)

// Reporter is the part of the tracker SDK the collector uses to report
// its own failures.
type Reporter interface {
	TrackEvent(ctx context.Context, ev api.ErrorEvent) tracker.State
}

// InternalReporting reports 5xx responses of this collector into its own
// internal project. A nil reporter disables it. Each report runs in the
// background and is counted in pending, so shutdown can wait for them;
// pending may be nil.
//
// /api/track is skipped: a failing ingest path would otherwise report
// into itself forever.
func InternalReporting(reporter Reporter, pending *sync.WaitGroup) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	if reporter == nil {
		return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
			return next
		}
	}

	if pending == nil {
		pending = &sync.WaitGroup{}
	}

	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()
			next(ctx)

			status := ctx.Response.StatusCode()
			path := string(ctx.Path())
			if status < fasthttp.StatusInternalServerError || path == "/api/track" {
				return
			}

			ev := api.ErrorEvent{
				Message:  fmt.Sprintf("%s %s -> %d", ctx.Method(), path, status),
				Type:     "HTTPError",
				Severity: api.SeverityCritical,
				Metadata: map[string]any{
					"method":      string(ctx.Method()),
					"path":        path,
					"status":      status,
					"duration_ms": time.Since(start).Milliseconds(),
					"remote_ip":   ctx.RemoteAddr().String(),
				},
			}
			pending.Add(1)
			go func() {
				defer pending.Done()
				reporter.TrackEvent(context.Background(), ev)
			}()
		}
	}
}
