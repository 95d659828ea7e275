package handlers

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"

	"traceiq/internal/metrics"
)

// RequestLogger returns fasthttp middleware that logs method, path, status, duration
// and records the duration histogram.
func RequestLogger(logger *slog.Logger, m *metrics.Metrics) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()
			next(ctx)
			elapsed := time.Since(start)
			status := ctx.Response.StatusCode()

			m.RequestDuration.WithLabelValues(string(ctx.Method()), strconv.Itoa(status)).Observe(elapsed.Seconds())
			logger.Info("request",
				"method", string(ctx.Method()),
				"path", string(ctx.Path()),
				"status", status,
				"duration", elapsed,
				"ip", ctx.RemoteAddr().String(),
			)
		}
	}
}

// CORS lets browser SDKs on any origin reach the API. Preflight requests
// are answered directly.
func CORS(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		h := &ctx.Response.Header
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Project-ID")

		if ctx.IsOptions() {
			ctx.SetStatusCode(fasthttp.StatusNoContent)
			return
		}
		next(ctx)
	}
}
