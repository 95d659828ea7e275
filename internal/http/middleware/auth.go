package middleware

import (
	"encoding/json"
	"log/slog"

	"github.com/valyala/fasthttp"

	"traceiq/api"
	"traceiq/internal/auth"
	httpctx "traceiq/internal/http/ctx"
	"traceiq/internal/metrics"
)

// APIKeyAuth validates the X-API-Key / X-Project-ID pair and stores the
// resulting principal on the request context.
func APIKeyAuth(v *auth.Verifier, m *metrics.Metrics, logger *slog.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			apiKey := string(ctx.Request.Header.Peek(api.HeaderAPIKey))
			projectID := string(ctx.Request.Header.Peek(api.HeaderProjectID))

			p, err := v.Verify(ctx, apiKey, projectID)
			if err != nil {
				reason := auth.Reason(err)
				if auth.IsUnauthorized(err) {
					m.AuthFailures.WithLabelValues(reason).Inc()
					logger.Warn("api key rejected", "reason", reason, "project", projectID, "path", string(ctx.Path()))
					writeError(ctx, fasthttp.StatusUnauthorized, reason)
					return
				}
				logger.Error("authentication failed", "err", err)
				writeError(ctx, fasthttp.StatusInternalServerError, reason)
				return
			}

			httpctx.SetPrincipal(ctx, p)
			next(ctx)
		}
	}
}

func writeError(ctx *fasthttp.RequestCtx, code int, msg string) {
	ctx.SetStatusCode(code)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(map[string]string{"error": msg})
	ctx.SetBody(body)
}
