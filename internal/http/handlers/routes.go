package handlers

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"traceiq/internal/auth"
	"traceiq/internal/config"
	appmw "traceiq/internal/http/middleware"
	"traceiq/internal/metrics"
)

// Deps is everything the collector's routes need.
type Deps struct {
	DB       *gorm.DB
	Config   *config.Config
	Verifier *auth.Verifier
	Errors   ErrorStore
	Keys     KeyAdmin
	Projects ProjectAdmin
	Users    UserAdmin
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// Reporter receives the collector's own 5xx responses. Optional.
	Reporter appmw.Reporter
	// Reports counts self-reports still being sent.
	Reports *sync.WaitGroup
}

// NewHandler builds the router and wraps it in the global middleware
// chain: request logger, CORS, internal reporting, then the router.
func NewHandler(d Deps) fasthttp.RequestHandler {
	r := router.New()
	r.PanicHandler = func(ctx *fasthttp.RequestCtx, rcv any) {
		d.Logger.Error("panic in handler", "path", string(ctx.Path()), "panic", fmt.Sprint(rcv))
		fail(ctx, fasthttp.StatusInternalServerError, "internal server error")
	}

	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})

	apiKey := appmw.APIKeyAuth(d.Verifier, d.Metrics, d.Logger)
	r.POST("/api/track", apiKey(Track(d.Errors, d.Metrics, d.Logger)))
	r.GET("/api/errors/{id}", apiKey(ListErrors(d.Errors, d.Logger)))
	r.GET("/api/errors/{id}/stats", apiKey(ErrorStats(d.Errors, d.Logger)))
	r.GET("/api/errors/{id}/trend", apiKey(ErrorTrend(d.Errors, d.Logger)))
	r.PATCH("/api/errors/{id}/status", apiKey(UpdateErrorStatus(d.Errors, d.Metrics, d.Logger)))
	r.GET("/api/metrics", apiKey(ProjectMetrics(d.Metrics.Registry)))

	admin := appmw.AdminAuth(d.DB, d.Config)
	r.POST("/admin/projects", admin(CreateProject(d.Projects, d.Logger)))
	r.GET("/admin/projects", admin(ListProjects(d.Projects, d.Logger)))
	r.PATCH("/admin/projects/{projectId}/retention", admin(SetProjectRetention(d.Projects, d.Logger)))
	r.POST("/admin/projects/{projectId}/keys", admin(CreateAPIKey(d.Keys, d.Projects, d.Logger)))
	r.GET("/admin/projects/{projectId}/keys", admin(ListAPIKeys(d.Keys, d.Logger)))
	r.POST("/admin/keys/{keyId}/revoke", admin(RevokeAPIKey(d.Keys, d.Logger)))
	r.POST("/admin/users", admin(CreateUser(d.Users, d.Logger)))
	r.GET("/admin/users", admin(ListUsers(d.Users, d.Logger)))
	r.POST("/admin/users/{id}/password", admin(ResetPassword(d.Users, d.Config, d.Logger)))
	r.DELETE("/admin/users/{id}", admin(DeleteUser(d.Users, d.Config, d.Logger)))

	return RequestLogger(d.Logger, d.Metrics)(CORS(appmw.InternalReporting(d.Reporter, d.Reports)(r.Handler)))
}
