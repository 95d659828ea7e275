package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/valyala/fasthttp"

	dbpkg "traceiq/internal/db"
)

type ProjectAdmin interface {
	Create(ctx context.Context, name, environment string) (*dbpkg.Project, error)
	List(ctx context.Context) ([]dbpkg.Project, error)
	Get(ctx context.Context, id string) (*dbpkg.Project, error)
	SetRetention(ctx context.Context, id string, days *int) (*dbpkg.Project, error)
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Environment string `json:"environment"`
}

func CreateProject(projects ProjectAdmin, logger *slog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}

		var req createProjectRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			fail(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" || !dbpkg.ValidEnvironment(req.Environment) {
			fail(ctx, fasthttp.StatusBadRequest, "name and environment (Production, Staging, Development) required")
			return
		}

		p, err := projects.Create(ctx, req.Name, req.Environment)
		if err != nil {
			logger.Error("project creation failed", "err", err)
			fail(ctx, fasthttp.StatusInternalServerError, "failed to create project")
			return
		}

		logger.Info("project created", "project", p.ID, "name", p.Name, "by", user.Username)
		writeJSON(ctx, fasthttp.StatusCreated, map[string]any{"success": true, "data": p})
	}
}

func ListProjects(projects ProjectAdmin, logger *slog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if _, ok := MustUser(ctx); !ok {
			return
		}

		list, err := projects.List(ctx)
		if err != nil {
			logger.Error("project listing failed", "err", err)
			fail(ctx, fasthttp.StatusInternalServerError, "failed to load projects")
			return
		}
		succeedList(ctx, list)
	}
}

// maxRetentionDays caps a project's own retention at ten years.
const maxRetentionDays = 3650

// SetProjectRetention overrides how long one project's errors are kept.
// A null retention_days returns the project to the collector-wide setting.
func SetProjectRetention(projects ProjectAdmin, logger *slog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}

		var req struct {
			RetentionDays *int `json:"retention_days"`
		}
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			fail(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		if d := req.RetentionDays; d != nil && (*d < 1 || *d > maxRetentionDays) {
			fail(ctx, fasthttp.StatusBadRequest, "retention_days must be between 1 and 3650, or null")
			return
		}

		id := pathParam(ctx, "projectId")
		p, err := projects.SetRetention(ctx, id, req.RetentionDays)
		if errors.Is(err, dbpkg.ErrNotFound) {
			fail(ctx, fasthttp.StatusNotFound, "project not found")
			return
		}
		if err != nil {
			logger.Error("project retention update failed", "project", id, "err", err)
			fail(ctx, fasthttp.StatusInternalServerError, "failed to update project")
			return
		}

		logger.Info("project retention updated", "project", p.ID, "retention_days", req.RetentionDays, "by", user.Username)
		succeed(ctx, p)
	}
}
