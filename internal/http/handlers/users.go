package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/valyala/fasthttp"

	"traceiq/internal/config"
	dbpkg "traceiq/internal/db"
)

type UserAdmin interface {
	Create(ctx context.Context, username, password string, isAdmin bool) (*dbpkg.User, error)
	List(ctx context.Context) ([]dbpkg.User, error)
	Get(ctx context.Context, id uint) (*dbpkg.User, error)
	SetPassword(ctx context.Context, id uint, password string) error
	Delete(ctx context.Context, id uint) error
}

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"is_admin"`
}

func CreateUser(users UserAdmin, logger *slog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		current, ok := MustUser(ctx)
		if !ok {
			return
		}

		var req createUserRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			fail(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		req.Username = strings.TrimSpace(req.Username)
		if req.Username == "" || req.Password == "" {
			fail(ctx, fasthttp.StatusBadRequest, "username and password required")
			return
		}

		user, err := users.Create(ctx, req.Username, req.Password, req.IsAdmin)
		if errors.Is(err, dbpkg.ErrUserExists) {
			fail(ctx, fasthttp.StatusConflict, "username already exists")
			return
		}
		if err != nil {
			logger.Error("user creation failed", "err", err)
			fail(ctx, fasthttp.StatusInternalServerError, "failed to create user")
			return
		}

		logger.Info("user created", "username", user.Username, "is_admin", user.IsAdmin, "by", current.Username)
		writeJSON(ctx, fasthttp.StatusCreated, map[string]any{"success": true, "data": user})
	}
}

func ListUsers(users UserAdmin, logger *slog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if _, ok := MustUser(ctx); !ok {
			return
		}
		list, err := users.List(ctx)
		if err != nil {
			logger.Error("user listing failed", "err", err)
			fail(ctx, fasthttp.StatusInternalServerError, "failed to load users")
			return
		}
		succeedList(ctx, list)
	}
}

// targetUser resolves the {id} path segment. The bootstrap admin cannot be
// changed through the API since it is re-created from config on startup.
func targetUser(ctx *fasthttp.RequestCtx, users UserAdmin, cfg *config.Config, logger *slog.Logger) (*dbpkg.User, bool) {
	id, err := strconv.ParseUint(pathParam(ctx, "id"), 10, 32)
	if err != nil {
		fail(ctx, fasthttp.StatusBadRequest, "invalid user ID")
		return nil, false
	}

	user, err := users.Get(ctx, uint(id))
	if errors.Is(err, dbpkg.ErrNotFound) {
		fail(ctx, fasthttp.StatusNotFound, "user not found")
		return nil, false
	}
	if err != nil {
		logger.Error("user lookup failed", "id", id, "err", err)
		fail(ctx, fasthttp.StatusInternalServerError, "failed to load user")
		return nil, false
	}

	if user.Username == cfg.AdminUser {
		fail(ctx, fasthttp.StatusForbidden, "cannot modify bootstrap admin user")
		return nil, false
	}
	return user, true
}

func ResetPassword(users UserAdmin, cfg *config.Config, logger *slog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		current, ok := MustUser(ctx)
		if !ok {
			return
		}
		user, ok := targetUser(ctx, users, cfg, logger)
		if !ok {
			return
		}

		var req struct {
			Password string `json:"password"`
		}
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil || req.Password == "" {
			fail(ctx, fasthttp.StatusBadRequest, "password required")
			return
		}

		if err := users.SetPassword(ctx, user.ID, req.Password); err != nil {
			logger.Error("password reset failed", "id", user.ID, "err", err)
			fail(ctx, fasthttp.StatusInternalServerError, "failed to update password")
			return
		}

		logger.Info("password reset", "username", user.Username, "by", current.Username)
		writeJSON(ctx, fasthttp.StatusOK, map[string]any{"success": true})
	}
}

func DeleteUser(users UserAdmin, cfg *config.Config, logger *slog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		current, ok := MustUser(ctx)
		if !ok {
			return
		}
		user, ok := targetUser(ctx, users, cfg, logger)
		if !ok {
			return
		}

		if err := users.Delete(ctx, user.ID); err != nil {
			logger.Error("user deletion failed", "id", user.ID, "err", err)
			fail(ctx, fasthttp.StatusInternalServerError, "failed to delete user")
			return
		}

		logger.Info("user deleted", "username", user.Username, "by", current.Username)
		writeJSON(ctx, fasthttp.StatusOK, map[string]any{"success": true})
	}
}
