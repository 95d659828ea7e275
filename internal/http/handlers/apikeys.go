package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/valyala/fasthttp"

	dbpkg "traceiq/internal/db"
)

// KeyAdmin manages API keys on behalf of operators.
type KeyAdmin interface {
	Create(ctx context.Context, projectID, keyType string) (*dbpkg.APIKey, error)
	ListByProject(ctx context.Context, projectID string) ([]dbpkg.APIKey, error)
	Revoke(ctx context.Context, id string) error
}

// apiKeyView is how keys are listed. The secret is only returned once, on creation.
type apiKeyView struct {
	ID         string     `json:"id"`
	ProjectID  string     `json:"project_id"`
	KeyType    string     `json:"key_type"`
	KeyValue   string     `json:"key_value,omitempty"`
	KeyPrefix  string     `json:"key_prefix"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
}

func newAPIKeyView(k dbpkg.APIKey, withSecret bool) apiKeyView {
	v := apiKeyView{
		ID:         k.ID,
		ProjectID:  k.ProjectID,
		KeyType:    k.KeyType,
		KeyPrefix:  k.KeyValue[:min(len(k.KeyValue), 8)],
		IsActive:   k.IsActive,
		CreatedAt:  k.CreatedAt,
		LastUsedAt: k.LastUsedAt,
	}
	if withSecret {
		v.KeyValue = k.KeyValue
	}
	return v
}

type createKeyRequest struct {
	KeyType string `json:"key_type"`
}

func CreateAPIKey(keys KeyAdmin, projects ProjectAdmin, logger *slog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		projectID := pathParam(ctx, "projectId")

		var req createKeyRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil || !dbpkg.ValidKeyType(req.KeyType) {
			fail(ctx, fasthttp.StatusBadRequest, "key_type must be production or development")
			return
		}

		if _, err := projects.Get(ctx, projectID); err != nil {
			if errors.Is(err, dbpkg.ErrNotFound) {
				fail(ctx, fasthttp.StatusNotFound, "project not found")
				return
			}
			logger.Error("project lookup failed", "project", projectID, "err", err)
			fail(ctx, fasthttp.StatusInternalServerError, "failed to create API key")
			return
		}

		key, err := keys.Create(ctx, projectID, req.KeyType)
		if err != nil {
			logger.Error("api key creation failed", "project", projectID, "err", err)
			fail(ctx, fasthttp.StatusInternalServerError, "failed to create API key")
			return
		}

		logger.Info("api key created", "project", projectID, "key_id", key.ID, "key_type", key.KeyType, "by", user.Username)
		writeJSON(ctx, fasthttp.StatusCreated, map[string]any{"success": true, "data": newAPIKeyView(*key, true)})
	}
}

func ListAPIKeys(keys KeyAdmin, logger *slog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if _, ok := MustUser(ctx); !ok {
			return
		}
		projectID := pathParam(ctx, "projectId")

		list, err := keys.ListByProject(ctx, projectID)
		if err != nil {
			logger.Error("api key listing failed", "project", projectID, "err", err)
			fail(ctx, fasthttp.StatusInternalServerError, "failed to load API keys")
			return
		}

		views := make([]apiKeyView, 0, len(list))
		for _, k := range list {
			views = append(views, newAPIKeyView(k, false))
		}
		succeedList(ctx, views)
	}
}

// RevokeAPIKey deactivates a key. Keys are never deleted so that past
// usage stays attributable.
func RevokeAPIKey(keys KeyAdmin, logger *slog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		id := pathParam(ctx, "keyId")

		if err := keys.Revoke(ctx, id); err != nil {
			if errors.Is(err, dbpkg.ErrNotFound) {
				fail(ctx, fasthttp.StatusNotFound, "API key not found")
				return
			}
			logger.Error("api key revocation failed", "key_id", id, "err", err)
			fail(ctx, fasthttp.StatusInternalServerError, "failed to revoke API key")
			return
		}

		logger.Info("api key revoked", "key_id", id, "by", user.Username)
		writeJSON(ctx, fasthttp.StatusOK, map[string]any{"success": true})
	}
}
