package handlers

import (
	"encoding/json"

	"github.com/valyala/fasthttp"

	"traceiq/api"
	"traceiq/internal/auth"
	dbpkg "traceiq/internal/db"
	httpctx "traceiq/internal/http/ctx"
)

// MustPrincipal returns the verified principal, or sends 401 and returns false.
func MustPrincipal(ctx *fasthttp.RequestCtx) (auth.Principal, bool) {
	p, ok := httpctx.PrincipalFromCtx(ctx)
	if !ok || p.ProjectID == "" {
		fail(ctx, fasthttp.StatusUnauthorized, "unauthorized")
		return auth.Principal{}, false
	}
	return p, true
}

// MustUser returns the current admin user from context, or sends 401 and returns (nil, false).
func MustUser(ctx *fasthttp.RequestCtx) (*dbpkg.User, bool) {
	user, ok := httpctx.UserFromCtx(ctx)
	if !ok {
		fail(ctx, fasthttp.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	return user, true
}

func pathParam(ctx *fasthttp.RequestCtx, name string) string {
	s, _ := ctx.UserValue(name).(string)
	return s
}

func writeJSON(ctx *fasthttp.RequestCtx, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString(`{"success":false,"error":"failed to encode response"}`)
		return
	}
	ctx.SetStatusCode(code)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func succeed[T any](ctx *fasthttp.RequestCtx, data T) {
	writeJSON(ctx, fasthttp.StatusOK, api.Response[T]{Success: true, Data: data})
}

// succeedList always sends "data", even for an empty list.
func succeedList[T any](ctx *fasthttp.RequestCtx, items []T) {
	if items == nil {
		items = []T{}
	}
	writeJSON(ctx, fasthttp.StatusOK, struct {
		Success bool `json:"success"`
		Data    []T  `json:"data"`
	}{true, items})
}

func fail(ctx *fasthttp.RequestCtx, code int, msg string) {
	writeJSON(ctx, code, api.Response[any]{Success: false, Error: msg})
}
