package ctx

import (
	"github.com/valyala/fasthttp"

	"traceiq/internal/auth"
	dbpkg "traceiq/internal/db"
)

const (
	PrincipalKey = "principal"
	UserKey      = "user"
)

func SetPrincipal(ctx *fasthttp.RequestCtx, p auth.Principal) {
	ctx.SetUserValue(PrincipalKey, p)
}

func PrincipalFromCtx(ctx *fasthttp.RequestCtx) (auth.Principal, bool) {
	v := ctx.UserValue(PrincipalKey)
	if v == nil {
		return auth.Principal{}, false
	}
	p, ok := v.(auth.Principal)
	return p, ok
}

func SetUser(ctx *fasthttp.RequestCtx, user *dbpkg.User) {
	ctx.SetUserValue(UserKey, user)
}

func UserFromCtx(ctx *fasthttp.RequestCtx) (*dbpkg.User, bool) {
	v := ctx.UserValue(UserKey)
	if v == nil {
		return nil, false
	}
	u, ok := v.(*dbpkg.User)
	return u, ok && u != nil
}
