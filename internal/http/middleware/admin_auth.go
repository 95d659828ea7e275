package middleware

import (
	"bytes"
	"encoding/base64"
	"strings"

	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"traceiq/internal/config"
	dbpkg "traceiq/internal/db"
	httpctx "traceiq/internal/http/ctx"
)

// AdminAuth returns middleware that checks HTTP Basic credentials against
// the users table and only lets admins through.
func AdminAuth(db *gorm.DB, cfg *config.Config) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			username, password, ok := basicAuth(ctx.Request.Header.Peek("Authorization"))
			if !ok {
				challenge(ctx)
				return
			}

			var user dbpkg.User
			if err := db.Where("username = ?", username).First(&user).Error; err != nil {
				challenge(ctx)
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
				challenge(ctx)
				return
			}

			if user.Username == cfg.AdminUser {
				user.IsAdmin = true
			}
			if !user.IsAdmin {
				writeError(ctx, fasthttp.StatusForbidden, "forbidden")
				return
			}

			httpctx.SetUser(ctx, &user)
			next(ctx)
		}
	}
}

func basicAuth(header []byte) (username, password string, ok bool) {
	const prefix = "Basic "
	if !bytes.HasPrefix(header, []byte(prefix)) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(header[len(prefix):])))
	if err != nil {
		return "", "", false
	}
	username, password, ok = strings.Cut(string(decoded), ":")
	if !ok || username == "" {
		return "", "", false
	}
	return username, password, true
}

func challenge(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("WWW-Authenticate", `Basic realm="traceiq"`)
	writeError(ctx, fasthttp.StatusUnauthorized, "unauthorized")
}
