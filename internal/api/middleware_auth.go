// ABOUTME: requireUser huma middleware for JWT access tokens (Bearer header or access_token cookie).
// ABOUTME: Injects the token subject as ctxUserID once the user is confirmed active; routes are scoped to it.
package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/keystone-hpc/keystone/internal/auth"
)

const bearerScheme = "bearer"

// requireUser returns a huma middleware that rejects requests without a
// valid access token and stores the caller's user ID in the context.
// Tokens outlive account changes, so the user must still exist and be active.
func (srv *Server) requireUser(api huma.API) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		token := ""
		if h := ctx.Header("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		} else if c, err := huma.ReadCookie(ctx, "access_token"); err == nil {
			token = c.Value
		}
		if token == "" {
			_ = huma.WriteErr(api, ctx, http.StatusUnauthorized, "authentication required")
			return
		}
		claims, err := auth.ParseAccessToken(token, srv.jwtSecret)
		if err != nil {
			_ = huma.WriteErr(api, ctx, http.StatusUnauthorized, "invalid or expired access token")
			return
		}
		user, err := srv.store.GetUser(ctx.Context(), claims.UserID)
		if err != nil {
			slog.ErrorContext(ctx.Context(), "auth: load user", "user_id", claims.UserID, "error", err)
			_ = huma.WriteErr(api, ctx, http.StatusInternalServerError, "internal error")
			return
		}
		if user == nil || !user.IsActive {
			_ = huma.WriteErr(api, ctx, http.StatusUnauthorized, "invalid or expired access token")
			return
		}
		next(huma.WithValue(ctx, ctxUserID, user.ID))
	}
}
