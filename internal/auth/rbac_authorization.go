package auth

import (
	"net/http"

	"github.com/frahmantamala/courier-backoffice/internal"
	"github.com/frahmantamala/courier-backoffice/internal/role"
	"github.com/frahmantamala/courier-backoffice/internal/user"
	"github.com/frahmantamala/courier-backoffice/pkg/logger"
)

// AuthMiddleware resolves the bearer token on every request and stores the
// caller with its current roles in the request context.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := h.ExtractTokenFromHeader(r)
		if token == "" {
			h.HandleServiceError(w, internal.ErrInvalidToken)
			return
		}

		u, roles, err := h.Service.CurrentUser(r.Context(), token)
		if err != nil {
			h.HandleServiceError(w, err)
			return
		}

		ctx := user.ContextWithCaller(r.Context(), &user.Caller{User: u, Roles: roles})
		ctx = internal.ContextWithUserID(ctx, u.ID)
		ctx = logger.WithActor(ctx, u.ID, roles.Strings())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRoles lets the request through only when the caller holds one of
// roles. Missing callers get the same 403 as unprivileged ones.
func (h *Handler) RequireRoles(roles ...role.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := user.CallerFromContext(r.Context())
			if ok {
				for _, want := range roles {
					if caller.Roles.Has(want) {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			h.Logger.Warn("authorization check failed", "user_id", caller.ID(), "required_roles", roles)
			h.HandleServiceError(w, internal.ErrNotAuthorized)
		})
	}
}

func (h *Handler) RequireOwnerOrAdmin() func(http.Handler) http.Handler {
	return h.RequireRoles(role.Owner, role.Admin)
}
