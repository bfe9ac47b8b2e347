package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/courier-backoffice/internal"
	"github.com/frahmantamala/courier-backoffice/internal/permission"
)

// ResolverLoader builds the permission resolver of the request's caller.
// A nil resolver means the request is anonymous.
type ResolverLoader func(ctx context.Context) (*permission.Resolver, error)

// RequireSection enforces a section level on a route: view, or edit when
// edit is set. Owners always pass; hidden or missing rights get 403.
func RequireSection(load ResolverLoader, section permission.Section, edit bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			resolver, err := load(r.Context())
			if err != nil {
				logger.Error("section check: load permissions failed", "section", section, "error", err)
				writeJSONError(w, http.StatusInternalServerError, err.Error())
				return
			}

			allowed := resolver != nil && resolver.CanView(section)
			if edit {
				allowed = resolver != nil && resolver.CanEdit(section)
			}
			if !allowed {
				logger.Warn("access denied: section level not met",
					"user_id", internal.UserIDFromContext(r.Context()), "section", section, "edit", edit)
				writeJSONError(w, http.StatusForbidden, "Not authorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
