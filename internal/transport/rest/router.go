package rest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/courier-backoffice/internal/auth"
	"github.com/frahmantamala/courier-backoffice/internal/observability"
	"github.com/frahmantamala/courier-backoffice/internal/permission"
	"github.com/frahmantamala/courier-backoffice/internal/transport/middleware"
	"github.com/frahmantamala/courier-backoffice/internal/transport/swagger"
	"github.com/frahmantamala/courier-backoffice/internal/user"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
)

type Dependencies struct {
	DB          Pinger
	Auth        *auth.Handler
	Users       *user.Handler
	Permissions user.PermissionAPI
	Metrics     *observability.Metrics
	MetricsPath string
	OpenAPI     *openapi3.T
	Origins     []string
	Logger      *slog.Logger
}

func RegisterAllRoutes(router *chi.Mux, deps Dependencies) error {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	healthHandler := NewHealthHandler(deps.DB)

	// Apply global middleware
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.CORS(deps.Origins))
	if deps.Metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, deps.Metrics.Handler())
	}

	if deps.OpenAPI != nil {
		docHandler, err := swagger.DocumentHandler(deps.OpenAPI)
		if err != nil {
			return err
		}
		router.Handle(swagger.DocumentPath, docHandler)
		router.Handle("/swagger/*", swagger.Handler())
	}

	callerPermissions := func(ctx context.Context) (*permission.Resolver, error) {
		caller, ok := user.CallerFromContext(ctx)
		if !ok {
			return nil, nil
		}
		resolver, err := deps.Permissions.ForUser(ctx, caller.ID(), caller.Roles)
		if err != nil {
			return nil, fmt.Errorf("load permissions: %w", err)
		}
		return resolver, nil
	}

	// Mount API under /api/v1 to match the OpenAPI server url
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		if deps.Auth == nil {
			return
		}

		r.Route("/auth", func(sr chi.Router) {
			sr.Post("/", deps.Auth.ServeAuth)
			sr.Post("/refresh", deps.Auth.RefreshToken)
			sr.With(deps.Auth.AuthMiddleware).Get("/user", deps.Auth.GetUser)
		})

		if deps.Users == nil {
			return
		}

		// Protected routes that require authentication
		r.Group(func(pr chi.Router) {
			pr.Use(deps.Auth.AuthMiddleware)

			pr.Get("/me/permissions", deps.Users.GetMyPermissions)

			pr.Route("/users", func(ur chi.Router) {
				ur.Use(deps.Auth.RequireOwnerOrAdmin())
				ur.With(middleware.RequireSection(callerPermissions, permission.SectionUsers, false, logger)).
					Get("/", deps.Users.ListUsers)
				ur.With(middleware.RequireSection(callerPermissions, permission.SectionUsers, true, logger)).
					Put("/{id}/permissions", deps.Users.SetPermissions)
			})
		})
	})
	return nil
}
