package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/frahmantamala/courier-backoffice/internal"
	"github.com/frahmantamala/courier-backoffice/internal/auth"
	"github.com/frahmantamala/courier-backoffice/internal/core/events"
	"github.com/frahmantamala/courier-backoffice/internal/identity"
	identityPostgres "github.com/frahmantamala/courier-backoffice/internal/identity/postgres"
	"github.com/frahmantamala/courier-backoffice/internal/observability"
	"github.com/frahmantamala/courier-backoffice/internal/permission"
	permissionPostgres "github.com/frahmantamala/courier-backoffice/internal/permission/postgres"
	"github.com/frahmantamala/courier-backoffice/internal/reconcile"
	rolePostgres "github.com/frahmantamala/courier-backoffice/internal/role/postgres"
	"github.com/frahmantamala/courier-backoffice/internal/transport/rest"
	"github.com/frahmantamala/courier-backoffice/internal/transport/swagger"
	"github.com/frahmantamala/courier-backoffice/internal/user"
	userPostgres "github.com/frahmantamala/courier-backoffice/internal/user/postgres"
	"github.com/frahmantamala/courier-backoffice/pkg/logger"

	"github.com/go-chi/chi"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests, and the reconcile scheduler when enabled`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startHTTPServer(cmd.Context())
	},
}

type Dependencies struct {
	Config      *internal.Config
	DB          *sqlx.DB
	Gorm        *gorm.DB
	Logger      *slog.Logger
	Metrics     *observability.Metrics
	Bus         *events.EventBus
	Provider    *identity.Service
	Roles       *rolePostgres.RoleRepository
	Permissions *permission.Service
	Users       *user.Service
	Auth        *auth.Service
}

func (d *Dependencies) Close() {
	if err := d.DB.Close(); err != nil {
		d.Logger.Error("Database close error", "error", err)
	}
}

func startHTTPServer(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := initializeDependencies()
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	cancelAudit := events.RegisterAuditLog(deps.Bus, deps.Logger)
	defer cancelAudit()

	router, err := setupRoutes(ctx, deps)
	if err != nil {
		return err
	}

	cfg := deps.Config.Server
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		deps.Logger.Info("Starting HTTP server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		deps.Logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if deps.Config.Reconcile.Enabled {
		job := reconcile.NewJob(deps.DB, deps.Config.Reconcile.DeleteOrphanRoles, deps.Metrics, deps.Logger)
		scheduler, err := reconcile.NewScheduler(job, deps.Config.Reconcile.Schedule, deps.Logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return scheduler.Run(gctx) })
	}

	err = g.Wait()
	deps.Logger.Info("Server stopped")
	return err
}

func setupRoutes(ctx context.Context, deps *Dependencies) (*chi.Mux, error) {
	doc, err := swagger.Load(ctx)
	if err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	var metrics *observability.Metrics
	if deps.Config.Observability.Metrics.Enabled {
		metrics = deps.Metrics
	}
	err = rest.RegisterAllRoutes(router, rest.Dependencies{
		DB:          deps.DB,
		Auth:        auth.NewHandler(deps.Auth, deps.Users, deps.Metrics),
		Users:       user.NewHandler(deps.Users, deps.Permissions),
		Permissions: deps.Permissions,
		Metrics:     metrics,
		MetricsPath: deps.Config.Observability.Metrics.Path,
		OpenAPI:     doc,
		Origins:     deps.Config.Server.Origins(),
		Logger:      deps.Logger,
	})
	if err != nil {
		return nil, err
	}
	return router, nil
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.Init(config.Observability.Logging.Level, config.Observability.Logging.Format)

	gormDB, db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)
	if err := metrics.RegisterDBStats(db.DB, "courier_backoffice"); err != nil {
		return nil, fmt.Errorf("failed to register db stats: %w", err)
	}

	sec := config.Security
	issuer := identity.NewTokenIssuer(sec.AccessTokenSecret, sec.RefreshTokenSecret, sec.AccessTokenDuration, sec.RefreshTokenDuration)
	bus := events.NewEventBus(log)

	deps := &Dependencies{
		Config:      config,
		DB:          db,
		Gorm:        gormDB,
		Logger:      log,
		Metrics:     metrics,
		Bus:         bus,
		Provider:    identity.NewService(identityPostgres.NewIdentityRepository(gormDB), issuer, sec.BCryptCost, log),
		Roles:       rolePostgres.NewRoleRepository(gormDB),
		Permissions: permission.NewService(permissionPostgres.NewPermissionRepository(gormDB), log),
	}
	deps.Users = user.NewService(deps.Provider, deps.Roles, userPostgres.NewProfileRepository(gormDB), deps.Permissions, bus, log)
	deps.Auth = auth.NewService(deps.Provider, deps.Roles, deps.Users, config.Auth.MasterPassword, bus, metrics, log)
	if config.Auth.MasterPassword == "" {
		log.Warn("auth.master_password is empty; owner bootstrap disabled")
	}
	return deps, nil
}

// initDB opens one pool shared by gorm (repositories) and sqlx (health,
// reconcile).
func initDB(cfg internal.DatabaseConfig) (*gorm.DB, *sqlx.DB, error) {
	gormDB, err := gorm.Open(postgres.Open(cfg.GetDSN()), &gorm.Config{
		TranslateError: true,
		Logger:         gormLogger.Default.LogMode(gormLogger.Warn),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return gormDB, sqlx.NewDb(sqlDB, cfg.Driver), nil
}
