package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drivelinehq/driveline/pkg/api"
	"github.com/drivelinehq/driveline/pkg/audit"
	"github.com/drivelinehq/driveline/pkg/authn"
	"github.com/drivelinehq/driveline/pkg/authz"
	"github.com/drivelinehq/driveline/pkg/config"
	"github.com/drivelinehq/driveline/pkg/directory"
	"github.com/drivelinehq/driveline/pkg/identity"
	"github.com/drivelinehq/driveline/pkg/janitor"
	"github.com/drivelinehq/driveline/pkg/observability"
	"github.com/drivelinehq/driveline/pkg/revocation"
	"github.com/drivelinehq/driveline/pkg/rotation"
	"github.com/drivelinehq/driveline/pkg/token"
	"github.com/drivelinehq/driveline/pkg/tokenstore"
)

func main() {
	// A local .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("invalid configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting driveline auth core")

	promRegistry := prometheus.NewRegistry()
	metrics := observability.NewNopMetrics()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(promRegistry)
	}

	// Postgres holds users, refresh records, directory and the audit trail.
	db, err := sql.Open("postgres", cfg.Storage.PostgresURL)
	if err != nil {
		logger.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Storage.PostgresMaxConns)

	pingCtx, cancel := context.WithTimeout(context.Background(), cfg.Storage.PostgresTimeout)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		logger.WithError(err).Error("failed to ping database")
		os.Exit(1)
	}

	if err := migrate(db); err != nil {
		logger.WithError(err).Error("failed to run migrations")
		os.Exit(1)
	}

	codec, err := token.NewCodec([]byte(cfg.Auth.SigningSecret), cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	if err != nil {
		logger.WithError(err).Error("failed to build token codec")
		os.Exit(1)
	}

	store := tokenstore.NewPostgresStore(db)
	users := identity.NewPostgresUserStore(db)
	dir := directory.NewPostgresDirectory(db)

	// Security events go to both the database and the log stream; the
	// emitter falls back to logging alone if the database write fails.
	sink := audit.NewMultiSink(audit.NewPostgresSink(db), audit.NewLogSink(logger))
	emitter := audit.NewEmitter(sink, logger)

	registry, stopRegistry, err := buildRegistry(cfg, logger, metrics)
	if err != nil {
		logger.WithError(err).Error("failed to build revocation registry")
		os.Exit(1)
	}
	defer stopRegistry()

	rotator := rotation.NewService(codec, store, users, emitter, logger,
		rotation.WithMaxActiveTokens(cfg.Auth.MaxActiveTokens),
		rotation.WithMetrics(metrics),
	)
	authnSvc := authn.NewService(codec, users, store, registry, rotator, emitter, logger,
		authn.WithMetrics(metrics),
		authn.WithHasher(authn.NewBcryptHasher(cfg.Auth.BcryptCost)),
	)
	engine := authz.NewEngine(dir, emitter, logger, authz.WithMetrics(metrics))

	sweeper := janitor.New(store, registry, logger, cfg.Janitor.SweepSchedule, cfg.Janitor.UsedRetention,
		janitor.WithMetrics(metrics))
	if err := sweeper.Start(); err != nil {
		logger.WithError(err).Error("failed to start janitor")
		os.Exit(1)
	}
	defer sweeper.Stop()

	server := api.NewServer(api.Deps{
		Codec:     codec,
		Registry:  registry,
		Authn:     authnSvc,
		Rotator:   rotator,
		Engine:    engine,
		Directory: dir,
		Logger:    logger,
		Metrics:   metrics,
	}, api.HealthCheck{
		Name: "postgres",
		Check: func(ctx context.Context) error {
			return db.PingContext(ctx)
		},
	})

	mainSrv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Metrics live on the health port so the main listener never exposes
	// operational internals.
	healthMux := http.NewServeMux()
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, promRegistry)
	}
	healthSrv := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.WithField("addr", mainSrv.Addr).Info("http server listening")
		if err := mainSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		logger.WithError(err).Error("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := mainSrv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("forced shutdown of http server")
	}
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("forced shutdown of health server")
	}
	logger.Info("stopped")
}

// migrate applies every schema this binary owns. Each statement is
// idempotent so repeated startups are safe.
func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := identity.NewPostgresUserStore(db).Migrate(ctx); err != nil {
		return err
	}
	if err := tokenstore.RunMigrations(ctx, db); err != nil {
		return err
	}
	if err := directory.NewPostgresDirectory(db).Migrate(ctx); err != nil {
		return err
	}
	return audit.NewPostgresSink(db).Migrate(ctx)
}

// buildRegistry picks the blacklist backend: Redis when configured, an
// in-process registry otherwise. The returned stop func releases whichever
// backend was chosen.
func buildRegistry(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) (revocation.Registry, func(), error) {
	if cfg.Storage.RedisURL != "" {
		r, err := revocation.NewRedisRegistry(cfg.Storage.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("revocation registry backed by redis")
		return r, func() { _ = r.Close() }, nil
	}

	r := revocation.NewMemoryRegistry(logger, revocation.WithMetrics(metrics))
	r.Start()
	logger.Warn("revocation registry is in-process, revocations will not survive restarts")
	return r, r.Stop, nil
}
