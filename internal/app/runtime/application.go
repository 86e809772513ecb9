// Package runtime wires configuration, storage, services and the HTTP stack
// into a runnable process.
package runtime

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	app "github.com/studycrew/studycrew/internal/app"
	"github.com/studycrew/studycrew/internal/app/httpapi"
	"github.com/studycrew/studycrew/internal/app/storage/postgres"
	"github.com/studycrew/studycrew/internal/config"
	"github.com/studycrew/studycrew/internal/logging"
	"github.com/studycrew/studycrew/internal/metrics"
	"github.com/studycrew/studycrew/internal/middleware"
	"github.com/studycrew/studycrew/internal/platform/migrations"
	"github.com/studycrew/studycrew/pkg/logger"
)

const serviceName = "studycrew"

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        config.Config
	log        *logger.Logger
	app        *app.Application
	httpServer *http.Server
	db         *sqlx.DB
	cache      *redis.Client

	stopRateLimitCleanup func()
}

// NewApplication constructs a fully wired application from configuration.
// cfgPath may be empty.
func NewApplication(cfgPath string) (*Application, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: "stdout",
	}).Named(serviceName)
	requestLog := logging.New(serviceName, cfg.Logging.Level, cfg.Logging.Format)

	m := metrics.New(serviceName)

	stores, db, err := buildStores(cfg)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	var cache *redis.Client
	if cfg.Redis.Addr != "" {
		cache = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	application := app.New(stores, app.Options{
		Cache:         cache,
		Metrics:       m,
		ReconcileSpec: cfg.Reconciler.Spec,
	}, log)

	router := httpapi.NewHandler(application, m)
	router.Use(middleware.LoggingMiddleware(requestLog))
	router.Use(middleware.MetricsMiddleware(serviceName, m))

	var handler http.Handler = router

	var stopCleanup func()
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, requestLog)
		stopCleanup = limiter.StartCleanup(10 * time.Minute)
		handler = limiter.Handler(handler)
	}

	if cfg.Auth.PublicKeyPath != "" {
		publicKey, err := loadPublicKey(cfg.Auth.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load auth public key: %w", err)
		}
		handler = middleware.NewAuthMiddleware(publicKey, requestLog, cfg.Auth.SkipPaths).Handler(handler)
	} else {
		log.Warn("authentication disabled; no public key configured")
	}

	handler = middleware.NewCORSMiddleware(cfg.Server.AllowedOrigins).Handler(handler)

	return &Application{
		cfg: cfg,
		log: log,
		app: application,
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr(),
			Handler:      handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		db:    db,
		cache: cache,

		stopRateLimitCleanup: stopCleanup,
	}, nil
}

// Run starts background work and the HTTP server, blocking until the context
// is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(); err != nil {
		return fmt.Errorf("start application: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", a.cfg.Server.Addr()).Info("HTTP server listening")
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown drains the HTTP server and background work, then closes
// connections.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}

	a.app.Stop()
	if a.stopRateLimitCleanup != nil {
		a.stopRateLimitCleanup()
	}

	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return nil
}

// buildStores selects the persistence backend. An empty database URL keeps
// everything in memory, which suits local development and tests.
func buildStores(cfg config.Config) (app.Stores, *sqlx.DB, error) {
	if cfg.Database.URL == "" {
		return app.Stores{}, nil, nil
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return app.Stores{}, nil, err
	}

	if err := migrations.Apply(db.DB); err != nil {
		db.Close()
		return app.Stores{}, nil, fmt.Errorf("apply migrations: %w", err)
	}

	store := postgres.New(db)
	return app.Stores{Studies: store, Memberships: store, Users: store}, db, nil
}

func openDatabase(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func loadPublicKey(path string) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return jwt.ParseRSAPublicKeyFromPEM(raw)
}
