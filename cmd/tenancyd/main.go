// Command tenancyd serves the privileged provisioning RPC. It holds the
// identity provider's management credential so devices never do.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"go.uber.org/zap"

	"github.com/goliatone/go-tenancy"
	"github.com/goliatone/go-tenancy/activitymap"
	"github.com/goliatone/go-tenancy/metrics"
	"github.com/goliatone/go-tenancy/middleware/jwtware"
	"github.com/goliatone/go-tenancy/provider/auth0"
	"github.com/goliatone/go-tenancy/provider/memory"
	"github.com/goliatone/go-tenancy/repository"
	"github.com/goliatone/go-tenancy/rpc"
)

type App struct {
	config   *Config
	logger   *zap.Logger
	db       *bun.DB
	repo     repository.Manager
	accounts tenancy.AccountCreator
	registry *tenancy.Registry
	cache    *tenancy.RistrettoSlugCache
	metrics  *metrics.Metrics
	activity tenancy.ActivitySink
	promReg  *prometheus.Registry
	srv      router.Server[*fiber.App]
	closers  []func()
}

func (a *App) GetLogger(name string) tenancy.Logger {
	return tenancy.FromZap(a.logger.Named(name))
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()
	app := &App{config: cfg, logger: logger}
	defer app.Close()

	steps := []struct {
		name string
		fn   func(context.Context, *App) error
	}{
		{"persistence", WithPersistence},
		{"metrics", WithMetrics},
		{"identity provider", WithIdentityProvider},
		{"registry", WithRegistry},
		{"http server", WithHTTPServer},
	}
	for _, step := range steps {
		if err := step.fn(ctx, app); err != nil {
			logger.Fatal("failed to initialize "+step.name, zap.Error(err))
		}
	}

	go func() {
		logger.Info("serving provisioning RPC", zap.String("addr", cfg.Addr))
		if err := app.srv.Serve(cfg.Addr); err != nil {
			logger.Error("server stopped", zap.Error(err))
		}
	}()

	sig := WaitExitSignal()
	logger.Info("shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := app.srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
}

func WithPersistence(ctx context.Context, app *App) error {
	sqldb, err := sql.Open(sqliteshim.ShimName, app.config.DatabaseDSN)
	if err != nil {
		return err
	}
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if err := repository.Migrate(ctx, db); err != nil {
		db.Close()
		return err
	}

	app.db = db
	app.repo = repository.NewRepositoryManager(db)
	app.repo.MustValidate()
	app.onClose(func() { db.Close() })
	return nil
}

func WithMetrics(_ context.Context, app *App) error {
	app.promReg = prometheus.NewRegistry()
	app.promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = metrics.New(app.promReg)

	if app.config.MetricsAddr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(app.promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	admin := &http.Server{Addr: app.config.MetricsAddr, Handler: mux}
	go func() {
		app.logger.Info("serving metrics", zap.String("addr", app.config.MetricsAddr))
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	app.onClose(func() { admin.Close() })
	return nil
}

func WithIdentityProvider(ctx context.Context, app *App) error {
	if app.config.Auth0Domain == "" {
		app.logger.Warn("AUTH0_DOMAIN not set, using in-memory identity provider")
		app.accounts = memory.New()
		return nil
	}

	cfg := auth0.DefaultConfig(app.config.Auth0Domain, app.config.Auth0ClientID, app.config.Auth0ClientSecret)
	if app.config.Auth0Connection != "" {
		cfg.Connection = app.config.Auth0Connection
	}

	provider, err := auth0.NewIdentityProvider(ctx, cfg, auth0.WithLogger(app.GetLogger("auth0")))
	if err != nil {
		return err
	}
	app.accounts = provider
	app.onClose(provider.Close)
	return nil
}

func WithRegistry(_ context.Context, app *App) error {
	app.activity = activitymap.NewLogSink(app.logger.Named("activity"))

	cache, err := tenancy.NewRistrettoSlugCache(app.config.SlugCacheSize, app.config.SlugCacheTTL)
	if err != nil {
		return err
	}
	app.cache = cache
	app.onClose(cache.Close)

	app.registry = tenancy.NewRegistry(app.repo.Store(),
		tenancy.WithRegistryCache(cache),
		tenancy.WithRegistryLogger(app.GetLogger("registry")),
		tenancy.WithRegistryMetrics(app.metrics),
		tenancy.WithRegistryActivitySink(app.activity),
	)
	return nil
}

func WithHTTPServer(_ context.Context, app *App) error {
	app.srv = router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			AppName:      "tenancyd",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: app.config.RosterTimeout + 10*time.Second,
		}))
	})

	store := app.repo.Store()

	provisioner := tenancy.NewProvisioner(store, app.accounts,
		tenancy.WithProvisionerLogger(app.GetLogger("provisioner")),
		tenancy.WithProvisionerMetrics(app.metrics),
		tenancy.WithProvisionConcurrency(app.config.ProvisionConcurrency),
		tenancy.WithProvisionRate(app.config.ProvisionRPS, app.config.ProvisionConcurrency),
		tenancy.WithProvisionerActivitySink(app.activity),
	)

	tenants := tenancy.NewTenantService(store, app.registry, provisioner,
		tenancy.WithTenantServiceLogger(app.GetLogger("tenants")),
		tenancy.WithTenantServiceActivitySink(app.activity),
	)

	controller := rpc.NewController(rpc.Services{
		Store:         store,
		Provisioner:   provisioner,
		Tenants:       tenants,
		RosterTimeout: app.config.RosterTimeout,
	}, rpc.WithLogger(app.GetLogger("rpc")))

	auth := controller.OwnerAuth(ownerAuthConfig(app.config))

	r := app.srv.Router()
	r.Get("/health", func(ctx router.Context) error {
		return ctx.JSON(router.StatusOK, map[string]string{"status": "ok"})
	}).SetName("health")

	rpc.RegisterRoutes(r, controller, auth)
	return nil
}

// ownerAuthConfig verifies owner tokens against the JWKS endpoint when one is
// configured, otherwise against the shared HS256 key.
func ownerAuthConfig(cfg *Config) jwtware.Config {
	if cfg.JWKSURL != "" {
		return jwtware.Config{JWKSetURLs: []string{cfg.JWKSURL}}
	}
	return jwtware.Config{
		SigningKey: jwtware.SigningKey{
			JWTAlg: "HS256",
			Key:    []byte(cfg.SigningKey),
		},
	}
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
