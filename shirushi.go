// Package shirushi is the public API for embedding the Shirushi prompt
// registry server.
//
// Consumers construct and run the server without forking it:
//
//	app, err := shirushi.New(
//	    shirushi.WithVersion(version),
//	    shirushi.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: shirushi (root)
// imports internal/*, but internal/* never imports shirushi (root).
package shirushi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/hoshizora-ml/shirushi/api"
	"github.com/hoshizora-ml/shirushi/internal/auth"
	"github.com/hoshizora-ml/shirushi/internal/config"
	"github.com/hoshizora-ml/shirushi/internal/mcp"
	"github.com/hoshizora-ml/shirushi/internal/memstore"
	"github.com/hoshizora-ml/shirushi/internal/ratelimit"
	"github.com/hoshizora-ml/shirushi/internal/registry"
	"github.com/hoshizora-ml/shirushi/internal/server"
	"github.com/hoshizora-ml/shirushi/internal/storage"
	"github.com/hoshizora-ml/shirushi/internal/telemetry"
	"github.com/hoshizora-ml/shirushi/internal/tracking"
	"github.com/hoshizora-ml/shirushi/migrations"
)

// App is the Shirushi server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	db           *storage.DB // nil when running on the in-memory store
	limiter      ratelimit.Limiter
	registry     *registry.Registry
	srv          *server.Server
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// Registry returns the prompt registry, for embedding consumers that want
// to drive it directly rather than over HTTP.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// New initialises the Shirushi server. It connects to the database, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.memoryStore {
		cfg.MemoryStore = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("shirushi starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Wire the store: Postgres by default, in-memory when configured.
	var (
		db       *storage.DB
		regStore registry.Store
		trkStore tracking.Store
		pinger   server.Pinger
	)
	if cfg.MemoryStore {
		mem := memstore.New()
		regStore, trkStore = mem, mem
		logger.Info("storage: in-memory (state is lost on restart)")
	} else {
		db, err = storage.New(context.Background(), cfg.DatabaseURL, logger)
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("storage: %w", err)
		}
		if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("migrations: %w", err)
		}
		for i, extraFS := range o.extraMigrations {
			if err := db.RunMigrations(context.Background(), extraFS); err != nil {
				db.Close()
				_ = otelShutdown(context.Background())
				return nil, fmt.Errorf("extra migrations[%d]: %w", i, err)
			}
		}
		regStore, trkStore, pinger = db, db, db
	}

	closeStore := func() {
		if db != nil {
			db.Close()
		}
	}

	// JWT manager and API keyring.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		closeStore()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}
	keyring, err := auth.NewKeyring(cfg.AdminAPIKey, cfg.ReaderAPIKey)
	if err != nil {
		closeStore()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}
	if keyring.Empty() {
		logger.Warn("no API keys configured: authentication is disabled and every request runs as admin")
	}

	// Prompt registry.
	reg := registry.New(regStore, trkStore, logger)
	if cfg.AwaitPollInterval > 0 {
		reg.AwaitInterval = cfg.AwaitPollInterval
	}

	// Per-IP rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting enabled", "rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	}

	// MCP server.
	mcpSrv := mcp.New(reg, logger, version)

	// HTTP server.
	srv := server.New(server.ServerConfig{
		Registry:            reg,
		JWTMgr:              jwtMgr,
		Keyring:             keyring,
		Logger:              logger,
		Pinger:              pinger,
		MCPServer:           mcpSrv.MCPServer(),
		RateLimiter:         limiter,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		AwaitTimeout:        cfg.AwaitTimeout,
		OpenAPISpec:         api.OpenAPISpec,
	})

	return &App{
		cfg:          cfg,
		db:           db,
		limiter:      limiter,
		registry:     reg,
		srv:          srv,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or a fatal
// server error occurs. On return, Shutdown has been called — callers
// should not call it separately.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

// Shutdown drains in-flight HTTP requests, then closes the database pool
// and the OTEL providers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shirushi shutting down")

	if err := a.srv.Shutdown(ctx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}

	_ = a.otelShutdown(context.Background())
	if a.limiter != nil {
		_ = a.limiter.Close()
	}
	if a.db != nil {
		a.db.Close()
	}

	a.logger.Info("shirushi stopped")
	return nil
}
