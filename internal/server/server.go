package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hoshizora-ml/shirushi/internal/auth"
	"github.com/hoshizora-ml/shirushi/internal/ratelimit"
	"github.com/hoshizora-ml/shirushi/internal/registry"
)

// Server is the Shirushi HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Pinger reports backend connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Pinger, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	Registry *registry.Registry
	JWTMgr   *auth.JWTManager
	Keyring  *auth.Keyring
	Logger   *slog.Logger

	// Optional dependencies (nil = disabled).
	Pinger      Pinger
	MCPServer   *mcpserver.MCPServer
	RateLimiter ratelimit.Limiter

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	AwaitTimeout        time.Duration
	OpenAPISpec         []byte // Embedded OpenAPI YAML.
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Registry:            cfg.Registry,
		JWTMgr:              cfg.JWTMgr,
		Keyring:             cfg.Keyring,
		Pinger:              cfg.Pinger,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		AwaitTimeout:        cfg.AwaitTimeout,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	mux := http.NewServeMux()

	// Auth endpoint (no auth required).
	mux.HandleFunc("POST /auth/token", h.HandleAuthToken)

	// Health and API docs (no auth).
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	write := requireWrite

	// Prompts.
	mux.Handle("POST /api/v1/prompts", write(http.HandlerFunc(h.HandleCreatePrompt)))
	mux.HandleFunc("GET /api/v1/prompts", h.HandleSearchPrompts)
	mux.HandleFunc("GET /api/v1/prompts/{name}", h.HandleGetPrompt)
	mux.Handle("DELETE /api/v1/prompts/{name}", write(http.HandlerFunc(h.HandleDeletePrompt)))
	mux.Handle("POST /api/v1/prompts/{name}/tags", write(http.HandlerFunc(h.HandleSetPromptTag)))
	mux.Handle("DELETE /api/v1/prompts/{name}/tags/{key}", write(http.HandlerFunc(h.HandleDeletePromptTag)))

	// Prompt versions.
	mux.Handle("POST /api/v1/prompts/{name}/versions", write(http.HandlerFunc(h.HandleCreatePromptVersion)))
	mux.HandleFunc("GET /api/v1/prompts/{name}/versions/{version}", h.HandleGetPromptVersion)
	mux.Handle("DELETE /api/v1/prompts/{name}/versions/{version}", write(http.HandlerFunc(h.HandleDeletePromptVersion)))
	mux.Handle("POST /api/v1/prompts/{name}/versions/{version}/tags", write(http.HandlerFunc(h.HandleSetPromptVersionTag)))
	mux.Handle("DELETE /api/v1/prompts/{name}/versions/{version}/tags/{key}", write(http.HandlerFunc(h.HandleDeletePromptVersionTag)))

	// Prompt aliases.
	mux.Handle("PUT /api/v1/prompts/{name}/aliases/{alias}", write(http.HandlerFunc(h.HandleSetPromptAlias)))
	mux.HandleFunc("GET /api/v1/prompts/{name}/aliases/{alias}", h.HandleGetPromptVersionByAlias)
	mux.Handle("DELETE /api/v1/prompts/{name}/aliases/{alias}", write(http.HandlerFunc(h.HandleDeletePromptAlias)))

	// Links from prompt versions to tracking entities.
	mux.Handle("POST /api/v1/links/traces/{trace_id}", write(http.HandlerFunc(h.HandleLinkPromptsToTrace)))
	mux.Handle("POST /api/v1/links/runs/{run_id}", write(http.HandlerFunc(h.HandleLinkPromptToRun)))
	mux.Handle("POST /api/v1/links/models/{model_id}", write(http.HandlerFunc(h.HandleLinkPromptToModel)))

	// Registered models (the generic primitive under prompts).
	mux.Handle("POST /api/v1/models", write(http.HandlerFunc(h.HandleCreateModel)))
	mux.HandleFunc("GET /api/v1/models", h.HandleSearchModels)
	mux.HandleFunc("GET /api/v1/models/{name}", h.HandleGetModel)
	mux.Handle("PATCH /api/v1/models/{name}", write(http.HandlerFunc(h.HandleUpdateModel)))
	mux.Handle("POST /api/v1/models/{name}/rename", write(http.HandlerFunc(h.HandleRenameModel)))
	mux.Handle("DELETE /api/v1/models/{name}", write(http.HandlerFunc(h.HandleDeleteModel)))
	mux.Handle("POST /api/v1/models/{name}/versions", write(http.HandlerFunc(h.HandleCreateModelVersion)))
	mux.HandleFunc("GET /api/v1/models/{name}/versions/{version}", h.HandleGetModelVersion)
	mux.Handle("DELETE /api/v1/models/{name}/versions/{version}", write(http.HandlerFunc(h.HandleDeleteModelVersion)))
	mux.HandleFunc("GET /api/v1/models/{name}/versions/{version}/download-uri", h.HandleGetDownloadURI)
	mux.HandleFunc("GET /api/v1/models/{name}/latest", h.HandleGetLatestVersions)
	mux.Handle("POST /api/v1/models/{name}/versions/{version}/copy", write(http.HandlerFunc(h.HandleCopyModelVersion)))
	mux.HandleFunc("POST /api/v1/models/{name}/versions/{version}/await", h.HandleAwaitModelVersion)

	// MCP StreamableHTTP transport (auth required).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", mcpHTTP)
	}

	// Middleware chain (outermost executes first):
	// request ID, security headers, tracing, logging, rate limit, auth, recovery, handler.
	authEnabled := cfg.Keyring != nil && !cfg.Keyring.Empty()
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, authEnabled, handler)
	handler = ratelimit.Middleware(cfg.RateLimiter, ratelimit.IPKeyFunc, func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	})(handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
