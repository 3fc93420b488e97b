package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hoshizora-ml/shirushi/internal/auth"
	"github.com/hoshizora-ml/shirushi/internal/model"
	"github.com/hoshizora-ml/shirushi/internal/registry"
)

const defaultMaxRequestBodyBytes = 1 << 20

// HandlersDeps holds the dependencies for creating Handlers.
type HandlersDeps struct {
	Registry            *registry.Registry
	JWTMgr              *auth.JWTManager
	Keyring             *auth.Keyring
	Pinger              Pinger
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	AwaitTimeout        time.Duration
	OpenAPISpec         []byte
}

// Handlers holds the HTTP handler methods and their dependencies.
type Handlers struct {
	registry     *registry.Registry
	jwtMgr       *auth.JWTManager
	keyring      *auth.Keyring
	pinger       Pinger
	logger       *slog.Logger
	version      string
	maxBody      int64
	awaitTimeout time.Duration
	openapiSpec  []byte
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	maxBody := deps.MaxRequestBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxRequestBodyBytes
	}
	awaitTimeout := deps.AwaitTimeout
	if awaitTimeout <= 0 {
		awaitTimeout = 5 * time.Minute
	}
	return &Handlers{
		registry:     deps.Registry,
		jwtMgr:       deps.JWTMgr,
		keyring:      deps.Keyring,
		pinger:       deps.Pinger,
		logger:       deps.Logger,
		version:      deps.Version,
		maxBody:      maxBody,
		awaitTimeout: awaitTimeout,
		openapiSpec:  deps.OpenAPISpec,
	}
}

// decode reads and decodes the request body with the configured size limit.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := decodeJSON(r, target); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// HandleAuthToken exchanges an API key for a short-lived JWT.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	if h.keyring == nil || h.keyring.Empty() {
		writeError(w, r, http.StatusNotImplemented, model.ErrCodeUnsupported, "API key authentication is not configured")
		return
	}
	var req model.AuthTokenRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.keyring.Authenticate(req.APIKey)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidAPIKey) {
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid API key")
			return
		}
		h.logger.Error("api key authentication failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "authentication failed")
		return
	}
	token, expiresAt, err := h.jwtMgr.IssueToken(role)
	if err != nil {
		h.logger.Error("token issuance failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "token issuance failed")
		return
	}
	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
}

// HandleHealth reports service liveness and backend connectivity.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			h.logger.Warn("health check: database unreachable", "error", err)
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, r, httpStatus, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}
