package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoshizora-ml/shirushi/internal/auth"
	"github.com/hoshizora-ml/shirushi/internal/memstore"
	"github.com/hoshizora-ml/shirushi/internal/model"
	"github.com/hoshizora-ml/shirushi/internal/ratelimit"
	"github.com/hoshizora-ml/shirushi/internal/registry"
	"github.com/hoshizora-ml/shirushi/internal/server"
)

const (
	testAdminKey  = "sk_admin_test_key"
	testReaderKey = "sk_reader_test_key"
)

type testServer struct {
	handler     http.Handler
	store       *memstore.Store
	adminToken  string
	readerToken string
}

func newTestServer(t *testing.T, withAuth bool) *testServer {
	t.Helper()

	store := memstore.New()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))
	reg := registry.New(store, store, logger)
	reg.AwaitInterval = time.Millisecond

	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	var keyring *auth.Keyring
	if withAuth {
		keyring, err = auth.NewKeyring(testAdminKey, testReaderKey)
	} else {
		keyring, err = auth.NewKeyring("", "")
	}
	require.NoError(t, err)

	srv := server.New(server.ServerConfig{
		Registry:     reg,
		JWTMgr:       jwtMgr,
		Keyring:      keyring,
		Logger:       logger,
		Version:      "test",
		AwaitTimeout: 50 * time.Millisecond,
		OpenAPISpec:  []byte("openapi: 3.1.0\n"),
	})

	ts := &testServer{handler: srv.Handler(), store: store}
	if withAuth {
		ts.adminToken = ts.fetchToken(t, testAdminKey)
		ts.readerToken = ts.fetchToken(t, testReaderKey)
	}
	return ts
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

// decodeData unmarshals the data field of the success envelope.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage    `json:"data"`
		Meta model.ResponseMeta `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NotEmpty(t, envelope.Meta.RequestID)
	require.NoError(t, json.Unmarshal(envelope.Data, target))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope model.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Error.Code
}

func (ts *testServer) fetchToken(t *testing.T, apiKey string) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/auth/token", "", model.AuthTokenRequest{APIKey: apiKey})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp model.AuthTokenResponse
	decodeData(t, rec, &resp)
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]string
	decodeData(t, rec, &health)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "test", health["version"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRateLimit(t *testing.T) {
	store := memstore.New()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))
	reg := registry.New(store, store, logger)
	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	keyring, err := auth.NewKeyring("", "")
	require.NoError(t, err)

	limiter := ratelimit.NewMemoryLimiter(0.001, 2)
	t.Cleanup(func() { _ = limiter.Close() })

	srv := server.New(server.ServerConfig{
		Registry:    reg,
		JWTMgr:      jwtMgr,
		Keyring:     keyring,
		Logger:      logger,
		Version:     "test",
		RateLimiter: limiter,
	})

	get := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/prompts", nil)
		req.RemoteAddr = "203.0.113.9:4000"
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, get().Code)
	require.Equal(t, http.StatusOK, get().Code)

	rec := get()
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, model.ErrCodeRateLimited, errorCode(t, rec))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestOpenAPISpecNoAuth(t *testing.T) {
	ts := newTestServer(t, true)
	rec := ts.do(t, http.MethodGet, "/openapi.yaml", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "openapi:")
}

func TestAuthTokenInvalidKey(t *testing.T) {
	ts := newTestServer(t, true)
	rec := ts.do(t, http.MethodPost, "/auth/token", "", model.AuthTokenRequest{APIKey: "wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, model.ErrCodeUnauthorized, errorCode(t, rec))
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, true)

	rec := ts.do(t, http.MethodGet, "/api/v1/prompts", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/prompts", "garbage-token", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/prompts", ts.readerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReaderCannotWrite(t *testing.T) {
	ts := newTestServer(t, true)

	rec := ts.do(t, http.MethodPost, "/api/v1/prompts", ts.readerToken, model.CreatePromptRequest{Name: "p"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, model.ErrCodeForbidden, errorCode(t, rec))

	rec = ts.do(t, http.MethodPost, "/api/v1/prompts", ts.adminToken, model.CreatePromptRequest{Name: "p"})
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestAuthDisabledRunsAsAdmin(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(t, http.MethodPost, "/api/v1/prompts", "", model.CreatePromptRequest{Name: "open"})
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestPromptLifecycle(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/v1/prompts", "", model.CreatePromptRequest{
		Name:        "greeting",
		Description: "a greeting prompt",
		Tags:        map[string]string{"team": "ml"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created model.Prompt
	decodeData(t, rec, &created)
	assert.Equal(t, "greeting", created.Name)
	assert.Equal(t, map[string]string{"team": "ml"}, created.Tags)

	rec = ts.do(t, http.MethodPost, "/api/v1/prompts", "", model.CreatePromptRequest{Name: "greeting"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, model.ErrCodeConflict, errorCode(t, rec))

	rec = ts.do(t, http.MethodGet, "/api/v1/prompts/greeting", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/prompts/absent", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, model.ErrCodeNotFound, errorCode(t, rec))

	rec = ts.do(t, http.MethodPost, "/api/v1/prompts/greeting/tags", "", model.SetTagRequest{Key: "stage", Value: "dev"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/prompts/greeting", "", nil)
	var fetched model.Prompt
	decodeData(t, rec, &fetched)
	assert.Equal(t, "dev", fetched.Tags["stage"])

	rec = ts.do(t, http.MethodDelete, "/api/v1/prompts/greeting/tags/stage", "", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/v1/prompts/greeting", "", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/prompts/greeting", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPromptVersionLifecycle(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/v1/prompts", "", model.CreatePromptRequest{Name: "qa"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/prompts/qa/versions", "", model.CreatePromptVersionRequest{
		Template:    model.TextTemplate("Answer {{question}} briefly."),
		Description: "first cut",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var v1 model.PromptVersion
	decodeData(t, rec, &v1)
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, "Answer {{question}} briefly.", v1.Template.Text())

	rec = ts.do(t, http.MethodGet, "/api/v1/prompts/qa/versions/1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/v1/prompts/qa/aliases/production", "", model.SetAliasRequest{Version: "1"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/prompts/qa/aliases/production", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var byAlias model.PromptVersion
	decodeData(t, rec, &byAlias)
	assert.Equal(t, 1, byAlias.Version)

	// The version path segment resolves aliases too.
	rec = ts.do(t, http.MethodGet, "/api/v1/prompts/qa/versions/production", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/prompts/qa/versions/1/tags", "", model.SetTagRequest{Key: "eval", Value: "passed"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/v1/prompts/qa/aliases/production", "", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/prompts/qa/aliases/production", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/v1/prompts/qa/versions/1", "", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/prompts/qa/versions/1", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatPromptVersion(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/v1/prompts", "", model.CreatePromptRequest{Name: "chat"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/prompts/chat/versions", "", model.CreatePromptVersionRequest{
		Template: model.ChatTemplate([]model.ChatMessage{
			{Role: "system", Content: "You are terse."},
			{Role: "user", Content: "{{question}}"},
		}),
		ResponseFormat: json.RawMessage(`{"type":"json_object"}`),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/v1/prompts/chat/versions/1", "", nil)
	var pv model.PromptVersion
	decodeData(t, rec, &pv)
	require.True(t, pv.Template.IsChat())
	require.Len(t, pv.Template.Messages(), 2)
	assert.Equal(t, "system", pv.Template.Messages()[0].Role)
	assert.JSONEq(t, `{"type":"json_object"}`, string(pv.ResponseFormat))
}

func TestSearchPrompts(t *testing.T) {
	ts := newTestServer(t, false)

	for _, name := range []string{"alpha", "beta", "gamma"} {
		rec := ts.do(t, http.MethodPost, "/api/v1/prompts", "", model.CreatePromptRequest{Name: name})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := ts.do(t, http.MethodGet, "/api/v1/prompts?max_results=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page model.SearchPromptsResponse
	decodeData(t, rec, &page)
	require.Len(t, page.Prompts, 2)
	require.NotEmpty(t, page.NextPageToken)

	rec = ts.do(t, http.MethodGet, "/api/v1/prompts?max_results=2&page_token="+page.NextPageToken, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = model.SearchPromptsResponse{}
	decodeData(t, rec, &page)
	require.Len(t, page.Prompts, 1)
	assert.Empty(t, page.NextPageToken)

	rec = ts.do(t, http.MethodGet, "/api/v1/prompts?filter=name+%3D+%27beta%27", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &page)
	require.Len(t, page.Prompts, 1)
	assert.Equal(t, "beta", page.Prompts[0].Name)

	rec = ts.do(t, http.MethodGet, "/api/v1/prompts?max_results=nope", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLinkPromptsToTrace(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/v1/prompts", "", model.CreatePromptRequest{Name: "traced"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/v1/prompts/traced/versions", "", model.CreatePromptVersionRequest{
		Template: model.TextTemplate("hi"),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	ts.store.PutTrace("tr-1", nil)

	body := model.LinkPromptsRequest{Prompts: []model.LinkedPrompt{{Name: "traced", Version: "1"}}}
	rec = ts.do(t, http.MethodPost, "/api/v1/links/traces/tr-1", "", body)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	info, err := ts.store.GetTraceInfo(context.Background(), "tr-1")
	require.NoError(t, err)
	require.NotNil(t, info)
	var linked []model.LinkedPrompt
	require.NoError(t, json.Unmarshal([]byte(info.Tags[model.LinkedPromptsTagKey]), &linked))
	require.Len(t, linked, 1)
	assert.Equal(t, "traced", linked[0].Name)

	rec = ts.do(t, http.MethodPost, "/api/v1/links/traces/missing", "", body)
	require.Equal(t, http.StatusNotFound, rec.Code)

	bad := model.LinkPromptsRequest{Prompts: []model.LinkedPrompt{{Name: "traced", Version: "one"}}}
	rec = ts.do(t, http.MethodPost, "/api/v1/links/traces/tr-1", "", bad)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLinkPromptToRun(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/v1/prompts", "", model.CreatePromptRequest{Name: "runner"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/v1/prompts/runner/versions", "", model.CreatePromptVersionRequest{
		Template: model.TextTemplate("hi"),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	ts.store.PutRun("run-1", "experiment", nil)

	body := model.LinkPromptsRequest{Prompts: []model.LinkedPrompt{{Name: "runner", Version: "1"}}}
	rec = ts.do(t, http.MethodPost, "/api/v1/links/runs/run-1", "", body)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	run, err := ts.store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Contains(t, run.Tags[model.LinkedPromptsTagKey], `"runner"`)
}

func TestModelEndpoints(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/v1/models", "", model.CreateModelRequest{Name: "classifier"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	runID := "run-9"
	rec = ts.do(t, http.MethodPost, "/api/v1/models/classifier/versions", "", model.CreateModelVersionRequest{
		Source: "s3://bucket/model",
		RunID:  &runID,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var mv model.ModelVersion
	decodeData(t, rec, &mv)
	assert.Equal(t, 1, mv.Version)
	assert.Equal(t, model.StatusReady, mv.Status)

	rec = ts.do(t, http.MethodGet, "/api/v1/models/classifier/versions/1/download-uri", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var uri model.DownloadURIResponse
	decodeData(t, rec, &uri)
	assert.Equal(t, "s3://bucket/model", uri.ArtifactURI)

	rec = ts.do(t, http.MethodGet, "/api/v1/models/classifier/latest", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var latest []model.ModelVersion
	decodeData(t, rec, &latest)
	require.Len(t, latest, 1)

	rec = ts.do(t, http.MethodPatch, "/api/v1/models/classifier", "", model.UpdateModelRequest{Description: "v2 of docs"})
	require.Equal(t, http.StatusOK, rec.Code)
	var rm model.RegisteredModel
	decodeData(t, rec, &rm)
	assert.Equal(t, "v2 of docs", rm.Description)

	rec = ts.do(t, http.MethodPost, "/api/v1/models/classifier/rename", "", model.RenameModelRequest{NewName: "classifier-v2"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/models/classifier-v2/versions/1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/models/classifier-v2/versions/zero", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/v1/models/classifier-v2", "", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCopyModelVersion(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/v1/models", "", model.CreateModelRequest{Name: "src"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/v1/models/src/versions", "", model.CreateModelVersionRequest{Source: "s3://a"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/models/src/versions/1/copy", "", model.CopyModelVersionRequest{DestinationName: "dst"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var dst model.ModelVersion
	decodeData(t, rec, &dst)
	assert.Equal(t, "dst", dst.Name)
	assert.Equal(t, 1, dst.Version)
}

func TestAwaitModelVersion(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/v1/models", "", model.CreateModelRequest{Name: "slow"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/v1/models/slow/versions", "", model.CreateModelVersionRequest{Source: "s3://a"})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Versions are created READY, so await returns immediately.
	rec = ts.do(t, http.MethodPost, "/api/v1/models/slow/versions/1/await", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var mv model.ModelVersion
	decodeData(t, rec, &mv)
	assert.Equal(t, model.StatusReady, mv.Status)

	// A version stuck in PENDING_REGISTRATION times out.
	require.NoError(t, ts.store.SetModelVersionStatus("slow", 1, model.StatusPendingRegistration, ""))
	rec = ts.do(t, http.MethodPost, "/api/v1/models/slow/versions/1/await", "", nil)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, model.ErrCodeTimeout, errorCode(t, rec))
}

func TestInvalidRequestBody(t *testing.T) {
	ts := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/prompts", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, model.ErrCodeInvalidInput, errorCode(t, rec))

	// Unknown fields are rejected.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/prompts", bytes.NewBufferString(`{"name":"x","bogus":1}`))
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
