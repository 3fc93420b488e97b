package shirushi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Shirushi server (e.g. "http://localhost:8080").
	BaseURL string

	// APIKey is the secret used to obtain a JWT token. Leave empty when the
	// server runs with authentication disabled.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Shirushi prompt registry API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	client   *http.Client
	tokenMgr *tokenManager // nil when no API key is configured
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("shirushi: BaseURL is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &Client{
		baseURL: baseURL,
		client:  httpClient,
	}
	if cfg.APIKey != "" {
		c.tokenMgr = newTokenManager(baseURL, cfg.APIKey, httpClient)
	}
	return c, nil
}

// CreatePrompt registers a new named prompt.
func (c *Client) CreatePrompt(ctx context.Context, name, description string, tags map[string]string) (*Prompt, error) {
	body := map[string]any{"name": name}
	if description != "" {
		body["description"] = description
	}
	if len(tags) > 0 {
		body["tags"] = tags
	}
	var prompt Prompt
	if err := c.post(ctx, "/api/v1/prompts", body, &prompt); err != nil {
		return nil, err
	}
	return &prompt, nil
}

// GetPrompt fetches a prompt by name.
func (c *Client) GetPrompt(ctx context.Context, name string) (*Prompt, error) {
	var prompt Prompt
	if err := c.get(ctx, "/api/v1/prompts/"+url.PathEscape(name), &prompt); err != nil {
		return nil, err
	}
	return &prompt, nil
}

// SearchPrompts lists prompts matching the options. Nil opts list everything.
func (c *Client) SearchPrompts(ctx context.Context, opts *SearchOptions) (*PromptPage, error) {
	params := url.Values{}
	if opts != nil {
		if opts.Filter != "" {
			params.Set("filter", opts.Filter)
		}
		if opts.MaxResults > 0 {
			params.Set("max_results", strconv.Itoa(opts.MaxResults))
		}
		if opts.PageToken != "" {
			params.Set("page_token", opts.PageToken)
		}
	}
	path := "/api/v1/prompts"
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var page PromptPage
	if err := c.get(ctx, path, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// DeletePrompt removes a prompt and all its versions.
func (c *Client) DeletePrompt(ctx context.Context, name string) error {
	return c.doDelete(ctx, "/api/v1/prompts/"+url.PathEscape(name))
}

// SetPromptTag sets a tag on a prompt.
func (c *Client) SetPromptTag(ctx context.Context, name, key, value string) error {
	body := map[string]string{"key": key, "value": value}
	return c.post(ctx, "/api/v1/prompts/"+url.PathEscape(name)+"/tags", body, nil)
}

// DeletePromptTag removes a tag from a prompt.
func (c *Client) DeletePromptTag(ctx context.Context, name, key string) error {
	return c.doDelete(ctx, "/api/v1/prompts/"+url.PathEscape(name)+"/tags/"+url.PathEscape(key))
}

// CreatePromptVersion adds a new immutable version to an existing prompt.
func (c *Client) CreatePromptVersion(ctx context.Context, name string, req CreateVersionRequest) (*PromptVersion, error) {
	var pv PromptVersion
	if err := c.post(ctx, "/api/v1/prompts/"+url.PathEscape(name)+"/versions", req, &pv); err != nil {
		return nil, err
	}
	return &pv, nil
}

// GetPromptVersion fetches one prompt version. The version argument may be
// an integer rendered as a string, or an alias name.
func (c *Client) GetPromptVersion(ctx context.Context, name, version string) (*PromptVersion, error) {
	var pv PromptVersion
	path := "/api/v1/prompts/" + url.PathEscape(name) + "/versions/" + url.PathEscape(version)
	if err := c.get(ctx, path, &pv); err != nil {
		return nil, err
	}
	return &pv, nil
}

// DeletePromptVersion deletes one prompt version.
func (c *Client) DeletePromptVersion(ctx context.Context, name, version string) error {
	return c.doDelete(ctx, "/api/v1/prompts/"+url.PathEscape(name)+"/versions/"+url.PathEscape(version))
}

// SetPromptVersionTag sets a tag on a prompt version.
func (c *Client) SetPromptVersionTag(ctx context.Context, name, version, key, value string) error {
	body := map[string]string{"key": key, "value": value}
	path := "/api/v1/prompts/" + url.PathEscape(name) + "/versions/" + url.PathEscape(version) + "/tags"
	return c.post(ctx, path, body, nil)
}

// DeletePromptVersionTag removes a tag from a prompt version.
func (c *Client) DeletePromptVersionTag(ctx context.Context, name, version, key string) error {
	path := "/api/v1/prompts/" + url.PathEscape(name) + "/versions/" + url.PathEscape(version) + "/tags/" + url.PathEscape(key)
	return c.doDelete(ctx, path)
}

// SetAlias points an alias at a prompt version. Re-running with a different
// version atomically repoints the alias.
func (c *Client) SetAlias(ctx context.Context, name, alias, version string) error {
	body := map[string]string{"version": version}
	path := "/api/v1/prompts/" + url.PathEscape(name) + "/aliases/" + url.PathEscape(alias)
	return c.put(ctx, path, body)
}

// GetPromptVersionByAlias resolves an alias to its prompt version.
func (c *Client) GetPromptVersionByAlias(ctx context.Context, name, alias string) (*PromptVersion, error) {
	var pv PromptVersion
	path := "/api/v1/prompts/" + url.PathEscape(name) + "/aliases/" + url.PathEscape(alias)
	if err := c.get(ctx, path, &pv); err != nil {
		return nil, err
	}
	return &pv, nil
}

// DeleteAlias removes an alias from a prompt.
func (c *Client) DeleteAlias(ctx context.Context, name, alias string) error {
	return c.doDelete(ctx, "/api/v1/prompts/"+url.PathEscape(name)+"/aliases/"+url.PathEscape(alias))
}

// LinkToTrace records that the given prompt versions were used while
// producing a trace. Linking is idempotent.
func (c *Client) LinkToTrace(ctx context.Context, traceID string, prompts []LinkedPrompt) error {
	body := map[string]any{"prompts": prompts}
	return c.post(ctx, "/api/v1/links/traces/"+url.PathEscape(traceID), body, nil)
}

// LinkToRun records prompt versions on a tracking run.
func (c *Client) LinkToRun(ctx context.Context, runID string, prompts []LinkedPrompt) error {
	body := map[string]any{"prompts": prompts}
	return c.post(ctx, "/api/v1/links/runs/"+url.PathEscape(runID), body, nil)
}

// LinkToModel records prompt versions on a logged model.
func (c *Client) LinkToModel(ctx context.Context, modelID string, prompts []LinkedPrompt) error {
	body := map[string]any{"prompts": prompts}
	return c.post(ctx, "/api/v1/links/models/"+url.PathEscape(modelID), body, nil)
}

// Health reports server liveness and backend connectivity. It does not
// require authentication.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var health Health
	if err := c.getNoAuth(ctx, "/health", &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	return c.send(ctx, http.MethodPost, path, body, dest)
}

func (c *Client) put(ctx context.Context, path string, body any) error {
	return c.send(ctx, http.MethodPut, path, body, nil)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("shirushi: create request: %w", err)
	}
	return c.doRequest(ctx, req, dest)
}

func (c *Client) doDelete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("shirushi: create request: %w", err)
	}
	return c.doRequest(ctx, req, nil)
}

func (c *Client) send(ctx context.Context, method, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("shirushi: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("shirushi: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(ctx, req, dest)
}

func (c *Client) getNoAuth(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("shirushi: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("shirushi: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any) error {
	if c.tokenMgr != nil {
		token, err := c.tokenMgr.getToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("shirushi: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("shirushi: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	// 204 No Content — nothing to decode.
	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("shirushi: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints may not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
