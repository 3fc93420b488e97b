package model

import (
	"encoding/json"
	"time"
)

// API error codes returned in the standard error envelope.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeUnsupported   = "UNSUPPORTED"
	ErrCodeTimeout       = "TIMEOUT"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// APIResponse is the standard success envelope.
type APIResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ErrorDetail carries a machine-readable code and a human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta is attached to every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// AuthTokenRequest is the body of POST /auth/token.
type AuthTokenRequest struct {
	APIKey string `json:"api_key"`
}

// AuthTokenResponse is the reply to POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreatePromptRequest is the body of POST /api/v1/prompts.
type CreatePromptRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// CreatePromptVersionRequest is the body of POST /api/v1/prompts/{name}/versions.
type CreatePromptVersionRequest struct {
	Template       PromptTemplate    `json:"template"`
	Description    string            `json:"description,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
	ResponseFormat json.RawMessage   `json:"response_format,omitempty"`
}

// SetTagRequest is the body of tag-set endpoints.
type SetTagRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SetAliasRequest is the body of PUT /api/v1/prompts/{name}/aliases/{alias}.
type SetAliasRequest struct {
	Version string `json:"version"`
}

// LinkPromptsRequest is the body of the link endpoints: the prompt versions
// to associate with the target trace, run, or logged model.
type LinkPromptsRequest struct {
	Prompts []LinkedPrompt `json:"prompts"`
}

// SearchPromptsResponse is a page of prompts plus the continuation token.
type SearchPromptsResponse struct {
	Prompts       []Prompt `json:"prompts"`
	NextPageToken string   `json:"next_page_token,omitempty"`
}

// CreateModelRequest is the body of POST /api/v1/models.
type CreateModelRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// UpdateModelRequest is the body of PATCH /api/v1/models/{name}.
type UpdateModelRequest struct {
	Description string `json:"description"`
}

// CreateModelVersionRequest is the body of POST /api/v1/models/{name}/versions.
type CreateModelVersionRequest struct {
	Source      string            `json:"source"`
	RunID       *string           `json:"run_id,omitempty"`
	Description string            `json:"description,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// SearchModelsResponse is a page of registered models plus the continuation token.
type SearchModelsResponse struct {
	Models        []RegisteredModel `json:"models"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

// SearchModelVersionsResponse is a page of model versions plus the
// continuation token.
type SearchModelVersionsResponse struct {
	Versions      []ModelVersion `json:"versions"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

// RenameModelRequest is the body of POST /api/v1/models/{name}/rename.
type RenameModelRequest struct {
	NewName string `json:"new_name"`
}

// CopyModelVersionRequest is the body of the version-copy endpoint.
type CopyModelVersionRequest struct {
	DestinationName string `json:"destination_name"`
}

// AwaitModelVersionRequest is the body of the version-await endpoint.
// A zero timeout uses the server default.
type AwaitModelVersionRequest struct {
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// DownloadURIResponse is the reply to the download-uri endpoint.
type DownloadURIResponse struct {
	ArtifactURI string `json:"artifact_uri"`
}
