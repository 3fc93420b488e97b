// Package model defines the core domain types for Shirushi.
//
// Types correspond directly to database tables and API payloads. The
// registry stores exactly one durable primitive — a named, versioned,
// taggable RegisteredModel — and every higher-level concept (prompts,
// prompt versions) is a projection over it.
package model

import (
	"fmt"
	"time"
)

// ModelVersionStatus is the lifecycle state of a model version.
type ModelVersionStatus string

const (
	// StatusPendingRegistration is the initial, non-terminal state. The
	// backing store moves a version out of it asynchronously.
	StatusPendingRegistration ModelVersionStatus = "PENDING_REGISTRATION"
	// StatusFailedRegistration is a terminal failure state.
	StatusFailedRegistration ModelVersionStatus = "FAILED_REGISTRATION"
	// StatusReady is the terminal success state.
	StatusReady ModelVersionStatus = "READY"
)

// Terminal reports whether no further automatic transition occurs from s.
// Any status other than PENDING_REGISTRATION is terminal; any terminal
// status other than READY is a failure.
func (s ModelVersionStatus) Terminal() bool {
	return s != StatusPendingRegistration
}

// RegisteredModel is a uniquely-named, taggable, versioned record.
type RegisteredModel struct {
	Name            string            `json:"name"`
	Description     string            `json:"description"`
	DeploymentJobID *string           `json:"deployment_job_id,omitempty"`
	Tags            map[string]string `json:"tags"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// ModelVersion is a numbered revision of a RegisteredModel. The version
// number is assigned by the store, is unique within the model, and is
// never reused after deletion.
type ModelVersion struct {
	Name          string             `json:"name"`
	Version       int                `json:"version"`
	Source        string             `json:"source"`
	RunID         *string            `json:"run_id,omitempty"`
	Status        ModelVersionStatus `json:"status"`
	StatusMessage string             `json:"status_message,omitempty"`
	Description   string             `json:"description"`
	Tags          map[string]string  `json:"tags"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// RegisteredModelAlias is a named pointer to exactly one version of a model.
// Reassigning an alias atomically repoints it; aliases do not survive
// deletion of the version they point at.
type RegisteredModelAlias struct {
	Name    string `json:"name"`
	Alias   string `json:"alias"`
	Version int    `json:"version"`
}

// MaxModelNameLen bounds registered model names; they flow into tag keys,
// search filters, and URL path segments.
const MaxModelNameLen = 255

// ValidateModelName checks that a registered model (or prompt) name is
// non-empty, within length limits, and free of path and filter
// metacharacters.
func ValidateModelName(name string) error {
	if name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if len(name) > MaxModelNameLen {
		return fmt.Errorf("name must be at most %d characters", MaxModelNameLen)
	}
	for i := 0; i < len(name); i++ {
		switch name[i] {
		case '/', '\\', '\'', '"', '\n', '\r', '\t':
			return fmt.Errorf("name contains invalid character at position %d: %q", i, name[i])
		}
	}
	return nil
}

// ValidateTagKey checks that a tag key is non-empty and within limits.
func ValidateTagKey(key string) error {
	if key == "" {
		return fmt.Errorf("tag key must not be empty")
	}
	if len(key) > 250 {
		return fmt.Errorf("tag key must be at most 250 characters")
	}
	return nil
}
