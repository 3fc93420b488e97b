// Package registry implements the prompt registry as a pure adaptation
// layer over a generic versioned-entity store.
//
// The Store interface below is the only durability boundary: it owns
// registered models, their versions, aliases, and tags. Prompts and prompt
// versions have no schema of their own — the Registry type projects them in
// and out of registered models using reserved tags (see internal/model).
package registry

import (
	"context"

	"github.com/hoshizora-ml/shirushi/internal/model"
)

// Store is the versioned-entity store contract. Implementations must
// return coded *Error values (CodeDoesNotExist, CodeAlreadyExists, ...) for
// contract failures so callers can branch on ErrorCode.
//
// Search operations take an opaque continuation token and return the token
// for the next page ("" when exhausted). maxResults and orderBy pass
// through to the backend uninterpreted by the adaptation layer.
type Store interface {
	// Registered models.
	CreateRegisteredModel(ctx context.Context, name, description string, tags map[string]string) (model.RegisteredModel, error)
	UpdateRegisteredModel(ctx context.Context, name, description string) (model.RegisteredModel, error)
	RenameRegisteredModel(ctx context.Context, name, newName string) (model.RegisteredModel, error)
	DeleteRegisteredModel(ctx context.Context, name string) error
	GetRegisteredModel(ctx context.Context, name string) (model.RegisteredModel, error)
	SearchRegisteredModels(ctx context.Context, filter string, maxResults int, orderBy []string, pageToken string) ([]model.RegisteredModel, string, error)
	SetRegisteredModelTag(ctx context.Context, name, key, value string) error
	DeleteRegisteredModelTag(ctx context.Context, name, key string) error

	// Model versions. Version numbers are assigned by the store,
	// monotonically per model, and never reused.
	CreateModelVersion(ctx context.Context, name, source string, runID *string, description string, tags map[string]string) (model.ModelVersion, error)
	UpdateModelVersion(ctx context.Context, name string, version int, description string) (model.ModelVersion, error)
	DeleteModelVersion(ctx context.Context, name string, version int) error
	GetModelVersion(ctx context.Context, name string, version int) (model.ModelVersion, error)
	GetModelVersionDownloadURI(ctx context.Context, name string, version int) (string, error)
	GetLatestVersions(ctx context.Context, name string) ([]model.ModelVersion, error)
	SearchModelVersions(ctx context.Context, filter string, maxResults int, orderBy []string, pageToken string) ([]model.ModelVersion, string, error)
	SetModelVersionTag(ctx context.Context, name string, version int, key, value string) error
	DeleteModelVersionTag(ctx context.Context, name string, version int, key string) error

	// Aliases.
	SetRegisteredModelAlias(ctx context.Context, name, alias string, version int) error
	DeleteRegisteredModelAlias(ctx context.Context, name, alias string) error
	GetModelVersionByAlias(ctx context.Context, name, alias string) (model.ModelVersion, error)
}
