// Package tracking defines the contract with the tracking subsystem that
// owns traces, runs, and logged models. The registry only ever reads these
// entities and merges tags onto them; it never creates them.
package tracking

import (
	"context"
	"time"
)

// TraceInfo is the registry's view of a trace: identity plus tag map.
type TraceInfo struct {
	TraceID   string            `json:"trace_id"`
	Tags      map[string]string `json:"tags"`
	CreatedAt time.Time         `json:"created_at"`
}

// Run is the registry's view of a tracking run.
type Run struct {
	RunID     string            `json:"run_id"`
	Name      string            `json:"name"`
	Tags      map[string]string `json:"tags"`
	CreatedAt time.Time         `json:"created_at"`
}

// LoggedModel is the registry's view of a model logged to the tracking
// subsystem (not yet promoted to the registry).
type LoggedModel struct {
	ModelID   string            `json:"model_id"`
	Name      string            `json:"name"`
	Tags      map[string]string `json:"tags"`
	CreatedAt time.Time         `json:"created_at"`
}

// Store is the minimal tracking contract the registry consumes. Reads
// return (nil, nil) when the entity does not exist — absence is a value
// here, not an error; the link protocol converts it into a hard failure at
// its own boundary.
type Store interface {
	GetTraceInfo(ctx context.Context, traceID string) (*TraceInfo, error)
	SetTraceTag(ctx context.Context, traceID, key, value string) error

	GetRun(ctx context.Context, runID string) (*Run, error)
	SetRunTag(ctx context.Context, runID, key, value string) error

	GetLoggedModel(ctx context.Context, modelID string) (*LoggedModel, error)
	SetLoggedModelTags(ctx context.Context, modelID string, tags map[string]string) error
}
