package memstore

import (
	"context"
	"time"

	"github.com/hoshizora-ml/shirushi/internal/tracking"
)

type trackingEntity struct {
	name      string
	tags      map[string]string
	createdAt time.Time
}

var _ tracking.Store = (*Store)(nil)

// PutTrace seeds a trace. Existing tags for the same ID are replaced.
func (s *Store) PutTrace(traceID string, tags map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces[traceID] = &trackingEntity{tags: copyTags(tags), createdAt: time.Now().UTC()}
}

// PutRun seeds a run.
func (s *Store) PutRun(runID, name string, tags map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[runID] = &trackingEntity{name: name, tags: copyTags(tags), createdAt: time.Now().UTC()}
}

// PutLoggedModel seeds a logged model.
func (s *Store) PutLoggedModel(modelID, name string, tags map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedModels[modelID] = &trackingEntity{name: name, tags: copyTags(tags), createdAt: time.Now().UTC()}
}

// GetTraceInfo returns the trace, or (nil, nil) if it does not exist.
func (s *Store) GetTraceInfo(ctx context.Context, traceID string) (*tracking.TraceInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.traces[traceID]
	if !ok {
		return nil, nil
	}
	return &tracking.TraceInfo{TraceID: traceID, Tags: copyTags(e.tags), CreatedAt: e.createdAt}, nil
}

// SetTraceTag upserts one tag on a trace.
func (s *Store) SetTraceTag(ctx context.Context, traceID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.traces[traceID]
	if !ok {
		e = &trackingEntity{tags: make(map[string]string), createdAt: time.Now().UTC()}
		s.traces[traceID] = e
	}
	e.tags[key] = value
	return nil
}

// GetRun returns the run, or (nil, nil) if it does not exist.
func (s *Store) GetRun(ctx context.Context, runID string) (*tracking.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.runs[runID]
	if !ok {
		return nil, nil
	}
	return &tracking.Run{RunID: runID, Name: e.name, Tags: copyTags(e.tags), CreatedAt: e.createdAt}, nil
}

// SetRunTag upserts one tag on a run.
func (s *Store) SetRunTag(ctx context.Context, runID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.runs[runID]
	if !ok {
		e = &trackingEntity{tags: make(map[string]string), createdAt: time.Now().UTC()}
		s.runs[runID] = e
	}
	e.tags[key] = value
	return nil
}

// GetLoggedModel returns the logged model, or (nil, nil) if it does not
// exist.
func (s *Store) GetLoggedModel(ctx context.Context, modelID string) (*tracking.LoggedModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.loggedModels[modelID]
	if !ok {
		return nil, nil
	}
	return &tracking.LoggedModel{ModelID: modelID, Name: e.name, Tags: copyTags(e.tags), CreatedAt: e.createdAt}, nil
}

// SetLoggedModelTags merges tags onto a logged model.
func (s *Store) SetLoggedModelTags(ctx context.Context, modelID string, tags map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.loggedModels[modelID]
	if !ok {
		e = &trackingEntity{tags: make(map[string]string), createdAt: time.Now().UTC()}
		s.loggedModels[modelID] = e
	}
	for k, v := range tags {
		e.tags[k] = v
	}
	return nil
}
