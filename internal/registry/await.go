package registry

import (
	"context"
	"time"

	"github.com/hoshizora-ml/shirushi/internal/model"
)

// AwaitModelVersionCreation blocks until the version leaves
// PENDING_REGISTRATION or the timeout elapses, re-fetching its status every
// AwaitInterval. The poller only observes transitions — the backing store
// drives them.
//
// The deadline is checked before each re-fetch, not after, so an
// observation landing exactly on the deadline still gets one more status
// check instead of timing out on a boundary tick. A version that reaches a
// terminal status other than READY fails with CodeOperationFailed carrying
// the store-reported status and message.
func (r *Registry) AwaitModelVersionCreation(ctx context.Context, mv model.ModelVersion, timeout time.Duration) (model.ModelVersion, error) {
	entityType := "model"
	if model.HasPromptMarker(mv.Tags) {
		entityType = "prompt"
	}
	r.logger.Info("waiting for version to finish creation",
		"entity_type", entityType,
		"name", mv.Name,
		"version", mv.Version,
		"timeout", timeout,
	)

	deadline := time.Now().Add(timeout)
	var err error
	for mv.Status == model.StatusPendingRegistration {
		if time.Now().After(deadline) {
			return mv, Errorf(CodeTimeout,
				"exceeded max wait time for %s %q version %d to become READY: status %s after %s",
				entityType, mv.Name, mv.Version, mv.Status, timeout)
		}
		mv, err = r.store.GetModelVersion(ctx, mv.Name, mv.Version)
		if err != nil {
			return mv, err
		}
		if mv.Status != model.StatusPendingRegistration {
			break
		}
		select {
		case <-ctx.Done():
			return mv, ctx.Err()
		case <-time.After(r.AwaitInterval):
		}
	}

	if mv.Status != model.StatusReady {
		return mv, Errorf(CodeOperationFailed,
			"%s version creation failed for %q version %d: status %s, message %q",
			entityType, mv.Name, mv.Version, mv.Status, mv.StatusMessage)
	}
	return mv, nil
}
