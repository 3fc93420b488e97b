package registry

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/hoshizora-ml/shirushi/internal/model"
)

// LinkPromptsToTrace records the given prompt versions on a trace by
// merging {name, version} entries into the trace's linked-prompts tag.
// Fails with CodeDoesNotExist when the trace is absent; the trace is never
// created implicitly.
func (r *Registry) LinkPromptsToTrace(ctx context.Context, promptVersions []model.PromptVersion, traceID string) error {
	entries := make([]model.LinkedPrompt, 0, len(promptVersions))
	for _, pv := range promptVersions {
		entries = append(entries, model.LinkedPrompt{
			Name:    pv.Name,
			Version: strconv.Itoa(pv.Version),
		})
	}

	r.linkMu.Lock()
	defer r.linkMu.Unlock()

	info, err := r.tracking.GetTraceInfo(ctx, traceID)
	if err != nil {
		return err
	}
	if info == nil {
		return Errorf(CodeDoesNotExist, "could not find trace %q to which to link prompts", traceID)
	}

	current := tagValue(info.Tags, model.LinkedPromptsTagKey)
	updated, changed, err := mergeLinkedPrompts(current, entries)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return r.tracking.SetTraceTag(ctx, traceID, model.LinkedPromptsTagKey, updated)
}

// LinkPromptVersionToModel records one prompt version on a logged model.
// The version argument may be an integer or an alias, as in
// GetPromptVersion.
func (r *Registry) LinkPromptVersionToModel(ctx context.Context, name, version, modelID string) error {
	pv, err := r.GetPromptVersion(ctx, name, version)
	if err != nil {
		return err
	}
	if pv == nil {
		return Errorf(CodeDoesNotExist, "prompt version %q/%s does not exist", name, version)
	}
	entry := model.LinkedPrompt{Name: pv.Name, Version: strconv.Itoa(pv.Version)}

	r.linkMu.Lock()
	defer r.linkMu.Unlock()

	lm, err := r.tracking.GetLoggedModel(ctx, modelID)
	if err != nil {
		return err
	}
	if lm == nil {
		return Errorf(CodeDoesNotExist, "could not find model %q to which to link prompt %q", modelID, name)
	}

	current := tagValue(lm.Tags, model.LinkedPromptsTagKey)
	updated, changed, err := mergeLinkedPrompts(current, []model.LinkedPrompt{entry})
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return r.tracking.SetLoggedModelTags(ctx, modelID, map[string]string{
		model.LinkedPromptsTagKey: updated,
	})
}

// LinkPromptVersionToRun records one prompt version on a tracking run.
func (r *Registry) LinkPromptVersionToRun(ctx context.Context, name, version, runID string) error {
	pv, err := r.GetPromptVersion(ctx, name, version)
	if err != nil {
		return err
	}
	if pv == nil {
		return Errorf(CodeDoesNotExist, "prompt version %q/%s does not exist", name, version)
	}
	entry := model.LinkedPrompt{Name: pv.Name, Version: strconv.Itoa(pv.Version)}

	r.linkMu.Lock()
	defer r.linkMu.Unlock()

	run, err := r.tracking.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return Errorf(CodeDoesNotExist, "could not find run %q to which to link prompt %q", runID, name)
	}

	current := tagValue(run.Tags, model.LinkedPromptsTagKey)
	updated, changed, err := mergeLinkedPrompts(current, []model.LinkedPrompt{entry})
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return r.tracking.SetRunTag(ctx, runID, model.LinkedPromptsTagKey, updated)
}

// tagValue returns a pointer to the tag's value, or nil when the key is
// absent — the merge distinguishes "no tag yet" from an empty array.
func tagValue(tags map[string]string, key string) *string {
	if v, ok := tags[key]; ok {
		return &v
	}
	return nil
}

// mergeLinkedPrompts appends entries to the JSON array held in current,
// skipping entries already present (structural equality on name and
// string-encoded version). It returns the re-serialized array and whether
// it differs from current — callers skip the tag write when nothing
// changed, making repeated links idempotent.
//
// A current value that is not valid JSON, or valid JSON that is not an
// array of {name, version} objects, is a hard CodeInvalidArgument error:
// masking it would silently drop link history.
func mergeLinkedPrompts(current *string, entries []model.LinkedPrompt) (string, bool, error) {
	var linked []model.LinkedPrompt
	if current != nil {
		var probe any
		if err := json.Unmarshal([]byte(*current), &probe); err != nil {
			return "", false, Errorf(CodeInvalidArgument,
				"invalid JSON in %q tag: %s", model.LinkedPromptsTagKey, *current)
		}
		if _, ok := probe.([]any); !ok {
			return "", false, Errorf(CodeInvalidArgument,
				"invalid format for %q tag: %s", model.LinkedPromptsTagKey, *current)
		}
		if err := json.Unmarshal([]byte(*current), &linked); err != nil {
			return "", false, Errorf(CodeInvalidArgument,
				"invalid format for %q tag: %s", model.LinkedPromptsTagKey, *current)
		}
	}

	for _, entry := range entries {
		exists := false
		for _, have := range linked {
			if have == entry {
				exists = true
				break
			}
		}
		if !exists {
			linked = append(linked, entry)
		}
	}
	if linked == nil {
		linked = []model.LinkedPrompt{}
	}

	raw, err := json.Marshal(linked)
	if err != nil {
		return "", false, Wrap(CodeInternal, err, "serialize %q tag", model.LinkedPromptsTagKey)
	}
	updated := string(raw)
	changed := current == nil || *current != updated
	return updated, changed, nil
}
