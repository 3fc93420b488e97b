package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hoshizora-ml/shirushi/internal/filter"
	"github.com/hoshizora-ml/shirushi/internal/model"
	"github.com/hoshizora-ml/shirushi/internal/tracking"
)

// DefaultAwaitInterval is the poll interval while waiting for a model
// version to leave PENDING_REGISTRATION.
const DefaultAwaitInterval = 3 * time.Second

// defaultSearchMaxResults applies when a search caller passes maxResults <= 0.
const defaultSearchMaxResults = 100

// Registry is the prompt adaptation layer: it translates between the
// Prompt/PromptVersion domain and the generic registered-model primitive,
// and links prompt versions to tracking entities.
//
// Registry holds no state of its own beyond the link mutex. The mutex
// serializes every link operation in this process — linking is a
// read-modify-write on a shared tag, and the guarantee is deliberately
// process-local: writers that set the linked-prompts tag directly on the
// tracking store bypass it.
type Registry struct {
	store    Store
	tracking tracking.Store
	logger   *slog.Logger

	// AwaitInterval is the poll interval for AwaitModelVersionCreation.
	AwaitInterval time.Duration

	linkMu sync.Mutex
}

// New creates a Registry over the given stores.
func New(store Store, trackingStore tracking.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:         store,
		tracking:      trackingStore,
		logger:        logger,
		AwaitInterval: DefaultAwaitInterval,
	}
}

// Store returns the underlying versioned-entity store.
func (r *Registry) Store() Store {
	return r.store
}

// CreatePrompt registers a new prompt: a registered model carrying the
// prompt marker tag plus the caller's tags. Fails with CodeAlreadyExists
// when the name is taken (by a prompt or a model — they share a namespace).
func (r *Registry) CreatePrompt(ctx context.Context, name, description string, tags map[string]string) (model.Prompt, error) {
	modelTags := make(map[string]string, len(tags)+1)
	for k, v := range tags {
		modelTags[k] = v
	}
	modelTags[model.PromptMarkerTagKey] = "true"

	rm, err := r.store.CreateRegisteredModel(ctx, name, description, modelTags)
	if err != nil {
		return model.Prompt{}, err
	}
	p, _ := model.PromptFromRegisteredModel(rm)
	return p, nil
}

// GetPrompt fetches a prompt by name. It returns (nil, nil) when no entity
// with that name exists, and also when the entity exists but is a plain
// registered model — callers get a simple existence check either way.
// Storage failures other than absence propagate.
func (r *Registry) GetPrompt(ctx context.Context, name string) (*model.Prompt, error) {
	rm, err := r.store.GetRegisteredModel(ctx, name)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	p, ok := model.PromptFromRegisteredModel(rm)
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// SearchPrompts searches registered models constrained to those carrying
// the prompt marker, then strips the marker from each hit. The caller's
// filter, order-by clauses, and page token pass through to the store.
func (r *Registry) SearchPrompts(ctx context.Context, filterString string, maxResults int, orderBy []string, pageToken string) ([]model.Prompt, string, error) {
	if maxResults <= 0 {
		maxResults = defaultSearchMaxResults
	}

	promptFilter := fmt.Sprintf("tags.%s = 'true'", filter.QuoteTagKey(model.PromptMarkerTagKey))
	if strings.TrimSpace(filterString) != "" {
		promptFilter = fmt.Sprintf("%s AND %s", promptFilter, filterString)
	}

	models, nextToken, err := r.store.SearchRegisteredModels(ctx, promptFilter, maxResults, orderBy, pageToken)
	if err != nil {
		return nil, "", err
	}

	prompts := make([]model.Prompt, 0, len(models))
	for _, rm := range models {
		prompts = append(prompts, model.Prompt{
			Name:        rm.Name,
			Description: rm.Description,
			Tags:        model.UserTags(rm.Tags),
			CreatedAt:   rm.CreatedAt,
		})
	}
	return prompts, nextToken, nil
}

// DeletePrompt deletes the prompt's backing registered model, cascading to
// its versions. No check that the name is actually a prompt — callers are
// trusted to have obtained the name from a Prompt view.
func (r *Registry) DeletePrompt(ctx context.Context, name string) error {
	return r.store.DeleteRegisteredModel(ctx, name)
}

// SetPromptTag sets a tag on the prompt's backing registered model.
func (r *Registry) SetPromptTag(ctx context.Context, name, key, value string) error {
	return r.store.SetRegisteredModelTag(ctx, name, key, value)
}

// DeletePromptTag deletes a tag from the prompt's backing registered model.
func (r *Registry) DeletePromptTag(ctx context.Context, name, key string) error {
	return r.store.DeleteRegisteredModelTag(ctx, name, key)
}

// CreatePromptVersion creates a new version of an existing prompt. The
// template is serialized into reserved version tags (raw text for text
// templates, a JSON message array for chat), and responseFormat, when
// non-nil, is stored under the reserved response-format tag. The backing
// model version's source is a fixed sentinel — prompts have no artifact
// location.
func (r *Registry) CreatePromptVersion(ctx context.Context, name string, template model.PromptTemplate, description string, tags map[string]string, responseFormat json.RawMessage) (model.PromptVersion, error) {
	body, kind, err := template.Encode()
	if err != nil {
		return model.PromptVersion{}, Wrap(CodeInvalidArgument, err, "serialize template for prompt %q", name)
	}

	versionTags := make(map[string]string, len(tags)+4)
	for k, v := range tags {
		versionTags[k] = v
	}
	versionTags[model.PromptMarkerTagKey] = "true"
	versionTags[model.PromptTextTagKey] = body
	versionTags[model.PromptTypeTagKey] = kind
	if responseFormat != nil {
		if !json.Valid(responseFormat) {
			return model.PromptVersion{}, Errorf(CodeInvalidArgument, "response format for prompt %q is not valid JSON", name)
		}
		versionTags[model.ResponseFormatTagKey] = string(responseFormat)
	}

	mv, err := r.store.CreateModelVersion(ctx, name, model.PromptSourceSentinel, nil, description, versionTags)
	if err != nil {
		return model.PromptVersion{}, err
	}

	// Attach the parent prompt's user-visible tags to the view.
	rm, err := r.store.GetRegisteredModel(ctx, name)
	if err != nil {
		return model.PromptVersion{}, err
	}
	pv, _, err := model.PromptVersionFromModelVersion(mv, rm.Tags)
	if err != nil {
		return model.PromptVersion{}, Wrap(CodeInternal, err, "project created version %q/%d", name, mv.Version)
	}
	return pv, nil
}

// GetPromptVersion fetches one prompt version. The version argument is
// either an integer version number or an alias name; a numeric parse is
// attempted first, falling back to alias lookup.
//
// Outcomes are deliberately three-way: (pv, nil) when found; (nil, nil)
// when the prompt or version is absent — including a version that exists
// but lacks the prompt marker; and a hard CodeInvalidArgument error when
// the name resolves to a registered model that is not a prompt, so callers
// cannot mistake a real model for a missing prompt.
func (r *Registry) GetPromptVersion(ctx context.Context, name, version string) (*model.PromptVersion, error) {
	rm, err := r.promptParent(ctx, name)
	if err != nil || rm == nil {
		return nil, err
	}

	var mv model.ModelVersion
	if n, perr := strconv.Atoi(version); perr == nil {
		mv, err = r.store.GetModelVersion(ctx, name, n)
	} else {
		mv, err = r.store.GetModelVersionByAlias(ctx, name, version)
	}
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return r.promptVersionView(*rm, mv, name, version)
}

// GetPromptVersionByAlias fetches a prompt version through an alias. Unlike
// GetPromptVersion, the argument is always treated as an alias, never a
// version number.
func (r *Registry) GetPromptVersionByAlias(ctx context.Context, name, alias string) (*model.PromptVersion, error) {
	rm, err := r.promptParent(ctx, name)
	if err != nil || rm == nil {
		return nil, err
	}

	mv, err := r.store.GetModelVersionByAlias(ctx, name, alias)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return r.promptVersionView(*rm, mv, name, alias)
}

// promptParent fetches the registered model backing a prompt. Returns
// (nil, nil) when the name is absent and CodeInvalidArgument when it names
// a model without the prompt marker.
func (r *Registry) promptParent(ctx context.Context, name string) (*model.RegisteredModel, error) {
	rm, err := r.store.GetRegisteredModel(ctx, name)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if !model.HasPromptMarker(rm.Tags) {
		return nil, Errorf(CodeInvalidArgument,
			"name %q is registered as a model, not a prompt; use the model version APIs instead", name)
	}
	return &rm, nil
}

func (r *Registry) promptVersionView(rm model.RegisteredModel, mv model.ModelVersion, name, ref string) (*model.PromptVersion, error) {
	pv, ok, err := model.PromptVersionFromModelVersion(mv, rm.Tags)
	if err != nil {
		return nil, Wrap(CodeInvalidArgument, err, "prompt version %q/%s has malformed template tags", name, ref)
	}
	if !ok {
		return nil, nil
	}
	return &pv, nil
}

// DeletePromptVersion deletes one prompt version. The version must be an
// integer — aliases are not accepted here.
func (r *Registry) DeletePromptVersion(ctx context.Context, name, version string) error {
	n, err := parseVersion(version)
	if err != nil {
		return err
	}
	return r.store.DeleteModelVersion(ctx, name, n)
}

// SetPromptAlias points an alias at a prompt version. The version must be
// an integer. Integer-like alias names are rejected: version lookups try a
// numeric parse before alias resolution, so such an alias would be
// unreachable.
func (r *Registry) SetPromptAlias(ctx context.Context, name, alias, version string) error {
	if _, err := strconv.Atoi(alias); err == nil {
		return Errorf(CodeInvalidArgument, "alias %q must not be an integer", alias)
	}
	n, err := parseVersion(version)
	if err != nil {
		return err
	}
	return r.store.SetRegisteredModelAlias(ctx, name, alias, n)
}

// DeletePromptAlias removes an alias from a prompt.
func (r *Registry) DeletePromptAlias(ctx context.Context, name, alias string) error {
	return r.store.DeleteRegisteredModelAlias(ctx, name, alias)
}

// SetPromptVersionTag sets a tag on one prompt version. The version must
// be an integer — aliases are not accepted here.
func (r *Registry) SetPromptVersionTag(ctx context.Context, name, version, key, value string) error {
	n, err := parseVersion(version)
	if err != nil {
		return err
	}
	return r.store.SetModelVersionTag(ctx, name, n, key, value)
}

// DeletePromptVersionTag deletes a tag from one prompt version. The
// version must be an integer.
func (r *Registry) DeletePromptVersionTag(ctx context.Context, name, version, key string) error {
	n, err := parseVersion(version)
	if err != nil {
		return err
	}
	return r.store.DeleteModelVersionTag(ctx, name, n, key)
}

// SearchPromptVersions always fails with CodeUnsupported: version-level
// search filtered by prompt name is reserved for enhanced backends, and the
// generic store does not implement it.
func (r *Registry) SearchPromptVersions(ctx context.Context, name string, maxResults int, pageToken string) ([]model.PromptVersion, string, error) {
	return nil, "", Errorf(CodeUnsupported, "prompt version search is not supported by this registry")
}

func parseVersion(version string) (int, error) {
	n, err := strconv.Atoi(version)
	if err != nil {
		return 0, Errorf(CodeInvalidArgument, "invalid version number: %q", version)
	}
	return n, nil
}
