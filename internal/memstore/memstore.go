// Package memstore provides an in-memory implementation of the registry
// and tracking store contracts: mutex-guarded maps with the same coded
// error behavior as the Postgres store. It backs unit tests, examples, and
// the server's --memory mode; nothing in it survives a restart.
package memstore

import (
	"context"
	"encoding/base64"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hoshizora-ml/shirushi/internal/filter"
	"github.com/hoshizora-ml/shirushi/internal/model"
	"github.com/hoshizora-ml/shirushi/internal/registry"
)

type modelRecord struct {
	rm          model.RegisteredModel
	lastVersion int
	versions    map[int]model.ModelVersion
	aliases     map[string]int
}

// Store is an in-memory versioned-entity store. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	models map[string]*modelRecord

	traces       map[string]*trackingEntity
	runs         map[string]*trackingEntity
	loggedModels map[string]*trackingEntity
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		models:       make(map[string]*modelRecord),
		traces:       make(map[string]*trackingEntity),
		runs:         make(map[string]*trackingEntity),
		loggedModels: make(map[string]*trackingEntity),
	}
}

var _ registry.Store = (*Store)(nil)

// CreateRegisteredModel creates a new named model.
func (s *Store) CreateRegisteredModel(ctx context.Context, name, description string, tags map[string]string) (model.RegisteredModel, error) {
	if err := model.ValidateModelName(name); err != nil {
		return model.RegisteredModel{}, registry.Errorf(registry.CodeInvalidArgument, "%v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.models[name]; ok {
		return model.RegisteredModel{}, registry.Errorf(registry.CodeAlreadyExists, "registered model %q already exists", name)
	}
	now := time.Now().UTC()
	rec := &modelRecord{
		rm: model.RegisteredModel{
			Name:        name,
			Description: description,
			Tags:        copyTags(tags),
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		versions: make(map[int]model.ModelVersion),
		aliases:  make(map[string]int),
	}
	s.models[name] = rec
	return cloneModel(rec.rm), nil
}

// UpdateRegisteredModel replaces the model's description.
func (s *Store) UpdateRegisteredModel(ctx context.Context, name, description string) (model.RegisteredModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.get(name)
	if err != nil {
		return model.RegisteredModel{}, err
	}
	rec.rm.Description = description
	rec.rm.UpdatedAt = time.Now().UTC()
	return cloneModel(rec.rm), nil
}

// RenameRegisteredModel renames a model, carrying its versions and aliases.
func (s *Store) RenameRegisteredModel(ctx context.Context, name, newName string) (model.RegisteredModel, error) {
	if err := model.ValidateModelName(newName); err != nil {
		return model.RegisteredModel{}, registry.Errorf(registry.CodeInvalidArgument, "%v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.get(name)
	if err != nil {
		return model.RegisteredModel{}, err
	}
	if _, ok := s.models[newName]; ok {
		return model.RegisteredModel{}, registry.Errorf(registry.CodeAlreadyExists, "registered model %q already exists", newName)
	}
	delete(s.models, name)
	rec.rm.Name = newName
	rec.rm.UpdatedAt = time.Now().UTC()
	for v, mv := range rec.versions {
		mv.Name = newName
		rec.versions[v] = mv
	}
	s.models[newName] = rec
	return cloneModel(rec.rm), nil
}

// DeleteRegisteredModel deletes a model and, with it, all versions and
// aliases.
func (s *Store) DeleteRegisteredModel(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.get(name); err != nil {
		return err
	}
	delete(s.models, name)
	return nil
}

// GetRegisteredModel fetches a model by name.
func (s *Store) GetRegisteredModel(ctx context.Context, name string) (model.RegisteredModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.get(name)
	if err != nil {
		return model.RegisteredModel{}, err
	}
	return cloneModel(rec.rm), nil
}

// SearchRegisteredModels evaluates the conjunctive filter subset over all
// models. The page token is an opaque offset.
func (s *Store) SearchRegisteredModels(ctx context.Context, filterString string, maxResults int, orderBy []string, pageToken string) ([]model.RegisteredModel, string, error) {
	conds, err := filter.Parse(filterString)
	if err != nil {
		return nil, "", registry.Wrap(registry.CodeInvalidArgument, err, "parse search filter")
	}
	offset, err := decodePageToken(pageToken)
	if err != nil {
		return nil, "", err
	}
	if maxResults <= 0 {
		maxResults = 100
	}

	s.mu.RLock()
	var matched []model.RegisteredModel
	for _, rec := range s.models {
		ok := true
		for _, c := range conds {
			if !c.Match(rec.rm.Name, rec.rm.Tags) {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, cloneModel(rec.rm))
		}
	}
	s.mu.RUnlock()

	sortModels(matched, orderBy)
	page, next := paginate(len(matched), offset, maxResults)
	return matched[page[0]:page[1]], next, nil
}

// SetRegisteredModelTag upserts one tag on a model.
func (s *Store) SetRegisteredModelTag(ctx context.Context, name, key, value string) error {
	if err := model.ValidateTagKey(key); err != nil {
		return registry.Errorf(registry.CodeInvalidArgument, "%v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.get(name)
	if err != nil {
		return err
	}
	if rec.rm.Tags == nil {
		rec.rm.Tags = make(map[string]string)
	}
	rec.rm.Tags[key] = value
	rec.rm.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteRegisteredModelTag removes one tag from a model. Deleting an
// absent key is a no-op.
func (s *Store) DeleteRegisteredModelTag(ctx context.Context, name, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.get(name)
	if err != nil {
		return err
	}
	delete(rec.rm.Tags, key)
	rec.rm.UpdatedAt = time.Now().UTC()
	return nil
}

// CreateModelVersion creates the next version of a model. Numbers come
// from a per-model counter that survives version deletion, so they are
// never reused. Versions are created READY — this store has no asynchronous
// registration phase.
func (s *Store) CreateModelVersion(ctx context.Context, name, source string, runID *string, description string, tags map[string]string) (model.ModelVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.get(name)
	if err != nil {
		return model.ModelVersion{}, err
	}
	rec.lastVersion++
	now := time.Now().UTC()
	mv := model.ModelVersion{
		Name:        name,
		Version:     rec.lastVersion,
		Source:      source,
		RunID:       runID,
		Status:      model.StatusReady,
		Description: description,
		Tags:        copyTags(tags),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	rec.versions[mv.Version] = mv
	rec.rm.UpdatedAt = now
	return cloneVersion(mv), nil
}

// UpdateModelVersion replaces a version's description.
func (s *Store) UpdateModelVersion(ctx context.Context, name string, version int, description string) (model.ModelVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, mv, err := s.getVersion(name, version)
	if err != nil {
		return model.ModelVersion{}, err
	}
	mv.Description = description
	mv.UpdatedAt = time.Now().UTC()
	rec.versions[version] = mv
	return cloneVersion(mv), nil
}

// DeleteModelVersion deletes one version. Aliases pointing at it do not
// survive; the version number is never handed out again.
func (s *Store) DeleteModelVersion(ctx context.Context, name string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, _, err := s.getVersion(name, version)
	if err != nil {
		return err
	}
	delete(rec.versions, version)
	for alias, v := range rec.aliases {
		if v == version {
			delete(rec.aliases, alias)
		}
	}
	return nil
}

// GetModelVersion fetches one version.
func (s *Store) GetModelVersion(ctx context.Context, name string, version int) (model.ModelVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, mv, err := s.getVersion(name, version)
	if err != nil {
		return model.ModelVersion{}, err
	}
	return cloneVersion(mv), nil
}

// GetModelVersionDownloadURI returns the version's source location.
func (s *Store) GetModelVersionDownloadURI(ctx context.Context, name string, version int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, mv, err := s.getVersion(name, version)
	if err != nil {
		return "", err
	}
	return mv.Source, nil
}

// GetLatestVersions returns the highest-numbered live version of the model,
// or an empty slice when the model has no versions.
func (s *Store) GetLatestVersions(ctx context.Context, name string) ([]model.ModelVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.get(name)
	if err != nil {
		return nil, err
	}
	latest := -1
	for v := range rec.versions {
		if v > latest {
			latest = v
		}
	}
	if latest < 0 {
		return []model.ModelVersion{}, nil
	}
	return []model.ModelVersion{cloneVersion(rec.versions[latest])}, nil
}

// SearchModelVersions evaluates the filter subset over all versions of all
// models, matching on the model name and version tags.
func (s *Store) SearchModelVersions(ctx context.Context, filterString string, maxResults int, orderBy []string, pageToken string) ([]model.ModelVersion, string, error) {
	conds, err := filter.Parse(filterString)
	if err != nil {
		return nil, "", registry.Wrap(registry.CodeInvalidArgument, err, "parse search filter")
	}
	offset, err := decodePageToken(pageToken)
	if err != nil {
		return nil, "", err
	}
	if maxResults <= 0 {
		maxResults = 100
	}

	s.mu.RLock()
	var matched []model.ModelVersion
	for _, rec := range s.models {
		for _, mv := range rec.versions {
			ok := true
			for _, c := range conds {
				if !c.Match(mv.Name, mv.Tags) {
					ok = false
					break
				}
			}
			if ok {
				matched = append(matched, cloneVersion(mv))
			}
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Name != matched[j].Name {
			return matched[i].Name < matched[j].Name
		}
		return matched[i].Version < matched[j].Version
	})
	page, next := paginate(len(matched), offset, maxResults)
	return matched[page[0]:page[1]], next, nil
}

// SetModelVersionTag upserts one tag on a version.
func (s *Store) SetModelVersionTag(ctx context.Context, name string, version int, key, value string) error {
	if err := model.ValidateTagKey(key); err != nil {
		return registry.Errorf(registry.CodeInvalidArgument, "%v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, mv, err := s.getVersion(name, version)
	if err != nil {
		return err
	}
	if mv.Tags == nil {
		mv.Tags = make(map[string]string)
	}
	mv.Tags[key] = value
	mv.UpdatedAt = time.Now().UTC()
	rec.versions[version] = mv
	return nil
}

// DeleteModelVersionTag removes one tag from a version.
func (s *Store) DeleteModelVersionTag(ctx context.Context, name string, version int, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, mv, err := s.getVersion(name, version)
	if err != nil {
		return err
	}
	delete(mv.Tags, key)
	mv.UpdatedAt = time.Now().UTC()
	rec.versions[version] = mv
	return nil
}

// SetRegisteredModelAlias points an alias at a version, atomically
// repointing it if it already exists.
func (s *Store) SetRegisteredModelAlias(ctx context.Context, name, alias string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, _, err := s.getVersion(name, version)
	if err != nil {
		return err
	}
	rec.aliases[alias] = version
	return nil
}

// DeleteRegisteredModelAlias removes an alias. Deleting an absent alias is
// a no-op.
func (s *Store) DeleteRegisteredModelAlias(ctx context.Context, name, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.get(name)
	if err != nil {
		return err
	}
	delete(rec.aliases, alias)
	return nil
}

// GetModelVersionByAlias resolves an alias to its version.
func (s *Store) GetModelVersionByAlias(ctx context.Context, name, alias string) (model.ModelVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.get(name)
	if err != nil {
		return model.ModelVersion{}, err
	}
	version, ok := rec.aliases[alias]
	if !ok {
		return model.ModelVersion{}, registry.Errorf(registry.CodeDoesNotExist,
			"alias %q does not exist for registered model %q", alias, name)
	}
	mv, ok := rec.versions[version]
	if !ok {
		return model.ModelVersion{}, registry.Errorf(registry.CodeDoesNotExist,
			"model version %q/%d does not exist", name, version)
	}
	return cloneVersion(mv), nil
}

// SetModelVersionStatus overrides a version's status and message. Test
// hook for exercising the asynchronous-registration path; the Postgres
// store transitions statuses itself.
func (s *Store) SetModelVersionStatus(name string, version int, status model.ModelVersionStatus, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, mv, err := s.getVersion(name, version)
	if err != nil {
		return err
	}
	mv.Status = status
	mv.StatusMessage = message
	rec.versions[version] = mv
	return nil
}

// get returns the live record for name. Caller holds s.mu.
func (s *Store) get(name string) (*modelRecord, error) {
	rec, ok := s.models[name]
	if !ok {
		return nil, registry.Errorf(registry.CodeDoesNotExist, "registered model %q does not exist", name)
	}
	return rec, nil
}

func (s *Store) getVersion(name string, version int) (*modelRecord, model.ModelVersion, error) {
	rec, err := s.get(name)
	if err != nil {
		return nil, model.ModelVersion{}, err
	}
	mv, ok := rec.versions[version]
	if !ok {
		return nil, model.ModelVersion{}, registry.Errorf(registry.CodeDoesNotExist,
			"model version %q/%d does not exist", name, version)
	}
	return rec, mv, nil
}

func copyTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}

func cloneModel(rm model.RegisteredModel) model.RegisteredModel {
	rm.Tags = copyTags(rm.Tags)
	return rm
}

func cloneVersion(mv model.ModelVersion) model.ModelVersion {
	mv.Tags = copyTags(mv.Tags)
	return mv
}

func sortModels(models []model.RegisteredModel, orderBy []string) {
	desc := false
	field := "name"
	if len(orderBy) > 0 {
		parts := strings.Fields(orderBy[0])
		if len(parts) > 0 {
			field = strings.ToLower(parts[0])
		}
		desc = len(parts) > 1 && strings.EqualFold(parts[1], "DESC")
	}
	sort.Slice(models, func(i, j int) bool {
		var less bool
		switch field {
		case "creation_timestamp":
			less = models[i].CreatedAt.Before(models[j].CreatedAt)
		default:
			less = models[i].Name < models[j].Name
		}
		if desc {
			return !less
		}
		return less
	})
}

func paginate(total, offset, maxResults int) ([2]int, string) {
	if offset >= total {
		return [2]int{total, total}, ""
	}
	end := offset + maxResults
	next := ""
	if end < total {
		next = encodePageToken(end)
	} else {
		end = total
	}
	return [2]int{offset, end}, next
}

func encodePageToken(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodePageToken(token string) (int, error) {
	if token == "" {
		return 0, nil
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return 0, registry.Errorf(registry.CodeInvalidArgument, "invalid page token %q", token)
	}
	offset, err := strconv.Atoi(string(raw))
	if err != nil || offset < 0 {
		return 0, registry.Errorf(registry.CodeInvalidArgument, "invalid page token %q", token)
	}
	return offset, nil
}
