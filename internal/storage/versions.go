package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/hoshizora-ml/shirushi/internal/model"
)

// CreateModelVersion creates the next version of a model. The version
// number comes from the model's last_version counter, bumped in the same
// transaction, so numbers are monotonic per model and never reused even
// after deletion. Versions are created READY.
//
// The counter bump takes a row lock on the model, serializing concurrent
// creates; WithRetry absorbs serialization failures under contention.
func (db *DB) CreateModelVersion(ctx context.Context, name, source string, runID *string, description string, tags map[string]string) (model.ModelVersion, error) {
	var mv model.ModelVersion
	err := WithRetry(ctx, 3, 10*time.Millisecond, func() error {
		created, err := db.createModelVersion(ctx, name, source, runID, description, tags)
		if err != nil {
			return err
		}
		mv = created
		return nil
	})
	return mv, err
}

func (db *DB) createModelVersion(ctx context.Context, name, source string, runID *string, description string, tags map[string]string) (model.ModelVersion, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.ModelVersion{}, fmt.Errorf("storage: begin create version: %w", err)
	}
	defer tx.Rollback(ctx)

	var version int
	err = tx.QueryRow(ctx,
		`UPDATE registered_models SET last_version = last_version + 1, updated_at = now()
		 WHERE name = $1 RETURNING last_version`, name,
	).Scan(&version)
	if err != nil {
		if isNoRows(err) {
			return model.ModelVersion{}, notFound("registered model %q does not exist", name)
		}
		return model.ModelVersion{}, fmt.Errorf("storage: bump version counter: %w", err)
	}

	now := time.Now().UTC()
	mv := model.ModelVersion{
		Name:        name,
		Version:     version,
		Source:      source,
		RunID:       runID,
		Status:      model.StatusReady,
		Description: description,
		Tags:        map[string]string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO model_versions (model_name, version, source, run_id, status, description, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		mv.Name, mv.Version, mv.Source, mv.RunID, string(mv.Status), mv.Description, mv.CreatedAt, mv.UpdatedAt,
	)
	if err != nil {
		return model.ModelVersion{}, fmt.Errorf("storage: create model version: %w", err)
	}

	for key, value := range tags {
		if err := model.ValidateTagKey(key); err != nil {
			return model.ModelVersion{}, invalidArgument("%v", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO model_version_tags (model_name, version, key, value) VALUES ($1, $2, $3, $4)`,
			mv.Name, mv.Version, key, value,
		); err != nil {
			return model.ModelVersion{}, fmt.Errorf("storage: create version tag: %w", err)
		}
		mv.Tags[key] = value
	}

	if err := tx.Commit(ctx); err != nil {
		return model.ModelVersion{}, fmt.Errorf("storage: commit create version: %w", err)
	}
	return mv, nil
}

// UpdateModelVersion replaces a version's description.
func (db *DB) UpdateModelVersion(ctx context.Context, name string, version int, description string) (model.ModelVersion, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE model_versions SET description = $1, updated_at = now()
		 WHERE model_name = $2 AND version = $3`,
		description, name, version,
	)
	if err != nil {
		return model.ModelVersion{}, fmt.Errorf("storage: update model version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ModelVersion{}, notFound("model version %q/%d does not exist", name, version)
	}
	return db.GetModelVersion(ctx, name, version)
}

// DeleteModelVersion deletes one version. Aliases pointing at it cascade
// away; the version counter is untouched so the number is never reused.
func (db *DB) DeleteModelVersion(ctx context.Context, name string, version int) error {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM model_versions WHERE model_name = $1 AND version = $2`, name, version,
	)
	if err != nil {
		return fmt.Errorf("storage: delete model version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("model version %q/%d does not exist", name, version)
	}
	return nil
}

// GetModelVersion retrieves one version, tags included.
func (db *DB) GetModelVersion(ctx context.Context, name string, version int) (model.ModelVersion, error) {
	var mv model.ModelVersion
	var status string
	err := db.pool.QueryRow(ctx,
		`SELECT model_name, version, source, run_id, status, status_message, description, created_at, updated_at
		 FROM model_versions WHERE model_name = $1 AND version = $2`, name, version,
	).Scan(&mv.Name, &mv.Version, &mv.Source, &mv.RunID, &status, &mv.StatusMessage, &mv.Description, &mv.CreatedAt, &mv.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return model.ModelVersion{}, notFound("model version %q/%d does not exist", name, version)
		}
		return model.ModelVersion{}, fmt.Errorf("storage: get model version: %w", err)
	}
	mv.Status = model.ModelVersionStatus(status)

	mv.Tags, err = db.loadVersionTags(ctx, name, version)
	if err != nil {
		return model.ModelVersion{}, err
	}
	return mv, nil
}

// GetModelVersionDownloadURI returns the version's source location.
func (db *DB) GetModelVersionDownloadURI(ctx context.Context, name string, version int) (string, error) {
	var source string
	err := db.pool.QueryRow(ctx,
		`SELECT source FROM model_versions WHERE model_name = $1 AND version = $2`, name, version,
	).Scan(&source)
	if err != nil {
		if isNoRows(err) {
			return "", notFound("model version %q/%d does not exist", name, version)
		}
		return "", fmt.Errorf("storage: get download URI: %w", err)
	}
	return source, nil
}

// GetLatestVersions returns the highest-numbered live version of the
// model, or an empty slice when the model has no versions.
func (db *DB) GetLatestVersions(ctx context.Context, name string) ([]model.ModelVersion, error) {
	if err := db.requireModel(ctx, name); err != nil {
		return nil, err
	}

	var version int
	err := db.pool.QueryRow(ctx,
		`SELECT version FROM model_versions WHERE model_name = $1 ORDER BY version DESC LIMIT 1`, name,
	).Scan(&version)
	if err != nil {
		if isNoRows(err) {
			return []model.ModelVersion{}, nil
		}
		return nil, fmt.Errorf("storage: get latest version: %w", err)
	}

	mv, err := db.GetModelVersion(ctx, name, version)
	if err != nil {
		return nil, err
	}
	return []model.ModelVersion{mv}, nil
}

// SetModelVersionTag upserts one tag on a version.
func (db *DB) SetModelVersionTag(ctx context.Context, name string, version int, key, value string) error {
	if err := model.ValidateTagKey(key); err != nil {
		return invalidArgument("%v", err)
	}
	if err := db.requireVersion(ctx, name, version); err != nil {
		return err
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO model_version_tags (model_name, version, key, value) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (model_name, version, key) DO UPDATE SET value = EXCLUDED.value`,
		name, version, key, value,
	)
	if err != nil {
		return fmt.Errorf("storage: set version tag: %w", err)
	}
	return nil
}

// DeleteModelVersionTag removes one tag from a version. Deleting an absent
// key is a no-op.
func (db *DB) DeleteModelVersionTag(ctx context.Context, name string, version int, key string) error {
	if err := db.requireVersion(ctx, name, version); err != nil {
		return err
	}
	_, err := db.pool.Exec(ctx,
		`DELETE FROM model_version_tags WHERE model_name = $1 AND version = $2 AND key = $3`,
		name, version, key,
	)
	if err != nil {
		return fmt.Errorf("storage: delete version tag: %w", err)
	}
	return nil
}

// SetModelVersionStatus updates a version's status and message. Used by
// backends that register versions asynchronously.
func (db *DB) SetModelVersionStatus(ctx context.Context, name string, version int, status model.ModelVersionStatus, message string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE model_versions SET status = $1, status_message = $2, updated_at = now()
		 WHERE model_name = $3 AND version = $4`,
		string(status), message, name, version,
	)
	if err != nil {
		return fmt.Errorf("storage: set version status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("model version %q/%d does not exist", name, version)
	}
	return nil
}

func (db *DB) requireVersion(ctx context.Context, name string, version int) error {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM model_versions WHERE model_name = $1 AND version = $2)`,
		name, version,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("storage: check model version: %w", err)
	}
	if !exists {
		return notFound("model version %q/%d does not exist", name, version)
	}
	return nil
}

// loadVersionTags fetches the tag map for one version.
func (db *DB) loadVersionTags(ctx context.Context, name string, version int) (map[string]string, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT key, value FROM model_version_tags WHERE model_name = $1 AND version = $2`,
		name, version,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: load version tags: %w", err)
	}
	defer rows.Close()

	tags := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("storage: scan version tag: %w", err)
		}
		tags[key] = value
	}
	return tags, rows.Err()
}
