package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/hoshizora-ml/shirushi/internal/model"
)

// CreateRegisteredModel inserts a new registered model and its tags in one
// transaction.
func (db *DB) CreateRegisteredModel(ctx context.Context, name, description string, tags map[string]string) (model.RegisteredModel, error) {
	if err := model.ValidateModelName(name); err != nil {
		return model.RegisteredModel{}, invalidArgument("%v", err)
	}

	now := time.Now().UTC()
	rm := model.RegisteredModel{
		Name:        name,
		Description: description,
		Tags:        map[string]string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.RegisteredModel{}, fmt.Errorf("storage: begin create model: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO registered_models (name, description, created_at, updated_at)
		 VALUES ($1, $2, $3, $4)`,
		rm.Name, rm.Description, rm.CreatedAt, rm.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.RegisteredModel{}, alreadyExists("registered model %q already exists", name)
		}
		return model.RegisteredModel{}, fmt.Errorf("storage: create registered model: %w", err)
	}

	for key, value := range tags {
		if err := model.ValidateTagKey(key); err != nil {
			return model.RegisteredModel{}, invalidArgument("%v", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO registered_model_tags (model_name, key, value) VALUES ($1, $2, $3)`,
			name, key, value,
		); err != nil {
			return model.RegisteredModel{}, fmt.Errorf("storage: create model tag: %w", err)
		}
		rm.Tags[key] = value
	}

	if err := tx.Commit(ctx); err != nil {
		return model.RegisteredModel{}, fmt.Errorf("storage: commit create model: %w", err)
	}
	return rm, nil
}

// UpdateRegisteredModel replaces the model's description.
func (db *DB) UpdateRegisteredModel(ctx context.Context, name, description string) (model.RegisteredModel, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE registered_models SET description = $1, updated_at = now() WHERE name = $2`,
		description, name,
	)
	if err != nil {
		return model.RegisteredModel{}, fmt.Errorf("storage: update registered model: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.RegisteredModel{}, notFound("registered model %q does not exist", name)
	}
	return db.GetRegisteredModel(ctx, name)
}

// RenameRegisteredModel renames a model. Versions, tags, and aliases follow
// through ON UPDATE CASCADE on the foreign keys.
func (db *DB) RenameRegisteredModel(ctx context.Context, name, newName string) (model.RegisteredModel, error) {
	if err := model.ValidateModelName(newName); err != nil {
		return model.RegisteredModel{}, invalidArgument("%v", err)
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE registered_models SET name = $1, updated_at = now() WHERE name = $2`,
		newName, name,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.RegisteredModel{}, alreadyExists("registered model %q already exists", newName)
		}
		return model.RegisteredModel{}, fmt.Errorf("storage: rename registered model: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.RegisteredModel{}, notFound("registered model %q does not exist", name)
	}
	return db.GetRegisteredModel(ctx, newName)
}

// DeleteRegisteredModel deletes a model. Versions, tags, and aliases go
// with it via ON DELETE CASCADE.
func (db *DB) DeleteRegisteredModel(ctx context.Context, name string) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM registered_models WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("storage: delete registered model: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("registered model %q does not exist", name)
	}
	return nil
}

// GetRegisteredModel retrieves a model by name, tags included.
func (db *DB) GetRegisteredModel(ctx context.Context, name string) (model.RegisteredModel, error) {
	var rm model.RegisteredModel
	err := db.pool.QueryRow(ctx,
		`SELECT name, description, deployment_job_id, created_at, updated_at
		 FROM registered_models WHERE name = $1`, name,
	).Scan(&rm.Name, &rm.Description, &rm.DeploymentJobID, &rm.CreatedAt, &rm.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return model.RegisteredModel{}, notFound("registered model %q does not exist", name)
		}
		return model.RegisteredModel{}, fmt.Errorf("storage: get registered model: %w", err)
	}

	tagsByModel, err := db.loadModelTags(ctx, []string{name})
	if err != nil {
		return model.RegisteredModel{}, err
	}
	rm.Tags = tagsByModel[name]
	if rm.Tags == nil {
		rm.Tags = map[string]string{}
	}
	return rm, nil
}

// SetRegisteredModelTag upserts one tag on a model.
func (db *DB) SetRegisteredModelTag(ctx context.Context, name, key, value string) error {
	if err := model.ValidateTagKey(key); err != nil {
		return invalidArgument("%v", err)
	}
	if err := db.requireModel(ctx, name); err != nil {
		return err
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO registered_model_tags (model_name, key, value) VALUES ($1, $2, $3)
		 ON CONFLICT (model_name, key) DO UPDATE SET value = EXCLUDED.value`,
		name, key, value,
	)
	if err != nil {
		return fmt.Errorf("storage: set model tag: %w", err)
	}
	return nil
}

// DeleteRegisteredModelTag removes one tag from a model. Deleting an absent
// key is a no-op.
func (db *DB) DeleteRegisteredModelTag(ctx context.Context, name, key string) error {
	if err := db.requireModel(ctx, name); err != nil {
		return err
	}
	_, err := db.pool.Exec(ctx,
		`DELETE FROM registered_model_tags WHERE model_name = $1 AND key = $2`, name, key,
	)
	if err != nil {
		return fmt.Errorf("storage: delete model tag: %w", err)
	}
	return nil
}

// requireModel fails with the coded absence error when name is not a
// registered model.
func (db *DB) requireModel(ctx context.Context, name string) error {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM registered_models WHERE name = $1)`, name,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("storage: check registered model: %w", err)
	}
	if !exists {
		return notFound("registered model %q does not exist", name)
	}
	return nil
}

// loadModelTags fetches tag maps for the given model names in one query.
func (db *DB) loadModelTags(ctx context.Context, names []string) (map[string]map[string]string, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT model_name, key, value FROM registered_model_tags WHERE model_name = ANY($1)`, names,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: load model tags: %w", err)
	}
	defer rows.Close()

	tags := make(map[string]map[string]string)
	for rows.Next() {
		var name, key, value string
		if err := rows.Scan(&name, &key, &value); err != nil {
			return nil, fmt.Errorf("storage: scan model tag: %w", err)
		}
		if tags[name] == nil {
			tags[name] = make(map[string]string)
		}
		tags[name][key] = value
	}
	return tags, rows.Err()
}
