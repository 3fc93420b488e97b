package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hoshizora-ml/shirushi/internal/model"
)

// foreignKeyViolation is the Postgres error code for FK violations.
const foreignKeyViolation = "23503"

// SetRegisteredModelAlias points an alias at a version, atomically
// repointing it if it already exists. The target version must exist.
func (db *DB) SetRegisteredModelAlias(ctx context.Context, name, alias string, version int) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO registered_model_aliases (model_name, alias, version) VALUES ($1, $2, $3)
		 ON CONFLICT (model_name, alias) DO UPDATE SET version = EXCLUDED.version`,
		name, alias, version,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return notFound("model version %q/%d does not exist", name, version)
		}
		return fmt.Errorf("storage: set alias: %w", err)
	}
	return nil
}

// DeleteRegisteredModelAlias removes an alias. Deleting an absent alias is
// a no-op, but the model must exist.
func (db *DB) DeleteRegisteredModelAlias(ctx context.Context, name, alias string) error {
	if err := db.requireModel(ctx, name); err != nil {
		return err
	}
	_, err := db.pool.Exec(ctx,
		`DELETE FROM registered_model_aliases WHERE model_name = $1 AND alias = $2`, name, alias,
	)
	if err != nil {
		return fmt.Errorf("storage: delete alias: %w", err)
	}
	return nil
}

// GetModelVersionByAlias resolves an alias to its version.
func (db *DB) GetModelVersionByAlias(ctx context.Context, name, alias string) (model.ModelVersion, error) {
	var version int
	err := db.pool.QueryRow(ctx,
		`SELECT version FROM registered_model_aliases WHERE model_name = $1 AND alias = $2`,
		name, alias,
	).Scan(&version)
	if err != nil {
		if isNoRows(err) {
			if rerr := db.requireModel(ctx, name); rerr != nil {
				return model.ModelVersion{}, rerr
			}
			return model.ModelVersion{}, notFound("alias %q does not exist for registered model %q", alias, name)
		}
		return model.ModelVersion{}, fmt.Errorf("storage: get alias: %w", err)
	}
	return db.GetModelVersion(ctx, name, version)
}
