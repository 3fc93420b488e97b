package storage

import (
	"context"
	"fmt"

	"github.com/hoshizora-ml/shirushi/internal/tracking"
)

// CreateTrace inserts a trace record with optional initial tags.
func (db *DB) CreateTrace(ctx context.Context, traceID string, tags map[string]string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin create trace: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO traces (trace_id) VALUES ($1)`, traceID); err != nil {
		if isUniqueViolation(err) {
			return alreadyExists("trace %q already exists", traceID)
		}
		return fmt.Errorf("storage: create trace: %w", err)
	}
	for key, value := range tags {
		if _, err := tx.Exec(ctx,
			`INSERT INTO trace_tags (trace_id, key, value) VALUES ($1, $2, $3)`,
			traceID, key, value,
		); err != nil {
			return fmt.Errorf("storage: create trace tag: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// GetTraceInfo retrieves a trace, or (nil, nil) if it does not exist.
func (db *DB) GetTraceInfo(ctx context.Context, traceID string) (*tracking.TraceInfo, error) {
	info := &tracking.TraceInfo{TraceID: traceID}
	err := db.pool.QueryRow(ctx,
		`SELECT created_at FROM traces WHERE trace_id = $1`, traceID,
	).Scan(&info.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: get trace: %w", err)
	}

	info.Tags, err = db.loadEntityTags(ctx, "trace_tags", "trace_id", traceID)
	if err != nil {
		return nil, err
	}
	return info, nil
}

// SetTraceTag upserts one tag on a trace.
func (db *DB) SetTraceTag(ctx context.Context, traceID, key, value string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO trace_tags (trace_id, key, value) VALUES ($1, $2, $3)
		 ON CONFLICT (trace_id, key) DO UPDATE SET value = EXCLUDED.value`,
		traceID, key, value,
	)
	if err != nil {
		return fmt.Errorf("storage: set trace tag: %w", err)
	}
	return nil
}

// CreateRun inserts a run record with optional initial tags.
func (db *DB) CreateRun(ctx context.Context, runID, name string, tags map[string]string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin create run: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO runs (run_id, name) VALUES ($1, $2)`, runID, name); err != nil {
		if isUniqueViolation(err) {
			return alreadyExists("run %q already exists", runID)
		}
		return fmt.Errorf("storage: create run: %w", err)
	}
	for key, value := range tags {
		if _, err := tx.Exec(ctx,
			`INSERT INTO run_tags (run_id, key, value) VALUES ($1, $2, $3)`,
			runID, key, value,
		); err != nil {
			return fmt.Errorf("storage: create run tag: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// GetRun retrieves a run, or (nil, nil) if it does not exist.
func (db *DB) GetRun(ctx context.Context, runID string) (*tracking.Run, error) {
	run := &tracking.Run{RunID: runID}
	err := db.pool.QueryRow(ctx,
		`SELECT name, created_at FROM runs WHERE run_id = $1`, runID,
	).Scan(&run.Name, &run.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: get run: %w", err)
	}

	run.Tags, err = db.loadEntityTags(ctx, "run_tags", "run_id", runID)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// SetRunTag upserts one tag on a run.
func (db *DB) SetRunTag(ctx context.Context, runID, key, value string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO run_tags (run_id, key, value) VALUES ($1, $2, $3)
		 ON CONFLICT (run_id, key) DO UPDATE SET value = EXCLUDED.value`,
		runID, key, value,
	)
	if err != nil {
		return fmt.Errorf("storage: set run tag: %w", err)
	}
	return nil
}

// CreateLoggedModel inserts a logged-model record with optional initial tags.
func (db *DB) CreateLoggedModel(ctx context.Context, modelID, name string, tags map[string]string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin create logged model: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO logged_models (model_id, name) VALUES ($1, $2)`, modelID, name); err != nil {
		if isUniqueViolation(err) {
			return alreadyExists("logged model %q already exists", modelID)
		}
		return fmt.Errorf("storage: create logged model: %w", err)
	}
	for key, value := range tags {
		if _, err := tx.Exec(ctx,
			`INSERT INTO logged_model_tags (model_id, key, value) VALUES ($1, $2, $3)`,
			modelID, key, value,
		); err != nil {
			return fmt.Errorf("storage: create logged model tag: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// GetLoggedModel retrieves a logged model, or (nil, nil) if it does not exist.
func (db *DB) GetLoggedModel(ctx context.Context, modelID string) (*tracking.LoggedModel, error) {
	lm := &tracking.LoggedModel{ModelID: modelID}
	err := db.pool.QueryRow(ctx,
		`SELECT name, created_at FROM logged_models WHERE model_id = $1`, modelID,
	).Scan(&lm.Name, &lm.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: get logged model: %w", err)
	}

	lm.Tags, err = db.loadEntityTags(ctx, "logged_model_tags", "model_id", modelID)
	if err != nil {
		return nil, err
	}
	return lm, nil
}

// SetLoggedModelTags merges tags onto a logged model in one transaction.
func (db *DB) SetLoggedModelTags(ctx context.Context, modelID string, tags map[string]string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin set logged model tags: %w", err)
	}
	defer tx.Rollback(ctx)

	for key, value := range tags {
		if _, err := tx.Exec(ctx,
			`INSERT INTO logged_model_tags (model_id, key, value) VALUES ($1, $2, $3)
			 ON CONFLICT (model_id, key) DO UPDATE SET value = EXCLUDED.value`,
			modelID, key, value,
		); err != nil {
			return fmt.Errorf("storage: set logged model tag: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// loadEntityTags fetches a tag map keyed by one ID column. table and idCol
// are always literal identifiers from the callers above.
func (db *DB) loadEntityTags(ctx context.Context, table, idCol, id string) (map[string]string, error) {
	rows, err := db.pool.Query(ctx,
		fmt.Sprintf(`SELECT key, value FROM %s WHERE %s = $1`, table, idCol), id,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: load %s: %w", table, err)
	}
	defer rows.Close()

	tags := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("storage: scan %s: %w", table, err)
		}
		tags[key] = value
	}
	return tags, rows.Err()
}
