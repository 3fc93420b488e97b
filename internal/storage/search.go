package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/hoshizora-ml/shirushi/internal/filter"
	"github.com/hoshizora-ml/shirushi/internal/model"
	"github.com/hoshizora-ml/shirushi/internal/registry"
)

const defaultSearchLimit = 100

// SearchRegisteredModels evaluates the conjunctive filter subset in SQL.
// Tag conditions become EXISTS subqueries against the tag table; the page
// token is an opaque offset.
func (db *DB) SearchRegisteredModels(ctx context.Context, filterString string, maxResults int, orderBy []string, pageToken string) ([]model.RegisteredModel, string, error) {
	conds, err := filter.Parse(filterString)
	if err != nil {
		return nil, "", registry.Wrap(registry.CodeInvalidArgument, err, "parse search filter")
	}
	offset, err := decodePageToken(pageToken)
	if err != nil {
		return nil, "", err
	}
	if maxResults <= 0 {
		maxResults = defaultSearchLimit
	}

	where, args, err := buildWhere(conds, "m.name", "registered_model_tags", "t.model_name = m.name")
	if err != nil {
		return nil, "", err
	}
	order, err := buildOrderBy(orderBy, "m")
	if err != nil {
		return nil, "", err
	}

	query := fmt.Sprintf(
		`SELECT m.name, m.description, m.deployment_job_id, m.created_at, m.updated_at
		 FROM registered_models m %s %s LIMIT $%d OFFSET $%d`,
		where, order, len(args)+1, len(args)+2,
	)
	args = append(args, maxResults+1, offset)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("storage: search models: %w", err)
	}
	defer rows.Close()

	var models []model.RegisteredModel
	var names []string
	for rows.Next() {
		var rm model.RegisteredModel
		if err := rows.Scan(&rm.Name, &rm.Description, &rm.DeploymentJobID, &rm.CreatedAt, &rm.UpdatedAt); err != nil {
			return nil, "", fmt.Errorf("storage: scan model: %w", err)
		}
		models = append(models, rm)
		names = append(names, rm.Name)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("storage: search models: %w", err)
	}

	// One row past the limit means another page exists.
	nextToken := ""
	if len(models) > maxResults {
		models = models[:maxResults]
		names = names[:maxResults]
		nextToken = encodePageToken(offset + maxResults)
	}

	if len(names) > 0 {
		tagsByName, err := db.loadModelTags(ctx, names)
		if err != nil {
			return nil, "", err
		}
		for i := range models {
			models[i].Tags = tagsByName[models[i].Name]
			if models[i].Tags == nil {
				models[i].Tags = map[string]string{}
			}
		}
	}
	return models, nextToken, nil
}

// SearchModelVersions evaluates the filter subset over all versions,
// matching name conditions against the parent model name.
func (db *DB) SearchModelVersions(ctx context.Context, filterString string, maxResults int, orderBy []string, pageToken string) ([]model.ModelVersion, string, error) {
	conds, err := filter.Parse(filterString)
	if err != nil {
		return nil, "", registry.Wrap(registry.CodeInvalidArgument, err, "parse search filter")
	}
	offset, err := decodePageToken(pageToken)
	if err != nil {
		return nil, "", err
	}
	if maxResults <= 0 {
		maxResults = defaultSearchLimit
	}

	where, args, err := buildWhere(conds, "v.model_name", "model_version_tags",
		"t.model_name = v.model_name AND t.version = v.version")
	if err != nil {
		return nil, "", err
	}

	query := fmt.Sprintf(
		`SELECT v.model_name, v.version, v.source, v.run_id, v.status, v.status_message, v.description, v.created_at, v.updated_at
		 FROM model_versions v %s ORDER BY v.model_name ASC, v.version ASC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2,
	)
	args = append(args, maxResults+1, offset)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("storage: search versions: %w", err)
	}
	defer rows.Close()

	var versions []model.ModelVersion
	for rows.Next() {
		var mv model.ModelVersion
		var status string
		if err := rows.Scan(&mv.Name, &mv.Version, &mv.Source, &mv.RunID, &status,
			&mv.StatusMessage, &mv.Description, &mv.CreatedAt, &mv.UpdatedAt); err != nil {
			return nil, "", fmt.Errorf("storage: scan version: %w", err)
		}
		mv.Status = model.ModelVersionStatus(status)
		versions = append(versions, mv)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("storage: search versions: %w", err)
	}

	nextToken := ""
	if len(versions) > maxResults {
		versions = versions[:maxResults]
		nextToken = encodePageToken(offset + maxResults)
	}

	for i := range versions {
		versions[i].Tags, err = db.loadVersionTags(ctx, versions[i].Name, versions[i].Version)
		if err != nil {
			return nil, "", err
		}
	}
	return versions, nextToken, nil
}

// buildWhere renders filter conditions as SQL. nameCol is the column that
// name conditions compare against; tag conditions become EXISTS subqueries
// on tagTable joined via joinExpr.
func buildWhere(conds []filter.Condition, nameCol, tagTable, joinExpr string) (string, []any, error) {
	if len(conds) == 0 {
		return "", nil, nil
	}
	var clauses []string
	var args []any
	for _, c := range conds {
		op, err := sqlOp(c.Op)
		if err != nil {
			return "", nil, err
		}
		switch c.Field {
		case "name":
			args = append(args, c.Value)
			clauses = append(clauses, fmt.Sprintf("%s %s $%d", nameCol, op, len(args)))
		case "tag":
			args = append(args, c.Key, c.Value)
			clauses = append(clauses, fmt.Sprintf(
				"EXISTS (SELECT 1 FROM %s t WHERE %s AND t.key = $%d AND t.value %s $%d)",
				tagTable, joinExpr, len(args)-1, op, len(args),
			))
		default:
			return "", nil, registry.Errorf(registry.CodeInvalidArgument, "unsupported filter field %q", c.Field)
		}
	}
	return "WHERE " + strings.Join(clauses, " AND "), args, nil
}

func sqlOp(op filter.Op) (string, error) {
	switch op {
	case filter.OpEqual:
		return "=", nil
	case filter.OpNotEqual:
		return "!=", nil
	case filter.OpLike:
		return "LIKE", nil
	case filter.OpILike:
		return "ILIKE", nil
	default:
		return "", registry.Errorf(registry.CodeInvalidArgument, "unsupported filter operator %q", op)
	}
}

// buildOrderBy renders the order-by clauses against a column whitelist.
func buildOrderBy(orderBy []string, alias string) (string, error) {
	if len(orderBy) == 0 {
		return fmt.Sprintf("ORDER BY %s.name ASC", alias), nil
	}
	var parts []string
	for _, clause := range orderBy {
		fields := strings.Fields(clause)
		if len(fields) == 0 || len(fields) > 2 {
			return "", registry.Errorf(registry.CodeInvalidArgument, "invalid order-by clause %q", clause)
		}
		var col string
		switch strings.ToLower(fields[0]) {
		case "name":
			col = alias + ".name"
		case "creation_timestamp":
			col = alias + ".created_at"
		case "last_updated_timestamp":
			col = alias + ".updated_at"
		default:
			return "", registry.Errorf(registry.CodeInvalidArgument, "unsupported order-by field %q", fields[0])
		}
		dir := "ASC"
		if len(fields) == 2 {
			switch strings.ToUpper(fields[1]) {
			case "ASC", "DESC":
				dir = strings.ToUpper(fields[1])
			default:
				return "", registry.Errorf(registry.CodeInvalidArgument, "invalid order-by direction %q", fields[1])
			}
		}
		parts = append(parts, col+" "+dir)
	}
	return "ORDER BY " + strings.Join(parts, ", "), nil
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
		return 0, invalidArgument("invalid page token %q", token)
	}
	offset, err := strconv.Atoi(string(raw))
	if err != nil || offset < 0 {
		return 0, invalidArgument("invalid page token %q", token)
	}
	return offset, nil
}
