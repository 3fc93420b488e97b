package storage

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hoshizora-ml/shirushi/internal/registry"
)

// uniqueViolation is the Postgres error code for duplicate-key violations.
const uniqueViolation = "23505"

// isUniqueViolation reports whether err is a duplicate-key violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// isNoRows reports whether err is pgx.ErrNoRows.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// notFound builds the coded absence error consumed by the registry layer.
func notFound(format string, args ...any) error {
	return registry.Errorf(registry.CodeDoesNotExist, format, args...)
}

// alreadyExists builds the coded conflict error consumed by the registry layer.
func alreadyExists(format string, args ...any) error {
	return registry.Errorf(registry.CodeAlreadyExists, format, args...)
}

// invalidArgument builds the coded validation error consumed by the registry layer.
func invalidArgument(format string, args ...any) error {
	return registry.Errorf(registry.CodeInvalidArgument, format, args...)
}
