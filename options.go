package shirushi

import (
	"io/fs"
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all settings after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port            int
	databaseURL     string
	memoryStore     bool
	logger          *slog.Logger
	version         string
	extraMigrations []fs.FS
}

// WithPort overrides the TCP port from config (SHIRUSHI_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config
// (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithMemoryStore runs the registry on the in-memory store instead of
// Postgres. State is lost on restart; intended for demos and tests.
func WithMemoryStore() Option {
	return func(o *resolvedOptions) { o.memoryStore = true }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithExtraMigrations adds an additional SQL migration filesystem to run
// after the embedded migrations. Multiple filesystems may be registered;
// they are applied in registration order.
func WithExtraMigrations(dir fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, dir) }
}
