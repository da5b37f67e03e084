package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	// MemoryPath opens a private in-memory database (tests and dry runs).
	MemoryPath = ":memory:"

	dirMode  = 0750
	fileMode = 0600

	pingTimeout = 5 * time.Second
)

// ErrSchemaOutdated is returned by HealthCheck while migrations are pending.
var ErrSchemaOutdated = errors.New("workspace schema has pending migrations")

// Config is the database section of config.yaml.
type Config struct {
	// Path is the SQLite file holding workspace documents and variables.
	// Its directory is created on Open.
	Path string

	// WALMode lets the API read documents while the engine writes variables.
	WALMode bool

	// BusyTimeout is how long (seconds) a writer waits for the lock.
	BusyTimeout int
}

// DB is the hub's workspace store: one SQLite connection with the
// workspace schema migrated onto it.
type DB struct {
	*sql.DB
	path string
}

// StoreStats summarises the workspace store for /metrics and blockctl.
type StoreStats struct {
	SchemaVersion     string
	PendingMigrations int
	Tabs              int
	Variables         int
	SizeBytes         int64
	OpenConnections   int
	InUse             int
}

// Open connects to the workspace store described by cfg.
//
// SQLite allows one writer, so the pool is pinned to a single connection.
// That also keeps an in-memory database alive for the lifetime of DB.
func Open(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.Path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), dirMode); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	if cfg.Path != MemoryPath {
		_ = os.Chmod(cfg.Path, fileMode) //nolint:errcheck // the file may appear on first write
	}
	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// dsn builds the go-sqlite3 connection string for cfg.
func dsn(cfg Config) string {
	s := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path, (time.Duration(cfg.BusyTimeout) * time.Second).Milliseconds())
	if cfg.WALMode && cfg.Path != MemoryPath {
		s += "&_journal_mode=WAL&_synchronous=NORMAL"
	}
	return s
}

// Close closes the connection. It is safe to call on a zero DB.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck pings the store and reports ErrSchemaOutdated when embedded
// migrations have not been applied yet.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	_, pending, err := db.MigrationStatus(ctx)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		return fmt.Errorf("%w: %d pending, next %s", ErrSchemaOutdated, len(pending), pending[0].Version)
	}
	return nil
}

// StoreStats reads the store summary. Row counts are zero while the workspace
// tables do not exist yet.
func (db *DB) StoreStats(ctx context.Context) (StoreStats, error) {
	applied, pending, err := db.MigrationStatus(ctx)
	if err != nil {
		return StoreStats{}, err
	}

	pool := db.DB.Stats()
	st := StoreStats{
		PendingMigrations: len(pending),
		OpenConnections:   pool.OpenConnections,
		InUse:             pool.InUse,
	}
	if len(applied) > 0 {
		st.SchemaVersion = applied[len(applied)-1].Version
	}

	for table, dst := range map[string]*int{"workspace_tabs": &st.Tabs, "workspace_variables": &st.Variables} {
		n, err := db.countRows(ctx, table)
		if err != nil {
			return StoreStats{}, err
		}
		*dst = n
	}

	var pages, pageSize int64
	if err := db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pages); err != nil {
		return StoreStats{}, fmt.Errorf("reading page count: %w", err)
	}
	if err := db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return StoreStats{}, fmt.Errorf("reading page size: %w", err)
	}
	st.SizeBytes = pages * pageSize
	return st, nil
}

// countRows counts rows in table, or returns 0 when it does not exist.
func (db *DB) countRows(ctx context.Context, table string) (int, error) {
	var exists int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table,
	).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("looking up %s: %w", table, err)
	}
	if exists == 0 {
		return 0, nil
	}

	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil { //nolint:gosec // fixed table name
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return n, nil
}

// inTx runs fn in a transaction, committing when it returns nil.
func (db *DB) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}
