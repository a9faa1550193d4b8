package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPermissions  = 0750
	filePermissions = 0600

	msPerSecond = 1000

	// connectionTimeout bounds the initial ping when the caller's
	// context carries no deadline.
	connectionTimeout = 5 * time.Second

	connMaxIdleTime = 30 * time.Minute
)

// memoryPath opens a private in-memory database. Used by tests.
const memoryPath = ":memory:"

// DB wraps a sql.DB connection to the bridge's SQLite store.
type DB struct {
	*sql.DB
	path string
}

// Config contains database configuration options.
// These map to the database section of config.yaml.
type Config struct {
	// Path is the SQLite file. Its directory is created if missing.
	Path string

	// WALMode enables Write-Ahead Logging so API reads do not block the
	// bridge's history writes.
	WALMode bool

	// BusyTimeout is how long to wait for a lock, in seconds.
	BusyTimeout int
}

// Open creates a database connection.
//
// It creates the parent directory, opens the file with busy timeout,
// foreign keys and (optionally) WAL pragmas, pins the pool to a single
// connection, verifies it with a ping and restricts the file to 0600.
//
// Parameters:
//   - ctx: Bounds the connectivity check
//   - cfg: Database configuration
//
// Returns:
//   - *DB: Connected database wrapper
//   - error: If the directory, connection or ping fails
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.Path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite has a single writer; one connection also keeps an in-memory
	// database alive for the life of the pool.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)
	if cfg.Path == memoryPath {
		sqlDB.SetConnMaxIdleTime(0)
	}

	db := &DB{DB: sqlDB, path: cfg.Path}

	pingCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, connectionTimeout)
		defer cancel()
	}

	if err := db.PingContext(pingCtx); err != nil {
		sqlDB.Close() //nolint:errcheck // best effort on error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	if cfg.Path != memoryPath {
		_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // file may not exist until first write
	}

	return db, nil
}

// dsn builds the go-sqlite3 connection string.
// See https://github.com/mattn/go-sqlite3#connection-string
func dsn(cfg Config) string {
	s := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on", cfg.Path, cfg.BusyTimeout*msPerSecond)
	if cfg.WALMode && cfg.Path != memoryPath {
		s += "&_journal_mode=WAL&_synchronous=NORMAL"
	}
	return s
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the database file.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs SELECT 1 against the connection.
func (db *DB) HealthCheck(ctx context.Context) error {
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// ExecContext executes a statement that returns no rows, wrapping errors.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	result, err := db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	return result, nil
}

// BeginTx starts a transaction. Callers should defer tx.Rollback(), which
// is a no-op after Commit.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	return tx, nil
}
