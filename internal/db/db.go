// Package db provides SQLite storage for the persisted cache.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const defaultBusyTimeoutMS = 5000

// Config configures the database.
type Config struct {
	// Path is the database file. Empty opens a private in-memory database.
	Path string

	// BusyTimeoutMS is how long SQLite waits on a locked database.
	BusyTimeoutMS int
}

// DB wraps the SQLite connection.
type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the database at cfg.Path and applies
// pending migrations.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	busy := cfg.BusyTimeoutMS
	if busy <= 0 {
		busy = defaultBusyTimeoutMS
	}

	var dsn string
	if cfg.Path == "" {
		dsn = fmt.Sprintf("file::memory:?_pragma=busy_timeout(%d)", busy)
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)", cfg.Path, busy)
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: keeps an in-memory database alive and serializes writers.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if cfg.Path != "" {
		if err := os.Chmod(cfg.Path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
			sqlDB.Close()
			return nil, fmt.Errorf("chmod db path: %w", err)
		}
	}

	db := &DB{DB: sqlDB, path: cfg.Path}
	if err := db.Migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// OpenInMemory opens a migrated in-memory database.
func OpenInMemory(ctx context.Context) (*DB, error) {
	return Open(ctx, Config{})
}

// Path returns the database file path, empty for in-memory databases.
func (db *DB) Path() string {
	return db.path
}
