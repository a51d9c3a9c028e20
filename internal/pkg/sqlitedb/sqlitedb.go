// Package sqlitedb provides SQLite database connection utilities.
package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Config contains SQLite connection configuration.
type Config struct {
	Path        string
	BusyTimeout int // milliseconds
}

// Open opens (creating if necessary) the SQLite database at the configured
// path with WAL journaling and foreign keys enabled.
//
// The returned handle is restricted to a single connection: SQLite allows one
// writer at a time, and a single connection makes every status transition
// naturally serialized.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5000
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)",
		url.PathEscape(cfg.Path), cfg.BusyTimeout)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.Info("opened database", "path", cfg.Path)
	return db, nil
}
