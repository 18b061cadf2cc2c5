// Package sqlite is the durable backing store for the Policy Store & Anchor
// Cache (C3) and Session & Drift Tracker (C5): spec.md §6 names sqlite as
// the durable source of truth, with the in-memory stores in
// internal/adapter/outbound/memory as the consistent snapshot the
// Enforcement Engine actually reads on the hot path. Grounded on
// original_source/management_plane/app/services/policies.go and
// session_store.go (same JSON-column-plus-structured-key schema shape, WAL
// mode, re-population at startup).
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaFS embed.FS

// Config configures the durable sqlite store.
type Config struct {
	// Path is the sqlite database file path. ":memory:" is accepted for
	// tests but defeats the point of a durable store in production.
	Path string
	// BusyTimeout bounds how long a writer waits on a lock held by another
	// connection before returning SQLITE_BUSY. Default: 5s.
	BusyTimeout time.Duration
}

// Open opens (creating if absent) the sqlite database at cfg.Path, applies
// WAL mode and the busy timeout, and ensures the schema exists. The
// returned *sql.DB is safe for concurrent use; modernc.org/sqlite is a
// pure-Go driver with no cgo dependency, matching the teacher's
// no-cgo build stance (spec.md §6).
func Open(cfg Config) (*sql.DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: empty path")
	}
	busyTimeout := cfg.BusyTimeout
	if busyTimeout == 0 {
		busyTimeout = 5 * time.Second
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.Path, err)
	}

	// A single writer connection avoids SQLITE_BUSY storms under WAL; readers
	// still proceed concurrently with the one writer.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout.Milliseconds()),
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: read embedded schema: %w", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return db, nil
}

// Close is a thin wrapper so callers reaching the store through an
// interface don't need to import database/sql directly.
func Close(ctx context.Context, db *sql.DB) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return db.Close()
}
