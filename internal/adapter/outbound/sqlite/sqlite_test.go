package sqlite

import (
	"path/filepath"
	"testing"
)

func TestOpen_CreatesSchemaAndIsReusable(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sentinelgate.db")
	db, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	for _, table := range []string{"policies", "anchor_payloads", "sessions"} {
		var name string
		if err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name); err != nil {
			t.Errorf("table %s missing after Open(): %v", table, err)
		}
	}

	// Re-opening the same file must not error (CREATE TABLE IF NOT EXISTS).
	db2, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("second Open() error: %v", err)
	}
	defer db2.Close()
}

func TestOpen_RejectsEmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Path: ""}); err == nil {
		t.Error("Open() with empty path should error")
	}
}
