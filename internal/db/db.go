package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/hpungsan/spendcat/internal/config"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// Directory and file names under the base directory.
const (
	FileName     = "spendcat.db"
	ExportsDir   = "exports"
	ArtifactsDir = "artifacts"
)

// Init initializes the SQLite database at baseDir/spendcat.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.spendcat.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, eris.Wrap(err, "failed to create base directory")
	}
	// Explicit chmod (best-effort, may not work on all platforms)
	_ = os.Chmod(baseDir, 0700)

	for _, name := range []string{ExportsDir, ArtifactsDir} {
		dir := filepath.Join(baseDir, name)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, eris.Wrapf(err, "failed to create %s directory", name)
		}
		_ = os.Chmod(dir, 0700)
	}

	// Open database with pragmas in connection string (applies to all connections)
	dbPath := filepath.Join(baseDir, FileName)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "failed to open database")
	}

	// Verify WAL mode is active
	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations (this creates the file if it doesn't exist)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	// Set file permissions after file exists (best-effort)
	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS examples (
		  id          INTEGER PRIMARY KEY AUTOINCREMENT,
		  text        TEXT NOT NULL,
		  text_norm   TEXT NOT NULL,
		  category    TEXT NOT NULL,
		  source      TEXT,
		  created_at  INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_examples_category
		ON examples(category);

		CREATE TABLE IF NOT EXISTS corrections (
		  seq               INTEGER PRIMARY KEY AUTOINCREMENT,
		  id                TEXT NOT NULL UNIQUE,
		  text              TEXT NOT NULL,
		  text_norm         TEXT NOT NULL,
		  correct_category  TEXT NOT NULL,
		  created_at        INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_corrections_text_norm
		ON corrections(text_norm, seq);

		CREATE TABLE IF NOT EXISTS artifacts (
		  version          INTEGER PRIMARY KEY,
		  trained_at       INTEGER NOT NULL,
		  path             TEXT NOT NULL,
		  checksum         TEXT NOT NULL,
		  size_bytes       INTEGER NOT NULL,
		  examples         INTEGER NOT NULL,
		  corrections      INTEGER NOT NULL,
		  categories_json  TEXT NOT NULL,
		  active           INTEGER NOT NULL DEFAULT 0,
		  created_at       INTEGER NOT NULL,
		  discarded_at     INTEGER
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_artifacts_active
		ON artifacts(active)
		WHERE active = 1;
		`
		if _, err := db.Exec(schema); err != nil {
			return eris.Wrap(err, "migration 1 failed")
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return eris.Wrap(err, "failed to verify journal mode")
	}
	if journalMode != "wal" {
		return eris.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, eris.Wrap(err, "failed to get user_version")
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return eris.Wrap(err, "failed to set user_version")
	}
	return nil
}
