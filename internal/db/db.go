// Package db provides the local SQLite store backing the entity mirror,
// the operation queue, the conflict table and per-device sync state.
package db

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// FileName is the database file created inside the data directory.
const FileName = "sync.db"

//go:embed migrations/*.sql
var migrationFiles embed.FS

// DB wraps the sql.DB with sync-specific configuration.
type DB struct {
	*sql.DB
	path string
}

// Open opens the SQLite database in dataDir. The database is opened with:
// - WAL mode for crash-safe commits
// - Foreign key constraints enabled
// - A single connection, so every transaction owns the writer
func Open(dataDir string) (*DB, error) {
	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return OpenFile(filepath.Join(dataDir, FileName))
}

// OpenFile opens the database at an explicit path.
func OpenFile(dbPath string) (*DB, error) {
	// modernc.org/sqlite is pure Go, no CGO
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support multiple writers
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return &DB{DB: db, path: dbPath}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies every embedded migration that has not run yet.
func (db *DB) Migrate() error {
	m, err := db.Migrator()
	if err != nil {
		return err
	}
	if err := m.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	return m.Up()
}

// Migrator returns a Migrator over the embedded migration files.
func (db *DB) Migrator() (*Migrator, error) {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	return NewMigrator(db.DB, sub), nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
