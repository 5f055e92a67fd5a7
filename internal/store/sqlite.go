// ABOUTME: SQLite implementation of the frame journal using modernc.org/sqlite
// ABOUTME: Opens the database, applies pragmas and creates the schema on first use

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Journal using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the journal at path. Parent
// directories are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Handlers record concurrently; one connection serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite journal initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS frames (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			frame_id    TEXT NOT NULL,
			kind        TEXT NOT NULL,
			name        TEXT NOT NULL,
			source      TEXT NOT NULL,
			space       TEXT NOT NULL,
			payload     TEXT NOT NULL,
			recorded_by TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_frames_id_recorder
			ON frames(frame_id, recorded_by);

		CREATE INDEX IF NOT EXISTS idx_frames_space ON frames(space, seq);
		CREATE INDEX IF NOT EXISTS idx_frames_name ON frames(name);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
