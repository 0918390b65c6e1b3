package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed snapshot manifest. One row per snapshot;
// the dump artifact lives beside the manifest db as <name>.dump.
//
// WAL is enabled so a long restore can read manifests while another
// process records a new snapshot.
type Store struct {
	db *sql.DB
}

// Manifest describes one recorded snapshot.
type Manifest struct {
	Name            string `json:"name"`
	Database        string `json:"database"`
	Description     string `json:"description,omitempty"`
	DumpFile        string `json:"dump_file"`
	SizeBytes       int64  `json:"size_bytes"`
	CreatedAtUnixMs int64  `json:"created_at_unix_ms"`
}

func OpenStore(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("missing manifest db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS snapshots (
  name               TEXT NOT NULL,
  database_name      TEXT NOT NULL,
  description        TEXT NOT NULL DEFAULT '',
  dump_file          TEXT NOT NULL,
  size_bytes         INTEGER NOT NULL DEFAULT 0,
  created_at_unix_ms INTEGER NOT NULL,
  PRIMARY KEY (database_name, name)
);
CREATE INDEX IF NOT EXISTS idx_snapshots_created ON snapshots(created_at_unix_ms);
`)
	if err != nil {
		return fmt.Errorf("create snapshots table: %w", err)
	}
	return nil
}

func (s *Store) insert(ctx context.Context, m Manifest) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO snapshots (name, database_name, description, dump_file, size_bytes, created_at_unix_ms)
VALUES (?, ?, ?, ?, ?, ?)
`, m.Name, m.Database, m.Description, m.DumpFile, m.SizeBytes, m.CreatedAtUnixMs)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "PRIMARY") {
			return fmt.Errorf("%w: snapshot %q already exists for database %q", ErrConflict, m.Name, m.Database)
		}
		return err
	}
	return nil
}

func (s *Store) get(ctx context.Context, database, name string) (*Manifest, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT name, database_name, description, dump_file, size_bytes, created_at_unix_ms
FROM snapshots WHERE database_name = ? AND name = ?
`, database, name)
	var m Manifest
	if err := row.Scan(&m.Name, &m.Database, &m.Description, &m.DumpFile, &m.SizeBytes, &m.CreatedAtUnixMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: snapshot %q for database %q", ErrNotFound, name, database)
		}
		return nil, err
	}
	return &m, nil
}

// list returns manifests, newest first. Empty database lists all.
func (s *Store) list(ctx context.Context, database string) ([]Manifest, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	q := `
SELECT name, database_name, description, dump_file, size_bytes, created_at_unix_ms
FROM snapshots`
	var args []any
	if database != "" {
		q += ` WHERE database_name = ?`
		args = append(args, database)
	}
	q += ` ORDER BY created_at_unix_ms DESC, name DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Manifest
	for rows.Next() {
		var m Manifest
		if err := rows.Scan(&m.Name, &m.Database, &m.Description, &m.DumpFile, &m.SizeBytes, &m.CreatedAtUnixMs); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) delete(ctx context.Context, database, name string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE database_name = ? AND name = ?`, database, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: snapshot %q for database %q", ErrNotFound, name, database)
	}
	return nil
}
