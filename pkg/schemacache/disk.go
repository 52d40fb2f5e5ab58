package schemacache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// diskStore persists fetched schema bytes in a sqlite database so that
// subsequent runs skip the network fetch.
type diskStore struct {
	db *sql.DB
}

func openDiskStore(dir string) (*diskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("schemacache: ensure cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, "schemas.db"))
	if err != nil {
		return nil, fmt.Errorf("schemacache: open disk cache: %w", err)
	}
	s := &diskStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *diskStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS schemas (
		cid TEXT PRIMARY KEY,
		body BLOB NOT NULL,
		fetched_at TEXT NOT NULL
	);`
	if _, err := s.db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("schemacache: migrate disk cache: %w", err)
	}
	return nil
}

func (s *diskStore) loadAll() (map[string][]byte, error) {
	rows, err := s.db.Query(`SELECT cid, body FROM schemas`)
	if err != nil {
		return nil, fmt.Errorf("schemacache: load disk cache: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]byte)
	for rows.Next() {
		var (
			id   string
			body []byte
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("schemacache: scan disk cache row: %w", err)
		}
		out[id] = body
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schemacache: iterate disk cache: %w", err)
	}
	return out, nil
}

func (s *diskStore) put(id string, body []byte) error {
	query := `INSERT INTO schemas (cid, body, fetched_at) VALUES (?, ?, ?)
	          ON CONFLICT(cid) DO UPDATE SET body = excluded.body, fetched_at = excluded.fetched_at`
	_, err := s.db.Exec(query, id, body, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("schemacache: persist schema: %w", err)
	}
	return nil
}

func (s *diskStore) close() error {
	return s.db.Close()
}
