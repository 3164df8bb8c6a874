// Package storage provides SQLite-backed key/value persistence for state
// store paths.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database behind the four verbs the state store
// persists through: get, set, remove, and get-all.
type Storage struct {
	db *sql.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/stakesync/data.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "stakesync", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS state_values (
		path       TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	return err
}

// Get returns the stored JSON value for path, with ok=false when absent.
func (s *Storage) Get(path string) (json.RawMessage, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM state_values WHERE path = ?`, path).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", path, err)
	}
	return json.RawMessage(value), true, nil
}

// Set writes the JSON value for path, replacing any previous value.
func (s *Storage) Set(path string, value json.RawMessage) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO state_values (path, value, updated_at)
		VALUES (?,?,?)`,
		path, string(value), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}

// Remove deletes the value for path. Removing an absent path is not an error.
func (s *Storage) Remove(path string) error {
	if _, err := s.db.Exec(`DELETE FROM state_values WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// GetAll returns every persisted path and its JSON value.
func (s *Storage) GetAll() (map[string]json.RawMessage, error) {
	rows, err := s.db.Query(`SELECT path, value FROM state_values`)
	if err != nil {
		return nil, fmt.Errorf("failed to query state values: %w", err)
	}
	defer rows.Close()

	values := make(map[string]json.RawMessage)
	for rows.Next() {
		var path, value string
		if err := rows.Scan(&path, &value); err != nil {
			return nil, fmt.Errorf("failed to scan state value: %w", err)
		}
		values[path] = json.RawMessage(value)
	}
	return values, rows.Err()
}
