// Package storage persists rentals, registered bots, alert rules and
// runtime settings in SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// timeLayout is fixed-width UTC so stored timestamps compare as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by other tools may use plain RFC 3339.
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS rentals (
  id TEXT PRIMARY KEY,
  bot_id TEXT NOT NULL,
  bot_name TEXT NOT NULL,
  user_id TEXT,
  duration TEXT NOT NULL,
  price TEXT NOT NULL,
  payment_method TEXT NOT NULL,
  status TEXT NOT NULL,
  rented_at TEXT NOT NULL,
  expires_at TEXT NOT NULL,
  created_at TEXT NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS idx_rentals_bot_id ON rentals(bot_id);`,
	`CREATE INDEX IF NOT EXISTS idx_rentals_user_id ON rentals(user_id);`,
	`CREATE INDEX IF NOT EXISTS idx_rentals_status ON rentals(status);`,
	`CREATE INDEX IF NOT EXISTS idx_rentals_expires_at ON rentals(expires_at);`,
	`CREATE TABLE IF NOT EXISTS registered_bots (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  strategy TEXT NOT NULL DEFAULT 'arbitrage',
  endpoint TEXT NOT NULL DEFAULT '',
  enabled INTEGER NOT NULL DEFAULT 1,
  latency_threshold_ms INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_registered_bots_name ON registered_bots(name);`,
	`CREATE TABLE IF NOT EXISTS alert_rules (
  id TEXT PRIMARY KEY,
  bot_name TEXT NOT NULL DEFAULT '',
  metric TEXT NOT NULL DEFAULT 'latency',
  threshold_ms INTEGER NOT NULL,
  enabled INTEGER NOT NULL DEFAULT 1,
  created_at TEXT NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS settings (
  key TEXT PRIMARY KEY,
  value BLOB NOT NULL,
  updated_at TEXT NOT NULL
);`,
}

// Store is the SQLite-backed persistence layer.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One connection: SQLite serialises writers, and ":memory:" is per-connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
