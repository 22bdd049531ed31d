package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RegisteredBot is operator-supplied configuration for a bot the dashboard
// should know about even before it reports metrics.
type RegisteredBot struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Strategy           string    `json:"strategy"`
	Endpoint           string    `json:"endpoint,omitempty"`
	Enabled            bool      `json:"enabled"`
	LatencyThresholdMs int       `json:"latency_threshold_ms,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// SaveBot inserts b or updates the bot with the same id. A missing id is
// generated; a missing strategy defaults to arbitrage.
func (s *Store) SaveBot(ctx context.Context, b *RegisteredBot) error {
	b.Name = strings.TrimSpace(b.Name)
	if b.Name == "" {
		return errors.New("bot name required")
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Strategy == "" {
		b.Strategy = "arbitrage"
	}
	now := s.now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
INSERT INTO registered_bots (id, name, strategy, endpoint, enabled, latency_threshold_ms, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  name = excluded.name,
  strategy = excluded.strategy,
  endpoint = excluded.endpoint,
  enabled = excluded.enabled,
  latency_threshold_ms = excluded.latency_threshold_ms,
  updated_at = excluded.updated_at;
`, b.ID, b.Name, b.Strategy, b.Endpoint, boolToInt(b.Enabled), b.LatencyThresholdMs, formatTime(b.CreatedAt), formatTime(b.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save bot: %w", err)
	}
	return nil
}

func scanBot(row rowScanner) (RegisteredBot, error) {
	var (
		b                    RegisteredBot
		enabled              int
		createdAt, updatedAt string
	)
	if err := row.Scan(&b.ID, &b.Name, &b.Strategy, &b.Endpoint, &enabled, &b.LatencyThresholdMs, &createdAt, &updatedAt); err != nil {
		return RegisteredBot{}, err
	}
	b.Enabled = enabled != 0

	var err error
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return RegisteredBot{}, fmt.Errorf("bot %s created_at: %w", b.ID, err)
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return RegisteredBot{}, fmt.Errorf("bot %s updated_at: %w", b.ID, err)
	}
	return b, nil
}

const botColumns = `id, name, strategy, endpoint, enabled, latency_threshold_ms, created_at, updated_at`

// GetBot returns the registered bot with id, or ErrNotFound.
func (s *Store) GetBot(ctx context.Context, id string) (RegisteredBot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+botColumns+` FROM registered_bots WHERE id = ?;`, id)
	b, err := scanBot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RegisteredBot{}, ErrNotFound
	}
	if err != nil {
		return RegisteredBot{}, fmt.Errorf("get bot: %w", err)
	}
	return b, nil
}

// ListBots returns all registered bots ordered by name.
func (s *Store) ListBots(ctx context.Context) ([]RegisteredBot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+botColumns+` FROM registered_bots ORDER BY name;`)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	defer rows.Close()

	out := make([]RegisteredBot, 0)
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("list bots: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	return out, nil
}

// DeleteBot removes the registered bot with id, or returns ErrNotFound.
func (s *Store) DeleteBot(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM registered_bots WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
