package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MetricLatency is the only metric alert rules currently watch.
const MetricLatency = "latency"

// AlertRule fires when a bot's latency reaches ThresholdMs. An empty
// BotName matches every bot.
type AlertRule struct {
	ID          string    `json:"id"`
	BotName     string    `json:"bot_name"`
	Metric      string    `json:"metric"`
	ThresholdMs int       `json:"threshold_ms"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
}

// Condition renders the rule as shown in the dashboard.
func (r AlertRule) Condition() string {
	return fmt.Sprintf("%s >= %dms", r.Metric, r.ThresholdMs)
}

// Matches reports whether the rule applies to bot.
func (r AlertRule) Matches(bot string) bool {
	return r.BotName == "" || strings.EqualFold(r.BotName, bot)
}

// CreateRule inserts r with a generated id.
func (s *Store) CreateRule(ctx context.Context, r *AlertRule) error {
	if r.ThresholdMs < 1 {
		return errors.New("threshold_ms must be at least 1")
	}
	if r.Metric == "" {
		r.Metric = MetricLatency
	}
	if r.Metric != MetricLatency {
		return fmt.Errorf("unsupported metric %q", r.Metric)
	}
	r.ID = uuid.NewString()
	r.CreatedAt = s.now().UTC()

	_, err := s.db.ExecContext(ctx, `
INSERT INTO alert_rules (id, bot_name, metric, threshold_ms, enabled, created_at)
VALUES (?, ?, ?, ?, ?, ?);
`, r.ID, r.BotName, r.Metric, r.ThresholdMs, boolToInt(r.Enabled), formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert alert rule: %w", err)
	}
	return nil
}

// ListRules returns all alert rules, oldest first.
func (s *Store) ListRules(ctx context.Context) ([]AlertRule, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, bot_name, metric, threshold_ms, enabled, created_at
FROM alert_rules
ORDER BY created_at, id;
`)
	if err != nil {
		return nil, fmt.Errorf("list alert rules: %w", err)
	}
	defer rows.Close()

	out := make([]AlertRule, 0)
	for rows.Next() {
		var (
			r         AlertRule
			enabled   int
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.BotName, &r.Metric, &r.ThresholdMs, &enabled, &createdAt); err != nil {
			return nil, fmt.Errorf("scan alert rule: %w", err)
		}
		r.Enabled = enabled != 0
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("alert rule %s created_at: %w", r.ID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list alert rules: %w", err)
	}
	return out, nil
}

// SetRuleEnabled toggles rule id, or returns ErrNotFound.
func (s *Store) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE alert_rules SET enabled = ? WHERE id = ?;`, boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("update alert rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRule removes rule id, or returns ErrNotFound.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete alert rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
