package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"botwatch/clients"
	"botwatch/clients/notifier"
	"botwatch/config"
	"botwatch/internal/storage"

	"go.uber.org/zap"
)

// MockNotifier records alerts and signals each one on a channel.
type MockNotifier struct {
	mu     sync.Mutex
	alerts []notifier.BotAlert
	sent   chan notifier.BotAlert
	closed bool
}

// NewMockNotifier creates a mock notifier with room for buffered alerts.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{sent: make(chan notifier.BotAlert, 64)}
}

// SendBotAlert records the alert.
func (m *MockNotifier) SendBotAlert(alert notifier.BotAlert) {
	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	m.mu.Unlock()
	m.sent <- alert
}

// Close marks the notifier closed.
func (m *MockNotifier) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Wait returns the next alert or fails the test after a second.
func (m *MockNotifier) Wait(t *testing.T) notifier.BotAlert {
	t.Helper()
	select {
	case a := <-m.sent:
		return a
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for alert")
		return notifier.BotAlert{}
	}
}

// ExpectNone fails the test if an alert arrives within a short grace period.
func (m *MockNotifier) ExpectNone(t *testing.T) {
	t.Helper()
	select {
	case a := <-m.sent:
		t.Fatalf("unexpected alert: %+v", a)
	case <-time.After(50 * time.Millisecond):
	}
}

// MockRuleSource serves a fixed rule list and counts loads.
type MockRuleSource struct {
	mu    sync.Mutex
	rules []storage.AlertRule
	err   error
	loads int
}

// ListRules returns the configured rules.
func (m *MockRuleSource) ListRules(ctx context.Context) ([]storage.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.err != nil {
		return nil, m.err
	}
	out := make([]storage.AlertRule, len(m.rules))
	copy(out, m.rules)
	return out, nil
}

// SetRules replaces the rule list.
func (m *MockRuleSource) SetRules(rules ...storage.AlertRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = rules
}

// Loads returns how many times ListRules was called.
func (m *MockRuleSource) Loads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads
}

// MockSweeper counts expiry passes.
type MockSweeper struct {
	mu    sync.Mutex
	calls int
	n     int64
	err   error
}

// ExpireRentals returns the configured count.
func (m *MockSweeper) ExpireRentals(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.n, m.err
}

// Calls returns the number of passes so far.
func (m *MockSweeper) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// testConfig returns defaults with rate limiting off so handler tests are
// not throttled.
func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Data.CleanUI = true
	cfg.RateLimit.Enabled = false
	return cfg
}

func openTestDB(t *testing.T) *storage.Store {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// newTestRunner builds a runner around cfg. db may be nil.
func newTestRunner(t *testing.T, cfg *config.Config, db *storage.Store, n notifier.Notifier) *Runner {
	t.Helper()
	clts := &clients.Clients{
		Logger:   zap.NewNop(),
		Notifier: n,
	}
	return NewRunner(clts, config.NewLiveConfig(cfg), nil, db)
}
