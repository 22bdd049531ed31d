package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"botwatch/clients/notifier"
	"botwatch/config"
	"botwatch/internal/health"
	"botwatch/internal/storage"
	"botwatch/internal/store"
)

func newTestEvaluator(t *testing.T, cfg *config.Config, rules ...storage.AlertRule) (*AlertEvaluator, *MockNotifier, *MockRuleSource) {
	t.Helper()
	n := NewMockNotifier()
	src := &MockRuleSource{}
	src.SetRules(rules...)
	return NewAlertEvaluator(nil, n, src, nil, cfg), n, src
}

func latencyRule(id, bot string, threshold int) storage.AlertRule {
	return storage.AlertRule{ID: id, BotName: bot, Metric: storage.MetricLatency, ThresholdMs: threshold, Enabled: true}
}

func TestEvaluateLatencyRuleFires(t *testing.T) {
	ae, n, _ := newTestEvaluator(t, testConfig(), latencyRule("r1", "", 300))

	e := store.Event{Timestamp: time.Now(), BotName: "Arb Bot", LatencyMs: 420, TxHash: "0xabc"}
	ae.Evaluate(context.Background(), e, nil)

	a := n.Wait(t)
	if a.Reason != notifier.AlertReasonLatency {
		t.Errorf("Reason = %q, want %q", a.Reason, notifier.AlertReasonLatency)
	}
	if a.RuleID != "r1" || a.ThresholdMs != 300 || a.LatencyMs != 420 {
		t.Errorf("unexpected alert: %+v", a)
	}
	if a.Condition != "latency >= 300ms" {
		t.Errorf("Condition = %q", a.Condition)
	}
	if a.DashboardURL != "http://127.0.0.1:8000/" {
		t.Errorf("DashboardURL = %q", a.DashboardURL)
	}

	stats := ae.Stats()
	if stats.Total != 1 || stats.Latency != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if recent := ae.RecentAlerts(); len(recent) != 1 || recent[0].BotName != "Arb Bot" {
		t.Errorf("RecentAlerts = %+v", recent)
	}
}

func TestEvaluateThresholdIsInclusive(t *testing.T) {
	ae, n, _ := newTestEvaluator(t, testConfig(), latencyRule("r1", "", 300))

	ae.Evaluate(context.Background(), store.Event{BotName: "a", LatencyMs: 299}, nil)
	n.ExpectNone(t)

	ae.Evaluate(context.Background(), store.Event{BotName: "a", LatencyMs: 300}, nil)
	n.Wait(t)
}

func TestEvaluateSkipsNonMatchingRules(t *testing.T) {
	disabled := latencyRule("r2", "", 100)
	disabled.Enabled = false
	ae, n, _ := newTestEvaluator(t, testConfig(),
		latencyRule("r1", "other bot", 100),
		disabled,
	)

	ae.Evaluate(context.Background(), store.Event{BotName: "arb bot", LatencyMs: 900}, nil)
	n.ExpectNone(t)
}

func TestEvaluateRuleMatchesBotNameCaseInsensitively(t *testing.T) {
	ae, n, _ := newTestEvaluator(t, testConfig(), latencyRule("r1", "ARB BOT", 100))

	ae.Evaluate(context.Background(), store.Event{BotName: "arb bot", LatencyMs: 200}, nil)
	if a := n.Wait(t); a.BotName != "arb bot" {
		t.Errorf("BotName = %q", a.BotName)
	}
}

func TestEvaluateCooldownSuppressesRepeats(t *testing.T) {
	ae, n, _ := newTestEvaluator(t, testConfig(), latencyRule("r1", "", 100))

	ae.Evaluate(context.Background(), store.Event{BotName: "a", LatencyMs: 200}, nil)
	n.Wait(t)

	ae.Evaluate(context.Background(), store.Event{BotName: "a", LatencyMs: 250}, nil)
	n.ExpectNone(t)

	// Cooldown is per bot.
	ae.Evaluate(context.Background(), store.Event{BotName: "b", LatencyMs: 250}, nil)
	n.Wait(t)

	if got := ae.Stats().Suppressed; got != 1 {
		t.Errorf("Suppressed = %d, want 1", got)
	}
}

func TestEvaluateZeroCooldownAlwaysFires(t *testing.T) {
	cfg := testConfig()
	cfg.Alerts.Cooldown = 0
	ae, n, _ := newTestEvaluator(t, cfg, latencyRule("r1", "", 100))

	for i := 0; i < 3; i++ {
		ae.Evaluate(context.Background(), store.Event{BotName: "a", LatencyMs: 200}, nil)
		n.Wait(t)
	}
}

func TestEvaluateDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Alerts.Enabled = false
	ae, n, _ := newTestEvaluator(t, cfg, latencyRule("r1", "", 100))

	ae.Evaluate(context.Background(), store.Event{BotName: "a", LatencyMs: 200}, nil)
	n.ExpectNone(t)

	cfg.Alerts.Enabled = true
	ae.UpdateConfig(cfg)
	ae.Evaluate(context.Background(), store.Event{BotName: "a", LatencyMs: 200}, nil)
	n.Wait(t)
}

func TestEvaluateStatusChange(t *testing.T) {
	ae, n, _ := newTestEvaluator(t, testConfig())
	ctx := context.Background()
	e := store.Event{BotName: "mev bot", LatencyMs: 80}

	// First sighting only records the status.
	ae.Evaluate(ctx, e, &store.BotStatus{BotName: "mev bot", Status: health.StatusHealthy})
	n.ExpectNone(t)

	ae.Evaluate(ctx, e, &store.BotStatus{BotName: "mev bot", Status: health.StatusHealthy})
	n.ExpectNone(t)

	ae.Evaluate(ctx, e, &store.BotStatus{BotName: "mev bot", Status: health.StatusWarning, SuccessRatio: 75})
	a := n.Wait(t)
	if a.Reason != notifier.AlertReasonStatusChange {
		t.Errorf("Reason = %q", a.Reason)
	}
	if a.PreviousStatus != health.StatusHealthy || a.Status != health.StatusWarning {
		t.Errorf("transition = %s -> %s", a.PreviousStatus, a.Status)
	}
	if a.SuccessRate != 75 {
		t.Errorf("SuccessRate = %v", a.SuccessRate)
	}

	// Recovery alerts too.
	ae.Evaluate(ctx, e, &store.BotStatus{BotName: "mev bot", Status: health.StatusHealthy})
	n.Wait(t)

	// Back to warning inside the cooldown is suppressed.
	ae.Evaluate(ctx, e, &store.BotStatus{BotName: "mev bot", Status: health.StatusWarning})
	n.ExpectNone(t)

	if got := ae.Stats().StatusChange; got != 2 {
		t.Errorf("StatusChange = %d, want 2", got)
	}
}

func TestEvaluateIgnoresUnknownStatus(t *testing.T) {
	ae, n, _ := newTestEvaluator(t, testConfig())
	ctx := context.Background()

	ae.Evaluate(ctx, store.Event{BotName: "a"}, &store.BotStatus{BotName: "a", Status: health.StatusHealthy})
	ae.Evaluate(ctx, store.Event{BotName: "a"}, &store.BotStatus{BotName: "a", Status: health.StatusUnknown})
	n.ExpectNone(t)
}

func TestRulesAreCachedUntilInvalidated(t *testing.T) {
	ae, n, src := newTestEvaluator(t, testConfig(), latencyRule("r1", "", 1000))
	ctx := context.Background()

	ae.Evaluate(ctx, store.Event{BotName: "a", LatencyMs: 10}, nil)
	ae.Evaluate(ctx, store.Event{BotName: "a", LatencyMs: 10}, nil)
	if got := src.Loads(); got != 1 {
		t.Fatalf("Loads = %d, want 1", got)
	}
	if !ae.Stats().RulesCached {
		t.Error("expected rules to be cached")
	}

	src.SetRules(latencyRule("r2", "", 5))
	ae.Evaluate(ctx, store.Event{BotName: "a", LatencyMs: 10}, nil)
	n.ExpectNone(t)

	ae.InvalidateRules()
	ae.Evaluate(ctx, store.Event{BotName: "a", LatencyMs: 10}, nil)
	if a := n.Wait(t); a.RuleID != "r2" {
		t.Errorf("RuleID = %q, want r2", a.RuleID)
	}
	if got := src.Loads(); got != 2 {
		t.Errorf("Loads = %d, want 2", got)
	}
}

func TestRuleLoadErrorIsNotCached(t *testing.T) {
	ae, n, src := newTestEvaluator(t, testConfig())
	src.err = errors.New("db down")

	ae.Evaluate(context.Background(), store.Event{BotName: "a", LatencyMs: 10}, nil)
	n.ExpectNone(t)
	if ae.Stats().RulesCached {
		t.Error("failed load should not be cached")
	}
}

func TestNilRuleSourceAndNotifier(t *testing.T) {
	ae := NewAlertEvaluator(nil, nil, nil, nil, testConfig())
	ctx := context.Background()

	ae.Evaluate(ctx, store.Event{BotName: "a"}, &store.BotStatus{BotName: "a", Status: health.StatusHealthy})
	ae.Evaluate(ctx, store.Event{BotName: "a"}, &store.BotStatus{BotName: "a", Status: health.StatusError})

	if got := ae.Stats().StatusChange; got != 1 {
		t.Errorf("StatusChange = %d, want 1", got)
	}
}

func TestHistoryBuckets(t *testing.T) {
	cfg := testConfig()
	cfg.Alerts.Cooldown = 0
	ae, n, _ := newTestEvaluator(t, cfg, latencyRule("r1", "", 1))

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	ae.now = func() time.Time { return clock }

	for _, ago := range []time.Duration{50 * time.Minute, 2 * time.Minute, time.Minute} {
		clock = now.Add(-ago)
		ae.Evaluate(context.Background(), store.Event{BotName: "a", LatencyMs: 10, Timestamp: clock}, nil)
		n.Wait(t)
	}
	clock = now

	buckets := ae.HistoryBuckets(time.Hour, 12)
	if len(buckets) != 12 {
		t.Fatalf("len = %d", len(buckets))
	}
	if buckets[11] != 2 {
		t.Errorf("newest bucket = %d, want 2", buckets[11])
	}
	if buckets[1] != 1 {
		t.Errorf("bucket[1] = %d, want 1", buckets[1])
	}
	if got := ae.Stats().LastAlertAgo; got != "1m0s" {
		t.Errorf("LastAlertAgo = %q", got)
	}
}
