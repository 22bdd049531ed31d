package app

import (
	"context"
	"sync"
	"time"

	"botwatch/clients/notifier"
	"botwatch/config"
	"botwatch/internal/health"
	"botwatch/internal/storage"
	"botwatch/internal/store"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// RuleSource lists the persisted alert rules.
type RuleSource interface {
	ListRules(ctx context.Context) ([]storage.AlertRule, error)
}

// RecentAlertInfo holds summary info for a recent alert.
type RecentAlertInfo struct {
	Timestamp      time.Time `json:"timestamp"`
	BotName        string    `json:"bot_name"`
	Reason         string    `json:"reason"`
	RuleID         string    `json:"rule_id,omitempty"`
	Condition      string    `json:"condition,omitempty"`
	LatencyMs      int       `json:"latency_ms"`
	ThresholdMs    int       `json:"threshold_ms,omitempty"`
	Status         string    `json:"status,omitempty"`
	PreviousStatus string    `json:"previous_status,omitempty"`
}

// AlertStats summarises what the evaluator has sent.
type AlertStats struct {
	Total        int    `json:"total"`
	Latency      int    `json:"latency"`
	StatusChange int    `json:"status_change"`
	Suppressed   int    `json:"suppressed"`
	LastAlertAt  string `json:"last_alert_at,omitempty"`
	LastAlertAgo string `json:"last_alert_ago,omitempty"`
	RulesCached  bool   `json:"rules_cached"`
}

const (
	rulesCacheKey = "rules"
	rulesCacheTTL = 30 * time.Second
	maxRecent     = 100
)

// AlertEvaluator checks every ingested event against the alert rules and
// against the bot's previous health status. A rule fires at most once per
// bot per cooldown; the same holds for each status a bot moves into.
type AlertEvaluator struct {
	logger   *zap.Logger
	notifier notifier.Notifier
	rules    RuleSource
	metrics  *Metrics
	now      func() time.Time

	mu           sync.Mutex
	enabled      bool
	cooldown     time.Duration
	dashboardURL string
	lastStatus   map[string]string

	fired     *cache.Cache // cooldown keys
	ruleCache *cache.Cache

	statsMu    sync.RWMutex
	recent     []RecentAlertInfo
	history    []time.Time
	byReason   map[notifier.AlertReason]int
	suppressed int
	lastAlert  time.Time
}

// NewAlertEvaluator creates an evaluator. A nil notifier still records
// alerts but sends nothing.
func NewAlertEvaluator(logger *zap.Logger, n notifier.Notifier, rules RuleSource, metrics *Metrics, cfg *config.Config) *AlertEvaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	ae := &AlertEvaluator{
		logger:     logger,
		notifier:   n,
		rules:      rules,
		metrics:    metrics,
		now:        time.Now,
		lastStatus: make(map[string]string),
		fired:      cache.New(cfg.Alerts.Cooldown, time.Minute),
		ruleCache:  cache.New(rulesCacheTTL, time.Minute),
		byReason:   make(map[notifier.AlertReason]int),
	}
	ae.UpdateConfig(cfg)
	return ae
}

// UpdateConfig applies alert settings from cfg.
func (ae *AlertEvaluator) UpdateConfig(cfg *config.Config) {
	ae.mu.Lock()
	defer ae.mu.Unlock()
	ae.enabled = cfg.Alerts.Enabled
	ae.cooldown = cfg.Alerts.Cooldown
	ae.dashboardURL = "http://" + cfg.Server.Addr() + "/"
}

// InvalidateRules drops the cached rule list so the next event reloads it.
func (ae *AlertEvaluator) InvalidateRules() {
	ae.ruleCache.Delete(rulesCacheKey)
}

func (ae *AlertEvaluator) loadRules(ctx context.Context) []storage.AlertRule {
	if v, ok := ae.ruleCache.Get(rulesCacheKey); ok {
		return v.([]storage.AlertRule)
	}
	if ae.rules == nil {
		return nil
	}
	rules, err := ae.rules.ListRules(ctx)
	if err != nil {
		ae.logger.Warn("failed to load alert rules", zap.Error(err))
		return nil
	}
	ae.ruleCache.Set(rulesCacheKey, rules, cache.DefaultExpiration)
	return rules
}

// claim reports whether key is outside its cooldown and starts a new one.
func (ae *AlertEvaluator) claim(key string, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	if err := ae.fired.Add(key, struct{}{}, cooldown); err != nil {
		ae.statsMu.Lock()
		ae.suppressed++
		ae.statsMu.Unlock()
		return false
	}
	return true
}

// Evaluate checks e, and the bot aggregate it produced, for alerts.
func (ae *AlertEvaluator) Evaluate(ctx context.Context, e store.Event, bot *store.BotStatus) {
	ae.mu.Lock()
	enabled := ae.enabled
	cooldown := ae.cooldown
	dashboardURL := ae.dashboardURL
	var prev string
	var known bool
	if bot != nil {
		prev, known = ae.lastStatus[bot.BotName]
		ae.lastStatus[bot.BotName] = bot.Status
	}
	ae.mu.Unlock()

	if !enabled {
		return
	}
	slug := store.Slug(e.BotName)

	for _, rule := range ae.loadRules(ctx) {
		if !rule.Enabled || !rule.Matches(e.BotName) || e.LatencyMs < rule.ThresholdMs {
			continue
		}
		if !ae.claim("rule|"+rule.ID+"|"+slug, cooldown) {
			continue
		}
		alert := notifier.BotAlert{
			BotName:      e.BotName,
			RuleID:       rule.ID,
			Condition:    rule.Condition(),
			LatencyMs:    e.LatencyMs,
			ThresholdMs:  rule.ThresholdMs,
			SuccessRate:  e.SuccessRate,
			TxHash:       e.TxHash,
			Error:        e.Error,
			DashboardURL: dashboardURL,
			Reason:       notifier.AlertReasonLatency,
			Timestamp:    e.Timestamp,
		}
		if bot != nil {
			alert.Status = bot.Status
		}
		ae.send(alert)
	}

	if bot == nil || !known || prev == bot.Status || bot.Status == health.StatusUnknown {
		return
	}
	if !ae.claim("status|"+slug+"|"+bot.Status, cooldown) {
		return
	}
	ae.send(notifier.BotAlert{
		BotName:        bot.BotName,
		LatencyMs:      e.LatencyMs,
		Status:         bot.Status,
		PreviousStatus: prev,
		SuccessRate:    bot.SuccessRatio,
		TxHash:         e.TxHash,
		Error:          e.Error,
		DashboardURL:   dashboardURL,
		Reason:         notifier.AlertReasonStatusChange,
		Timestamp:      e.Timestamp,
	})
}

func (ae *AlertEvaluator) send(alert notifier.BotAlert) {
	now := ae.now()
	if alert.Timestamp.IsZero() {
		alert.Timestamp = now
	}

	ae.statsMu.Lock()
	ae.byReason[alert.Reason]++
	ae.recent = append([]RecentAlertInfo{{
		Timestamp:      alert.Timestamp,
		BotName:        alert.BotName,
		Reason:         string(alert.Reason),
		RuleID:         alert.RuleID,
		Condition:      alert.Condition,
		LatencyMs:      alert.LatencyMs,
		ThresholdMs:    alert.ThresholdMs,
		Status:         alert.Status,
		PreviousStatus: alert.PreviousStatus,
	}}, ae.recent...)
	if len(ae.recent) > maxRecent {
		ae.recent = ae.recent[:maxRecent]
	}
	ae.lastAlert = now
	ae.history = append(ae.history, now)
	cutoff := now.Add(-24 * time.Hour)
	startIdx := 0
	for startIdx < len(ae.history) && !ae.history[startIdx].After(cutoff) {
		startIdx++
	}
	ae.history = ae.history[startIdx:]
	ae.statsMu.Unlock()

	ae.logger.Info("BOT ALERT",
		zap.String("reason", string(alert.Reason)),
		zap.String("bot", alert.BotName),
		zap.String("rule", shortID(alert.RuleID)),
		zap.Int("latencyMs", alert.LatencyMs),
		zap.Int("thresholdMs", alert.ThresholdMs),
		zap.String("status", alert.Status),
		zap.String("previousStatus", alert.PreviousStatus),
	)

	if ae.metrics != nil {
		ae.metrics.AlertSent(string(alert.Reason))
	}
	if ae.notifier != nil {
		// Notifiers make blocking HTTP calls; keep ingestion moving.
		go ae.notifier.SendBotAlert(alert)
	}
}

// RecentAlerts returns the newest alerts first.
func (ae *AlertEvaluator) RecentAlerts() []RecentAlertInfo {
	ae.statsMu.RLock()
	defer ae.statsMu.RUnlock()
	out := make([]RecentAlertInfo, len(ae.recent))
	copy(out, ae.recent)
	return out
}

// HistoryBuckets counts alerts over the trailing duration split into
// buckets, oldest bucket first.
func (ae *AlertEvaluator) HistoryBuckets(duration time.Duration, buckets int) []int {
	ae.statsMu.RLock()
	defer ae.statsMu.RUnlock()

	now := ae.now()
	bucketDuration := duration / time.Duration(buckets)
	result := make([]int, buckets)
	for _, t := range ae.history {
		age := now.Sub(t)
		if age < 0 || age > duration {
			continue
		}
		idx := int(age / bucketDuration)
		if idx >= buckets {
			idx = buckets - 1
		}
		result[buckets-1-idx]++
	}
	return result
}

// Stats returns alert counters.
func (ae *AlertEvaluator) Stats() AlertStats {
	ae.statsMu.RLock()
	defer ae.statsMu.RUnlock()

	s := AlertStats{
		Latency:      ae.byReason[notifier.AlertReasonLatency],
		StatusChange: ae.byReason[notifier.AlertReasonStatusChange],
		Suppressed:   ae.suppressed,
	}
	s.Total = s.Latency + s.StatusChange
	if !ae.lastAlert.IsZero() {
		s.LastAlertAt = ae.lastAlert.UTC().Format(time.RFC3339)
		s.LastAlertAgo = ae.now().Sub(ae.lastAlert).Round(time.Second).String()
	}
	_, s.RulesCached = ae.ruleCache.Get(rulesCacheKey)
	return s
}
