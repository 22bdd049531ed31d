// Package health turns latency samples and bot aggregates into health tiers.
package health

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"botwatch/internal/window"
)

// Tier is a latency health classification.
type Tier string

const (
	TierOK   Tier = "ok"
	TierWarn Tier = "warn"
	TierCrit Tier = "crit"
)

// WarnBand is the multiple of the threshold up to which a value is only a warning.
const WarnBand = 1.1

// Label returns the human-readable tier name.
func (t Tier) Label() string {
	switch t {
	case TierOK:
		return "OK"
	case TierWarn:
		return "Warning"
	case TierCrit:
		return "Critical"
	}
	return "—"
}

// Classify returns ok when value <= threshold, warn when value is within 10%
// over the threshold, and crit otherwise.
func Classify(value, threshold float64) Tier {
	if value <= threshold {
		return TierOK
	}
	if value <= threshold*WarnBand {
		return TierWarn
	}
	return TierCrit
}

// NoData is displayed in place of an average when the window is empty.
const NoData = "—"

// Reading is the result of feeding one value to a Gauge.
type Reading struct {
	Value      float64 `json:"value"` // clamped to [0, max]
	Size       float64 `json:"size"`  // Value/max
	Average    float64 `json:"average"`
	HasAverage bool    `json:"has_average"`
	Tier       Tier    `json:"tier"`
}

// SizeCSS formats Size the way the mini chart's --size property expects it.
func (r Reading) SizeCSS() string {
	return fmt.Sprintf("%.3f", r.Size)
}

// ValueText returns the rounded value, e.g. "123 ms".
func (r Reading) ValueText() string {
	return fmt.Sprintf("%d ms", int(math.Round(r.Value)))
}

// AverageText returns the rounded moving average or NoData.
func (r Reading) AverageText() string {
	if !r.HasAverage {
		return NoData
	}
	return fmt.Sprintf("%d ms", int(math.Round(r.Average)))
}

// Gauge maps latency samples onto a single bar: a fraction of a fixed
// maximum, a rolling average over a time window and a health tier.
type Gauge struct {
	mu        sync.Mutex
	maxMs     float64
	threshold float64
	win       *window.Window
	last      *Reading
	now       func() time.Time
}

// NewGauge returns a gauge scaled to maxMs that classifies against thresholdMs
// and averages over span.
func NewGauge(maxMs, thresholdMs float64, span time.Duration) *Gauge {
	if maxMs <= 0 {
		maxMs = 500
	}
	return &Gauge{
		maxMs:     maxMs,
		threshold: thresholdMs,
		win:       window.New(span),
		now:       time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (g *Gauge) WithClock(now func() time.Time) *Gauge {
	g.now = now
	return g
}

// Max returns the gauge scale.
func (g *Gauge) Max() float64 {
	return g.maxMs
}

// Threshold returns the current threshold.
func (g *Gauge) Threshold() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.threshold
}

// SetValue records ms and returns the updated reading.
func (g *Gauge) SetValue(ms float64) Reading {
	g.mu.Lock()
	defer g.mu.Unlock()

	clamped := math.Max(0, math.Min(g.maxMs, ms))
	g.win.Observe(g.now(), clamped)
	avg, ok := g.win.Mean()

	r := Reading{
		Value:      clamped,
		Size:       clamped / g.maxMs,
		Average:    avg,
		HasAverage: ok,
		Tier:       Classify(clamped, g.threshold),
	}
	g.last = &r
	return r
}

// SetThreshold changes the threshold and re-evaluates the last value.
// ok is false when no value has been recorded yet.
func (g *Gauge) SetThreshold(ms float64) (r Reading, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.threshold = ms
	if g.last == nil {
		return Reading{}, false
	}
	g.last.Tier = Classify(g.last.Value, ms)
	return *g.last, true
}

// Last returns the most recent reading.
func (g *Gauge) Last() (Reading, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last == nil {
		return Reading{}, false
	}
	return *g.last, true
}

// Bot status values.
const (
	StatusHealthy = "healthy"
	StatusWarning = "warning"
	StatusError   = "error"
	StatusUnknown = "unknown"
)

// StatusRules holds the limits used by BotStatus.
type StatusRules struct {
	HeartbeatWarn time.Duration
	HeartbeatCrit time.Duration
	RatioWarn     float64 // below this is a warning
	RatioCrit     float64 // below this is an error
	FailuresWarn  int     // above this is a warning
	FailuresCrit  int     // above this is an error
}

// DefaultStatusRules returns the stock limits.
func DefaultStatusRules() StatusRules {
	return StatusRules{
		HeartbeatWarn: 60 * time.Second,
		HeartbeatCrit: 120 * time.Second,
		RatioWarn:     80,
		RatioCrit:     50,
		FailuresWarn:  10,
		FailuresCrit:  50,
	}
}

// BotStatus derives a bot's status from its last heartbeat, success ratio
// (0..100) and failure count. A zero heartbeat counts as stale.
func (sr StatusRules) BotStatus(lastHeartbeat time.Time, successRatio float64, failures int, now time.Time) string {
	age := now.Sub(lastHeartbeat)
	if lastHeartbeat.IsZero() || age > sr.HeartbeatCrit {
		return StatusError
	}
	if age > sr.HeartbeatWarn {
		return StatusWarning
	}

	if successRatio < sr.RatioCrit {
		return StatusError
	}
	if successRatio < sr.RatioWarn {
		return StatusWarning
	}

	if failures > sr.FailuresCrit {
		return StatusError
	}
	if failures > sr.FailuresWarn {
		return StatusWarning
	}

	return StatusHealthy
}

// Indicator returns the colored dot shown for a status string.
func Indicator(status string) string {
	switch strings.ToLower(status) {
	case "healthy", "ok", "active":
		return "🟢"
	case "warning", "degraded":
		return "🟡"
	case "error", "down", "inactive":
		return "🔴"
	}
	return "⚪"
}
