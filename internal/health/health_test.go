package health

import (
	"math"
	"testing"
	"time"
)

func TestClassify_Boundaries(t *testing.T) {
	for _, threshold := range []float64{350, 300, 100, 1} {
		warnEdge := threshold * WarnBand

		tests := []struct {
			name  string
			value float64
			want  Tier
		}{
			{"zero", 0, TierOK},
			{"at threshold", threshold, TierOK},
			{"just above threshold", math.Nextafter(threshold, math.Inf(1)), TierWarn},
			{"at warn edge", warnEdge, TierWarn},
			{"just above warn edge", math.Nextafter(warnEdge, math.Inf(1)), TierCrit},
			{"far above", threshold * 3, TierCrit},
		}
		for _, tt := range tests {
			if got := Classify(tt.value, threshold); got != tt.want {
				t.Errorf("threshold %v, %s (%v): got %s, want %s", threshold, tt.name, tt.value, got, tt.want)
			}
		}
	}
}

func TestClassify_Pure(t *testing.T) {
	a := Classify(360, 350)
	b := Classify(360, 350)
	if a != b || a != TierWarn {
		t.Errorf("expected stable warn, got %s and %s", a, b)
	}
}

func TestTierLabel(t *testing.T) {
	if TierOK.Label() != "OK" || TierWarn.Label() != "Warning" || TierCrit.Label() != "Critical" {
		t.Error("unexpected tier labels")
	}
	if Tier("x").Label() != "—" {
		t.Error("unknown tier should render as a dash")
	}
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestGauge() (*Gauge, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewGauge(500, 350, 5*time.Second).WithClock(clk.now), clk
}

func TestGauge_SetValueClampsAndScales(t *testing.T) {
	g, _ := newTestGauge()

	r := g.SetValue(250)
	if r.Size != 0.5 || r.SizeCSS() != "0.500" {
		t.Errorf("unexpected size: %v (%s)", r.Size, r.SizeCSS())
	}
	if r.ValueText() != "250 ms" {
		t.Errorf("unexpected value text: %s", r.ValueText())
	}

	r = g.SetValue(900)
	if r.Value != 500 || r.SizeCSS() != "1.000" {
		t.Errorf("expected clamp to max, got %+v", r)
	}
	if r.Tier != TierCrit {
		t.Errorf("expected crit for clamped max, got %s", r.Tier)
	}

	r = g.SetValue(-20)
	if r.Value != 0 || r.SizeCSS() != "0.000" || r.Tier != TierOK {
		t.Errorf("expected clamp to zero, got %+v", r)
	}
}

func TestGauge_MovingAverageFollowsWindow(t *testing.T) {
	g, clk := newTestGauge()

	g.SetValue(100)
	clk.advance(time.Second)
	r := g.SetValue(300)
	if !r.HasAverage || r.Average != 200 || r.AverageText() != "200 ms" {
		t.Errorf("expected average 200, got %+v", r)
	}

	clk.advance(4 * time.Second) // first sample now exactly at the cutoff
	r = g.SetValue(500)
	if r.Average != 400 {
		t.Errorf("expected first sample evicted, average 400, got %v", r.Average)
	}
}

func TestGauge_SetThresholdReclassifiesLastValue(t *testing.T) {
	g, _ := newTestGauge()

	if _, ok := g.SetThreshold(300); ok {
		t.Error("expected no reading before any value")
	}

	g.SetValue(320)
	r, ok := g.SetThreshold(400)
	if !ok || r.Tier != TierOK {
		t.Errorf("expected ok at threshold 400, got %+v", r)
	}
	r, _ = g.SetThreshold(200)
	if r.Tier != TierCrit {
		t.Errorf("expected crit at threshold 200, got %s", r.Tier)
	}
	if g.Threshold() != 200 {
		t.Errorf("threshold not updated")
	}
	last, _ := g.Last()
	if last.Tier != TierCrit {
		t.Errorf("last reading not reclassified")
	}
}

func TestReading_NoDataAverage(t *testing.T) {
	var r Reading
	if r.AverageText() != NoData {
		t.Errorf("expected no-data sentinel, got %s", r.AverageText())
	}
}

func TestBotStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rules := DefaultStatusRules()

	tests := []struct {
		name      string
		heartbeat time.Time
		ratio     float64
		failures  int
		want      string
	}{
		{"fresh and healthy", now.Add(-5 * time.Second), 99, 0, StatusHealthy},
		{"never seen", time.Time{}, 100, 0, StatusError},
		{"stale past crit", now.Add(-121 * time.Second), 100, 0, StatusError},
		{"stale past warn", now.Add(-61 * time.Second), 100, 0, StatusWarning},
		{"heartbeat exactly at warn", now.Add(-60 * time.Second), 100, 0, StatusHealthy},
		{"low ratio", now, 49.9, 0, StatusError},
		{"middling ratio", now, 79, 0, StatusWarning},
		{"ratio at 80", now, 80, 0, StatusHealthy},
		{"some failures", now, 95, 11, StatusWarning},
		{"many failures", now, 95, 51, StatusError},
		{"failures at warn limit", now, 95, 10, StatusHealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rules.BotStatus(tt.heartbeat, tt.ratio, tt.failures, now); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIndicator(t *testing.T) {
	tests := map[string]string{
		"healthy":  "🟢",
		"OK":       "🟢",
		"active":   "🟢",
		"warning":  "🟡",
		"degraded": "🟡",
		"error":    "🔴",
		"Down":     "🔴",
		"inactive": "🔴",
		"":         "⚪",
		"mystery":  "⚪",
	}
	for in, want := range tests {
		if got := Indicator(in); got != want {
			t.Errorf("Indicator(%q) = %s, want %s", in, got, want)
		}
	}
}
