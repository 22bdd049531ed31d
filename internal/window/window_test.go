package window

import (
	"testing"
	"time"
)

var base = time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

func at(ms int) time.Time {
	return base.Add(time.Duration(ms) * time.Millisecond)
}

func TestObserve_KeepsOnlySamplesInsideWindow(t *testing.T) {
	w := New(5 * time.Second)

	w.Observe(at(0), 100)
	w.Observe(at(1000), 200)
	w.Observe(at(4000), 300)
	if got := w.Len(); got != 3 {
		t.Fatalf("expected 3 samples, got %d", got)
	}

	// cutoff = 5500-5000 = 500: drops the sample at 0
	w.Observe(at(5500), 400)
	got := w.Values()
	want := []float64{200, 300, 400}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestObserve_SampleExactlyAtCutoffIsEvicted(t *testing.T) {
	w := New(5 * time.Second)
	w.Observe(at(0), 1)
	w.Observe(at(5000), 2)

	if got := w.Values(); len(got) != 1 || got[0] != 2 {
		t.Errorf("expected only the newest sample, got %v", got)
	}
}

func TestObserve_SampleJustInsideWindowIsKept(t *testing.T) {
	w := New(5 * time.Second)
	w.Observe(at(1), 1)
	w.Observe(at(5000), 2)

	if got := w.Len(); got != 2 {
		t.Errorf("expected 2 samples, got %d", got)
	}
}

func TestObserve_EvictionIsMonotonic(t *testing.T) {
	w := New(5 * time.Second)
	w.Observe(at(0), 10)
	w.Observe(at(10000), 20)

	// A late sample behind the cutoff is never admitted.
	w.Observe(at(2000), 30)
	if got := w.Values(); len(got) != 1 || got[0] != 20 {
		t.Errorf("expected [20], got %v", got)
	}

	// Moving "now" backwards does not widen the window again.
	w.Expire(at(6000))
	w.Observe(at(7000), 40)
	if got := w.Values(); len(got) != 2 || got[0] != 20 || got[1] != 40 {
		t.Errorf("expected [20 40], got %v", got)
	}
}

func TestObserve_OutOfOrderSampleInsideWindow(t *testing.T) {
	w := New(5 * time.Second)
	w.Observe(at(1000), 1)
	w.Observe(at(3000), 3)
	w.Observe(at(2000), 2)
	if got := w.Values(); len(got) != 3 || got[2] != 2 {
		t.Fatalf("expected the late sample kept in insertion order, got %v", got)
	}

	// cutoff 1500 drops the head
	w.Observe(at(6500), 4)
	// cutoff 2500 drops the late sample from the middle
	w.Observe(at(7500), 5)
	got := w.Values()
	want := []float64{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: expected %v, got %v", i, want[i], got[i])
		}
	}
	if mean, _ := w.Mean(); mean != 4 {
		t.Errorf("expected mean 4, got %v", mean)
	}
}

func TestObserve_ManySamplesWithinSpan(t *testing.T) {
	w := New(time.Minute)
	start := time.Now()
	for i := 0; i < 100000; i++ {
		w.Observe(at(i/100), 1)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("100000 observations took %v", elapsed)
	}
	if w.Len() != 100000 || w.Sum() != 100000 {
		t.Errorf("len=%d sum=%v", w.Len(), w.Sum())
	}
}

func TestMean(t *testing.T) {
	w := New(5 * time.Second)

	if _, ok := w.Mean(); ok {
		t.Error("empty window should report no data")
	}

	w.Observe(at(0), 100)
	w.Observe(at(100), 200)
	w.Observe(at(200), 600)

	mean, ok := w.Mean()
	if !ok || mean != 300 {
		t.Errorf("expected mean 300, got %v (ok=%v)", mean, ok)
	}
	if w.Sum() != 900 {
		t.Errorf("expected sum 900, got %v", w.Sum())
	}

	w.Observe(at(5050), 50)
	mean, _ = w.Mean()
	if mean != (200+600+50)/3.0 {
		t.Errorf("mean should follow eviction, got %v", mean)
	}
}

func TestExpire_EmptiesWindow(t *testing.T) {
	w := New(time.Second)
	w.Observe(at(0), 5)
	w.Expire(at(3000))

	if w.Len() != 0 {
		t.Errorf("expected empty window, got %d samples", w.Len())
	}
	if _, ok := w.Mean(); ok {
		t.Error("expected no data after expiry")
	}
	if _, ok := w.Last(); ok {
		t.Error("expected no last sample")
	}
}

func TestSamples_ReturnsCopy(t *testing.T) {
	w := New(time.Minute)
	w.Observe(at(0), 1)
	s := w.Samples()
	s[0].Value = 99

	last, ok := w.Last()
	if !ok || last.Value != 1 {
		t.Errorf("mutating the copy changed the window: %+v", last)
	}
}

func TestReset(t *testing.T) {
	w := New(time.Minute)
	w.Observe(at(0), 1)
	w.Observe(at(10), 2)
	w.Reset()

	if w.Len() != 0 || w.Sum() != 0 {
		t.Errorf("expected empty window after reset")
	}
}

func TestSuccessRatio(t *testing.T) {
	r := NewSuccessRatio(60 * time.Second)
	if r.Percent() != 0 {
		t.Errorf("expected 0 for empty ratio, got %v", r.Percent())
	}

	r.Observe(at(0), true)
	r.Observe(at(1000), true)
	r.Observe(at(2000), false)

	if got := r.Percent(); got != 66.67 {
		t.Errorf("expected 66.67, got %v", got)
	}
	if r.Total() != 3 {
		t.Errorf("expected 3 outcomes, got %d", r.Total())
	}

	r.Expire(at(61500))
	if r.Total() != 1 || r.Percent() != 0 {
		t.Errorf("expected only the failure left, got total=%d pct=%v", r.Total(), r.Percent())
	}
}

func TestRound2(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{1.234, 1.23},
		{1.236, 1.24},
		{-0.004, 0},
		{100, 100},
	}
	for _, tt := range tests {
		if got := Round2(tt.in); got != tt.want {
			t.Errorf("Round2(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
