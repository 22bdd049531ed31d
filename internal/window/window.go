// Package window keeps time-bounded sample buffers and derives rolling
// statistics from them.
package window

import (
	"math"
	"sync"
	"time"
)

// Sample is one timestamped observation.
type Sample struct {
	At    time.Time
	Value float64
}

// Window holds the samples observed within the last Span, in insertion order.
//
// After Observe(t, v) the buffer holds exactly the samples with
// at > t-Span. The cutoff only moves forward, so a sample that has been
// evicted never comes back, and an observation older than the cutoff is
// discarded on arrival.
type Window struct {
	mu      sync.Mutex
	span    time.Duration
	samples []Sample
	cutoff  time.Time
	sum     float64
	// ordered is true while samples are in non-decreasing time order.
	ordered bool
}

// New returns an empty window spanning span.
func New(span time.Duration) *Window {
	return &Window{span: span, ordered: true}
}

// Span returns the configured window length.
func (w *Window) Span() time.Duration {
	return w.span
}

// Observe appends a sample taken at t and evicts everything at or before t-Span.
func (w *Window) Observe(t time.Time, v float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n := len(w.samples); n > 0 && t.Before(w.samples[n-1].At) {
		w.ordered = false
	}
	w.samples = append(w.samples, Sample{At: t, Value: v})
	w.sum += v
	w.advance(t)
}

// Expire evicts samples that fell out of the window as of now.
func (w *Window) Expire(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advance(now)
}

func (w *Window) advance(now time.Time) {
	if c := now.Add(-w.span); c.After(w.cutoff) {
		w.cutoff = c
	}
	if w.ordered {
		w.evictPrefix()
		return
	}

	// A late sample broke the order: filter everything and re-check.
	kept := w.samples[:0]
	sum := 0.0
	ordered := true
	for _, s := range w.samples {
		if !s.At.After(w.cutoff) {
			continue
		}
		if n := len(kept); n > 0 && s.At.Before(kept[n-1].At) {
			ordered = false
		}
		kept = append(kept, s)
		sum += s.Value
	}
	// Drop references held in the tail of the backing array.
	for i := len(kept); i < len(w.samples); i++ {
		w.samples[i] = Sample{}
	}
	w.samples = kept
	w.sum = sum
	w.ordered = ordered
}

// evictPrefix drops the leading samples at or before the cutoff. Only valid
// while the samples are ordered.
func (w *Window) evictPrefix() {
	i := 0
	for i < len(w.samples) && !w.samples[i].At.After(w.cutoff) {
		w.sum -= w.samples[i].Value
		w.samples[i] = Sample{}
		i++
	}
	if i == 0 {
		return
	}
	w.samples = w.samples[i:]
	if len(w.samples) == 0 {
		w.samples = nil
		w.sum = 0
	}
}

// Mean returns the arithmetic mean of the current samples. ok is false when
// the window is empty.
func (w *Window) Mean() (mean float64, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.samples) == 0 {
		return 0, false
	}
	return w.sum / float64(len(w.samples)), true
}

// Sum returns the sum of the current sample values.
func (w *Window) Sum() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sum
}

// Len returns the number of samples held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.samples)
}

// Values returns the current sample values in insertion order.
func (w *Window) Values() []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]float64, len(w.samples))
	for i, s := range w.samples {
		out[i] = s.Value
	}
	return out
}

// Samples returns a copy of the current samples in insertion order.
func (w *Window) Samples() []Sample {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Sample, len(w.samples))
	copy(out, w.samples)
	return out
}

// Last returns the most recently inserted sample still in the window.
func (w *Window) Last() (Sample, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.samples) == 0 {
		return Sample{}, false
	}
	return w.samples[len(w.samples)-1], true
}

// Reset drops all samples. The cutoff is kept.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = nil
	w.sum = 0
	w.ordered = true
}

// SuccessRatio tracks the share of successful outcomes within a window.
type SuccessRatio struct {
	w *Window
}

// NewSuccessRatio returns a ratio tracker over span.
func NewSuccessRatio(span time.Duration) *SuccessRatio {
	return &SuccessRatio{w: New(span)}
}

// Observe records an outcome at t.
func (r *SuccessRatio) Observe(t time.Time, ok bool) {
	v := 0.0
	if ok {
		v = 1
	}
	r.w.Observe(t, v)
}

// Expire evicts outcomes that fell out of the window as of now.
func (r *SuccessRatio) Expire(now time.Time) {
	r.w.Expire(now)
}

// Total returns the number of outcomes in the window.
func (r *SuccessRatio) Total() int {
	return r.w.Len()
}

// Percent returns successes*100/total rounded to two decimals, or 0 when
// the window is empty.
func (r *SuccessRatio) Percent() float64 {
	mean, ok := r.w.Mean()
	if !ok {
		return 0
	}
	return Round2(mean * 100)
}

// Round2 rounds v to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
