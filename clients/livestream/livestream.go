// Package livestream drives a latency gauge from the /charts/mini HTML
// stream, falling back to generated values when the stream is unreachable.
package livestream

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"botwatch/internal/health"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

var sizePattern = regexp.MustCompile(`(?i)--size:\s*([0-9.]+)`)

// ParseSize extracts the --size value of a streamed line.
func ParseSize(line string) (float64, bool) {
	m := sizePattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// SizeToMs clamps size to [0, 1] and scales it to maxMs.
func SizeToMs(size, maxMs float64) float64 {
	size = math.Max(0, math.Min(1, size))
	return math.Round(size * maxMs)
}

// Source says where a reading came from.
type Source string

const (
	SourceStream Source = "stream"
	SourceMock   Source = "mock"
)

// Reader feeds a health.Gauge.
type Reader struct {
	logger *zap.Logger
	url    string
	client *http.Client
	gauge  *health.Gauge
	rng    *rand.Rand

	// MockOnly skips the stream entirely.
	MockOnly bool
	// MockFor is how long to run the mock after a stream failure before retrying.
	MockFor time.Duration

	// OnReading is called for every value applied to the gauge.
	OnReading func(health.Reading, Source)
}

func NewReader(logger *zap.Logger, url string, gauge *health.Gauge) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{
		logger:  logger,
		url:     url,
		client:  &http.Client{},
		gauge:   gauge,
		rng:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
		MockFor: 30 * time.Second,
	}
}

// WithRand replaces the mock's random source.
func (r *Reader) WithRand(rng *rand.Rand) *Reader {
	r.rng = rng
	return r
}

func (r *Reader) apply(ms float64, src Source) {
	reading := r.gauge.SetValue(ms)
	if r.OnReading != nil {
		r.OnReading(reading, src)
	}
}

// Run streams until ctx is done. Stream failures switch to the mock for
// MockFor, then the stream is retried with growing delays.
func (r *Reader) Run(ctx context.Context) error {
	if r.MockOnly {
		return r.mock(ctx, 0)
	}

	b := &backoff.Backoff{Min: time.Second, Max: time.Minute, Factor: 2, Jitter: true}
	for {
		err := r.Stream(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			// Server ended the stream cleanly; reconnect.
			b.Reset()
			continue
		}

		mockFor := r.MockFor + b.Duration()
		r.logger.Warn("live stream unavailable, using mock values",
			zap.String("url", r.url),
			zap.Error(err),
			zap.Duration("retry_in", mockFor),
		)
		if err := r.mock(ctx, mockFor); err != nil {
			return err
		}
	}
}

// Stream reads the endpoint until it ends or ctx is done.
func (r *Reader) Stream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", r.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: HTTP %d", r.url, resp.StatusCode)
	}

	maxMs := r.gauge.Max()
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		size, ok := ParseSize(sc.Text())
		if !ok {
			continue
		}
		r.apply(SizeToMs(size, maxMs), SourceStream)
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// MockValue returns a latency in [80, 500] ms.
func (r *Reader) MockValue() float64 {
	return math.Round(80 + r.rng.Float64()*420)
}

func (r *Reader) mockDelay() time.Duration {
	return 500*time.Millisecond + time.Duration(r.rng.Float64()*float64(1200*time.Millisecond))
}

// mock applies generated values until ctx is done or d elapses (d <= 0 runs forever).
func (r *Reader) mock(ctx context.Context, d time.Duration) error {
	var deadline <-chan time.Time
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		deadline = t.C
	}

	for {
		r.apply(r.MockValue(), SourceMock)

		tick := time.NewTimer(r.mockDelay())
		select {
		case <-ctx.Done():
			tick.Stop()
			return ctx.Err()
		case <-deadline:
			tick.Stop()
			return nil
		case <-tick.C:
		}
	}
}
