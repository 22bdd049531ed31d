package ingest

import (
	"context"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"botwatch/internal/store"

	"go.uber.org/zap"
)

// SampleBots are the bot names the mock publisher reports for.
var SampleBots = []string{
	"arb-scout",
	"mev-watch",
	"sandwich-guard",
	"tx-relay",
	"arbit-bot",
	"eth-sniper",
}

const (
	mockCriticalRate = 0.08
	mockWarningRate  = 0.20 // cumulative with critical
)

// MockPublisher emits plausible sample events so the dashboard has data
// without a real bot feed.
type MockPublisher struct {
	logger      *zap.Logger
	sink        Sink
	minInterval time.Duration
	maxInterval time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMockPublisher returns a publisher pausing between minInterval and
// maxInterval between events.
func NewMockPublisher(logger *zap.Logger, sink Sink, minInterval, maxInterval time.Duration) *MockPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxInterval < minInterval {
		maxInterval = minInterval
	}
	return &MockPublisher{
		logger:      logger,
		sink:        sink,
		minInterval: minInterval,
		maxInterval: maxInterval,
		rng:         rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}
}

// WithRand replaces the random source. Used by tests.
func (m *MockPublisher) WithRand(r *rand.Rand) *MockPublisher {
	m.rng = r
	return m
}

// Next generates one sample event stamped at now.
//
// Latency is uniform in [40, 450) ms; 8% of events are critical failures
// and a further 12% are warnings; profit is uniform in [-0.01, 0.05).
func (m *MockPublisher) Next(now time.Time) store.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := store.Event{
		Timestamp: now.UTC(),
		BotName:   SampleBots[m.rng.IntN(len(SampleBots))],
		LatencyMs: int(40 + m.rng.Float64()*410),
		Status:    store.StatusOK,
		TxHash:    ShortenTxHash(m.randomHash()),
	}

	switch roll := m.rng.Float64(); {
	case roll < mockCriticalRate:
		e.Status = store.StatusCritical
		e.Error = "critical: simulated failure"
	case roll < mockWarningRate:
		e.Status = store.StatusWarning
		e.Error = "warning: simulated slowdown"
	}

	p := math.Round((-0.01+m.rng.Float64()*0.06)*10000) / 10000
	e.Profit = &p
	return e
}

func (m *MockPublisher) randomHash() string {
	const hex = "0123456789abcdef"
	var b strings.Builder
	b.Grow(66)
	b.WriteString("0x")
	for i := 0; i < 64; i++ {
		b.WriteByte(hex[m.rng.IntN(16)])
	}
	return b.String()
}

func (m *MockPublisher) interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	spread := m.maxInterval - m.minInterval
	if spread <= 0 {
		return m.minInterval
	}
	return m.minInterval + time.Duration(m.rng.Int64N(int64(spread)))
}

// Run publishes events until ctx is cancelled.
func (m *MockPublisher) Run(ctx context.Context) error {
	m.logger.Info("mock publisher started",
		zap.Duration("min_interval", m.minInterval),
		zap.Duration("max_interval", m.maxInterval),
	)
	for {
		m.sink.Accept(m.Next(time.Now()))
		if !sleepCtx(ctx, m.interval()) {
			return ctx.Err()
		}
	}
}
