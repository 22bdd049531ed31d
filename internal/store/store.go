// Package store keeps the most recent bot metric events in memory and
// derives KPIs, chart series and per-bot status from them.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"botwatch/internal/health"
	"botwatch/internal/window"
)

// Event is a single metrics observation reported by a bot.
type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	BotName     string    `json:"bot_name"`
	LatencyMs   int       `json:"latency_ms"`
	SuccessRate float64   `json:"success_rate"`
	TxHash      string    `json:"tx_hash"`
	Error       string    `json:"error,omitempty"`
	Status      string    `json:"status,omitempty"`
	Profit      *float64  `json:"profit,omitempty"`
}

// Event status values.
const (
	StatusOK       = "ok"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// Succeeded reports whether the event carries no error and an ok (or empty) status.
func (e Event) Succeeded() bool {
	return e.Error == "" && (e.Status == "" || e.Status == StatusOK)
}

// Slug returns the bot id derived from a display name: lowercased with
// spaces replaced by dashes.
func Slug(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "-")
}

const (
	successWindow = 60 * time.Second
	kpiWindow     = 60 * time.Second
)

// Store is a bounded, concurrency-safe ring of events. When full, the
// oldest event is dropped.
type Store struct {
	mu      sync.RWMutex
	buf     []Event
	start   int
	n       int
	added   uint64
	success *window.SuccessRatio
	rules   health.StatusRules
	now     func() time.Time
}

// New returns a store holding at most maxEvents events.
func New(maxEvents int) *Store {
	if maxEvents < 1 {
		maxEvents = 1000
	}
	return &Store{
		buf:     make([]Event, maxEvents),
		success: window.NewSuccessRatio(successWindow),
		rules:   health.DefaultStatusRules(),
		now:     time.Now,
	}
}

// WithClock replaces the arrival clock used for the rolling success rate.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// SetStatusRules replaces the limits used by BotStatuses.
func (s *Store) SetStatusRules(r health.StatusRules) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = r
}

// Cap returns the maximum number of events kept.
func (s *Store) Cap() int {
	return len(s.buf)
}

// Add appends e, filling in SuccessRate as the share of successful events
// that arrived over the trailing minute, and returns the stored event. The
// window is keyed on arrival, not on the reported timestamp.
func (s *Store) Add(e Event) Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.success.Observe(s.now(), e.Error == "")
	e.SuccessRate = s.success.Percent()

	idx := (s.start + s.n) % len(s.buf)
	s.buf[idx] = e
	s.added++
	if s.n < len(s.buf) {
		s.n++
	} else {
		s.start = (s.start + 1) % len(s.buf)
	}
	return e
}

// Len returns the number of events held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.n
}

// Events returns all events, oldest first.
func (s *Store) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tail(s.n)
}

// tail returns the newest n events, oldest first. Caller holds the lock.
func (s *Store) tail(n int) []Event {
	if n > s.n {
		n = s.n
	}
	if n < 0 {
		n = 0
	}
	out := make([]Event, n)
	first := s.n - n
	for i := 0; i < n; i++ {
		out[i] = s.buf[(s.start+first+i)%len(s.buf)]
	}
	return out
}

// Since returns the events added after cursor, oldest first, and the cursor
// to pass next time. Events that were already evicted are skipped. A zero
// cursor returns everything held.
func (s *Store) Since(cursor uint64) ([]Event, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cursor >= s.added {
		return nil, s.added
	}
	pending := s.added - cursor
	if pending > uint64(s.n) {
		pending = uint64(s.n)
	}
	return s.tail(int(pending)), s.added
}

// LastEvents returns the newest n events, newest first.
func (s *Store) LastEvents(n int) []Event {
	s.mu.RLock()
	events := s.tail(n)
	s.mu.RUnlock()

	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events
}

// Latest returns the most recently added event.
func (s *Store) Latest() (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.n == 0 {
		return Event{}, false
	}
	return s.buf[(s.start+s.n-1)%len(s.buf)], true
}

// KPIs are the headline aggregates shown on the dashboard.
type KPIs struct {
	AvgLatencyMs   int     `json:"avg_latency_ms"`
	SuccessRatePct float64 `json:"success_rate_pct"`
	Throughput1m   int     `json:"throughput_1m"`
	AvgProfit      float64 `json:"avg_profit"`
}

// KPIs computes the average latency over all events, the success rate and
// throughput over the minute before now, and the average reported profit.
func (s *Store) KPIs(now time.Time) KPIs {
	events := s.Events()
	if len(events) == 0 {
		return KPIs{}
	}

	var (
		latencySum  int
		profitSum   float64
		profitCount int
		recent      int
		recentOK    int
	)
	cutoff := now.Add(-kpiWindow)
	for _, e := range events {
		latencySum += e.LatencyMs
		if e.Profit != nil {
			profitSum += *e.Profit
			profitCount++
		}
		if !e.Timestamp.Before(cutoff) {
			recent++
			if e.Error == "" {
				recentOK++
			}
		}
	}

	k := KPIs{
		AvgLatencyMs: latencySum / len(events),
		Throughput1m: recent,
	}
	if recent > 0 {
		k.SuccessRatePct = window.Round2(float64(recentOK) * 100 / float64(recent))
	}
	if profitCount > 0 {
		k.AvgProfit = window.Round2(profitSum / float64(profitCount))
	}
	return k
}

// Series is a labelled sequence of values.
type Series struct {
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

// LatencySeries returns the latency of the newest n events, oldest first,
// labelled HH:MM:SS.
func (s *Store) LatencySeries(n int) Series {
	s.mu.RLock()
	events := s.tail(n)
	s.mu.RUnlock()

	out := Series{Labels: make([]string, 0, len(events)), Values: make([]float64, 0, len(events))}
	for _, e := range events {
		out.Labels = append(out.Labels, e.Timestamp.Format(time.TimeOnly))
		out.Values = append(out.Values, float64(e.LatencyMs))
	}
	return out
}

// ThroughputSeries returns event counts per minute for the last minutes
// minutes up to and including the minute containing now, oldest first,
// labelled HH:MM.
func (s *Store) ThroughputSeries(now time.Time, minutes int) Series {
	if minutes < 1 {
		minutes = 1
	}
	end := now.Truncate(time.Minute).Add(time.Minute)
	begin := end.Add(-time.Duration(minutes) * time.Minute)

	counts := make([]float64, minutes)
	for _, e := range s.Events() {
		if e.Timestamp.Before(begin) || !e.Timestamp.Before(end) {
			continue
		}
		counts[int(e.Timestamp.Sub(begin)/time.Minute)]++
	}

	out := Series{Labels: make([]string, minutes), Values: counts}
	for i := range out.Labels {
		out.Labels[i] = begin.Add(time.Duration(i) * time.Minute).Format("15:04")
	}
	return out
}

// ProfitSeries returns the profit of the newest n events that reported one,
// oldest first, labelled HH:MM:SS.
func (s *Store) ProfitSeries(n int) Series {
	events := s.Events()
	var picked []Event
	for i := len(events) - 1; i >= 0 && len(picked) < n; i-- {
		if events[i].Profit != nil {
			picked = append(picked, events[i])
		}
	}

	out := Series{Labels: make([]string, 0, len(picked)), Values: make([]float64, 0, len(picked))}
	for i := len(picked) - 1; i >= 0; i-- {
		out.Labels = append(out.Labels, picked[i].Timestamp.Format(time.TimeOnly))
		out.Values = append(out.Values, *picked[i].Profit)
	}
	return out
}

// Heatmap is a bots x time-bucket grid of mean latency.
type Heatmap struct {
	Bots   []string    `json:"bots"`
	Labels []string    `json:"labels"`
	Cells  [][]float64 `json:"cells"` // Cells[bot][bucket], 0 when no events
}

// Heatmap buckets the events of the last buckets*span before now by bot.
func (s *Store) Heatmap(now time.Time, buckets int, span time.Duration) Heatmap {
	if buckets < 1 {
		buckets = 1
	}
	begin := now.Add(-time.Duration(buckets) * span)

	type acc struct {
		sum   []float64
		count []int
	}
	byBot := make(map[string]*acc)
	for _, e := range s.Events() {
		if !e.Timestamp.After(begin) || e.Timestamp.After(now) {
			continue
		}
		idx := int(e.Timestamp.Sub(begin) / span)
		if idx >= buckets {
			idx = buckets - 1
		}
		a, ok := byBot[e.BotName]
		if !ok {
			a = &acc{sum: make([]float64, buckets), count: make([]int, buckets)}
			byBot[e.BotName] = a
		}
		a.sum[idx] += float64(e.LatencyMs)
		a.count[idx]++
	}

	hm := Heatmap{Labels: make([]string, buckets)}
	for i := range hm.Labels {
		hm.Labels[i] = begin.Add(time.Duration(i) * span).Format("15:04")
	}
	for bot := range byBot {
		hm.Bots = append(hm.Bots, bot)
	}
	sort.Strings(hm.Bots)
	for _, bot := range hm.Bots {
		a := byBot[bot]
		row := make([]float64, buckets)
		for i := range row {
			if a.count[i] > 0 {
				row[i] = window.Round2(a.sum[i] / float64(a.count[i]))
			}
		}
		hm.Cells = append(hm.Cells, row)
	}
	return hm
}

// BotStatus is the per-bot aggregate over the events in the store.
type BotStatus struct {
	BotName       string    `json:"bot_name"`
	Name          string    `json:"name"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	SuccessRatio  float64   `json:"success_ratio"`
	SuccessRate   float64   `json:"success_rate"`
	FailureCount  int       `json:"failure_count"`
	TotalCount    int       `json:"total_count"`
	LatencyMs     float64   `json:"latency_ms"`
	AvgLatency    float64   `json:"avg_latency"`
	LastLatencyMs int       `json:"last_latency_ms"`
	LastBlock     *int64    `json:"last_block"`
	Status        string    `json:"status"`
	Indicator     string    `json:"indicator"`
}

// BotStatuses aggregates events by bot, most recent heartbeat first.
func (s *Store) BotStatuses(now time.Time) []BotStatus {
	s.mu.RLock()
	rules := s.rules
	events := s.tail(s.n)
	s.mu.RUnlock()

	type acc struct {
		last       time.Time
		lastLat    int
		ok, failed int
		latSum     int
	}
	byBot := make(map[string]*acc)
	var order []string
	for _, e := range events {
		a, ok := byBot[e.BotName]
		if !ok {
			a = &acc{}
			byBot[e.BotName] = a
			order = append(order, e.BotName)
		}
		a.last = e.Timestamp
		a.lastLat = e.LatencyMs
		a.latSum += e.LatencyMs
		if e.Succeeded() {
			a.ok++
		} else {
			a.failed++
		}
	}

	out := make([]BotStatus, 0, len(order))
	for _, name := range order {
		a := byBot[name]
		total := a.ok + a.failed
		ratio := window.Round2(float64(a.ok) * 100 / float64(total))
		avg := window.Round2(float64(a.latSum) / float64(total))
		status := rules.BotStatus(a.last, ratio, a.failed, now)
		out = append(out, BotStatus{
			BotName:       name,
			Name:          name,
			LastHeartbeat: a.last,
			SuccessRatio:  ratio,
			SuccessRate:   ratio,
			FailureCount:  a.failed,
			TotalCount:    total,
			LatencyMs:     avg,
			AvgLatency:    avg,
			LastLatencyMs: a.lastLat,
			Status:        status,
			Indicator:     health.Indicator(status),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastHeartbeat.After(out[j].LastHeartbeat)
	})
	return out
}

// Bot returns the aggregate for the bot whose Slug matches id.
func (s *Store) Bot(id string, now time.Time) (BotStatus, bool) {
	for _, b := range s.BotStatuses(now) {
		if Slug(b.BotName) == id {
			return b, true
		}
	}
	return BotStatus{}, false
}

// ChartPoint is an event flattened for chart consumers, with the alias
// fields older dashboards read.
type ChartPoint struct {
	Timestamp    time.Time `json:"timestamp"`
	BotName      string    `json:"bot_name"`
	LatencyMs    int       `json:"latency_ms"`
	Latency      int       `json:"latency"`
	SuccessRate  float64   `json:"success_rate"`
	SuccessRatio float64   `json:"success_ratio"`
	Profit       *float64  `json:"profit"`
	Status       string    `json:"status"`
	Error        *string   `json:"error"`
	TxHash       string    `json:"tx_hash"`
}

// ChartData returns the newest n events, newest first, as chart points.
func (s *Store) ChartData(n int) []ChartPoint {
	events := s.LastEvents(n)
	out := make([]ChartPoint, len(events))
	for i, e := range events {
		p := ChartPoint{
			Timestamp:    e.Timestamp,
			BotName:      e.BotName,
			LatencyMs:    e.LatencyMs,
			Latency:      e.LatencyMs,
			SuccessRate:  e.SuccessRate,
			SuccessRatio: e.SuccessRate,
			Profit:       e.Profit,
			Status:       e.Status,
			TxHash:       e.TxHash,
		}
		if e.Error != "" {
			msg := e.Error
			p.Error = &msg
		}
		out[i] = p
	}
	return out
}

// Live metric names accepted by LiveMetric.
const (
	MetricLatency     = "latency"
	MetricThroughput  = "throughput"
	MetricProfit      = "profit"
	MetricSuccessRate = "success_rate"
)

// LiveSeries is a metric sampled per event with millisecond timestamps.
type LiveSeries struct {
	Timestamps []int64   `json:"timestamps"`
	Values     []float64 `json:"values"`
}

// LiveMetric returns metric for each of the newest n events, newest first.
// Throughput is 1 per event; success_rate is 100 or 0; unknown metrics
// fall back to latency.
func (s *Store) LiveMetric(metric string, n int) LiveSeries {
	events := s.LastEvents(n)
	out := LiveSeries{Timestamps: make([]int64, 0, len(events)), Values: make([]float64, 0, len(events))}
	for _, e := range events {
		out.Timestamps = append(out.Timestamps, e.Timestamp.UnixMilli())
		var v float64
		switch metric {
		case MetricThroughput:
			v = 1
		case MetricProfit:
			if e.Profit != nil {
				v = *e.Profit
			}
		case MetricSuccessRate:
			if e.Error == "" {
				v = 100
			}
		default:
			v = float64(e.LatencyMs)
		}
		out.Values = append(out.Values, v)
	}
	return out
}

// Snapshot bundles everything a live dashboard redraws on each update.
type Snapshot struct {
	GeneratedAt time.Time `json:"generated_at"`
	KPIs        KPIs      `json:"kpis"`
	Latency     Series    `json:"latency_series"`
	Throughput  Series    `json:"throughput_series"`
	Profit      Series    `json:"profit_series"`
	Heatmap     Heatmap   `json:"heatmap"`
	LastEvents  []Event   `json:"last_events"`
}

// Snapshot derives a dashboard snapshot as of now.
func (s *Store) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		GeneratedAt: now,
		KPIs:        s.KPIs(now),
		Latency:     s.LatencySeries(50),
		Throughput:  s.ThroughputSeries(now, 15),
		Profit:      s.ProfitSeries(50),
		Heatmap:     s.Heatmap(now, 12, 5*time.Minute),
		LastEvents:  s.LastEvents(25),
	}
}
