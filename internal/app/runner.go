package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	clts "botwatch/clients"
	"botwatch/config"
	"botwatch/internal/broker"
	"botwatch/internal/health"
	"botwatch/internal/ingest"
	"botwatch/internal/storage"
	"botwatch/internal/store"

	"go.uber.org/zap"
)

// ensure Runner implements ConfigObserver and ingest.Sink
var (
	_ config.ConfigObserver = (*Runner)(nil)
	_ ingest.Sink           = (*Runner)(nil)
)

// Build info - populated from embedded VCS info at init time
var (
	BuildCommit = "dev"
	BuildTime   = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if setting.Value != "" {
					BuildCommit = setting.Value
				}
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	}
}

// Publisher modes.
const (
	PublisherClean = "clean"
	PublisherTail  = "tail"
	PublisherMock  = "mock"
)

// PublisherMode picks the event source for cfg: nothing in clean mode, the
// JSONL tailer when a log path is set, otherwise the mock publisher.
func PublisherMode(cfg *config.Config) string {
	switch {
	case cfg.Data.CleanUI:
		return PublisherClean
	case cfg.Data.LogPath != "" && !cfg.Data.ForceSample:
		return PublisherTail
	default:
		return PublisherMock
	}
}

type Runner struct {
	clients         *clts.Clients
	liveConfig      *config.LiveConfig
	settingsManager *config.SettingsManager
	db              *storage.Store

	store   *store.Store
	broker  *broker.Broker
	gauge   *health.Gauge
	metrics *Metrics
	alerts  *AlertEvaluator
	limiter *RateLimiter

	tailer    *ingest.Tailer
	publisher string

	server    *http.Server
	startTime time.Time
	now       func() time.Time

	// Serialises ingestion so snapshots follow event order.
	ingestMu sync.Mutex
}

// ServiceStats holds comprehensive service statistics.
type ServiceStats struct {
	// Build info
	Build struct {
		Commit    string `json:"commit"`
		Time      string `json:"time,omitempty"`
		GoVersion string `json:"go_version"`
	} `json:"build"`

	AppName    string `json:"app_name"`
	AppVersion string `json:"app_version"`

	// Service info
	StartTime string `json:"start_time"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_seconds"`

	// Event source: clean, tail or mock
	Publisher string              `json:"publisher"`
	Tailer    *ingest.TailerStats `json:"tailer,omitempty"`

	Store struct {
		Events   int        `json:"events"`
		Capacity int        `json:"capacity"`
		Bots     int        `json:"bots"`
		KPIs     store.KPIs `json:"kpis"`
	} `json:"store"`

	Broker broker.Stats `json:"broker"`

	// Latency gauge as the mini chart shows it
	Gauge struct {
		ThresholdMs float64         `json:"threshold_ms"`
		MaxMs       float64         `json:"max_ms"`
		Last        *health.Reading `json:"last,omitempty"`
	} `json:"gauge"`

	Alerts       AlertStats        `json:"alerts"`
	RecentAlerts []RecentAlertInfo `json:"recent_alerts"`

	// Alert history buckets for sparkline (last hour, 12 buckets = 5 min each)
	AlertSparkline []int `json:"alert_sparkline"`

	// Notification status
	Notifications struct {
		DiscordEnabled   bool   `json:"discord_enabled"`
		DiscordChannelID string `json:"discord_channel_id,omitempty"`
		TelegramEnabled  bool   `json:"telegram_enabled"`
		TelegramChatID   string `json:"telegram_chat_id,omitempty"`
	} `json:"notifications"`

	// Runtime stats
	Runtime struct {
		Goroutines int    `json:"goroutines"`
		HeapAlloc  uint64 `json:"heap_alloc"`  // bytes currently allocated on heap
		HeapSys    uint64 `json:"heap_sys"`    // bytes obtained from system for heap
		HeapInuse  uint64 `json:"heap_inuse"`  // bytes in in-use spans
		StackInuse uint64 `json:"stack_inuse"` // bytes in stack spans
		NumGC      uint32 `json:"num_gc"`      // number of completed GC cycles
		LastGC     string `json:"last_gc"`     // time of last GC
		GoVersion  string `json:"go_version"`
		NumCPU     int    `json:"num_cpu"`
		GOOS       string `json:"goos"`
		GOARCH     string `json:"goarch"`
	} `json:"runtime"`
}

// NewRunner wires the in-memory store, broker, gauge, metrics and alert
// evaluator from the current config. db may be nil, which disables rentals,
// registered bots and alert rules.
func NewRunner(clients *clts.Clients, liveConfig *config.LiveConfig, settingsManager *config.SettingsManager, db *storage.Store) *Runner {
	cfg := liveConfig.Get()
	logger := clients.Logger
	if logger == nil {
		logger = zap.NewNop()
		clients.Logger = logger
	}

	r := &Runner{
		clients:         clients,
		liveConfig:      liveConfig,
		settingsManager: settingsManager,
		db:              db,
		store:           store.New(cfg.Data.MaxEvents),
		broker:          broker.New(logger, cfg.Stream.QueueSize, cfg.Stream.KeepAlive),
		gauge:           health.NewGauge(cfg.Health.MaxLatencyMs, cfg.Health.LatencyThresholdMs, cfg.Health.Window),
		publisher:       PublisherMode(cfg),
		startTime:       time.Now(),
		now:             time.Now,
	}
	r.store.SetStatusRules(statusRules(cfg))
	r.metrics = NewMetrics(r.broker, r.store)
	r.limiter = NewRateLimiter(logger, r.metrics, cfg)

	var rules RuleSource
	if db != nil {
		rules = db
	}
	r.alerts = NewAlertEvaluator(logger, clients.Notifier, rules, r.metrics, cfg)
	return r
}

func statusRules(cfg *config.Config) health.StatusRules {
	sr := health.DefaultStatusRules()
	sr.HeartbeatWarn = cfg.Health.HeartbeatWarn
	sr.HeartbeatCrit = cfg.Health.HeartbeatCrit
	return sr
}

// OnConfigUpdate is called when the config changes.
// Implements config.ConfigObserver interface.
func (r *Runner) OnConfigUpdate(cfg *config.Config) {
	r.clients.Logger.Info("config update received, propagating to components")

	r.gauge.SetThreshold(cfg.Health.LatencyThresholdMs)
	r.store.SetStatusRules(statusRules(cfg))
	r.alerts.UpdateConfig(cfg)
	r.limiter.UpdateConfig(cfg)

	if mode := PublisherMode(cfg); mode != r.publisher {
		r.clients.Logger.Warn("event source change takes effect after restart",
			zap.String("current", r.publisher),
			zap.String("configured", mode),
		)
	}
}

// Accept ingests one event. Implements ingest.Sink.
func (r *Runner) Accept(e store.Event) {
	r.Ingest([]store.Event{e})
}

// Ingest adds events to the store, records metrics, evaluates alerts and
// publishes one dashboard snapshot for the whole batch.
func (r *Runner) Ingest(events []store.Event) {
	if len(events) == 0 {
		return
	}
	r.ingestMu.Lock()
	defer r.ingestMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := r.now()
	stored := make([]store.Event, 0, len(events))
	for _, e := range events {
		e = r.store.Add(e)
		r.metrics.ObserveEvent(e)
		r.gauge.SetValue(float64(e.LatencyMs))
		stored = append(stored, e)
	}

	// Aggregate once per batch; BotStatuses walks the whole ring.
	bots := make(map[string]*store.BotStatus)
	statuses := r.store.BotStatuses(now)
	for i := range statuses {
		bots[store.Slug(statuses[i].BotName)] = &statuses[i]
	}
	for _, e := range stored {
		r.alerts.Evaluate(ctx, e, bots[store.Slug(e.BotName)])
	}
	r.publishSnapshot(now)
}

func (r *Runner) publishSnapshot(now time.Time) {
	payload, err := json.Marshal(r.store.Snapshot(now))
	if err != nil {
		r.clients.Logger.Error("failed to encode snapshot", zap.Error(err))
		return
	}
	r.broker.Publish(string(payload))
}

// startPublisher launches the configured event source.
func (r *Runner) startPublisher(ctx context.Context, cfg *config.Config) {
	logger := r.clients.Logger
	switch r.publisher {
	case PublisherClean:
		logger.Info("clean mode, no event publisher started")
	case PublisherTail:
		r.tailer = ingest.NewTailer(logger, cfg.Data.LogPath, cfg.Data.TailPoll, false, r)
		go func() {
			if err := r.tailer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("log tailer stopped", zap.Error(err))
			}
		}()
	default:
		mock := ingest.NewMockPublisher(logger, r, cfg.Data.MockMinInterval, cfg.Data.MockMaxInterval)
		go func() {
			if err := mock.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("mock publisher stopped", zap.Error(err))
			}
		}()
	}
}

func (r *Runner) Run(ctx context.Context) error {
	r.startTime = time.Now()
	logger := r.clients.Logger
	cfg := r.liveConfig.Get()

	// Register as config observer for hot-reload
	r.liveConfig.AddObserver(r)

	logger.Info("starting botwatch",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("publisher", r.publisher),
		zap.Int("maxEvents", cfg.Data.MaxEvents),
		zap.Float64("latencyThresholdMs", cfg.Health.LatencyThresholdMs),
		zap.Bool("alertsEnabled", cfg.Alerts.Enabled),
	)

	ln, err := net.Listen("tcp", cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Addr(), err)
	}

	r.startPublisher(ctx, cfg)
	if r.db != nil {
		go NewRentalExpirer(logger, r.db, time.Minute).Run(ctx)
	}
	r.startServer(ln)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}
	if err := r.clients.Close(); err != nil {
		logger.Warn("failed to close clients", zap.Error(err))
	}
	return nil
}

func (r *Runner) GetStats() ServiceStats {
	var stats ServiceStats
	now := r.now()
	cfg := r.liveConfig.Get()

	// Build info
	stats.Build.Commit = BuildCommit
	stats.Build.Time = BuildTime
	stats.Build.GoVersion = runtime.Version()

	stats.AppName = cfg.Server.AppName
	stats.AppVersion = cfg.Server.AppVersion

	// Service info
	stats.StartTime = r.startTime.UTC().Format(time.RFC3339)
	uptime := now.Sub(r.startTime)
	stats.Uptime = uptime.Round(time.Second).String()
	stats.UptimeSec = int64(uptime.Seconds())

	stats.Publisher = r.publisher
	if r.tailer != nil {
		ts := r.tailer.Stats()
		stats.Tailer = &ts
	}

	stats.Store.Events = r.store.Len()
	stats.Store.Capacity = r.store.Cap()
	stats.Store.Bots = len(r.store.BotStatuses(now))
	stats.Store.KPIs = r.store.KPIs(now)

	stats.Broker = r.broker.Stats()

	stats.Gauge.ThresholdMs = r.gauge.Threshold()
	stats.Gauge.MaxMs = r.gauge.Max()
	if last, ok := r.gauge.Last(); ok {
		stats.Gauge.Last = &last
	}

	stats.Alerts = r.alerts.Stats()
	stats.RecentAlerts = r.alerts.RecentAlerts()
	stats.AlertSparkline = r.alerts.HistoryBuckets(time.Hour, 12)

	// Notification status
	stats.Notifications.DiscordEnabled = r.clients.Discord != nil && r.clients.Discord.Enabled()
	if stats.Notifications.DiscordEnabled {
		if cfg.IsProd {
			stats.Notifications.DiscordChannelID = cfg.Discord.ProdChannelID
		} else {
			stats.Notifications.DiscordChannelID = cfg.Discord.BetaChannelID
		}
	}
	stats.Notifications.TelegramEnabled = r.clients.Telegram != nil && r.clients.Telegram.Enabled()
	if stats.Notifications.TelegramEnabled {
		if cfg.IsProd {
			stats.Notifications.TelegramChatID = cfg.Telegram.ProdChatID
		} else {
			stats.Notifications.TelegramChatID = cfg.Telegram.BetaChatID
		}
	}

	// Runtime stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats.Runtime.Goroutines = runtime.NumGoroutine()
	stats.Runtime.HeapAlloc = memStats.HeapAlloc
	stats.Runtime.HeapSys = memStats.HeapSys
	stats.Runtime.HeapInuse = memStats.HeapInuse
	stats.Runtime.StackInuse = memStats.StackInuse
	stats.Runtime.NumGC = memStats.NumGC
	if memStats.LastGC > 0 {
		stats.Runtime.LastGC = time.Unix(0, int64(memStats.LastGC)).UTC().Format(time.RFC3339)
	}
	stats.Runtime.GoVersion = runtime.Version()
	stats.Runtime.NumCPU = runtime.NumCPU()
	stats.Runtime.GOOS = runtime.GOOS
	stats.Runtime.GOARCH = runtime.GOARCH

	return stats
}
