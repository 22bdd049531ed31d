package config

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	envVars := []string{
		"STAGE", "HOST", "PORT", "DEBUG", "CORS_ORIGINS", "CORS_ALLOW_ALL",
		"DISCORD_BOT_TOKEN", "TELEGRAM_BOT_KEY",
		"MAX_EVENTS", "SILVERBACK_LOG_PATH", "FORCE_SAMPLE", "CLEAN_UI",
		"RATE_LIMIT_ENABLED", "RATE_LIMIT_PER_MINUTE", "LOG_LEVEL", "DATABASE_PATH",
		"LATENCY_THRESHOLD_MS", "MAX_LATENCY_MS", "LATENCY_WINDOW",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}

	cfg := Load()

	if cfg.IsProd {
		t.Error("expected IsProd to be false by default")
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("unexpected host: %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("unexpected port: %d", cfg.Server.Port)
	}
	if cfg.Server.AppName != "Ethereum Bot Monitoring Dashboard" {
		t.Errorf("unexpected app name: %s", cfg.Server.AppName)
	}
	if len(cfg.Server.CORSOrigins) != 2 {
		t.Errorf("expected 2 default CORS origins, got %v", cfg.Server.CORSOrigins)
	}
	if cfg.Data.MaxEvents != 1000 {
		t.Errorf("unexpected max events: %d", cfg.Data.MaxEvents)
	}
	if cfg.Data.LogPath != "" {
		t.Errorf("expected no log path, got %s", cfg.Data.LogPath)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.PerMinute != 120 {
		t.Errorf("unexpected rate limit: %+v", cfg.RateLimit)
	}
	if cfg.Health.LatencyThresholdMs != 350 || cfg.Health.MaxLatencyMs != 500 {
		t.Errorf("unexpected health thresholds: %+v", cfg.Health)
	}
	if cfg.Health.Window != 5*time.Second {
		t.Errorf("unexpected window: %v", cfg.Health.Window)
	}
	if cfg.Stream.QueueSize != 100 || cfg.Stream.KeepAlive != 15*time.Second {
		t.Errorf("unexpected stream config: %+v", cfg.Stream)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("unexpected log level: %s", cfg.Log.Level)
	}
	if cfg.Database.Path != "rentals.db" {
		t.Errorf("unexpected database path: %s", cfg.Database.Path)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("STAGE", "PROD")
	t.Setenv("HOST", "0.0.0.0")
	t.Setenv("PORT", "9100")
	t.Setenv("DEBUG", "yes")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("MAX_EVENTS", "50")
	t.Setenv("SILVERBACK_LOG_PATH", "/var/log/silverback.jsonl")
	t.Setenv("FORCE_SAMPLE", "1")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "10")
	t.Setenv("LATENCY_WINDOW", "10s")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg := Load()

	if !cfg.IsProd {
		t.Error("expected IsProd")
	}
	if cfg.Server.Addr() != "0.0.0.0:9100" {
		t.Errorf("unexpected addr: %s", cfg.Server.Addr())
	}
	if !cfg.Server.Debug {
		t.Error("expected debug")
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Errorf("unexpected CORS origins: %v", cfg.Server.CORSOrigins)
	}
	if cfg.Data.MaxEvents != 50 {
		t.Errorf("unexpected max events: %d", cfg.Data.MaxEvents)
	}
	if cfg.Data.LogPath != "/var/log/silverback.jsonl" || !cfg.Data.ForceSample {
		t.Errorf("unexpected data config: %+v", cfg.Data)
	}
	if cfg.RateLimit.PerMinute != 10 {
		t.Errorf("unexpected per minute: %d", cfg.RateLimit.PerMinute)
	}
	if cfg.Health.Window != 10*time.Second {
		t.Errorf("unexpected window: %v", cfg.Health.Window)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected lowercased level, got %s", cfg.Log.Level)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	t.Setenv("LATENCY_WINDOW", "soon")
	t.Setenv("LATENCY_THRESHOLD_MS", "high")

	cfg := Load()

	if cfg.Server.Port != 8000 {
		t.Errorf("expected default port, got %d", cfg.Server.Port)
	}
	if cfg.Health.Window != 5*time.Second {
		t.Errorf("expected default window, got %v", cfg.Health.Window)
	}
	if cfg.Health.LatencyThresholdMs != 350 {
		t.Errorf("expected default threshold, got %v", cfg.Health.LatencyThresholdMs)
	}
}

func TestDefaults_AreValid(t *testing.T) {
	result := Defaults().Validate()
	if !result.Valid {
		t.Fatalf("defaults should validate, got %+v", result.Errors)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(*Config)
		field string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"host", func(c *Config) { c.Server.Host = "" }, "server.host"},
		{"max events", func(c *Config) { c.Data.MaxEvents = 0 }, "data.max_events"},
		{"mock interval order", func(c *Config) { c.Data.MockMaxInterval = time.Second }, "data.mock_max_interval"},
		{"threshold", func(c *Config) { c.Health.LatencyThresholdMs = 0 }, "health.latency_threshold_ms"},
		{"heartbeat order", func(c *Config) { c.Health.HeartbeatCrit = time.Second }, "health.heartbeat_crit"},
		{"queue size", func(c *Config) { c.Stream.QueueSize = 0 }, "stream.queue_size"},
		{"rate limit", func(c *Config) { c.RateLimit.PerMinute = 0 }, "rate_limit.per_minute"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mut(cfg)
			result := cfg.Validate()
			if result.Valid {
				t.Fatal("expected invalid config")
			}
			found := false
			for _, e := range result.Errors {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %s, got %+v", tt.field, result.Errors)
			}
		})
	}
}

func TestValidate_RateLimitDisabledIgnoresPerMinute(t *testing.T) {
	cfg := Defaults()
	cfg.RateLimit.Enabled = false
	cfg.RateLimit.PerMinute = 0
	if !cfg.Validate().Valid {
		t.Error("per_minute should not matter when disabled")
	}
}

func TestClone_DeepCopiesOrigins(t *testing.T) {
	cfg := Defaults()
	clone := cfg.Clone()
	clone.Server.CORSOrigins[0] = "changed"

	if cfg.Server.CORSOrigins[0] == "changed" {
		t.Error("clone shares the origins slice")
	}
	if (*Config)(nil).Clone() != nil {
		t.Error("nil clone should be nil")
	}
}

func TestConfigFromJSON_MergesOverBase(t *testing.T) {
	base := Defaults()
	base.Discord.BotToken = "secret"

	cfg, err := ConfigFromJSON([]byte(`{"server":{"port":9000},"rate_limit":{"enabled":false}}`), base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected base host kept, got %s", cfg.Server.Host)
	}
	if cfg.RateLimit.Enabled {
		t.Error("expected rate limit disabled")
	}
	if cfg.Discord.BotToken != "secret" {
		t.Error("expected token preserved from base")
	}

	if _, err := ConfigFromJSON([]byte(`{`), nil); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestToJSON_OmitsSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Discord.BotToken = "discord-secret"
	cfg.Telegram.BotToken = "telegram-secret"

	data, err := cfg.ToJSON()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, s := range []string{"discord-secret", "telegram-secret", "rentals.db"} {
		if strings.Contains(string(data), s) {
			t.Errorf("JSON should not contain %q", s)
		}
	}
}

type recordingObserver struct {
	mu   sync.Mutex
	seen []*Config
}

func (o *recordingObserver) OnConfigUpdate(cfg *Config) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, cfg)
}

func TestLiveConfig_UpdateNotifiesObservers(t *testing.T) {
	lc := NewLiveConfig(nil)
	obs := &recordingObserver{}
	lc.AddObserver(obs)
	lc.AddObserver(nil)

	var fnCalls int
	lc.AddObserver(ObserverFunc(func(*Config) { fnCalls++ }))

	err := lc.UpdatePartial(func(c *Config) { c.Health.LatencyThresholdMs = 200 })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(obs.seen) != 1 || obs.seen[0].Health.LatencyThresholdMs != 200 {
		t.Errorf("observer not notified with new config: %+v", obs.seen)
	}
	if fnCalls != 1 {
		t.Errorf("expected func observer called once, got %d", fnCalls)
	}
	if lc.Revision() != 1 {
		t.Errorf("expected revision 1, got %d", lc.Revision())
	}
	if lc.Get().Health.LatencyThresholdMs != 200 {
		t.Error("config not updated")
	}
}

func TestLiveConfig_RejectsInvalid(t *testing.T) {
	lc := NewLiveConfig(Defaults())

	err := lc.UpdatePartial(func(c *Config) { c.Server.Port = -1 })

	var verr *ConfigValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ConfigValidationError, got %v", err)
	}
	if verr.Errors[0].Field != "server.port" {
		t.Errorf("unexpected field: %s", verr.Errors[0].Field)
	}
	if lc.Get().Server.Port != 8000 {
		t.Error("invalid update should not apply")
	}
	if lc.Revision() != 0 {
		t.Error("revision should not move on rejected update")
	}
}

func TestLiveConfig_GetReturnsCopy(t *testing.T) {
	lc := NewLiveConfig(Defaults())
	cfg := lc.Get()
	cfg.Server.Port = 1

	if lc.Get().Server.Port != 8000 {
		t.Error("mutating Get result changed live config")
	}
}

type memorySettings struct {
	data map[string][]byte
	err  error
}

func (m *memorySettings) GetSetting(_ context.Context, key string) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNoSettings
	}
	return v, nil
}

func (m *memorySettings) PutSetting(_ context.Context, key string, value []byte) error {
	if m.err != nil {
		return m.err
	}
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[key] = value
	return nil
}

func TestSettingsManager_SaveAndLoad(t *testing.T) {
	store := &memorySettings{}
	lc := NewLiveConfig(Defaults())
	sm := NewSettingsManager(nil, store, lc)

	partial := lc.Get()
	partial.Alerts.DefaultThresholdMs = 275
	if err := sm.UpdatePartialAndSave(context.Background(), partial); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.data[SettingsKey]; !ok {
		t.Fatal("expected settings persisted")
	}

	env := Defaults()
	env.Discord.BotToken = "from-env"
	sm2 := NewSettingsManager(nil, store, NewLiveConfig(nil))
	cfg, err := sm2.LoadSettings(context.Background(), env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Alerts.DefaultThresholdMs != 275 {
		t.Errorf("expected stored threshold, got %d", cfg.Alerts.DefaultThresholdMs)
	}
	if cfg.Discord.BotToken != "from-env" {
		t.Error("stored settings should not erase env-only token")
	}
	if info := sm2.GetSettingsInfo(); info.Version != 1 || info.Source != "database" {
		t.Errorf("unexpected info: %+v", info)
	}
}

func TestSettingsManager_LoadWithoutSnapshot(t *testing.T) {
	sm := NewSettingsManager(nil, &memorySettings{}, NewLiveConfig(nil))
	cfg, err := sm.LoadSettings(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("expected defaults, got port %d", cfg.Server.Port)
	}
}

func TestSettingsManager_StoreErrors(t *testing.T) {
	sm := NewSettingsManager(nil, &memorySettings{err: errors.New("disk gone")}, NewLiveConfig(nil))
	if _, err := sm.LoadSettings(context.Background(), nil); err == nil {
		t.Error("expected load error")
	}

	// Update still applies when persistence fails.
	next := Defaults()
	next.Server.Port = 9999
	if err := sm.UpdateAndSave(context.Background(), next); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sm.GetCurrentConfig().Server.Port != 9999 {
		t.Error("expected update applied")
	}
}

func TestSettingsManager_Disabled(t *testing.T) {
	sm := NewSettingsManager(nil, nil, NewLiveConfig(nil))
	if sm.IsEnabled() {
		t.Error("expected disabled without store")
	}
	if err := sm.SaveSettings(context.Background()); err == nil {
		t.Error("expected error saving without store")
	}
	if sm.GetSettingsInfo().Source != "env" {
		t.Error("expected env source")
	}
}
