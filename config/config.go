package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Environment
	IsProd bool `json:"is_prod"`

	// HTTP server
	Server ServerConfig `json:"server"`

	// Discord
	Discord DiscordConfig `json:"discord"`

	// Telegram
	Telegram TelegramConfig `json:"telegram"`

	// Event intake and in-memory store
	Data DataConfig `json:"data"`

	// Latency health thresholds
	Health HealthConfig `json:"health"`

	// Latency alert rules
	Alerts AlertsConfig `json:"alerts"`

	// Streaming endpoints
	Stream StreamConfig `json:"stream"`

	// Per-IP request limiting
	RateLimit RateLimitConfig `json:"rate_limit"`

	// Logging - excluded from settings (env var only)
	Log LogConfig `json:"-"`

	// SQLite - excluded from settings (env var only)
	Database DatabaseConfig `json:"-"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	AppName      string   `json:"app_name"`
	AppVersion   string   `json:"app_version"`
	Debug        bool     `json:"debug"`
	CORSOrigins  []string `json:"cors_origins"`
	CORSAllowAll bool     `json:"cors_allow_all"` // Honoured only when Debug is set
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// DiscordConfig holds Discord-related configuration.
type DiscordConfig struct {
	BotToken      string `json:"-"` // Excluded - env var only
	ProdChannelID string `json:"prod_channel_id"`
	BetaChannelID string `json:"beta_channel_id"`
}

// TelegramConfig holds Telegram-related configuration.
type TelegramConfig struct {
	BotToken   string `json:"-"` // Excluded - env var only
	ProdChatID string `json:"prod_chat_id"`
	BetaChatID string `json:"beta_chat_id"`
}

// DataConfig controls where metric events come from and how many are kept.
type DataConfig struct {
	MaxEvents       int           `json:"max_events"`
	LogPath         string        `json:"log_path"`     // JSONL file to tail; empty = mock publisher
	ForceSample     bool          `json:"force_sample"` // Use the mock publisher even when LogPath is set
	CleanUI         bool          `json:"clean_ui"`     // No publishers at all
	TailPoll        time.Duration `json:"tail_poll"`
	MockMinInterval time.Duration `json:"mock_min_interval"`
	MockMaxInterval time.Duration `json:"mock_max_interval"`
}

// HealthConfig holds the thresholds used to derive health tiers.
type HealthConfig struct {
	LatencyThresholdMs float64       `json:"latency_threshold_ms"`
	MaxLatencyMs       float64       `json:"max_latency_ms"` // Gauge scale
	Window             time.Duration `json:"window"`         // Rolling average window
	HeartbeatWarn      time.Duration `json:"heartbeat_warn"`
	HeartbeatCrit      time.Duration `json:"heartbeat_crit"`
}

// AlertsConfig holds latency alert configuration.
type AlertsConfig struct {
	Enabled            bool          `json:"enabled"`
	DefaultThresholdMs int           `json:"default_threshold_ms"`
	Cooldown           time.Duration `json:"cooldown"`
}

// StreamConfig holds streaming endpoint timings.
type StreamConfig struct {
	QueueSize         int           `json:"queue_size"`
	KeepAlive         time.Duration `json:"keep_alive"`
	MiniChartInterval time.Duration `json:"mini_chart_interval"`
	StatsPushInterval time.Duration `json:"stats_push_interval"`
}

// RateLimitConfig holds per-IP rate limiting configuration.
type RateLimitConfig struct {
	Enabled   bool `json:"enabled"`
	PerMinute int  `json:"per_minute"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level string
	File  string
}

// DatabaseConfig holds SQLite configuration.
type DatabaseConfig struct {
	Path string
}

// Clone creates a deep copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Server.CORSOrigins != nil {
		clone.Server.CORSOrigins = make([]string, len(c.Server.CORSOrigins))
		copy(clone.Server.CORSOrigins, c.Server.CORSOrigins)
	}
	return &clone
}

// ToJSON serializes the config to JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ConfigFromJSON deserializes JSON into a config, merging with base.
func ConfigFromJSON(data []byte, base *Config) (*Config, error) {
	if base == nil {
		base = Defaults()
	}
	cfg := base.Clone()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns a config with hardcoded default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8000,
			AppName:     "Ethereum Bot Monitoring Dashboard",
			AppVersion:  "0.1.0",
			CORSOrigins: []string{"http://localhost:8000", "http://127.0.0.1:8000"},
		},
		Data: DataConfig{
			MaxEvents:       1000,
			TailPoll:        500 * time.Millisecond,
			MockMinInterval: 3 * time.Second,
			MockMaxInterval: 12 * time.Second,
		},
		Health: HealthConfig{
			LatencyThresholdMs: 350,
			MaxLatencyMs:       500,
			Window:             5 * time.Second,
			HeartbeatWarn:      60 * time.Second,
			HeartbeatCrit:      120 * time.Second,
		},
		Alerts: AlertsConfig{
			Enabled:            true,
			DefaultThresholdMs: 300,
			Cooldown:           5 * time.Minute,
		},
		Stream: StreamConfig{
			QueueSize:         100,
			KeepAlive:         15 * time.Second,
			MiniChartInterval: 1 * time.Second,
			StatsPushInterval: 1 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:   true,
			PerMinute: 120,
		},
		Log: LogConfig{
			Level: "info",
		},
		Database: DatabaseConfig{
			Path: "rentals.db",
		},
	}
}

// Load loads configuration from a .env file (if present) and environment
// variables, with defaults.
func Load() *Config {
	// Missing .env is fine; the environment still applies.
	_ = godotenv.Load()

	d := Defaults()
	return &Config{
		IsProd: envBool("STAGE", "PROD"),

		Server: ServerConfig{
			Host:         envString("HOST", d.Server.Host),
			Port:         envInt("PORT", d.Server.Port),
			AppName:      envString("APP_NAME", d.Server.AppName),
			AppVersion:   envString("APP_VERSION", d.Server.AppVersion),
			Debug:        envBoolDefault("DEBUG", false),
			CORSOrigins:  envStringSliceDefault("CORS_ORIGINS", d.Server.CORSOrigins),
			CORSAllowAll: envBoolDefault("CORS_ALLOW_ALL", false),
		},

		Discord: DiscordConfig{
			BotToken:      envString("DISCORD_BOT_TOKEN", ""),
			ProdChannelID: envString("DISCORD_PROD_CHANNEL_ID", ""),
			BetaChannelID: envString("DISCORD_BETA_CHANNEL_ID", ""),
		},

		Telegram: TelegramConfig{
			BotToken:   envString("TELEGRAM_BOT_KEY", ""),
			ProdChatID: envString("TELEGRAM_PROD_CHAT_ID", ""),
			BetaChatID: envString("TELEGRAM_BETA_CHAT_ID", ""),
		},

		Data: DataConfig{
			MaxEvents:       envInt("MAX_EVENTS", d.Data.MaxEvents),
			LogPath:         envString("SILVERBACK_LOG_PATH", ""),
			ForceSample:     envBoolDefault("FORCE_SAMPLE", false),
			CleanUI:         envBoolDefault("CLEAN_UI", false),
			TailPoll:        envDuration("TAIL_POLL_INTERVAL", d.Data.TailPoll),
			MockMinInterval: envDuration("MOCK_MIN_INTERVAL", d.Data.MockMinInterval),
			MockMaxInterval: envDuration("MOCK_MAX_INTERVAL", d.Data.MockMaxInterval),
		},

		Health: HealthConfig{
			LatencyThresholdMs: envFloat("LATENCY_THRESHOLD_MS", d.Health.LatencyThresholdMs),
			MaxLatencyMs:       envFloat("MAX_LATENCY_MS", d.Health.MaxLatencyMs),
			Window:             envDuration("LATENCY_WINDOW", d.Health.Window),
			HeartbeatWarn:      envDuration("HEARTBEAT_WARN_AFTER", d.Health.HeartbeatWarn),
			HeartbeatCrit:      envDuration("HEARTBEAT_CRIT_AFTER", d.Health.HeartbeatCrit),
		},

		Alerts: AlertsConfig{
			Enabled:            envBoolDefault("ALERTS_ENABLED", true),
			DefaultThresholdMs: envInt("ALERT_LATENCY_THRESHOLD_MS", d.Alerts.DefaultThresholdMs),
			Cooldown:           envDuration("ALERT_COOLDOWN", d.Alerts.Cooldown),
		},

		Stream: StreamConfig{
			QueueSize:         envInt("SSE_QUEUE_SIZE", d.Stream.QueueSize),
			KeepAlive:         envDuration("SSE_KEEPALIVE", d.Stream.KeepAlive),
			MiniChartInterval: envDuration("MINI_CHART_INTERVAL", d.Stream.MiniChartInterval),
			StatsPushInterval: envDuration("STATS_PUSH_INTERVAL", d.Stream.StatsPushInterval),
		},

		RateLimit: RateLimitConfig{
			Enabled:   envBoolDefault("RATE_LIMIT_ENABLED", true),
			PerMinute: envInt("RATE_LIMIT_PER_MINUTE", d.RateLimit.PerMinute),
		},

		Log: LogConfig{
			Level: strings.ToLower(envString("LOG_LEVEL", d.Log.Level)),
			File:  envString("LOG_FILE", ""),
		},

		Database: DatabaseConfig{
			Path: envString("DATABASE_PATH", d.Database.Path),
		},
	}
}

// Helper functions for parsing environment variables

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envBool(key, trueValue string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), trueValue)
}

func envBoolDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1") || strings.EqualFold(v, "yes")
}

func envStringSliceDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
