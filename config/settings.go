package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SettingsKey is the key under which settings snapshots are stored.
const SettingsKey = "botwatch_settings"

// ErrNoSettings is returned by a SettingsStore that holds no snapshot yet.
var ErrNoSettings = errors.New("no stored settings")

// SettingsSnapshot is the persisted form of runtime settings.
type SettingsSnapshot struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Config    *Config   `json:"config"`
}

// SettingsStore persists raw settings documents by key.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) ([]byte, error)
	PutSetting(ctx context.Context, key string, value []byte) error
}

// SettingsManager loads and saves runtime settings and applies them to a LiveConfig.
type SettingsManager struct {
	logger     *zap.Logger
	store      SettingsStore
	liveConfig *LiveConfig

	mu      sync.Mutex
	version int
}

// NewSettingsManager creates a new SettingsManager. A nil store disables persistence.
func NewSettingsManager(logger *zap.Logger, store SettingsStore, liveConfig *LiveConfig) *SettingsManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsManager{
		logger:     logger,
		store:      store,
		liveConfig: liveConfig,
	}
}

// IsEnabled returns true if settings persistence is available.
func (sm *SettingsManager) IsEnabled() bool {
	return sm.store != nil
}

// LoadSettings returns the stored settings layered over envConfig.
// Priority: stored settings > environment variables > defaults.
func (sm *SettingsManager) LoadSettings(ctx context.Context, envConfig *Config) (*Config, error) {
	baseConfig := Defaults()
	if envConfig != nil {
		baseConfig = mergeConfigs(baseConfig, envConfig)
	}

	if !sm.IsEnabled() {
		return baseConfig, nil
	}

	raw, err := sm.store.GetSetting(ctx, SettingsKey)
	if errors.Is(err, ErrNoSettings) {
		sm.logger.Info("no stored settings, using env/defaults")
		return baseConfig, nil
	}
	if err != nil {
		return baseConfig, fmt.Errorf("load settings: %w", err)
	}

	var snapshot SettingsSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return baseConfig, fmt.Errorf("decode settings: %w", err)
	}

	if snapshot.Config != nil {
		baseConfig = mergeConfigs(baseConfig, snapshot.Config)
		sm.mu.Lock()
		sm.version = snapshot.Version
		sm.mu.Unlock()
		sm.logger.Info("loaded stored settings",
			zap.Time("updated_at", snapshot.UpdatedAt),
			zap.Int("version", snapshot.Version),
		)
	}

	return baseConfig, nil
}

// SaveSettings persists the current live config.
func (sm *SettingsManager) SaveSettings(ctx context.Context) error {
	if !sm.IsEnabled() {
		return fmt.Errorf("settings store not configured")
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.version++
	snapshot := SettingsSnapshot{
		Version:   sm.version,
		UpdatedAt: time.Now().UTC(),
		Config:    sm.liveConfig.Get(),
	}

	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := sm.store.PutSetting(ctx, SettingsKey, raw); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	sm.logger.Info("saved settings", zap.Int("version", sm.version))
	return nil
}

// UpdateAndSave applies newConfig and persists it. A persistence failure is
// logged but does not undo the update.
func (sm *SettingsManager) UpdateAndSave(ctx context.Context, newConfig *Config) error {
	if err := sm.liveConfig.Update(newConfig); err != nil {
		return fmt.Errorf("update config: %w", err)
	}

	if sm.IsEnabled() {
		if err := sm.SaveSettings(ctx); err != nil {
			sm.logger.Error("failed to persist settings", zap.Error(err))
		}
	}

	return nil
}

// UpdatePartialAndSave merges partial over the current config and saves it.
func (sm *SettingsManager) UpdatePartialAndSave(ctx context.Context, partial *Config) error {
	merged := mergeConfigs(sm.liveConfig.Get(), partial)
	return sm.UpdateAndSave(ctx, merged)
}

// GetCurrentConfig returns the current config.
func (sm *SettingsManager) GetCurrentConfig() *Config {
	return sm.liveConfig.Get()
}

// GetLiveConfig returns the LiveConfig for observers to register.
func (sm *SettingsManager) GetLiveConfig() *LiveConfig {
	return sm.liveConfig
}

// mergeConfigs layers overlay onto base through a JSON round trip, so only
// the fields carried in JSON are replaced. Env-only fields keep the overlay
// value when set.
func mergeConfigs(base, overlay *Config) *Config {
	if base == nil {
		base = Defaults()
	}
	if overlay == nil {
		return base.Clone()
	}

	result := base.Clone()

	overlayJSON, err := json.Marshal(overlay)
	if err != nil {
		return result
	}
	_ = json.Unmarshal(overlayJSON, result)

	if overlay.Discord.BotToken != "" {
		result.Discord.BotToken = overlay.Discord.BotToken
	}
	if overlay.Telegram.BotToken != "" {
		result.Telegram.BotToken = overlay.Telegram.BotToken
	}
	if overlay.Log.Level != "" {
		result.Log.Level = overlay.Log.Level
	}
	if overlay.Log.File != "" {
		result.Log.File = overlay.Log.File
	}
	if overlay.Database.Path != "" {
		result.Database.Path = overlay.Database.Path
	}

	return result
}

// SettingsInfo provides metadata about the current settings state.
type SettingsInfo struct {
	Source       string    `json:"source"` // "database" or "env"
	LastUpdated  time.Time `json:"last_updated"`
	StoreEnabled bool      `json:"store_enabled"`
	Version      int       `json:"version"`
	Revision     int       `json:"revision"`
	IsValid      bool      `json:"is_valid"`
	Errors       []string  `json:"errors,omitempty"`
}

// GetSettingsInfo returns metadata about the current settings.
func (sm *SettingsManager) GetSettingsInfo() SettingsInfo {
	cfg := sm.liveConfig.Get()
	validation := cfg.Validate()

	sm.mu.Lock()
	version := sm.version
	sm.mu.Unlock()

	info := SettingsInfo{
		Source:       "env",
		LastUpdated:  sm.liveConfig.LastUpdated(),
		StoreEnabled: sm.IsEnabled(),
		Version:      version,
		Revision:     sm.liveConfig.Revision(),
		IsValid:      validation.Valid,
	}
	if sm.IsEnabled() {
		info.Source = "database"
	}

	for _, e := range validation.Errors {
		info.Errors = append(info.Errors, e.Field+": "+e.Message)
	}

	return info
}
