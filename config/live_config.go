package config

import (
	"sync"
	"time"
)

// ConfigObserver is an interface for components that need to be notified of config changes.
type ConfigObserver interface {
	OnConfigUpdate(cfg *Config)
}

// ObserverFunc adapts a plain function to ConfigObserver.
type ObserverFunc func(cfg *Config)

// OnConfigUpdate calls f(cfg).
func (f ObserverFunc) OnConfigUpdate(cfg *Config) { f(cfg) }

// LiveConfig is a thread-safe wrapper around Config that supports hot-reload.
type LiveConfig struct {
	mu          sync.RWMutex
	config      *Config
	revision    int
	lastUpdated time.Time

	obsMu     sync.RWMutex
	observers []ConfigObserver
}

// NewLiveConfig creates a new LiveConfig with the given initial config.
func NewLiveConfig(initial *Config) *LiveConfig {
	if initial == nil {
		initial = Defaults()
	}
	return &LiveConfig{
		config:      initial.Clone(),
		lastUpdated: time.Now(),
	}
}

// Get returns a copy of the current config.
func (lc *LiveConfig) Get() *Config {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.config.Clone()
}

// GetDirect returns the current config without cloning.
// Callers must not modify the result.
func (lc *LiveConfig) GetDirect() *Config {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.config
}

// Update validates and swaps in newConfig, then notifies observers.
func (lc *LiveConfig) Update(newConfig *Config) error {
	if newConfig == nil {
		return nil
	}

	result := newConfig.Validate()
	if !result.Valid {
		return &ConfigValidationError{Errors: result.Errors}
	}

	cloned := newConfig.Clone()

	lc.mu.Lock()
	lc.config = cloned
	lc.revision++
	lc.lastUpdated = time.Now()
	lc.mu.Unlock()

	// Outside the lock: observers may call Get.
	lc.notifyObservers(cloned)

	return nil
}

// UpdatePartial applies updateFn to a copy of the current config and
// stores the result through Update.
func (lc *LiveConfig) UpdatePartial(updateFn func(*Config)) error {
	next := lc.Get()
	updateFn(next)
	return lc.Update(next)
}

// AddObserver registers an observer to be notified of config changes.
func (lc *LiveConfig) AddObserver(obs ConfigObserver) {
	if obs == nil {
		return
	}
	lc.obsMu.Lock()
	defer lc.obsMu.Unlock()
	lc.observers = append(lc.observers, obs)
}

func (lc *LiveConfig) notifyObservers(cfg *Config) {
	lc.obsMu.RLock()
	observers := make([]ConfigObserver, len(lc.observers))
	copy(observers, lc.observers)
	lc.obsMu.RUnlock()

	for _, obs := range observers {
		obs.OnConfigUpdate(cfg.Clone())
	}
}

// Revision returns how many successful updates have been applied.
func (lc *LiveConfig) Revision() int {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.revision
}

// LastUpdated returns when the config was last updated.
func (lc *LiveConfig) LastUpdated() time.Time {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.lastUpdated
}

// ConfigValidationError is returned when config validation fails.
type ConfigValidationError struct {
	Errors []ValidationError
}

func (e *ConfigValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "config validation failed"
	}
	return "config validation failed: " + e.Errors[0].Field + ": " + e.Errors[0].Message
}
