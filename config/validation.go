package config

import (
	"fmt"
	"time"
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult holds the result of config validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Validate checks the config for invalid values.
func (c *Config) Validate() ValidationResult {
	var errors []ValidationError

	errors = append(errors, validateServer(&c.Server)...)
	errors = append(errors, validateData(&c.Data)...)
	errors = append(errors, validateHealth(&c.Health)...)
	errors = append(errors, validateAlerts(&c.Alerts)...)
	errors = append(errors, validateStream(&c.Stream)...)
	errors = append(errors, validateRateLimit(&c.RateLimit)...)

	return ValidationResult{
		Valid:  len(errors) == 0,
		Errors: errors,
	}
}

func validateServer(s *ServerConfig) []ValidationError {
	var errors []ValidationError

	if s.Port < 1 || s.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("must be between 1 and 65535, got %d", s.Port),
		})
	}

	if s.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "server.host",
			Message: "must not be empty",
		})
	}

	return errors
}

func validateData(d *DataConfig) []ValidationError {
	var errors []ValidationError

	if d.MaxEvents < 1 {
		errors = append(errors, ValidationError{
			Field:   "data.max_events",
			Message: "must be at least 1",
		})
	}

	if d.TailPoll < 10*time.Millisecond {
		errors = append(errors, ValidationError{
			Field:   "data.tail_poll",
			Message: "must be at least 10 milliseconds",
		})
	}

	if d.MockMinInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "data.mock_min_interval",
			Message: "must be positive",
		})
	}

	if d.MockMaxInterval < d.MockMinInterval {
		errors = append(errors, ValidationError{
			Field:   "data.mock_max_interval",
			Message: "must not be less than mock_min_interval",
		})
	}

	return errors
}

func validateHealth(h *HealthConfig) []ValidationError {
	var errors []ValidationError

	if h.LatencyThresholdMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "health.latency_threshold_ms",
			Message: "must be positive",
		})
	}

	if h.MaxLatencyMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "health.max_latency_ms",
			Message: "must be positive",
		})
	}

	if h.Window < 100*time.Millisecond {
		errors = append(errors, ValidationError{
			Field:   "health.window",
			Message: "must be at least 100 milliseconds",
		})
	}

	if h.HeartbeatWarn <= 0 {
		errors = append(errors, ValidationError{
			Field:   "health.heartbeat_warn",
			Message: "must be positive",
		})
	}

	if h.HeartbeatCrit < h.HeartbeatWarn {
		errors = append(errors, ValidationError{
			Field:   "health.heartbeat_crit",
			Message: "must not be less than heartbeat_warn",
		})
	}

	return errors
}

func validateAlerts(a *AlertsConfig) []ValidationError {
	var errors []ValidationError

	if a.DefaultThresholdMs < 1 {
		errors = append(errors, ValidationError{
			Field:   "alerts.default_threshold_ms",
			Message: "must be at least 1",
		})
	}

	if a.Cooldown < 0 {
		errors = append(errors, ValidationError{
			Field:   "alerts.cooldown",
			Message: "must be non-negative",
		})
	}

	return errors
}

func validateStream(s *StreamConfig) []ValidationError {
	var errors []ValidationError

	if s.QueueSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "stream.queue_size",
			Message: "must be at least 1",
		})
	}

	if s.KeepAlive < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "stream.keep_alive",
			Message: "must be at least 1 second",
		})
	}

	if s.MiniChartInterval < 100*time.Millisecond {
		errors = append(errors, ValidationError{
			Field:   "stream.mini_chart_interval",
			Message: "must be at least 100 milliseconds",
		})
	}

	if s.StatsPushInterval < 100*time.Millisecond {
		errors = append(errors, ValidationError{
			Field:   "stream.stats_push_interval",
			Message: "must be at least 100 milliseconds",
		})
	}

	return errors
}

func validateRateLimit(r *RateLimitConfig) []ValidationError {
	var errors []ValidationError

	if r.Enabled && r.PerMinute < 1 {
		errors = append(errors, ValidationError{
			Field:   "rate_limit.per_minute",
			Message: "must be at least 1 when enabled",
		})
	}

	return errors
}
