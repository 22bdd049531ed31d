package notifier

import (
	"time"
)

// AlertReason indicates why an alert was triggered.
type AlertReason string

const (
	AlertReasonLatency      AlertReason = "latency_threshold" // Latency at or above a rule threshold
	AlertReasonStatusChange AlertReason = "status_change"     // Bot health status degraded
)

// BotAlert contains all the data needed for a bot alert notification.
type BotAlert struct {
	BotName string

	// Rule that fired, empty for status changes
	RuleID    string
	Condition string

	LatencyMs   int
	ThresholdMs int

	// Health status after the event ("healthy", "warning", "error")
	Status         string
	PreviousStatus string
	SuccessRate    float64

	TxHash string
	Error  string

	DashboardURL string

	Reason    AlertReason
	Timestamp time.Time
}

// Notifier is the interface for sending bot alerts to various channels.
type Notifier interface {
	// SendBotAlert sends a bot alert notification.
	SendBotAlert(alert BotAlert)

	// Close cleans up any resources.
	Close() error
}

// MultiNotifier broadcasts alerts to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a new MultiNotifier with the given notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	var active []Notifier
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &MultiNotifier{notifiers: active}
}

// SendBotAlert sends the alert to all registered notifiers.
func (m *MultiNotifier) SendBotAlert(alert BotAlert) {
	for _, n := range m.notifiers {
		n.SendBotAlert(alert)
	}
}

// Close closes all registered notifiers, returning the last error.
func (m *MultiNotifier) Close() error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Count returns the number of active notifiers.
func (m *MultiNotifier) Count() int {
	return len(m.notifiers)
}

// Title returns a short headline for the alert.
func Title(alert BotAlert) string {
	switch alert.Reason {
	case AlertReasonLatency:
		return "🐢 High Latency"
	case AlertReasonStatusChange:
		if alert.Status == "error" {
			return "🔴 Bot Unhealthy"
		}
		if alert.Status == "healthy" {
			return "🟢 Bot Recovered"
		}
		return "🟡 Bot Degraded"
	default:
		return "🚨 Bot Alert"
	}
}
