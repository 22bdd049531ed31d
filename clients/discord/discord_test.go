package discord

import (
	"testing"
	"time"

	"botwatch/clients/notifier"
	"botwatch/config"

	"go.uber.org/zap"
)

func TestNewDiscordClient_Channels(t *testing.T) {
	tests := []struct {
		name   string
		isProd bool
		want   string
	}{
		{"prod", true, "prod-channel"},
		{"beta", false, "beta-channel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				IsProd: tt.isProd,
				Discord: config.DiscordConfig{
					ProdChannelID: "prod-channel",
					BetaChannelID: "beta-channel",
				},
			}
			client := NewDiscordClient(nil, cfg)
			if client.channelID != tt.want {
				t.Errorf("expected %s, got: %s", tt.want, client.channelID)
			}
			if client.Enabled() {
				t.Error("expected no session without a token")
			}
		})
	}
}

func TestSendBotAlert_NoSession(t *testing.T) {
	client := &DiscordClient{logger: zap.NewNop()}

	// Should not panic
	client.SendBotAlert(notifier.BotAlert{BotName: "test"})
	client.SendMessage("hello")
	if err := client.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestBuildAlertEmbed_Latency(t *testing.T) {
	client := &DiscordClient{logger: zap.NewNop(), appName: "Dash", isProd: true}

	alert := notifier.BotAlert{
		BotName:     "mev-sandwich",
		RuleID:      "r1",
		Condition:   "latency >= 300ms",
		LatencyMs:   412,
		ThresholdMs: 300,
		SuccessRate: 91.5,
		TxHash:      "0xabc…def",
		Reason:      notifier.AlertReasonLatency,
		Timestamp:   time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
	}

	embed := client.buildAlertEmbed(alert)

	if embed.Title != "🐢 High Latency" {
		t.Errorf("unexpected title: %s", embed.Title)
	}
	if embed.Color != 0xE67E22 {
		t.Errorf("unexpected color: %x", embed.Color)
	}
	if len(embed.Fields) != 5 {
		t.Fatalf("expected 5 fields, got %d", len(embed.Fields))
	}
	if embed.Fields[1].Value != "412 ms" {
		t.Errorf("latency field = %q", embed.Fields[1].Value)
	}
	if embed.Fields[3].Value != "`latency >= 300ms`" {
		t.Errorf("rule field = %q", embed.Fields[3].Value)
	}
	if embed.Footer.Text != "Dash" {
		t.Errorf("footer = %q", embed.Footer.Text)
	}
	if embed.Timestamp != "2026-01-15T10:30:00Z" {
		t.Errorf("timestamp = %q", embed.Timestamp)
	}
}

func TestBuildAlertEmbed_StatusChange(t *testing.T) {
	client := &DiscordClient{logger: zap.NewNop()}

	embed := client.buildAlertEmbed(notifier.BotAlert{
		BotName:        "arb",
		Status:         "error",
		PreviousStatus: "healthy",
		Error:          "Timeout",
		Reason:         notifier.AlertReasonStatusChange,
	})

	if embed.Color != 0xE74C3C {
		t.Errorf("unexpected color: %x", embed.Color)
	}
	if embed.Description != "**Error:** Timeout" {
		t.Errorf("description = %q", embed.Description)
	}
	var status string
	for _, f := range embed.Fields {
		if f.Name == "Status" {
			status = f.Value
		}
	}
	if status != "healthy → error" {
		t.Errorf("status field = %q", status)
	}
	if embed.Footer.Text != "botwatch (beta)" {
		t.Errorf("footer = %q", embed.Footer.Text)
	}
}

func TestStatusColor(t *testing.T) {
	tests := map[string]int{
		"error":   0xE74C3C,
		"warning": 0xF1C40F,
		"healthy": 0x2ECC71,
		"":        0x3498DB,
	}
	for status, want := range tests {
		if got := statusColor(status); got != want {
			t.Errorf("statusColor(%q) = %x, want %x", status, got, want)
		}
	}
}
