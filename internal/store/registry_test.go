package store

import (
	"testing"

	"botwatch/internal/health"
	"botwatch/internal/storage"
)

func TestMergeRegistry(t *testing.T) {
	live := []BotStatus{
		{BotName: "Flash Arb", AvgLatency: 420, Status: health.StatusWarning},
		{BotName: "zeta", AvgLatency: 100, Status: health.StatusHealthy},
		{BotName: "alpha", AvgLatency: 300, Status: health.StatusHealthy},
	}
	registered := []storage.RegisteredBot{
		{ID: "1", Name: "flash-arb", Enabled: true, LatencyThresholdMs: 400},
		{ID: "2", Name: "idle", Enabled: true},
	}

	got := MergeRegistry(registered, live, 350)
	if len(got) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(got))
	}

	arb := got[0]
	if arb.Live == nil || arb.Status != health.StatusWarning {
		t.Errorf("flash-arb not merged with live status: %+v", arb)
	}
	// 420 is within 10% of the bot's own 400ms threshold.
	if arb.LatencyTier != health.TierWarn {
		t.Errorf("expected warn tier, got %s", arb.LatencyTier)
	}

	idle := got[1]
	if idle.Live != nil || idle.Status != health.StatusUnknown || idle.LatencyThresholdMs != 350 {
		t.Errorf("unexpected idle entry: %+v", idle)
	}

	if got[2].Name != "alpha" || got[3].Name != "zeta" {
		t.Errorf("unregistered live bots not sorted: %s, %s", got[2].Name, got[3].Name)
	}
	if got[2].Registered || !got[2].Enabled {
		t.Errorf("unexpected flags on live-only bot: %+v", got[2])
	}
}

func TestMergeRegistry_DisabledIgnoresLive(t *testing.T) {
	live := []BotStatus{{BotName: "mev", Status: health.StatusError}}
	registered := []storage.RegisteredBot{{ID: "x", Name: "mev", Enabled: false}}

	got := MergeRegistry(registered, live, 350)
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if got[0].Status != health.StatusUnknown || got[0].Live != nil {
		t.Errorf("disabled bot should not show live status: %+v", got[0])
	}
}
