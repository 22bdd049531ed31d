package store

import (
	"sort"

	"botwatch/internal/health"
	"botwatch/internal/storage"
)

// RegistryEntry is a bot as shown in the registry table: stored
// configuration merged with live status from the event stream.
type RegistryEntry struct {
	ID                 string      `json:"id,omitempty"`
	Name               string      `json:"name"`
	Strategy           string      `json:"strategy,omitempty"`
	Endpoint           string      `json:"endpoint,omitempty"`
	Enabled            bool        `json:"enabled"`
	Registered         bool        `json:"registered"`
	LatencyThresholdMs float64     `json:"latency_threshold_ms"`
	Status             string      `json:"status"`
	Indicator          string      `json:"indicator"`
	LatencyTier        health.Tier `json:"latency_tier,omitempty"`
	Live               *BotStatus  `json:"live,omitempty"`
}

// MergeRegistry joins registered bots with live statuses by slug. Live bots
// nobody registered are appended after the registered ones. Bots without a
// threshold of their own use defaultThresholdMs.
func MergeRegistry(registered []storage.RegisteredBot, live []BotStatus, defaultThresholdMs float64) []RegistryEntry {
	bySlug := make(map[string]BotStatus, len(live))
	for _, b := range live {
		bySlug[Slug(b.BotName)] = b
	}

	out := make([]RegistryEntry, 0, len(registered)+len(live))
	seen := make(map[string]bool, len(registered))
	for _, rb := range registered {
		slug := Slug(rb.Name)
		seen[slug] = true

		threshold := defaultThresholdMs
		if rb.LatencyThresholdMs > 0 {
			threshold = float64(rb.LatencyThresholdMs)
		}
		e := RegistryEntry{
			ID:                 rb.ID,
			Name:               rb.Name,
			Strategy:           rb.Strategy,
			Endpoint:           rb.Endpoint,
			Enabled:            rb.Enabled,
			Registered:         true,
			LatencyThresholdMs: threshold,
			Status:             health.StatusUnknown,
		}
		if b, ok := bySlug[slug]; ok && rb.Enabled {
			b := b
			e.Live = &b
			e.Status = b.Status
			e.LatencyTier = health.Classify(b.AvgLatency, threshold)
		}
		e.Indicator = health.Indicator(e.Status)
		out = append(out, e)
	}

	var extra []RegistryEntry
	for _, b := range live {
		if seen[Slug(b.BotName)] {
			continue
		}
		b := b
		extra = append(extra, RegistryEntry{
			Name:               b.BotName,
			Enabled:            true,
			LatencyThresholdMs: defaultThresholdMs,
			Status:             b.Status,
			Indicator:          health.Indicator(b.Status),
			LatencyTier:        health.Classify(b.AvgLatency, defaultThresholdMs),
			Live:               &b,
		})
	}
	sort.SliceStable(extra, func(i, j int) bool { return extra[i].Name < extra[j].Name })

	return append(out, extra...)
}
