package botapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/bots/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","count":2,"bots":[
			{"bot_name":"arb","success_ratio":99.5,"status":"healthy","indicator":"🟢"},
			{"bot_name":"mev","success_ratio":40,"status":"error","indicator":"🔴"}]}`))
	})
	mux.HandleFunc("/api/bots/registered", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","bots":[{"id":"1","name":"arb","registered":true,"status":"healthy"}]}`))
	})
	mux.HandleFunc("/api/charts/data", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"events":[{"bot_name":"arb","latency_ms":120}],"count":1,"kpis":{"avg_latency_ms":120,"throughput_1m":1}}`))
	})
	mux.HandleFunc("/api/live/latency", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"timestamps":[2000,1000],"values":[120,80]}`))
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/api/live/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":"error","message":"bad metric"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestBotStatuses(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(zap.NewNop(), srv.URL+"/")

	bots, err := c.BotStatuses(context.Background())
	if err != nil {
		t.Fatalf("BotStatuses: %v", err)
	}
	if len(bots) != 2 || bots[1].BotName != "mev" || bots[1].Status != "error" {
		t.Errorf("unexpected bots: %+v", bots)
	}
}

func TestRegistry(t *testing.T) {
	c := NewClient(nil, newTestServer(t).URL)

	entries, err := c.Registry(context.Background())
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}
	if len(entries) != 1 || !entries[0].Registered {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestChartDataAndLive(t *testing.T) {
	c := NewClient(nil, newTestServer(t).URL)
	ctx := context.Background()

	data, err := c.ChartData(ctx)
	if err != nil {
		t.Fatalf("ChartData: %v", err)
	}
	if data.Count != 1 || data.KPIs.AvgLatencyMs != 120 || data.Events[0].LatencyMs != 120 {
		t.Errorf("unexpected chart data: %+v", data)
	}

	live, err := c.Live(ctx, "latency")
	if err != nil {
		t.Fatalf("Live: %v", err)
	}
	if len(live.Values) != 2 || live.Timestamps[0] != 2000 {
		t.Errorf("unexpected live series: %+v", live)
	}
}

func TestAPIError(t *testing.T) {
	c := NewClient(nil, newTestServer(t).URL)

	_, err := c.Live(context.Background(), "broken")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "bad metric" {
		t.Errorf("unexpected error: %+v", apiErr)
	}
}

func TestHealth(t *testing.T) {
	c := NewClient(nil, newTestServer(t).URL)
	if err := c.Health(context.Background()); err != nil {
		t.Errorf("Health: %v", err)
	}
}
