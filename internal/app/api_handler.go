package app

import (
	"context"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"botwatch/internal/ingest"
	"botwatch/internal/storage"

	"go.uber.org/zap"
)

const (
	chartEvents    = 100
	liveEvents     = 60
	maxLogBodySize = 10 << 20
)

// registerAPIRoutes adds the JSON endpoints backed by the in-memory store.
func (r *Runner) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/bots/status", r.handleBotStatus)
	mux.HandleFunc("GET /api/charts/data", r.handleChartData)
	mux.HandleFunc("POST /api/logs", r.handleLogs)
	mux.HandleFunc("GET /api/live/{metric}", r.handleLive)
	mux.HandleFunc("GET /api/export", r.handleExport)
}

func (r *Runner) handleBotStatus(w http.ResponseWriter, _ *http.Request) {
	bots := r.store.BotStatuses(r.now())
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"bots":   bots,
		"count":  len(bots),
	})
}

func (r *Runner) handleChartData(w http.ResponseWriter, _ *http.Request) {
	now := r.now()
	events := r.store.ChartData(chartEvents)
	snap := r.store.Snapshot(now)
	writeJSON(w, http.StatusOK, map[string]any{
		"events":            events,
		"count":             len(events),
		"kpis":              snap.KPIs,
		"latency_series":    snap.Latency,
		"throughput_series": snap.Throughput,
		"profit_series":     snap.Profit,
		"heatmap":           snap.Heatmap,
	})
}

// handleLogs accepts a JSON array or JSONL body of bot log records. Records
// that do not parse as metric events are counted but skipped.
func (r *Runner) handleLogs(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxLogBodySize))
	if err != nil {
		r.clients.Logger.Warn("failed to read log body", zap.Error(err))
		writeError(w, http.StatusBadRequest, "failed to read body: "+err.Error())
		return
	}
	if !utf8.Valid(body) {
		writeError(w, http.StatusBadRequest, "body is not valid UTF-8")
		return
	}

	records, err := ingest.ParseBody(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events := ingest.ParseRecords(records, r.now())
	r.metrics.LogsReceived(len(records))
	r.Ingest(events)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "success",
		"logs_received":   len(records),
		"metrics_created": len(events),
	})
}

func (r *Runner) handleLive(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.store.LiveMetric(req.PathValue("metric"), liveEvents))
}

// handleExport returns everything needed to rebuild the dashboard offline.
func (r *Runner) handleExport(w http.ResponseWriter, req *http.Request) {
	now := r.now()
	out := map[string]any{
		"status":      "success",
		"exported_at": now.UTC(),
		"kpis":        r.store.KPIs(now),
		"bots":        r.store.BotStatuses(now),
		"events":      r.store.LastEvents(r.store.Len()),
		"rules":       []storage.AlertRule{},
	}

	if r.db != nil {
		ctx, cancel := context.WithTimeout(req.Context(), 10*time.Second)
		defer cancel()
		rules, err := r.db.ListRules(ctx)
		if err != nil {
			r.clients.Logger.Error("failed to list alert rules for export", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load alert rules")
			return
		}
		if rules != nil {
			out["rules"] = rules
		}
	}

	w.Header().Set("Content-Disposition", `attachment; filename="botwatch-export-`+now.UTC().Format("20060102-150405")+`.json"`)
	writeJSON(w, http.StatusOK, out)
}
