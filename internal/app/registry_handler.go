package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"botwatch/config"
	"botwatch/internal/storage"
	"botwatch/internal/store"

	"go.uber.org/zap"
)

// RegistryStore is the persistence RegistryHandler needs.
type RegistryStore interface {
	SaveBot(ctx context.Context, b *storage.RegisteredBot) error
	ListBots(ctx context.Context) ([]storage.RegisteredBot, error)
	DeleteBot(ctx context.Context, id string) error

	CreateRule(ctx context.Context, r *storage.AlertRule) error
	ListRules(ctx context.Context) ([]storage.AlertRule, error)
	SetRuleEnabled(ctx context.Context, id string, enabled bool) error
	DeleteRule(ctx context.Context, id string) error
}

// RegistryHandler serves registered bot configuration and alert rules.
type RegistryHandler struct {
	logger     *zap.Logger
	db         RegistryStore
	events     *store.Store
	liveConfig *config.LiveConfig
	alerts     *AlertEvaluator
	now        func() time.Time
}

func NewRegistryHandler(logger *zap.Logger, db RegistryStore, events *store.Store, liveConfig *config.LiveConfig, alerts *AlertEvaluator) *RegistryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistryHandler{
		logger:     logger,
		db:         db,
		events:     events,
		liveConfig: liveConfig,
		alerts:     alerts,
		now:        time.Now,
	}
}

// RegisterRoutes registers bot registry and alert rule routes on the given mux.
func (h *RegistryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/bots/registered", h.handleListBots)
	mux.HandleFunc("POST /api/bots/registered", h.handleSaveBot)
	mux.HandleFunc("DELETE /api/bots/registered/{id}", h.handleDeleteBot)

	mux.HandleFunc("GET /api/alerts/rules", h.handleListRules)
	mux.HandleFunc("POST /api/alerts/rules", h.handleCreateRule)
	mux.HandleFunc("PATCH /api/alerts/rules/{id}", h.handleToggleRule)
	mux.HandleFunc("DELETE /api/alerts/rules/{id}", h.handleDeleteRule)
}

func (h *RegistryHandler) handleListBots(w http.ResponseWriter, r *http.Request) {
	registered, err := h.db.ListBots(r.Context())
	if err != nil {
		h.logger.Error("failed to list registered bots", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list bots")
		return
	}

	threshold := h.liveConfig.Get().Health.LatencyThresholdMs
	entries := store.MergeRegistry(registered, h.events.BotStatuses(h.now()), threshold)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"bots":   entries,
		"count":  len(entries),
	})
}

type saveBotRequest struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Strategy           string `json:"strategy"`
	Endpoint           string `json:"endpoint"`
	Enabled            *bool  `json:"enabled"`
	LatencyThresholdMs int    `json:"latency_threshold_ms"`
}

func (h *RegistryHandler) handleSaveBot(w http.ResponseWriter, r *http.Request) {
	var req saveBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if req.LatencyThresholdMs < 0 {
		writeError(w, http.StatusBadRequest, "latency_threshold_ms must not be negative")
		return
	}

	bot := &storage.RegisteredBot{
		ID:                 req.ID,
		Name:               req.Name,
		Strategy:           req.Strategy,
		Endpoint:           req.Endpoint,
		Enabled:            req.Enabled == nil || *req.Enabled,
		LatencyThresholdMs: req.LatencyThresholdMs,
	}
	if err := h.db.SaveBot(r.Context(), bot); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info("bot registered", zap.String("id", bot.ID), zap.String("name", bot.Name))
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"bot":    bot,
	})
}

func (h *RegistryHandler) handleDeleteBot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.mapDeleteError(w, h.db.DeleteBot(r.Context(), id), "Bot "+id+" not found") {
		return
	}
	h.logger.Info("bot unregistered", zap.String("id", id))
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "id": id})
}

// ruleView adds the rendered condition to a rule.
type ruleView struct {
	storage.AlertRule
	Condition string `json:"condition"`
}

func (h *RegistryHandler) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.db.ListRules(r.Context())
	if err != nil {
		h.logger.Error("failed to list alert rules", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list alert rules")
		return
	}
	views := make([]ruleView, len(rules))
	for i, rule := range rules {
		views[i] = ruleView{AlertRule: rule, Condition: rule.Condition()}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"rules":  views,
		"count":  len(views),
	})
}

type createRuleRequest struct {
	BotName     string `json:"bot_name"`
	Metric      string `json:"metric"`
	ThresholdMs *int   `json:"threshold_ms"`
	Enabled     *bool  `json:"enabled"`
}

func (h *RegistryHandler) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	rule := &storage.AlertRule{
		BotName:     req.BotName,
		Metric:      req.Metric,
		ThresholdMs: h.liveConfig.Get().Alerts.DefaultThresholdMs,
		Enabled:     req.Enabled == nil || *req.Enabled,
	}
	if req.ThresholdMs != nil {
		rule.ThresholdMs = *req.ThresholdMs
	}
	if err := h.db.CreateRule(r.Context(), rule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.alerts.InvalidateRules()

	h.logger.Info("alert rule created",
		zap.String("id", rule.ID),
		zap.String("bot", nz(rule.BotName, "*")),
		zap.Int("thresholdMs", rule.ThresholdMs),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"rule":   ruleView{AlertRule: *rule, Condition: rule.Condition()},
	})
}

func (h *RegistryHandler) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	id := r.PathValue("id")
	if !h.mapDeleteError(w, h.db.SetRuleEnabled(r.Context(), id, *req.Enabled), "Rule "+id+" not found") {
		return
	}
	h.alerts.InvalidateRules()
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "id": id, "enabled": *req.Enabled})
}

func (h *RegistryHandler) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.mapDeleteError(w, h.db.DeleteRule(r.Context(), id), "Rule "+id+" not found") {
		return
	}
	h.alerts.InvalidateRules()
	h.logger.Info("alert rule deleted", zap.String("id", id))
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "id": id})
}

// mapDeleteError writes the error response for err and reports whether the
// handler should continue.
func (h *RegistryHandler) mapDeleteError(w http.ResponseWriter, err error, notFound string) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, notFound)
	default:
		h.logger.Error("registry update failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
	return false
}
