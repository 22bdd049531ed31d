package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"botwatch/internal/pricing"
	"botwatch/internal/storage"
	"botwatch/internal/store"

	"go.uber.org/zap"
)

// RentalStore is the persistence RentalsHandler needs.
type RentalStore interface {
	CreateRental(ctx context.Context, r *storage.Rental) (string, error)
	ActiveRentals(ctx context.Context, userID string, now time.Time) ([]storage.Rental, error)
	CancelRental(ctx context.Context, id string) error
	ExpireRentals(ctx context.Context, now time.Time) (int64, error)
}

// RentalsHandler serves bot rental endpoints. Prices follow the bot's
// current success ratio in the event store.
type RentalsHandler struct {
	logger *zap.Logger
	db     RentalStore
	events *store.Store
	now    func() time.Time
}

func NewRentalsHandler(logger *zap.Logger, db RentalStore, events *store.Store) *RentalsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RentalsHandler{
		logger: logger,
		db:     db,
		events: events,
		now:    time.Now,
	}
}

// RegisterRoutes registers rental routes on the given mux.
func (h *RentalsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/bots/rent", h.handleRent)
	mux.HandleFunc("GET /api/bots/rentals", h.handleListRentals)
	mux.HandleFunc("GET /api/bots/{bot_id}/rental-info", h.handleRentalInfo)
	mux.HandleFunc("DELETE /api/bots/rentals/{rental_id}", h.handleCancel)
}

type rentRequest struct {
	BotID         string                 `json:"bot_id"`
	Duration      storage.RentalDuration `json:"duration"`
	PaymentMethod storage.PaymentMethod  `json:"payment_method"`
	UserID        string                 `json:"user_id"`
}

type performance struct {
	SuccessRate float64 `json:"success_rate"`
	LatencyMs   float64 `json:"latency_ms"`
}

// botPerformance returns the live name and performance of botID, falling
// back to the id and zero values for bots without events.
func (h *RentalsHandler) botPerformance(botID string, now time.Time) (string, performance) {
	b, ok := h.events.Bot(botID, now)
	if !ok {
		return botID, performance{}
	}
	return b.BotName, performance{SuccessRate: b.SuccessRatio, LatencyMs: b.AvgLatency}
}

func (h *RentalsHandler) handleRent(w http.ResponseWriter, r *http.Request) {
	var req rentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	req.BotID = strings.TrimSpace(req.BotID)
	if req.BotID == "" {
		writeError(w, http.StatusBadRequest, "bot_id is required")
		return
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = storage.PaymentCrypto
	}
	if !req.PaymentMethod.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid payment method")
		return
	}
	period, ok := req.Duration.Period()
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid duration")
		return
	}

	now := h.now().UTC()
	name, perf := h.botPerformance(req.BotID, now)
	price, err := pricing.RentalPrice(req.Duration, perf.SuccessRate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rental := &storage.Rental{
		BotID:         req.BotID,
		BotName:       name,
		UserID:        req.UserID,
		Duration:      req.Duration,
		Price:         price,
		PaymentMethod: req.PaymentMethod,
		Status:        storage.RentalActive,
		RentedAt:      now,
		ExpiresAt:     now.Add(period),
	}
	id, err := h.db.CreateRental(r.Context(), rental)
	if err != nil {
		h.logger.Error("failed to create rental", zap.String("bot", req.BotID), zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info("bot rented",
		zap.String("rental", id),
		zap.String("bot", req.BotID),
		zap.String("duration", string(req.Duration)),
		zap.String("price", price.StringFixed(2)),
	)

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"rental": map[string]any{
			"id":                     id,
			"bot_id":                 rental.BotID,
			"bot_name":               rental.BotName,
			"duration":               rental.Duration,
			"price":                  pricing.Float(rental.Price),
			"performance_multiplier": pricing.Float(pricing.Multiplier(perf.SuccessRate)),
			"payment_method":         rental.PaymentMethod,
			"status":                 rental.Status,
			"rented_at":              rental.RentedAt,
			"expires_at":             rental.ExpiresAt,
		},
	})
}

// handleListRentals expires lapsed rentals, then lists the active ones with
// the bot's current performance.
func (h *RentalsHandler) handleListRentals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := h.now().UTC()

	if _, err := h.db.ExpireRentals(ctx, now); err != nil {
		h.logger.Warn("failed to expire rentals", zap.Error(err))
	}
	active, err := h.db.ActiveRentals(ctx, r.URL.Query().Get("user_id"), now)
	if err != nil {
		h.logger.Error("failed to list rentals", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rentals := make([]map[string]any, 0, len(active))
	for _, rental := range active {
		_, perf := h.botPerformance(rental.BotID, now)
		rentals = append(rentals, map[string]any{
			"id":                  rental.ID,
			"bot_id":              rental.BotID,
			"bot_name":            rental.BotName,
			"duration":            rental.Duration,
			"price":               pricing.Float(rental.Price),
			"status":              rental.Status,
			"rented_at":           rental.RentedAt,
			"expires_at":          rental.ExpiresAt,
			"time_remaining":      int64(rental.ExpiresAt.Sub(now).Seconds()),
			"current_performance": perf,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"rentals": rentals,
		"count":   len(rentals),
	})
}

func (h *RentalsHandler) handleRentalInfo(w http.ResponseWriter, r *http.Request) {
	botID := r.PathValue("bot_id")
	name, perf := h.botPerformance(botID, h.now())
	quote := pricing.QuoteFor(pricing.StrategyFor(botID), perf.SuccessRate)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"bot_id":   botID,
		"bot_name": name,
		"pricing": map[string]any{
			"hourly":                 pricing.Float(quote.Hourly),
			"daily":                  pricing.Float(quote.Daily),
			"monthly":                pricing.Float(quote.Monthly),
			"performance_multiplier": pricing.Float(quote.Multiplier),
			"base_strategy":          quote.BaseStrategy,
		},
		"performance": perf,
		"available":   true,
	})
}

func (h *RentalsHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("rental_id")
	err := h.db.CancelRental(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "Rental "+id+" not found")
		return
	case err != nil:
		h.logger.Error("failed to cancel rental", zap.String("rental", id), zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info("rental cancelled", zap.String("rental", id))
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"message":   "Rental " + id + " cancelled successfully",
		"rental_id": id,
	})
}
