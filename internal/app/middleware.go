package app

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"botwatch/config"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// statusRecorder captures the response code while keeping the streaming
// and hijacking capabilities of the wrapped writer.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	return sr.ResponseWriter.Write(b)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	if sr.status == 0 {
		sr.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// instrument records request counts and latency by matched route pattern.
func instrument(m *Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		code := rec.status
		if code == 0 {
			code = http.StatusOK
		}
		m.ObserveRequest(r.Pattern, code, time.Since(start))
	})
}

// recoverer turns handler panics into a JSON 500.
func recoverer(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.Error("handler panic",
				zap.String("path", r.URL.Path),
				zap.String("panic", fmt.Sprint(rec)),
				zap.Stack("stack"),
			)
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":       "internal_server_error",
				"detail":      "An internal server error occurred. Please try again later.",
				"status_code": http.StatusInternalServerError,
			})
		}()
		next.ServeHTTP(w, r)
	})
}

// rateLimitExempt lists path prefixes that are never limited: probes,
// long-lived streams and the JSON API the dashboard polls.
var rateLimitExempt = []string{
	"/static",
	"/stream",
	"/events",
	"/logs/stream",
	"/charts/mini",
	"/ws",
	"/api/",
}

// RateLimiter is a per-IP sliding window limiter. Request timestamps live in
// a go-cache keyed by IP, so idle clients expire on their own.
type RateLimiter struct {
	logger  *zap.Logger
	metrics *Metrics

	mu        sync.Mutex
	hits      *cache.Cache
	enabled   bool
	perMinute int
	debug     bool
	now       func() time.Time
}

const rateWindow = time.Minute

// NewRateLimiter creates a limiter configured from cfg.
func NewRateLimiter(logger *zap.Logger, metrics *Metrics, cfg *config.Config) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	rl := &RateLimiter{
		logger:  logger,
		metrics: metrics,
		hits:    cache.New(rateWindow, 2*rateWindow),
		now:     time.Now,
	}
	rl.UpdateConfig(cfg)
	return rl
}

// UpdateConfig applies new limits.
func (rl *RateLimiter) UpdateConfig(cfg *config.Config) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.enabled = cfg.RateLimit.Enabled
	rl.perMinute = cfg.RateLimit.PerMinute
	rl.debug = cfg.Server.Debug
}

func exempt(path string) bool {
	switch path {
	case "/health", "/healthz", "/favicon.ico", "/metrics":
		return true
	}
	for _, p := range rateLimitExempt {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Allow records a request from ip and reports whether it is within the limit.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if !rl.enabled {
		return true
	}
	if rl.debug && isLoopback(ip) {
		return true
	}

	now := rl.now()
	cutoff := now.Add(-rateWindow)
	var recent []time.Time
	if v, ok := rl.hits.Get(ip); ok {
		for _, t := range v.([]time.Time) {
			if t.After(cutoff) {
				recent = append(recent, t)
			}
		}
	}
	if len(recent) >= rl.perMinute {
		rl.hits.Set(ip, recent, rateWindow)
		return false
	}
	rl.hits.Set(ip, append(recent, now), rateWindow)
	return true
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		ip := clientIP(r)
		if !rl.Allow(ip) {
			rl.mu.Lock()
			limit := rl.perMinute
			rl.mu.Unlock()

			rl.logger.Warn("rate limit exceeded", zap.String("ip", ip))
			if rl.metrics != nil {
				rl.metrics.RateLimited()
			}
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":       "rate_limit_exceeded",
				"detail":      fmt.Sprintf("Rate limit exceeded. Maximum %d requests per minute.", limit),
				"retry_after": 60,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cors applies the configured origin policy. The allow-all switch only takes
// effect in debug mode.
func cors(liveConfig *config.LiveConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			srv := liveConfig.Get().Server
			switch {
			case srv.Debug && srv.CORSAllowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case slices.Contains(srv.CORSOrigins, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
