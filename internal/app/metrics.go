package app

import (
	"net/http"
	"strconv"
	"time"

	"botwatch/internal/broker"
	"botwatch/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors exported on /metrics. Each runner
// owns its own registry so tests can build several side by side.
type Metrics struct {
	registry *prometheus.Registry

	eventsIngested *prometheus.CounterVec
	eventLatency   *prometheus.HistogramVec
	alertsSent     *prometheus.CounterVec
	logsReceived   prometheus.Counter
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	rateLimited    prometheus.Counter
}

// NewMetrics registers the service collectors. b and s feed gauges that are
// read at scrape time; either may be nil.
func NewMetrics(b *broker.Broker, s *store.Store) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		eventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botwatch_events_ingested_total",
			Help: "Metric events accepted into the store",
		}, []string{"bot", "status"}),

		eventLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "botwatch_event_latency_seconds",
			Help:    "Latency reported by bots",
			Buckets: []float64{.025, .05, .1, .2, .3, .4, .5, .75, 1, 2},
		}, []string{"bot"}),

		alertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botwatch_alerts_sent_total",
			Help: "Alerts sent to notifiers",
		}, []string{"reason"}),

		logsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botwatch_logs_received_total",
			Help: "Log records posted to /api/logs",
		}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botwatch_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),

		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "botwatch_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botwatch_http_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}),
	}

	m.registry.MustRegister(
		m.eventsIngested,
		m.eventLatency,
		m.alertsSent,
		m.logsReceived,
		m.httpRequests,
		m.httpDuration,
		m.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if b != nil {
		m.registry.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "botwatch_sse_subscribers",
				Help: "Connected SSE subscribers",
			}, func() float64 { return float64(b.Stats().Subscribers) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "botwatch_sse_dropped_total",
				Help: "Messages dropped because a subscriber queue was full",
			}, func() float64 { return float64(b.Stats().Dropped) }),
		)
	}
	if s != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "botwatch_store_events",
			Help: "Events held in the in-memory store",
		}, func() float64 { return float64(s.Len()) }))
	}

	return m
}

// ObserveEvent records an ingested event.
func (m *Metrics) ObserveEvent(e store.Event) {
	status := e.Status
	if status == "" {
		status = store.StatusOK
	}
	m.eventsIngested.WithLabelValues(e.BotName, status).Inc()
	m.eventLatency.WithLabelValues(e.BotName).Observe(float64(e.LatencyMs) / 1000)
}

// AlertSent counts one alert delivered for reason.
func (m *Metrics) AlertSent(reason string) {
	m.alertsSent.WithLabelValues(reason).Inc()
}

// LogsReceived counts records posted for ingestion.
func (m *Metrics) LogsReceived(n int) {
	m.logsReceived.Add(float64(n))
}

// RateLimited counts a rejected request.
func (m *Metrics) RateLimited() {
	m.rateLimited.Inc()
}

// ObserveRequest records a finished HTTP request. Unmatched routes are
// grouped under "other".
func (m *Metrics) ObserveRequest(route string, code int, elapsed time.Duration) {
	if route == "" {
		route = "other"
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
