// Package metrics exposes gateway and directory instrumentation to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ldap2json"

// Metrics holds the gateway's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	searches        *prometheus.CounterVec
	searchDuration  *prometheus.HistogramVec
	searchEntries   prometheus.Histogram
	connects        *prometheus.CounterVec
	connectionsLost *prometheus.CounterVec
	backoffSeconds  prometheus.Histogram
	cacheLookups    *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New registers the collectors, plus the Go and process collectors, on a new registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		searches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ldap",
				Name:      "searches_total",
				Help:      "Directory searches by outcome",
			},
			[]string{"outcome"},
		),
		searchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ldap",
				Name:      "search_duration_seconds",
				Help:      "Directory search duration including reconnect waits",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		searchEntries: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ldap",
				Name:      "search_entries",
				Help:      "Entries returned per successful search",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		connects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ldap",
				Name:      "connects_total",
				Help:      "Connection handles created per endpoint",
			},
			[]string{"endpoint"},
		),
		connectionsLost: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ldap",
				Name:      "connections_lost_total",
				Help:      "Connection losses observed per endpoint",
			},
			[]string{"endpoint"},
		),
		backoffSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ldap",
				Name:      "reconnect_wait_seconds",
				Help:      "Wait chosen before each reconnection attempt",
				Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
			},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Result cache lookups by result",
			},
			[]string{"result"},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by route and status",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route"},
		),
	}
}

// Connected counts a new connection handle.
func (m *Metrics) Connected(endpoint string) {
	m.connects.WithLabelValues(endpoint).Inc()
}

// ConnectionLost counts a lost connection and the wait chosen before reconnecting.
func (m *Metrics) ConnectionLost(endpoint string, wait time.Duration) {
	m.connectionsLost.WithLabelValues(endpoint).Inc()
	m.backoffSeconds.Observe(wait.Seconds())
}

// SearchCompleted records a finished search.
func (m *Metrics) SearchCompleted(outcome string, duration time.Duration, entries int) {
	m.searches.WithLabelValues(outcome).Inc()
	m.searchDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if entries > 0 {
		m.searchEntries.Observe(float64(entries))
	}
}

// CacheHit counts a result served from cache.
func (m *Metrics) CacheHit() {
	m.cacheLookups.WithLabelValues("hit").Inc()
}

// CacheMiss counts a lookup that fell through to the directory.
func (m *Metrics) CacheMiss() {
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// CacheError counts a lookup that failed in the cache backend.
func (m *Metrics) CacheError() {
	m.cacheLookups.WithLabelValues("error").Inc()
}

// Middleware records request counts and durations by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
