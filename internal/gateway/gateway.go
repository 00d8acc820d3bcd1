// Package gateway serves directory searches over HTTP as JSON.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
	"github.com/rs/cors"

	"github.com/isometry/ldap2json/internal/cache"
	"github.com/isometry/ldap2json/internal/ldap"
	"github.com/isometry/ldap2json/internal/metrics"
)

// Route paths.
const (
	SearchPath = "/ldap"
	PingPath   = "/ping"
)

// Searcher runs directory searches. *ldap.DirectoryClient implements it.
type Searcher interface {
	Search(ctx context.Context, criteria ldap.Criteria) (*ldap.SearchResult, error)
	BaseDN() string
}

// Gateway translates HTTP query strings into directory searches.
type Gateway struct {
	searcher Searcher
	cache    cache.Cache
	lifetime time.Duration
	metrics  *metrics.Metrics
	logger   hclog.Logger

	metricsPath    string
	corsEnabled    bool
	allowedOrigins []string
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithCache serves repeated searches from c for lifetime.
func WithCache(c cache.Cache, lifetime time.Duration) Option {
	return func(g *Gateway) {
		g.cache = c
		g.lifetime = lifetime
	}
}

// WithMetrics instruments requests and cache lookups, and serves m on path.
// An empty path instruments without exposing the endpoint.
func WithMetrics(m *metrics.Metrics, path string) Option {
	return func(g *Gateway) {
		g.metrics = m
		g.metricsPath = path
	}
}

// WithCORS enables cross-origin requests from origins.
func WithCORS(origins []string) Option {
	return func(g *Gateway) {
		g.corsEnabled = true
		g.allowedOrigins = origins
	}
}

// WithLogger sets the gateway's logger.
func WithLogger(logger hclog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// New creates a gateway in front of searcher.
func New(searcher Searcher, opts ...Option) *Gateway {
	g := &Gateway{
		searcher: searcher,
		cache:    cache.Nop(),
		logger:   hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Router returns the gateway's HTTP handler.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()

	if g.corsEnabled {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: g.allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
			AllowedHeaders: []string{"Origin", "Accept", "Content-Type", "X-Requested-With", RequestIDHeader},
			ExposedHeaders: []string{RequestIDHeader, CacheHeader},
			MaxAge:         300,
			Logger:         g.logger.StandardLogger(&hclog.StandardLoggerOptions{ForceLevel: hclog.Debug}),
		}).Handler)
	}
	r.Use(requestID)
	r.Use(accessLog(g.logger))
	r.Use(middleware.Recoverer)
	if g.metrics != nil {
		r.Use(g.metrics.Middleware)
	}
	r.Use(middleware.Heartbeat(PingPath))
	r.Use(middleware.GetHead)

	r.Get(SearchPath, g.handleSearch)
	if g.metrics != nil && g.metricsPath != "" {
		r.Method(http.MethodGet, g.metricsPath, g.metrics.Handler())
	}

	return r
}
