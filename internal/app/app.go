// Package app assembles the gateway from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/isometry/ldap2json/internal/cache"
	"github.com/isometry/ldap2json/internal/config"
	"github.com/isometry/ldap2json/internal/gateway"
	"github.com/isometry/ldap2json/internal/ldap"
	"github.com/isometry/ldap2json/internal/metrics"
)

// shutdownTimeout bounds how long Serve waits for in-flight requests.
const shutdownTimeout = 10 * time.Second

// App holds every long-lived component. Each component receives only the
// handles it needs at construction.
type App struct {
	Config  *config.Config
	Logger  hclog.Logger
	Manager *ldap.ConnectionManager
	Client  *ldap.DirectoryClient
	Cache   cache.Cache
	Metrics *metrics.Metrics
	Gateway *gateway.Gateway

	dialer   ldap.Dialer
	resolver ldap.SRVResolver
}

// Option configures an App.
type Option func(*App)

// WithDialer replaces the directory dialer.
func WithDialer(dial ldap.Dialer) Option {
	return func(a *App) {
		a.dialer = dial
	}
}

// WithResolver replaces the DNS resolver used for SRV discovery.
func WithResolver(resolver ldap.SRVResolver) Option {
	return func(a *App) {
		a.resolver = resolver
	}
}

// New validates cfg and builds the application. Nothing is dialed yet; the
// first search opens the first directory connection.
func New(ctx context.Context, cfg *config.Config, logger hclog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &App{
		Config: cfg,
		Logger: logger,
	}
	for _, opt := range opts {
		opt(a)
	}

	logger.Debug("Loaded configuration", configFields(cfg)...)

	conn, err := cfg.Connection()
	if err != nil {
		return nil, err
	}

	ldapLogger := logger.Named("ldap")
	if len(conn.LDAPURLs) == 0 {
		discovery := ldap.NewSRVDiscovery(ldapLogger, a.resolver)
		err := ldap.LogOperation(ldapLogger, "discover_endpoints", map[string]any{"domain": conn.Domain}, func() error {
			var err error
			conn.LDAPURLs, err = discovery.DiscoverEndpoints(ctx, conn.Domain)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to discover directory endpoints: %w", err)
		}
		ldapLogger.Info("Discovered directory endpoints", "domain", conn.Domain, "endpoints", conn.LDAPURLs)
	}

	var recorder ldap.Recorder
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		recorder = a.Metrics
	}

	managerOpts := []ldap.ManagerOption{ldap.WithManagerLogger(ldapLogger)}
	clientOpts := []ldap.ClientOption{ldap.WithLogger(ldapLogger)}
	if recorder != nil {
		managerOpts = append(managerOpts, ldap.WithManagerRecorder(recorder))
		clientOpts = append(clientOpts, ldap.WithRecorder(recorder))
	}
	if a.dialer != nil {
		managerOpts = append(managerOpts, ldap.WithDialer(a.dialer))
	}

	a.Manager, err = ldap.NewConnectionManager(conn.LDAPURLs, conn.Timeout, managerOpts...)
	if err != nil {
		return nil, err
	}

	a.Client, err = ldap.NewDirectoryClient(a.Manager, conn, clientOpts...)
	if err != nil {
		_ = a.Manager.Close()
		return nil, err
	}

	a.Cache, err = cache.New(ctx, cfg.CacheSettings(), logger.Named("cache"))
	if err != nil {
		_ = a.Manager.Close()
		return nil, err
	}

	gatewayOpts := []gateway.Option{
		gateway.WithLogger(logger.Named("gateway")),
		gateway.WithCache(a.Cache, cfg.Cache.Lifetime),
	}
	if a.Metrics != nil {
		gatewayOpts = append(gatewayOpts, gateway.WithMetrics(a.Metrics, cfg.Metrics.Path))
	}
	if cfg.CORS.Enabled {
		gatewayOpts = append(gatewayOpts, gateway.WithCORS(cfg.CORS.AllowedOrigins))
	}
	a.Gateway = gateway.New(a.Client, gatewayOpts...)

	return a, nil
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.Gateway.Router()
}

// Run listens on the configured address and serves until ctx is done.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Config.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Config.Addr(), err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is done, then shuts down gracefully.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          a.Logger.Named("http").StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}),
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("Listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.Logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases the cache and the directory connection.
func (a *App) Close() error {
	var errs []error
	if a.Cache != nil {
		errs = append(errs, a.Cache.Close())
	}
	if a.Manager != nil {
		errs = append(errs, a.Manager.Close())
	}
	return errors.Join(errs...)
}

// configFields flattens the configuration for the debug log, with secrets redacted.
func configFields(cfg *config.Config) []any {
	fields := ldap.SanitizeFields(map[string]any{
		"addr":          cfg.Addr(),
		"ldap_uris":     []string(cfg.LDAP.URIs),
		"ldap_domain":   cfg.LDAP.Domain,
		"ldap_basedn":   cfg.LDAP.BaseDN,
		"ldap_scope":    cfg.LDAP.Scope,
		"ldap_maxwait":  cfg.LDAP.MaxWait.String(),
		"ldap_timeout":  cfg.LDAP.Timeout.String(),
		"cache_backend": cfg.Cache.Backend,
		"cache_servers": []string(cfg.Cache.Servers),
		"password":      cfg.Cache.Password,
		"metrics":       cfg.Metrics.Enabled,
		"cors":          cfg.CORS.Enabled,
	})

	args := make([]any, 0, len(fields)*2)
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		args = append(args, k, fields[k])
	}
	return args
}
