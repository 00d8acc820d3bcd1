package ldap

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/go-hclog"
)

// ConnectionManager owns the single live connection handle to one endpoint of
// a fixed rotation. Connect advances the rotation and replaces the handle;
// Current never blocks on the network.
type ConnectionManager struct {
	mu        sync.Mutex
	endpoints []string
	cursor    int
	current   *Handle

	dial     Dialer
	logger   hclog.Logger
	recorder Recorder

	handles   int64
	startTime time.Time
}

// ManagerOption configures a ConnectionManager.
type ManagerOption func(*ConnectionManager)

// WithDialer replaces the go-ldap dialer.
func WithDialer(dial Dialer) ManagerOption {
	return func(m *ConnectionManager) {
		m.dial = dial
	}
}

// WithManagerLogger sets the manager's logger.
func WithManagerLogger(logger hclog.Logger) ManagerOption {
	return func(m *ConnectionManager) {
		m.logger = logger
	}
}

// WithManagerRecorder sets the manager's event recorder.
func WithManagerRecorder(recorder Recorder) ManagerOption {
	return func(m *ConnectionManager) {
		m.recorder = recorder
	}
}

// NewConnectionManager validates the endpoint rotation and opens a handle to
// its first endpoint. Only configuration problems are reported as errors.
func NewConnectionManager(endpoints []string, timeout time.Duration, opts ...ManagerOption) (*ConnectionManager, error) {
	if len(endpoints) == 0 {
		return nil, NewConfigurationError("at least one LDAP URL must be specified", nil)
	}

	for _, endpoint := range endpoints {
		if _, err := ParseLDAPURL(endpoint); err != nil {
			return nil, NewConfigurationError(fmt.Sprintf("invalid LDAP URL %s", endpoint), err)
		}
	}

	m := &ConnectionManager{
		endpoints: append([]string(nil), endpoints...),
		dial:      NewDialer(timeout),
		logger:    hclog.NewNullLogger(),
		recorder:  noopRecorder{},
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.Connect()
	return m, nil
}

// Connect replaces the current handle with a fresh one bound to the next
// endpoint in rotation order. The replaced handle is closed once its in-flight
// searches have finished.
func (m *ConnectionManager) Connect() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectLocked()
}

// Reconnect connects only if stale is still the current handle; otherwise
// another caller already replaced it and the current handle is returned.
func (m *ConnectionManager) Reconnect(stale *Handle) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != stale {
		return m.current
	}
	return m.connectLocked()
}

func (m *ConnectionManager) connectLocked() *Handle {
	uri := m.endpoints[m.cursor]
	m.cursor = (m.cursor + 1) % len(m.endpoints)

	m.logger.Info("Connecting to LDAP server", "uri", uri)

	previous := m.current
	m.current = &Handle{
		uri:        uri,
		generation: atomic.AddInt64(&m.handles, 1),
		dial:       m.dial,
		logger:     m.logger,
	}
	m.recorder.Connected(uri)

	if previous != nil {
		previous.retire()
	}

	return m.current
}

// Current returns the live connection handle.
func (m *ConnectionManager) Current() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Endpoints returns a copy of the rotation.
func (m *ConnectionManager) Endpoints() []string {
	return append([]string(nil), m.endpoints...)
}

// Stats returns manager statistics.
func (m *ConnectionManager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return ManagerStats{
		Endpoint:  m.current.uri,
		Endpoints: len(m.endpoints),
		Handles:   atomic.LoadInt64(&m.handles),
		Uptime:    time.Since(m.startTime),
	}
}

// Close retires the current handle.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.current.retire()
	}
	return nil
}

// Handle is a connection to one endpoint. The underlying connection is dialed
// on first use, so creating a handle never touches the network.
type Handle struct {
	uri        string
	generation int64
	dial       Dialer
	logger     hclog.Logger

	dialMu   sync.Mutex
	mu       sync.Mutex
	conn     Conn
	inflight int
	retired  bool
}

// URI returns the endpoint the handle is bound to.
func (h *Handle) URI() string {
	return h.uri
}

// Generation returns the handle's sequence number within its manager.
func (h *Handle) Generation() int64 {
	return h.generation
}

// Search runs req on the handle's connection, dialing it first if needed.
func (h *Handle) Search(ctx context.Context, req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	conn, err := h.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer h.release()

	return conn.Search(req)
}

func (h *Handle) acquire(ctx context.Context) (Conn, error) {
	if conn, err := h.tryAcquire(); conn != nil || err != nil {
		return conn, err
	}

	// Only one dial per handle; later callers reuse its connection.
	h.dialMu.Lock()
	defer h.dialMu.Unlock()

	if conn, err := h.tryAcquire(); conn != nil || err != nil {
		return conn, err
	}

	conn, err := h.dial(ctx, h.uri)
	if err != nil {
		LogConnectionEvent(h.logger, "connection_failed", map[string]any{
			"uri":   h.uri,
			"error": err.Error(),
		})
		return nil, NewConnectionError(fmt.Sprintf("failed to connect to %s", h.uri), true, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.retired {
		conn.Close()
		return nil, h.replacedError()
	}

	h.conn = conn
	h.inflight++
	LogConnectionEvent(h.logger, "connection_opened", map[string]any{
		"uri": h.uri,
	})
	return conn, nil
}

// tryAcquire returns the open connection, or an error if the handle was
// retired before it was ever dialed. Both are nil when a dial is needed.
func (h *Handle) tryAcquire() (Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn != nil {
		h.inflight++
		return h.conn, nil
	}
	if h.retired {
		return nil, h.replacedError()
	}
	return nil, nil
}

func (h *Handle) replacedError() error {
	return NewConnectionError(fmt.Sprintf("connection to %s was replaced", h.uri), true, nil)
}

func (h *Handle) release() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.inflight--
	if h.retired && h.inflight == 0 {
		h.closeLocked()
	}
}

func (h *Handle) retire() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.retired = true
	if h.inflight == 0 {
		h.closeLocked()
	}
}

func (h *Handle) closeLocked() {
	if h.conn == nil {
		return
	}
	if err := h.conn.Close(); err != nil {
		h.logger.Debug("Error closing retired connection", "uri", h.uri, "error", err)
	}
	h.conn = nil
	LogConnectionEvent(h.logger, "connection_closed", map[string]any{
		"uri": h.uri,
	})
}

// ldapConn adapts *ldap.Conn to Conn.
type ldapConn struct {
	conn *ldap.Conn
}

func (c *ldapConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	return c.conn.Search(req)
}

func (c *ldapConn) Close() error {
	c.conn.Close()
	return nil
}

// requestTimeoutMargin is how long the client waits for a reply beyond the
// server-side search time limit.
const requestTimeoutMargin = 5 * time.Second

// RequestTimeout returns the client-side request timeout for a search time
// limit. It exceeds the limit so the server's timeLimitExceeded reply arrives
// before the connection is declared lost.
func RequestTimeout(timeLimit time.Duration) time.Duration {
	if timeLimit <= 0 {
		return 0
	}
	return timeLimit + requestTimeoutMargin
}

// NewDialer returns a Dialer backed by ldap.DialURL. An anonymous session
// needs no bind, so the connection is usable as soon as it is dialed.
// timeout bounds the dial; requests wait RequestTimeout(timeout).
func NewDialer(timeout time.Duration) Dialer {
	return newDialer(timeout, RequestTimeout(timeout))
}

func newDialer(timeout, requestTimeout time.Duration) Dialer {
	return func(ctx context.Context, uri string) (Conn, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		conn, err := ldap.DialURL(uri, ldap.DialWithDialer(&net.Dialer{Timeout: timeout}))
		if err != nil {
			return nil, err
		}

		if requestTimeout > 0 {
			conn.SetTimeout(requestTimeout)
		}
		return &ldapConn{conn: conn}, nil
	}
}
