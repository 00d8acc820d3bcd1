package ldap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// fakeDirectory hands out fakeConns and records dial order. Search errors are
// drawn from one shared script in order, so a script of two failures fails the
// first two attempts whichever endpoint they land on.
type fakeDirectory struct {
	mu       sync.Mutex
	dialed   []string
	conns    []*fakeConn
	dialErrs []error
	errs     []error
	entries  []*ldap.Entry
	lastReq  *ldap.SearchRequest
	entered  chan struct{}
	block    chan struct{}
}

func (d *fakeDirectory) dial(_ context.Context, uri string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dialed = append(d.dialed, uri)
	if len(d.dialErrs) > 0 {
		err := d.dialErrs[0]
		d.dialErrs = d.dialErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	conn := &fakeConn{uri: uri, dir: d}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDirectory) dials() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dialed...)
}

func (d *fakeDirectory) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

type fakeConn struct {
	uri    string
	dir    *fakeDirectory
	mu     sync.Mutex
	closed bool
}

func (c *fakeConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	if c.dir.entered != nil {
		c.dir.entered <- struct{}{}
	}
	if c.dir.block != nil {
		<-c.dir.block
	}

	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()

	c.dir.lastReq = req
	if len(c.dir.errs) > 0 {
		err := c.dir.errs[0]
		c.dir.errs = c.dir.errs[1:]
		return nil, err
	}
	return &ldap.SearchResult{Entries: c.dir.entries}, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// recordingSleeper records requested waits without sleeping. When cancel is
// set it is called once after waits have been recorded.
type recordingSleeper struct {
	mu     sync.Mutex
	waits  []time.Duration
	cancel context.CancelFunc
	after  int
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	n := len(s.waits)
	s.mu.Unlock()

	if s.cancel != nil && n >= s.after {
		s.cancel()
	}
	return ctx.Err()
}

func (s *recordingSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

func networkError() error {
	return ldap.NewError(ldap.ErrorNetwork, errors.New("ldap: connection closed"))
}

func seconds(values ...int) []time.Duration {
	out := make([]time.Duration, len(values))
	for i, v := range values {
		out[i] = time.Duration(v) * time.Second
	}
	return out
}
