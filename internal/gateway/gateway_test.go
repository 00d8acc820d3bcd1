package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldap2json/internal/cache"
	"github.com/isometry/ldap2json/internal/ldap"
	"github.com/isometry/ldap2json/internal/metrics"
)

const testBaseDN = "ou=people,dc=example,dc=com"

type mockSearcher struct {
	mock.Mock
}

func (m *mockSearcher) Search(ctx context.Context, criteria ldap.Criteria) (*ldap.SearchResult, error) {
	args := m.Called(ctx, criteria)
	result, _ := args.Get(0).(*ldap.SearchResult)
	return result, args.Error(1)
}

func (m *mockSearcher) BaseDN() string {
	return testBaseDN
}

type mapCache struct {
	values map[string][]byte
	ttls   map[string]time.Duration
	err    error
}

func newMapCache() *mapCache {
	return &mapCache{
		values: make(map[string][]byte),
		ttls:   make(map[string]time.Duration),
	}
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	if c.err != nil {
		return nil, false, c.err
	}
	value, ok := c.values[key]
	return value, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.values[key] = value
	c.ttls[key] = ttl
	return nil
}

func (c *mapCache) Close() error {
	return nil
}

var _ cache.Cache = (*mapCache)(nil)

func aliceResult() *ldap.SearchResult {
	return &ldap.SearchResult{
		Records: []*ldap.Record{
			{
				DN: "uid=alice," + testBaseDN,
				Attributes: map[string][]string{
					"cn":   {"Alice"},
					"mail": {"alice@example.com"},
				},
			},
		},
		Total: 1,
	}
}

const aliceJSON = `[
  [
    "uid=alice,ou=people,dc=example,dc=com",
    {
      "cn": [
        "Alice"
      ],
      "mail": [
        "alice@example.com"
      ]
    }
  ]
]`

func serve(t *testing.T, g *Gateway, target string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestGateway_Search(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, ldap.Criteria{"uid": "alice"}).Return(aliceResult(), nil).Once()

	rec := serve(t, New(searcher), "/ldap?uid=alice")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "MISS", rec.Header().Get(CacheHeader))
	assert.Equal(t, aliceJSON, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	searcher.AssertExpectations(t)
}

func TestGateway_HeadSearch(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, ldap.Criteria{"uid": "alice"}).Return(aliceResult(), nil).Once()

	rec := httptest.NewRecorder()
	New(searcher, WithCORS([]string{"*"})).Router().ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/ldap?uid=alice", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "MISS", rec.Header().Get(CacheHeader))
	searcher.AssertExpectations(t)
}

func TestGateway_SearchStripsReservedParams(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, ldap.Criteria{"cn": "alice", "mail": "a@x"}).Return(aliceResult(), nil).Once()

	rec := serve(t, New(searcher), "/ldap?mail=a@x&callback=cb&_=1700000000&cn=alice")

	assert.Equal(t, http.StatusOK, rec.Code)
	searcher.AssertExpectations(t)
}

func TestGateway_SearchMatchAll(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, ldap.MatchAll()).Return(aliceResult(), nil).Once()

	rec := serve(t, New(searcher), "/ldap?_=123")

	assert.Equal(t, http.StatusOK, rec.Code)
	searcher.AssertExpectations(t)
}

func TestGateway_SearchNotFound(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, mock.Anything).Return(&ldap.SearchResult{}, nil)
	c := newMapCache()

	rec := serve(t, New(searcher, WithCache(c, time.Minute)), "/ldap?uid=nobody")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, c.values, "empty results are not cached")
}

func TestGateway_SearchError(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, mock.Anything).Return(nil, errors.New("LDAP search failed - No Such Object"))

	rec := serve(t, New(searcher), "/ldap?uid=alice")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "No Such Object")
}

func TestGateway_JSONP(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, ldap.Criteria{"uid": "alice"}).Return(aliceResult(), nil)

	rec := serve(t, New(searcher), "/ldap?uid=alice&callback=jQuery1234_5678")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/javascript; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "jQuery1234_5678("+aliceJSON+")", rec.Body.String())
}

func TestGateway_JSONPInvalidCallback(t *testing.T) {
	tests := []string{
		"alert(1)",
		"a;b",
		"1abc",
		"ns..cb",
		"<script>",
	}

	for _, callback := range tests {
		t.Run(callback, func(t *testing.T) {
			searcher := &mockSearcher{}

			rec := serve(t, New(searcher), "/ldap?uid=alice&callback="+url.QueryEscape(callback))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			searcher.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
		})
	}
}

func TestGateway_Cache(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, ldap.Criteria{"cn": "alice", "sn": "smith"}).Return(aliceResult(), nil).Once()
	c := newMapCache()
	m := metrics.New()
	g := New(searcher, WithCache(c, 10*time.Minute), WithMetrics(m, "/metrics"))

	first := serve(t, g, "/ldap?cn=alice&sn=smith")
	assert.Equal(t, "MISS", first.Header().Get(CacheHeader))

	key := CacheKey(testBaseDN, "(&(cn=alice)(sn=smith))")
	require.Contains(t, c.values, key)
	assert.Equal(t, 10*time.Minute, c.ttls[key])

	// Same criteria in another order, with a cache buster, is the same entry.
	second := serve(t, g, "/ldap?sn=smith&_=42&cn=alice")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get(CacheHeader))
	assert.Equal(t, first.Body.String(), second.Body.String())

	searcher.AssertNumberOfCalls(t, "Search", 1)

	metricsRec := serve(t, g, "/metrics")
	assert.Contains(t, metricsRec.Body.String(), `ldap2json_cache_lookups_total{result="hit"} 1`)
	assert.Contains(t, metricsRec.Body.String(), `ldap2json_cache_lookups_total{result="miss"} 1`)
}

func TestGateway_CacheErrorFallsThrough(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, mock.Anything).Return(aliceResult(), nil)
	c := newMapCache()
	c.err = errors.New("redis: connection refused")
	m := metrics.New()

	g := New(searcher, WithCache(c, time.Minute), WithMetrics(m, "/metrics"))

	rec := serve(t, g, "/ldap?uid=alice")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, aliceJSON, rec.Body.String())

	metricsRec := serve(t, g, "/metrics")
	assert.Contains(t, metricsRec.Body.String(), `ldap2json_cache_lookups_total{result="error"} 1`)
}

func TestGateway_Ping(t *testing.T) {
	rec := serve(t, New(&mockSearcher{}), "/ping")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ".", rec.Body.String())
}

func TestGateway_MetricsDisabled(t *testing.T) {
	rec := serve(t, New(&mockSearcher{}), "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, New(&mockSearcher{}, WithMetrics(metrics.New(), "")), "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGateway_RequestID(t *testing.T) {
	g := New(&mockSearcher{})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", maxRequestIDLength+1))
	rec = httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
}

func TestGateway_CORS(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, mock.Anything).Return(aliceResult(), nil)

	g := New(searcher, WithCORS([]string{"https://app.example.com"}))

	req := httptest.NewRequest(http.MethodGet, "/ldap?uid=alice", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/ldap?uid=alice", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGateway_RecoversFromPanic(t *testing.T) {
	searcher := &mockSearcher{}
	searcher.On("Search", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		panic("boom")
	})

	rec := serve(t, New(searcher), "/ldap?uid=alice")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCriteriaFromQuery(t *testing.T) {
	query := url.Values{
		"cn":       {"first", "last"},
		"callback": {"cb"},
		"_":        {"1"},
		"mail":     {"a@x"},
		"empty":    {},
	}

	assert.Equal(t, ldap.Criteria{"cn": "last", "mail": "a@x"}, CriteriaFromQuery(query))
	assert.Empty(t, CriteriaFromQuery(url.Values{}))
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t,
		"%2Fldap%2Fdc%3Dexample%2Cdc%3Dcom%2F%28uid%3Dalice%29",
		CacheKey("dc=example,dc=com", "(uid=alice)"))
}
