package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/isometry/ldap2json/internal/ldap"
)

// Query parameters that never become search criteria.
const (
	callbackParam    = "callback"
	cacheBusterParam = "_"
)

// CacheHeader reports whether a response was served from cache.
const CacheHeader = "X-Cache"

// callbackPattern accepts a JavaScript identifier path such as jQuery123 or ns.cb.
var callbackPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*(\.[A-Za-z_$][A-Za-z0-9_$]*)*$`)

// handleSearch serves GET /ldap?attr=value&... as a JSON document of the
// matching entries, wrapped in callback(...) when a JSONP callback is given.
func (g *Gateway) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := g.logger.With("request_id", middleware.GetReqID(ctx))

	query := r.URL.Query()
	callback := query.Get(callbackParam)
	if callback != "" && !callbackPattern.MatchString(callback) {
		http.Error(w, "invalid callback", http.StatusBadRequest)
		return
	}

	criteria := CriteriaFromQuery(query)
	if len(criteria) == 0 {
		criteria = ldap.MatchAll()
	}

	filter, err := ldap.BuildFilter(criteria)
	if err != nil {
		logger.Error("Failed to build filter", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	key := CacheKey(g.searcher.BaseDN(), filter)

	body, found, err := g.cache.Get(ctx, key)
	switch {
	case err != nil:
		logger.Warn("Result cache lookup failed", "key", key, "error", err)
		g.cacheError()
	case found:
		g.cacheHit()
	default:
		g.cacheMiss()
	}

	if !found {
		result, err := g.searcher.Search(ctx, criteria)
		if err != nil {
			if errors.Is(err, ctx.Err()) {
				logger.Debug("Search abandoned by client", "filter", filter)
			} else {
				logger.Error("Search failed", "filter", filter, "error", err)
			}
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		if len(result.Records) == 0 {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}

		body, err = EncodeRecords(result.Records)
		if err != nil {
			logger.Error("Failed to encode result", "filter", filter, "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		if err := g.cache.Set(ctx, key, body, g.lifetime); err != nil {
			logger.Warn("Result cache store failed", "key", key, "error", err)
		}
	}

	if found {
		w.Header().Set(CacheHeader, "HIT")
	} else {
		w.Header().Set(CacheHeader, "MISS")
	}

	if callback != "" {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		fmt.Fprintf(w, "%s(%s)", callback, body)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// CriteriaFromQuery turns query parameters into search criteria. The JSONP
// callback and the cache-busting "_" parameter are dropped; for a repeated
// key the last value wins.
func CriteriaFromQuery(query url.Values) ldap.Criteria {
	criteria := make(ldap.Criteria, len(query))
	for key, values := range query {
		if key == callbackParam || key == cacheBusterParam || len(values) == 0 {
			continue
		}
		criteria[key] = values[len(values)-1]
	}
	return criteria
}

// CacheKey derives the cache key for a search from the base DN and the
// canonical filter rather than the raw query string. Requests that differ only
// in parameter order, repeated keys or the JSONP callback and "_" parameters
// share one entry.
func CacheKey(baseDN, filter string) string {
	return url.QueryEscape("/ldap/" + baseDN + "/" + filter)
}

func (g *Gateway) cacheHit() {
	if g.metrics != nil {
		g.metrics.CacheHit()
	}
}

func (g *Gateway) cacheMiss() {
	if g.metrics != nil {
		g.metrics.CacheMiss()
	}
}

func (g *Gateway) cacheError() {
	if g.metrics != nil {
		g.metrics.CacheError()
	}
}
