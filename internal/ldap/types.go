package ldap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// ConnectionConfig holds configuration for the directory connection.
type ConnectionConfig struct {
	// Connection settings
	Domain   string        // Domain for SRV discovery (used when LDAPURLs is empty)
	LDAPURLs []string      // Endpoint rotation, in order
	BaseDN   string        // Base DN for searches
	Scope    SearchScope   // Search scope, fixed for the client's lifetime
	Timeout  time.Duration // Dial timeout and server-side search time limit

	// Retry settings
	MaxWait time.Duration // Upper bound on the wait between reconnection attempts
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		LDAPURLs: []string{"ldap://localhost"},
		Scope:    ScopeBaseObject,
		Timeout:  30 * time.Second,
		MaxWait:  120 * time.Second,
	}
}

// Criteria maps attribute names to the value each must match.
// An empty Criteria matches every entry once the directory client substitutes MatchAll.
type Criteria map[string]string

// MatchAll returns the criterion that matches every entry.
func MatchAll() Criteria {
	return Criteria{"objectclass": "*"}
}

// Record is a single entry returned by the directory.
// Attribute semantics are not interpreted; values are passed through as returned.
type Record struct {
	DN         string
	Attributes map[string][]string
}

// SearchResult contains search results and metadata.
type SearchResult struct {
	Records []*Record
	Filter  string
	Total   int
}

// Conn is the part of a directory connection used for searching.
type Conn interface {
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

// Dialer opens a connection to the endpoint at uri.
type Dialer func(ctx context.Context, uri string) (Conn, error)

// Recorder receives directory events for instrumentation.
type Recorder interface {
	Connected(endpoint string)
	ConnectionLost(endpoint string, wait time.Duration)
	SearchCompleted(outcome string, duration time.Duration, entries int)
}

type noopRecorder struct{}

func (noopRecorder) Connected(string) {}

func (noopRecorder) ConnectionLost(string, time.Duration) {}

func (noopRecorder) SearchCompleted(string, time.Duration, int) {}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	Endpoint  string // Endpoint of the current handle
	Endpoints int    // Size of the rotation
	Handles   int64  // Handles created, including the initial one
	Uptime    time.Duration
}

// SearchScope defines LDAP search scope.
type SearchScope int

const (
	ScopeBaseObject SearchScope = iota
	ScopeSingleLevel
	ScopeWholeSubtree
)

// String returns the scope name as used in configuration files.
func (s SearchScope) String() string {
	switch s {
	case ScopeBaseObject:
		return "base"
	case ScopeSingleLevel:
		return "one"
	case ScopeWholeSubtree:
		return "sub"
	default:
		return "unknown"
	}
}

// ParseSearchScope parses a scope name. Both the short names and the
// go-ldap style names are accepted, case-insensitively.
func ParseSearchScope(s string) (SearchScope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "base", "baseobject":
		return ScopeBaseObject, nil
	case "one", "onelevel", "singlelevel":
		return ScopeSingleLevel, nil
	case "sub", "subtree", "wholesubtree":
		return ScopeWholeSubtree, nil
	default:
		return ScopeBaseObject, NewConfigurationError(fmt.Sprintf("unknown search scope %q", s), nil)
	}
}
