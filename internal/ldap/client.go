package ldap

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/go-hclog"
)

// Search outcomes reported to the Recorder.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// Sleeper waits for d or until ctx is done, whichever comes first.
type Sleeper func(ctx context.Context, d time.Duration) error

// DirectoryClient executes searches against the connection manager's current
// handle, retrying across connection loss.
type DirectoryClient struct {
	manager   *ConnectionManager
	baseDN    string
	scope     SearchScope
	maxWait   time.Duration
	timeLimit time.Duration

	logger   hclog.Logger
	recorder Recorder
	sleep    Sleeper
}

// ClientOption configures a DirectoryClient.
type ClientOption func(*DirectoryClient)

// WithLogger sets the client's logger.
func WithLogger(logger hclog.Logger) ClientOption {
	return func(c *DirectoryClient) {
		c.logger = logger
	}
}

// WithRecorder sets the client's event recorder.
func WithRecorder(recorder Recorder) ClientOption {
	return func(c *DirectoryClient) {
		c.recorder = recorder
	}
}

// WithSleeper replaces the backoff sleep.
func WithSleeper(sleep Sleeper) ClientOption {
	return func(c *DirectoryClient) {
		c.sleep = sleep
	}
}

// NewDirectoryClient creates a client searching config.BaseDN with
// config.Scope through manager.
func NewDirectoryClient(manager *ConnectionManager, config *ConnectionConfig, opts ...ClientOption) (*DirectoryClient, error) {
	if manager == nil {
		return nil, NewConfigurationError("connection manager cannot be nil", nil)
	}
	if config == nil {
		config = DefaultConfig()
	}

	if config.BaseDN != "" {
		if _, err := ldap.ParseDN(config.BaseDN); err != nil {
			return nil, NewConfigurationError(fmt.Sprintf("invalid base DN %q", config.BaseDN), err)
		}
	}

	c := &DirectoryClient{
		manager:   manager,
		baseDN:    config.BaseDN,
		scope:     config.Scope,
		maxWait:   config.MaxWait,
		timeLimit: config.Timeout,
		logger:    hclog.NewNullLogger(),
		recorder:  noopRecorder{},
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// BaseDN returns the base DN searches are rooted at.
func (c *DirectoryClient) BaseDN() string {
	return c.baseDN
}

// Scope returns the configured search scope.
func (c *DirectoryClient) Scope() SearchScope {
	return c.scope
}

// Search turns criteria into a filter, executes it and returns every matching
// record. All criteria must match; empty criteria match every entry.
//
// When the connection is lost the search waits BackoffInterval, connects to
// the next endpoint and tries again, for as long as it takes. Only ctx ends
// that loop. Any other failure is returned immediately.
func (c *DirectoryClient) Search(ctx context.Context, criteria Criteria) (*SearchResult, error) {
	if len(criteria) == 0 {
		criteria = MatchAll()
	}

	filter, err := BuildFilter(criteria)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	req := ldap.NewSearchRequest(
		c.baseDN,
		int(c.scope),
		ldap.NeverDerefAliases,
		0, // No size limit
		int(c.timeLimit.Seconds()),
		false,
		filter,
		nil, // All user attributes
		nil,
	)

	fields := map[string]any{
		"base_dn": c.baseDN,
		"scope":   c.scope.String(),
		"filter":  filter,
	}
	c.logger.Debug("Starting search operation", fieldArgs(SanitizeFields(fields))...)

	tries := 0
	for {
		tries++

		handle := c.manager.Current()
		result, err := handle.Search(ctx, req)
		if err == nil {
			records := toRecords(result.Entries)

			fields["entries_found"] = len(records)
			fields["attempts"] = tries
			fields["duration_ms"] = time.Since(start).Milliseconds()
			c.logger.Debug("Search operation completed successfully", fieldArgs(SanitizeFields(fields))...)
			c.recorder.SearchCompleted(OutcomeSuccess, time.Since(start), len(records))

			return &SearchResult{
				Records: records,
				Filter:  filter,
				Total:   len(records),
			}, nil
		}

		if !IsConnectionLost(err) {
			LogLDAPError(c.logger, "search", err, fields)
			c.recorder.SearchCompleted(OutcomeError, time.Since(start), 0)
			return nil, NewLDAPError("search", err)
		}

		interval := BackoffInterval(tries, c.maxWait)
		c.logger.Error(fmt.Sprintf("Lost connection to LDAP server: reconnecting in %d seconds", int(interval.Seconds())),
			"uri", handle.URI(),
			"attempt", tries,
			"error", err.Error())
		c.recorder.ConnectionLost(handle.URI(), interval)

		if err := c.sleep(ctx, interval); err != nil {
			c.logger.Warn("Search cancelled during reconnect backoff", "attempt", tries, "context_error", err.Error())
			c.recorder.SearchCompleted(OutcomeCancelled, time.Since(start), 0)
			return nil, err
		}

		c.manager.Reconnect(handle)
	}
}

// toRecords converts go-ldap entries, keeping the directory's order.
func toRecords(entries []*ldap.Entry) []*Record {
	records := make([]*Record, 0, len(entries))
	for _, entry := range entries {
		record := &Record{
			DN:         entry.DN,
			Attributes: make(map[string][]string, len(entry.Attributes)),
		}
		for _, attr := range entry.Attributes {
			record.Attributes[attr.Name] = append(record.Attributes[attr.Name], attr.Values...)
		}
		records = append(records, record)
	}
	return records
}

// sleepContext waits for d unless ctx ends first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
