/*
Package ldap provides the directory side of the LDAP-to-JSON gateway.

# Architecture Overview

The package is organized into three core components:

  - BuildFilter: pure translation of Criteria into a search filter
  - ConnectionManager: the single live Handle over a fixed endpoint rotation
  - DirectoryClient: searches through the manager, retrying across connection loss

# Filters

BuildFilter ANDs criteria together in ascending attribute-name order, so the
same criteria always yield the same filter string:

	{"cn": "alice"}                        -> (cn=alice)
	{"mail": "a@example.com", "cn": "alice"} -> (&(cn=alice)(mail=a@example.com))

Values are not escaped. Empty criteria are rejected; DirectoryClient substitutes
MatchAll before building.

# Connection Management

Endpoints come from configured URLs or from DNS SRV discovery (SRVDiscovery).
The rotation is fixed at construction and cycles forever: no endpoint is ever
dropped, including one that just failed.

Handles dial lazily. A handle replaced by Connect stays usable for searches
already running on it and is closed when the last of them returns.

# Retry Policy

A search that loses its connection waits

	max(1s, min(MaxWait, (tries-1) * 2s))

then reconnects to the next endpoint and retries, without limit. The wait
honours the search context, which is the only way to abandon the loop. Every
other error is returned at once.

# Error Handling

Errors are classified with errors.Is against ErrConnectionLost,
ErrInvalidCriteria, ErrProtocol and ErrConfiguration. LDAPError keeps the
result code and server diagnostic for logging.

# Thread Safety

ConnectionManager serializes Connect and Current. Concurrent searches that
observe the same failed handle advance the rotation once (Reconnect).

# Example Usage

	config := ldap.DefaultConfig()
	config.LDAPURLs = []string{"ldap://dir1.example.com", "ldap://dir2.example.com"}
	config.BaseDN = "ou=people,dc=example,dc=com"
	config.Scope = ldap.ScopeWholeSubtree

	manager, err := ldap.NewConnectionManager(config.LDAPURLs, config.Timeout)
	if err != nil {
		return err
	}
	defer manager.Close()

	client, err := ldap.NewDirectoryClient(manager, config)
	if err != nil {
		return err
	}

	result, err := client.Search(ctx, ldap.Criteria{"uid": "alice"})
*/
package ldap
