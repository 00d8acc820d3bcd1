package ldap

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// BuildFilter transforms criteria into a search filter.
//
// A single pair yields "(attr=value)"; several pairs are ANDed together as
// "(&(a=1)(b=2))". Pairs are always ordered by attribute name so the same
// criteria produce the same filter, and therefore the same cache key, whatever
// order the caller supplied them in. Names and values are not escaped; the
// directory rejects malformed filters.
func BuildFilter(criteria Criteria) (string, error) {
	if len(criteria) == 0 {
		return "", &LDAPError{
			Operation: "build_filter",
			Category:  ErrorCategoryCriteria,
			Message:   "criteria cannot be empty",
		}
	}

	var b strings.Builder
	for _, attr := range slices.Sorted(maps.Keys(criteria)) {
		fmt.Fprintf(&b, "(%s=%s)", attr, criteria[attr])
	}

	if len(criteria) > 1 {
		return "(&" + b.String() + ")", nil
	}
	return b.String(), nil
}
