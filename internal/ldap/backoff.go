package ldap

import "time"

// BackoffInterval returns how long to wait after the tries-th consecutive
// connection failure of a search (tries counts from 1).
//
// The wait grows by two seconds per failure, starting from zero, and is then
// clamped to [1s, maxWait]: 1s, 2s, 4s, 6s, ... For maxWait below one second
// the floor wins.
func BackoffInterval(tries int, maxWait time.Duration) time.Duration {
	interval := time.Duration(max(tries-1, 0)) * 2 * time.Second
	return max(time.Second, min(maxWait, interval))
}
