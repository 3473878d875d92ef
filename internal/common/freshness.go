// Package common provides shared utilities for Folio
package common

import "time"

// FreshnessManualOverride is the default lifetime of a manual previous close
// when settings omit manualOverrideTTL.
const FreshnessManualOverride = 24 * time.Hour

// IsFresh returns true if the given timestamp is within the TTL
func IsFresh(updated time.Time, ttl time.Duration) bool {
	return IsFreshAt(updated, ttl, time.Now())
}

// IsFreshAt is IsFresh evaluated at a fixed instant.
func IsFreshAt(updated time.Time, ttl time.Duration, now time.Time) bool {
	if updated.IsZero() {
		return false
	}
	return now.Sub(updated) < ttl
}
