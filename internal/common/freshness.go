// Package common provides shared utilities for Divvy
package common

import "time"

// Freshness windows for dividend data and routing
const (
	// FreshnessDividends is how long a successful dividend fetch keeps a
	// ticker out of the upstream queue (configurable via ingest settings).
	FreshnessDividends = 24 * time.Hour

	// RecentCreationWindow is how long after first sight a ticker still
	// counts as newly created for lane routing.
	RecentCreationWindow = 1 * time.Hour

	// FreshnessCallLogs is how long upstream call logs are retained before
	// data_cleanup jobs purge them.
	FreshnessCallLogs = 30 * 24 * time.Hour
)

// IsFresh returns true if the given timestamp is within the TTL
func IsFresh(updated time.Time, ttl time.Duration) bool {
	if updated.IsZero() {
		return false
	}
	return time.Since(updated) < ttl
}
