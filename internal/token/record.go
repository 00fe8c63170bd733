// Package token holds the bearer-token record and the process-local cache
// that decides when a refresh is due.
package token

import "time"

// DefaultSafetyMargin is the lead time before actual expiry at which a
// refresh is proactively triggered.
const DefaultSafetyMargin = 5 * time.Minute

// Record is one issued bearer token.
//
// A Record is immutable once constructed; a refresh creates a new Record,
// never mutates one in place. ExpiresAt is always after IssuedAt.
type Record struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Source    string
}

// Valid reports whether the token is still usable at the given instant.
func (r Record) Valid(now time.Time) bool {
	return r.Value != "" && now.Before(r.ExpiresAt)
}

// TTL returns the remaining validity window at the given instant.
// It is negative once the record has expired.
func (r Record) TTL(now time.Time) time.Duration {
	return r.ExpiresAt.Sub(now)
}

// NeedsRefresh reports whether the record is inside the safety margin
// (or already expired) at the given instant.
func (r Record) NeedsRefresh(now time.Time, margin time.Duration) bool {
	return !now.Before(r.ExpiresAt.Add(-margin))
}
