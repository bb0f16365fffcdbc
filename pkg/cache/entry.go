package cache

import (
	"encoding/json"
	"time"
)

// Entry is a cached page response.
type Entry struct {
	// Items is the JSON encoded item list of the page.
	Items json.RawMessage `json:"items"`

	// TotalCount and TotalKnown mirror the page response.
	TotalCount int  `json:"total_count"`
	TotalKnown bool `json:"total_known"`

	// Expires is when the entry becomes stale.
	Expires time.Time `json:"expires"`

	// CachedAt is when the page was stored.
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired returns true if the cache entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
