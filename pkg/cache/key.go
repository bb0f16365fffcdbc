package cache

import (
	"fmt"
	"strings"
)

// Key identifies one cached page.
type Key struct {
	// Source identifies the endpoint and fixed params (e.g. client.HTTPFetcher.Source()).
	Source string

	Offset int
	Limit  int

	// Filter is the server-side filter, empty when none.
	Filter string
}

// String generates a deterministic cache key string.
// Format: pagesync:<source>:offset=<n>:limit=<n>[:filter=<text>]
//
// Example:
//
//	pagesync:http://api/api.php?gofor=movies:offset=20:limit=20
func (k Key) String() string {
	parts := []string{
		SourcePrefix(k.Source) + fmt.Sprintf("offset=%d", k.Offset),
		fmt.Sprintf("limit=%d", k.Limit),
	}
	if k.Filter != "" {
		parts = append(parts, "filter="+k.Filter)
	}
	return strings.Join(parts, ":")
}

// SourcePrefix is the prefix shared by every key of source.
func SourcePrefix(source string) string {
	return "pagesync:" + source + ":"
}
