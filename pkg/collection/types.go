package collection

import "fmt"

// KeyFunc extracts the unique key of an item.
type KeyFunc[T any] func(item T) string

// PageRequest describes one bounded page fetch.
type PageRequest struct {
	// Offset is the number of items to skip at the source.
	Offset int

	// Limit is the maximum number of items the page may contain.
	Limit int

	// Filter is passed through to sources that search server-side. Empty means no filter.
	Filter string
}

// Validate checks the request bounds.
func (r PageRequest) Validate() error {
	if r.Offset < 0 {
		return fmt.Errorf("offset must be >= 0 (got %d)", r.Offset)
	}
	if r.Limit <= 0 {
		return fmt.Errorf("limit must be > 0 (got %d)", r.Limit)
	}
	return nil
}

// PageResponse is one page returned by a source.
type PageResponse[T any] struct {
	// Items in source order.
	Items []T

	// TotalCount is the total size of the remote collection, valid only when TotalKnown.
	TotalCount int

	// TotalKnown is false when the source did not report a total.
	TotalKnown bool
}

// WithTotal returns a response carrying a known total count.
func WithTotal[T any](items []T, total int) PageResponse[T] {
	return PageResponse[T]{Items: items, TotalCount: total, TotalKnown: true}
}

// Status is the lifecycle state of a collection.
type Status int

const (
	// StatusIdle: nothing fetched since construction or the last refresh.
	StatusIdle Status = iota

	// StatusLoading: the first page is in flight.
	StatusLoading

	// StatusLoadingMore: a following page is in flight.
	StatusLoadingMore

	// StatusLoaded: the last fetch succeeded and more pages are available.
	StatusLoaded

	// StatusExhausted: the source has no more pages.
	StatusExhausted

	// StatusError: the last fetch failed.
	StatusError
)

// String returns the status name used in logs and JSON output.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusLoadingMore:
		return "loading_more"
	case StatusLoaded:
		return "loaded"
	case StatusExhausted:
		return "exhausted"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// InFlight reports whether a fetch is outstanding.
func (s Status) InFlight() bool {
	return s == StatusLoading || s == StatusLoadingMore
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
