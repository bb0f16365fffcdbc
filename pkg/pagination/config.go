package pagination

import "time"

const (
	// DefaultPageSize is the page limit of the list endpoints.
	DefaultPageSize = 20

	// DefaultTimeout bounds a single page fetch.
	DefaultTimeout = 15 * time.Second
)

// Config holds coordinator configuration.
type Config struct {
	// Name identifies the collection in logs and metric labels (e.g. "movies", "friends").
	Name string

	// PageSize is the limit sent with every page request.
	PageSize int

	// Timeout per page fetch.
	Timeout time.Duration

	// ForwardFilter passes the active filter to the Fetcher for sources that
	// search server-side. Otherwise the filter only narrows the visible items.
	ForwardFilter bool
}

// DefaultConfig returns the defaults shared by the list screens.
func DefaultConfig() Config {
	return Config{
		Name:     "collection",
		PageSize: DefaultPageSize,
		Timeout:  DefaultTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "collection"
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}
