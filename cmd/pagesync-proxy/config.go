package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/pagesync/pkg/logging"
	"github.com/caarlos0/env/v11"
)

// Config is read from the environment.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	RedisURL string `env:"REDIS_URL"`

	LogLevel  logging.LogLevel `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool             `env:"LOG_PRETTY" envDefault:"false"`

	UpstreamURL   string `env:"UPSTREAM_URL,required,notEmpty"`
	UpstreamPath  string `env:"UPSTREAM_PATH" envDefault:"/api.php"`
	ResourceParam string `env:"RESOURCE_PARAM" envDefault:"gofor"`
	UserAgent     string `env:"USER_AGENT" envDefault:"pagesync-proxy/1.0"`
	MaxRetries    int    `env:"MAX_RETRIES" envDefault:"2"`

	PageSize          int           `env:"PAGE_SIZE" envDefault:"20"`
	MinVisible        int           `env:"MIN_VISIBLE" envDefault:"5"`
	MaxBackfillRounds int           `env:"MAX_BACKFILL_ROUNDS" envDefault:"5"`
	Debounce          time.Duration `env:"FILTER_DEBOUNCE" envDefault:"300ms"`
	CacheTTL          time.Duration `env:"CACHE_TTL" envDefault:"60s"`
	RateLimit         float64       `env:"RATE_LIMIT" envDefault:"10"`
	RateBurst         int           `env:"RATE_BURST" envDefault:"5"`
	ErrorBudget       int           `env:"ERROR_BUDGET" envDefault:"20"`

	// Collections lists the exposed collections as
	// name:resource:key_field:text_field[:server], comma separated.
	Collections Collections `env:"COLLECTIONS" envDefault:"movies:movies:movie_id:title"`
}

// CollectionConfig describes one collection exposed by the proxy.
type CollectionConfig struct {
	Name      string
	Resource  string
	KeyField  string
	TextField string

	// ServerFilter forwards the filter to the upstream search parameter.
	ServerFilter bool
}

// Collections implements encoding.TextUnmarshaler for the COLLECTIONS variable.
type Collections []CollectionConfig

// UnmarshalText parses a comma separated list of collections.
func (c *Collections) UnmarshalText(text []byte) error {
	var out Collections
	seen := make(map[string]bool)

	for _, raw := range strings.Split(string(text), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.Split(raw, ":")
		if len(parts) < 4 || len(parts) > 5 {
			return fmt.Errorf("collection %q: want name:resource:key_field:text_field[:server]", raw)
		}
		col := CollectionConfig{
			Name:      parts[0],
			Resource:  parts[1],
			KeyField:  parts[2],
			TextField: parts[3],
		}
		if len(parts) == 5 {
			if parts[4] != "server" {
				return fmt.Errorf("collection %q: unknown filter mode %q", raw, parts[4])
			}
			col.ServerFilter = true
		}
		for _, p := range parts[:4] {
			if p == "" {
				return fmt.Errorf("collection %q: empty field", raw)
			}
		}
		if seen[col.Name] {
			return fmt.Errorf("collection %q defined twice", col.Name)
		}
		seen[col.Name] = true
		out = append(out, col)
	}

	if len(out) == 0 {
		return fmt.Errorf("no collections configured")
	}
	*c = out
	return nil
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("error getting env configs: %w", err)
	}
	return cfg, nil
}
