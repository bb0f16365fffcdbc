package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Sternrassler/pagesync/pkg/collection"
	"github.com/Sternrassler/pagesync/pkg/pagination"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultTTL is how long a page is served from cache.
const DefaultTTL = 60 * time.Second

// Config holds the caching fetcher configuration.
type Config struct {
	// Source identifies the wrapped endpoint in keys. Required.
	Source string

	// StoreName labels hit metrics ("memory", "redis").
	StoreName string

	// TTL of cached pages.
	TTL time.Duration
}

// Fetcher serves pages from a Store and falls back to the wrapped Fetcher.
// Only successful pages are cached.
type Fetcher[T any] struct {
	inner  pagination.Fetcher[T]
	store  Store
	config Config
	logger zerolog.Logger
}

// NewFetcher wraps inner with a page cache.
func NewFetcher[T any](inner pagination.Fetcher[T], store Store, cfg Config) *Fetcher[T] {
	if inner == nil {
		panic("inner fetcher cannot be nil")
	}
	if store == nil {
		panic("store cannot be nil")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.StoreName == "" {
		cfg.StoreName = "memory"
	}

	return &Fetcher[T]{
		inner:  inner,
		store:  store,
		config: cfg,
		logger: log.With().Str("component", "page-cache").Str("source", cfg.Source).Logger(),
	}
}

// FetchPage returns the cached page for req or fetches and caches it.
// Store failures fall back to the wrapped fetcher.
func (f *Fetcher[T]) FetchPage(ctx context.Context, req collection.PageRequest) (collection.PageResponse[T], error) {
	key := Key{Source: f.config.Source, Offset: req.Offset, Limit: req.Limit, Filter: req.Filter}

	if resp, ok := f.lookup(ctx, key); ok {
		return resp, nil
	}

	resp, err := f.inner.FetchPage(ctx, req)
	if err != nil {
		return resp, err
	}

	f.save(ctx, key, resp)
	return resp, nil
}

// Invalidate drops every cached page of the source.
func (f *Fetcher[T]) Invalidate(ctx context.Context) error {
	if err := f.store.DeleteSource(ctx, f.config.Source); err != nil {
		return err
	}
	f.logger.Debug().Msg("Invalidated cached pages")
	return nil
}

func (f *Fetcher[T]) lookup(ctx context.Context, key Key) (collection.PageResponse[T], bool) {
	entry, err := f.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			f.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache get error")
		}
		CacheMisses.Inc()
		return collection.PageResponse[T]{}, false
	}

	var items []T
	if err := json.Unmarshal(entry.Items, &items); err != nil {
		CacheErrors.WithLabelValues("decode").Inc()
		f.logger.Warn().Err(err).Str("key", key.String()).Msg("Discarding undecodable cache entry")
		CacheMisses.Inc()
		return collection.PageResponse[T]{}, false
	}
	if items == nil {
		items = []T{}
	}

	CacheHits.WithLabelValues(f.config.StoreName).Inc()
	f.logger.Debug().
		Str("key", key.String()).
		Dur("ttl", entry.TTL()).
		Msg("Cache hit")

	return collection.PageResponse[T]{
		Items:      items,
		TotalCount: entry.TotalCount,
		TotalKnown: entry.TotalKnown,
	}, true
}

func (f *Fetcher[T]) save(ctx context.Context, key Key, resp collection.PageResponse[T]) {
	data, err := json.Marshal(resp.Items)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		f.logger.Warn().Err(err).Msg("Failed to encode page for cache")
		return
	}

	now := time.Now()
	entry := &Entry{
		Items:      data,
		TotalCount: resp.TotalCount,
		TotalKnown: resp.TotalKnown,
		Expires:    now.Add(f.config.TTL),
		CachedAt:   now,
	}
	if err := f.store.Set(ctx, key, entry); err != nil {
		f.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to cache page")
	}
}
