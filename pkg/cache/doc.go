// Package cache provides a short-lived page cache in front of a
// pagination.Fetcher.
//
// Pages are cached per (source, offset, limit, filter) for a TTL (default 60s)
// in one of two stores:
//
//   - MemoryStore: in process, backed by ttlcache
//   - RedisStore: shared between proxy replicas, backed by Redis
//
// A refresh must reach the source, so synchronizers call Invalidate on
// Refresh, which drops every page of the source.
//
// # Basic Usage
//
//	store := cache.NewMemoryStore(0)
//	defer store.Close()
//
//	fetcher := cache.NewFetcher[Movie](httpFetcher, store, cache.Config{
//		Source: httpFetcher.Source(),
//	})
//
//	resp, err := fetcher.FetchPage(ctx, collection.PageRequest{Limit: 20})
//
// # Redis
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := cache.NewRedisStore(redisClient)
//
// Keys of one source are tracked in the set "pagesync:<source>:keys" so
// DeleteSource does not need to scan the keyspace.
//
// # Metrics
//
//   - pagesync_cache_hits_total{store} - Cache hits
//   - pagesync_cache_misses_total - Cache misses
//   - pagesync_cache_invalidations_total{store} - Source invalidations
//   - pagesync_cache_errors_total{operation} - Cache operation errors
//
// The cache is not an offline store: entries expire and are never used when
// the source is unreachable past their TTL.
package cache
