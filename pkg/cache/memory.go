package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore keeps pages in process.
type MemoryStore struct {
	cache *ttlcache.Cache[string, *Entry]
	stop  sync.Once
}

// NewMemoryStore creates an in-process store and starts its expiry loop.
// Call Close to stop it.
func NewMemoryStore(capacity uint64) *MemoryStore {
	opts := []ttlcache.Option[string, *Entry]{
		ttlcache.WithDisableTouchOnHit[string, *Entry](),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, *Entry](capacity))
	}

	c := ttlcache.New[string, *Entry](opts...)
	go c.Start()

	return &MemoryStore{cache: c}
}

// Get retrieves a cache entry by key.
func (s *MemoryStore) Get(_ context.Context, key Key) (*Entry, error) {
	item := s.cache.Get(key.String())
	if item == nil || item.IsExpired() {
		return nil, ErrCacheMiss
	}
	entry := item.Value()
	if entry.IsExpired() {
		s.cache.Delete(key.String())
		return nil, ErrCacheMiss
	}
	return entry, nil
}

// Set stores a cache entry until entry.Expires.
func (s *MemoryStore) Set(_ context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	ttl := entry.TTL()
	if ttl <= 0 {
		return nil
	}
	s.cache.Set(key.String(), entry, ttl)
	return nil
}

// DeleteSource removes every entry stored for source.
func (s *MemoryStore) DeleteSource(_ context.Context, source string) error {
	prefix := SourcePrefix(source)
	for _, k := range s.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			s.cache.Delete(k)
		}
	}
	CacheInvalidations.WithLabelValues("memory").Inc()
	return nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// Close stops the expiry loop.
func (s *MemoryStore) Close() {
	s.stop.Do(s.cache.Stop)
}
