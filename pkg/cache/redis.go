package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store persists page entries.
type Store interface {
	// Get returns ErrCacheMiss if the key doesn't exist or the entry is expired.
	Get(ctx context.Context, key Key) (*Entry, error)

	// Set stores entry until entry.Expires. Expired entries are not stored.
	Set(ctx context.Context, key Key, entry *Entry) error

	// DeleteSource removes every entry of source.
	DeleteSource(ctx context.Context, source string) error
}

// RedisStore stores pages in Redis so replicas share them. Keys of one source
// are tracked in a set for invalidation.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a store with Redis backend.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{
		redis: redisClient,
	}
}

func sourceSetKey(source string) string {
	return SourcePrefix(source) + "keys"
}

// Get retrieves a cache entry by key.
func (s *RedisStore) Get(ctx context.Context, key Key) (*Entry, error) {
	data, err := s.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		_ = s.redis.Del(ctx, key.String()).Err()
		return nil, ErrCacheMiss
	}

	return &entry, nil
}

// Set stores a cache entry with TTL based on the entry's Expires field.
func (s *RedisStore) Set(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	setKey := sourceSetKey(key.Source)
	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, key.String(), data, ttl)
	pipe.SAdd(ctx, setKey, key.String())
	pipe.Expire(ctx, setKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// DeleteSource removes every entry stored for source.
func (s *RedisStore) DeleteSource(ctx context.Context, source string) error {
	setKey := sourceSetKey(source)

	keys, err := s.redis.SMembers(ctx, setKey).Result()
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis smembers: %w", err)
	}

	keys = append(keys, setKey)
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}

	CacheInvalidations.WithLabelValues("redis").Inc()
	return nil
}
