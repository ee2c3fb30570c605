// Package redis provides the Redis store adapter. Entries are plain byte
// payloads with Redis-native TTL expiry; pattern eviction walks the keyspace
// with SCAN so it never blocks the server the way KEYS would. Distributed
// locks are SET NX with a per-acquisition holder id and a Lua
// compare-and-delete release, so an expired holder can never release a lock
// that has been re-acquired by someone else.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/Combine-Capital/cqcache/pkg/config"
	"github.com/Combine-Capital/cqcache/pkg/errors"
	"github.com/Combine-Capital/cqcache/pkg/logging"
	"github.com/Combine-Capital/cqcache/pkg/store"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// scanBatchSize is the COUNT hint for SCAN during pattern eviction.
const scanBatchSize = 100

// unlockScript deletes the lock key only while the caller is still the
// holder. Returns 1 when the lock was released, 0 when it had already
// expired or been taken over.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Store implements the store.Store interface using Redis as the backend.
type Store struct {
	client *redis.Client
	cfg    config.RedisConfig
	log    *logging.Logger
}

// New creates a Redis store adapter with the given configuration.
// It accepts context for cancellation during connection establishment.
// A nil logger disables adapter logging.
//
// Transient command failures are retried by the client itself according to
// MaxRetries config, so operations here do not wrap their own retry loop.
func New(ctx context.Context, cfg config.RedisConfig, log *logging.Logger) (*Store, error) {
	opts := &redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}

	client := redis.NewClient(opts)

	// Test the connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.NewTemporary("failed to connect to Redis", err)
	}

	if log == nil {
		log = logging.Nop()
	}

	return &Store{
		client: client,
		cfg:    cfg,
		log:    log.WithComponent("store.redis"),
	}, nil
}

// Get retrieves the raw entry stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, errors.NewTemporary("failed to get cache entry", err)
	}
	return data, true, nil
}

// Set stores value under key with the specified TTL.
// A non-positive TTL stores the entry without expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return errors.NewTemporary("failed to set cache entry", err)
	}
	return nil
}

// Delete removes key, reporting whether an entry was removed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, errors.NewTemporary("failed to delete cache entry", err)
	}
	return n > 0, nil
}

// DeleteByPattern removes every key matching pattern using an incremental
// SCAN, returning the number of entries removed.
func (s *Store) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	var cursor uint64
	removed := 0

	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return removed, errors.NewTemporary("failed to scan keys for eviction", err)
		}

		if len(keys) > 0 {
			n, err := s.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, errors.NewTemporary("failed to delete matched keys", err)
			}
			removed += int(n)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	s.log.Debug().
		Str(logging.Operation, "delete_by_pattern").
		Str(logging.CacheKey, pattern).
		Int("removed", removed).
		Msg("Pattern eviction completed")

	return removed, nil
}

// TryLock attempts to acquire the lock named key for the given lease using
// SET NX with the holder id as the value.
func (s *Store) TryLock(ctx context.Context, key string, lease time.Duration) (store.LockToken, bool, error) {
	holder := uuid.NewString()

	ok, err := s.client.SetNX(ctx, key, holder, lease).Result()
	if err != nil {
		return store.LockToken{}, false, errors.NewTemporary("failed to acquire lock", err)
	}
	if !ok {
		return store.LockToken{}, false, nil
	}

	return store.LockToken{
		Key:       key,
		Holder:    holder,
		ExpiresAt: time.Now().Add(lease),
	}, true, nil
}

// Unlock releases the lock identified by token via compare-and-delete.
// A token whose lease expired and was re-acquired releases nothing.
func (s *Store) Unlock(ctx context.Context, token store.LockToken) error {
	res, err := unlockScript.Run(ctx, s.client, []string{token.Key}, token.Holder).Result()
	if err != nil {
		return errors.NewTemporary("failed to release lock", err)
	}

	if released, ok := res.(int64); ok && released == 0 {
		s.log.Debug().
			Str(logging.LockKey, token.Key).
			Msg("Lock already expired or re-acquired at release")
	}
	return nil
}

// CheckHealth verifies backend connectivity using the Redis PING command.
func (s *Store) CheckHealth(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errors.NewTemporary("Redis health check failed", err)
	}
	return nil
}

// Close releases all resources associated with the store.
func (s *Store) Close() error {
	return s.client.Close()
}

// Compile-time interface check.
var _ store.Store = (*Store)(nil)
