// Package store defines the contract between the interception engine and the
// cache backends that hold entries and distributed locks. Three adapters ship
// with CQCache: memory (in-process), redis, and postgres. Applications can
// supply their own adapter by implementing Store.
//
// Adapters report backend failures as Temporary errors from pkg/errors. The
// engine treats a Temporary error as a cache miss and proceeds to the origin,
// so a down backend degrades throughput, never correctness.
//
// Example usage:
//
//	st := memory.New()
//	defer st.Close()
//
//	err := st.Set(ctx, store.Key("user", "123"), payload, 30*time.Minute)
//	data, found, err := st.Get(ctx, "user:123")
package store

import (
	"context"
	"strings"
	"time"
)

// Store defines the operations a cache backend must provide.
// All methods respect context cancellation and timeout.
type Store interface {
	// Get retrieves the raw entry stored under key.
	// The boolean reports whether the key was present; absence is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key with the given TTL, replacing any existing
	// entry. A non-positive TTL stores the entry without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. The boolean reports whether an entry was removed.
	Delete(ctx context.Context, key string) (bool, error)

	// DeleteByPattern removes every key matching pattern and returns the
	// number of entries removed. Only '*' is special in a pattern; it matches
	// any run of characters, so "user:*" clears the user namespace.
	DeleteByPattern(ctx context.Context, pattern string) (int, error)

	// TryLock attempts to acquire the distributed lock named key for the
	// given lease. On success it returns the holder's token and true. When
	// the lock is held elsewhere it returns a zero token and false without
	// blocking.
	TryLock(ctx context.Context, key string, lease time.Duration) (LockToken, bool, error)

	// Unlock releases the lock identified by token. Only the holder recorded
	// in the token can release it; releasing a lock that has already expired
	// or been re-acquired by another holder is a no-op, not an error.
	Unlock(ctx context.Context, token LockToken) error

	// CheckHealth verifies backend connectivity and returns an error if unavailable.
	CheckHealth(ctx context.Context) error

	// Close releases all resources associated with the store.
	Close() error
}

// LockToken identifies one acquisition of a distributed lock. The Holder id
// is unique per acquisition, so a token from a lease that expired cannot
// release the lock after another caller re-acquires it.
type LockToken struct {
	Key       string
	Holder    string
	ExpiresAt time.Time
}

// Key builds a consistent cache key by joining a prefix and parts with colons.
// This keeps keys in predictable namespaces so pattern eviction like "user:*"
// works across the application.
//
// Example:
//
//	key := store.Key("user", userID)               // "user:123"
//	key := store.Key("account", accountID, "plan") // "account:abc:plan"
//
// Empty parts are filtered out to prevent double colons.
func Key(prefix string, parts ...string) string {
	filtered := make([]string, 0, len(parts)+1)

	if prefix != "" {
		filtered = append(filtered, prefix)
	}

	for _, part := range parts {
		if part != "" {
			filtered = append(filtered, part)
		}
	}

	return strings.Join(filtered, ":")
}

// MatchPattern reports whether key matches pattern, where '*' matches any run
// of characters and every other byte matches literally. Backends without
// native pattern support use it to implement DeleteByPattern.
func MatchPattern(pattern, key string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == key
	}

	parts := strings.Split(pattern, "*")

	if !strings.HasPrefix(key, parts[0]) {
		return false
	}
	key = key[len(parts[0]):]

	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(key, parts[i])
		if idx < 0 {
			return false
		}
		key = key[idx+len(parts[i]):]
	}

	return strings.HasSuffix(key, parts[len(parts)-1])
}
