// Package lock coordinates per-key distributed computation locks over a
// store.Store. One caller per key wins the lock and computes; losers poll the
// cache entry the winner is expected to produce rather than retrying the
// lock, so contention never turns into a lock-acquisition storm. All lock
// state lives in the external store, never in process, which keeps the
// coordinator correct across replicas and restarts.
package lock

import (
	"context"
	"time"

	"github.com/Combine-Capital/cqcache/pkg/config"
	"github.com/Combine-Capital/cqcache/pkg/logging"
	"github.com/Combine-Capital/cqcache/pkg/store"
)

// KeyPrefix namespaces lock keys away from the cache entries they guard, so
// a lock for cache key "user:1" lives under "lock:user:1".
const KeyPrefix = "lock:"

// defaultPollInterval is used when the configuration leaves the poll
// interval unset.
const defaultPollInterval = 50 * time.Millisecond

// Coordinator mediates distributed lock acquisition and entry waiting.
type Coordinator struct {
	store store.Store
	poll  time.Duration
	log   *logging.Logger
}

// NewCoordinator creates a coordinator over the given store. PollInterval
// from cfg controls how often AwaitEntry re-reads the store; a nil logger
// disables coordinator logging.
func NewCoordinator(st store.Store, cfg config.LockConfig, log *logging.Logger) *Coordinator {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	if log == nil {
		log = logging.Nop()
	}

	return &Coordinator{
		store: st,
		poll:  poll,
		log:   log.WithComponent("lock.coordinator"),
	}
}

// Acquire makes a single attempt at the lock guarding key, with the given
// lease bounding holder lifetime through store TTL semantics. It returns the
// holder token and true when this caller won; false without error when the
// lock is held elsewhere. It never blocks waiting for the lock.
func (c *Coordinator) Acquire(ctx context.Context, key string, lease time.Duration) (store.LockToken, bool, error) {
	token, acquired, err := c.store.TryLock(ctx, KeyPrefix+key, lease)
	if err != nil {
		return store.LockToken{}, false, err
	}

	c.log.Debug().
		Str(logging.LockKey, token.Key).
		Str(logging.CacheKey, key).
		Bool("acquired", acquired).
		Msg("Lock attempt")

	if !acquired {
		return store.LockToken{}, false, nil
	}
	return token, true, nil
}

// Release releases a lock acquired by this caller. Releasing a zero token is
// a no-op, as is releasing a token whose lease already lapsed and was taken
// over; the store's holder check makes repeat releases harmless.
func (c *Coordinator) Release(ctx context.Context, token store.LockToken) error {
	if token.Holder == "" {
		return nil
	}
	return c.store.Unlock(ctx, token)
}

// AwaitEntry polls the store for the cache entry under key, checking
// immediately and then at the configured poll interval, until the entry
// appears, the wait budget lapses, or ctx is cancelled. A lapsed budget
// returns found=false without error; the caller is expected to degrade to
// computing without the lock. Note that key is the cache key, not the lock
// key: waiters watch for the winner's value, never the lock itself.
func (c *Coordinator) AwaitEntry(ctx context.Context, key string, wait time.Duration) ([]byte, bool, error) {
	if wait <= 0 {
		return nil, false, nil
	}

	// The winner may have stored before we got here.
	data, found, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return data, true, nil
	}

	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-deadline.C:
			c.log.Debug().
				Str(logging.CacheKey, key).
				Dur("waited", wait).
				Msg("Wait for contended entry timed out")
			return nil, false, nil
		case <-ticker.C:
			data, found, err := c.store.Get(ctx, key)
			if err != nil {
				return nil, false, err
			}
			if found {
				c.log.Debug().
					Str(logging.CacheKey, key).
					Msg("Contended entry produced by lock holder")
				return data, true, nil
			}
		}
	}
}
