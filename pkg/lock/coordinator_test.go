package lock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Combine-Capital/cqcache/pkg/config"
	"github.com/Combine-Capital/cqcache/pkg/errors"
	"github.com/Combine-Capital/cqcache/pkg/store"
	"github.com/Combine-Capital/cqcache/pkg/store/memory"
)

// countingStore wraps a store and counts Get/Unlock calls, optionally
// failing Get with an injected error.
type countingStore struct {
	store.Store

	gets    atomic.Int64
	unlocks atomic.Int64
	getErr  error
}

func (c *countingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.gets.Add(1)
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	return c.Store.Get(ctx, key)
}

func (c *countingStore) Unlock(ctx context.Context, token store.LockToken) error {
	c.unlocks.Add(1)
	return c.Store.Unlock(ctx, token)
}

func newTestCoordinator(poll time.Duration) (*Coordinator, *countingStore) {
	cs := &countingStore{Store: memory.New()}
	cfg := config.LockConfig{PollInterval: poll}
	return NewCoordinator(cs, cfg, nil), cs
}

func TestAcquireAndRelease(t *testing.T) {
	c, _ := newTestCoordinator(5 * time.Millisecond)
	ctx := context.Background()

	token, ok, err := c.Acquire(ctx, "user:1", 30*time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected to win uncontended lock")
	}

	_, ok, err = c.Acquire(ctx, "user:1", 30*time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if ok {
		t.Error("Expected second acquisition to lose")
	}

	if err := c.Release(ctx, token); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	_, ok, err = c.Acquire(ctx, "user:1", 30*time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !ok {
		t.Error("Expected lock to be available after release")
	}
}

// TestLockKeyspaceIsSeparate verifies lock keys never collide with cache
// entries for the same key
func TestLockKeyspaceIsSeparate(t *testing.T) {
	c, cs := newTestCoordinator(5 * time.Millisecond)
	ctx := context.Background()

	if err := cs.Set(ctx, "user:1", []byte("cached"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	token, ok, err := c.Acquire(ctx, "user:1", 30*time.Second)
	if err != nil || !ok {
		t.Fatalf("Acquire failed: ok=%v err=%v", ok, err)
	}
	if token.Key != "lock:user:1" {
		t.Errorf("Expected lock key 'lock:user:1', got %q", token.Key)
	}

	data, found, err := cs.Get(ctx, "user:1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found || string(data) != "cached" {
		t.Error("Expected cache entry to be untouched by lock acquisition")
	}
}

func TestLeaseExpiry(t *testing.T) {
	c, _ := newTestCoordinator(5 * time.Millisecond)
	ctx := context.Background()

	_, ok, err := c.Acquire(ctx, "user:1", 20*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("Acquire failed: ok=%v err=%v", ok, err)
	}

	time.Sleep(30 * time.Millisecond)

	_, ok, err = c.Acquire(ctx, "user:1", 30*time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !ok {
		t.Error("Expected lapsed lease to be re-acquirable")
	}
}

func TestReleaseZeroToken(t *testing.T) {
	c, cs := newTestCoordinator(5 * time.Millisecond)

	if err := c.Release(context.Background(), store.LockToken{}); err != nil {
		t.Fatalf("Release of zero token failed: %v", err)
	}
	if cs.unlocks.Load() != 0 {
		t.Error("Expected zero token release to skip the store")
	}
}

func TestAwaitEntry(t *testing.T) {
	t.Run("entry already present", func(t *testing.T) {
		c, cs := newTestCoordinator(5 * time.Millisecond)
		ctx := context.Background()

		if err := cs.Set(ctx, "user:1", []byte("ready"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		cs.gets.Store(0)

		data, found, err := c.AwaitEntry(ctx, "user:1", 500*time.Millisecond)
		if err != nil {
			t.Fatalf("AwaitEntry failed: %v", err)
		}
		if !found || string(data) != "ready" {
			t.Fatalf("Expected immediate hit, got found=%v data=%q", found, data)
		}
		if cs.gets.Load() != 1 {
			t.Errorf("Expected a single immediate read, got %d", cs.gets.Load())
		}
	})

	t.Run("entry appears during wait", func(t *testing.T) {
		c, cs := newTestCoordinator(5 * time.Millisecond)
		ctx := context.Background()

		go func() {
			time.Sleep(20 * time.Millisecond)
			_ = cs.Set(ctx, "user:2", []byte("produced"), time.Minute)
		}()

		data, found, err := c.AwaitEntry(ctx, "user:2", 500*time.Millisecond)
		if err != nil {
			t.Fatalf("AwaitEntry failed: %v", err)
		}
		if !found {
			t.Fatal("Expected entry to appear during wait")
		}
		if string(data) != "produced" {
			t.Errorf("Expected 'produced', got %q", data)
		}
	})

	t.Run("wait budget lapses", func(t *testing.T) {
		c, _ := newTestCoordinator(5 * time.Millisecond)

		start := time.Now()
		data, found, err := c.AwaitEntry(context.Background(), "user:never", 30*time.Millisecond)
		if err != nil {
			t.Fatalf("AwaitEntry failed: %v", err)
		}
		if found || data != nil {
			t.Error("Expected timeout to report not found")
		}
		if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
			t.Errorf("Expected to wait the full budget, returned after %v", elapsed)
		}
	})

	t.Run("zero wait returns immediately", func(t *testing.T) {
		c, cs := newTestCoordinator(5 * time.Millisecond)

		_, found, err := c.AwaitEntry(context.Background(), "user:1", 0)
		if err != nil {
			t.Fatalf("AwaitEntry failed: %v", err)
		}
		if found {
			t.Error("Expected zero wait to report not found")
		}
		if cs.gets.Load() != 0 {
			t.Error("Expected zero wait to skip the store entirely")
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		c, _ := newTestCoordinator(5 * time.Millisecond)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		_, _, err := c.AwaitEntry(ctx, "user:never", time.Second)
		if err == nil {
			t.Fatal("Expected cancellation error")
		}
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got: %v", err)
		}
	})

	t.Run("store error surfaces", func(t *testing.T) {
		c, cs := newTestCoordinator(5 * time.Millisecond)
		cs.getErr = errors.NewTemporary("store down", nil)

		_, _, err := c.AwaitEntry(context.Background(), "user:1", 100*time.Millisecond)
		if err == nil {
			t.Fatal("Expected store error to surface")
		}
		if !errors.IsTemporary(err) {
			t.Errorf("Expected temporary error, got: %v", err)
		}
	})
}

// TestContendedFlow exercises the full winner/waiter interaction
func TestContendedFlow(t *testing.T) {
	c, cs := newTestCoordinator(5 * time.Millisecond)
	ctx := context.Background()

	// Winner takes the lock.
	token, ok, err := c.Acquire(ctx, "report:q4", 30*time.Second)
	if err != nil || !ok {
		t.Fatalf("Acquire failed: ok=%v err=%v", ok, err)
	}

	// Loser fails to acquire and waits on the entry instead.
	_, ok, err = c.Acquire(ctx, "report:q4", 30*time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if ok {
		t.Fatal("Expected second caller to lose the race")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		data, found, err := c.AwaitEntry(ctx, "report:q4", time.Second)
		if err != nil || !found {
			t.Errorf("AwaitEntry failed: found=%v err=%v", found, err)
			return
		}
		if string(data) != "totals" {
			t.Errorf("Expected 'totals', got %q", data)
		}
	}()

	// Winner computes, stores, releases.
	time.Sleep(15 * time.Millisecond)
	if err := cs.Set(ctx, "report:q4", []byte("totals"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := c.Release(ctx, token); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Waiter never observed the winner's entry")
	}
}
