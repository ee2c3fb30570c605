// Package memory provides an in-process store adapter backed by a
// mutex-guarded map. It implements the full Store contract including TTL
// expiry, pattern eviction, and distributed locks, which makes it suitable
// for tests and single-process development. Entries do not survive restarts
// and are not shared across processes.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Combine-Capital/cqcache/pkg/errors"
	"github.com/Combine-Capital/cqcache/pkg/store"
	"github.com/google/uuid"
)

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

type lockRow struct {
	holder    string
	expiresAt time.Time
}

// Store is an in-process implementation of store.Store.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	locks   map[string]lockRow
	closed  bool

	// now is replaced in tests to exercise expiry without sleeping.
	now func() time.Time
}

// New creates an empty in-process store.
func New() *Store {
	return &Store{
		entries: make(map[string]entry),
		locks:   make(map[string]lockRow),
		now:     time.Now,
	}
}

// Get retrieves the raw entry stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, errClosed()
	}

	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if e.expired(s.now()) {
		delete(s.entries, key)
		return nil, false, nil
	}

	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

// Set stores value under key with the given TTL.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed()
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	e := entry{value: stored}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

// Delete removes key, reporting whether a live entry was removed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, errClosed()
	}

	e, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	delete(s.entries, key)
	return !e.expired(s.now()), nil
}

// DeleteByPattern removes every key matching pattern. Expired entries that
// match are purged but not counted; they were already logically absent.
func (s *Store) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errClosed()
	}

	now := s.now()
	removed := 0
	for key, e := range s.entries {
		if !store.MatchPattern(pattern, key) {
			continue
		}
		delete(s.entries, key)
		if !e.expired(now) {
			removed++
		}
	}
	return removed, nil
}

// TryLock attempts to acquire the lock named key for the given lease.
func (s *Store) TryLock(ctx context.Context, key string, lease time.Duration) (store.LockToken, bool, error) {
	if err := ctx.Err(); err != nil {
		return store.LockToken{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.LockToken{}, false, errClosed()
	}

	now := s.now()
	if row, ok := s.locks[key]; ok && now.Before(row.expiresAt) {
		return store.LockToken{}, false, nil
	}

	token := store.LockToken{
		Key:       key,
		Holder:    uuid.NewString(),
		ExpiresAt: now.Add(lease),
	}
	s.locks[key] = lockRow{holder: token.Holder, expiresAt: token.ExpiresAt}
	return token, true, nil
}

// Unlock releases the lock identified by token. A token whose lease expired
// and was re-acquired by another holder releases nothing.
func (s *Store) Unlock(ctx context.Context, token store.LockToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed()
	}

	if row, ok := s.locks[token.Key]; ok && row.holder == token.Holder {
		delete(s.locks, token.Key)
	}
	return nil
}

// CheckHealth reports whether the store is usable.
func (s *Store) CheckHealth(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed()
	}
	return nil
}

// Close discards all entries and locks. Subsequent operations fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil
	s.locks = nil
	s.closed = true
	return nil
}

// Len reports the number of live entries. Intended for tests and diagnostics.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, e := range s.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

func errClosed() error {
	return errors.NewTemporary("memory store is closed", nil)
}

// Compile-time interface check.
var _ store.Store = (*Store)(nil)
