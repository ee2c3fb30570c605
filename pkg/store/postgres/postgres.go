// Package postgres provides the PostgreSQL store adapter. Cache entries and
// distributed locks live in two tables keyed by cache key, each row carrying
// an absolute expiry timestamp. Reads filter expired rows so correctness
// never depends on the background sweeper, which only reclaims space.
//
// Lock acquisition is a single upsert that succeeds when the lock row is
// absent or its lease has lapsed, so it is atomic without advisory locks.
// Transient failures are retried per the configured retry policy.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Combine-Capital/cqcache/pkg/config"
	"github.com/Combine-Capital/cqcache/pkg/errors"
	"github.com/Combine-Capital/cqcache/pkg/logging"
	"github.com/Combine-Capital/cqcache/pkg/retry"
	"github.com/Combine-Capital/cqcache/pkg/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is the subset of pgxpool.Pool the store uses.
// This allows for easier testing with mock implementations.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// identPattern restricts configured table names to simple SQL identifiers,
// since table names cannot be bound as query parameters.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// noExpiry is the far-future expiry recorded for entries stored without a
// TTL. The contract treats such entries as never expiring.
const noExpiry = 100 * 365 * 24 * time.Hour

// Store implements the store.Store interface using PostgreSQL as the backend.
type Store struct {
	pool  Pool
	cfg   config.PostgresConfig
	log   *logging.Logger
	retry retry.Config

	getSQL           string
	setSQL           string
	deleteSQL        string
	deletePatternSQL string
	lockSQL          string
	unlockSQL        string
	sweepEntriesSQL  string
	sweepLocksSQL    string

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a PostgreSQL store adapter with the given configuration.
// It establishes a connection pool, creates the entry and lock tables if
// they do not exist, and starts the background sweeper that purges expired
// rows every SweepInterval. A nil logger disables adapter logging.
func New(ctx context.Context, cfg config.PostgresConfig, log *logging.Logger) (*Store, error) {
	if !identPattern.MatchString(cfg.EntryTable) {
		return nil, errors.NewInvalidInput("postgres.entry_table", "must be a simple SQL identifier")
	}
	if !identPattern.MatchString(cfg.LockTable) {
		return nil, errors.NewInvalidInput("postgres.lock_table", "must be a simple SQL identifier")
	}

	poolConfig, err := pgxpool.ParseConfig(buildConnString(cfg))
	if err != nil {
		return nil, errors.NewInvalidInputWithCause("postgres", "invalid connection configuration", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.NewTemporary("failed to create connection pool", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.NewTemporary("failed to connect to PostgreSQL", err)
	}

	s := newStore(pool, cfg, log)

	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if cfg.SweepInterval > 0 {
		s.wg.Add(1)
		go s.sweepLoop(cfg.SweepInterval)
	}

	return s, nil
}

// NewWithPool wraps an existing pool, typically a mock in tests. The caller
// owns schema setup; no background sweeper is started, though SweepExpired
// can be invoked directly. Close still closes the pool.
func NewWithPool(pool Pool, cfg config.PostgresConfig, log *logging.Logger) *Store {
	return newStore(pool, cfg, log)
}

func newStore(pool Pool, cfg config.PostgresConfig, log *logging.Logger) *Store {
	if cfg.EntryTable == "" {
		cfg.EntryTable = "cache_entries"
	}
	if cfg.LockTable == "" {
		cfg.LockTable = "cache_locks"
	}
	if log == nil {
		log = logging.Nop()
	}

	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	return &Store{
		pool: pool,
		cfg:  cfg,
		log:  log.WithComponent("store.postgres"),
		retry: retry.Config{
			MaxAttempts:  uint(retries) + 1,
			InitialDelay: cfg.RetryDelay,
			Policy:       retry.PolicyTemporary,
		},

		getSQL: fmt.Sprintf(
			`SELECT value FROM %s WHERE key = $1 AND expires_at > now()`, cfg.EntryTable),
		setSQL: fmt.Sprintf(
			`INSERT INTO %s (key, value, expires_at) VALUES ($1, $2, $3) `+
				`ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
			cfg.EntryTable),
		deleteSQL: fmt.Sprintf(
			`DELETE FROM %s WHERE key = $1`, cfg.EntryTable),
		deletePatternSQL: fmt.Sprintf(
			`DELETE FROM %s WHERE key LIKE $1`, cfg.EntryTable),
		lockSQL: fmt.Sprintf(
			`INSERT INTO %s AS l (key, holder, expires_at) VALUES ($1, $2, $3) `+
				`ON CONFLICT (key) DO UPDATE SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at `+
				`WHERE l.expires_at <= now()`,
			cfg.LockTable),
		unlockSQL: fmt.Sprintf(
			`DELETE FROM %s WHERE key = $1 AND holder = $2`, cfg.LockTable),
		sweepEntriesSQL: fmt.Sprintf(
			`DELETE FROM %s WHERE expires_at <= now()`, cfg.EntryTable),
		sweepLocksSQL: fmt.Sprintf(
			`DELETE FROM %s WHERE expires_at <= now()`, cfg.LockTable),

		stop: make(chan struct{}),
	}
}

// buildConnString constructs a PostgreSQL connection string from the config.
func buildConnString(cfg config.PostgresConfig) string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s",
		cfg.Host,
		cfg.Port,
		cfg.Database,
		cfg.User,
		cfg.Password,
	)

	if cfg.SSLMode != "" {
		connStr += fmt.Sprintf(" sslmode=%s", cfg.SSLMode)
	}

	if cfg.ConnectTimeout > 0 {
		connStr += fmt.Sprintf(" connect_timeout=%d", int(cfg.ConnectTimeout.Seconds()))
	}

	return connStr
}

// ensureSchema creates the entry and lock tables if they do not exist.
func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (`+
				`key TEXT PRIMARY KEY, `+
				`value BYTEA NOT NULL, `+
				`expires_at TIMESTAMPTZ NOT NULL)`,
			s.cfg.EntryTable),
		fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS %s_expires_at_idx ON %s (expires_at)`,
			s.cfg.EntryTable, s.cfg.EntryTable),
		fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (`+
				`key TEXT PRIMARY KEY, `+
				`holder TEXT NOT NULL, `+
				`expires_at TIMESTAMPTZ NOT NULL)`,
			s.cfg.LockTable),
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return errors.NewTemporary("failed to create cache schema", err)
		}
	}
	return nil
}

// Get retrieves the raw entry stored under key. Expired rows count as
// misses even before the sweeper reclaims them.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	found := false

	err := s.withRetry(ctx, func() error {
		value, found = nil, false

		row := s.pool.QueryRow(ctx, s.getSQL, key)
		if err := row.Scan(&value); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return errors.NewTemporary("failed to get cache entry", err)
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, found, nil
}

// Set stores value under key with the specified TTL, replacing any existing
// row. A non-positive TTL stores a far-future expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = noExpiry
	}
	expiresAt := time.Now().Add(ttl)

	return s.withRetry(ctx, func() error {
		if _, err := s.pool.Exec(ctx, s.setSQL, key, value, expiresAt); err != nil {
			return errors.NewTemporary("failed to set cache entry", err)
		}
		return nil
	})
}

// Delete removes key, reporting whether a row was removed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	existed := false

	err := s.withRetry(ctx, func() error {
		tag, err := s.pool.Exec(ctx, s.deleteSQL, key)
		if err != nil {
			return errors.NewTemporary("failed to delete cache entry", err)
		}
		existed = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return existed, nil
}

// DeleteByPattern removes every key matching pattern, translating the '*'
// wildcard to a LIKE predicate, and returns the number of rows removed.
func (s *Store) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	removed := 0

	err := s.withRetry(ctx, func() error {
		tag, err := s.pool.Exec(ctx, s.deletePatternSQL, patternToLike(pattern))
		if err != nil {
			return errors.NewTemporary("failed to delete matched keys", err)
		}
		removed = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.Debug().
		Str(logging.Operation, "delete_by_pattern").
		Str(logging.CacheKey, pattern).
		Int("removed", removed).
		Msg("Pattern eviction completed")

	return removed, nil
}

// TryLock attempts to acquire the lock named key for the given lease. The
// upsert takes the row when it is absent or its lease has lapsed; zero rows
// affected means another holder still owns it.
func (s *Store) TryLock(ctx context.Context, key string, lease time.Duration) (store.LockToken, bool, error) {
	token := store.LockToken{
		Key:       key,
		Holder:    uuid.NewString(),
		ExpiresAt: time.Now().Add(lease),
	}
	acquired := false

	err := s.withRetry(ctx, func() error {
		tag, err := s.pool.Exec(ctx, s.lockSQL, token.Key, token.Holder, token.ExpiresAt)
		if err != nil {
			return errors.NewTemporary("failed to acquire lock", err)
		}
		acquired = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return store.LockToken{}, false, err
	}
	if !acquired {
		return store.LockToken{}, false, nil
	}
	return token, true, nil
}

// Unlock releases the lock identified by token. The delete is conditioned
// on the holder id, so a stale token cannot release a re-acquired lock.
func (s *Store) Unlock(ctx context.Context, token store.LockToken) error {
	return s.withRetry(ctx, func() error {
		tag, err := s.pool.Exec(ctx, s.unlockSQL, token.Key, token.Holder)
		if err != nil {
			return errors.NewTemporary("failed to release lock", err)
		}
		if tag.RowsAffected() == 0 {
			s.log.Debug().
				Str(logging.LockKey, token.Key).
				Msg("Lock already expired or re-acquired at release")
		}
		return nil
	})
}

// SweepExpired purges expired entry and lock rows. The background sweeper
// calls it every SweepInterval; it can also be invoked directly.
func (s *Store) SweepExpired(ctx context.Context) error {
	entriesTag, err := s.pool.Exec(ctx, s.sweepEntriesSQL)
	if err != nil {
		return errors.NewTemporary("failed to sweep expired entries", err)
	}

	locksTag, err := s.pool.Exec(ctx, s.sweepLocksSQL)
	if err != nil {
		return errors.NewTemporary("failed to sweep expired locks", err)
	}

	if n := entriesTag.RowsAffected() + locksTag.RowsAffected(); n > 0 {
		s.log.Debug().
			Int64("removed", n).
			Msg("Swept expired rows")
	}
	return nil
}

// CheckHealth verifies backend connectivity.
func (s *Store) CheckHealth(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return errors.NewTemporary("PostgreSQL health check failed", err)
	}
	return nil
}

// Close stops the background sweeper and closes the connection pool.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		s.pool.Close()
	})
	return nil
}

func (s *Store) sweepLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.SweepExpired(context.Background()); err != nil {
				s.log.Warn().Err(err).Msg("Expired-row sweep failed")
			}
		}
	}
}

func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, s.retry, fn)
}

// patternToLike translates a '*' wildcard pattern into a LIKE pattern,
// escaping characters LIKE treats specially.
func patternToLike(pattern string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return strings.ReplaceAll(r.Replace(pattern), "*", "%")
}

// Compile-time interface checks.
var (
	_ store.Store = (*Store)(nil)
	_ Pool        = (*pgxpool.Pool)(nil)
)
