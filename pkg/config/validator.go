package config

import (
	"fmt"
	"time"
)

// Validate validates the configuration and returns an error if any required fields are missing
// or have invalid values.
func Validate(cfg *Config) error {
	// Validate Cache config
	switch cfg.Cache.Backend {
	case "", "memory", "redis", "postgres":
	default:
		return fmt.Errorf("cache.backend must be one of memory, redis, postgres (got %q)", cfg.Cache.Backend)
	}
	if cfg.Cache.DefaultTTL < 0 {
		return fmt.Errorf("cache.default_ttl must not be negative")
	}

	// Validate Lock config
	if cfg.Lock.WaitTime < 0 {
		return fmt.Errorf("lock.wait_time must not be negative")
	}
	if cfg.Lock.LeaseTime <= 0 {
		return fmt.Errorf("lock.lease_time must be positive")
	}
	if cfg.Lock.PollInterval <= 0 {
		return fmt.Errorf("lock.poll_interval must be positive")
	}

	// Validate Redis config (if used)
	if cfg.Cache.Backend == "redis" && cfg.Redis.Host == "" {
		return fmt.Errorf("redis.host is required when cache.backend is redis")
	}
	if cfg.Redis.Host != "" {
		if cfg.Redis.Port == 0 {
			return fmt.Errorf("redis.port is required when redis.host is set")
		}
	}

	// Validate Postgres config (if used)
	if cfg.Cache.Backend == "postgres" && cfg.Postgres.Host == "" {
		return fmt.Errorf("postgres.host is required when cache.backend is postgres")
	}
	if cfg.Postgres.Host != "" {
		if cfg.Postgres.Port == 0 {
			return fmt.Errorf("postgres.port is required when postgres.host is set")
		}
		if cfg.Postgres.User == "" {
			return fmt.Errorf("postgres.user is required when postgres.host is set")
		}
		if cfg.Postgres.Database == "" {
			return fmt.Errorf("postgres.database is required when postgres.host is set")
		}
	}

	// Validate Metrics config (if enabled)
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port == 0 {
			return fmt.Errorf("metrics.port is required when metrics are enabled")
		}
	}

	return nil
}

// applyDefaults applies default values to the configuration where values are not set.
func applyDefaults(cfg *Config) {
	// Cache defaults
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.DefaultTTL == 0 {
		cfg.Cache.DefaultTTL = 30 * time.Minute
	}

	// Lock defaults
	if cfg.Lock.WaitTime == 0 {
		cfg.Lock.WaitTime = 2 * time.Second
	}
	if cfg.Lock.LeaseTime == 0 {
		cfg.Lock.LeaseTime = 30 * time.Second
	}
	if cfg.Lock.PollInterval == 0 {
		cfg.Lock.PollInterval = 50 * time.Millisecond
	}

	// Redis defaults
	if cfg.Redis.Port == 0 && cfg.Redis.Host != "" {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.MaxRetries == 0 {
		cfg.Redis.MaxRetries = 3
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = 5 * time.Second
	}
	if cfg.Redis.ReadTimeout == 0 {
		cfg.Redis.ReadTimeout = 3 * time.Second
	}
	if cfg.Redis.WriteTimeout == 0 {
		cfg.Redis.WriteTimeout = 3 * time.Second
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 10
	}
	if cfg.Redis.MinIdleConns == 0 {
		cfg.Redis.MinIdleConns = 2
	}

	// Postgres defaults
	if cfg.Postgres.Port == 0 && cfg.Postgres.Host != "" {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "prefer"
	}
	if cfg.Postgres.MaxConns == 0 {
		cfg.Postgres.MaxConns = 25
	}
	if cfg.Postgres.MinConns == 0 {
		cfg.Postgres.MinConns = 2
	}
	if cfg.Postgres.MaxConnLifetime == 0 {
		cfg.Postgres.MaxConnLifetime = time.Hour
	}
	if cfg.Postgres.ConnectTimeout == 0 {
		cfg.Postgres.ConnectTimeout = 30 * time.Second
	}
	if cfg.Postgres.EntryTable == "" {
		cfg.Postgres.EntryTable = "cache_entries"
	}
	if cfg.Postgres.LockTable == "" {
		cfg.Postgres.LockTable = "cache_locks"
	}
	if cfg.Postgres.SweepInterval == 0 {
		cfg.Postgres.SweepInterval = 5 * time.Minute
	}
	if cfg.Postgres.MaxRetries == 0 {
		cfg.Postgres.MaxRetries = 3
	}
	if cfg.Postgres.RetryDelay == 0 {
		cfg.Postgres.RetryDelay = 100 * time.Millisecond
	}

	// Log defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	// Metrics defaults
	if cfg.Metrics.Port == 0 && cfg.Metrics.Enabled {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "cqcache"
	}
}
