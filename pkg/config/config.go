// Package config provides configuration management for CQCache components.
// It supports loading configuration from YAML files, JSON files, and environment variables
// with automatic validation and default value application.
//
// Example usage:
//
//	cfg, err := config.Load("config.yaml", "CQCACHE")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Or panic on error:
//	cfg := config.MustLoad("config.yaml", "CQCACHE")
package config

import (
	"time"
)

// Config represents the complete configuration for a CQCache-backed service.
type Config struct {
	Cache    CacheConfig    `mapstructure:"cache"`
	Lock     LockConfig     `mapstructure:"lock"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// CacheConfig contains process-wide interception behavior.
// Per-call-site behavior (keys, conditions, locking) lives in operation
// specs registered by the application, not here.
type CacheConfig struct {
	// DefaultTTL is the expiry applied when a spec declares neither a TTL
	// literal nor TTLSeconds. Zero or unset falls back to 30 minutes;
	// "no expiry" is not supported.
	DefaultTTL time.Duration `mapstructure:"default_ttl"`

	// Disabled turns the interception layer into a pass-through: every
	// wrapped call invokes its origin directly with zero store interaction.
	// Useful as an operational kill-switch.
	Disabled bool `mapstructure:"disabled"`

	// Backend selects the cache store adapter: "redis", "postgres", or "memory".
	Backend string `mapstructure:"backend"`
}

// LockConfig contains distributed lock coordination defaults.
// A spec may override wait and lease per call site.
type LockConfig struct {
	// WaitTime bounds how long a caller that lost the lock race polls the
	// store for the winner's value before degrading to unlocked computation.
	WaitTime time.Duration `mapstructure:"wait_time"`

	// LeaseTime bounds lock lifetime independent of holder liveness, so a
	// crashed holder cannot leak a lock past its lease.
	LeaseTime time.Duration `mapstructure:"lease_time"`

	// PollInterval is the delay between store polls while waiting on a
	// contended key.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// RedisConfig contains Redis store adapter connection configuration.
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

// PostgresConfig contains PostgreSQL store adapter configuration.
type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"` // disable, require, verify-ca, verify-full
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`

	// EntryTable and LockTable name the tables holding cache entries and
	// lock rows. Both are created on startup if absent.
	EntryTable string `mapstructure:"entry_table"`
	LockTable  string `mapstructure:"lock_table"`

	// SweepInterval controls how often expired rows are purged in the
	// background. Reads never return expired rows regardless.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// MaxRetries bounds transient-failure retries per store operation.
	MaxRetries int `mapstructure:"max_retries"`

	// RetryDelay is the initial backoff delay between retries.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// LogConfig contains structured logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
	Output string `mapstructure:"output"` // stdout, stderr, file path
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Port      int    `mapstructure:"port"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"` // Metric prefix
}
