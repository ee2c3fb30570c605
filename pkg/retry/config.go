package retry

import (
	"time"

	"github.com/Combine-Capital/cqcache/pkg/errors"
	"github.com/cenkalti/backoff/v5"
)

// Policy selects which errors are worth retrying.
type Policy int

const (
	// PolicyTemporary retries only errors the errors package classifies
	// as temporary. This is the default and the right choice for store
	// traffic, where permanent failures will not heal on their own.
	PolicyTemporary Policy = iota
	// PolicyAll retries every error.
	PolicyAll
	// PolicyNone disables retries; the function runs exactly once.
	PolicyNone
)

// PolicyFunc overrides Policy with a caller-supplied retry decision.
type PolicyFunc func(error) bool

// Config controls the attempt budget, the backoff shape, and the retry
// policy. The zero value retries temporary errors up to 10 attempts,
// starting at 100ms and doubling toward a 5s ceiling with 25% jitter.
type Config struct {
	// MaxAttempts bounds the total number of attempts including the
	// first. Zero applies the default of 10.
	MaxAttempts uint

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration

	// Multiplier scales the delay after each failed attempt.
	Multiplier float64

	// Jitter randomizes each delay by the given factor so concurrent
	// retriers do not synchronize.
	Jitter float64

	// MaxElapsedTime bounds the total time spent across attempts.
	// Zero leaves the loop bounded by MaxAttempts alone.
	MaxElapsedTime time.Duration

	// Policy selects which errors are retried.
	Policy Policy

	// PolicyFunc, when set, takes precedence over Policy.
	PolicyFunc PolicyFunc
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 10
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	if c.Jitter == 0 {
		c.Jitter = 0.25
	}
	return c
}

// backoffOptions builds the backoff/v5 options for one retry loop.
func (c Config) backoffOptions() []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialDelay
	b.MaxInterval = c.MaxDelay
	b.Multiplier = c.Multiplier
	b.RandomizationFactor = c.Jitter

	opts := []backoff.RetryOption{backoff.WithBackOff(b)}
	if c.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(c.MaxAttempts))
	}
	if c.MaxElapsedTime > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(c.MaxElapsedTime))
	}
	return opts
}

// shouldRetry applies PolicyFunc when set, falling back to Policy.
func (c Config) shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if c.PolicyFunc != nil {
		return c.PolicyFunc(err)
	}

	switch c.Policy {
	case PolicyAll:
		return true
	case PolicyNone:
		return false
	default:
		return errors.IsTemporary(err)
	}
}
