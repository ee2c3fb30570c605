// Package retry provides bounded retries with exponential backoff for
// transient store failures.
//
// Store adapters wrap backend calls in Do so a short network blip or a
// failover pause is absorbed instead of surfacing to the cache layer as an
// error. Which errors deserve a second attempt is decided by the errors
// package categories: temporary errors are retried, permanent and invalid
// input errors fail immediately.
//
// Example usage:
//
//	cfg := retry.Config{
//		MaxAttempts:  4,
//		InitialDelay: 100 * time.Millisecond,
//		Policy:       retry.PolicyTemporary,
//	}
//
//	err := retry.Do(ctx, cfg, func() error {
//		return pool.Ping(ctx)
//	})
package retry

import (
	"context"

	"github.com/cenkalti/backoff/v5"
)

// Do runs fn until it succeeds, the policy rejects its error, or the
// attempt budget is exhausted. Delays between attempts grow exponentially
// with jitter so concurrent retriers spread out instead of hammering a
// recovering backend in lockstep. Cancelling ctx aborts the loop.
//
// The error from the final attempt is returned unwrapped, so callers can
// still classify it with the errors package predicates.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	_, err := DoWithData(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithData is Do for functions that produce a value, such as a read that
// should survive a brief backend hiccup.
func DoWithData[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	operation := func() (T, error) {
		v, err := fn()
		if err != nil && !cfg.shouldRetry(err) {
			// Permanent stops the backoff loop immediately and
			// surfaces the original error to the caller.
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	return backoff.Retry(ctx, operation, cfg.backoffOptions()...)
}
