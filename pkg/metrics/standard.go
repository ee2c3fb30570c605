package metrics

import (
	"sync"
)

var (
	// Standard cache metrics
	cacheLookups      *Counter
	cachePuts         *Counter
	cacheEvictions    *Counter
	originInvocations *Counter
	compensations     *Counter
	operationDuration *Histogram

	// Standard lock metrics
	lockAcquisitions *Counter

	// Standard store metrics
	storeErrors *Counter

	// Ensure standard metrics are initialized only once
	standardMetricsOnce sync.Once
)

// Lookup results for the cache lookups counter.
const (
	ResultHit  = "hit"
	ResultMiss = "miss"
)

// Origin invocation modes for the origin invocations counter.
const (
	ModeLocked   = "locked"
	ModeUnlocked = "unlocked"
	ModeBypass   = "bypass"
)

// Lock acquisition outcomes for the lock acquisitions counter.
const (
	OutcomeAcquired = "acquired"
	OutcomeWon      = "won_entry" // waiter found the entry another holder computed
	OutcomeTimeout  = "timeout"
	OutcomeDegraded = "degraded"
)

// Eviction scopes for the evictions counter.
const (
	ScopeKey       = "key"
	ScopeNamespace = "namespace"
)

// InitStandardMetrics initializes the standard cache, lock, and store metrics.
// This function is called automatically by the interception engine, but can be
// called explicitly to ensure metrics are registered before use.
// It is safe to call multiple times - subsequent calls are no-ops.
func InitStandardMetrics(namespace string) error {
	var initErr error

	standardMetricsOnce.Do(func() {
		// Initialize cache metrics
		cacheLookups, initErr = NewCounter(CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total number of cache lookups by result",
			Labels:    []string{"cache", "result"},
		})
		if initErr != nil {
			return
		}

		cachePuts, initErr = NewCounter(CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "puts_total",
			Help:      "Total number of cache writes",
			Labels:    []string{"cache"},
		})
		if initErr != nil {
			return
		}

		cacheEvictions, initErr = NewCounter(CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total number of cache evictions by scope",
			Labels:    []string{"cache", "scope"},
		})
		if initErr != nil {
			return
		}

		originInvocations, initErr = NewCounter(CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "origin_invocations_total",
			Help:      "Total number of origin function invocations by mode",
			Labels:    []string{"cache", "mode"},
		})
		if initErr != nil {
			return
		}

		compensations, initErr = NewCounter(CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "compensations_total",
			Help:      "Total number of compensating evictions after failed composed operations",
			Labels:    []string{"cache"},
		})
		if initErr != nil {
			return
		}

		operationDuration, initErr = NewHistogram(HistogramOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "operation_duration_seconds",
			Help:      "Cache operation duration in seconds",
			Labels:    []string{"operation"},
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		})
		if initErr != nil {
			return
		}

		// Initialize lock metrics
		lockAcquisitions, initErr = NewCounter(CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "acquisitions_total",
			Help:      "Total number of distributed lock attempts by outcome",
			Labels:    []string{"outcome"},
		})
		if initErr != nil {
			return
		}

		// Initialize store metrics
		storeErrors, initErr = NewCounter(CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Total number of store adapter errors by operation",
			Labels:    []string{"operation"},
		})
		if initErr != nil {
			return
		}
	})

	return initErr
}

// GetCacheLookups returns the standard cache lookups counter.
// Returns nil if standard metrics have not been initialized.
func GetCacheLookups() *Counter {
	return cacheLookups
}

// GetCachePuts returns the standard cache puts counter.
// Returns nil if standard metrics have not been initialized.
func GetCachePuts() *Counter {
	return cachePuts
}

// GetCacheEvictions returns the standard cache evictions counter.
// Returns nil if standard metrics have not been initialized.
func GetCacheEvictions() *Counter {
	return cacheEvictions
}

// GetOriginInvocations returns the standard origin invocations counter.
// Returns nil if standard metrics have not been initialized.
func GetOriginInvocations() *Counter {
	return originInvocations
}

// GetCompensations returns the standard compensations counter.
// Returns nil if standard metrics have not been initialized.
func GetCompensations() *Counter {
	return compensations
}

// GetOperationDuration returns the standard operation duration histogram.
// Returns nil if standard metrics have not been initialized.
func GetOperationDuration() *Histogram {
	return operationDuration
}

// GetLockAcquisitions returns the standard lock acquisitions counter.
// Returns nil if standard metrics have not been initialized.
func GetLockAcquisitions() *Counter {
	return lockAcquisitions
}

// GetStoreErrors returns the standard store errors counter.
// Returns nil if standard metrics have not been initialized.
func GetStoreErrors() *Counter {
	return storeErrors
}
