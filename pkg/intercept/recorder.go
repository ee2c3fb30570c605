package intercept

import "github.com/Combine-Capital/cqcache/pkg/metrics"

// Recorder receives engine instrumentation events. Implementations must be
// safe for concurrent use. The engine defaults to the Prometheus recorder;
// tests substitute their own to assert on engine behavior.
type Recorder interface {
	// Lookup records one cache read and whether it hit.
	Lookup(cache string, hit bool)

	// Put records one cache write.
	Put(cache string)

	// Evict records one eviction with scope "key" or "namespace".
	Evict(cache, scope string)

	// Origin records one origin invocation with mode "locked", "unlocked",
	// or "bypass".
	Origin(cache, mode string)

	// Compensation records one reverse eviction of a completed put.
	Compensation(cache string)

	// LockOutcome records one distributed lock attempt result.
	LockOutcome(outcome string)

	// StoreError records one degraded store interaction by operation.
	StoreError(operation string)

	// Duration records one operation's elapsed seconds.
	Duration(operation string, seconds float64)
}

// nopRecorder discards all events.
type nopRecorder struct{}

func (nopRecorder) Lookup(string, bool)      {}
func (nopRecorder) Put(string)               {}
func (nopRecorder) Evict(string, string)     {}
func (nopRecorder) Origin(string, string)    {}
func (nopRecorder) Compensation(string)      {}
func (nopRecorder) LockOutcome(string)       {}
func (nopRecorder) StoreError(string)        {}
func (nopRecorder) Duration(string, float64) {}

// NopRecorder returns a recorder that discards all events.
func NopRecorder() Recorder {
	return nopRecorder{}
}

// promRecorder forwards events to the standard Prometheus collectors. Each
// method tolerates uninitialized metrics so the engine works without a
// metrics endpoint.
type promRecorder struct{}

// NewPrometheusRecorder returns a recorder backed by the standard collectors.
// Call metrics.InitStandardMetrics first; events before initialization are
// dropped.
func NewPrometheusRecorder() Recorder {
	return promRecorder{}
}

func (promRecorder) Lookup(cache string, hit bool) {
	if c := metrics.GetCacheLookups(); c != nil {
		result := metrics.ResultMiss
		if hit {
			result = metrics.ResultHit
		}
		c.Inc(cache, result)
	}
}

func (promRecorder) Put(cache string) {
	if c := metrics.GetCachePuts(); c != nil {
		c.Inc(cache)
	}
}

func (promRecorder) Evict(cache, scope string) {
	if c := metrics.GetCacheEvictions(); c != nil {
		c.Inc(cache, scope)
	}
}

func (promRecorder) Origin(cache, mode string) {
	if c := metrics.GetOriginInvocations(); c != nil {
		c.Inc(cache, mode)
	}
}

func (promRecorder) Compensation(cache string) {
	if c := metrics.GetCompensations(); c != nil {
		c.Inc(cache)
	}
}

func (promRecorder) LockOutcome(outcome string) {
	if c := metrics.GetLockAcquisitions(); c != nil {
		c.Inc(outcome)
	}
}

func (promRecorder) StoreError(operation string) {
	if c := metrics.GetStoreErrors(); c != nil {
		c.Inc(operation)
	}
}

func (promRecorder) Duration(operation string, seconds float64) {
	if h := metrics.GetOperationDuration(); h != nil {
		h.Observe(seconds, operation)
	}
}
