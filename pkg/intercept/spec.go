// Package intercept implements declarative cache interception for function
// call sites. Operations are described by Specs attached to a Registration,
// and the Engine weaves them around an origin function: cache-aside lookups,
// result puts, and evictions, with optional distributed stampede protection.
//
// Example usage:
//
//	engine := intercept.New(store, cfg)
//
//	reg, err := intercept.NewRegistration("UserService.GetUser", intercept.ShapeSingle,
//	    intercept.Spec{
//	        Kind:  intercept.KindCacheable,
//	        Names: []string{"users"},
//	        Key:   "'profile:' + userId",
//	        TTL:   "30m",
//	    },
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	user, err := intercept.Execute(ctx, engine, reg, inv, func(ctx context.Context) (*User, error) {
//	    return repo.FetchUser(ctx, id)
//	})
package intercept

import (
	"fmt"
	"time"

	"github.com/Combine-Capital/cqcache/pkg/errors"
)

// Kind identifies what a cache operation does to the store.
type Kind int

const (
	// KindCacheable reads through the cache: a hit short-circuits the origin
	// call, a miss computes and stores the result.
	KindCacheable Kind = iota

	// KindPut always invokes the origin and writes its result to the cache.
	KindPut

	// KindEvict removes entries, either a single key or a whole namespace.
	KindEvict
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindCacheable:
		return "cacheable"
	case KindPut:
		return "put"
	case KindEvict:
		return "evict"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Shape describes the result shape of an intercepted call site.
type Shape int

const (
	// ShapeSingle is a call site returning one value.
	ShapeSingle Shape = iota

	// ShapeStream is a call site returning a finite stream. The engine drains
	// it, caches the ordered elements, and replays them on a hit.
	ShapeStream

	// ShapeUnboundedStream is a call site returning a stream with no known
	// end. Only evictions may be registered against it.
	ShapeUnboundedStream
)

// String returns the lowercase name of the shape.
func (s Shape) String() string {
	switch s {
	case ShapeSingle:
		return "single"
	case ShapeStream:
		return "stream"
	case ShapeUnboundedStream:
		return "unbounded_stream"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// Spec declares one cache operation for a call site. A Registration can carry
// several Specs, which the engine runs in a fixed order: before-invocation
// evictions, cacheable lookups, the origin call, puts, then remaining
// evictions.
type Spec struct {
	// Kind selects the operation: cacheable, put, or evict.
	Kind Kind

	// Names lists the cache namespaces the operation applies to. Entries are
	// stored under "<name>:<key>", so namespaces can be wiped independently.
	// At least one name is required; the first is the primary namespace used
	// for locking and metrics.
	Names []string

	// Key is an expression producing the cache key from the invocation
	// arguments, for example "'profile:' + userId". When set it takes
	// precedence over KeyGenerator. When both are empty the key is derived
	// from the call site and rendered arguments.
	Key string

	// KeyGenerator names a registered key generator to use when Key is empty.
	KeyGenerator string

	// Condition is an expression gating the whole operation. When it
	// evaluates false the operation is skipped; a cacheable spec whose
	// condition is false bypasses the cache entirely. Empty means always
	// apply.
	Condition string

	// Unless is an expression consulted after the origin call, with the
	// result bound as "result". When it evaluates true the computed value is
	// not stored. Empty means always store.
	Unless string

	// TTL is a duration literal such as "30m", "1d6h", or ISO-8601 "PT30M".
	// It takes precedence over TTLSeconds. An unparseable literal is demoted
	// rather than failing the operation.
	TTL string

	// TTLSeconds is the expiry in whole seconds, used when TTL is absent.
	// Zero or negative falls back to the process-wide default.
	TTLSeconds int64

	// CacheNullValues stores a known-empty marker when the origin returns
	// nil, so repeated lookups of absent data do not hammer the origin.
	CacheNullValues bool

	// DistributedLock enables cross-process stampede protection: on a miss,
	// one caller computes under a store lock while others poll the cache
	// entry until LockWait lapses.
	DistributedLock bool

	// LockWait bounds how long a caller that lost the lock race polls for
	// the entry before computing without the lock. Zero uses the configured
	// default.
	LockWait time.Duration

	// LockLease bounds the lock lifetime independent of holder liveness.
	// Zero uses the configured default.
	LockLease time.Duration

	// Sync deduplicates concurrent in-process computations of the same key,
	// sharing one origin call among simultaneous callers.
	Sync bool

	// AllEntries evicts every key in each named namespace instead of a
	// single key. Evict-only.
	AllEntries bool

	// BeforeInvocation runs the eviction before the origin call instead of
	// after it. Evict-only.
	BeforeInvocation bool

	// Override forces the put to overwrite an existing entry. When false the
	// put only writes if the key is absent. Put-only.
	Override bool

	// CascadeTargets lists additional namespaces to evict with the same
	// resolved key (or wholesale when AllEntries is set). Evict-only.
	CascadeTargets []string
}

// Validate reports whether the spec is internally consistent: a kind-specific
// flag on the wrong kind, a missing namespace, or a negative duration.
func (s Spec) Validate() error {
	switch s.Kind {
	case KindCacheable, KindPut, KindEvict:
	default:
		return errors.NewInvalidInput("spec.kind", fmt.Sprintf("unknown kind %d", int(s.Kind)))
	}
	if len(s.Names) == 0 {
		return errors.NewInvalidInput("spec.names", "at least one cache namespace is required")
	}
	for _, name := range s.Names {
		if name == "" {
			return errors.NewInvalidInput("spec.names", "cache namespace must not be empty")
		}
	}
	if s.Kind != KindEvict {
		if s.AllEntries {
			return errors.NewInvalidInput("spec.all_entries", "only evict specs may clear all entries")
		}
		if s.BeforeInvocation {
			return errors.NewInvalidInput("spec.before_invocation", "only evict specs may run before invocation")
		}
		if len(s.CascadeTargets) > 0 {
			return errors.NewInvalidInput("spec.cascade_targets", "only evict specs may cascade")
		}
	}
	if s.Kind != KindPut && s.Override {
		return errors.NewInvalidInput("spec.override", "only put specs may override")
	}
	if s.Kind == KindEvict && s.Unless != "" {
		return errors.NewInvalidInput("spec.unless", "evict specs have no result to test")
	}
	if s.TTLSeconds < 0 {
		return errors.NewInvalidInput("spec.ttl_seconds", "must not be negative")
	}
	if s.LockWait < 0 {
		return errors.NewInvalidInput("spec.lock_wait", "must not be negative")
	}
	if s.LockLease < 0 {
		return errors.NewInvalidInput("spec.lock_lease", "must not be negative")
	}
	for _, target := range s.CascadeTargets {
		if target == "" {
			return errors.NewInvalidInput("spec.cascade_targets", "cascade namespace must not be empty")
		}
	}
	return nil
}

// storesResult reports whether the spec reads or writes entries, as opposed
// to only removing them.
func (s Spec) storesResult() bool {
	return s.Kind == KindCacheable || s.Kind == KindPut
}

// Registration binds an ordered list of cache operations to a call site.
// Build one with NewRegistration at startup and reuse it for every call.
type Registration struct {
	// CallSite identifies the intercepted operation, for example
	// "UserService.GetUser". It seeds default key generation and appears in
	// logs.
	CallSite string

	// Shape is the result shape of the call site.
	Shape Shape

	// Specs are the operations to run, in declaration order within each
	// phase.
	Specs []Spec
}

// UncacheableStreamError reports a cacheable or put spec registered against
// an unbounded stream, whose elements can never be fully drained for storage.
type UncacheableStreamError struct {
	// CallSite is the offending registration's call site.
	CallSite string
}

func (e *UncacheableStreamError) Error() string {
	return fmt.Sprintf("call site %q: unbounded streams cannot be cached", e.CallSite)
}

// NewRegistration validates the specs and binds them to a call site. It fails
// fast on malformed specs, and with UncacheableStreamError when a cacheable
// or put spec targets an unbounded stream.
func NewRegistration(callSite string, shape Shape, specs ...Spec) (*Registration, error) {
	if callSite == "" {
		return nil, errors.NewInvalidInput("call_site", "must not be empty")
	}
	switch shape {
	case ShapeSingle, ShapeStream, ShapeUnboundedStream:
	default:
		return nil, errors.NewInvalidInput("shape", fmt.Sprintf("unknown shape %d", int(shape)))
	}
	if len(specs) == 0 {
		return nil, errors.NewInvalidInput("specs", "at least one cache operation is required")
	}
	for i, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("spec %d for call site %q: %w", i, callSite, err)
		}
		if shape == ShapeUnboundedStream && spec.storesResult() {
			return nil, &UncacheableStreamError{CallSite: callSite}
		}
	}
	return &Registration{
		CallSite: callSite,
		Shape:    shape,
		Specs:    specs,
	}, nil
}
