package intercept

import (
	"context"
	"reflect"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Combine-Capital/cqcache/pkg/config"
	"github.com/Combine-Capital/cqcache/pkg/errors"
	"github.com/Combine-Capital/cqcache/pkg/expr"
	"github.com/Combine-Capital/cqcache/pkg/lock"
	"github.com/Combine-Capital/cqcache/pkg/logging"
	"github.com/Combine-Capital/cqcache/pkg/metrics"
	"github.com/Combine-Capital/cqcache/pkg/store"
)

// Lock defaults mirror the configuration layer, so an engine built from a
// zero config still leases and waits sensibly.
const (
	defaultLockWait  = 2 * time.Second
	defaultLockLease = 30 * time.Second
)

// Engine executes registered cache operations around origin functions. It is
// safe for concurrent use; one engine is shared across all call sites of a
// process.
//
// Store failures never fail the caller: a broken read degrades to a miss, a
// broken write is dropped, a broken lock degrades to an unlocked computation.
// Only origin errors propagate.
type Engine struct {
	store      store.Store
	coord      *lock.Coordinator
	resolver   *Resolver
	registry   *Registry
	cacheCfg   config.CacheConfig
	lockCfg    config.LockConfig
	log        *logging.Logger
	rec        Recorder
	sf         singleflight.Group
	compensate bool
}

// Option customizes engine construction.
type Option func(*Engine)

// WithLogger sets the engine's logger. The default discards all output.
func WithLogger(log *logging.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithRecorder sets the instrumentation sink. The default forwards to the
// standard Prometheus collectors.
func WithRecorder(rec Recorder) Option {
	return func(e *Engine) { e.rec = rec }
}

// WithRegistry sets the key generator registry, allowing generators shared
// across engines. The default is a fresh empty registry.
func WithRegistry(reg *Registry) Option {
	return func(e *Engine) { e.registry = reg }
}

// WithCompensation enables transactional composed plans: the engine records
// completed puts, and when a later put or eviction in the same call fails it
// best-effort evicts what was already written.
func WithCompensation() Option {
	return func(e *Engine) { e.compensate = true }
}

// New creates an engine over the given store. A nil cfg uses defaults. The
// standard metrics are initialized when the metrics system is up; without it
// instrumentation is dropped silently.
func New(st store.Store, cfg *config.Config, opts ...Option) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	e := &Engine{
		store:    st,
		cacheCfg: cfg.Cache,
		lockCfg:  cfg.Lock,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logging.Nop()
	}
	if e.registry == nil {
		e.registry = NewRegistry()
	}
	if e.rec == nil {
		e.rec = NewPrometheusRecorder()
	}
	if metrics.IsInitialized() {
		if err := metrics.InitStandardMetrics(cfg.Metrics.Namespace); err != nil {
			e.log.Warn().Err(err).Msg("Failed to initialize standard metrics")
		}
	}
	e.resolver = NewResolver(e.registry, cfg.Cache.DefaultTTL, e.log)
	e.coord = lock.NewCoordinator(st, cfg.Lock, e.log)
	e.log = e.log.WithComponent("intercept.engine")
	return e
}

// Registry returns the engine's key generator registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Execute runs origin through the cache operations registered for the call
// site and returns its (possibly cached) result. A cached known-empty entry
// returns the zero value with a nil error.
func Execute[T any](ctx context.Context, e *Engine, reg *Registration, inv Invocation, origin func(context.Context) (T, error)) (T, error) {
	var zero T
	wrapped := func(ctx context.Context) (any, error) {
		v, err := origin(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	decode := func(data []byte) (any, bool, error) {
		var out T
		has, err := DecodeEntry(data, &out)
		if err != nil || !has {
			return nil, has, err
		}
		return out, true, nil
	}
	res, err := e.run(ctx, reg, inv, wrapped, decode)
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	out, ok := res.(T)
	if !ok {
		return zero, errors.NewPermanent("cached value has unexpected type", nil)
	}
	return out, nil
}

// ExecuteStream runs a stream-returning origin through the registered cache
// operations. Finite streams are drained, their elements cached in order,
// and hits replayed element by element. Plans that never store (evict-only,
// or any plan on an unbounded stream) pass the origin stream through
// undrained.
func ExecuteStream[T any](ctx context.Context, e *Engine, reg *Registration, inv Invocation, origin func(context.Context) (Stream[T], error)) (Stream[T], error) {
	if e.cacheCfg.Disabled || reg == nil || len(reg.Specs) == 0 {
		return origin(ctx)
	}
	p := buildPlan(reg.Specs)
	if reg.Shape == ShapeUnboundedStream || (len(p.cacheables) == 0 && len(p.puts) == 0) {
		return streamPassThrough(ctx, e, reg, p, inv, origin)
	}
	wrapped := func(ctx context.Context) (any, error) {
		s, err := origin(ctx)
		if err != nil {
			return nil, err
		}
		items, err := Collect(ctx, s)
		if err != nil {
			return nil, err
		}
		return items, nil
	}
	decode := func(data []byte) (any, bool, error) {
		var out []T
		has, err := DecodeEntry(data, &out)
		if err != nil || !has {
			return nil, has, err
		}
		return out, true, nil
	}
	res, err := e.run(ctx, reg, inv, wrapped, decode)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return FromSlice[T](nil), nil
	}
	items, ok := res.([]T)
	if !ok {
		return nil, errors.NewPermanent("cached stream has unexpected element type", nil)
	}
	return FromSlice(items), nil
}

// streamPassThrough runs evictions around the origin call and hands the
// stream back undrained.
func streamPassThrough[T any](ctx context.Context, e *Engine, reg *Registration, p plan, inv Invocation, origin func(context.Context) (Stream[T], error)) (Stream[T], error) {
	start := time.Now()
	defer func() { e.rec.Duration("execute", time.Since(start).Seconds()) }()

	txn := &txnLog{enabled: e.compensate}
	for _, spec := range p.beforeEvicts {
		e.evictOne(ctx, txn, spec, inv)
	}
	originStart := time.Now()
	s, err := origin(ctx)
	e.rec.Duration("origin", time.Since(originStart).Seconds())
	e.rec.Origin(primaryName(reg), metrics.ModeUnlocked)
	if err != nil {
		return nil, err
	}
	for _, spec := range p.afterEvicts {
		e.evictOne(ctx, txn, spec, inv)
	}
	return s, nil
}

// decodeFunc turns stored bytes back into a typed value. The boolean is
// false for known-empty entries.
type decodeFunc func(data []byte) (any, bool, error)

// plan groups a registration's specs by execution phase, preserving
// declaration order within each.
type plan struct {
	beforeEvicts []Spec
	cacheables   []Spec
	puts         []Spec
	afterEvicts  []Spec
}

func buildPlan(specs []Spec) plan {
	var p plan
	for _, s := range specs {
		switch s.Kind {
		case KindCacheable:
			p.cacheables = append(p.cacheables, s)
		case KindPut:
			p.puts = append(p.puts, s)
		case KindEvict:
			if s.BeforeInvocation {
				p.beforeEvicts = append(p.beforeEvicts, s)
			} else {
				p.afterEvicts = append(p.afterEvicts, s)
			}
		}
	}
	return p
}

// lookupOp is a cacheable spec with its key resolved once per run. apply is
// false when the condition gated it off or the key did not resolve.
type lookupOp struct {
	spec  Spec
	key   string
	apply bool
}

// computeOutcome is the result of the origin phase. fromCache marks a value
// a lock waiter observed instead of computing, which short-circuits puts and
// evictions like a phase-2 hit.
type computeOutcome struct {
	value     any
	fromCache bool
}

// txnLog tracks completed puts for compensation. Disabled, it records
// nothing.
type txnLog struct {
	enabled bool
	failed  bool
	puts    []txnPut
}

type txnPut struct {
	cache string
	key   string
}

func (t *txnLog) recordPut(cache, key string) {
	if t == nil || !t.enabled {
		return
	}
	t.puts = append(t.puts, txnPut{cache: cache, key: key})
}

func (t *txnLog) fail() {
	if t == nil || !t.enabled {
		return
	}
	t.failed = true
}

func primaryName(reg *Registration) string {
	return reg.Specs[0].Names[0]
}

// run is the untyped core shared by Execute and ExecuteStream. Phases:
// before-evictions, cacheable lookups (first hit returns), one origin
// computation with stampede protection, puts, after-evictions.
func (e *Engine) run(ctx context.Context, reg *Registration, inv Invocation, origin func(context.Context) (any, error), decode decodeFunc) (any, error) {
	if e.cacheCfg.Disabled || reg == nil || len(reg.Specs) == 0 {
		return origin(ctx)
	}
	start := time.Now()
	defer func() { e.rec.Duration("execute", time.Since(start).Seconds()) }()

	p := buildPlan(reg.Specs)
	txn := &txnLog{enabled: e.compensate}

	for _, spec := range p.beforeEvicts {
		e.evictOne(ctx, txn, spec, inv)
	}

	lookups := make([]lookupOp, 0, len(p.cacheables))
	for _, spec := range p.cacheables {
		op := lookupOp{spec: spec}
		if e.conditionHolds(spec, inv) {
			key, err := e.resolver.ResolveKey(spec, inv)
			if err != nil {
				e.log.Warn().
					Err(err).
					Str("call_site", inv.CallSite()).
					Msg("Key resolution failed, skipping cache operation")
			} else {
				op.key = key
				op.apply = true
			}
		}
		lookups = append(lookups, op)
		if !op.apply {
			continue
		}
		if v, hit := e.readEntry(ctx, spec, op.key, decode); hit {
			return v, nil
		}
	}

	primary := primaryName(reg)
	if len(p.cacheables) > 0 {
		primary = p.cacheables[0].Names[0]
	}
	outcome, err := e.computePhase(ctx, p, lookups, inv, origin, decode, primary)
	if err != nil {
		return nil, err
	}
	if outcome.fromCache {
		return outcome.value, nil
	}

	rinv := inv.withResult(outcome.value)
	for _, spec := range p.puts {
		e.putOne(ctx, txn, spec, rinv, outcome.value)
	}
	for _, spec := range p.afterEvicts {
		e.evictOne(ctx, txn, spec, rinv)
	}
	if txn.failed && len(txn.puts) > 0 {
		e.compensatePuts(ctx, txn)
	}
	return outcome.value, nil
}

// readEntry checks each of the spec's namespaces for the key, returning the
// first decodable entry. Store and decode failures degrade to a miss.
func (e *Engine) readEntry(ctx context.Context, spec Spec, key string, decode decodeFunc) (any, bool) {
	for _, name := range spec.Names {
		fullKey := name + ":" + key
		data, found, err := e.store.Get(ctx, fullKey)
		if err != nil {
			e.rec.StoreError("get")
			e.log.Warn().
				Err(err).
				Str("cache_key", fullKey).
				Msg("Cache read degraded, treating as miss")
			continue
		}
		if !found {
			continue
		}
		v, has, err := decode(data)
		if err != nil {
			e.log.Warn().
				Err(err).
				Str("cache_key", fullKey).
				Msg("Corrupt cache entry, treating as miss")
			continue
		}
		e.rec.Lookup(name, true)
		e.log.Debug().Str("cache_key", fullKey).Msg("Cache hit")
		if !has {
			return nil, true
		}
		return v, true
	}
	e.rec.Lookup(spec.Names[0], false)
	return nil, false
}

// computePhase invokes the origin exactly once, applying the stampede policy
// of the first applying cacheable spec: in-process single-flight when Sync,
// a distributed lock when DistributedLock.
func (e *Engine) computePhase(ctx context.Context, p plan, lookups []lookupOp, inv Invocation, origin func(context.Context) (any, error), decode decodeFunc, primary string) (computeOutcome, error) {
	var lockOp, syncOp *lookupOp
	anyApply := false
	for i := range lookups {
		if !lookups[i].apply {
			continue
		}
		anyApply = true
		if lockOp == nil && lookups[i].spec.DistributedLock {
			lockOp = &lookups[i]
		}
		if syncOp == nil && lookups[i].spec.Sync {
			syncOp = &lookups[i]
		}
	}

	mode := metrics.ModeUnlocked
	if len(p.cacheables) > 0 && !anyApply {
		mode = metrics.ModeBypass
	}

	compute := func(ctx context.Context) (computeOutcome, error) {
		if lockOp == nil {
			return e.computeUnlocked(ctx, lookups, inv, origin, primary, mode)
		}
		return e.computeLocked(ctx, lockOp, lookups, inv, origin, decode)
	}

	if syncOp != nil {
		sfKey := inv.CallSite() + ":" + syncOp.spec.Names[0] + ":" + syncOp.key
		v, err, _ := e.sf.Do(sfKey, func() (any, error) {
			return compute(ctx)
		})
		if err != nil {
			return computeOutcome{}, err
		}
		return v.(computeOutcome), nil
	}
	return compute(ctx)
}

// computeUnlocked invokes the origin and fills every applying cacheable
// namespace with the result.
func (e *Engine) computeUnlocked(ctx context.Context, lookups []lookupOp, inv Invocation, origin func(context.Context) (any, error), primary, mode string) (computeOutcome, error) {
	result, err := e.invokeOrigin(ctx, origin, primary, mode)
	if err != nil {
		return computeOutcome{}, err
	}
	e.fillCacheables(ctx, lookups, inv, result)
	return computeOutcome{value: result}, nil
}

// computeLocked runs the distributed stampede protocol: winners compute
// under the lock and release it before returning, losers poll the entry the
// winner will write and degrade to an unlocked computation when the wait
// lapses. Lock-layer failures degrade rather than fail.
func (e *Engine) computeLocked(ctx context.Context, lockOp *lookupOp, lookups []lookupOp, inv Invocation, origin func(context.Context) (any, error), decode decodeFunc) (computeOutcome, error) {
	primary := lockOp.spec.Names[0]
	entryKey := primary + ":" + lockOp.key

	lease := lockOp.spec.LockLease
	if lease <= 0 {
		lease = e.lockCfg.LeaseTime
	}
	if lease <= 0 {
		lease = defaultLockLease
	}

	token, acquired, err := e.coord.Acquire(ctx, entryKey, lease)
	if err != nil {
		e.rec.StoreError("lock")
		e.rec.LockOutcome(metrics.OutcomeDegraded)
		e.log.Warn().
			Err(err).
			Str("cache_key", entryKey).
			Msg("Lock acquisition degraded, computing without lock")
		return e.computeUnlocked(ctx, lookups, inv, origin, primary, metrics.ModeUnlocked)
	}

	if acquired {
		e.rec.LockOutcome(metrics.OutcomeAcquired)
		released := false
		release := func() {
			if released {
				return
			}
			released = true
			// Release survives caller cancellation so an aborted compute
			// never strands the lock for a full lease.
			if err := e.coord.Release(context.WithoutCancel(ctx), token); err != nil {
				e.rec.StoreError("unlock")
				e.log.Warn().
					Err(err).
					Str("cache_key", entryKey).
					Msg("Lock release failed, lease will lapse")
			}
		}
		defer release()

		// Double-check after acquiring: a previous holder may have filled
		// the entry between our lookup miss and this acquisition.
		if data, found, gerr := e.store.Get(ctx, entryKey); gerr == nil && found {
			if v, has, derr := decode(data); derr == nil {
				e.rec.Lookup(primary, true)
				e.log.Debug().Str("cache_key", entryKey).Msg("Entry appeared before lock acquisition")
				release()
				if !has {
					return computeOutcome{fromCache: true}, nil
				}
				return computeOutcome{value: v, fromCache: true}, nil
			}
		} else if gerr != nil {
			e.rec.StoreError("get")
		}

		result, err := e.invokeOrigin(ctx, origin, primary, metrics.ModeLocked)
		if err != nil {
			return computeOutcome{}, err
		}
		e.fillCacheables(ctx, lookups, inv, result)
		release()
		return computeOutcome{value: result}, nil
	}

	wait := lockOp.spec.LockWait
	if wait <= 0 {
		wait = e.lockCfg.WaitTime
	}
	if wait <= 0 {
		wait = defaultLockWait
	}

	data, found, err := e.coord.AwaitEntry(ctx, entryKey, wait)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return computeOutcome{}, err
		}
		e.rec.StoreError("get")
		e.rec.LockOutcome(metrics.OutcomeDegraded)
		e.log.Warn().
			Err(err).
			Str("cache_key", entryKey).
			Msg("Lock wait degraded, computing without lock")
		return e.computeUnlocked(ctx, lookups, inv, origin, primary, metrics.ModeUnlocked)
	}
	if found {
		v, has, derr := decode(data)
		if derr == nil {
			e.rec.LockOutcome(metrics.OutcomeWon)
			e.rec.Lookup(primary, true)
			e.log.Debug().Str("cache_key", entryKey).Msg("Entry appeared while waiting on lock")
			if !has {
				return computeOutcome{fromCache: true}, nil
			}
			return computeOutcome{value: v, fromCache: true}, nil
		}
		e.log.Warn().
			Err(derr).
			Str("cache_key", entryKey).
			Msg("Corrupt cache entry while waiting on lock")
	}

	e.rec.LockOutcome(metrics.OutcomeTimeout)
	e.log.Debug().Str("cache_key", entryKey).Msg("Lock wait lapsed, computing without lock")
	return e.computeUnlocked(ctx, lookups, inv, origin, primary, metrics.ModeUnlocked)
}

func (e *Engine) invokeOrigin(ctx context.Context, origin func(context.Context) (any, error), cache, mode string) (any, error) {
	start := time.Now()
	result, err := origin(ctx)
	e.rec.Duration("origin", time.Since(start).Seconds())
	e.rec.Origin(cache, mode)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// fillCacheables stores the computed result under every applying cacheable
// spec, honoring Unless and the null-value policy. Failures degrade.
func (e *Engine) fillCacheables(ctx context.Context, lookups []lookupOp, inv Invocation, result any) {
	rinv := inv.withResult(result)
	for _, op := range lookups {
		if !op.apply {
			continue
		}
		if e.unlessBlocks(op.spec, rinv) {
			continue
		}
		if isNilValue(result) && !op.spec.CacheNullValues {
			continue
		}
		e.writeEntry(ctx, nil, op.spec, op.key, result)
	}
}

// putOne runs one put spec against the origin result. The invocation carries
// the result, so put key expressions can address it.
func (e *Engine) putOne(ctx context.Context, txn *txnLog, spec Spec, rinv Invocation, result any) {
	if !e.conditionHolds(spec, rinv) {
		return
	}
	if e.unlessBlocks(spec, rinv) {
		return
	}
	if isNilValue(result) && !spec.CacheNullValues {
		return
	}
	key, err := e.resolver.ResolveKey(spec, rinv)
	if err != nil {
		txn.fail()
		e.log.Warn().
			Err(err).
			Str("call_site", rinv.CallSite()).
			Msg("Key resolution failed, skipping put")
		return
	}
	e.writeEntry(ctx, txn, spec, key, result)
}

// writeEntry encodes once and writes the entry into each of the spec's
// namespaces. Without Override an existing entry is left in place. A non-nil
// txn records completed writes and failures.
func (e *Engine) writeEntry(ctx context.Context, txn *txnLog, spec Spec, key string, result any) {
	var value any = result
	if isNilValue(result) {
		value = nil
	}
	data, err := EncodeEntry(value)
	if err != nil {
		txn.fail()
		e.log.Warn().
			Err(err).
			Str("cache_key", key).
			Msg("Failed to encode cache entry")
		return
	}
	ttl := e.resolver.ResolveTTL(spec)
	for _, name := range spec.Names {
		fullKey := name + ":" + key
		if spec.Kind == KindPut && !spec.Override {
			_, found, gerr := e.store.Get(ctx, fullKey)
			if gerr != nil {
				e.rec.StoreError("get")
			} else if found {
				e.log.Debug().Str("cache_key", fullKey).Msg("Put skipped, entry exists")
				continue
			}
		}
		if err := e.store.Set(ctx, fullKey, data, ttl); err != nil {
			txn.fail()
			e.rec.StoreError("set")
			e.log.Warn().
				Err(err).
				Str("cache_key", fullKey).
				Msg("Cache write degraded")
			continue
		}
		e.rec.Put(name)
		txn.recordPut(name, fullKey)
		e.log.Debug().
			Str("cache_key", fullKey).
			Dur("ttl", ttl).
			Msg("Cached entry")
	}
}

// evictOne runs one evict spec against its namespaces and cascade targets.
// AllEntries wipes whole namespaces; otherwise a single resolved key is
// removed from each.
func (e *Engine) evictOne(ctx context.Context, txn *txnLog, spec Spec, inv Invocation) {
	if !e.conditionHolds(spec, inv) {
		return
	}
	targets := make([]string, 0, len(spec.Names)+len(spec.CascadeTargets))
	targets = append(targets, spec.Names...)
	targets = append(targets, spec.CascadeTargets...)

	if spec.AllEntries {
		for _, name := range targets {
			removed, err := e.store.DeleteByPattern(ctx, name+":*")
			if err != nil {
				txn.fail()
				e.rec.StoreError("delete_pattern")
				e.log.Warn().
					Err(err).
					Str("cache", name).
					Msg("Namespace eviction degraded")
				continue
			}
			e.rec.Evict(name, metrics.ScopeNamespace)
			e.log.Debug().
				Str("cache", name).
				Int("removed", removed).
				Msg("Evicted namespace")
		}
		return
	}

	key, err := e.resolver.ResolveKey(spec, inv)
	if err != nil {
		txn.fail()
		e.log.Warn().
			Err(err).
			Str("call_site", inv.CallSite()).
			Msg("Key resolution failed, skipping eviction")
		return
	}
	for _, name := range targets {
		fullKey := name + ":" + key
		if _, err := e.store.Delete(ctx, fullKey); err != nil {
			txn.fail()
			e.rec.StoreError("delete")
			e.log.Warn().
				Err(err).
				Str("cache_key", fullKey).
				Msg("Eviction degraded")
			continue
		}
		e.rec.Evict(name, metrics.ScopeKey)
		e.log.Debug().Str("cache_key", fullKey).Msg("Evicted entry")
	}
}

// compensatePuts reverse-evicts every completed put of a failed composed
// call. Best effort, immune to caller cancellation.
func (e *Engine) compensatePuts(ctx context.Context, txn *txnLog) {
	base := context.WithoutCancel(ctx)
	for _, p := range txn.puts {
		if _, err := e.store.Delete(base, p.key); err != nil {
			e.rec.StoreError("delete")
			e.log.Error().
				Err(err).
				Str("cache_key", p.key).
				Msg("Compensating eviction failed")
			continue
		}
		e.rec.Compensation(p.cache)
		e.log.Debug().Str("cache_key", p.key).Msg("Compensated completed put")
	}
}

func (e *Engine) conditionHolds(spec Spec, inv Invocation) bool {
	if spec.Condition == "" {
		return true
	}
	ok, err := expr.EvaluateBool(spec.Condition, inv.env())
	if err != nil {
		e.log.Warn().
			Err(err).
			Str("call_site", inv.CallSite()).
			Str("expression", spec.Condition).
			Msg("Condition expression failed, applying operation")
		return true
	}
	return ok
}

func (e *Engine) unlessBlocks(spec Spec, inv Invocation) bool {
	if spec.Unless == "" {
		return false
	}
	block, err := expr.EvaluateBool(spec.Unless, inv.env())
	if err != nil {
		e.log.Warn().
			Err(err).
			Str("call_site", inv.CallSite()).
			Str("expression", spec.Unless).
			Msg("Unless expression failed, storing result")
		return false
	}
	return block
}

// isNilValue reports whether v is nil or a typed nil, the shapes a
// known-empty origin result can take.
func isNilValue(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
