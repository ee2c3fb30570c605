package intercept

import (
	"fmt"
	"strings"
	"time"

	"github.com/xhit/go-str2duration/v2"

	"github.com/Combine-Capital/cqcache/pkg/expr"
	"github.com/Combine-Capital/cqcache/pkg/logging"
)

// fallbackTTL is applied when neither the spec nor the configuration carries
// an expiry.
const fallbackTTL = 30 * time.Minute

// KeyResolutionError reports a cache key that could not be resolved for an
// operation. The operation is skipped; the origin call still runs.
type KeyResolutionError struct {
	// CallSite is the intercepted operation.
	CallSite string

	// Source describes what produced the key: the expression, the generator
	// name, or "default".
	Source string

	// Err is the underlying cause, nil when the key simply resolved empty.
	Err error
}

func (e *KeyResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("call site %q: cache key from %s: %v", e.CallSite, e.Source, e.Err)
	}
	return fmt.Sprintf("call site %q: cache key from %s resolved empty", e.CallSite, e.Source)
}

func (e *KeyResolutionError) Unwrap() error {
	return e.Err
}

// Resolver turns a spec and an invocation into concrete cache keys and TTLs.
// Expression failures are recovered locally: a broken key expression falls
// back to the default key, a broken TTL literal falls back down the TTL
// chain. Only an empty or unresolvable key fails, and that failure is scoped
// to the one operation.
type Resolver struct {
	registry   *Registry
	defaultTTL time.Duration
	log        *logging.Logger
}

// NewResolver creates a resolver backed by the given generator registry.
// defaultTTL is the process-wide expiry applied when a spec declares none;
// zero or negative selects a built-in 30 minute default. A nil logger
// disables logging.
func NewResolver(registry *Registry, defaultTTL time.Duration, log *logging.Logger) *Resolver {
	if registry == nil {
		registry = NewRegistry()
	}
	if defaultTTL <= 0 {
		defaultTTL = fallbackTTL
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Resolver{
		registry:   registry,
		defaultTTL: defaultTTL,
		log:        log.WithComponent("intercept.resolver"),
	}
}

// ResolveKey produces the logical cache key for one operation. Precedence:
// the spec's key expression, then its named generator, then the default
// call-site key. A failing expression demotes to the default key; a missing
// or failing generator, or an empty result, returns KeyResolutionError.
func (r *Resolver) ResolveKey(spec Spec, inv Invocation) (string, error) {
	if spec.Key != "" {
		v, err := expr.Evaluate(spec.Key, inv.env())
		if err != nil {
			r.log.Warn().
				Err(err).
				Str("call_site", inv.CallSite()).
				Str("expression", spec.Key).
				Msg("Key expression failed, falling back to default key")
			return r.finish(DefaultKey(inv.CallSite(), inv.Args()), inv, "default")
		}
		return r.finish(expr.Render(v), inv, "expression "+spec.Key)
	}
	if spec.KeyGenerator != "" {
		gen, ok := r.registry.Lookup(spec.KeyGenerator)
		if !ok {
			return "", &KeyResolutionError{
				CallSite: inv.CallSite(),
				Source:   "generator " + spec.KeyGenerator,
				Err:      fmt.Errorf("generator %q is not registered", spec.KeyGenerator),
			}
		}
		key, err := gen(inv.CallSite(), inv.Args())
		if err != nil {
			return "", &KeyResolutionError{
				CallSite: inv.CallSite(),
				Source:   "generator " + spec.KeyGenerator,
				Err:      err,
			}
		}
		return r.finish(key, inv, "generator "+spec.KeyGenerator)
	}
	return r.finish(DefaultKey(inv.CallSite(), inv.Args()), inv, "default")
}

func (r *Resolver) finish(key string, inv Invocation, source string) (string, error) {
	if key == "" {
		return "", &KeyResolutionError{CallSite: inv.CallSite(), Source: source}
	}
	return key, nil
}

// ResolveTTL produces the expiry for one operation. Precedence: the TTL
// duration literal, then TTLSeconds, then the configured default. An
// unparseable or non-positive literal is demoted, never fatal.
func (r *Resolver) ResolveTTL(spec Spec) time.Duration {
	if spec.TTL != "" {
		d, err := str2duration.ParseDuration(normalizeDurationLiteral(spec.TTL))
		if err == nil && d > 0 {
			return d
		}
		r.log.Warn().
			Err(err).
			Str("ttl", spec.TTL).
			Msg("Unparseable TTL literal, falling back")
	}
	if spec.TTLSeconds > 0 {
		return time.Duration(spec.TTLSeconds) * time.Second
	}
	return r.defaultTTL
}

// normalizeDurationLiteral rewrites ISO-8601 duration syntax ("PT30M",
// "P1DT2H") into the extended Go form the duration parser accepts. Literals
// using calendar units (months, years) pass through unchanged and fail the
// parse. Non-ISO input is returned as-is.
func normalizeDurationLiteral(s string) string {
	u := strings.ToUpper(strings.TrimSpace(s))
	if !strings.HasPrefix(u, "P") {
		return s
	}
	datePart, timePart, hasT := strings.Cut(u[1:], "T")
	if strings.ContainsAny(datePart, "MY") {
		return s
	}
	out := strings.ToLower(datePart)
	if hasT {
		out += strings.ToLower(timePart)
	}
	if out == "" {
		return s
	}
	return out
}
