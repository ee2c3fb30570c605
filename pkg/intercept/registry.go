package intercept

import (
	"strings"
	"sync"

	"github.com/Combine-Capital/cqcache/pkg/errors"
	"github.com/Combine-Capital/cqcache/pkg/expr"
)

// Generator produces a cache key for a call site from its arguments. It is
// invoked when a spec names it via KeyGenerator instead of declaring a key
// expression. Generators must be safe for concurrent use.
type Generator func(callSite string, args []Arg) (string, error)

// Registry maps generator names to implementations. The zero value is not
// usable; create one with NewRegistry. All methods are safe for concurrent
// use.
type Registry struct {
	generators sync.Map // map[string]Generator
}

// NewRegistry creates an empty key generator registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a named generator. Registering a name twice or a nil
// generator is an error, so wiring mistakes surface at startup.
func (r *Registry) Register(name string, gen Generator) error {
	if name == "" {
		return errors.NewInvalidInput("name", "generator name must not be empty")
	}
	if gen == nil {
		return errors.NewInvalidInput("generator", "generator must not be nil")
	}
	if _, loaded := r.generators.LoadOrStore(name, gen); loaded {
		return errors.NewInvalidInput("name", "generator "+name+" is already registered")
	}
	return nil
}

// Lookup returns the generator registered under name.
func (r *Registry) Lookup(name string) (Generator, bool) {
	v, ok := r.generators.Load(name)
	if !ok {
		return nil, false
	}
	return v.(Generator), true
}

// DefaultKey derives a deterministic cache key from the call site and the
// rendered arguments: "<callSite>:<arg0>,<arg1>,...". Nil arguments render
// as "null".
func DefaultKey(callSite string, args []Arg) string {
	var b strings.Builder
	b.WriteString(callSite)
	b.WriteByte(':')
	for i, a := range args {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(expr.Render(a.Value))
	}
	return b.String()
}
