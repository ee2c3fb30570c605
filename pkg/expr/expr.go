// Package expr implements the constrained expression language used by cache
// operation specs for key derivation, condition gates, and unless guards.
//
// Expressions are evaluated against an invocation environment: named call
// arguments, positional fallbacks (p0, p1, ...), the call site identifier
// (callSite), and, after the origin call has run, the computed result
// (result). The grammar supports boolean logic (||, &&, !), comparisons
// (==, !=, <, <=, >, >=), string/number concatenation (+), literals
// ('text', "text", numbers, true, false, null), and field access chains
// (result.Owner.ID). Field access reads exported struct fields and
// string-keyed map entries only; there are no method calls, no indexing,
// and no side effects, so configuration-supplied expressions cannot
// execute arbitrary code.
//
// Compilation is memoized process-wide: each distinct source string is
// parsed once and the compiled form is shared read-only across calls.
//
// Example usage:
//
//	ok, err := expr.EvaluateBool("region == 'eu' && userId > 100", expr.Env{
//	    "region": "eu",
//	    "userId": 314,
//	})
package expr

import (
	"fmt"
	"strconv"
	"sync"
)

// Env is the evaluation environment: identifier bindings for one invocation.
type Env map[string]any

// Error describes an expression parse or evaluation failure.
// The interception engine recovers from these locally with a per-site safe
// default; they are never surfaced to the intercepted caller.
type Error struct {
	Expr string // expression source text
	Msg  string // what went wrong
	Err  error  // underlying cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("expression %q: %s: %v", e.Expr, e.Msg, e.Err)
	}
	return fmt.Sprintf("expression %q: %s", e.Expr, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Compiled is a parsed expression ready for repeated evaluation.
// Compiled values are immutable and safe for concurrent use.
type Compiled struct {
	src  string
	root *expression
}

// Source returns the original expression text.
func (c *Compiled) Source() string {
	return c.src
}

// compiledCache memoizes parse results keyed by source string. Entries are
// write-once and live for the process lifetime; expressions are static
// configuration, so no invalidation is needed. Racing duplicate compiles
// produce equivalent results and only one wins the store.
var compiledCache sync.Map // string -> *Compiled

// Compile parses src into a Compiled expression, memoizing the result.
// Parse failures return an *Error and are not memoized.
func Compile(src string) (*Compiled, error) {
	if cached, ok := compiledCache.Load(src); ok {
		return cached.(*Compiled), nil
	}

	root, err := parser.ParseString("", src)
	if err != nil {
		return nil, &Error{Expr: src, Msg: "parse failed", Err: err}
	}

	c := &Compiled{src: src, root: root}
	actual, _ := compiledCache.LoadOrStore(src, c)
	return actual.(*Compiled), nil
}

// Evaluate evaluates the compiled expression against env.
func (c *Compiled) Evaluate(env Env) (any, error) {
	ev := &evaluator{src: c.src, env: env}
	return ev.expression(c.root)
}

// Evaluate compiles (or reuses the memoized compilation of) src and
// evaluates it against env.
func Evaluate(src string, env Env) (any, error) {
	c, err := Compile(src)
	if err != nil {
		return nil, err
	}
	return c.Evaluate(env)
}

// EvaluateBool evaluates src and requires a boolean result.
// A non-boolean result is an evaluation error, not a truthiness coercion.
func EvaluateBool(src string, env Env) (bool, error) {
	v, err := Evaluate(src, env)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, &Error{Expr: src, Msg: fmt.Sprintf("yielded %T, want bool", v)}
	}
	return b, nil
}

// Render converts an evaluated value to the canonical string form used in
// cache keys. Nil renders as the literal token "null" so keys built from
// absent arguments stay deterministic. Numbers render without a trailing
// fractional part when whole.
func Render(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case fmt.Stringer:
		return x.String()
	}
	return renderReflect(v)
}
