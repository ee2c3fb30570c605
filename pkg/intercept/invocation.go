package intercept

import (
	"strconv"

	"github.com/Combine-Capital/cqcache/pkg/expr"
)

// Arg is one named argument of an intercepted call.
type Arg struct {
	Name  string
	Value any
}

// Invocation is an immutable snapshot of one call to an intercepted
// operation: the call site plus its arguments. The engine binds the origin
// result into a copy before evaluating post-invocation expressions, so a
// single Invocation value can be shared across goroutines.
type Invocation struct {
	callSite  string
	args      []Arg
	result    any
	hasResult bool
}

// NewInvocation snapshots a call to callSite with the given arguments.
// Argument order matters: each argument is also addressable positionally as
// p0, p1, and so on.
func NewInvocation(callSite string, args ...Arg) Invocation {
	return Invocation{callSite: callSite, args: args}
}

// CallSite returns the intercepted operation's identifier.
func (inv Invocation) CallSite() string {
	return inv.callSite
}

// Args returns the argument snapshot. Callers must not mutate it.
func (inv Invocation) Args() []Arg {
	return inv.args
}

// withResult returns a copy of the invocation with the origin result bound,
// making "result" addressable in unless and put-key expressions.
func (inv Invocation) withResult(result any) Invocation {
	inv.result = result
	inv.hasResult = true
	return inv
}

// env builds the expression environment for this invocation: every named
// argument, positional aliases p0..pN, the call site as "callSite", and the
// origin result as "result" once bound.
func (inv Invocation) env() expr.Env {
	e := make(expr.Env, 2*len(inv.args)+2)
	for i, a := range inv.args {
		if a.Name != "" {
			e[a.Name] = a.Value
		}
		e["p"+strconv.Itoa(i)] = a.Value
	}
	e["callSite"] = inv.callSite
	if inv.hasResult {
		e["result"] = inv.result
	}
	return e
}
