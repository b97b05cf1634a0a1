// Package weave implements advice chains around target invocation.
//
// A Weaver keeps one ordered chain of Advice per target key. Weaving the
// first advice moves the key from unwoven to woven; unweaving the last one
// removes the chain so invocation goes straight to the original callable.
// The newest advice is the outermost link.
//
// Each link of a chain follows the same protocol: Enabled is read on every
// call (a disabled link passes through), then the optional Before hook, the
// Around hook (which decides whether and how to Proceed), and the optional
// After hook receiving the produced result. Errors and panics raised by a
// hook reach the caller as *InterceptorError unless the error implements
// Passthrough. Errors returned by the rest of the chain flow back unchanged.
package weave

import (
	"context"
	"maps"
)

// Args holds the positional and named arguments of one invocation
type Args struct {
	Positional []any
	Named      map[string]any
}

// Clone returns a copy whose slice and map can be mutated independently
func (a Args) Clone() Args {
	out := Args{}
	if a.Positional != nil {
		out.Positional = append([]any(nil), a.Positional...)
	}
	if a.Named != nil {
		out.Named = maps.Clone(a.Named)
	}
	return out
}

// Positional builds Args from positional values
func Positional(values ...any) Args {
	return Args{Positional: values}
}

// Callable is the uniform signature of every invocable target
type Callable func(ctx context.Context, args Args) (any, error)

// Advice is one link of an advice chain
type Advice interface {
	// Enabled is consulted on every call; a disabled advice passes through.
	Enabled() bool
	// Around runs the interception. It calls jp.Proceed to continue with the
	// rest of the chain, or returns without proceeding to suppress the call.
	Around(jp *Joinpoint) (any, error)
}

// BeforeAdvice is implemented by advice with a pre-hook
type BeforeAdvice interface {
	Before(jp *Joinpoint) error
}

// AfterAdvice is implemented by advice with a post-hook
type AfterAdvice interface {
	After(jp *Joinpoint, result any) error
}

// Named is implemented by advice that want a readable name in errors and logs
type Named interface {
	AdviceName() string
}

func adviceName(a Advice) string {
	if n, ok := a.(Named); ok {
		return n.AdviceName()
	}
	return "advice"
}
