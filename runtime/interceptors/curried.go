package interceptors

import (
	"maps"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/conduit-lang/annotate/runtime/annotation"
	"github.com/conduit-lang/annotate/runtime/binder"
	"github.com/conduit-lang/annotate/runtime/weave"
)

// CurriedResult is returned by a Curried target while its arguments are
// still incomplete.
type CurriedResult struct {
	Curried *Curried
	Err     error
}

// Curried accumulates arguments across calls and invokes its target once
// they bind to its parameters. Accumulation starts over after each
// complete call.
type Curried struct {
	annotation.Interceptor

	mu           sync.Mutex
	defaultArgs  []any
	defaultNamed map[string]any
	args         []any
	named        map[string]any
}

// NewCurried creates a Curried interceptor seeded with initial arguments
func NewCurried(args []any, named map[string]any) *Curried {
	c := &Curried{
		Interceptor:  annotation.NewInterceptor(),
		defaultArgs:  append([]any(nil), args...),
		defaultNamed: maps.Clone(named),
	}
	c.reset()
	return c
}

func (c *Curried) reset() {
	c.args = append([]any(nil), c.defaultArgs...)
	c.named = maps.Clone(c.defaultNamed)
	if c.named == nil {
		c.named = make(map[string]any)
	}
}

// Pending returns the arguments accumulated so far
func (c *Curried) Pending() weave.Args {
	c.mu.Lock()
	defer c.mu.Unlock()
	return weave.Args{Positional: append([]any(nil), c.args...), Named: maps.Clone(c.named)}
}

func (c *Curried) AdviceName() string { return "curried" }

func (c *Curried) Around(jp *weave.Joinpoint) (any, error) {
	p, ok := jp.Target.(annotation.Parameterised)
	if !ok {
		return nil, errors.Newf("%s has no parameter shape", jp.Name)
	}

	c.mu.Lock()
	c.args = append(c.args, jp.Args.Positional...)
	for k, v := range jp.Args.Named {
		c.named[k] = v
	}
	merged := weave.Args{Positional: append([]any(nil), c.args...), Named: maps.Clone(c.named)}

	if _, err := p.Signature().Bind(merged.Positional, merged.Named); err != nil {
		c.mu.Unlock()
		var be *binder.BindingError
		if !errors.As(err, &be) {
			return nil, err
		}
		return &CurriedResult{Curried: c, Err: err}, nil
	}
	c.reset()
	c.mu.Unlock()

	jp.Args = merged
	return jp.Proceed()
}
