package annotation

import (
	"context"
	"reflect"
	"sync/atomic"

	"github.com/conduit-lang/annotate/runtime/binder"
	"github.com/conduit-lang/annotate/runtime/weave"
)

// StopPropagation blocks annotations of the listed types found on more
// distant ancestors of the target it is bound to.
type StopPropagation struct {
	Base
	Types []reflect.Type
}

// NewStopPropagation creates a stop marker for the given annotation types
func NewStopPropagation(types ...reflect.Type) *StopPropagation {
	return &StopPropagation{Base: NewBase(), Types: types}
}

// Interceptor is the base of annotations that wrap their target's
// invocation. Embed it by value, initialise it with NewInterceptor and
// implement Around (and optionally Before and After) on the embedding type.
type Interceptor struct {
	Base
	enabled *atomic.Bool
}

// NewInterceptor creates an enabled interceptor base
func NewInterceptor(opts ...Option) Interceptor {
	enabled := &atomic.Bool{}
	enabled.Store(true)
	return Interceptor{Base: NewBase(opts...), enabled: enabled}
}

// Enabled reports whether the interceptor runs its hooks
func (i *Interceptor) Enabled() bool {
	return i.enabled == nil || i.enabled.Load()
}

// SetEnabled switches the interceptor on or off. Calls already past the
// check finish unaffected.
func (i *Interceptor) SetEnabled(enabled bool) {
	if i.enabled == nil {
		lazyInit.Lock()
		if i.enabled == nil {
			i.enabled = &atomic.Bool{}
		}
		lazyInit.Unlock()
	}
	i.enabled.Store(enabled)
}

// Toggle is implemented by interceptors that can be switched on and off
type Toggle interface {
	Annotation
	SetEnabled(enabled bool)
}

// EnableAll switches every interceptor visible on target that the filter
// accepts, and returns how many were switched.
func EnableAll(r *Registry, target Target, filter Filter, enabled bool) int {
	n := 0
	for _, a := range r.Annotations(target, filter) {
		if t, ok := a.(Toggle); ok {
			t.SetEnabled(enabled)
			n++
		}
	}
	return n
}

// Hooks are the optional function hooks of a FuncInterceptor
type Hooks struct {
	Name   string
	Before func(jp *weave.Joinpoint) error
	Around func(jp *weave.Joinpoint) (any, error)
	After  func(jp *weave.Joinpoint, result any) error
}

// FuncInterceptor is an interceptor built from function hooks
type FuncInterceptor struct {
	Interceptor
	hooks Hooks
}

// NewFuncInterceptor creates an interceptor running the given hooks. A nil
// Around proceeds unchanged.
func NewFuncInterceptor(hooks Hooks, opts ...Option) *FuncInterceptor {
	return &FuncInterceptor{Interceptor: NewInterceptor(opts...), hooks: hooks}
}

func (f *FuncInterceptor) AdviceName() string {
	if f.hooks.Name != "" {
		return f.hooks.Name
	}
	return "interceptor"
}

func (f *FuncInterceptor) Before(jp *weave.Joinpoint) error {
	if f.hooks.Before == nil {
		return nil
	}
	return f.hooks.Before(jp)
}

func (f *FuncInterceptor) Around(jp *weave.Joinpoint) (any, error) {
	if f.hooks.Around == nil {
		return jp.Proceed()
	}
	return f.hooks.Around(jp)
}

func (f *FuncInterceptor) After(jp *weave.Joinpoint, result any) error {
	if f.hooks.After == nil {
		return nil
	}
	return f.hooks.After(jp, result)
}

// Woven is the handle returned when an interceptor is bound to an
// invocable target. It shares the target's identity; invoking it runs the
// target's advice chain.
type Woven struct {
	r     *Registry
	inner Invocable
}

func (w *Woven) Kind() Kind          { return w.inner.Kind() }
func (w *Woven) Name() string        { return w.inner.Name() }
func (w *Woven) Key() any            { return w.inner.Key() }
func (w *Woven) CanBind() error      { return w.inner.CanBind() }
func (w *Woven) Ancestors() []Target { return w.inner.Ancestors() }

// Original returns the unwoven target
func (w *Woven) Original() Invocable { return w.inner }

// Invoke runs the advice chain around the original target
func (w *Woven) Invoke(ctx context.Context, args weave.Args) (any, error) {
	return w.r.weaver.Invoke(ctx, w.inner.Key(), w.inner.Name(), w.inner, w.inner.Invoke, args)
}

// Call is Invoke with positional arguments
func (w *Woven) Call(ctx context.Context, args ...any) (any, error) {
	return w.Invoke(ctx, weave.Positional(args...))
}

// Signature returns the original target's parameter shape
func (w *Woven) Signature() *binder.Signature {
	if p, ok := w.inner.(Parameterised); ok {
		return p.Signature()
	}
	return binder.New()
}
