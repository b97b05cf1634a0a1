package annotation

import (
	"context"
	"fmt"
	"reflect"

	"github.com/cockroachdb/errors"

	"github.com/conduit-lang/annotate/runtime/binder"
	"github.com/conduit-lang/annotate/runtime/weave"
)

// Kind classifies targets
type Kind int

const (
	KindValue Kind = iota
	KindCallable
	KindType
	KindInstance
	KindMember
	KindGoType
)

func (k Kind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindCallable:
		return "callable"
	case KindType:
		return "type"
	case KindInstance:
		return "instance"
	case KindMember:
		return "member"
	case KindGoType:
		return "go type"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Match makes a Kind usable as a TargetSpec
func (k Kind) Match(t Target) bool {
	return t.Kind() == k
}

// Target is an entity annotations can be bound to.
//
// Key is the identity under which the registry stores the target's
// annotation list; two Target values with equal keys are the same target.
// Ancestors lists the targets whose propagating annotations this target
// inherits, nearest first.
type Target interface {
	Kind() Kind
	Name() string
	Key() any
	CanBind() error
	Ancestors() []Target
}

// Invocable is a target whose invocation can be woven
type Invocable interface {
	Target
	Invoke(ctx context.Context, args weave.Args) (any, error)
}

// Parameterised is implemented by invocables that expose a formal
// parameter shape
type Parameterised interface {
	Signature() *binder.Signature
}

// TargetSpec selects targets, as used by bind-time target rules
type TargetSpec interface {
	Match(t Target) bool
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Function is a callable target wrapping a Go function value
type Function struct {
	name string
	fn   any
	call weave.Callable
	sig  *binder.Signature
	err  error
}

// Func wraps fn as a callable target. fn is either a weave.Callable, or any
// Go function; for the latter a leading context.Context parameter receives
// the invocation context and a trailing error result is returned as the
// call's error. paramNames name the parameters for named arguments.
func Func(name string, fn any, paramNames ...string) *Function {
	f := &Function{name: name, fn: fn}

	switch c := fn.(type) {
	case weave.Callable:
		f.call = c
		f.sig = binder.New(paramNames...)
	case func(context.Context, weave.Args) (any, error):
		f.call = c
		f.sig = binder.New(paramNames...)
	default:
		sig, err := binder.Of(fn, paramNames...)
		if err != nil {
			f.err = errors.Wrapf(err, "function %s", name)
			return f
		}
		f.sig = sig
		f.call = f.reflectCall
	}
	return f
}

func (f *Function) Kind() Kind          { return KindCallable }
func (f *Function) Name() string        { return f.name }
func (f *Function) Key() any            { return f }
func (f *Function) Ancestors() []Target { return nil }

func (f *Function) CanBind() error {
	if f.err != nil {
		return f.err
	}
	return nil
}

// Signature returns the function's parameter shape
func (f *Function) Signature() *binder.Signature {
	return f.sig
}

// Invoke calls the function without any weaving
func (f *Function) Invoke(ctx context.Context, args weave.Args) (any, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.call(ctx, args)
}

func (f *Function) reflectCall(ctx context.Context, args weave.Args) (any, error) {
	fv := reflect.ValueOf(f.fn)
	ft := fv.Type()

	positional := args.Positional
	if len(args.Named) > 0 {
		bound, err := f.sig.Bind(args.Positional, args.Named)
		if err != nil {
			return nil, err
		}
		positional = bound.Positional()
	}

	in := make([]reflect.Value, 0, len(positional)+1)
	offset := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		in = append(in, reflect.ValueOf(&ctx).Elem())
		offset = 1
	}

	fixed := ft.NumIn() - offset
	if ft.IsVariadic() {
		fixed--
	}
	if len(positional) < fixed || (!ft.IsVariadic() && len(positional) > fixed) {
		return nil, &binder.BindingError{
			Reason: fmt.Sprintf("%s takes %d arguments but %d were given", f.name, fixed, len(positional)),
		}
	}

	for i, arg := range positional {
		var pt reflect.Type
		if ft.IsVariadic() && i >= fixed {
			pt = ft.In(ft.NumIn() - 1).Elem()
		} else {
			pt = ft.In(i + offset)
		}
		v, err := convertArg(arg, pt)
		if err != nil {
			return nil, errors.Wrapf(err, "%s argument %d", f.name, i)
		}
		in = append(in, v)
	}

	return splitResults(fv.Call(in))
}

func convertArg(arg any, pt reflect.Type) (reflect.Value, error) {
	if arg == nil {
		switch pt.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
			return reflect.Zero(pt), nil
		}
		return reflect.Value{}, errors.Newf("nil is not a valid %s", pt)
	}
	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(pt) {
		if pt.Kind() == reflect.Interface {
			out := reflect.New(pt).Elem()
			out.Set(v)
			return out, nil
		}
		return v, nil
	}
	if v.Type().ConvertibleTo(pt) && v.Kind() == pt.Kind() {
		return v.Convert(pt), nil
	}
	return reflect.Value{}, errors.Newf("cannot use %T as %s", arg, pt)
}

func splitResults(out []reflect.Value) (any, error) {
	if n := len(out); n > 0 && out[n-1].Type() == errorType {
		var err error
		if !out[n-1].IsNil() {
			err = out[n-1].Interface().(error)
		}
		out = out[:n-1]
		if err != nil {
			return nil, err
		}
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0].Interface(), nil
	default:
		results := make([]any, len(out))
		for i, v := range out {
			results[i] = v.Interface()
		}
		return results, nil
	}
}

type valueTarget struct {
	v any
}

// Value makes an arbitrary Go value a target. Only values with a stable
// identity (non-nil pointers and channels) can carry annotations; any other
// value yields a target whose CanBind reports ErrUnsupportedTarget.
func Value(v any) Target {
	return valueTarget{v: v}
}

func (t valueTarget) Kind() Kind          { return KindValue }
func (t valueTarget) Name() string        { return fmt.Sprintf("%T", t.v) }
func (t valueTarget) Ancestors() []Target { return nil }

func (t valueTarget) Key() any {
	if t.CanBind() != nil {
		return nil
	}
	return t.v
}

func (t valueTarget) CanBind() error {
	if t.v == nil {
		return errors.Wrap(ErrUnsupportedTarget, "nil value")
	}
	rv := reflect.ValueOf(t.v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Chan, reflect.UnsafePointer:
		if rv.IsNil() {
			return errors.Wrapf(ErrUnsupportedTarget, "nil %T", t.v)
		}
		return nil
	}
	return errors.Wrapf(ErrUnsupportedTarget, "%T has no identity", t.v)
}

type goTypeKey struct {
	t reflect.Type
}

type goTypeTarget struct {
	t reflect.Type
}

// GoType makes a Go type a target, typically an annotation type carrying
// meta-level bind guards.
func GoType(t reflect.Type) Target {
	return goTypeTarget{t: t}
}

// TypeTarget is GoType for a type parameter
func TypeTarget[T any]() Target {
	return GoType(reflect.TypeOf((*T)(nil)).Elem())
}

func (t goTypeTarget) Kind() Kind          { return KindGoType }
func (t goTypeTarget) Key() any            { return goTypeKey{t: t.t} }
func (t goTypeTarget) Ancestors() []Target { return nil }

func (t goTypeTarget) Name() string {
	if t.t == nil {
		return "<nil>"
	}
	return t.t.String()
}

func (t goTypeTarget) CanBind() error {
	if t.t == nil {
		return errors.Wrap(ErrUnsupportedTarget, "nil type")
	}
	return nil
}
