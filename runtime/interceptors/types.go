package interceptors

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/conduit-lang/annotate/runtime/annotation"
	"github.com/conduit-lang/annotate/runtime/weave"
)

// Spec is a declarative value check used by Types
type Spec interface {
	Check(v any) bool
	String() string
}

type isSpec struct {
	t reflect.Type
}

// Is accepts nil and values whose type is t or implements interface t
func Is(t reflect.Type) Spec {
	return isSpec{t: t}
}

// TypeOf is Is for a type parameter
func TypeOf[T any]() Spec {
	return Is(reflect.TypeOf((*T)(nil)).Elem())
}

func (s isSpec) Check(v any) bool {
	if v == nil {
		return true
	}
	vt := reflect.TypeOf(v)
	if s.t.Kind() == reflect.Interface {
		return vt.Implements(s.t)
	}
	return vt == s.t
}

func (s isSpec) String() string { return s.t.String() }

type notNone struct {
	inner Spec
}

// NotNone rejects nil values and checks the rest against inner
func NotNone(inner Spec) Spec {
	return notNone{inner: inner}
}

func (s notNone) Check(v any) bool {
	return !isNil(v) && s.inner.Check(v)
}

func (s notNone) String() string { return "NotNone(" + s.inner.String() + ")" }

type notEmpty struct {
	inner Spec
}

// NotEmpty accepts non-empty containers (slices, arrays, maps, strings,
// channels) that also satisfy inner. It rejects nil.
func NotEmpty(inner Spec) Spec {
	return notEmpty{inner: inner}
}

func (s notEmpty) Check(v any) bool {
	if isNil(v) {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String, reflect.Chan:
		return rv.Len() > 0 && s.inner.Check(v)
	}
	return false
}

func (s notEmpty) String() string { return "NotEmpty(" + s.inner.String() + ")" }

type listOf struct {
	elem Spec
}

// ListOf accepts nil and slices or arrays whose elements all satisfy elem.
// ListOf(nil) accepts only empty lists.
func ListOf(elem Spec) Spec {
	return listOf{elem: elem}
}

func (s listOf) Check(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	if s.elem == nil {
		return rv.Len() == 0
	}
	for i := 0; i < rv.Len(); i++ {
		if !s.elem.Check(rv.Index(i).Interface()) {
			return false
		}
	}
	return true
}

func (s listOf) String() string {
	if s.elem == nil {
		return "[]"
	}
	return "[" + s.elem.String() + "]"
}

type setOf struct {
	elem Spec
}

// SetOf accepts nil and maps whose keys all satisfy elem. SetOf(nil)
// accepts only empty sets.
func SetOf(elem Spec) Spec {
	return setOf{elem: elem}
}

func (s setOf) Check(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map {
		return false
	}
	if s.elem == nil {
		return rv.Len() == 0
	}
	iter := rv.MapRange()
	for iter.Next() {
		if !s.elem.Check(iter.Key().Interface()) {
			return false
		}
	}
	return true
}

func (s setOf) String() string {
	if s.elem == nil {
		return "{}"
	}
	return "{" + s.elem.String() + "}"
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// Types checks parameters before the call and the result after it
type Types struct {
	annotation.Interceptor
	params map[string]Spec
	result Spec
}

// NewTypes creates a Types interceptor. result may be nil to skip the
// result check; params maps parameter names to specs.
func NewTypes(result Spec, params map[string]Spec) *Types {
	return &Types{Interceptor: annotation.NewInterceptor(), params: params, result: result}
}

func (t *Types) AdviceName() string { return "types" }

func (t *Types) String() string {
	names := make([]string, 0, len(t.params))
	for name, spec := range t.params {
		names = append(names, fmt.Sprintf("%s: %s", name, spec))
	}
	sort.Strings(names)
	result := "any"
	if t.result != nil {
		result = t.result.String()
	}
	return fmt.Sprintf("Types(%s) %s", strings.Join(names, ", "), result)
}

func (t *Types) Before(jp *weave.Joinpoint) error {
	if len(t.params) == 0 {
		return nil
	}
	p, ok := jp.Target.(annotation.Parameterised)
	if !ok {
		return errors.Newf("%s has no parameter shape", jp.Name)
	}
	bound, err := p.Signature().Bind(jp.Args.Positional, jp.Args.Named)
	if err != nil {
		return err
	}
	for _, name := range p.Signature().Names() {
		spec, ok := t.params[name]
		if !ok {
			continue
		}
		if value := bound.Values[name]; !spec.Check(value) {
			return &TypesError{Target: jp.Name, Param: name, Value: value, Expected: spec.String()}
		}
	}
	return nil
}

func (t *Types) Around(jp *weave.Joinpoint) (any, error) {
	return jp.Proceed()
}

func (t *Types) After(jp *weave.Joinpoint, result any) error {
	if t.result != nil && !t.result.Check(result) {
		return &TypesError{Target: jp.Name, Value: result, Expected: t.result.String()}
	}
	return nil
}
