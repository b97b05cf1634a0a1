// Package binder resolves concrete call arguments against a callable's
// formal parameter shape.
//
// A Signature lists named parameters, optional defaults and an optional
// trailing variadic parameter. Bind maps positional and named arguments onto
// those parameters and reports a *BindingError when the arguments cannot be
// bound (missing, unexpected, duplicated or surplus arguments).
package binder

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// Param describes one formal parameter
type Param struct {
	Name       string
	Default    any
	HasDefault bool
	Variadic   bool
}

// Signature is the formal parameter shape of a callable
type Signature struct {
	Params []Param

	// Types holds the Go parameter types when the signature was derived from
	// a function value. It is nil for signatures declared by hand.
	Types []reflect.Type
}

// Bound is the result of a successful Bind
type Bound struct {
	sig    *Signature
	Values map[string]any
	Extra  []any // surplus positional arguments absorbed by the variadic parameter
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// ErrNotAFunction is returned by Of when the value is not a func
var ErrNotAFunction = errors.New("value is not a function")

// New builds a signature from parameter names. A name prefixed with "..."
// declares the variadic parameter, which must be last.
func New(names ...string) *Signature {
	sig := &Signature{Params: make([]Param, 0, len(names))}
	for i, name := range names {
		p := Param{Name: name}
		if strings.HasPrefix(name, "...") && i == len(names)-1 {
			p.Name = strings.TrimPrefix(name, "...")
			p.Variadic = true
		}
		sig.Params = append(sig.Params, p)
	}
	return sig
}

// Of derives a signature from a Go function value. A leading
// context.Context parameter is not part of the signature. Names default to
// arg0, arg1, ... when not supplied.
func Of(fn any, names ...string) (*Signature, error) {
	if fn == nil {
		return nil, ErrNotAFunction
	}
	ft := reflect.TypeOf(fn)
	if ft.Kind() != reflect.Func {
		return nil, errors.Wrapf(ErrNotAFunction, "%T", fn)
	}

	start := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		start = 1
	}

	n := ft.NumIn() - start
	if len(names) > n {
		return nil, errors.Newf("%d parameter names given for a function with %d parameters", len(names), n)
	}

	sig := &Signature{
		Params: make([]Param, 0, n),
		Types:  make([]reflect.Type, 0, n),
	}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("arg%d", i)
		if i < len(names) && names[i] != "" {
			name = names[i]
		}
		p := Param{Name: name}
		if ft.IsVariadic() && i == n-1 {
			p.Variadic = true
		}
		sig.Params = append(sig.Params, p)
		sig.Types = append(sig.Types, ft.In(i+start))
	}
	return sig, nil
}

// WithDefault returns a copy of the signature in which the named parameter
// takes the given default value.
func (s *Signature) WithDefault(name string, value any) *Signature {
	out := &Signature{
		Params: append([]Param(nil), s.Params...),
		Types:  s.Types,
	}
	for i := range out.Params {
		if out.Params[i].Name == name {
			out.Params[i].Default = value
			out.Params[i].HasDefault = true
		}
	}
	return out
}

// Names returns the parameter names in declaration order
func (s *Signature) Names() []string {
	names := make([]string, len(s.Params))
	for i, p := range s.Params {
		names[i] = p.Name
	}
	return names
}

func (s *Signature) variadic() (Param, bool) {
	if len(s.Params) == 0 {
		return Param{}, false
	}
	last := s.Params[len(s.Params)-1]
	return last, last.Variadic
}

// Bind resolves positional and named arguments against the signature
func (s *Signature) Bind(positional []any, named map[string]any) (*Bound, error) {
	bound := &Bound{sig: s, Values: make(map[string]any, len(s.Params))}
	fixed := s.Params
	variadic, hasVariadic := s.variadic()
	if hasVariadic {
		fixed = s.Params[:len(s.Params)-1]
	}

	for i, arg := range positional {
		if i < len(fixed) {
			bound.Values[fixed[i].Name] = arg
			continue
		}
		if !hasVariadic {
			return nil, &BindingError{
				Reason: fmt.Sprintf("takes %d positional arguments but %d were given", len(fixed), len(positional)),
			}
		}
		bound.Extra = append(bound.Extra, arg)
	}

	var unexpected, duplicated []string
	for name, value := range named {
		idx := s.index(name)
		if idx < 0 || (hasVariadic && name == variadic.Name) {
			unexpected = append(unexpected, name)
			continue
		}
		if _, ok := bound.Values[name]; ok {
			duplicated = append(duplicated, name)
			continue
		}
		bound.Values[name] = value
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		return nil, &BindingError{Reason: "unexpected arguments", Names: unexpected}
	}
	if len(duplicated) > 0 {
		sort.Strings(duplicated)
		return nil, &BindingError{Reason: "multiple values for arguments", Names: duplicated}
	}

	var missing []string
	for _, p := range fixed {
		if _, ok := bound.Values[p.Name]; ok {
			continue
		}
		if p.HasDefault {
			bound.Values[p.Name] = p.Default
			continue
		}
		missing = append(missing, p.Name)
	}
	if len(missing) > 0 {
		return nil, &BindingError{Reason: "missing required arguments", Names: missing}
	}

	if hasVariadic {
		bound.Values[variadic.Name] = append([]any(nil), bound.Extra...)
	}
	return bound, nil
}

func (s *Signature) index(name string) int {
	for i, p := range s.Params {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Positional returns the bound values in declaration order with the
// variadic values expanded at the end.
func (b *Bound) Positional() []any {
	out := make([]any, 0, len(b.sig.Params)+len(b.Extra))
	for _, p := range b.sig.Params {
		if p.Variadic {
			out = append(out, b.Extra...)
			continue
		}
		out = append(out, b.Values[p.Name])
	}
	return out
}

// BindingError reports arguments that cannot be bound to a signature
type BindingError struct {
	Reason string
	Names  []string
}

func (e *BindingError) Error() string {
	if len(e.Names) == 0 {
		return "cannot bind arguments: " + e.Reason
	}
	return fmt.Sprintf("cannot bind arguments: %s: %s", e.Reason, strings.Join(e.Names, ", "))
}
