package annotation

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/conduit-lang/annotate/runtime/binder"
	"github.com/conduit-lang/annotate/runtime/weave"
)

// Type is an explicit class descriptor: a name, ordered bases and locally
// defined members. Its ancestors are its resolution order (C3
// linearisation) without itself.
type Type struct {
	name  string
	bases []*Type
	mro   []*Type

	mu      sync.RWMutex
	defs    map[string]*Function
	order   []string
	members map[string]*Member
}

// NewType declares a type. It fails when the bases admit no consistent
// resolution order.
func NewType(name string, bases ...*Type) (*Type, error) {
	t := &Type{
		name:    name,
		bases:   append([]*Type(nil), bases...),
		defs:    make(map[string]*Function),
		members: make(map[string]*Member),
	}
	mro, err := linearize(t)
	if err != nil {
		return nil, err
	}
	t.mro = mro
	return t, nil
}

// MustType is NewType for declarations known to be consistent
func MustType(name string, bases ...*Type) *Type {
	t, err := NewType(name, bases...)
	if err != nil {
		panic(err)
	}
	return t
}

func linearize(t *Type) ([]*Type, error) {
	seqs := make([][]*Type, 0, len(t.bases)+1)
	for _, b := range t.bases {
		seqs = append(seqs, append([]*Type(nil), b.mro...))
	}
	seqs = append(seqs, append([]*Type(nil), t.bases...))

	out := []*Type{t}
	for {
		seqs = nonEmpty(seqs)
		if len(seqs) == 0 {
			return out, nil
		}

		var head *Type
		for _, seq := range seqs {
			candidate := seq[0]
			if !inTail(candidate, seqs) {
				head = candidate
				break
			}
		}
		if head == nil {
			names := make([]string, len(t.bases))
			for i, b := range t.bases {
				names[i] = b.name
			}
			return nil, errors.Newf("cannot create a consistent resolution order for %s(%s)",
				t.name, strings.Join(names, ", "))
		}

		out = append(out, head)
		for i, seq := range seqs {
			if seq[0] == head {
				seqs[i] = seq[1:]
			}
		}
	}
}

func nonEmpty(seqs [][]*Type) [][]*Type {
	out := seqs[:0]
	for _, s := range seqs {
		if len(s) > 0 {
			out = append(out, s)
		}
	}
	return out
}

func inTail(t *Type, seqs [][]*Type) bool {
	for _, seq := range seqs {
		for _, x := range seq[1:] {
			if x == t {
				return true
			}
		}
	}
	return false
}

func (t *Type) Kind() Kind     { return KindType }
func (t *Type) Name() string   { return t.name }
func (t *Type) Key() any       { return t }
func (t *Type) CanBind() error { return nil }
func (t *Type) String() string { return t.name }

// Ancestors returns the resolution order without t itself
func (t *Type) Ancestors() []Target {
	out := make([]Target, 0, len(t.mro)-1)
	for _, a := range t.mro[1:] {
		out = append(out, a)
	}
	return out
}

// MRO returns the resolution order, starting with t
func (t *Type) MRO() []*Type {
	return append([]*Type(nil), t.mro...)
}

// Bases returns the declared bases
func (t *Type) Bases() []*Type {
	return append([]*Type(nil), t.bases...)
}

// IsSubtype reports whether other appears in t's resolution order
func (t *Type) IsSubtype(other *Type) bool {
	for _, a := range t.mro {
		if a == other {
			return true
		}
	}
	return false
}

// Match makes a Type usable as a TargetSpec: it selects its subtypes and
// their instances.
func (t *Type) Match(target Target) bool {
	switch v := target.(type) {
	case *Type:
		return v.IsSubtype(t)
	case *Instance:
		return v.typ.IsSubtype(t)
	}
	return false
}

// Define adds or replaces a locally defined member implemented by fn.
// fn follows the conventions of Func.
func (t *Type) Define(name string, fn any, paramNames ...string) *Member {
	t.mu.Lock()
	if _, ok := t.defs[name]; !ok {
		t.order = append(t.order, name)
	}
	t.defs[name] = Func(t.name+"."+name, fn, paramNames...)
	t.mu.Unlock()
	return t.Member(name)
}

// Member returns the member view of name on t. Views are stable: repeated
// calls with the same name return the same target.
func (t *Type) Member(name string) *Member {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.members[name]
	if !ok {
		m = &Member{owner: t, name: name}
		t.members[name] = m
	}
	return m
}

// Members returns the views of every member defined on t or any of its
// ancestors, sorted by name.
func (t *Type) Members() []*Member {
	seen := make(map[string]struct{})
	var names []string
	for _, a := range t.mro {
		for _, name := range a.localNames() {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]*Member, len(names))
	for i, name := range names {
		out[i] = t.Member(name)
	}
	return out
}

func (t *Type) localNames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.order...)
}

func (t *Type) local(name string) (*Function, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn, ok := t.defs[name]
	return fn, ok
}

// New creates an instance of t holding value
func (t *Type) New(value any) *Instance {
	return &Instance{typ: t, value: value}
}

// Member is a named member seen through a type. Its ancestors are the
// same-named members of the types further along the resolution order
// that define it locally.
type Member struct {
	owner *Type
	name  string
}

func (m *Member) Kind() Kind     { return KindMember }
func (m *Member) Name() string   { return m.owner.name + "." + m.name }
func (m *Member) Key() any       { return m }
func (m *Member) CanBind() error { return nil }

// Owner returns the type the member is seen through
func (m *Member) Owner() *Type { return m.owner }

// Ancestors returns the overridden definitions, nearest first
func (m *Member) Ancestors() []Target {
	var out []Target
	for _, a := range m.owner.mro[1:] {
		if _, ok := a.local(m.name); ok {
			out = append(out, a.Member(m.name))
		}
	}
	return out
}

func (m *Member) resolve() (*Function, bool) {
	for _, a := range m.owner.mro {
		if fn, ok := a.local(m.name); ok {
			return fn, true
		}
	}
	return nil, false
}

// Invoke calls the nearest definition in the resolution order
func (m *Member) Invoke(ctx context.Context, args weave.Args) (any, error) {
	fn, ok := m.resolve()
	if !ok {
		return nil, errors.Wrapf(ErrNoImplementation, "%s", m.Name())
	}
	return fn.Invoke(ctx, args)
}

// Callable reports whether any type of the resolution order defines the member
func (m *Member) Callable() bool {
	_, ok := m.resolve()
	return ok
}

// Signature returns the parameter shape of the nearest definition
func (m *Member) Signature() *binder.Signature {
	if fn, ok := m.resolve(); ok {
		return fn.Signature()
	}
	return binder.New()
}

// Instance is a value of a declared Type. Its ancestors are its type's
// resolution order.
type Instance struct {
	typ   *Type
	value any
}

func (i *Instance) Kind() Kind     { return KindInstance }
func (i *Instance) Name() string   { return i.typ.name + " instance" }
func (i *Instance) Key() any       { return i }
func (i *Instance) CanBind() error { return nil }

// Type returns the instance's type
func (i *Instance) Type() *Type { return i.typ }

// Value returns the wrapped Go value
func (i *Instance) Value() any { return i.value }

func (i *Instance) Ancestors() []Target {
	out := make([]Target, 0, len(i.typ.mro))
	for _, a := range i.typ.mro {
		out = append(out, a)
	}
	return out
}

// Fields returns a target per exported field of the wrapped struct, keyed
// by field name. Only fields reachable through a pointer are addressable;
// a struct held by value has no field targets.
func (i *Instance) Fields() map[string]Target {
	out := make(map[string]Target)
	rv := reflect.ValueOf(i.value)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return out
	}
	sv := rv.Elem()
	st := sv.Type()
	for n := 0; n < st.NumField(); n++ {
		if !st.Field(n).IsExported() {
			continue
		}
		out[st.Field(n).Name] = Value(sv.Field(n).Addr().Interface())
	}
	return out
}
