package annotation

import (
	"reflect"
)

// Filter selects annotations by Go type. A concrete type matches
// annotations of exactly that type (a struct type also matches pointers to
// it); an interface type matches every annotation implementing it. An empty
// Types list accepts everything not excluded.
type Filter struct {
	Types   []reflect.Type
	Exclude []reflect.Type
}

// Any accepts every annotation
var Any = Filter{}

// Of builds a filter accepting the given types
func Of(types ...reflect.Type) Filter {
	return Filter{Types: types}
}

// Excluding returns a copy of f that also rejects the given types
func (f Filter) Excluding(types ...reflect.Type) Filter {
	out := Filter{
		Types:   f.Types,
		Exclude: make([]reflect.Type, 0, len(f.Exclude)+len(types)),
	}
	out.Exclude = append(out.Exclude, f.Exclude...)
	out.Exclude = append(out.Exclude, types...)
	return out
}

// TypeOf returns the reflect.Type of T, convenient for interface types
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func typeMatches(want, have reflect.Type) bool {
	if want == nil || have == nil {
		return false
	}
	if have == want {
		return true
	}
	if want.Kind() == reflect.Interface {
		return have.Implements(want)
	}
	return have.Kind() == reflect.Pointer && have.Elem() == want
}

func matchesAny(types []reflect.Type, have reflect.Type) bool {
	for _, t := range types {
		if typeMatches(t, have) {
			return true
		}
	}
	return false
}

func (f Filter) acceptsType(t reflect.Type) bool {
	if len(f.Types) > 0 && !matchesAny(f.Types, t) {
		return false
	}
	return !matchesAny(f.Exclude, t)
}

func (f Filter) accepts(a Annotation) bool {
	return f.acceptsType(reflect.TypeOf(a))
}

func filterList(list []Annotation, filter Filter) []Annotation {
	var out []Annotation
	for _, a := range list {
		if filter.accepts(a) {
			out = append(out, a)
		}
	}
	return out
}

// Local returns the annotations bound to target itself, newest first
func (r *Registry) Local(target Target, filter Filter) []Annotation {
	if target == nil || target.CanBind() != nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return filterList(r.lists[target.Key()], filter)
}

// Annotations resolves the annotations visible on target, walking target
// and then its ancestors nearest first:
//
//   - StopPropagation markers found on an element exclude their types from
//     every more distant element.
//   - Annotations found on an ancestor are visible only if they propagate.
//   - A visible annotation with Override set excludes its exact type from
//     every more distant element.
//
// The result lists ancestors' annotations nearest first, then target's own.
func (r *Registry) Annotations(target Target, filter Filter) []Annotation {
	if target == nil {
		return nil
	}
	chain := append([]Target{target}, target.Ancestors()...)

	r.mu.Lock()
	defer r.mu.Unlock()

	exclude := append([]reflect.Type(nil), filter.Exclude...)
	var overrides []reflect.Type
	buckets := make([][]Annotation, len(chain))

	for i, elt := range chain {
		if elt.CanBind() != nil {
			continue
		}
		var stops, hides []reflect.Type
		for _, a := range r.lists[elt.Key()] {
			at := reflect.TypeOf(a)
			if sp, ok := a.(*StopPropagation); ok {
				stops = append(stops, sp.Types...)
			}
			if i > 0 && !stateOf(a).propagate {
				continue
			}
			if matchesAny(exclude, at) || containsType(overrides, at) {
				continue
			}
			if stateOf(a).override {
				hides = append(hides, at)
			}
			if len(filter.Types) == 0 || matchesAny(filter.Types, at) {
				buckets[i] = append(buckets[i], a)
			}
		}
		exclude = append(exclude, stops...)
		overrides = append(overrides, hides...)
	}

	var out []Annotation
	for _, b := range buckets[1:] {
		out = append(out, b...)
	}
	return append(out, buckets[0]...)
}

func containsType(types []reflect.Type, t reflect.Type) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

// Remove unbinds every annotation bound to target itself that the filter
// accepts, and returns them.
func (r *Registry) Remove(target Target, filter Filter) []Annotation {
	if target == nil || target.CanBind() != nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := target.Key()
	var removed []Annotation
	for _, a := range filterList(r.lists[key], filter) {
		if containsAnnotation(removed, a) {
			continue
		}
		if err := r.unbindLocked(a, key, target.Name()); err == nil {
			removed = append(removed, a)
		}
	}
	return removed
}

func containsAnnotation(list []Annotation, a Annotation) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

// AnnotatedFields resolves the annotations of every member of target and
// returns those with at least one match, keyed by member name. Members of a
// Type or Instance are its declared members; an Instance also contributes
// the exported fields of the struct it wraps. Members that cannot carry
// annotations are skipped.
func (r *Registry) AnnotatedFields(target Target, filter Filter) map[string][]Annotation {
	members := make(map[string]Target)
	switch t := target.(type) {
	case *Type:
		for _, m := range t.Members() {
			members[m.name] = m
		}
	case *Instance:
		for _, m := range t.typ.Members() {
			members[m.name] = m
		}
		for name, f := range t.Fields() {
			if _, ok := members[name]; !ok {
				members[name] = f
			}
		}
	}

	out := make(map[string][]Annotation)
	for name, m := range members {
		if m.CanBind() != nil {
			continue
		}
		if anns := r.Annotations(m, filter); len(anns) > 0 {
			out[name] = anns
		}
	}
	return out
}

// Get returns the annotations of type T visible on target
func Get[T Annotation](r *Registry, target Target) []T {
	return collect[T](r.Annotations(target, Of(TypeOf[T]())))
}

// GetLocal returns the annotations of type T bound to target itself
func GetLocal[T Annotation](r *Registry, target Target) []T {
	return collect[T](r.Local(target, Of(TypeOf[T]())))
}

func collect[T Annotation](anns []Annotation) []T {
	out := make([]T, 0, len(anns))
	for _, a := range anns {
		if t, ok := a.(T); ok {
			out = append(out, t)
		}
	}
	return out
}
