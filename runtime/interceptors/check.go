package interceptors

import (
	"fmt"
	"reflect"

	"github.com/cockroachdb/errors"

	"github.com/conduit-lang/annotate/runtime/annotation"
)

// MaxCount bounds how many annotations of the type it is bound to may sit
// on one target. Bind it to an annotation type with annotation.GoType.
type MaxCount struct {
	annotation.Base
	max int
}

// NewMaxCount creates a MaxCount guard allowing max bindings per target
func NewMaxCount(max int) *MaxCount {
	return &MaxCount{Base: annotation.NewBase(), max: max}
}

// Max returns the allowed count
func (m *MaxCount) Max() int { return m.max }

func (m *MaxCount) CheckBind(view annotation.View, ann annotation.Annotation, target annotation.Target) error {
	existing := view.Local(target, annotation.Of(reflect.TypeOf(ann)))
	if len(existing) >= m.max {
		return &MaxCountError{
			Annotation: reflect.TypeOf(ann).String(),
			Target:     target.Name(),
			Max:        m.max,
		}
	}
	return nil
}

// Rule combines the specs of a Target guard
type Rule int

const (
	// Or allows targets matching any spec
	Or Rule = iota
	// And allows targets matching every spec
	And
)

func (r Rule) String() string {
	if r == And {
		return "and"
	}
	return "or"
}

// Target restricts which targets annotations of the type it is bound to
// may decorate.
type Target struct {
	annotation.Base
	rule  Rule
	specs []annotation.TargetSpec
}

// NewTarget creates a Target guard
func NewTarget(rule Rule, specs ...annotation.TargetSpec) *Target {
	return &Target{Base: annotation.NewBase(), rule: rule, specs: specs}
}

func (t *Target) allows(target annotation.Target) bool {
	if len(t.specs) == 0 {
		return true
	}
	for _, spec := range t.specs {
		matched := spec.Match(target)
		if t.rule == Or && matched {
			return true
		}
		if t.rule == And && !matched {
			return false
		}
	}
	return t.rule == And
}

func (t *Target) CheckBind(view annotation.View, ann annotation.Annotation, target annotation.Target) error {
	if t.allows(target) {
		return nil
	}
	allowed := make([]string, len(t.specs))
	for i, spec := range t.specs {
		allowed[i] = fmt.Sprint(spec)
	}
	return &TargetError{
		Annotation: reflect.TypeOf(ann).String(),
		Target:     target.Name(),
		Rule:       t.rule,
		Allowed:    allowed,
	}
}

// Install binds the meta-level guards the built-in annotations rely on:
// at most one MaxCount and one Target guard per annotation type, and
// SynchronizedClass restricted to types.
func Install(r *annotation.Registry) error {
	guards := []struct {
		ann    annotation.Annotation
		target annotation.Target
	}{
		{NewMaxCount(1), annotation.TypeTarget[*MaxCount]()},
		{NewMaxCount(1), annotation.TypeTarget[*Target]()},
		{NewTarget(Or, annotation.KindGoType), annotation.TypeTarget[*MaxCount]()},
		{NewTarget(Or, annotation.KindGoType), annotation.TypeTarget[*Target]()},
		{NewTarget(Or, annotation.KindType), annotation.TypeTarget[*SynchronizedClass]()},
	}
	for _, g := range guards {
		if _, err := r.Bind(g.ann, g.target); err != nil {
			return errors.Wrap(err, "install guards")
		}
	}
	return nil
}
