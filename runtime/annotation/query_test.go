package annotation

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	docType = reflect.TypeOf(&doc{})
	tagType = reflect.TypeOf(&tag{})
)

func hierarchy(t *testing.T) (base, derived, leaf *Type) {
	t.Helper()
	base = MustType("Base")
	derived = MustType("Derived", base)
	leaf = MustType("Leaf", derived)
	return base, derived, leaf
}

func TestAnnotations_PropagatesFromBase(t *testing.T) {
	r := newRegistry(t)
	base, derived, _ := hierarchy(t)
	x := newDoc("x")

	_, err := r.Bind(x, base)
	require.NoError(t, err)

	assert.Equal(t, []Annotation{x}, r.Annotations(derived, Any))
	assert.Empty(t, r.Local(derived, Any))
}

func TestAnnotations_NonPropagatingStaysLocal(t *testing.T) {
	r := newRegistry(t)
	base, derived, _ := hierarchy(t)
	x := newDoc("x", WithPropagate(false))

	_, err := r.Bind(x, base)
	require.NoError(t, err)

	assert.Empty(t, r.Annotations(derived, Any))
	assert.Equal(t, []Annotation{x}, r.Annotations(base, Any))
}

func TestAnnotations_OverrideHidesAncestorsOfSameType(t *testing.T) {
	r := newRegistry(t)
	base, derived, leaf := hierarchy(t)
	x1 := newDoc("x1")
	x2 := newDoc("x2", WithOverride(true))
	other := newTag("kept")

	_, err := r.Annotate(base, x1, other)
	require.NoError(t, err)
	_, err = r.Bind(x2, derived)
	require.NoError(t, err)

	assert.Equal(t, []Annotation{x2}, r.Annotations(derived, Of(docType)))
	assert.Equal(t, []Annotation{x2}, r.Annotations(leaf, Of(docType)))
	assert.Equal(t, []Annotation{other, x2}, r.Annotations(derived, Any))
}

func TestAnnotations_StopPropagationBlocksNamedTypes(t *testing.T) {
	r := newRegistry(t)
	base, derived, leaf := hierarchy(t)
	x := newDoc("blocked")
	kept := newTag("kept")

	_, err := r.Annotate(base, x, kept)
	require.NoError(t, err)
	_, err = r.Bind(NewStopPropagation(docType), derived)
	require.NoError(t, err)

	got := r.Annotations(leaf, Of(docType, tagType))
	assert.Equal(t, []Annotation{kept}, got)

	assert.Equal(t, []Annotation{x}, r.Annotations(base, Of(docType)))
}

func TestAnnotations_StopAndOverrideOnSameAncestor(t *testing.T) {
	r := newRegistry(t)
	base, derived, leaf := hierarchy(t)
	far := newDoc("far")
	near := newDoc("near", WithOverride(true))

	_, err := r.Bind(far, base)
	require.NoError(t, err)
	_, err = r.Annotate(derived, NewStopPropagation(docType), near)
	require.NoError(t, err)

	// The marker blocks only more distant elements, so the overriding
	// annotation sitting next to it stays visible.
	assert.Equal(t, []Annotation{near}, r.Annotations(leaf, Of(docType)))
}

func TestAnnotations_OrderNearestAncestorFirstTargetLast(t *testing.T) {
	r := newRegistry(t)
	base, derived, leaf := hierarchy(t)
	b, d, l := newDoc("b"), newDoc("d"), newDoc("l")

	_, err := r.Bind(b, base)
	require.NoError(t, err)
	_, err = r.Bind(d, derived)
	require.NoError(t, err)
	_, err = r.Bind(l, leaf)
	require.NoError(t, err)

	assert.Equal(t, []Annotation{d, b, l}, r.Annotations(leaf, Any))
}

func TestAnnotations_FilterExcludeAndInterfaces(t *testing.T) {
	r := newRegistry(t)
	target := Value(&point{})
	d, tg := newDoc("d"), newTag("t")
	_, err := r.Annotate(target, d, tg)
	require.NoError(t, err)

	assert.Equal(t, []Annotation{tg, d}, r.Annotations(target, Of(TypeOf[Annotation]())))
	assert.Equal(t, []Annotation{d}, r.Annotations(target, Any.Excluding(tagType)))
	assert.Equal(t, []Annotation{tg}, r.Local(target, Of(reflect.TypeOf(tag{}))))
}

func TestAnnotations_DiamondFollowsResolutionOrder(t *testing.T) {
	r := newRegistry(t)
	root := MustType("Root")
	left := MustType("Left", root)
	right := MustType("Right", root)
	bottom := MustType("Bottom", left, right)

	assert.Equal(t, []*Type{bottom, left, right, root}, bottom.MRO())

	l, rt, o := newDoc("left"), newDoc("right"), newDoc("root")
	_, err := r.Bind(o, root)
	require.NoError(t, err)
	_, err = r.Bind(rt, right)
	require.NoError(t, err)
	_, err = r.Bind(l, left)
	require.NoError(t, err)

	assert.Equal(t, []Annotation{l, rt, o}, r.Annotations(bottom, Any))
}

func TestAnnotations_InstanceInheritsFromType(t *testing.T) {
	r := newRegistry(t)
	_, derived, _ := hierarchy(t)
	x := newDoc("x")
	_, err := r.Bind(x, derived)
	require.NoError(t, err)

	inst := derived.New(&point{})
	own := newTag("own")
	_, err = r.Bind(own, inst)
	require.NoError(t, err)

	assert.Equal(t, []Annotation{x, own}, r.Annotations(inst, Any))
}

func TestAnnotations_MemberOverrideChain(t *testing.T) {
	r := newRegistry(t)
	base, derived, leaf := hierarchy(t)
	base.Define("Area", func() int { return 1 })
	derived.Define("Area", func() int { return 2 })

	x := newDoc("documented on base")
	_, err := r.Bind(x, base.Member("Area"))
	require.NoError(t, err)

	assert.Equal(t, []Annotation{x}, r.Annotations(leaf.Member("Area"), Any))
	assert.Same(t, leaf.Member("Area"), leaf.Member("Area"))
}

func TestRemove_UnbindsMatchingLocalAnnotations(t *testing.T) {
	r := newRegistry(t)
	target := Value(&point{})
	d, tg := newDoc("d"), newTag("t")
	_, err := r.Annotate(target, d, d, tg)
	require.NoError(t, err)

	removed := r.Remove(target, Of(docType))
	assert.Equal(t, []Annotation{d}, removed)
	assert.Equal(t, []Annotation{tg}, r.Local(target, Any))
	assert.Empty(t, d.Targets())
}

func TestAnnotatedFields(t *testing.T) {
	r := newRegistry(t)
	base, derived, _ := hierarchy(t)
	base.Define("Area", func() int { return 1 })
	derived.Define("Name", func() string { return "derived" })
	derived.Define("Plain", func() {})

	p := &point{}
	inst := derived.New(p)

	area, name, field := newDoc("area"), newDoc("name"), newDoc("x field")
	_, err := r.Bind(area, base.Member("Area"))
	require.NoError(t, err)
	_, err = r.Bind(name, derived.Member("Name"))
	require.NoError(t, err)
	_, err = r.Bind(field, Value(&p.X))
	require.NoError(t, err)
	_, err = r.Bind(newTag("ignored"), derived.Member("Plain"))
	require.NoError(t, err)

	got := r.AnnotatedFields(inst, Of(docType))
	assert.Equal(t, map[string][]Annotation{
		"Area": {area},
		"Name": {name},
		"X":    {field},
	}, got)
}

func TestGetHelpers(t *testing.T) {
	r := newRegistry(t)
	base, derived, _ := hierarchy(t)
	x := newDoc("x")
	_, err := r.Bind(x, base)
	require.NoError(t, err)

	docs := Get[*doc](r, derived)
	require.Len(t, docs, 1)
	assert.Equal(t, "x", docs[0].Text)

	assert.Empty(t, GetLocal[*doc](r, derived))
	assert.Len(t, GetLocal[*doc](r, base), 1)
}
