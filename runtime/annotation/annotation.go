// Package annotation binds lifecycle-bound metadata objects to targets and
// resolves them back through inheritance.
//
// An annotation is any pointer to a struct embedding Base. It is created on
// its own, bound to targets through a Registry, and disposed explicitly or
// when its time-to-live elapses. Annotations that also implement
// weave.Advice are woven around their invocable targets when bound.
package annotation

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Annotation is implemented by every pointer to a struct embedding Base
type Annotation interface {
	ID() uuid.UUID
	annotationBase() *Base
}

// Base carries the state shared by all annotations. Embed it by value and
// initialise it with NewBase; a zero Base gets default options on first use.
type Base struct {
	st *state
}

type state struct {
	id        uuid.UUID
	propagate bool
	override  bool
	onBind    func(Annotation, Target)

	initialTTL      time.Duration
	initialInMemory bool

	reg atomic.Pointer[Registry]

	mu       sync.Mutex
	targets  []Target
	inMemory bool
	disposed bool
	timer    *time.Timer
	deadline time.Time
	gen      uint64
}

// Option configures a Base
type Option func(*state)

// WithPropagate sets whether descendants of a target inherit the
// annotation. Annotations propagate by default.
func WithPropagate(propagate bool) Option {
	return func(s *state) { s.propagate = propagate }
}

// WithOverride sets whether the annotation hides same-type annotations of
// more distant ancestors.
func WithOverride(override bool) Option {
	return func(s *state) { s.override = override }
}

// WithOnBind registers a callback fired after each bind, outside any lock
func WithOnBind(fn func(Annotation, Target)) Option {
	return func(s *state) { s.onBind = fn }
}

// WithTTL schedules disposal d after the annotation is first attached to a
// registry.
func WithTTL(d time.Duration) Option {
	return func(s *state) { s.initialTTL = d }
}

// WithInMemory retains the annotation in its registry's memory index once
// attached.
func WithInMemory(inMemory bool) Option {
	return func(s *state) { s.initialInMemory = inMemory }
}

// NewBase creates the base state of a new annotation
func NewBase(opts ...Option) Base {
	return Base{st: newState(opts...)}
}

func newState(opts ...Option) *state {
	s := &state{
		id:        uuid.New(),
		propagate: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var lazyInit sync.Mutex

func (b *Base) annotationBase() *Base {
	if b.st == nil {
		lazyInit.Lock()
		if b.st == nil {
			b.st = newState()
		}
		lazyInit.Unlock()
	}
	return b
}

func stateOf(a Annotation) *state {
	return a.annotationBase().st
}

// ID returns the annotation's unique id
func (b *Base) ID() uuid.UUID {
	return b.annotationBase().st.id
}

// Propagate reports whether descendants inherit the annotation
func (b *Base) Propagate() bool {
	return b.annotationBase().st.propagate
}

// Override reports whether the annotation hides same-type ancestor annotations
func (b *Base) Override() bool {
	return b.annotationBase().st.override
}

// Targets returns the targets the annotation is currently bound to, in
// first-bind order.
func (b *Base) Targets() []Target {
	st := b.annotationBase().st
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]Target(nil), st.targets...)
}

// Disposed reports whether the annotation has been disposed
func (b *Base) Disposed() bool {
	st := b.annotationBase().st
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.disposed
}

func (s *state) addTarget(t Target) {
	key := t.Key()
	for _, held := range s.targets {
		if held.Key() == key {
			return
		}
	}
	s.targets = append(s.targets, t)
}

func (s *state) removeTarget(key any) {
	for i, held := range s.targets {
		if held.Key() == key {
			s.targets = append(s.targets[:i], s.targets[i+1:]...)
			return
		}
	}
}
