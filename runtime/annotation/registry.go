package annotation

import (
	"context"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/conduit-lang/annotate/internal/logging"
	"github.com/conduit-lang/annotate/runtime/weave"
)

// Registry tracks which annotations are bound to which targets.
//
// A single mutex guards the per-target lists, the reciprocal target sets,
// the memory index and the weaving calls made while binding. Lock order is
// registry, then annotation state, then weaver. Callbacks (OnBind,
// AfterBind) run after the lock is released.
type Registry struct {
	mu      sync.Mutex
	lists   map[any][]Annotation
	targets map[any]Target
	memory  map[reflect.Type][]Annotation
	tracked map[*state]Annotation
	closed  bool

	weaver *weave.Weaver
	logger *zap.Logger
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithLogger sets the registry logger; the default discards everything
func WithLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// WithWeaver shares a weaver between registries
func WithWeaver(w *weave.Weaver) RegistryOption {
	return func(r *Registry) { r.weaver = w }
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		lists:   make(map[any][]Annotation),
		targets: make(map[any]Target),
		memory:  make(map[reflect.Type][]Annotation),
		tracked: make(map[*state]Annotation),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.weaver == nil {
		r.weaver = weave.NewWeaver(r.logger)
	}
	return r
}

// Weaver returns the weaver holding the registry's advice chains
func (r *Registry) Weaver() *weave.Weaver {
	return r.weaver
}

// Logger returns the registry logger
func (r *Registry) Logger() *zap.Logger {
	return r.logger
}

// BindGuard is implemented by meta-level annotations. Bound to the Go type
// of an annotation (see GoType), a guard vets every bind of an annotation of
// that type before the bind takes effect.
type BindGuard interface {
	CheckBind(view View, ann Annotation, target Target) error
}

// AfterBinder is implemented by annotations that react to their own bind
// by binding further annotations.
type AfterBinder interface {
	AfterBind(r *Registry, target Target) error
}

// View gives bind guards read access to the registry while it is locked
type View interface {
	Local(target Target, filter Filter) []Annotation
}

type lockedView struct {
	r *Registry
}

func (v lockedView) Local(target Target, filter Filter) []Annotation {
	if target.CanBind() != nil {
		return nil
	}
	return filterList(v.r.lists[target.Key()], filter)
}

// Track attaches ann to the registry without binding it, applying its
// initial TTL and memory options.
func (r *Registry) Track(ann Annotation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attachLocked(ann)
}

func (r *Registry) attachLocked(ann Annotation) error {
	if r.closed {
		return ErrClosed
	}
	st := stateOf(ann)
	if owner := st.reg.Load(); owner != nil {
		if owner != r {
			return ErrForeignRegistry
		}
		return nil
	}
	if !st.reg.CompareAndSwap(nil, r) {
		if st.reg.Load() != r {
			return ErrForeignRegistry
		}
		return nil
	}
	r.tracked[st] = ann
	if st.initialInMemory {
		r.setInMemoryLocked(ann, true)
	}
	if st.initialTTL > 0 {
		r.setTTLLocked(ann, st.initialTTL)
	}
	return nil
}

// Bind attaches ann to target and returns the target to use from now on:
// target itself, or a *Woven handle when ann is an interceptor. Repeated
// binds are additive. When an AfterBinder fails, the bind is undone and
// OnBind is not called.
func (r *Registry) Bind(ann Annotation, target Target) (Target, error) {
	if target == nil {
		return nil, newBindError(nil, ErrUnsupportedTarget)
	}
	if err := target.CanBind(); err != nil {
		return nil, newBindError(target, err)
	}

	result, err := r.bind(ann, target)
	if err != nil {
		return nil, err
	}

	if ab, ok := ann.(AfterBinder); ok {
		if err := ab.AfterBind(r, target); err != nil {
			r.mu.Lock()
			r.rollbackLocked(ann, target)
			r.mu.Unlock()
			return nil, err
		}
	}

	st := stateOf(ann)
	if st.onBind != nil {
		st.onBind(ann, target)
	}
	return result, nil
}

// rollbackLocked removes the occurrence of ann a failed Bind added, leaving
// earlier binds of ann to target in place.
func (r *Registry) rollbackLocked(ann Annotation, target Target) {
	key := target.Key()
	list := r.lists[key]
	i := 0
	for i < len(list) && list[i] != ann {
		i++
	}
	if i == len(list) {
		return
	}

	kept := make([]Annotation, 0, len(list)-1)
	kept = append(kept, list[:i]...)
	kept = append(kept, list[i+1:]...)
	remaining := false
	for _, a := range kept {
		if a == ann {
			remaining = true
			break
		}
	}
	if len(kept) == 0 {
		delete(r.lists, key)
		delete(r.targets, key)
	} else {
		r.lists[key] = kept
	}

	if !remaining {
		st := stateOf(ann)
		st.mu.Lock()
		st.removeTarget(key)
		st.mu.Unlock()
	}
	if advice, ok := ann.(weave.Advice); ok {
		r.weaver.Unweave(key, advice)
	}

	r.logger.Debug("bind rolled back",
		zap.String(logging.FieldAnnotationID, ann.ID().String()),
		zap.String(logging.FieldTarget, target.Name()),
	)
}

func (r *Registry) bind(ann Annotation, target Target) (Target, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.attachLocked(ann); err != nil {
		return nil, newBindError(target, err)
	}

	st := stateOf(ann)
	st.mu.Lock()
	disposed := st.disposed
	st.mu.Unlock()
	if disposed {
		return nil, newBindError(target, ErrDisposed)
	}

	guardKey := GoType(reflect.TypeOf(ann)).Key()
	for _, g := range r.lists[guardKey] {
		guard, ok := g.(BindGuard)
		if !ok {
			continue
		}
		if err := guard.CheckBind(lockedView{r: r}, ann, target); err != nil {
			return nil, err
		}
	}

	result := target
	if advice, ok := ann.(weave.Advice); ok {
		inv, ok := unwrapInvocable(target)
		if !ok {
			return nil, newBindError(target, ErrNotInvocable)
		}
		r.weaver.Weave(inv.Key(), advice)
		result = &Woven{r: r, inner: inv}
	}

	key := target.Key()
	list := r.lists[key]
	next := make([]Annotation, len(list)+1)
	next[0] = ann
	copy(next[1:], list)
	r.lists[key] = next
	if _, ok := r.targets[key]; !ok {
		r.targets[key] = target
	}

	st.mu.Lock()
	st.addTarget(target)
	st.mu.Unlock()

	r.logger.Debug("annotation bound",
		zap.String(logging.FieldAnnotationID, ann.ID().String()),
		zap.String(logging.FieldTarget, target.Name()),
		zap.Int(logging.FieldCount, len(next)),
	)
	return result, nil
}

// Annotate binds every annotation to target in order and returns the final
// target, so a target composes N annotations like stacked decorators.
func (r *Registry) Annotate(target Target, anns ...Annotation) (Target, error) {
	for _, ann := range anns {
		next, err := r.Bind(ann, target)
		if err != nil {
			return nil, err
		}
		target = next
	}
	return target, nil
}

// Unbind removes every occurrence of ann from target
func (r *Registry) Unbind(ann Annotation, target Target) error {
	if target == nil {
		return newBindError(nil, ErrUnsupportedTarget)
	}
	if err := target.CanBind(); err != nil {
		return newBindError(target, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unbindLocked(ann, target.Key(), target.Name())
}

func (r *Registry) unbindLocked(ann Annotation, key any, name string) error {
	list := r.lists[key]
	kept := make([]Annotation, 0, len(list))
	removed := 0
	for _, a := range list {
		if a == ann {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	if removed == 0 {
		return &BindError{Target: name, Cause: ErrNotBound}
	}

	if len(kept) == 0 {
		delete(r.lists, key)
		delete(r.targets, key)
	} else {
		r.lists[key] = kept
	}

	st := stateOf(ann)
	st.mu.Lock()
	st.removeTarget(key)
	st.mu.Unlock()

	if advice, ok := ann.(weave.Advice); ok {
		for i := 0; i < removed; i++ {
			r.weaver.Unweave(key, advice)
		}
	}

	r.logger.Debug("annotation unbound",
		zap.String(logging.FieldAnnotationID, ann.ID().String()),
		zap.String(logging.FieldTarget, name),
		zap.Int(logging.FieldCount, removed),
	)
	return nil
}

// Dispose unbinds ann from every target, cancels its TTL and drops it from
// the memory index. Disposing twice is a no-op.
func (r *Registry) Dispose(ann Annotation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disposeLocked(ann)
}

func (r *Registry) disposeLocked(ann Annotation) {
	st := stateOf(ann)

	st.mu.Lock()
	if st.disposed {
		st.mu.Unlock()
		return
	}
	st.disposed = true
	st.gen++
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.deadline = timeZero
	targets := append([]Target(nil), st.targets...)
	st.mu.Unlock()

	for _, t := range targets {
		if err := r.unbindLocked(ann, t.Key(), t.Name()); err != nil {
			r.logger.Debug("skipping target during disposal",
				zap.String(logging.FieldAnnotationID, ann.ID().String()),
				zap.String(logging.FieldTarget, t.Name()),
				zap.Error(err),
			)
		}
	}

	r.setInMemoryLocked(ann, false)
	delete(r.tracked, st)

	r.logger.Debug("annotation disposed",
		zap.String(logging.FieldAnnotationID, ann.ID().String()),
		zap.Int(logging.FieldCount, len(targets)),
	)
}

// Close disposes every annotation attached to the registry
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	for _, ann := range r.tracked {
		r.disposeLocked(ann)
	}
	return nil
}

// Invoke calls target through its advice chain
func (r *Registry) Invoke(ctx context.Context, target Invocable, args weave.Args) (any, error) {
	inv, _ := unwrapInvocable(target)
	return r.weaver.Invoke(ctx, inv.Key(), inv.Name(), inv, inv.Invoke, args)
}

// Call is Invoke with positional arguments
func (r *Registry) Call(ctx context.Context, target Invocable, args ...any) (any, error) {
	return r.Invoke(ctx, target, weave.Positional(args...))
}

// Targets returns every target currently carrying at least one annotation
func (r *Registry) Targets() []Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Target, 0, len(r.targets))
	for _, t := range r.targets {
		out = append(out, t)
	}
	return out
}

func unwrapInvocable(t Target) (Invocable, bool) {
	if w, ok := t.(*Woven); ok {
		return w.inner, true
	}
	inv, ok := t.(Invocable)
	return inv, ok
}
