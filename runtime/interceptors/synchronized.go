package interceptors

import (
	"context"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/conduit-lang/annotate/internal/logging"
	"github.com/conduit-lang/annotate/runtime/annotation"
	"github.com/conduit-lang/annotate/runtime/weave"
)

// Locker is a mutual-exclusion lock whose ownership travels with a context.
// Lock returns the context to pass to Unlock and to any nested call that
// should re-enter the lock.
type Locker interface {
	Lock(ctx context.Context) (context.Context, error)
	Unlock(ctx context.Context) error
}

// ErrNotHeld is returned when unlocking a lock the context does not hold
var ErrNotHeld = errors.New("lock not held by context")

type holdKey struct {
	l *ReentrantLock
}

type hold struct {
	depth atomic.Int32
}

// ReentrantLock is an in-process Locker. A call re-enters the lock when
// its context descends from the one returned by Lock; other callers wait.
type ReentrantLock struct {
	sem chan struct{}
}

// NewReentrantLock creates an unlocked lock
func NewReentrantLock() *ReentrantLock {
	return &ReentrantLock{sem: make(chan struct{}, 1)}
}

func (l *ReentrantLock) Lock(ctx context.Context) (context.Context, error) {
	if h, ok := ctx.Value(holdKey{l: l}).(*hold); ok && h.depth.Load() > 0 {
		h.depth.Add(1)
		return ctx, nil
	}
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx, ctx.Err()
	}
	h := &hold{}
	h.depth.Store(1)
	return context.WithValue(ctx, holdKey{l: l}, h), nil
}

func (l *ReentrantLock) Unlock(ctx context.Context) error {
	h, ok := ctx.Value(holdKey{l: l}).(*hold)
	if !ok || h.depth.Load() <= 0 {
		return ErrNotHeld
	}
	if h.depth.Add(-1) == 0 {
		<-l.sem
	}
	return nil
}

// Synchronized runs its target while holding a lock, so at most one call
// guarded by the same lock executes at a time.
type Synchronized struct {
	annotation.Interceptor
	lock   Locker
	logger *zap.Logger
}

// SyncOption configures Synchronized and SynchronizedClass
type SyncOption func(*syncOptions)

type syncOptions struct {
	lock   Locker
	logger *zap.Logger
	opts   []annotation.Option
}

// WithLocker shares lock between interceptors
func WithLocker(lock Locker) SyncOption {
	return func(o *syncOptions) { o.lock = lock }
}

// WithSyncLogger logs lock release failures
func WithSyncLogger(logger *zap.Logger) SyncOption {
	return func(o *syncOptions) { o.logger = logger }
}

// WithSyncAnnotationOptions passes annotation options through
func WithSyncAnnotationOptions(opts ...annotation.Option) SyncOption {
	return func(o *syncOptions) { o.opts = append(o.opts, opts...) }
}

func buildSyncOptions(opts []SyncOption) syncOptions {
	o := syncOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.lock == nil {
		o.lock = NewReentrantLock()
	}
	return o
}

// NewSynchronized creates a Synchronized interceptor with its own lock
// unless WithLocker is given.
func NewSynchronized(opts ...SyncOption) *Synchronized {
	o := buildSyncOptions(opts)
	return &Synchronized{
		Interceptor: annotation.NewInterceptor(o.opts...),
		lock:        o.lock,
		logger:      o.logger,
	}
}

// Lock returns the lock guarding the target
func (s *Synchronized) Lock() Locker { return s.lock }

func (s *Synchronized) AdviceName() string { return "synchronized" }

func (s *Synchronized) Around(jp *weave.Joinpoint) (result any, err error) {
	ctx, err := s.lock.Lock(jp.Ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if uerr := s.lock.Unlock(ctx); uerr != nil {
			s.logger.Warn("failed to release lock",
				zap.String(logging.FieldTarget, jp.Name),
				zap.Error(uerr),
			)
		}
	}()
	jp.Ctx = ctx
	return jp.Proceed()
}

// SynchronizedClass binds one Synchronized sharing a single lock to every
// callable member of the Type it is bound to.
type SynchronizedClass struct {
	annotation.Base
	lock   Locker
	logger *zap.Logger
}

// NewSynchronizedClass creates a SynchronizedClass
func NewSynchronizedClass(opts ...SyncOption) *SynchronizedClass {
	o := buildSyncOptions(opts)
	return &SynchronizedClass{
		Base:   annotation.NewBase(o.opts...),
		lock:   o.lock,
		logger: o.logger,
	}
}

// Lock returns the lock shared by the members
func (s *SynchronizedClass) Lock() Locker { return s.lock }

// AfterBind wraps the members of the bound type
func (s *SynchronizedClass) AfterBind(r *annotation.Registry, target annotation.Target) error {
	t, ok := target.(*annotation.Type)
	if !ok {
		return errors.Wrapf(ErrNotAType, "synchronized class on %s", target.Name())
	}
	var guards []*Synchronized
	for _, m := range t.Members() {
		if !m.Callable() {
			continue
		}
		guard := NewSynchronized(WithLocker(s.lock), WithSyncLogger(s.logger))
		if _, err := r.Bind(guard, m); err != nil {
			for _, g := range guards {
				r.Dispose(g)
			}
			return errors.Wrapf(err, "synchronize %s", m.Name())
		}
		guards = append(guards, guard)
	}
	return nil
}
