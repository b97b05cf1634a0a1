package interceptors

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conduit-lang/annotate/internal/logging"
	"github.com/conduit-lang/annotate/runtime/annotation"
	"github.com/conduit-lang/annotate/runtime/weave"
)

// Dispatcher runs a task on another goroutine
type Dispatcher interface {
	Dispatch(name string, task func()) error
}

// CancelableDispatcher is a Dispatcher that may discard a queued task, in
// which case it calls dropped instead of running it.
type CancelableDispatcher interface {
	Dispatcher
	DispatchCancelable(name string, task func(), dropped func(error)) error
}

// GoDispatcher starts one goroutine per task
type GoDispatcher struct{}

func (GoDispatcher) Dispatch(name string, task func()) error {
	go task()
	return nil
}

// Future is the handle returned by an Asynchronous call
type Future struct {
	id     uuid.UUID
	done   chan struct{}
	once   sync.Once
	result any
	err    error
}

func newFuture() *Future {
	return &Future{id: uuid.New(), done: make(chan struct{})}
}

func (f *Future) complete(result any, err error) {
	f.once.Do(func() {
		f.result, f.err = result, err
		close(f.done)
	})
}

// ID identifies the call
func (f *Future) ID() uuid.UUID { return f.id }

// Done reports whether the call has finished
func (f *Future) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the call's outcome. A negative wait blocks until the call
// finishes; otherwise Result waits at most wait and returns ErrNotYetDone
// if the call is still running.
func (f *Future) Result(wait time.Duration) (any, error) {
	if wait < 0 {
		<-f.done
		return f.result, f.err
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-f.done:
		return f.result, f.err
	case <-timer.C:
		if f.Done() {
			return f.result, f.err
		}
		return nil, ErrNotYetDone
	}
}

// Wait blocks until the call finishes or ctx is done
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Asynchronous runs the rest of the chain on a dispatcher and returns a
// *Future immediately. The dispatched call keeps the caller's context
// values but not its cancellation.
type Asynchronous struct {
	annotation.Interceptor
	dispatcher Dispatcher
	logger     *zap.Logger
}

// AsyncOption configures Asynchronous
type AsyncOption func(*Asynchronous)

// WithDispatcher sets where calls run; the default starts a goroutine per call
func WithDispatcher(d Dispatcher) AsyncOption {
	return func(a *Asynchronous) { a.dispatcher = d }
}

// WithAsyncLogger sets the logger
func WithAsyncLogger(logger *zap.Logger) AsyncOption {
	return func(a *Asynchronous) { a.logger = logger }
}

// NewAsynchronous creates an Asynchronous interceptor
func NewAsynchronous(opts ...AsyncOption) *Asynchronous {
	a := &Asynchronous{
		Interceptor: annotation.NewInterceptor(),
		dispatcher:  GoDispatcher{},
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Asynchronous) AdviceName() string { return "asynchronous" }

func (a *Asynchronous) Around(jp *weave.Joinpoint) (any, error) {
	future := newFuture()
	jp.Ctx = context.WithoutCancel(jp.Ctx)

	run := func() {
		var (
			result any
			err    error
		)
		defer func() {
			if r := recover(); r != nil {
				value := weave.Recovered(r)
				a.logger.Error("asynchronous call panicked",
					zap.String(logging.FieldTarget, jp.Name),
					zap.String(logging.FieldFutureID, future.id.String()),
					zap.Any("panic", value),
				)
				err = &weave.PanicError{Value: value}
			}
			future.complete(result, err)
		}()
		result, err = jp.Proceed()
	}

	var err error
	if cd, ok := a.dispatcher.(CancelableDispatcher); ok {
		err = cd.DispatchCancelable(jp.Name, run, func(cause error) {
			a.logger.Warn("asynchronous call dropped",
				zap.String(logging.FieldTarget, jp.Name),
				zap.String(logging.FieldFutureID, future.id.String()),
				zap.Error(cause),
			)
			future.complete(nil, cause)
		})
	} else {
		err = a.dispatcher.Dispatch(jp.Name, run)
	}
	if err != nil {
		return nil, err
	}
	return future, nil
}
