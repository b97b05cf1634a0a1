// Package workers provides the bounded worker pool behind asynchronous
// dispatch.
package workers

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/conduit-lang/annotate/internal/logging"
)

var (
	// ErrNotStarted is returned when submitting to a pool that was never started
	ErrNotStarted = errors.New("pool not started")
	// ErrShutdown is returned when submitting to a pool that is shutting down
	ErrShutdown = errors.New("pool shut down")
	// ErrQueueFull is returned by Dispatch when the queue has no free slot
	ErrQueueFull = errors.New("pool queue full")
)

// Task is a unit of work run by the pool
type Task struct {
	Name string
	Fn   func(ctx context.Context) error
	// Dropped, when set, is called instead of Fn for a task still queued
	// when the pool is stopped or its shutdown deadline passes.
	Dropped func(err error)
}

// Pool runs tasks on a fixed number of workers fed by a bounded queue
type Pool struct {
	tasks   chan Task
	workers int
	logger  *zap.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// mu is held for reading while a task is queued so Shutdown never
	// closes the channel under a sender
	mu       sync.RWMutex
	started  bool
	shutdown bool
}

// New creates a pool with the given worker count and queue size. Non-positive
// values fall back to 4 workers and a queue of 100.
func New(workers, queueSize int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		tasks:   make(chan Task, queueSize),
		workers: workers,
		logger:  logging.Named(logger, "workers"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers; calling it again has no effect
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.started = true
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			if p.ctx.Err() != nil {
				p.discard(task)
				return
			}
			p.run(id, task)
		}
	}
}

func (p *Pool) run(id int, task Task) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked",
				zap.Int(logging.FieldWorker, id),
				zap.String(logging.FieldTarget, task.Name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	if err := task.Fn(p.ctx); err != nil {
		p.logger.Warn("task failed",
			zap.Int(logging.FieldWorker, id),
			zap.String(logging.FieldTarget, task.Name),
			zap.Error(err),
		)
		return
	}
	p.logger.Debug("task done",
		zap.Int(logging.FieldWorker, id),
		zap.String(logging.FieldTarget, task.Name),
		zap.Int64(logging.FieldDurationMS, time.Since(start).Milliseconds()),
	)
}

func (p *Pool) acceptingLocked() error {
	if !p.started {
		return ErrNotStarted
	}
	if p.shutdown {
		return ErrShutdown
	}
	return nil
}

// Submit queues task, waiting for a free slot until ctx is done
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.acceptingLocked(); err != nil {
		return err
	}

	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrShutdown
	}
}

// Dispatch queues fn without waiting, failing with ErrQueueFull when the
// queue is at capacity.
func (p *Pool) Dispatch(name string, fn func()) error {
	return p.DispatchCancelable(name, fn, nil)
}

// DispatchCancelable is Dispatch with a callback run if fn is discarded
// from the queue before a worker picks it up.
func (p *Pool) DispatchCancelable(name string, fn func(), dropped func(error)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.acceptingLocked(); err != nil {
		return err
	}

	task := Task{Name: name, Dropped: dropped, Fn: func(context.Context) error {
		fn()
		return nil
	}}
	select {
	case p.tasks <- task:
		return nil
	default:
		return errors.Wrapf(ErrQueueFull, "dispatch %s", name)
	}
}

// Pending returns the number of queued tasks not yet picked up
func (p *Pool) Pending() int {
	return len(p.tasks)
}

// Shutdown stops accepting tasks and waits for queued ones to finish or ctx
// to end, in which case running tasks see their context cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.started || p.shutdown {
		p.shutdown = true
		p.mu.Unlock()
		return nil
	}
	p.shutdown = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		p.drop()
		return errors.Wrap(ctx.Err(), "shutdown workers")
	}
}

// Stop cancels running tasks and discards the queue without running it
func (p *Pool) Stop() {
	p.cancel()
	p.mu.Lock()
	p.shutdown = true
	p.mu.Unlock()
	p.wg.Wait()
	p.drop()
}

// drop empties the queue once every worker has exited, notifying each
// discarded task.
func (p *Pool) drop() {
	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.discard(task)
		default:
			return
		}
	}
}

func (p *Pool) discard(task Task) {
	p.logger.Warn("task dropped", zap.String(logging.FieldTarget, task.Name))
	if task.Dropped != nil {
		task.Dropped(errors.Wrapf(ErrShutdown, "task %s dropped", task.Name))
	}
}
