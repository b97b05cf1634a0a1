package interceptors

import (
	"reflect"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/conduit-lang/annotate/internal/logging"
	"github.com/conduit-lang/annotate/runtime/annotation"
	"github.com/conduit-lang/annotate/runtime/weave"
)

// Event describes one observed call phase
type Event struct {
	Target string
	Args   weave.Args
	Result any
	Post   bool
}

// Observer receives Observable events
type Observer interface {
	Notify(event Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

func (f ObserverFunc) Notify(event Event) { f(event) }

// Observable notifies its observers before and after each call
type Observable struct {
	annotation.Interceptor

	mu        sync.RWMutex
	observers []Observer
}

// NewObservable creates an Observable with no observers
func NewObservable() *Observable {
	return &Observable{Interceptor: annotation.NewInterceptor()}
}

// Register adds an observer
func (o *Observable) Register(obs Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, obs)
}

// Unregister removes an observer, reporting whether it was registered
func (o *Observable) Unregister(obs Observer) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, x := range o.observers {
		if sameObserver(x, obs) {
			o.observers = append(o.observers[:i:i], o.observers[i+1:]...)
			return true
		}
	}
	return false
}

// sameObserver compares by identity; observers of non-comparable types
// (such as ObserverFunc) never match
func sameObserver(a, b Observer) bool {
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

func (o *Observable) notify(event Event) {
	o.mu.RLock()
	observers := append([]Observer(nil), o.observers...)
	o.mu.RUnlock()
	for _, obs := range observers {
		obs.Notify(event)
	}
}

func (o *Observable) AdviceName() string { return "observable" }

func (o *Observable) Before(jp *weave.Joinpoint) error {
	o.notify(Event{Target: jp.Name, Args: jp.Args.Clone()})
	return nil
}

func (o *Observable) Around(jp *weave.Joinpoint) (any, error) {
	return jp.Proceed()
}

func (o *Observable) After(jp *weave.Joinpoint, result any) error {
	o.notify(Event{Target: jp.Name, Args: jp.Args.Clone(), Result: result, Post: true})
	return nil
}

// Deprecated logs a warning each time its target is called
type Deprecated struct {
	annotation.Interceptor
	message string
	logger  *zap.Logger
}

// NewDeprecated creates a Deprecated interceptor
func NewDeprecated(message string, logger *zap.Logger) *Deprecated {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deprecated{Interceptor: annotation.NewInterceptor(), message: message, logger: logger}
}

func (d *Deprecated) AdviceName() string { return "deprecated" }

func (d *Deprecated) Before(jp *weave.Joinpoint) error {
	d.logger.Warn("call to deprecated target",
		zap.String(logging.FieldTarget, jp.Name),
		zap.String("message", d.message),
	)
	return nil
}

func (d *Deprecated) Around(jp *weave.Joinpoint) (any, error) {
	return jp.Proceed()
}

// RateLimit throttles calls through a token bucket, waiting for a token
// before each call.
type RateLimit struct {
	annotation.Interceptor
	limiter *rate.Limiter
}

// NewRateLimit allows perSecond calls per second with the given burst
func NewRateLimit(perSecond float64, burst int) *RateLimit {
	if burst < 1 {
		burst = 1
	}
	return &RateLimit{
		Interceptor: annotation.NewInterceptor(),
		limiter:     rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Limiter exposes the underlying token bucket
func (r *RateLimit) Limiter() *rate.Limiter { return r.limiter }

func (r *RateLimit) AdviceName() string { return "rate limit" }

func (r *RateLimit) Before(jp *weave.Joinpoint) error {
	return r.limiter.Wait(jp.Ctx)
}

func (r *RateLimit) Around(jp *weave.Joinpoint) (any, error) {
	return jp.Proceed()
}
