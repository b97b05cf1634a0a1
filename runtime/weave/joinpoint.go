package weave

import (
	"context"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// Joinpoint is the state handed to an advice for one link of one call.
//
// Ctx and Args may be replaced before calling Proceed; the replacement is
// seen by the remaining links and by the target. Proceed may be called more
// than once (retries) and from another goroutine (asynchronous dispatch).
type Joinpoint struct {
	Ctx  context.Context
	Args Args

	// Target is the invocable the chain wraps. Advice that need more than
	// the callable (its parameter shape for instance) type-assert on it.
	Target any
	Name   string
	Key    any

	chain    []Advice
	index    int
	original Callable
	logger   *zap.Logger

	mu       sync.Mutex
	proceeds []error
}

// Proceed continues with the next link, or the original callable once the
// chain is exhausted.
func (jp *Joinpoint) Proceed() (any, error) {
	next := &Joinpoint{
		Ctx:      jp.Ctx,
		Args:     jp.Args.Clone(),
		Target:   jp.Target,
		Name:     jp.Name,
		Key:      jp.Key,
		chain:    jp.chain,
		index:    jp.index + 1,
		original: jp.original,
		logger:   jp.logger,
	}

	var (
		result any
		err    error
	)
	if next.index >= len(next.chain) {
		result, err = callOriginal(next)
	} else {
		result, err = runLink(next)
	}

	if err != nil {
		jp.mu.Lock()
		jp.proceeds = append(jp.proceeds, err)
		jp.mu.Unlock()
	}
	return result, err
}

// Index is the position of the current link, 0 being the outermost
func (jp *Joinpoint) Index() int {
	return jp.index
}

// fromProceed reports whether err is one of the errors Proceed returned,
// as opposed to an error the hook produced itself.
func (jp *Joinpoint) fromProceed(err error) bool {
	jp.mu.Lock()
	defer jp.mu.Unlock()
	for _, p := range jp.proceeds {
		if sameError(p, err) {
			return true
		}
	}
	return false
}

// sameError reports identity, including for error values whose dynamic
// type cannot be compared with ==.
func sameError(a, b error) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch va.Kind() {
	case reflect.Slice:
		return va.Len() == vb.Len() && va.Pointer() == vb.Pointer()
	case reflect.Map, reflect.Func:
		return va.Pointer() == vb.Pointer()
	default:
		return reflect.DeepEqual(a, b)
	}
}

// targetPanic carries a panic raised by the original callable through the
// hooks' recover so it is re-raised unchanged to the caller.
type targetPanic struct {
	value any
}

func callOriginal(jp *Joinpoint) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if tp, ok := r.(targetPanic); ok {
				panic(tp)
			}
			panic(targetPanic{value: r})
		}
	}()
	return jp.original(jp.Ctx, jp.Args)
}

func runLink(jp *Joinpoint) (result any, err error) {
	advice := jp.chain[jp.index]
	if !advice.Enabled() {
		return jp.Proceed()
	}

	defer func() {
		if r := recover(); r != nil {
			if tp, ok := r.(targetPanic); ok {
				panic(tp)
			}
			result, err = nil, newPanicError(advice, jp, r)
		}
	}()

	if before, ok := advice.(BeforeAdvice); ok {
		if err := before.Before(jp); err != nil {
			return nil, wrapHookError(advice, jp, err)
		}
	}

	result, err = advice.Around(jp)
	if err != nil {
		if jp.fromProceed(err) {
			return result, err
		}
		return result, wrapHookError(advice, jp, err)
	}

	if after, ok := advice.(AfterAdvice); ok {
		if err := after.After(jp, result); err != nil {
			return nil, wrapHookError(advice, jp, err)
		}
	}
	return result, nil
}
