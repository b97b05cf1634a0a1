package interceptors

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/conduit-lang/annotate/runtime/annotation"
	"github.com/conduit-lang/annotate/runtime/weave"
)

// TimeOut fails a call that runs longer than its timeout with
// *TimeOutError. The rest of the chain runs on its own goroutine under a
// deadline context; a call that ignores its context keeps running after
// the caller has been released.
type TimeOut struct {
	annotation.Interceptor
	timeout time.Duration
}

// NewTimeOut creates a TimeOut interceptor
func NewTimeOut(timeout time.Duration) *TimeOut {
	return &TimeOut{Interceptor: annotation.NewInterceptor(), timeout: timeout}
}

// Timeout returns the configured timeout
func (t *TimeOut) Timeout() time.Duration { return t.timeout }

func (t *TimeOut) AdviceName() string { return "timeout" }

type outcome struct {
	result any
	err    error
	panic  any
}

func (t *TimeOut) Around(jp *weave.Joinpoint) (any, error) {
	ctx, cancel := context.WithTimeout(jp.Ctx, t.timeout)
	defer cancel()
	jp.Ctx = ctx

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{panic: r}
			}
		}()
		result, err := jp.Proceed()
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		if o.panic != nil {
			panic(o.panic)
		}
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeOutError{Target: jp.Name, Timeout: t.timeout}
		}
		return o.result, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeOutError{Target: jp.Name, Timeout: t.timeout}
		}
		return nil, ctx.Err()
	}
}
