package interceptors

import (
	"context"
	"time"

	"github.com/conduit-lang/annotate/runtime/annotation"
	"github.com/conduit-lang/annotate/runtime/weave"
)

// DefaultWait is the pause Wait applies when none is configured
const DefaultWait = time.Second

// Wait pauses before and after every call
type Wait struct {
	annotation.Interceptor
	before time.Duration
	after  time.Duration
}

// NewWait creates a Wait interceptor
func NewWait(before, after time.Duration) *Wait {
	return &Wait{Interceptor: annotation.NewInterceptor(), before: before, after: after}
}

func (w *Wait) AdviceName() string { return "wait" }

// Durations returns the pauses before and after the call
func (w *Wait) Durations() (before, after time.Duration) {
	return w.before, w.after
}

func (w *Wait) Before(jp *weave.Joinpoint) error {
	return sleep(jp.Ctx, w.before)
}

func (w *Wait) Around(jp *weave.Joinpoint) (any, error) {
	return jp.Proceed()
}

func (w *Wait) After(jp *weave.Joinpoint, result any) error {
	return sleep(jp.Ctx, w.after)
}

// sleep pauses for d unless ctx ends first
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
