package weave

import (
	"fmt"
	"runtime/debug"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Passthrough is implemented by errors that an advice raises deliberately
// and that must reach the caller without being wrapped.
type Passthrough interface {
	error
	PassesInterception()
}

// InterceptorError wraps a failure raised inside an advice hook
type InterceptorError struct {
	Advice string
	Target string
	Cause  error
}

func (e *InterceptorError) Error() string {
	return fmt.Sprintf("%s on %s: %v", e.Advice, e.Target, e.Cause)
}

func (e *InterceptorError) Unwrap() error {
	return e.Cause
}

// PanicError is the cause recorded when a hook panics
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func wrapHookError(a Advice, jp *Joinpoint, err error) error {
	var pt Passthrough
	if errors.As(err, &pt) {
		return err
	}
	var ie *InterceptorError
	if errors.As(err, &ie) {
		return err
	}
	return &InterceptorError{Advice: adviceName(a), Target: jp.Name, Cause: err}
}

func newPanicError(a Advice, jp *Joinpoint, value any) error {
	stack := debug.Stack()
	if jp.logger != nil {
		jp.logger.Error("advice panicked",
			zap.String("advice", adviceName(a)),
			zap.String("target", jp.Name),
			zap.Any("panic", value),
			zap.ByteString("stack", stack),
		)
	}
	if err, ok := value.(error); ok {
		var pt Passthrough
		if errors.As(err, &pt) {
			return err
		}
	}
	return &InterceptorError{
		Advice: adviceName(a),
		Target: jp.Name,
		Cause:  &PanicError{Value: value, Stack: stack},
	}
}
