package annotation

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrUnsupportedTarget is reported by targets that cannot carry annotations
	ErrUnsupportedTarget = errors.New("target cannot carry annotations")

	// ErrNotBound is returned when unbinding an annotation from a target it
	// is not bound to
	ErrNotBound = errors.New("annotation is not bound to target")

	// ErrNotInvocable is returned when an interceptor is bound to a target
	// that cannot be invoked
	ErrNotInvocable = errors.New("target is not invocable")

	// ErrDisposed is returned when binding an annotation that was disposed
	ErrDisposed = errors.New("annotation is disposed")

	// ErrForeignRegistry is returned when an annotation already attached to
	// one registry is bound through another
	ErrForeignRegistry = errors.New("annotation belongs to another registry")

	// ErrClosed is returned when attaching an annotation to a closed registry
	ErrClosed = errors.New("registry is closed")

	// ErrNoImplementation is returned when invoking a member no type defines
	ErrNoImplementation = errors.New("member has no implementation")
)

// BindError reports a failed bind or unbind
type BindError struct {
	Target string
	Cause  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Target, e.Cause)
}

func (e *BindError) Unwrap() error {
	return e.Cause
}

func newBindError(t Target, cause error) *BindError {
	name := "<nil>"
	if t != nil {
		name = t.Name()
	}
	return &BindError{Target: name, Cause: cause}
}
