package interceptors

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrNotYetDone is returned by Future.Result when the call is still running
var ErrNotYetDone = errors.New("asynchronous call not yet done")

// ErrNotAType is returned when SynchronizedClass is bound to something
// other than a Type
var ErrNotAType = errors.New("target is not a type")

// TypesError reports a parameter or result that does not satisfy its spec
type TypesError struct {
	Target   string
	Param    string // empty for the result
	Value    any
	Expected string
}

func (e *TypesError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("wrong result type for %s: %v (%T), expected %s", e.Target, e.Value, e.Value, e.Expected)
	}
	return fmt.Sprintf("wrong typed parameter %s of %s: %v (%T), expected %s", e.Param, e.Target, e.Value, e.Value, e.Expected)
}

func (e *TypesError) PassesInterception() {}

// ConditionError is implemented by both condition failures
type ConditionError interface {
	error
	conditionError()
}

// PreConditionError reports a failed pre-condition
type PreConditionError struct {
	Target string
	Cause  error
}

func (e *PreConditionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("pre-condition of %s failed: %v", e.Target, e.Cause)
	}
	return fmt.Sprintf("pre-condition of %s failed", e.Target)
}

func (e *PreConditionError) Unwrap() error       { return e.Cause }
func (e *PreConditionError) PassesInterception() {}
func (e *PreConditionError) conditionError()     {}

// PostConditionError reports a failed post-condition
type PostConditionError struct {
	Target string
	Result any
	Cause  error
}

func (e *PostConditionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("post-condition of %s failed on %v: %v", e.Target, e.Result, e.Cause)
	}
	return fmt.Sprintf("post-condition of %s failed on %v", e.Target, e.Result)
}

func (e *PostConditionError) Unwrap() error       { return e.Cause }
func (e *PostConditionError) PassesInterception() {}
func (e *PostConditionError) conditionError()     {}

// MaxCountError reports a bind exceeding the allowed count
type MaxCountError struct {
	Annotation string
	Target     string
	Max        int
}

func (e *MaxCountError) Error() string {
	return fmt.Sprintf("%s cannot be bound more than %d times to %s", e.Annotation, e.Max, e.Target)
}

func (e *MaxCountError) PassesInterception() {}

// TargetError reports a bind to a target the annotation type does not allow
type TargetError struct {
	Annotation string
	Target     string
	Rule       Rule
	Allowed    []string
}

func (e *TargetError) Error() string {
	quantifier := "among"
	if e.Rule == And {
		quantifier = "all of"
	}
	return fmt.Sprintf("%s is not allowed by %s, must be %s [%s]",
		e.Target, e.Annotation, quantifier, strings.Join(e.Allowed, ", "))
}

func (e *TargetError) PassesInterception() {}

// TimeOutError reports a call that exceeded its deadline
type TimeOutError struct {
	Target  string
	Timeout time.Duration
}

func (e *TimeOutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Target, e.Timeout)
}

func (e *TimeOutError) PassesInterception() {}
