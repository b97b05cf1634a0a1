package interceptors

import (
	"github.com/conduit-lang/annotate/runtime/annotation"
	"github.com/conduit-lang/annotate/runtime/weave"
)

// PreCondition decides whether a call may run. Returning false or an error
// fails the call with *PreConditionError.
type PreCondition func(jp *weave.Joinpoint) (bool, error)

// PostCondition validates a call's result. Returning false or an error
// fails the call with *PostConditionError.
type PostCondition func(jp *weave.Joinpoint, result any) (bool, error)

// Condition runs a pre-condition before and a post-condition after each call
type Condition struct {
	annotation.Interceptor
	pre  PreCondition
	post PostCondition
}

// NewCondition creates a Condition; either predicate may be nil
func NewCondition(pre PreCondition, post PostCondition) *Condition {
	return &Condition{Interceptor: annotation.NewInterceptor(), pre: pre, post: post}
}

func (c *Condition) AdviceName() string { return "condition" }

func (c *Condition) Before(jp *weave.Joinpoint) error {
	if c.pre == nil {
		return nil
	}
	ok, err := c.pre(jp)
	if err != nil || !ok {
		return &PreConditionError{Target: jp.Name, Cause: err}
	}
	return nil
}

func (c *Condition) Around(jp *weave.Joinpoint) (any, error) {
	return jp.Proceed()
}

func (c *Condition) After(jp *weave.Joinpoint, result any) error {
	if c.post == nil {
		return nil
	}
	ok, err := c.post(jp, result)
	if err != nil || !ok {
		return &PostConditionError{Target: jp.Name, Result: result, Cause: err}
	}
	return nil
}
