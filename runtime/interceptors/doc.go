// Package interceptors provides the built-in annotations that wrap target
// invocation: locking (Synchronized, SynchronizedClass), dispatch
// (Asynchronous), deadlines (TimeOut), pacing (Wait, RateLimit), recovery
// (Retries), partial application (Curried), validation (Types, Condition),
// notification (Observable, Deprecated) and the meta-level bind guards
// MaxCount and Target.
//
// Errors an interceptor raises on purpose (TypesError, PreConditionError,
// TimeOutError and the like) reach the caller unwrapped; any other failure
// inside a hook arrives as *weave.InterceptorError.
package interceptors
