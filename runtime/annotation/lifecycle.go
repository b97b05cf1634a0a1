package annotation

import (
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/annotate/internal/logging"
)

var timeZero time.Time

// TTL returns the time left before ann is disposed, or false when no
// expiry is scheduled.
func (r *Registry) TTL(ann Annotation) (time.Duration, bool) {
	st := stateOf(ann)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.timer == nil {
		return 0, false
	}
	left := time.Until(st.deadline)
	if left < 0 {
		left = 0
	}
	return left, true
}

// SetTTL cancels any pending expiry of ann and, when d is positive,
// schedules its disposal after d. A d of zero or less disables expiry.
func (r *Registry) SetTTL(ann Annotation, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.attachLocked(ann); err != nil {
		return err
	}
	r.setTTLLocked(ann, d)
	return nil
}

func (r *Registry) setTTLLocked(ann Annotation, d time.Duration) {
	st := stateOf(ann)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.disposed {
		return
	}
	st.gen++
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
		st.deadline = timeZero
	}
	if d <= 0 {
		return
	}

	gen := st.gen
	st.deadline = time.Now().Add(d)
	st.timer = time.AfterFunc(d, func() {
		r.expire(ann, gen)
	})
}

// expire runs on the timer goroutine and takes the same lock as Dispose.
// A timer superseded by SetTTL or disposal finds a newer generation and
// does nothing.
func (r *Registry) expire(ann Annotation, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := stateOf(ann)
	st.mu.Lock()
	stale := st.gen != gen || st.disposed
	st.mu.Unlock()
	if stale {
		return
	}

	r.logger.Debug("annotation expired",
		zap.String(logging.FieldAnnotationID, ann.ID().String()),
	)
	r.disposeLocked(ann)
}

// InMemory reports whether ann is retained in the memory index
func (r *Registry) InMemory(ann Annotation) bool {
	st := stateOf(ann)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.inMemory
}

// SetInMemory adds ann to or removes it from the memory index, keyed by its
// concrete type.
func (r *Registry) SetInMemory(ann Annotation, inMemory bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.attachLocked(ann); err != nil {
		return err
	}
	r.setInMemoryLocked(ann, inMemory)
	return nil
}

func (r *Registry) setInMemoryLocked(ann Annotation, inMemory bool) {
	st := stateOf(ann)
	st.mu.Lock()
	if st.inMemory == inMemory || (inMemory && st.disposed) {
		st.mu.Unlock()
		return
	}
	st.inMemory = inMemory
	st.mu.Unlock()

	t := reflect.TypeOf(ann)
	bucket := r.memory[t]
	if inMemory {
		r.memory[t] = append(bucket, ann)
		return
	}
	for i, a := range bucket {
		if a == ann {
			bucket = append(bucket[:i:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(r.memory, t)
		return
	}
	r.memory[t] = bucket
}

// Memory returns the retained annotations whose type the filter accepts
func (r *Registry) Memory(filter Filter) []Annotation {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Annotation
	for t, bucket := range r.memory {
		if !filter.acceptsType(t) {
			continue
		}
		out = append(out, bucket...)
	}
	return out
}

// MemoryTypes returns the concrete types that have a memory bucket
func (r *Registry) MemoryTypes() []reflect.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]reflect.Type, 0, len(r.memory))
	for t := range r.memory {
		out = append(out, t)
	}
	return out
}

// FreeMemory drops every bucket whose type matches t and none of exclude.
// The annotations stay alive; they are only no longer retained.
func (r *Registry) FreeMemory(t reflect.Type, exclude ...reflect.Type) {
	filter := Of(t).Excluding(exclude...)

	r.mu.Lock()
	defer r.mu.Unlock()

	for bt, bucket := range r.memory {
		if !filter.acceptsType(bt) {
			continue
		}
		for _, ann := range bucket {
			st := stateOf(ann)
			st.mu.Lock()
			st.inMemory = false
			st.mu.Unlock()
		}
		delete(r.memory, bt)
	}
}
