package weave

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Weaver owns the advice chains of every woven target key.
//
// Chains are replaced, never mutated in place, so an invocation that
// already captured a chain is unaffected by concurrent Weave or Unweave.
type Weaver struct {
	mu     sync.RWMutex
	chains map[any][]Advice
	logger *zap.Logger
}

// NewWeaver creates an empty weaver. A nil logger disables logging.
func NewWeaver(logger *zap.Logger) *Weaver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Weaver{
		chains: make(map[any][]Advice),
		logger: logger,
	}
}

// Weave inserts advice as the outermost link of the key's chain
func (w *Weaver) Weave(key any, advice Advice) {
	w.mu.Lock()
	defer w.mu.Unlock()

	current := w.chains[key]
	next := make([]Advice, len(current)+1)
	next[0] = advice
	copy(next[1:], current)
	w.chains[key] = next

	w.logger.Debug("advice woven",
		zap.String("advice", adviceName(advice)),
		zap.Int("chain_length", len(next)),
	)
}

// Unweave removes one occurrence of advice from the key's chain. The key
// becomes unwoven when its chain empties. It reports whether advice was found.
func (w *Weaver) Unweave(key any, advice Advice) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	current := w.chains[key]
	for i, a := range current {
		if a != advice {
			continue
		}
		if len(current) == 1 {
			delete(w.chains, key)
		} else {
			next := make([]Advice, 0, len(current)-1)
			next = append(next, current[:i]...)
			next = append(next, current[i+1:]...)
			w.chains[key] = next
		}
		w.logger.Debug("advice unwoven",
			zap.String("advice", adviceName(advice)),
			zap.Int("chain_length", len(current)-1),
		)
		return true
	}
	return false
}

// IsWoven reports whether the key has at least one advice
func (w *Weaver) IsWoven(key any) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.chains[key]) > 0
}

// Chain returns a snapshot of the key's chain, outermost first
func (w *Weaver) Chain(key any) []Advice {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]Advice(nil), w.chains[key]...)
}

// Invoke calls original through the key's chain. With no chain, original
// is called directly. A panic raised by original propagates unchanged.
func (w *Weaver) Invoke(ctx context.Context, key any, name string, target any, original Callable, args Args) (result any, err error) {
	w.mu.RLock()
	chain := w.chains[key]
	w.mu.RUnlock()

	if len(chain) == 0 {
		return original(ctx, args)
	}

	defer func() {
		if r := recover(); r != nil {
			panic(Recovered(r))
		}
	}()

	root := &Joinpoint{
		Ctx:      ctx,
		Args:     args,
		Target:   target,
		Name:     name,
		Key:      key,
		chain:    chain,
		index:    -1,
		original: original,
		logger:   w.logger,
	}
	return root.Proceed()
}

// Recovered strips the internal envelope from a value recovered while a
// chain was running, yielding what the target originally panicked with.
// Advice that call Proceed on another goroutine use it before re-raising.
func Recovered(r any) any {
	if tp, ok := r.(targetPanic); ok {
		return tp.value
	}
	return r
}
