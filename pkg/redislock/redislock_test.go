package redislock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/conduit-lang/annotate/runtime/annotation"
	"github.com/conduit-lang/annotate/runtime/interceptors"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func newLock(t *testing.T, client *redis.Client, name string) *Lock {
	config := DefaultConfig(client, name)
	config.RetryInterval = time.Millisecond
	config.Logger = zaptest.NewLogger(t)
	l, err := New(config)
	require.NoError(t, err)
	return l
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectedErr string
	}{
		{"nil client", Config{Name: "x", TTL: time.Second}, "redis client is required"},
		{"no name", Config{Client: &redis.Client{}, TTL: time.Second}, "lock name is required"},
		{"zero ttl", Config{Client: &redis.Client{}, Name: "x"}, "ttl must be greater than 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedErr)
		})
	}
}

func TestLock_AcquireAndRelease(t *testing.T) {
	client, mr := setupTestRedis(t)
	l := newLock(t, client, "orders")

	ctx, err := l.Lock(context.Background())
	require.NoError(t, err)
	assert.True(t, mr.Exists("annotate:lock:orders"))
	assert.Greater(t, mr.TTL("annotate:lock:orders"), time.Duration(0))

	require.NoError(t, l.Unlock(ctx))
	assert.False(t, mr.Exists("annotate:lock:orders"))
}

func TestLock_Reentrant(t *testing.T) {
	client, mr := setupTestRedis(t)
	l := newLock(t, client, "orders")

	outer, err := l.Lock(context.Background())
	require.NoError(t, err)
	inner, err := l.Lock(outer)
	require.NoError(t, err)

	require.NoError(t, l.Unlock(inner))
	assert.True(t, mr.Exists(l.Key()))
	require.NoError(t, l.Unlock(outer))
	assert.False(t, mr.Exists(l.Key()))
}

func TestLock_UnlockWithoutHold(t *testing.T) {
	client, _ := setupTestRedis(t)
	l := newLock(t, client, "orders")

	assert.True(t, errors.Is(l.Unlock(context.Background()), interceptors.ErrNotHeld))
	assert.True(t, errors.Is(l.Refresh(context.Background()), interceptors.ErrNotHeld))
}

func TestLock_ContendedWaitsForContext(t *testing.T) {
	client, _ := setupTestRedis(t)
	first := newLock(t, client, "orders")
	second := newLock(t, client, "orders")

	held, err := first.Lock(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = second.Lock(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	_, ok, err := second.TryLock(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, first.Unlock(held))
	got, ok, err := second.TryLock(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, second.Unlock(got))
}

func TestLock_TryLockReportsRedisFailure(t *testing.T) {
	client, mr := setupTestRedis(t)
	l := newLock(t, client, "orders")
	mr.Close()

	got, ok, err := l.TryLock(context.Background())
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "acquire "+l.Key())
	assert.Error(t, l.Unlock(got))
}

func TestLock_ExpiredHoldIsLost(t *testing.T) {
	client, mr := setupTestRedis(t)
	l := newLock(t, client, "orders")
	other := newLock(t, client, "orders")

	ctx, err := l.Lock(context.Background())
	require.NoError(t, err)

	mr.FastForward(time.Minute)
	stolen, err := other.Lock(context.Background())
	require.NoError(t, err)

	assert.True(t, errors.Is(l.Refresh(ctx), ErrLockLost))
	assert.True(t, errors.Is(l.Unlock(ctx), ErrLockLost))
	assert.True(t, mr.Exists(l.Key()), "the new owner's key must survive")

	require.NoError(t, other.Unlock(stolen))
}

func TestLock_Refresh(t *testing.T) {
	client, mr := setupTestRedis(t)
	l := newLock(t, client, "orders")

	ctx, err := l.Lock(context.Background())
	require.NoError(t, err)

	mr.FastForward(20 * time.Second)
	require.NoError(t, l.Refresh(ctx))
	assert.Greater(t, mr.TTL(l.Key()), 20*time.Second)

	require.NoError(t, l.Unlock(ctx))
}

func TestLock_SynchronizesAcrossClients(t *testing.T) {
	_, mr := setupTestRedis(t)
	r := annotation.NewRegistry(annotation.WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(func() { _ = r.Close() })

	var inside, maxInside atomic.Int32
	work := func() {
		n := inside.Add(1)
		if n > maxInside.Load() {
			maxInside.Store(n)
		}
		time.Sleep(2 * time.Millisecond)
		inside.Add(-1)
	}

	var targets []*annotation.Woven
	for i := 0; i < 2; i++ {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })

		fn := annotation.Func("work", work)
		bound, err := r.Bind(interceptors.NewSynchronized(interceptors.WithLocker(newLock(t, client, "work"))), fn)
		require.NoError(t, err)
		targets = append(targets, bound.(*annotation.Woven))
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		for _, w := range targets {
			wg.Add(1)
			go func(w *annotation.Woven) {
				defer wg.Done()
				_, err := w.Call(context.Background())
				assert.NoError(t, err)
			}(w)
		}
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.False(t, mr.Exists("annotate:lock:work"))
}
