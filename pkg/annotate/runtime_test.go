package annotate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/conduit-lang/annotate/internal/config"
	"github.com/conduit-lang/annotate/pkg/redislock"
	"github.com/conduit-lang/annotate/runtime/annotation"
	"github.com/conduit-lang/annotate/runtime/interceptors"
)

func newRuntime(t *testing.T, cfg *config.Config, opts ...Option) *Runtime {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	rt, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt
}

type marker struct {
	annotation.Base
}

func TestNew_InstallsGuards(t *testing.T) {
	rt := newRuntime(t, nil)

	_, err := rt.Registry.Bind(interceptors.NewMaxCount(1), annotation.TypeTarget[*marker]())
	require.NoError(t, err)
	_, err = rt.Registry.Bind(interceptors.NewMaxCount(1), annotation.TypeTarget[*marker]())

	var mce *interceptors.MaxCountError
	assert.True(t, errors.As(err, &mce))
}

func TestNew_InvalidLoggingConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "loud"

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestRuntime_AsynchronousUsesPool(t *testing.T) {
	cfg := config.Default()
	cfg.Async.Workers = 1
	rt := newRuntime(t, cfg)

	square := annotation.Func("square", func(x int) int { return x * x }, "x")
	bound, err := rt.Registry.Bind(rt.Asynchronous(), square)
	require.NoError(t, err)

	got, err := rt.Registry.Call(context.Background(), bound.(annotation.Invocable), 7)
	require.NoError(t, err)
	result, err := got.(*interceptors.Future).Result(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 49, result)
}

func TestRuntime_RetriesFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Retries.MaxTries = 4
	cfg.Retries.Delay = 0
	rt := newRuntime(t, cfg)

	var calls int
	flaky := annotation.Func("flaky", func() error {
		calls++
		if calls < 4 {
			return errors.New("not yet")
		}
		return nil
	})
	retries := rt.Retries(nil)
	assert.Equal(t, 4, retries.Config().MaxTries)

	bound, err := rt.Registry.Bind(retries, flaky)
	require.NoError(t, err)
	_, err = bound.(*annotation.Woven).Call(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
}

func TestRuntime_WaitFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Wait.Before = 5 * time.Millisecond
	cfg.Wait.After = 7 * time.Millisecond
	rt := newRuntime(t, cfg)

	before, after := rt.Wait().Durations()
	assert.Equal(t, 5*time.Millisecond, before)
	assert.Equal(t, 7*time.Millisecond, after)
}

func TestRuntime_InProcessLocks(t *testing.T) {
	rt := newRuntime(t, nil)

	first, err := rt.Locker("ledger")
	require.NoError(t, err)
	again, err := rt.Locker("ledger")
	require.NoError(t, err)
	other, err := rt.Locker("audit")
	require.NoError(t, err)

	assert.Same(t, first, again)
	assert.NotSame(t, first, other)
	assert.IsType(t, &interceptors.ReentrantLock{}, first)

	guard, err := rt.Synchronized("ledger")
	require.NoError(t, err)
	assert.Same(t, first, guard.Lock())
}

func TestRuntime_RedisLocks(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.Default()
	cfg.Locks.Redis.KeyPrefix = "test:"
	rt := newRuntime(t, cfg, WithRedisClient(client))

	l, err := rt.Locker("ledger")
	require.NoError(t, err)
	require.IsType(t, &redislock.Lock{}, l)

	ctx, err := l.Lock(context.Background())
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:ledger"))
	require.NoError(t, l.Unlock(ctx))

	account := annotation.MustType("Account")
	account.Define("Deposit", func() {})
	class, err := rt.SynchronizedClass("account")
	require.NoError(t, err)
	_, err = rt.Registry.Bind(class, account)
	require.NoError(t, err)

	_, err = rt.Registry.Call(context.Background(), account.Member("Deposit"))
	require.NoError(t, err)
	assert.False(t, mr.Exists("test:account"))
}

func TestRuntime_RedisFromConfig(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Locks.Redis.Addr = mr.Addr()
	rt := newRuntime(t, cfg)

	l, err := rt.Locker("jobs")
	require.NoError(t, err)
	ctx, err := l.Lock(context.Background())
	require.NoError(t, err)
	assert.True(t, mr.Exists("annotate:lock:jobs"))
	require.NoError(t, l.Unlock(ctx))
}

func TestRuntime_CloseDisposesAnnotations(t *testing.T) {
	rt, err := New(nil, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	dep := rt.Deprecated("gone soon")
	fn := annotation.Func("old", func() {})
	_, err = rt.Registry.Bind(dep, fn)
	require.NoError(t, err)

	require.NoError(t, rt.Close(context.Background()))
	assert.True(t, dep.Disposed())
	assert.False(t, rt.Registry.Weaver().IsWoven(fn.Key()))
	assert.NoError(t, rt.Close(context.Background()))

	err = rt.Pool.Dispatch("late", func() {})
	assert.Error(t, err)
}

func TestLoad_ReadsWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "annotate.yml"),
		[]byte("async:\n  workers: 2\nretries:\n  max_tries: 9\n"), 0o644))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	rt, err := Load(WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })

	assert.Equal(t, 2, rt.Config.Async.Workers)
	assert.Equal(t, 9, rt.RetryConfig().MaxTries)
}
