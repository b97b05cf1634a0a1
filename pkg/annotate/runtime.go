// Package annotate assembles a ready-to-use annotation runtime: logger,
// registry with the built-in bind guards, worker pool for asynchronous
// calls and, when configured, Redis-backed locks.
//
// A Runtime is created once per process with New or Load and released with
// Close:
//
//	rt, err := annotate.Load()
//	if err != nil {
//		return err
//	}
//	defer rt.Close(context.Background())
//
//	fn, err := rt.Registry.Bind(rt.Retries(nil), annotation.Func("fetch", fetch))
package annotate

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/conduit-lang/annotate/internal/config"
	"github.com/conduit-lang/annotate/internal/logging"
	"github.com/conduit-lang/annotate/internal/workers"
	"github.com/conduit-lang/annotate/pkg/redislock"
	"github.com/conduit-lang/annotate/runtime/annotation"
	"github.com/conduit-lang/annotate/runtime/interceptors"
	"github.com/conduit-lang/annotate/runtime/weave"
)

// Runtime owns the process-wide annotation state
type Runtime struct {
	Config   *config.Config
	Logger   *zap.Logger
	Registry *annotation.Registry
	Pool     *workers.Pool

	redis     *redis.Client
	ownsRedis bool

	mu     sync.Mutex
	locks  map[string]interceptors.Locker
	closed bool
}

// Option configures New
type Option func(*Runtime)

// WithLogger uses logger instead of one built from the logging config
func WithLogger(logger *zap.Logger) Option {
	return func(rt *Runtime) { rt.Logger = logger }
}

// WithRedisClient uses client for locks instead of dialing
// Locks.Redis.Addr. The caller keeps ownership of the client.
func WithRedisClient(client *redis.Client) Option {
	return func(rt *Runtime) { rt.redis = client }
}

// Load reads configuration with config.Load and calls New
func Load(opts ...Option) (*Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}

// New creates a Runtime from cfg; a nil cfg uses config.Default
func New(cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	rt := &Runtime{Config: cfg, locks: make(map[string]interceptors.Locker)}
	for _, opt := range opts {
		opt(rt)
	}

	if rt.Logger == nil {
		logger, err := logging.New(cfg.LoggerOptions())
		if err != nil {
			return nil, errors.Wrap(err, "build logger")
		}
		rt.Logger = logger
	}

	rt.Registry = annotation.NewRegistry(
		annotation.WithLogger(logging.Named(rt.Logger, "registry")),
		annotation.WithWeaver(weave.NewWeaver(logging.Named(rt.Logger, "weaver"))),
	)
	if err := interceptors.Install(rt.Registry); err != nil {
		return nil, err
	}

	if rt.redis == nil && cfg.Locks.Redis.Enabled() {
		rt.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Locks.Redis.Addr,
			Password: cfg.Locks.Redis.Password,
			DB:       cfg.Locks.Redis.DB,
		})
		rt.ownsRedis = true
	}

	rt.Pool = workers.New(cfg.Async.Workers, cfg.Async.QueueSize, rt.Logger)
	rt.Pool.Start()

	rt.Logger.Info("annotation runtime started",
		zap.Int(logging.FieldWorker, cfg.Async.Workers),
		zap.Bool("redis_locks", rt.redis != nil),
	)
	return rt, nil
}

// Close disposes every tracked annotation, drains the worker pool and
// closes the Redis client when the runtime dialed it.
func (rt *Runtime) Close(ctx context.Context) error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil
	}
	rt.closed = true
	rt.mu.Unlock()

	var err error
	err = errors.CombineErrors(err, rt.Registry.Close())
	err = errors.CombineErrors(err, rt.Pool.Shutdown(ctx))
	if rt.ownsRedis {
		err = errors.CombineErrors(err, rt.redis.Close())
	}
	_ = rt.Logger.Sync()
	return err
}

// Locker returns the lock registered under name, creating it on first use.
// Locks are Redis-backed when a Redis client is available and in-process
// otherwise.
func (rt *Runtime) Locker(name string) (interceptors.Locker, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if l, ok := rt.locks[name]; ok {
		return l, nil
	}

	var l interceptors.Locker
	if rt.redis != nil {
		rc := rt.Config.Locks.Redis
		lock, err := redislock.New(redislock.Config{
			Client:        rt.redis,
			Name:          name,
			Prefix:        rc.KeyPrefix,
			TTL:           rc.LockTTL,
			RetryInterval: rc.RetryInterval,
			Logger:        logging.Named(rt.Logger, "redislock"),
		})
		if err != nil {
			return nil, errors.Wrapf(err, "lock %s", name)
		}
		l = lock
	} else {
		l = interceptors.NewReentrantLock()
	}
	rt.locks[name] = l
	return l, nil
}

// Synchronized creates a Synchronized interceptor guarded by the named lock
func (rt *Runtime) Synchronized(name string) (*interceptors.Synchronized, error) {
	l, err := rt.Locker(name)
	if err != nil {
		return nil, err
	}
	return interceptors.NewSynchronized(
		interceptors.WithLocker(l),
		interceptors.WithSyncLogger(rt.Logger),
	), nil
}

// SynchronizedClass creates a SynchronizedClass guarded by the named lock
func (rt *Runtime) SynchronizedClass(name string) (*interceptors.SynchronizedClass, error) {
	l, err := rt.Locker(name)
	if err != nil {
		return nil, err
	}
	return interceptors.NewSynchronizedClass(
		interceptors.WithLocker(l),
		interceptors.WithSyncLogger(rt.Logger),
	), nil
}

// Asynchronous creates an Asynchronous interceptor dispatching to the pool
func (rt *Runtime) Asynchronous() *interceptors.Asynchronous {
	return interceptors.NewAsynchronous(
		interceptors.WithDispatcher(rt.Pool),
		interceptors.WithAsyncLogger(rt.Logger),
	)
}

// RetryConfig returns the configured retry defaults
func (rt *Runtime) RetryConfig() interceptors.RetryConfig {
	c := rt.Config.Retries
	return interceptors.RetryConfig{MaxTries: c.MaxTries, Delay: c.Delay, Backoff: c.Backoff}
}

// Retries creates a Retries interceptor from the configured defaults;
// matches may be nil to retry every error.
func (rt *Runtime) Retries(matches func(error) bool) *interceptors.Retries {
	c := rt.RetryConfig()
	c.Matches = matches
	return interceptors.NewRetries(c, rt.Logger)
}

// Wait creates a Wait interceptor from the configured pauses
func (rt *Runtime) Wait() *interceptors.Wait {
	return interceptors.NewWait(rt.Config.Wait.Before, rt.Config.Wait.After)
}

// Deprecated creates a Deprecated interceptor logging through the runtime
func (rt *Runtime) Deprecated(message string) *interceptors.Deprecated {
	return interceptors.NewDeprecated(message, rt.Logger)
}
