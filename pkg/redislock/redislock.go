// Package redislock provides a Redis-backed lock for Synchronized
// interceptors shared across processes.
package redislock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/conduit-lang/annotate/internal/logging"
	"github.com/conduit-lang/annotate/runtime/interceptors"
)

// ErrLockLost is returned by Unlock and Refresh when the key expired or was
// taken over by another owner while held.
var ErrLockLost = errors.New("redis lock lost")

var (
	unlockScript = redis.NewScript(`
		if redis.call('GET', KEYS[1]) == ARGV[1] then
			return redis.call('DEL', KEYS[1])
		end
		return 0
	`)

	refreshScript = redis.NewScript(`
		if redis.call('GET', KEYS[1]) == ARGV[1] then
			return redis.call('PEXPIRE', KEYS[1], ARGV[2])
		end
		return 0
	`)
)

// Config holds configuration for a Lock
type Config struct {
	// Client is the Redis client to use
	Client *redis.Client
	// Name identifies the lock; every process using the same name and
	// prefix shares it
	Name string
	// Prefix is prepended to Name to form the Redis key
	Prefix string
	// TTL bounds how long a crashed holder keeps the lock
	TTL time.Duration
	// RetryInterval is the pause between acquisition attempts
	RetryInterval time.Duration
	// Logger receives acquisition and release events
	Logger *zap.Logger
}

// DefaultConfig returns a configuration with a 30s TTL polling every 50ms
func DefaultConfig(client *redis.Client, name string) Config {
	return Config{
		Client:        client,
		Name:          name,
		Prefix:        "annotate:lock:",
		TTL:           30 * time.Second,
		RetryInterval: 50 * time.Millisecond,
	}
}

// Lock is an interceptors.Locker held through a Redis key. Ownership
// travels with the context returned by Lock, so nested calls passing that
// context re-enter without another round trip.
type Lock struct {
	client   *redis.Client
	key      string
	ttl      time.Duration
	interval time.Duration
	logger   *zap.Logger
}

var _ interceptors.Locker = (*Lock)(nil)

type holdKey struct {
	l *Lock
}

type hold struct {
	token string
	depth atomic.Int32
}

// New creates a Lock
func New(config Config) (*Lock, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.Name == "" {
		return nil, errors.New("lock name is required")
	}
	if config.TTL <= 0 {
		return nil, errors.New("ttl must be greater than 0")
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = 50 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Lock{
		client:   config.Client,
		key:      config.Prefix + config.Name,
		ttl:      config.TTL,
		interval: config.RetryInterval,
		logger:   config.Logger,
	}, nil
}

// Key returns the Redis key backing the lock
func (l *Lock) Key() string { return l.key }

func (l *Lock) holdOf(ctx context.Context) (*hold, bool) {
	h, ok := ctx.Value(holdKey{l: l}).(*hold)
	if !ok || h.depth.Load() <= 0 {
		return nil, false
	}
	return h, true
}

// Lock blocks until the key is acquired or ctx is done
func (l *Lock) Lock(ctx context.Context) (context.Context, error) {
	if h, ok := l.holdOf(ctx); ok {
		h.depth.Add(1)
		return ctx, nil
	}

	token := uuid.NewString()
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		acquired, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			return ctx, errors.Wrapf(err, "acquire %s", l.key)
		}
		if acquired {
			l.logger.Debug("lock acquired",
				zap.String(logging.FieldLock, l.key),
				zap.Int(logging.FieldAttempt, attempt),
			)
			h := &hold{token: token}
			h.depth.Store(1)
			return context.WithValue(ctx, holdKey{l: l}, h), nil
		}

		select {
		case <-ctx.Done():
			return ctx, ctx.Err()
		case <-ticker.C:
		}
	}
}

// TryLock makes a single acquisition attempt
func (l *Lock) TryLock(ctx context.Context) (context.Context, bool, error) {
	if h, ok := l.holdOf(ctx); ok {
		h.depth.Add(1)
		return ctx, true, nil
	}
	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return ctx, false, errors.Wrapf(err, "acquire %s", l.key)
	}
	if !acquired {
		return ctx, false, nil
	}
	h := &hold{token: token}
	h.depth.Store(1)
	return context.WithValue(ctx, holdKey{l: l}, h), true, nil
}

// Unlock releases one level of the hold carried by ctx, deleting the key
// when the outermost level is released.
func (l *Lock) Unlock(ctx context.Context) error {
	h, ok := l.holdOf(ctx)
	if !ok {
		return interceptors.ErrNotHeld
	}
	if h.depth.Add(-1) > 0 {
		return nil
	}

	released, err := unlockScript.Run(context.WithoutCancel(ctx), l.client, []string{l.key}, h.token).Int64()
	if err != nil {
		return errors.Wrapf(err, "release %s", l.key)
	}
	if released == 0 {
		l.logger.Warn("lock expired before release", zap.String(logging.FieldLock, l.key))
		return ErrLockLost
	}
	l.logger.Debug("lock released", zap.String(logging.FieldLock, l.key))
	return nil
}

// Refresh resets the key's TTL while ctx holds the lock
func (l *Lock) Refresh(ctx context.Context) error {
	h, ok := l.holdOf(ctx)
	if !ok {
		return interceptors.ErrNotHeld
	}
	n, err := refreshScript.Run(ctx, l.client, []string{l.key}, h.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return errors.Wrapf(err, "refresh %s", l.key)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}
