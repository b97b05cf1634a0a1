// Package config loads runtime configuration from annotate.yml and
// ANNOTATE_* environment variables.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"github.com/conduit-lang/annotate/internal/logging"
)

// EnvPrefix prefixes environment overrides, e.g. ANNOTATE_ASYNC_WORKERS
const EnvPrefix = "ANNOTATE"

// Config represents the runtime configuration
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Async   AsyncConfig   `mapstructure:"async"`
	Retries RetriesConfig `mapstructure:"retries"`
	Wait    WaitConfig    `mapstructure:"wait"`
	Locks   LocksConfig   `mapstructure:"locks"`
}

// LoggingConfig represents logger configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AsyncConfig sizes the worker pool behind Asynchronous
type AsyncConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

// RetriesConfig holds Retries defaults
type RetriesConfig struct {
	MaxTries int           `mapstructure:"max_tries"`
	Delay    time.Duration `mapstructure:"delay"`
	Backoff  float64       `mapstructure:"backoff"`
}

// WaitConfig holds Wait defaults
type WaitConfig struct {
	Before time.Duration `mapstructure:"before"`
	After  time.Duration `mapstructure:"after"`
}

// LocksConfig configures distributed locks
type LocksConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the Redis lock backend. An empty Addr disables it.
type RedisConfig struct {
	Addr          string        `mapstructure:"addr"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// Enabled reports whether a Redis address is configured
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", string(logging.FormatJSON))
	v.SetDefault("async.workers", 4)
	v.SetDefault("async.queue_size", 100)
	v.SetDefault("retries.max_tries", 3)
	v.SetDefault("retries.delay", time.Second)
	v.SetDefault("retries.backoff", 2.0)
	v.SetDefault("wait.before", time.Second)
	v.SetDefault("wait.after", time.Duration(0))
	v.SetDefault("locks.redis.addr", "")
	v.SetDefault("locks.redis.password", "")
	v.SetDefault("locks.redis.db", 0)
	v.SetDefault("locks.redis.key_prefix", "annotate:lock:")
	v.SetDefault("locks.redis.lock_ttl", 30*time.Second)
	v.SetDefault("locks.redis.retry_interval", 50*time.Millisecond)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// Default returns the built-in configuration, ignoring files and the
// environment
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var config Config
	_ = v.Unmarshal(&config)
	return &config
}

// Load reads annotate.yml (or .yaml) from the first of dirs containing one,
// defaulting to the working directory. A missing file is not an error.
func Load(dirs ...string) (*Config, error) {
	v := newViper()
	v.SetConfigName("annotate")
	v.SetConfigType("yaml")
	if len(dirs) == 0 {
		dirs = []string{"."}
	}
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}
	return decode(v)
}

// LoadFile reads configuration from an explicit file path
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}
	return decode(v)
}

// LoggerOptions converts the logging section for logging.New
func (c *Config) LoggerOptions() logging.Options {
	return logging.Options{Level: c.Logging.Level, Format: logging.Format(c.Logging.Format)}
}

func validateConfig(cfg *Config) error {
	switch logging.Format(cfg.Logging.Format) {
	case logging.FormatJSON, logging.FormatConsole:
	default:
		return errors.Newf("logging.format must be %q or %q, got: %s",
			logging.FormatJSON, logging.FormatConsole, cfg.Logging.Format)
	}
	if cfg.Async.Workers <= 0 {
		return errors.Newf("async.workers must be greater than 0, got: %d", cfg.Async.Workers)
	}
	if cfg.Async.QueueSize <= 0 {
		return errors.Newf("async.queue_size must be greater than 0, got: %d", cfg.Async.QueueSize)
	}
	if cfg.Retries.MaxTries < 1 {
		return errors.Newf("retries.max_tries must be at least 1, got: %d", cfg.Retries.MaxTries)
	}
	if cfg.Retries.Delay < 0 {
		return errors.Newf("retries.delay must not be negative, got: %s", cfg.Retries.Delay)
	}
	if cfg.Retries.Backoff <= 0 {
		return errors.Newf("retries.backoff must be greater than 0, got: %g", cfg.Retries.Backoff)
	}
	if cfg.Wait.Before < 0 || cfg.Wait.After < 0 {
		return errors.New("wait durations must not be negative")
	}
	if cfg.Locks.Redis.Enabled() && cfg.Locks.Redis.LockTTL <= 0 {
		return errors.Newf("locks.redis.lock_ttl must be greater than 0, got: %s", cfg.Locks.Redis.LockTTL)
	}
	return nil
}
