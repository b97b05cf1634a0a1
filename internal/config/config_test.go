package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "annotate.yml"), []byte(content), 0o644))
	return dir
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 4, cfg.Async.Workers)
	assert.Equal(t, 100, cfg.Async.QueueSize)
	assert.Equal(t, 3, cfg.Retries.MaxTries)
	assert.Equal(t, time.Second, cfg.Retries.Delay)
	assert.Equal(t, 2.0, cfg.Retries.Backoff)
	assert.Equal(t, time.Second, cfg.Wait.Before)
	assert.Zero(t, cfg.Wait.After)
	assert.False(t, cfg.Locks.Redis.Enabled())
	assert.Equal(t, "annotate:lock:", cfg.Locks.Redis.KeyPrefix)
	assert.Equal(t, 30*time.Second, cfg.Locks.Redis.LockTTL)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	dir := writeConfig(t, `
logging:
  level: debug
  format: console
async:
  workers: 8
retries:
  max_tries: 5
  delay: 250ms
wait:
  after: 2s
locks:
  redis:
    addr: localhost:6379
    key_prefix: "app:"
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, 8, cfg.Async.Workers)
	assert.Equal(t, 100, cfg.Async.QueueSize)
	assert.Equal(t, 5, cfg.Retries.MaxTries)
	assert.Equal(t, 250*time.Millisecond, cfg.Retries.Delay)
	assert.Equal(t, 2*time.Second, cfg.Wait.After)
	assert.True(t, cfg.Locks.Redis.Enabled())
	assert.Equal(t, "app:", cfg.Locks.Redis.KeyPrefix)

	opts := cfg.LoggerOptions()
	assert.Equal(t, "debug", opts.Level)
	assert.EqualValues(t, "console", opts.Format)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	dir := writeConfig(t, "async:\n  workers: 8\n")
	t.Setenv("ANNOTATE_ASYNC_WORKERS", "16")
	t.Setenv("ANNOTATE_LOCKS_REDIS_ADDR", "redis:6379")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Async.Workers)
	assert.Equal(t, "redis:6379", cfg.Locks.Redis.Addr)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		expectedErr string
	}{
		{"bad format", "logging:\n  format: xml\n", "logging.format"},
		{"no workers", "async:\n  workers: 0\n", "async.workers"},
		{"no queue", "async:\n  queue_size: -1\n", "async.queue_size"},
		{"no tries", "retries:\n  max_tries: 0\n", "retries.max_tries"},
		{"negative delay", "retries:\n  delay: -1s\n", "retries.delay"},
		{"zero backoff", "retries:\n  backoff: 0\n", "retries.backoff"},
		{"negative wait", "wait:\n  before: -1s\n", "wait durations"},
		{"redis without ttl", "locks:\n  redis:\n    addr: x:1\n    lock_ttl: 0s\n", "locks.redis.lock_ttl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedErr)
		})
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "async: [unclosed\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadFile(t *testing.T) {
	dir := writeConfig(t, "async:\n  queue_size: 7\n")

	cfg, err := LoadFile(filepath.Join(dir, "annotate.yml"))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Async.QueueSize)

	_, err = LoadFile(filepath.Join(dir, "missing.yml"))
	assert.Error(t, err)
}
