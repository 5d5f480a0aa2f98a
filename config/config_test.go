package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
server:
  mode: test
database:
  driver: sqlite
  dsn: "file::memory:"
dispatcher:
  poll_interval: 2s
  backoff_base: 10s
auth:
  jwt_secret: "0123456789abcdef-secret"
credentials:
  secret_key: "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
publishers:
  webhooks:
    mastodon: "http://localhost:9000/mastodon"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithDefaultsAndEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeConfig(t, sample))
	t.Setenv("PS_DISPATCHER_WORKERS", "3")
	t.Setenv("PS_EVENTS_REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Server.Mode)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 2*time.Second, cfg.Dispatcher.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.Dispatcher.BackoffBase)
	assert.Equal(t, time.Hour, cfg.Dispatcher.BackoffMax)
	assert.Equal(t, 5, cfg.Dispatcher.MaxAttempts)
	assert.Equal(t, 90, cfg.Dispatcher.HorizonDays)
	assert.Equal(t, 3, cfg.Dispatcher.Workers, "环境变量覆盖")
	assert.Equal(t, "localhost:6379", cfg.Events.RedisAddr)
	assert.Equal(t, "http://localhost:9000/mastodon", cfg.Publishers.Webhooks["mastodon"])
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeConfig(t, sample))
	t.Setenv("PS_AUTH_JWT_SECRET", "short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWTSecret")
}

func TestValidateCredentialsKey(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeConfig(t, sample))
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Credentials.SecretKey = "not-hex"
	assert.Error(t, cfg.Validate())
}

func TestValidateStuckTimeoutExceedsPublishTimeout(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeConfig(t, sample))
	cfg, err := Load()
	require.NoError(t, err)
	assert.Greater(t, cfg.Dispatcher.StuckTimeout, cfg.Dispatcher.PublishTimeout)

	cfg.Dispatcher.StuckTimeout = cfg.Dispatcher.PublishTimeout
	assert.Error(t, cfg.Validate())

	t.Setenv("PS_DISPATCHER_STUCK_TIMEOUT", "10s")
	t.Setenv("PS_DISPATCHER_PUBLISH_TIMEOUT", "15s")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "StuckTimeout")
}
