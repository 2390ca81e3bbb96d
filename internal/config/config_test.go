package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)

		assert.Equal(t, "orb", cfg.ORB.ID)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, "json", cfg.Log.Format)
		assert.True(t, cfg.Interceptors.Logging)
		assert.True(t, cfg.Interceptors.Metrics)
		assert.False(t, cfg.Interceptors.Tracing)
		assert.Equal(t, DefaultRetryMaxAttempts, cfg.Client.Retry.MaxAttempts)
		assert.Equal(t, 50*time.Millisecond, cfg.Client.Retry.InitialInterval)
		assert.Equal(t, 2*time.Second, cfg.Client.Retry.MaxInterval)
		assert.Equal(t, DefaultCircuitMaxFailures, cfg.Client.CircuitBreaker.MaxFailures)
		assert.Equal(t, DefaultRequestQueue, cfg.AMQP.RequestQueue)
		assert.Equal(t, 30*time.Second, cfg.AMQP.ReplyTimeout)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("missing file falls back to defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "orb", cfg.ORB.ID)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "orb.yaml")
		content := `
orb:
  id: billing
  arguments: ["-ORBDebug"]
log:
  level: debug
amqp:
  enabled: true
  url: amqp://broker:5672/
  request_queue: billing.requests
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "billing", cfg.ORB.ID)
		assert.Equal(t, []string{"-ORBDebug"}, cfg.ORB.Arguments)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.True(t, cfg.AMQP.Enabled)
		assert.Equal(t, "billing.requests", cfg.AMQP.RequestQueue)
		assert.Equal(t, DefaultExchange, cfg.AMQP.Exchange)
	})

	t.Run("env overrides file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "orb.yaml")
		require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600))

		t.Setenv("ORB_LOG__LEVEL", "warn")
		t.Setenv("ORB_AMQP__REPLY_TIMEOUT", "5s")
		t.Setenv("ORB_INTERCEPTORS__TRACING", "true")

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "warn", cfg.Log.Level)
		assert.Equal(t, 5*time.Second, cfg.AMQP.ReplyTimeout)
		assert.True(t, cfg.Interceptors.Tracing)
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "orb.yaml")
		require.NoError(t, os.WriteFile(path, []byte("log: [unclosed"), 0o600))

		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func(t *testing.T) *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	t.Run("rejects unknown log level", func(t *testing.T) {
		cfg := valid(t)
		cfg.Log.Level = "trace"

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "log.level must be one of: debug info warn error")
	})

	t.Run("requires url when amqp is enabled", func(t *testing.T) {
		cfg := valid(t)
		cfg.AMQP.Enabled = true
		cfg.AMQP.URL = ""

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "amqp.url is required when")
	})

	t.Run("max interval must not undercut initial interval", func(t *testing.T) {
		cfg := valid(t)
		cfg.Client.Retry.InitialInterval = time.Second
		cfg.Client.Retry.MaxInterval = time.Millisecond

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "client.retry.maxinterval must not be less than initialinterval")
	})

	t.Run("metrics address must be host:port", func(t *testing.T) {
		cfg := valid(t)
		cfg.Metrics.Address = "not an address"

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "metrics.address must be host:port")
	})

	t.Run("disabled circuit breaker needs no settings", func(t *testing.T) {
		cfg := valid(t)
		cfg.Client.CircuitBreaker = CircuitBreakerConfig{}

		assert.NoError(t, cfg.Validate())
	})
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "client.retry.max_attempts", envKey("ORB_CLIENT__RETRY__MAX_ATTEMPTS"))
	assert.Equal(t, "orb.id", envKey("ORB_ORB__ID"))
}
