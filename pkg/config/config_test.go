package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Success(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.App.Env)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, "http://localhost:9000", cfg.CoreAPI.BaseURL)

	assert.Equal(t, 500*time.Millisecond, cfg.Engine.MinRefreshInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.Engine.IdentityDebounce)
	assert.Equal(t, 200*time.Millisecond, cfg.Engine.LockRetryInterval)
	assert.Equal(t, 3, cfg.Engine.LockRetryAttempts)
	assert.Equal(t, time.Second, cfg.Engine.ConfirmRefreshDelay)
	assert.Equal(t, 720*time.Hour, cfg.Engine.GuestTokenTTL)

	assert.Equal(t, 60, cfg.RateLimit.MutationLimit)
	assert.Equal(t, time.Minute, cfg.RateLimit.MutationWindow)
}

func TestLoad_MissingRequired(t *testing.T) {
	setMinimalEnv(t)
	require.NoError(t, os.Unsetenv(EnvAppEnv))

	_, err := Load()
	require.Error(t, err)
}

func TestAppConfigEnvHelpers(t *testing.T) {
	assert.True(t, AppConfig{Env: "Production"}.IsProd())
	assert.True(t, AppConfig{Env: "development"}.IsDev())
	assert.False(t, AppConfig{Env: "development"}.IsProd())
}

func setMinimalEnv(t *testing.T) {
	t.Helper()

	t.Setenv(EnvAppEnv, "production")
	t.Setenv(EnvPort, "8081")
	t.Setenv(EnvRedisURL, "redis://localhost:6379/0")
	t.Setenv(EnvJWTSecret, "secret")
	t.Setenv(EnvJWTIssuer, "cartbridge")
	t.Setenv(EnvCoreAPIURL, "http://localhost:9000")
}
