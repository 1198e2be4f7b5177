package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geofix/internal/model"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"ADDR", "API_BASE", "CACHE_MAX_SIZE", "CACHE_TTL_S", "CACHE_BACKEND", "TLS_ENABLE", "STRATEGY_HIGH_ACCURACY_TIMEOUT_MS", "BRIDGE_HEARTBEAT_INTERVAL_S"} {
		t.Setenv(k, "")
	}
	c, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.Addr)
	assert.Equal(t, "/api", c.APIBase)
	assert.Equal(t, 64, c.CacheMaxSize)
	assert.Equal(t, 5*time.Minute, c.CacheTTL)
	assert.Equal(t, time.Hour, c.CacheSweepInterval)
	assert.Equal(t, BackendMemory, c.CacheBackend)
	assert.Equal(t, 5*time.Second, c.PermissionPollInterval)
	assert.True(t, c.TLSEnable)
	assert.Empty(t, c.StrategyTimeouts)
	assert.Equal(t, 10*time.Second, c.BridgeHeartbeatInterval)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("API_BASE", "/geo/")
	t.Setenv("CACHE_MAX_SIZE", "8")
	t.Setenv("CACHE_TTL_S", "30")
	t.Setenv("CACHE_BACKEND", "Redis")
	t.Setenv("CACHE_KEY_PER_STRATEGY", "true")
	t.Setenv("PERMISSION_POLL_INTERVAL_MS", "250")
	t.Setenv("STRATEGY_HIGH_ACCURACY_TIMEOUT_MS", "20000")
	t.Setenv("STRATEGY_LOW_POWER_TIMEOUT_MS", "bogus")
	t.Setenv("RATE_LIMIT_QPS", "2.5")
	t.Setenv("TLS_ENABLE", "false")
	t.Setenv("BRIDGE_HEARTBEAT_INTERVAL_S", "0")
	t.Setenv("RATE_LIMIT_TRUST_PROXY", "true")
	t.Setenv("ALLOWLIST_ENABLE", "true")
	t.Setenv("ALLOWLIST", " 10.0.0.0/8, ,192.0.2.7 ")
	t.Setenv("ALLOWLIST_LOCAL", "false")

	c, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "/geo", c.APIBase)
	assert.Equal(t, 8, c.CacheMaxSize)
	assert.Equal(t, 30*time.Second, c.CacheTTL)
	assert.Equal(t, BackendRedis, c.CacheBackend)
	assert.True(t, c.CacheKeyPerStrategy)
	assert.Equal(t, 250*time.Millisecond, c.PermissionPollInterval)
	assert.Equal(t, map[model.Strategy]time.Duration{model.HighAccuracy: 20 * time.Second}, c.StrategyTimeouts)
	assert.Equal(t, 2.5, c.RateLimitQPS)
	assert.False(t, c.TLSEnable)
	assert.Zero(t, c.BridgeHeartbeatInterval)
	assert.True(t, c.RateLimitTrustProxy)
	assert.True(t, c.AllowlistEnabled)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.7"}, c.Allowlist)
	assert.False(t, c.AllowLocal)
}

func TestFromEnvRejectsUnknownBackend(t *testing.T) {
	t.Setenv("CACHE_BACKEND", "etcd")
	_, err := FromEnv()
	assert.ErrorContains(t, err, "etcd")
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "HIGH_ACCURACY", envName(model.HighAccuracy))
	assert.Equal(t, "CACHE_FIRST", envName(model.CacheFirst))
	assert.Equal(t, "BALANCED", envName(model.Balanced))
}

func TestLoadEnvFilesDoesNotOverrideProcessEnv(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(f, []byte("GEOFIX_TEST_A=from_file\nGEOFIX_TEST_B=from_file\n"), 0o644))
	t.Setenv("GEOFIX_TEST_A", "from_env")
	t.Setenv("GEOFIX_TEST_B", "")
	os.Unsetenv("GEOFIX_TEST_B")

	prev := EnvFiles
	EnvFiles = []string{f, filepath.Join(dir, "missing.env")}
	defer func() { EnvFiles = prev }()

	assert.Equal(t, []string{f}, LoadEnvFiles())
	assert.Equal(t, "from_env", os.Getenv("GEOFIX_TEST_A"))
	assert.Equal(t, "from_file", os.Getenv("GEOFIX_TEST_B"))
}
