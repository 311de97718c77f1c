package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "circulation.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
rules_cache_ttl: 30s
redis_url: redis://cache:6379/0
log_level: debug
`), 0o600))

	t.Setenv("PORT", "9100")
	t.Setenv("RATE_LIMIT", "2.5")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.RulesCacheTTL)
	assert.Equal(t, "redis://cache:6379/0", cfg.RedisURL)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2.5, cfg.RateLimit)
	assert.Equal(t, Default().InventoryServiceURL, cfg.InventoryServiceURL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))

	assert.ErrorContains(t, err, "failed to read config")
}

func TestLoad_ZeroRulesCacheTTLNeverExpires(t *testing.T) {
	t.Setenv("RULES_CACHE_TTL", "0s")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Zero(t, cfg.RulesCacheTTL)
	assert.False(t, cfg.RulesCacheExpires())
	assert.True(t, Default().RulesCacheExpires())
}

func TestLoad_RejectsNegativeRulesCacheTTL(t *testing.T) {
	t.Setenv("RULES_CACHE_TTL", "-1m")

	_, err := Load("")

	assert.ErrorContains(t, err, "rules cache ttl must not be negative")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.DatabaseURL = ""
	cfg.RulesServiceURL = ""
	cfg.RulesCacheSize = 0

	err := cfg.Validate()

	require.Error(t, err)
	assert.ErrorContains(t, err, "database url is required")
	assert.ErrorContains(t, err, "rules service url is required")
	assert.ErrorContains(t, err, "rules cache size must be positive")
}
