package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeDefaultConfig(t *testing.T) {
	cfg := InitializeDefaultConfig()

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "esign", cfg.Database.Name)
	assert.Equal(t, "development", cfg.Logging.Environment)
	assert.False(t, cfg.Production())
	assert.Equal(t, 60, cfg.RateLimit.ViewPerMinute)
	assert.Equal(t, 12, cfg.RateLimit.SubmitPerMinute)
	assert.Equal(t, 300, cfg.RateLimit.WebhookPerMinute)
}

func TestLoadConfigFileWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server": {"port": "9090"},
		"logging": {"environment": "production"},
		"esign": {"webhook_secret": "whsec_x"}
	}`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.True(t, cfg.Production())
	assert.Equal(t, "whsec_x", cfg.Esign.WebhookSecret)
	// untouched sections still pick up defaults
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "http://localhost:9090", cfg.Esign.SigningBaseURL)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("ESIGN_WEBHOOK_SECRET", "whsec_env")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg := InitializeDefaultConfig()

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.True(t, cfg.Production())
	assert.Equal(t, "whsec_env", cfg.Esign.WebhookSecret)
	assert.Equal(t, "redis:6379", cfg.RateLimit.RedisAddr)
}

func TestSingleEnvironmentKnobGatesLoggerAndWebhooks(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")

	cfg := InitializeDefaultConfig()

	// one value drives both the logger encoder and the webhook
	// fail-closed gate; they cannot disagree
	assert.Equal(t, "production", cfg.Logging.Environment)
	assert.True(t, cfg.Production())
}
