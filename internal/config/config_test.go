package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestLoadRequiresAPIKey(t *testing.T) {
	os.Unsetenv("PURCHASES_API_KEY")
	os.Unsetenv("PURCHASES_CONFIG_FILE")

	_, err := Load()
	assert.ErrorContains(t, err, "PURCHASES_API_KEY")
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("PURCHASES_API_KEY", "test_key")
	os.Setenv("PURCHASES_OBSERVER_MODE", "true")
	os.Setenv("PURCHASES_HTTP_TIMEOUT_SECONDS", "10")
	defer func() {
		os.Unsetenv("PURCHASES_API_KEY")
		os.Unsetenv("PURCHASES_OBSERVER_MODE")
		os.Unsetenv("PURCHASES_HTTP_TIMEOUT_SECONDS")
	}()

	cfg, err := Load()
	assert.NilError(t, err)
	assert.Equal(t, "test_key", cfg.APIKey)
	assert.Equal(t, true, cfg.ObserverMode)
	assert.Equal(t, true, cfg.FinishTransactions)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout())
}

func TestYAMLOverridesEnv(t *testing.T) {
	file := filepath.Join(t.TempDir(), "purchases.yaml")
	err := os.WriteFile(file, []byte("base_url: https://override.example.com\nredis_db: 3\n"), 0o644)
	assert.NilError(t, err)

	os.Setenv("PURCHASES_API_KEY", "test_key")
	os.Setenv("PURCHASES_BASE_URL", "https://env.example.com")
	os.Setenv("PURCHASES_CONFIG_FILE", file)
	defer func() {
		os.Unsetenv("PURCHASES_API_KEY")
		os.Unsetenv("PURCHASES_BASE_URL")
		os.Unsetenv("PURCHASES_CONFIG_FILE")
	}()

	cfg, err := Load()
	assert.NilError(t, err)
	assert.Equal(t, "https://override.example.com", cfg.BaseURL)
	assert.Equal(t, 3, cfg.RedisDB)
}
