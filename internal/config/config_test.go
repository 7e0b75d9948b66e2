package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresAPIKey(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("ADMIN_PASSWORD", "hunter2")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("LLM_API_KEY_1", "key-1")
	t.Setenv("ADMIN_PASSWORD", "hunter2")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadCollectsNumberedAPIKeysAndDefaults(t *testing.T) {
	t.Setenv("LLM_API_KEY_1", "key-1")
	t.Setenv("LLM_API_KEY_2", "key-2")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("ADMIN_PASSWORD", "hunter2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"key-1", "key-2"}, cfg.LLMAPIKeys)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLMModel)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 10, cfg.MaxIterations)
	assert.Equal(t, "admin", cfg.AdminUsername)
}

func TestLoadHonorsOverrides(t *testing.T) {
	t.Setenv("LLM_API_KEY_1", "key-1")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("ADMIN_PASSWORD", "hunter2")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("MAX_ITERATIONS", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, 5, cfg.MaxIterations)
}
