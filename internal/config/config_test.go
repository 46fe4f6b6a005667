package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amalresearch/evalpipeline/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "./data", cfg.StorageRoot)
	assert.Equal(t, "./export", cfg.ExportRoot)
	assert.Equal(t, "./cache", cfg.CacheRoot)
	assert.Empty(t, cfg.AnthropicAPIKey)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("STORAGE_ROOT", "/tmp/store")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test", cfg.AnthropicAPIKey)
	assert.Equal(t, "/tmp/store", cfg.StorageRoot)
	assert.Equal(t, "./export", cfg.ExportRoot, "unset vars still fall back to envDefault")
}

func TestIsAnthropicModel(t *testing.T) {
	assert.True(t, config.IsAnthropicModel("claude-3-5-haiku-latest"))
	assert.True(t, config.IsAnthropicModel("claude-3-opus"))
	assert.False(t, config.IsAnthropicModel("gpt-4o"))
	assert.False(t, config.IsAnthropicModel("cl"))
}

func TestValidateAnthropicModel(t *testing.T) {
	var cfg config.Config
	err := cfg.Validate("claude-3-5-haiku-latest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")

	cfg.AnthropicAPIKey = "sk-ant-test"
	assert.NoError(t, cfg.Validate("claude-3-5-haiku-latest"))
}

func TestValidateOpenAIModel(t *testing.T) {
	var cfg config.Config
	err := cfg.Validate("gpt-4o")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")

	cfg.OpenAIAPIKey = "sk-test"
	assert.NoError(t, cfg.Validate("gpt-4o"))
}

func TestValidateIgnoresGoogleAPIKey(t *testing.T) {
	cfg := config.Config{GoogleAPIKey: "unused-legacy-value"}
	err := cfg.Validate("claude-3-5-haiku-latest")
	require.Error(t, err, "GOOGLE_API_KEY alone must not satisfy an Anthropic model's credential check")
}
