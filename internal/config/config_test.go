package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagesage/pagesage/internal/apperrors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "/api/v1", cfg.HTTP.APIPrefix)
	assert.Equal(t, "memory", cfg.Vector.Backend)
	assert.Equal(t, 1536, cfg.Vector.Dimension)
	assert.True(t, cfg.Cache.Enabled)
	assert.True(t, cfg.LLM.AllowHashFallback)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pagesage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  port: 9090
vector:
  backend: qdrant
  dimension: 768
llm:
  default_provider: anthropic
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "qdrant", cfg.Vector.Backend)
	assert.Equal(t, 768, cfg.Vector.Dimension)
	assert.Equal(t, "anthropic", cfg.LLM.DefaultProvider)
	// Untouched keys keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.HTTP.Host)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("HTTP_PORT", "7070")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.HTTP.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestProviderKeysFromEnvironmentOnly(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-openai")
	t.Setenv("GEMINI_API_KEY", "test-gemini")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-test-openai", cfg.LLM.OpenAIKey)
	assert.Equal(t, "test-gemini", cfg.LLM.GoogleKey)
	assert.Empty(t, cfg.LLM.AnthropicKey)
}

func TestGoogleKeyPrefersCanonicalName(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "canonical")
	t.Setenv("GEMINI_API_KEY", "legacy")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "canonical", cfg.LLM.GoogleKey)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.HTTP.Port = 0
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(cfg.Validate()))

	cfg = base()
	cfg.Vector.Backend = "pinecone"
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(cfg.Validate()))

	cfg = base()
	cfg.Vector.Dimension = 0
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(cfg.Validate()))

	cfg = base()
	cfg.LLM.DefaultTemperature = 3
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(cfg.Validate()))
}

func TestActiveProviders(t *testing.T) {
	cfg := &Config{}
	cfg.LLM.OpenAIKey = "a"
	cfg.LLM.AnthropicKey = "b"
	cfg.LLM.GoogleKey = "c"

	assert.Equal(t, []string{"openai", "anthropic", "gemini"}, cfg.ActiveProviders())

	cfg.LLM.DefaultProvider = "gemini"
	assert.Equal(t, []string{"gemini", "openai", "anthropic"}, cfg.ActiveProviders())

	cfg.LLM.AnthropicKey = ""
	assert.Equal(t, []string{"gemini", "openai"}, cfg.ActiveProviders())
}
