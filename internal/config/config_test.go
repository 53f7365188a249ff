package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 5, cfg.Retrieval.MaxIterations)
	assert.Equal(t, BackendFlat, cfg.Retrieval.Backend)
	assert.Equal(t, 120*time.Second, cfg.Model.Timeout)
	assert.Equal(t, "patches", cfg.Patches.Dir)
}

func TestValidateMissingKey(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "OpenAI API key not found")

	cfg.OpenAI.APIKey = "sk-test"
	require.NoError(t, cfg.Validate())
}

func TestValidateBackend(t *testing.T) {
	cfg := Default()
	cfg.OpenAI.APIKey = "k"
	cfg.Retrieval.Backend = BackendWeaviate
	require.ErrorIs(t, cfg.Validate(), ErrConfiguration)

	cfg.Retrieval.Weaviate.URL = "http://localhost:8080"
	require.NoError(t, cfg.Validate())

	cfg.Retrieval.Backend = "faiss"
	require.ErrorIs(t, cfg.Validate(), ErrConfiguration)
}

func TestValidateMatcher(t *testing.T) {
	cfg := Default()
	cfg.OpenAI.APIKey = "k"
	cfg.Patches.Matcher = "basename"
	require.NoError(t, cfg.Validate())

	cfg.Patches.Matcher = "fuzzy"
	require.ErrorIs(t, cfg.Validate(), ErrConfiguration)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := applyEnv(&cfg, envMap(map[string]string{
		"OPENAI_API_KEY":          "sk-env",
		"MISTBORN_MODEL":          "gpt-4o-mini",
		"MISTBORN_MAX_ITERATIONS": "2",
		"MISTBORN_MODEL_TIMEOUT":  "5s",
		"MISTBORN_DEBUG":          "true",
	}))
	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.OpenAI.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.Model.Chat)
	assert.Equal(t, 2, cfg.Retrieval.MaxIterations)
	assert.Equal(t, 5*time.Second, cfg.Model.Timeout)
	assert.True(t, cfg.Debug)
}

func TestApplyEnvInvalid(t *testing.T) {
	cfg := Default()
	err := applyEnv(&cfg, envMap(map[string]string{"MISTBORN_MAX_ITERATIONS": "many"}))
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mistborn.yaml")
	yml := `
model:
  chat: gpt-4.1
  timeout: 30s
retrieval:
  backend: weaviate
  top_k: 3
  weaviate:
    url: http://weaviate:8080
patches:
  dir: out
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", cfg.Model.Chat)
	assert.Equal(t, 30*time.Second, cfg.Model.Timeout)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, BackendWeaviate, cfg.Retrieval.Backend)
	assert.Equal(t, "out", cfg.Patches.Dir)
	// untouched keys keep their defaults
	assert.Equal(t, "text-embedding-3-large", cfg.Model.Embedding)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
