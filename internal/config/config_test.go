package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLMProvider)
	assert.Equal(t, 1536, cfg.EmbeddingDimension)
	assert.Equal(t, 2000, cfg.ChunkSize)
	assert.Equal(t, 20, cfg.TopK)
	assert.InDelta(t, 0.5, cfg.SimilarityThreshold, 1e-6)
	assert.False(t, cfg.KeepNearest)
	assert.Equal(t, 1000, cfg.SummarizeWordLimit)
	assert.InDelta(t, 0.2, cfg.Temperature, 1e-6)
	assert.Equal(t, 600, cfg.MaxTokens)
	assert.Equal(t, 10, cfg.CompletionRate)
	assert.Equal(t, time.Second, cfg.CompletionPeriod)
	assert.Equal(t, []string{".py", ".txt", ".md"}, cfg.AllowedExtensions)
	assert.Equal(t, []string{"README.md", "setup.py", "requirements.txt"}, cfg.KeyFiles)
	assert.Equal(t, "cloned_repo", cfg.RepoDir)
}

func TestLoad_YAMLThenEnvironment(t *testing.T) {
	path := writeConfig(t, `
llm_provider: gemini
gemini_api_key: from-yaml
top_k: 5
chunk_size: 100
allowed_extensions: [py, ".go"]
completion_period: 2s
keep_nearest: true
`)
	t.Setenv("TOP_K", "7")
	t.Setenv("SIMILARITY_THRESHOLD", "1.5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.LLMProvider)
	assert.Equal(t, "from-yaml", cfg.GeminiAPIKey)
	assert.Equal(t, 7, cfg.TopK, "environment wins over the file")
	assert.Equal(t, 100, cfg.ChunkSize)
	assert.Equal(t, []string{".py", ".go"}, cfg.AllowedExtensions)
	assert.Equal(t, 2*time.Second, cfg.CompletionPeriod)
	assert.True(t, cfg.KeepNearest)
	assert.InDelta(t, 1.5, cfg.SimilarityThreshold, 1e-6)
}

func TestLoad_ListFromEnvironment(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ALLOWED_EXTENSIONS", "md, rst ,.py")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{".md", ".rst", ".py"}, cfg.AllowedExtensions)
}

func TestLoad_ValidationError(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "OPENAI_API_KEY")
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeConfig(t, "top_k: [unterminated")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Default()
		c.OpenAIAPIKey = "sk-test"
		return c
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.LLMProvider = "anthropic" }},
		{"gemini without key", func(c *Config) { c.LLMProvider = "gemini" }},
		{"unknown clone backend", func(c *Config) { c.CloneBackend = "svn" }},
		{"unknown conversation backend", func(c *Config) { c.ConversationBackend = "redis" }},
		{"zero dimension", func(c *Config) { c.EmbeddingDimension = 0 }},
		{"zero chunk size", func(c *Config) { c.ChunkSize = 0 }},
		{"zero top k", func(c *Config) { c.TopK = 0 }},
		{"zero completion rate", func(c *Config) { c.CompletionRate = 0 }},
		{"zero embedding period", func(c *Config) { c.EmbeddingPeriod = 0 }},
		{"no index file", func(c *Config) { c.IndexFile = "" }},
		{"no extensions", func(c *Config) { c.AllowedExtensions = nil }},
	}

	c := valid()
	require.NoError(t, c.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
