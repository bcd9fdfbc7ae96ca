package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.MaxMessageTokens)
	assert.Equal(t, 50000, cfg.MaxDailyTokens)
	assert.Equal(t, 30, cfg.HistoryLimit)
	assert.Equal(t, 800, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, 3, cfg.RetrievalK)
	assert.Equal(t, 20*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 3, cfg.ProviderAttempts)
	assert.Equal(t, "gemini", cfg.GenerationProvider)
	assert.Equal(t, "auto", cfg.Tokenizer)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MAX_DAILY_TOKENS", "1000")
	t.Setenv("HISTORY_LIMIT", "5")
	t.Setenv("GENERATION_PROVIDER", "OpenAI")
	t.Setenv("PROVIDER_BACKOFF", "250ms")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.MaxDailyTokens)
	assert.Equal(t, 5, cfg.HistoryLimit)
	assert.Equal(t, "openai", cfg.GenerationProvider)
	assert.Equal(t, 250*time.Millisecond, cfg.ProviderBackoff)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadConfigRejectsNonAdvancingWindow(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CHUNK_SIZE", "200")
	t.Setenv("CHUNK_OVERLAP", "200")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHUNK_OVERLAP")
}

func TestValidateUnknownProvider(t *testing.T) {
	cfg := Config{
		ChunkSize:          10,
		ChunkOverlap:       2,
		MaxMessageTokens:   1,
		MaxDailyTokens:     1,
		HistoryLimit:       1,
		RetrievalK:         1,
		ProviderAttempts:   1,
		GenerationProvider: "mistral",
		EmbeddingProvider:  "none",
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistral")
}
