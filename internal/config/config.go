package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const DefaultSystemPrompt = "You are a friendly and attentive support assistant. " +
	"Answer briefly and to the point, in the user's language. " +
	"Use the conversation history and stay consistent with your earlier answers. " +
	"If you do not know something or lack context, say so honestly. " +
	"When system messages contain document fragments you may quote them verbatim and rely on them, " +
	"but do not claim access to any files beyond those fragments."

type Config struct {
	DatabaseURL string
	HTTPPort    string
	LogLevel    string

	GenerationProvider string
	EmbeddingProvider  string
	GeminiAPIKey       string
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	AnthropicAPIKey    string
	ChatModel          string
	EmbeddingModel     string
	Temperature        float64
	SystemPrompt       string

	Tokenizer        string
	MaxMessageTokens int
	MaxDailyTokens   int
	HistoryLimit     int
	HistoryWindow    int

	ChunkSize         int
	ChunkOverlap      int
	RetrievalK        int
	EmbeddingDim      int
	EmbedRate         float64
	EmbedCacheEntries int64

	ProviderTimeout  time.Duration
	ProviderAttempts int
	ProviderBackoff  time.Duration
	Workers          int
	IngestWorkers    int
}

var defaults = map[string]any{
	"DATABASE_URL":        "llm_bot.db",
	"HTTP_PORT":           "8080",
	"LOG_LEVEL":           "INFO",
	"GENERATION_PROVIDER": "gemini",
	"EMBEDDING_PROVIDER":  "gemini",
	"OPENAI_BASE_URL":     "https://api.openai.com/v1",
	"TEMPERATURE":         0.4,
	"SYSTEM_PROMPT":       DefaultSystemPrompt,
	"TOKENIZER":           "auto",
	"MAX_MESSAGE_TOKENS":  4000,
	"MAX_DAILY_TOKENS":    50000,
	"HISTORY_LIMIT":       30,
	"HISTORY_WINDOW":      30,
	"CHUNK_SIZE":          800,
	"CHUNK_OVERLAP":       200,
	"RETRIEVAL_K":         3,
	"EMBEDDING_DIM":       0,
	"EMBED_RATE":          25.0,
	"EMBED_CACHE_ENTRIES": 10000,
	"PROVIDER_TIMEOUT":    "20s",
	"PROVIDER_ATTEMPTS":   3,
	"PROVIDER_BACKOFF":    "1s",
	"WORKERS":             8,
	"INGEST_WORKERS":      4,
}

// LoadConfig reads .env (when present) and the process environment.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, relying on environment variables")
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	cfg := Config{
		DatabaseURL: v.GetString("DATABASE_URL"),
		HTTPPort:    v.GetString("HTTP_PORT"),
		LogLevel:    strings.ToUpper(v.GetString("LOG_LEVEL")),

		GenerationProvider: strings.ToLower(v.GetString("GENERATION_PROVIDER")),
		EmbeddingProvider:  strings.ToLower(v.GetString("EMBEDDING_PROVIDER")),
		GeminiAPIKey:       v.GetString("GEMINI_API_KEY"),
		OpenAIAPIKey:       v.GetString("OPENAI_API_KEY"),
		OpenAIBaseURL:      v.GetString("OPENAI_BASE_URL"),
		AnthropicAPIKey:    v.GetString("ANTHROPIC_API_KEY"),
		ChatModel:          v.GetString("CHAT_MODEL"),
		EmbeddingModel:     v.GetString("EMBEDDING_MODEL"),
		Temperature:        v.GetFloat64("TEMPERATURE"),
		SystemPrompt:       v.GetString("SYSTEM_PROMPT"),

		Tokenizer:        v.GetString("TOKENIZER"),
		MaxMessageTokens: v.GetInt("MAX_MESSAGE_TOKENS"),
		MaxDailyTokens:   v.GetInt("MAX_DAILY_TOKENS"),
		HistoryLimit:     v.GetInt("HISTORY_LIMIT"),
		HistoryWindow:    v.GetInt("HISTORY_WINDOW"),

		ChunkSize:         v.GetInt("CHUNK_SIZE"),
		ChunkOverlap:      v.GetInt("CHUNK_OVERLAP"),
		RetrievalK:        v.GetInt("RETRIEVAL_K"),
		EmbeddingDim:      v.GetInt("EMBEDDING_DIM"),
		EmbedRate:         v.GetFloat64("EMBED_RATE"),
		EmbedCacheEntries: v.GetInt64("EMBED_CACHE_ENTRIES"),

		ProviderTimeout:  v.GetDuration("PROVIDER_TIMEOUT"),
		ProviderAttempts: v.GetInt("PROVIDER_ATTEMPTS"),
		ProviderBackoff:  v.GetDuration("PROVIDER_BACKOFF"),
		Workers:          v.GetInt("WORKERS"),
		IngestWorkers:    v.GetInt("INGEST_WORKERS"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot run with. Missing provider
// credentials are not an error here; the affected capability is disabled.
func (c Config) Validate() error {
	var errs []error
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize))
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d with CHUNK_SIZE %d", c.ChunkOverlap, c.ChunkSize))
	}
	if c.MaxMessageTokens <= 0 {
		errs = append(errs, fmt.Errorf("MAX_MESSAGE_TOKENS must be positive, got %d", c.MaxMessageTokens))
	}
	if c.MaxDailyTokens <= 0 {
		errs = append(errs, fmt.Errorf("MAX_DAILY_TOKENS must be positive, got %d", c.MaxDailyTokens))
	}
	if c.HistoryLimit <= 0 {
		errs = append(errs, fmt.Errorf("HISTORY_LIMIT must be positive, got %d", c.HistoryLimit))
	}
	if c.RetrievalK <= 0 {
		errs = append(errs, fmt.Errorf("RETRIEVAL_K must be positive, got %d", c.RetrievalK))
	}
	if c.EmbeddingDim < 0 {
		errs = append(errs, fmt.Errorf("EMBEDDING_DIM must not be negative, got %d", c.EmbeddingDim))
	}
	if c.ProviderAttempts <= 0 {
		errs = append(errs, fmt.Errorf("PROVIDER_ATTEMPTS must be positive, got %d", c.ProviderAttempts))
	}
	switch c.GenerationProvider {
	case "gemini", "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("unknown GENERATION_PROVIDER %q", c.GenerationProvider))
	}
	switch c.EmbeddingProvider {
	case "gemini", "openai", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown EMBEDDING_PROVIDER %q", c.EmbeddingProvider))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
