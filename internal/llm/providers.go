package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/olgkv/llm-telegram-bot/internal/config"
)

// Providers is the set of provider capabilities available to the process.
// Generator and Embedder are nil when their credentials are missing.
type Providers struct {
	Generator Generator
	Embedder  Embedder
	// EmbeddingDim is the vector length every stored chunk must have.
	EmbeddingDim int

	closers []func() error
}

// NewProviders builds the configured generator and embedder, each wrapped
// with retries. A missing credential is logged once and leaves the
// capability nil; any other construction failure is returned, including an
// EMBEDDING_DIM the embedding model cannot produce.
func NewProviders(ctx context.Context, cfg config.Config) (*Providers, error) {
	p := &Providers{}
	policy := RetryPolicy{
		Attempts: cfg.ProviderAttempts,
		Timeout:  cfg.ProviderTimeout,
		Backoff:  cfg.ProviderBackoff,
	}

	var gemini *GeminiClient
	geminiClient := func() (*GeminiClient, error) {
		if gemini != nil {
			return gemini, nil
		}
		c, err := NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.ChatModel, cfg.EmbeddingModel, cfg.Temperature)
		if err != nil {
			return nil, err
		}
		gemini = c
		p.closers = append(p.closers, c.Close)
		return c, nil
	}

	var (
		gen Generator
		err error
	)
	switch cfg.GenerationProvider {
	case "gemini":
		gen, err = geminiClient()
	case "openai":
		gen, err = NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.ChatModel, cfg.Temperature)
	case "anthropic":
		gen, err = NewAnthropicGenerator(cfg.AnthropicAPIKey, cfg.ChatModel, cfg.Temperature)
	default:
		err = fmt.Errorf("unknown generation provider %q", cfg.GenerationProvider)
	}
	switch {
	case errors.Is(err, ErrNotConfigured):
		slog.Warn("generation disabled", "provider", cfg.GenerationProvider, "err", err)
	case err != nil:
		p.Close()
		return nil, err
	default:
		p.Generator = WithRetry(gen, policy)
	}

	var emb Embedder
	err = nil
	switch cfg.EmbeddingProvider {
	case "gemini":
		model := cfg.EmbeddingModel
		if model == "" {
			model = defaultGeminiEmbeddingModel
		}
		err = checkDimensions("gemini", model, cfg.EmbeddingDim, geminiEmbeddingDimensions)
		if err == nil {
			emb, err = geminiClient()
		}
	case "openai":
		emb, err = NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbeddingModel, cfg.EmbeddingDim)
	case "none":
		err = fmt.Errorf("embeddings: %w", ErrNotConfigured)
	default:
		err = fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}
	switch {
	case errors.Is(err, ErrNotConfigured):
		slog.Warn("retrieval disabled", "provider", cfg.EmbeddingProvider, "err", err)
	case err != nil:
		p.Close()
		return nil, err
	default:
		p.EmbeddingDim = emb.Dimensions()
		p.Embedder = WithEmbedRetry(emb, policy)
	}

	return p, nil
}

// ChatModel returns the model name the configured generation provider
// sends requests to.
func ChatModel(cfg config.Config) string {
	if cfg.ChatModel != "" {
		return cfg.ChatModel
	}
	switch cfg.GenerationProvider {
	case "openai":
		return defaultOpenAIChatModel
	case "anthropic":
		return defaultAnthropicModel
	default:
		return defaultGeminiChatModel
	}
}

// Close releases provider clients. It is safe to call more than once.
func (p *Providers) Close() {
	for _, c := range p.closers {
		if err := c(); err != nil {
			slog.Error("closing provider", "err", err)
		}
	}
	p.closers = nil
}
