package llm

import (
	"context"
	"fmt"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	defaultOpenAIChatModel      = "gpt-4o-mini"
	defaultOpenAIEmbeddingModel = "text-embedding-3-small"
	openAIEmbeddingDimensions   = 1536
)

// openAIEmbeddingModels lists the native output length of the embedding
// models whose size is known up front.
var openAIEmbeddingModels = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIGenerator calls an OpenAI-compatible chat completions endpoint
// through langchaingo.
type OpenAIGenerator struct {
	llm         *openai.LLM
	model       string
	temperature float64
}

func NewOpenAIGenerator(apiKey, baseURL, model string, temperature float64) (*OpenAIGenerator, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai: %w", ErrNotConfigured)
	}
	if model == "" {
		model = defaultOpenAIChatModel
	}
	opts := []openai.Option{openai.WithToken(apiKey), openai.WithModel(model)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
	}
	return &OpenAIGenerator{llm: client, model: model, temperature: temperature}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, messages []Message) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		var role llms.ChatMessageType
		switch msg.Role {
		case RoleSystem:
			role = llms.ChatMessageTypeSystem
		case RoleAssistant:
			role = llms.ChatMessageTypeAI
		default:
			role = llms.ChatMessageTypeHuman
		}
		content = append(content, llms.TextParts(role, msg.Content))
	}

	resp, err := g.llm.GenerateContent(ctx, content, llms.WithTemperature(g.temperature))
	if err != nil {
		return "", fmt.Errorf("%w: openai completion failed: %v", ErrProvider, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: openai response had no choices", ErrProvider)
	}
	logUsage("openai", g.model, usageFromGenerationInfo(resp.Choices[0].GenerationInfo))
	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return "", fmt.Errorf("%w: openai returned an empty response", ErrProvider)
	}
	return text, nil
}

// NewOpenAIEmbedder returns an embedder backed by chromem's OpenAI-compatible
// embedding function. dims of 0 selects the model's native length. A dims
// that a known model cannot produce fails with ErrDimensionMismatch; for
// other models every response is checked against dims instead.
func NewOpenAIEmbedder(apiKey, baseURL, model string, dims int) (Embedder, error) {
	if model == "" {
		model = defaultOpenAIEmbeddingModel
	}
	if native, ok := openAIEmbeddingModels[model]; ok {
		if err := checkDimensions("openai", model, dims, native); err != nil {
			return nil, err
		}
		dims = native
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai embeddings: %w", ErrNotConfigured)
	}
	if dims <= 0 {
		dims = openAIEmbeddingDimensions
	}
	normalized := true
	fn := chromem.NewEmbeddingFuncOpenAICompat(baseURL, apiKey, model, &normalized)
	return EmbedFunc{
		Fn: func(ctx context.Context, text string) ([]float32, error) {
			vec, err := fn(ctx, text)
			if err != nil {
				return nil, fmt.Errorf("%w: openai embedding request failed: %v", ErrProvider, err)
			}
			if len(vec) != dims {
				return nil, fmt.Errorf("%w: openai model %s returned %d dimensions, want %d",
					ErrDimensionMismatch, model, len(vec), dims)
			}
			return vec, nil
		},
		Dims: dims,
	}, nil
}
