package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	defaultGeminiChatModel      = "gemini-1.5-flash-latest"
	defaultGeminiEmbeddingModel = "text-embedding-004"
	geminiEmbeddingDimensions   = 768
)

// GeminiClient serves both generation and embeddings from one genai client.
type GeminiClient struct {
	client         *genai.Client
	chatModel      string
	embeddingModel string
	temperature    float32
}

func NewGeminiClient(ctx context.Context, apiKey, chatModel, embeddingModel string, temperature float64) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini: %w", ErrNotConfigured)
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if chatModel == "" {
		chatModel = defaultGeminiChatModel
	}
	if embeddingModel == "" {
		embeddingModel = defaultGeminiEmbeddingModel
	}
	return &GeminiClient{
		client:         client,
		chatModel:      chatModel,
		embeddingModel: embeddingModel,
		temperature:    float32(temperature),
	}, nil
}

func (c *GeminiClient) Close() error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("closing GenAI client: %w", err)
	}
	slog.Debug("GenAI client closed")
	return nil
}

func (c *GeminiClient) Dimensions() int { return geminiEmbeddingDimensions }

func (c *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	em := c.client.EmbeddingModel(c.embeddingModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("%w: gemini embedding request failed: %v", ErrProvider, err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("%w: no embedding data received from gemini", ErrProvider)
	}
	return res.Embedding.Values, nil
}

// Generate maps system entries onto the model's system instruction and
// replays the remaining turns as chat history before sending the last user
// message.
func (c *GeminiClient) Generate(ctx context.Context, messages []Message) (string, error) {
	model := c.client.GenerativeModel(c.chatModel)
	model.SetTemperature(c.temperature)

	system, history := splitSystem(messages)
	if len(system) > 0 {
		parts := make([]genai.Part, 0, len(system))
		for _, s := range system {
			parts = append(parts, genai.Text(s))
		}
		model.SystemInstruction = &genai.Content{Parts: parts}
	}

	if len(history) == 0 {
		return "", fmt.Errorf("prompt history is empty for chat completion")
	}
	last := history[len(history)-1]
	if last.Role != RoleUser {
		return "", fmt.Errorf("last message in history is not from 'user', cannot proceed with chat completion")
	}

	chatSession := model.StartChat()
	for _, msg := range history[:len(history)-1] {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		chatSession.History = append(chatSession.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}

	resp, err := chatSession.SendMessage(ctx, genai.Text(last.Content))
	if err != nil {
		return "", fmt.Errorf("%w: gemini chat SendMessage failed: %v", ErrProvider, err)
	}
	if resp != nil && resp.UsageMetadata != nil {
		logUsage("gemini", c.chatModel, Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		})
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: gemini response had no candidates", ErrProvider)
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			responseText.WriteString(string(txt))
		} else {
			slog.Debug("gemini response part was not text", "type", fmt.Sprintf("%T", part))
		}
	}
	if responseText.Len() == 0 {
		return "", fmt.Errorf("%w: gemini returned an empty response", ErrProvider)
	}
	return responseText.String(), nil
}

// splitSystem separates system entries from the conversational turns,
// keeping both in their original order.
func splitSystem(messages []Message) ([]string, []Message) {
	var system []string
	history := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		history = append(history, msg)
	}
	return system, history
}
