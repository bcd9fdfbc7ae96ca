package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicModel     = "claude-3-5-haiku-latest"
	defaultAnthropicMaxTokens = 1024
)

// AnthropicGenerator calls the Anthropic Messages API.
type AnthropicGenerator struct {
	client      anthropic.Client
	model       string
	temperature float64
}

func NewAnthropicGenerator(apiKey, model string, temperature float64) (*AnthropicGenerator, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("anthropic: %w", ErrNotConfigured)
	}
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicGenerator{
		client:      anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:       model,
		temperature: temperature,
	}, nil
}

func (g *AnthropicGenerator) Generate(ctx context.Context, messages []Message) (string, error) {
	system, history := splitSystem(messages)

	params := make([]anthropic.MessageParam, 0, len(history))
	for _, msg := range history {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == RoleAssistant {
			params = append(params, anthropic.NewAssistantMessage(block))
		} else {
			params = append(params, anthropic.NewUserMessage(block))
		}
	}
	if len(params) == 0 {
		return "", fmt.Errorf("prompt history is empty for chat completion")
	}

	req := anthropic.MessageNewParams{
		Model:       anthropic.Model(g.model),
		MaxTokens:   defaultAnthropicMaxTokens,
		Messages:    params,
		Temperature: anthropic.Float(g.temperature),
	}
	for _, s := range system {
		req.System = append(req.System, anthropic.TextBlockParam{Text: s})
	}

	msg, err := g.client.Messages.New(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: anthropic: %v", ErrProvider, err)
	}
	logUsage("anthropic", g.model, Usage{
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
	})

	var reply strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			reply.WriteString(text.Text)
		}
	}
	out := strings.TrimSpace(reply.String())
	if out == "" {
		return "", fmt.Errorf("%w: anthropic returned an empty response", ErrProvider)
	}
	return out, nil
}
