// Package llm holds the text-generation and embedding providers.
//
// Provider clients are built once at process start and handed to the
// services that need them. A provider without credentials is reported with
// ErrNotConfigured at construction time; callers run without that capability
// instead of failing at request time.
package llm

import (
	"context"
	"errors"
	"fmt"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrNotConfigured reports a capability whose credentials are missing.
	ErrNotConfigured = errors.New("llm: capability not configured")
	// ErrProvider wraps every failed generation or embedding call.
	ErrProvider = errors.New("llm: provider call failed")
	// ErrDimensionMismatch reports an EMBEDDING_DIM the embedding model
	// cannot produce.
	ErrDimensionMismatch = errors.New("llm: embedding dimension mismatch")
)

// Message is one entry of a generation request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator produces the assistant reply for an ordered list of messages.
type Generator interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// Embedder converts text to a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// EmbedFunc adapts a plain embedding function to Embedder.
type EmbedFunc struct {
	Fn   func(ctx context.Context, text string) ([]float32, error)
	Dims int
}

func (f EmbedFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.Fn(ctx, text)
}

func (f EmbedFunc) Dimensions() int { return f.Dims }

// checkDimensions rejects a configured vector length that differs from what
// the model returns. configured of 0 accepts the model's native length.
func checkDimensions(provider, model string, configured, native int) error {
	if configured == 0 || configured == native {
		return nil
	}
	return fmt.Errorf("%w: EMBEDDING_DIM=%d but %s model %s returns %d-dimensional vectors",
		ErrDimensionMismatch, configured, provider, model, native)
}
