package core

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/olgkv/llm-telegram-bot/internal/llm"
	"github.com/olgkv/llm-telegram-bot/internal/store"
	"github.com/olgkv/llm-telegram-bot/internal/utils"
)

// DefaultRetrievalK is the number of chunks returned when the caller does not
// ask for a specific amount.
const DefaultRetrievalK = 3

// ChunkReader lists every stored chunk with its embedding.
type ChunkReader interface {
	ListChunks(ctx context.Context) ([]store.Chunk, error)
}

type ScoredChunk struct {
	Chunk    store.Chunk `json:"chunk"`
	Distance float64     `json:"distance"`
}

// Retriever ranks stored chunks by L2 distance to the query embedding with
// an exact linear scan.
type Retriever struct {
	chunks   ChunkReader
	embedder llm.Embedder
	k        int
}

// NewRetriever returns a retriever. A nil embedder disables retrieval.
func NewRetriever(chunks ChunkReader, embedder llm.Embedder, k int) *Retriever {
	if k <= 0 {
		k = DefaultRetrievalK
	}
	return &Retriever{chunks: chunks, embedder: embedder, k: k}
}

// Retrieve returns up to k chunks closest to query, nearest first, ties
// broken by chunk id. Retrieval degrades to no results when embeddings are
// unavailable; the error return is reserved for store failures.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		k = r.k
	}
	if r.embedder == nil {
		return nil, nil
	}

	queryEmbedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("failed to embed query, continuing without context", "err", err)
		return nil, nil
	}
	if len(queryEmbedding) == 0 {
		return nil, nil
	}

	chunks, err := r.chunks.ListChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}

	scored := make([]ScoredChunk, 0, len(chunks))
	for _, chunk := range chunks {
		distance, err := utils.L2Distance(queryEmbedding, chunk.Embedding)
		if err != nil {
			slog.Debug("skipping chunk", "chunk", chunk.ID, "err", err)
			continue
		}
		scored = append(scored, ScoredChunk{Chunk: chunk, Distance: distance})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Distance != scored[j].Distance {
			return scored[i].Distance < scored[j].Distance
		}
		return scored[i].Chunk.ID < scored[j].Chunk.ID
	})
	if len(scored) > k {
		scored = scored[:k]
	}

	slog.Debug("retrieved chunks", "count", len(scored), "candidates", len(chunks))
	return scored, nil
}
