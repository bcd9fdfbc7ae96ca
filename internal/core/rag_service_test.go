package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olgkv/llm-telegram-bot/internal/store"
)

type staticChunks struct {
	chunks []store.Chunk
	err    error
}

func (s staticChunks) ListChunks(ctx context.Context) ([]store.Chunk, error) {
	return s.chunks, s.err
}

func TestRetrieveOrdersByDistance(t *testing.T) {
	chunks := staticChunks{chunks: []store.Chunk{
		{ID: 1, Text: "one", Embedding: []float32{0.5}},
		{ID: 2, Text: "two", Embedding: []float32{0.1}},
		{ID: 3, Text: "three", Embedding: []float32{0.9}},
	}}
	embedder := &vectorEmbedder{dims: 1, vectors: map[string][]float32{"query": {0}}}

	got, err := NewRetriever(chunks, embedder, 3).Retrieve(context.Background(), "query", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.EqualValues(t, 2, got[0].Chunk.ID)
	assert.EqualValues(t, 1, got[1].Chunk.ID)
	assert.InDelta(t, 0.1, got[0].Distance, 1e-6)
}

func TestRetrieveBreaksTiesByID(t *testing.T) {
	chunks := staticChunks{chunks: []store.Chunk{
		{ID: 9, Embedding: []float32{1, 0}},
		{ID: 4, Embedding: []float32{0, 1}},
		{ID: 6, Embedding: []float32{1, 0}},
	}}
	embedder := &vectorEmbedder{dims: 2, vectors: map[string][]float32{"q": {0, 0}}}

	got, err := NewRetriever(chunks, embedder, 0).Retrieve(context.Background(), "q", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.EqualValues(t, 4, got[0].Chunk.ID)
	assert.EqualValues(t, 6, got[1].Chunk.ID)
	assert.EqualValues(t, 9, got[2].Chunk.ID)
}

func TestRetrieveDegradesWithoutEmbeddings(t *testing.T) {
	chunks := staticChunks{chunks: []store.Chunk{{ID: 1, Embedding: []float32{1}}}}

	got, err := NewRetriever(chunks, nil, 3).Retrieve(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	failing := &vectorEmbedder{dims: 1}
	got, err = NewRetriever(chunks, failing, 3).Retrieve(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetrieveStoreError(t *testing.T) {
	embedder := &vectorEmbedder{dims: 1, vectors: map[string][]float32{"q": {0}}}
	_, err := NewRetriever(staticChunks{err: errors.New("locked")}, embedder, 3).Retrieve(context.Background(), "q", 0)
	assert.Error(t, err)
}

func TestRetrieveSkipsMismatchedDimensions(t *testing.T) {
	chunks := staticChunks{chunks: []store.Chunk{
		{ID: 1, Embedding: []float32{1, 2, 3}},
		{ID: 2, Embedding: []float32{1}},
	}}
	embedder := &vectorEmbedder{dims: 1, vectors: map[string][]float32{"q": {0}}}

	got, err := NewRetriever(chunks, embedder, 3).Retrieve(context.Background(), "q", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.EqualValues(t, 2, got[0].Chunk.ID)
}
