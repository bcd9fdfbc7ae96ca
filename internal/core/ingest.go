package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/olgkv/llm-telegram-bot/internal/llm"
	"github.com/olgkv/llm-telegram-bot/internal/store"
	"github.com/olgkv/llm-telegram-bot/internal/utils"
)

var ErrInvalidChunking = errors.New("chunk size must be greater than overlap and overlap must not be negative")

// SplitText cuts text into overlapping windows of chunkSize characters,
// advancing by chunkSize-overlap. Chunks are trimmed and blank ones dropped.
func SplitText(text string, chunkSize, overlap int) ([]string, error) {
	if chunkSize <= overlap || overlap < 0 {
		return nil, ErrInvalidChunking
	}
	runes := []rune(text)
	step := chunkSize - overlap

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := min(start+chunkSize, len(runes))
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

// IngestResult summarises one ingested document.
type IngestResult struct {
	Document  store.Document `json:"document"`
	RawChunks int            `json:"raw_chunks"`
	Saved     int            `json:"saved_chunks"`
}

type IngestOptions struct {
	ChunkSize    int
	ChunkOverlap int
	EmbeddingDim int
	Workers      int
	// EmbedRate caps embedding requests per second; 0 disables pacing.
	EmbedRate float64
}

type IngestService struct {
	dbStore  *store.SQLiteStore
	embedder llm.Embedder
	opts     IngestOptions
	limiter  *rate.Limiter
}

// NewIngestService returns an ingestion service. embedder may be nil, in
// which case documents are stored without chunks.
func NewIngestService(db *store.SQLiteStore, embedder llm.Embedder, opts IngestOptions) *IngestService {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.EmbedRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.EmbedRate), 1)
	}
	return &IngestService{
		dbStore:  db,
		embedder: embedder,
		opts:     opts,
		limiter:  limiter,
	}
}

// Ingest splits text, embeds every chunk and stores the document together
// with the chunks whose embedding succeeded. The document is stored even
// when no chunk survives.
func (s *IngestService) Ingest(ctx context.Context, title, source, text string) (*IngestResult, error) {
	slog.Info("starting ingestion", "title", title, "source", source, "chars", len([]rune(text)))

	pieces, err := SplitText(text, s.opts.ChunkSize, s.opts.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	chunks, err := s.embedChunks(ctx, pieces)
	if err != nil {
		return nil, err
	}

	doc := store.Document{Title: title}
	if source != "" {
		doc.Source = &source
	}
	if err := s.dbStore.CreateDocument(ctx, &doc, chunks); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	slog.Info("finished ingestion", "document", doc.ID, "raw_chunks", len(pieces), "saved_chunks", len(chunks))
	return &IngestResult{Document: doc, RawChunks: len(pieces), Saved: len(chunks)}, nil
}

// embedChunks embeds pieces concurrently and returns the chunks that got a
// vector of the expected dimension, in split order.
func (s *IngestService) embedChunks(ctx context.Context, pieces []string) ([]store.Chunk, error) {
	if s.embedder == nil {
		slog.Warn("no embedder configured, storing document without chunks")
		return nil, nil
	}

	embeddings := make([][]float32, len(pieces))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, piece := range pieces {
		g.Go(func() error {
			if err := s.limiter.Wait(gctx); err != nil {
				return err
			}
			vec, err := s.embedder.Embed(gctx, piece)
			if err != nil {
				slog.Warn("skipping chunk, embedding failed", "chunk_index", i, "err", err)
				return nil
			}
			if len(vec) != s.opts.EmbeddingDim {
				slog.Warn("skipping chunk, unexpected embedding dimension", "chunk_index", i, "got", len(vec), "want", s.opts.EmbeddingDim)
				return nil
			}
			embeddings[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("ingestion interrupted: %w", err)
	}

	chunks := make([]store.Chunk, 0, len(pieces))
	for i, vec := range embeddings {
		if vec == nil {
			continue
		}
		chunks = append(chunks, store.Chunk{ChunkIndex: i, Text: pieces[i], Embedding: vec})
	}
	return chunks, nil
}

// IngestFile loads a text or markdown file and ingests it. An empty title
// defaults to the file's base name.
func (s *IngestService) IngestFile(ctx context.Context, path, title string) (*IngestResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	text := string(raw)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		text = utils.MarkdownToText(raw)
	}
	if title == "" {
		title = filepath.Base(path)
	}
	return s.Ingest(ctx, title, path, text)
}

func (s *IngestService) ListDocuments(ctx context.Context) ([]store.Document, error) {
	return s.dbStore.ListDocuments(ctx)
}

// DeleteDocument removes a document and its chunks. It reports false when
// the document does not exist.
func (s *IngestService) DeleteDocument(ctx context.Context, id int64) (bool, error) {
	return s.dbStore.DeleteDocument(ctx, id)
}
