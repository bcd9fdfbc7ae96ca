package core

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/olgkv/llm-telegram-bot/internal/llm"
	"github.com/olgkv/llm-telegram-bot/internal/store"
	"github.com/olgkv/llm-telegram-bot/internal/tokenizer"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestHistory(t *testing.T, db *store.SQLiteStore, limit, maxMessageTokens, maxDailyTokens int) *HistoryService {
	t.Helper()
	guard := NewTokenGuard(tokenizer.CharCounter{}, db, maxMessageTokens, maxDailyTokens)
	return NewHistoryService(db, guard, limit)
}

type fakeGenerator struct {
	mu       sync.Mutex
	calls    int
	messages [][]llm.Message
	reply    string
	err      error
}

func (g *fakeGenerator) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.messages = append(g.messages, messages)
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *fakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// vectorEmbedder maps known texts to fixed vectors.
type vectorEmbedder struct {
	vectors map[string][]float32
	dims    int
	calls   atomic.Int32
}

func (e *vectorEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return nil, llm.ErrProvider
}

func (e *vectorEmbedder) Dimensions() int { return e.dims }

var alice = store.UserProfile{ExternalID: 1001, Username: "alice", FirstName: "Alice"}
