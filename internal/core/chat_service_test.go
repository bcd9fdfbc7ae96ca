package core

import (
	"bytes"
	"context"
	"log/slog"
	"regexp"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olgkv/llm-telegram-bot/internal/llm"
	"github.com/olgkv/llm-telegram-bot/internal/store"
)

type chatFixture struct {
	db        *store.SQLiteStore
	chat      *ChatService
	generator *fakeGenerator
}

func newChatFixture(t *testing.T, maxDailyTokens int, embedder llm.Embedder) *chatFixture {
	t.Helper()
	db := newTestStore(t)
	history := newTestHistory(t, db, 30, 4000, maxDailyTokens)
	gen := &fakeGenerator{reply: "ok"}
	chat := NewChatService(history, NewRetriever(db, embedder, 3), gen, NewDispatcher(2), ChatOptions{
		SystemPrompt:  "system prompt",
		HistoryWindow: 30,
	})
	return &chatFixture{db: db, chat: chat, generator: gen}
}

func TestChatStartRecordsGreeting(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t, 50000, nil)

	reply, err := f.chat.Start(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, GreetingText, reply)

	user, err := f.db.GetUserByExternalID(ctx, alice.ExternalID)
	require.NoError(t, err)
	require.NotNil(t, user)
	require.NotNil(t, user.Username)
	assert.Equal(t, "alice", *user.Username)

	history, err := f.chat.History(ctx, alice)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, store.RoleUser, history[0].Role)
	assert.Equal(t, StartCommand, history[0].Content)
	assert.Equal(t, store.RoleAssistant, history[1].Role)
	assert.Equal(t, GreetingText, history[1].Content)

	_, err = f.chat.Start(ctx, alice)
	require.NoError(t, err)
	again, err := f.db.GetUserByExternalID(ctx, alice.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)
}

func TestChatReplyUsesHistoryAndKnowledge(t *testing.T) {
	ctx := context.Background()
	embedder := &vectorEmbedder{dims: 1, vectors: map[string][]float32{
		"reset steps":        {0.2},
		"how do I reset it?": {0},
	}}
	f := newChatFixture(t, 50000, embedder)
	ingest := NewIngestService(f.db, embedder, IngestOptions{ChunkSize: 800, EmbeddingDim: 1, Workers: 1})
	_, err := ingest.Ingest(ctx, "kb", "", "reset steps")
	require.NoError(t, err)

	_, err = f.chat.Start(ctx, alice)
	require.NoError(t, err)
	reply, err := f.chat.Reply(ctx, alice, "how do I reset it?")
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)

	require.Equal(t, 1, f.generator.Calls())
	sent := f.generator.messages[0]
	require.Len(t, sent, 5)
	assert.Equal(t, "system prompt", sent[0].Content)
	assert.Equal(t, llm.RoleSystem, sent[1].Role)
	assert.True(t, strings.HasSuffix(sent[1].Content, "reset steps"))
	assert.Equal(t, StartCommand, sent[2].Content)
	assert.Equal(t, "how do I reset it?", sent[4].Content)

	history, err := f.chat.History(ctx, alice)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "ok", history[3].Content)
}

func TestChatReplyQuotaExceededSkipsGeneration(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t, 100, nil)
	long := strings.Repeat("a", 200)

	reply, err := f.chat.Reply(ctx, alice, long)
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)

	reply, err = f.chat.Reply(ctx, alice, long)
	require.NoError(t, err)
	assert.Equal(t, QuotaExceededText, reply)
	assert.Equal(t, 1, f.generator.Calls())

	history, err := f.chat.History(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestChatReplyTooLarge(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t, 50000, nil)

	reply, err := f.chat.Reply(ctx, alice, strings.Repeat("a", 16004))
	require.NoError(t, err)
	assert.Equal(t, MessageTooLargeText, reply)
	assert.Zero(t, f.generator.Calls())
}

func TestChatReplyGenerationFailure(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t, 50000, nil)
	f.generator.err = llm.ErrProvider
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	reply, err := f.chat.Reply(ctx, alice, "hello")
	require.NoError(t, err)
	assert.Equal(t, ApologyText, reply)

	m := regexp.MustCompile(`msg="generation failed".*job_id=([0-9a-f-]{36})`).FindStringSubmatch(logs.String())
	require.Len(t, m, 2, logs.String())
	_, err = uuid.Parse(m[1])
	assert.NoError(t, err)

	history, err := f.chat.History(ctx, alice)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Content)
}

func TestChatReplyWithoutGenerator(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	history := newTestHistory(t, db, 30, 4000, 50000)
	chat := NewChatService(history, NewRetriever(db, nil, 3), nil, NewDispatcher(1), ChatOptions{SystemPrompt: "sys"})

	reply, err := chat.Reply(ctx, alice, "hello")
	require.NoError(t, err)
	assert.Equal(t, NotConfiguredText, reply)
}

func TestChatReplyEmptyText(t *testing.T) {
	f := newChatFixture(t, 50000, nil)

	reply, err := f.chat.Reply(context.Background(), alice, "   ")
	require.NoError(t, err)
	assert.Equal(t, TextOnlyText, reply)
	assert.Zero(t, f.generator.Calls())
}

func TestChatClearAndStats(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t, 50000, nil)

	_, err := f.chat.Reply(ctx, alice, "12345678")
	require.NoError(t, err)

	st, err := f.chat.Stats(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, Stats{TurnsToday: 2, TokensToday: 3, DailyCap: 50000}, st)
	assert.Contains(t, FormatStats(st), "Tokens used: 3")

	notice, err := f.chat.Clear(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, ClearedText, notice)

	history, err := f.chat.History(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, history)
}
