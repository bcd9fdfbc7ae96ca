package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetOrCreateUserIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.GetOrCreateUser(ctx, UserProfile{ExternalID: 123, Username: "testuser", FirstName: "Test"})
	require.NoError(t, err)
	second, err := s.GetOrCreateUser(ctx, UserProfile{ExternalID: 123, Username: "renamed"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	require.NotNil(t, second.Username)
	assert.Equal(t, "testuser", *second.Username)
	assert.Nil(t, second.LastName)

	missing, err := s.GetUserByExternalID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAppendTurnTrimsOldest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	user, err := s.GetOrCreateUser(ctx, UserProfile{ExternalID: 1})
	require.NoError(t, err)

	base := time.Now().UTC()
	for i := 0; i < 8; i++ {
		turn := &Turn{
			UserID:     user.ID,
			Role:       RoleUser,
			Content:    fmt.Sprintf("msg-%d", i),
			TokenCount: 2,
			CreatedAt:  base.Add(time.Duration(i) * time.Millisecond),
		}
		evicted, err := s.AppendTurn(ctx, turn, 5)
		require.NoError(t, err)
		assert.NotZero(t, turn.ID)
		if i < 5 {
			assert.Zero(t, evicted)
		} else {
			assert.EqualValues(t, 1, evicted)
		}
	}

	turns, err := s.ListTurns(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, turns, 5)
	for i, turn := range turns {
		assert.Equal(t, fmt.Sprintf("msg-%d", i+3), turn.Content)
		assert.Equal(t, RoleUser, turn.Role)
		assert.Equal(t, 2, turn.TokenCount)
	}
}

func TestAppendTurnRejectsNonPositiveRetention(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AppendTurn(context.Background(), &Turn{UserID: 1, Role: RoleUser, Content: "x"}, 0)
	require.Error(t, err)
}

func TestDailyUsageCountsOnlyWindow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	user, err := s.GetOrCreateUser(ctx, UserProfile{ExternalID: 7})
	require.NoError(t, err)

	dayStart := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	stamps := []time.Time{
		dayStart.Add(-time.Second), // yesterday
		dayStart,                   // first instant of today
		dayStart.Add(13*time.Hour + 1500*time.Microsecond),
		dayStart.Add(24 * time.Hour), // tomorrow
	}
	for i, at := range stamps {
		_, err := s.AppendTurn(ctx, &Turn{UserID: user.ID, Role: RoleUser, Content: "x", TokenCount: 10 * (i + 1), CreatedAt: at}, 30)
		require.NoError(t, err)
	}

	usage, err := s.DailyUsage(ctx, user.ID, dayStart, dayStart.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, DailyUsage{Turns: 2, Tokens: 20 + 30}, usage)
}

func TestDeleteTurnsLeavesOtherUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	alice, err := s.GetOrCreateUser(ctx, UserProfile{ExternalID: 1})
	require.NoError(t, err)
	bob, err := s.GetOrCreateUser(ctx, UserProfile{ExternalID: 2})
	require.NoError(t, err)

	for _, id := range []int64{alice.ID, alice.ID, bob.ID} {
		_, err := s.AppendTurn(ctx, &Turn{UserID: id, Role: RoleUser, Content: "hi", TokenCount: 1}, 30)
		require.NoError(t, err)
	}

	deleted, err := s.DeleteTurns(ctx, alice.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	aliceTurns, err := s.ListTurns(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, aliceTurns)
	bobTurns, err := s.ListTurns(ctx, bob.ID)
	require.NoError(t, err)
	assert.Len(t, bobTurns, 1)
}

func TestCreateDocumentWithChunksAndCascade(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	source := "notes.txt"
	doc := &Document{Title: "Notes", Source: &source}
	chunks := []Chunk{
		{ChunkIndex: 0, Text: "alpha", Embedding: []float32{0.1, 0.2}},
		{ChunkIndex: 2, Text: "gamma", Embedding: []float32{0.3, 0.4}},
	}
	require.NoError(t, s.CreateDocument(ctx, doc, chunks))
	assert.NotZero(t, doc.ID)
	assert.Equal(t, 2, doc.ChunkCount)

	empty := &Document{Title: "Empty"}
	require.NoError(t, s.CreateDocument(ctx, empty, nil))

	stored, err := s.ListChunksByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, []int{0, 2}, []int{stored[0].ChunkIndex, stored[1].ChunkIndex})
	assert.Equal(t, []float32{0.3, 0.4}, stored[1].Embedding)

	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	counts := map[string]int{}
	for _, d := range docs {
		counts[d.Title] = d.ChunkCount
	}
	assert.Equal(t, map[string]int{"Notes": 2, "Empty": 0}, counts)

	existed, err := s.DeleteDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, existed)

	all, err := s.ListChunks(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	existed, err = s.DeleteDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, existed)
}
