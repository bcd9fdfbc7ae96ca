package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/olgkv/llm-telegram-bot/internal/store"
)

// Stats is a user's consumption for the current UTC day.
type Stats struct {
	TurnsToday  int `json:"turns_today"`
	TokensToday int `json:"tokens_today"`
	DailyCap    int `json:"daily_cap"`
}

// HistoryService keeps each user's conversation bounded to the newest limit
// turns. Appends for one user are serialized so that insert and trim never
// interleave with another append for the same user.
type HistoryService struct {
	dbStore *store.SQLiteStore
	guard   *TokenGuard
	limit   int
	locks   *keyedMutex
}

func NewHistoryService(db *store.SQLiteStore, guard *TokenGuard, limit int) *HistoryService {
	return &HistoryService{
		dbStore: db,
		guard:   guard,
		limit:   limit,
		locks:   newKeyedMutex(),
	}
}

// Append stores one turn when the token guard admits it. Empty content is
// accepted without being stored. Rejections are returned as decisions.
func (s *HistoryService) Append(ctx context.Context, profile store.UserProfile, role store.Role, content string) (Decision, error) {
	if !role.Valid() {
		return Decision{}, fmt.Errorf("invalid role %q", role)
	}

	unlock := s.locks.Lock(profile.ExternalID)
	defer unlock()

	user, err := s.dbStore.GetOrCreateUser(ctx, profile)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to get or create user: %w", err)
	}
	if content == "" {
		return Decision{Accepted: true}, nil
	}

	decision, err := s.guard.Admit(ctx, user.ID, content)
	if err != nil {
		return Decision{}, err
	}
	if !decision.Accepted {
		slog.Info("turn rejected", "user", profile.ExternalID, "role", role, "tokens", decision.Tokens, "reason", decision.Reason)
		return decision, nil
	}

	turn := store.Turn{
		UserID:     user.ID,
		Role:       role,
		Content:    content,
		TokenCount: decision.Tokens,
	}
	evicted, err := s.dbStore.AppendTurn(ctx, &turn, s.limit)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to store turn: %w", err)
	}
	if evicted > 0 {
		slog.Debug("trimmed history", "user", profile.ExternalID, "evicted", evicted)
	}
	return decision, nil
}

// History returns the user's stored turns, oldest first.
func (s *HistoryService) History(ctx context.Context, profile store.UserProfile) ([]store.Turn, error) {
	user, err := s.dbStore.GetOrCreateUser(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create user: %w", err)
	}
	turns, err := s.dbStore.ListTurns(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return turns, nil
}

// Clear deletes every turn of the user.
func (s *HistoryService) Clear(ctx context.Context, profile store.UserProfile) error {
	unlock := s.locks.Lock(profile.ExternalID)
	defer unlock()

	user, err := s.dbStore.GetOrCreateUser(ctx, profile)
	if err != nil {
		return fmt.Errorf("failed to get or create user: %w", err)
	}
	deleted, err := s.dbStore.DeleteTurns(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	slog.Info("history cleared", "user", profile.ExternalID, "deleted", deleted)
	return nil
}

func (s *HistoryService) Stats(ctx context.Context, profile store.UserProfile) (Stats, error) {
	user, err := s.dbStore.GetOrCreateUser(ctx, profile)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to get or create user: %w", err)
	}
	usage, err := s.guard.Today(ctx, user.ID)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		TurnsToday:  usage.Turns,
		TokensToday: usage.Tokens,
		DailyCap:    s.guard.DailyCap(),
	}, nil
}

// keyedMutex hands out one mutex per key and forgets it once no goroutine
// holds or waits for it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int64]*refMutex)}
}

func (k *keyedMutex) Lock(key int64) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
