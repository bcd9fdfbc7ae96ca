package core

import (
	"context"
	"fmt"
	"time"

	"github.com/olgkv/llm-telegram-bot/internal/store"
	"github.com/olgkv/llm-telegram-bot/internal/tokenizer"
)

// Reason explains why a message was not admitted.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonMessageTooLarge    Reason = "message_too_large"
	ReasonDailyQuotaExceeded Reason = "daily_quota_exceeded"
)

// Decision is the outcome of admitting one message.
type Decision struct {
	Accepted bool   `json:"accepted"`
	Tokens   int    `json:"tokens"`
	Reason   Reason `json:"reason,omitempty"`
}

// UsageReader reports the tokens a user consumed inside [from, to).
type UsageReader interface {
	DailyUsage(ctx context.Context, userID int64, from, to time.Time) (store.DailyUsage, error)
}

// TokenGuard enforces the per-message and per-day token limits. It only
// reads from the store.
type TokenGuard struct {
	counter          tokenizer.Counter
	usage            UsageReader
	maxMessageTokens int
	maxDailyTokens   int
	now              func() time.Time
}

func NewTokenGuard(counter tokenizer.Counter, usage UsageReader, maxMessageTokens, maxDailyTokens int) *TokenGuard {
	return &TokenGuard{
		counter:          counter,
		usage:            usage,
		maxMessageTokens: maxMessageTokens,
		maxDailyTokens:   maxDailyTokens,
		now:              time.Now,
	}
}

// DailyCap is the configured per-day token limit.
func (g *TokenGuard) DailyCap() int { return g.maxDailyTokens }

// Count returns the token cost of content.
func (g *TokenGuard) Count(content string) int { return g.counter.Count(content) }

// Admit decides whether content may be stored for userID. The error return is
// reserved for store failures; limit violations are rejected decisions.
func (g *TokenGuard) Admit(ctx context.Context, userID int64, content string) (Decision, error) {
	if content == "" {
		return Decision{Accepted: true}, nil
	}

	tokens := g.counter.Count(content)
	if tokens > g.maxMessageTokens {
		return Decision{Tokens: tokens, Reason: ReasonMessageTooLarge}, nil
	}

	usage, err := g.Today(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	if usage.Tokens+tokens >= g.maxDailyTokens {
		return Decision{Tokens: tokens, Reason: ReasonDailyQuotaExceeded}, nil
	}
	return Decision{Accepted: true, Tokens: tokens}, nil
}

// Today returns the user's usage for the current UTC calendar day.
func (g *TokenGuard) Today(ctx context.Context, userID int64) (store.DailyUsage, error) {
	from, to := utcDay(g.now())
	usage, err := g.usage.DailyUsage(ctx, userID, from, to)
	if err != nil {
		return store.DailyUsage{}, fmt.Errorf("failed to read daily usage: %w", err)
	}
	return usage, nil
}

func utcDay(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}
