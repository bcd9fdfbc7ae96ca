package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/olgkv/llm-telegram-bot/internal/llm"
	"github.com/olgkv/llm-telegram-bot/internal/store"
)

const (
	StartCommand = "/start"

	GreetingText = "👋 Hi! I am an AI support assistant.\n\n" +
		"Just write your question and I will answer using the context of our conversation.\n\n" +
		"Commands:\n" +
		"/start - show this message\n" +
		"/clear - clear the conversation history\n" +
		"/stats - show today's token usage"
	ClearedText         = "✅ Conversation history cleared"
	QuotaExceededText   = "⚠️ Daily token limit reached. Please try again tomorrow."
	MessageTooLargeText = "⚠️ Your message is too long. Please shorten it and try again."
	TextOnlyText        = "For now I only understand text messages. Please send some text."
	ApologyText         = "⚠️ Sorry, I could not generate a reply right now. Please try again later."
	NotConfiguredText   = "⚠️ Reply generation is not configured on this server."
)

type ChatOptions struct {
	SystemPrompt  string
	HistoryWindow int
}

// ChatService implements the user-facing commands on top of history,
// retrieval and generation.
type ChatService struct {
	history    *HistoryService
	retriever  *Retriever
	generator  llm.Generator
	dispatcher *Dispatcher
	opts       ChatOptions
}

// NewChatService wires the reply flow. generator may be nil, in which case
// replies carry a configuration notice.
func NewChatService(history *HistoryService, retriever *Retriever, generator llm.Generator, dispatcher *Dispatcher, opts ChatOptions) *ChatService {
	return &ChatService{
		history:    history,
		retriever:  retriever,
		generator:  generator,
		dispatcher: dispatcher,
		opts:       opts,
	}
}

// Start registers the user and records the greeting exchange.
func (s *ChatService) Start(ctx context.Context, profile store.UserProfile) (string, error) {
	slog.Info("start", "user", profile.ExternalID)
	if _, err := s.history.Append(ctx, profile, store.RoleUser, StartCommand); err != nil {
		return "", err
	}
	if _, err := s.history.Append(ctx, profile, store.RoleAssistant, GreetingText); err != nil {
		return "", err
	}
	return GreetingText, nil
}

func (s *ChatService) Clear(ctx context.Context, profile store.UserProfile) (string, error) {
	slog.Info("clear", "user", profile.ExternalID)
	if err := s.history.Clear(ctx, profile); err != nil {
		return "", err
	}
	return ClearedText, nil
}

func (s *ChatService) Stats(ctx context.Context, profile store.UserProfile) (Stats, error) {
	return s.history.Stats(ctx, profile)
}

func (s *ChatService) History(ctx context.Context, profile store.UserProfile) ([]store.Turn, error) {
	return s.history.History(ctx, profile)
}

// FormatStats renders stats the way they are shown to the user.
func FormatStats(st Stats) string {
	return fmt.Sprintf("📊 Today's usage:\n• Messages: %d\n• Tokens used: %d\n• Token limit: %d",
		st.TurnsToday, st.TokensToday, st.DailyCap)
}

// Reply stores the user's message and answers it. Rejected messages get a
// notice without any provider call. Provider failures degrade to an apology
// that is not stored; only store failures are returned as errors.
func (s *ChatService) Reply(ctx context.Context, profile store.UserProfile, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return TextOnlyText, nil
	}

	decision, err := s.history.Append(ctx, profile, store.RoleUser, text)
	if err != nil {
		return "", fmt.Errorf("failed to store user message: %w", err)
	}
	switch decision.Reason {
	case ReasonDailyQuotaExceeded:
		return QuotaExceededText, nil
	case ReasonMessageTooLarge:
		return MessageTooLargeText, nil
	}

	if s.generator == nil {
		return NotConfiguredText, nil
	}

	turns, err := s.history.History(ctx, profile)
	if err != nil {
		return "", err
	}

	chunks, err := s.retriever.Retrieve(ctx, text, 0)
	if err != nil {
		slog.Warn("failed to retrieve context, proceeding without it", "user", profile.ExternalID, "err", err)
		chunks = nil
	}

	messages := AssembleContext(s.opts.SystemPrompt, chunks, turns, s.opts.HistoryWindow)

	var reply string
	err = s.dispatcher.Do(ctx, "generate", func(ctx context.Context) error {
		var genErr error
		reply, genErr = s.generator.Generate(ctx, messages)
		return genErr
	})
	if err != nil {
		var jobErr *JobError
		jobID := ""
		if errors.As(err, &jobErr) {
			jobID = jobErr.ID
		}
		slog.Error("generation failed", "user", profile.ExternalID, "job_id", jobID, "err", err)
		return ApologyText, nil
	}

	if _, err := s.history.Append(ctx, profile, store.RoleAssistant, reply); err != nil {
		slog.Error("failed to store assistant reply", "user", profile.ExternalID, "err", err)
	}
	return reply, nil
}
