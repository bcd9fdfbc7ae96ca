package core

import (
	"strings"

	"github.com/olgkv/llm-telegram-bot/internal/llm"
	"github.com/olgkv/llm-telegram-bot/internal/store"
)

const (
	knowledgeInstruction = "Here are relevant fragments from the knowledge base. Use them in your answer. " +
		"You may quote these fragments verbatim when it helps the user, " +
		"but never refer to internal identifiers or file paths.\n\n"
	chunkSeparator = "\n\n---\n\n"
)

// AssembleContext builds the generation request: the system prompt, an
// optional knowledge entry with the retrieved chunks, then the newest window
// turns in chronological order. window <= 0 keeps the whole history.
func AssembleContext(systemPrompt string, chunks []ScoredChunk, history []store.Turn, window int) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})

	if len(chunks) > 0 {
		texts := make([]string, 0, len(chunks))
		for _, c := range chunks {
			texts = append(texts, c.Chunk.Text)
		}
		messages = append(messages, llm.Message{
			Role:    llm.RoleSystem,
			Content: knowledgeInstruction + strings.Join(texts, chunkSeparator),
		})
	}

	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}
	for _, turn := range history {
		messages = append(messages, llm.Message{Role: string(turn.Role), Content: turn.Content})
	}
	return messages
}
