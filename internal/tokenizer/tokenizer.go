// Package tokenizer counts tokens for quota accounting.
//
// BPECounter uses the tiktoken encoding of the configured chat model.
// CharCounter is a dependency-free estimate for providers whose tokenizer
// is not available locally.
package tokenizer

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

const (
	EncodingCL100K = "cl100k_base"
	EncodingO200K  = "o200k_base"
	EncodingChars  = "chars"
	// EncodingAuto picks the encoding from the chat model name.
	EncodingAuto = "auto"
)

// o200kPrefixes are the model families tokenized with o200k_base.
var o200kPrefixes = []string{"gpt-4o", "gpt-4.1", "gpt-5", "o1", "o3", "o4"}

// EncodingForModel returns the tiktoken encoding of an OpenAI model. Models
// from other vendors have no public BPE and get cl100k_base as the closest
// approximation.
func EncodingForModel(model string) string {
	model = strings.ToLower(strings.TrimSpace(model))
	for _, prefix := range o200kPrefixes {
		if strings.HasPrefix(model, prefix) {
			return EncodingO200K
		}
	}
	if enc, ok := tiktoken.MODEL_TO_ENCODING[model]; ok {
		return enc
	}
	return EncodingCL100K
}

// fallbackLoader serves BPE ranks from the offline tables and downloads
// the ones they lack.
type fallbackLoader struct {
	offline tiktoken.BpeLoader
	remote  tiktoken.BpeLoader
}

func (l fallbackLoader) LoadTiktokenBpe(file string) (map[string]int, error) {
	ranks, err := l.offline.LoadTiktokenBpe(file)
	if err == nil {
		return ranks, nil
	}
	slog.Warn("offline BPE ranks unavailable, downloading", "file", file, "err", err)
	return l.remote.LoadTiktokenBpe(file)
}

// Counter returns the token cost of a text. Implementations must be
// deterministic and safe for concurrent use.
type Counter interface {
	Count(text string) int
}

var loaderOnce sync.Once

// BPECounter counts tokens with a tiktoken byte-pair encoding. Ranks come
// from the tables compiled into the binary when they have the encoding.
type BPECounter struct {
	encoding *tiktoken.Tiktoken
}

func NewBPECounter(encoding string) (*BPECounter, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(fallbackLoader{
			offline: tiktoken_loader.NewOfflineLoader(),
			remote:  tiktoken.NewDefaultBpeLoader(),
		})
	})
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &BPECounter{encoding: enc}, nil
}

func (c *BPECounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// CharCounter estimates tokens by characters per token (default 4),
// rounding up.
type CharCounter struct {
	CharsPerToken int
}

func (c CharCounter) Count(text string) int {
	per := c.CharsPerToken
	if per <= 0 {
		per = 4
	}
	if text == "" {
		return 0
	}
	return (utf8.RuneCountInString(text) + per - 1) / per
}

// New returns the counter registered under name. EncodingAuto must be
// resolved with EncodingForModel first.
func New(name string) (Counter, error) {
	switch name {
	case EncodingChars:
		return CharCounter{}, nil
	case "", EncodingCL100K:
		return NewBPECounter(EncodingCL100K)
	default:
		return NewBPECounter(name)
	}
}
