package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds every provider call: Attempts tries in total, each
// limited to Timeout, with exponential backoff starting at Backoff.
type RetryPolicy struct {
	Attempts int
	Timeout  time.Duration
	Backoff  time.Duration
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.Backoff > 0 {
		b.InitialInterval = p.Backoff
	}
	b.MaxElapsedTime = 0
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

func retryCall[T any](ctx context.Context, p RetryPolicy, name string, call func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	op := func() (T, error) {
		attempt++
		callCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}
		out, err := call(callCtx)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return out, backoff.Permanent(err)
		}
		if !errors.Is(err, ErrProvider) && !errors.Is(err, context.DeadlineExceeded) {
			return out, backoff.Permanent(err)
		}
		slog.Warn("provider call failed", "call", name, "attempt", attempt, "err", err)
		return out, err
	}

	out, err := backoff.RetryWithData(op, p.backOff(ctx))
	if err != nil {
		if !errors.Is(err, ErrProvider) {
			err = fmt.Errorf("%w: %s: %v", ErrProvider, name, err)
		}
		return out, fmt.Errorf("%s failed after %d attempt(s): %w", name, attempt, err)
	}
	return out, nil
}

type retryGenerator struct {
	next   Generator
	policy RetryPolicy
}

// WithRetry wraps a generator so each call is retried under policy.
func WithRetry(next Generator, policy RetryPolicy) Generator {
	if next == nil {
		return nil
	}
	return &retryGenerator{next: next, policy: policy}
}

func (g *retryGenerator) Generate(ctx context.Context, messages []Message) (string, error) {
	return retryCall(ctx, g.policy, "generate", func(ctx context.Context) (string, error) {
		return g.next.Generate(ctx, messages)
	})
}

type retryEmbedder struct {
	next   Embedder
	policy RetryPolicy
}

// WithEmbedRetry wraps an embedder so each call is retried under policy.
func WithEmbedRetry(next Embedder, policy RetryPolicy) Embedder {
	if next == nil {
		return nil
	}
	return &retryEmbedder{next: next, policy: policy}
}

func (e *retryEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return retryCall(ctx, e.policy, "embed", func(ctx context.Context) ([]float32, error) {
		return e.next.Embed(ctx, text)
	})
}

func (e *retryEmbedder) Dimensions() int { return e.next.Dimensions() }
