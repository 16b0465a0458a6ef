// Package retry wraps the external capabilities (embedding and completion)
// with a per-call timeout and bounded exponential backoff. Only failures
// that match rag.ErrTransient, or a per-attempt deadline, are retried; every
// other error is returned on the first attempt. A failure that carries a
// server-requested delay (an HTTP Retry-After) waits at least that long.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/54b3r/kbqa-go/internal/logging"
	"github.com/54b3r/kbqa-go/internal/rag"
)

const (
	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 3
	// DefaultCallTimeout bounds a single attempt.
	DefaultCallTimeout = 60 * time.Second
	// maxRetryAfter caps a server-requested delay.
	maxRetryAfter = time.Minute
)

// delayHinter is implemented by errors that carry a server-requested wait
// before the next attempt.
type delayHinter interface {
	RetryAfterDelay() time.Duration
}

// hintedBackOff waits at least the pending hint, once, before falling back
// to the wrapped schedule.
type hintedBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (h *hintedBackOff) NextBackOff() time.Duration {
	d := h.BackOff.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	d = max(d, min(h.hint, maxRetryAfter))
	h.hint = 0
	return d
}

// Policy configures retries for one capability.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	// Zero disables retrying; negative values use DefaultMaxRetries.
	MaxRetries int

	// CallTimeout bounds each attempt. Zero or negative uses DefaultCallTimeout.
	CallTimeout time.Duration

	// InitialInterval is the first backoff delay. Zero uses the backoff
	// library default (500ms).
	InitialInterval time.Duration

	// MaxInterval caps a single backoff delay. Zero uses 10s.
	MaxInterval time.Duration
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: DefaultMaxRetries, CallTimeout: DefaultCallTimeout}
}

// Do runs op until it succeeds, fails permanently, or the retry budget is
// spent. Each attempt gets its own timeout derived from ctx. name labels log
// lines.
func Do[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	log := logging.FromContext(ctx)

	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	timeout := p.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	eb.MaxInterval = 10 * time.Second
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	// The retry count is the only budget; never stop on elapsed time.
	eb.MaxElapsedTime = 0

	hinted := &hintedBackOff{BackOff: backoff.WithMaxRetries(eb, uint64(maxRetries))}

	var result T
	attempt := 0
	operation := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		v, err := op(callCtx)
		if err == nil {
			result = v
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if isTransient(err) {
			var dh delayHinter
			if errors.As(err, &dh) {
				hinted.hint = dh.RetryAfterDelay()
			}
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("retry: transient failure, backing off",
			slog.String("op", name),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}

	b := backoff.WithContext(hinted, ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		var zero T
		if attempt > 1 {
			return zero, fmt.Errorf("retry: %s failed after %d attempts: %w", name, attempt, err)
		}
		return zero, err
	}
	return result, nil
}

// isTransient reports whether err is worth another attempt.
func isTransient(err error) bool {
	return errors.Is(err, rag.ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

// Embedder retries a rag.Embedder under a Policy.
type Embedder struct {
	inner  rag.Embedder
	policy Policy
}

// WrapEmbedder returns inner with retries applied.
func WrapEmbedder(inner rag.Embedder, p Policy) *Embedder {
	return &Embedder{inner: inner, policy: p}
}

// Embed implements rag.Embedder.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return Do(ctx, e.policy, "embed", func(ctx context.Context) ([][]float32, error) {
		return e.inner.Embed(ctx, texts)
	})
}

// Completer retries a rag.Completer under a Policy.
type Completer struct {
	inner  rag.Completer
	policy Policy
}

// WrapCompleter returns inner with retries applied.
func WrapCompleter(inner rag.Completer, p Policy) *Completer {
	return &Completer{inner: inner, policy: p}
}

// Complete implements rag.Completer.
func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	return Do(ctx, c.policy, "complete", func(ctx context.Context) (string, error) {
		return c.inner.Complete(ctx, prompt)
	})
}
