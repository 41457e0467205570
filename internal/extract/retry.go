package extract

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"
)

// MaxRetries bounds attempts of a single model call on transient errors.
const MaxRetries = 3

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var retryErr *RetryableError
	return errors.As(err, &retryErr)
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}

// completeWithRetry calls c, retrying transient failures with backoff. This
// is transport-level retry inside one stage, not a stage retry.
func completeWithRetry(ctx context.Context, c Completer, backoff func(int) time.Duration, log *slog.Logger, system, prompt string) (string, error) {
	var (
		out     string
		lastErr error
	)
	for attempt := range MaxRetries {
		out, lastErr = c.Complete(ctx, system, prompt)
		if lastErr == nil || !IsRetryable(lastErr) {
			return out, lastErr
		}
		log.Warn("retryable llm error", "attempt", attempt, "error", lastErr)
		if attempt == MaxRetries-1 {
			break
		}
		select {
		case <-time.After(backoff(attempt)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", lastErr
}
