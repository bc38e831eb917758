package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/phrazzld/grimoire/internal/store"
)

// ErrRetriesExhausted is returned when a conflicting append still fails
// after the configured number of attempts.
var ErrRetriesExhausted = errors.New("retries exhausted")

// AttemptFn performs one optimistic append attempt. The attempt number
// starts at 1. The function is expected to re-read current state before
// building its batch, so a retry after a conflict operates on fresh data.
type AttemptFn func(ctx context.Context, attempt int) error

// RetryOnConflict runs fn up to maxAttempts times, retrying only on
// version conflicts. It is the caller-owned, bounded retry loop for
// optimistic concurrency: read, attempt, catch conflict, re-read, retry.
// Validation errors and other failures propagate immediately. The context
// is checked between attempts, so a cancelled caller stops promptly.
func RetryOnConflict(ctx context.Context, maxAttempts int, fn AttemptFn) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, store.ErrVersionConflict) {
			return lastErr
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, maxAttempts, lastErr)
}
