package apperr

import (
	"context"
	"time"
)

// Retry runs fn up to attempts times with exponential backoff between
// tries, starting at base and capped at max. It stops early on the first
// nil error or when ctx is cancelled.
func Retry(ctx context.Context, attempts int, base, max time.Duration, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := base
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > max {
				delay = max
			}
		}
		if err := fn(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
