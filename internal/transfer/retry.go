package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/johndauphine/etl-orchestrator/internal/logging"
)

// withRetry calls fn up to attempts times, sleeping delay between failures.
// Cancellation of ctx stops both the attempts and the sleep.
func withRetry(ctx context.Context, attempts int, delay time.Duration, what string, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		logging.Warn("%s failed (attempt %d/%d), retrying in %s: %v", what, attempt, attempts, delay, err)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", what, attempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
