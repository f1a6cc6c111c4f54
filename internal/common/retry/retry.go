// internal/common/retry/retry.go
package retry

import (
	"context"
	"fmt"
	"time"

	"civigo/internal/common/logger"
)

// WithBackoff attempts to execute a function with exponential backoff.
// The context cancels the wait between attempts, not an attempt in flight;
// operations that should observe cancellation take the context themselves.
func WithBackoff(ctx context.Context, operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
				"error":       err,
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay,
			})
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("%s aborted after %d attempts: %w", operationName, i+1, ctx.Err())
			}
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// Delay returns the backoff delay for a given zero-based attempt, capped.
func Delay(initial time.Duration, attempt int, max time.Duration) time.Duration {
	d := initial
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
