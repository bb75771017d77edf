package payment

import (
	"context"
	"math/rand"
	"time"
)

const (
	maxAttempts = 3
	backoffMin  = 20 * time.Millisecond
	backoffMax  = 60 * time.Millisecond
)

// withRetry runs fn up to maxAttempts times, sleeping a short randomized
// backoff between attempts. retryable decides which errors are worth
// another attempt (write conflicts); anything else fails immediately.
// The last error is returned when attempts are exhausted.
func withRetry(ctx context.Context, fn func() error, retryable func(error) bool) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := backoffMin + time.Duration(rand.Int63n(int64(backoffMax-backoffMin)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		err = fn()
		if err == nil || !retryable(err) {
			return err
		}
	}
	return err
}
