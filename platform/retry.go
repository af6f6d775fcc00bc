package platform

import (
	"context"
	"time"
)

const baseBackoff = 500 * time.Millisecond

// Do runs fn up to attempts times, backing off between tries. It gives up
// immediately on permanent platform errors and on context cancellation.
func Do(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			backoff := baseBackoff << (i - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
	}
	return err
}
