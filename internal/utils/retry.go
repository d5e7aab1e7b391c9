package utils

import (
	"context"
	"time"
)

// Retry calls fn up to attempts times, sleeping delay between failures. It stops
// early on success, on a Permanent error, or when ctx is done. The returned int
// is the number of attempts made.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func(attempt int) error) (int, error) {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(i); err == nil {
			return i, nil
		}
		if IsPermanent(err) || i == attempts {
			return i, err
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return i, ctx.Err()
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return i, ctx.Err()
		}
	}
	return attempts, err
}
