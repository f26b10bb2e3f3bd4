package fetch

import (
	"context"
	"time"

	"readrss/internal/logger"
)

// Backoff returns the wait before retrying after attempt n (n >= 1):
// base * 2^(n-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	return base << (attempt - 1)
}

// FetchWithRetries wraps Fetch with bounded retries and exponential backoff.
// Only transient (network/timeout) failures are retried; scheme rejection
// and size overruns are surfaced immediately since retrying cannot change
// the outcome. After maxRetries attempts the last transient error is
// returned. Backoff waits suspend only the calling goroutine and observe
// ctx cancellation.
func (f *Fetcher) FetchWithRetries(ctx context.Context, rawURL string, maxRetries int, backoffBase time.Duration) ([]byte, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		data, err := f.Fetch(ctx, rawURL)
		if err == nil {
			return data, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err
		if attempt == maxRetries {
			break
		}
		wait := Backoff(backoffBase, attempt)
		logger.Warn("retrying feed fetch", "url", rawURL, "attempt", attempt, "backoff_ms", wait.Milliseconds(), "error", err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, &NetworkError{Err: ctx.Err()}
		}
	}
	return nil, lastErr
}
