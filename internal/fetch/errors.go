package fetch

import (
	"errors"
	"fmt"
)

var (
	// ErrSchemeRejected means the URL uses a non-secure scheme outside the
	// loopback exception. Never retried.
	ErrSchemeRejected = errors.New("unsupported url scheme (https required)")

	// ErrTooLarge means the feed document exceeds the configured byte
	// ceiling, whether declared in Content-Length or discovered while
	// streaming. Never retried.
	ErrTooLarge = errors.New("feed too large")
)

// NetworkError wraps a connection or timeout failure. These are the only
// transient fetch errors; the retry controller retries them with backoff.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether the error may succeed on retry.
func IsTransient(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
