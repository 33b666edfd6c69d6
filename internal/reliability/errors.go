package reliability

import (
	"errors"
	"fmt"
	"time"
)

// ErrNonRetryable can be wrapped by callers to stop a retry loop
var ErrNonRetryable = errors.New("retry: error is not retryable")

// RetryError is returned when the policy gave up on a retryable error
type RetryError struct {
	Attempts    int
	MaxAttempts int
	LastError   error
	Duration    time.Duration
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry failed after %d/%d attempts over %v: %v",
		e.Attempts, e.MaxAttempts, e.Duration.Round(time.Millisecond), e.LastError)
}

func (e *RetryError) Unwrap() error {
	return e.LastError
}
