package activity

import (
	"errors"
	"fmt"
)

// nonRetryableError marks a failure that must not be retried.
type nonRetryableError struct {
	cause error
}

func (e *nonRetryableError) Error() string { return e.cause.Error() }

func (e *nonRetryableError) Unwrap() error { return e.cause }

// NonRetryable wraps err so the executor surfaces it without further attempts.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{cause: err}
}

// IsNonRetryable reports whether err (or anything it wraps) is terminal.
func IsNonRetryable(err error) bool {
	var target *nonRetryableError
	return errors.As(err, &target)
}

// ExhaustedError is returned when every configured attempt failed.
type ExhaustedError struct {
	ActivityType string
	Attempts     int
	Cause        error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("activity %q failed after %d attempts: %v", e.ActivityType, e.Attempts, e.Cause)
}

func (e *ExhaustedError) Unwrap() error { return e.Cause }

// NotRegisteredError is returned when no handler matches an invocation.
// A missing handler is a wiring defect, so it is always terminal.
type NotRegisteredError struct {
	Queue        string
	ActivityType string
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("no handler for activity %q on queue %q", e.ActivityType, e.Queue)
}
