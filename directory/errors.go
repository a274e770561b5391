package directory

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is permanent: the group or member does not exist.
	ErrNotFound = errors.New("directory object not found")

	// ErrAlreadyInDesiredState marks a no-op mutation (member already added / already absent).
	ErrAlreadyInDesiredState = errors.New("membership already in desired state")
)

// TransientError wraps an I/O failure that is worth retrying.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient directory error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RateLimitedError is returned when the directory throttles the caller.
// RetryAfter is zero when the server did not say how long to wait.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("directory rate limited, retry after %s", e.RetryAfter)
	}
	return "directory rate limited"
}

// IsRetryable reports whether err is a transient or rate-limit failure.
func IsRetryable(err error) bool {
	var transient *TransientError
	var limited *RateLimitedError
	return errors.As(err, &transient) || errors.As(err, &limited)
}

// RetryAfter returns the server-provided delay carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var limited *RateLimitedError
	if errors.As(err, &limited) && limited.RetryAfter > 0 {
		return limited.RetryAfter, true
	}
	return 0, false
}

// OutcomeFor maps a per-member error to its Outcome.
func OutcomeFor(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrAlreadyInDesiredState):
		return OutcomeAlreadyInDesiredState
	default:
		return OutcomeTransient
	}
}
