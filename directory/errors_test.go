package directory_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"f0oster/groupsync/directory"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	assert.True(t, directory.IsRetryable(&directory.TransientError{Op: "add", Err: errors.New("reset")}))
	assert.True(t, directory.IsRetryable(fmt.Errorf("wrapped: %w", &directory.RateLimitedError{})))
	assert.False(t, directory.IsRetryable(directory.ErrNotFound))
	assert.False(t, directory.IsRetryable(nil))
}

func TestRetryAfter(t *testing.T) {
	d, ok := directory.RetryAfter(&directory.RateLimitedError{RetryAfter: 3 * time.Second})
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	_, ok = directory.RetryAfter(&directory.RateLimitedError{})
	assert.False(t, ok)
}

func TestOutcomeFor(t *testing.T) {
	assert.Equal(t, directory.OutcomeSuccess, directory.OutcomeFor(nil))
	assert.Equal(t, directory.OutcomeNotFound, directory.OutcomeFor(fmt.Errorf("member x: %w", directory.ErrNotFound)))
	assert.Equal(t, directory.OutcomeAlreadyInDesiredState, directory.OutcomeFor(directory.ErrAlreadyInDesiredState))
	assert.Equal(t, directory.OutcomeTransient, directory.OutcomeFor(errors.New("boom")))
}
