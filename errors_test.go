package ocrsched

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeFor(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorCode
	}{
		{ErrRateLimited, CodeRateLimited},
		{ErrQuotaExceeded, CodeRateLimited},
		{ErrTimeout, CodeTimeout},
		{ErrProviderUnavailable, CodeProviderUnavailable},
		{ErrQueueCleared, CodeProviderUnavailable},
		{ErrInitFailed, CodeInitFailed},
		{errors.New("engine crashed"), CodeAllProvidersFailed},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CodeFor(tc.err), "error: %v", tc.err)
	}
}

func TestCodeFor_SeesThroughWrapping(t *testing.T) {
	err := &SchedulerError{Err: ErrTimeout, Provider: "tesseract", Attempts: 2}
	assert.Equal(t, CodeTimeout, CodeFor(err))

	wrapped := fmt.Errorf("dispatch: %w", ErrRateLimited)
	assert.Equal(t, CodeRateLimited, CodeFor(wrapped))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrRateLimited))
	assert.True(t, IsRetryable(&SchedulerError{Err: ErrTimeout}))
	assert.False(t, IsRetryable(ErrInitFailed))
	assert.False(t, IsRetryable(errors.New("engine crashed")))
}

func TestSchedulerError_Message(t *testing.T) {
	err := &SchedulerError{Err: ErrQueueCleared, Provider: "ocrspace", Attempts: 1}
	assert.Contains(t, err.Error(), "provider=ocrspace")
	assert.ErrorIs(t, err, ErrQueueCleared)
}
