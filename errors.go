package ocrsched

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrRateLimited         = errors.New("ocrsched: rate limited")
	ErrQuotaExceeded       = errors.New("ocrsched: quota exceeded")
	ErrTimeout             = errors.New("ocrsched: request timed out in queue")
	ErrQueueCleared        = errors.New("ocrsched: queue cleared")
	ErrProviderUnavailable = errors.New("ocrsched: provider unavailable")
	ErrAllProvidersFailed  = errors.New("ocrsched: all providers failed")
	ErrUnknownProvider     = errors.New("ocrsched: unknown provider")
	ErrInitFailed          = errors.New("ocrsched: scheduler initialization failed")
	ErrClosed              = errors.New("ocrsched: scheduler closed")
)

// ErrorCode is the taxonomy carried on degraded OCRResults.
type ErrorCode string

const (
	CodeRateLimited         ErrorCode = "RATE_LIMITED_FAILURE"
	CodeTimeout             ErrorCode = "TIMEOUT"
	CodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	CodeAllProvidersFailed  ErrorCode = "ALL_PROVIDERS_FAILED"
	CodeInitFailed          ErrorCode = "INIT_FAILED"
	CodeCacheFailure        ErrorCode = "CACHE_FAILURE"
)

// CodeFor maps an internal error to its result code.
func CodeFor(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrQuotaExceeded):
		return CodeRateLimited
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrProviderUnavailable), errors.Is(err, ErrQueueCleared):
		return CodeProviderUnavailable
	case errors.Is(err, ErrInitFailed):
		return CodeInitFailed
	default:
		return CodeAllProvidersFailed
	}
}

// SchedulerError wraps an error with dispatch context.
type SchedulerError struct {
	Err      error
	Provider ProviderID
	Attempts int
}

func (e *SchedulerError) Error() string {
	return fmt.Sprintf("ocrsched: provider=%s attempts=%d: %v", e.Provider, e.Attempts, e.Err)
}

func (e *SchedulerError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error may succeed on another provider or a
// later attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrProviderUnavailable)
}
