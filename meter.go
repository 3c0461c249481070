package ocrsched

import "time"

// Meter observes scheduling events for monitoring/logging.
type Meter interface {
	// OnAttempt is called when a provider is about to be tried.
	OnAttempt(event AttemptEvent)

	// OnResult is called when an attempt completes.
	OnResult(event ResultEvent)

	// OnCache is called on every cache lookup.
	OnCache(event CacheEvent)
}

// AttemptEvent describes a dispatch decision.
type AttemptEvent struct {
	Provider   ProviderID
	AttemptNum int
	Priority   int
	Warning    RateLimitWarning
}

// ResultEvent describes the outcome of a provider attempt.
type ResultEvent struct {
	Provider   ProviderID
	Success    bool
	Duration   time.Duration
	Confidence float64
	Error      error
}

// CacheEvent describes a cache lookup.
type CacheEvent struct {
	Key string
	Hit bool
}
