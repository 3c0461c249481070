package ocrsched

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// ProviderID identifies a configured OCR provider.
type ProviderID string

// ProviderFallback is the sentinel provider reported on terminal degraded
// results when no real provider produced the text.
const ProviderFallback ProviderID = "fallback"

// OCROptions control a single extraction. Options participate in cache key
// derivation, so two requests with equal normalized options and equal image
// bytes share a cache entry.
type OCROptions struct {
	// Languages is a list of language hints (e.g. "eng", "deu") passed
	// through to the provider.
	Languages []string `json:"languages,omitempty"`

	// DPI carries the effective dots-per-inch of the image; zero means
	// unknown.
	DPI int `json:"dpi,omitempty"`

	// DetectOrientation asks the provider to auto-rotate before extraction.
	DetectOrientation bool `json:"detect_orientation,omitempty"`

	// Priority orders the request within its provider queue. Higher values
	// are served first; equal priorities are FIFO.
	Priority int `json:"-"`

	// Timeout bounds how long the request may wait in the queue plus
	// execute. Zero means DefaultRequestTimeout.
	Timeout time.Duration `json:"-"`
}

// DefaultRequestTimeout bounds queued requests that don't set their own.
const DefaultRequestTimeout = 30 * time.Second

// normalize returns a canonical string form of the cache-relevant options.
// Languages are sorted and lowercased so hint order doesn't split the cache.
func (o OCROptions) normalize() string {
	langs := make([]string, len(o.Languages))
	for i, l := range o.Languages {
		langs[i] = strings.ToLower(strings.TrimSpace(l))
	}
	sort.Strings(langs)

	var b strings.Builder
	b.WriteString("lang=")
	b.WriteString(strings.Join(langs, ","))
	b.WriteString(";dpi=")
	b.WriteString(strconv.Itoa(o.DPI))
	b.WriteString(";orient=")
	b.WriteString(strconv.FormatBool(o.DetectOrientation))
	return b.String()
}

// Bounds is a rectangle in pixel coordinates, origin upper-left.
type Bounds struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// TextBlock is one recognized region of text.
type TextBlock struct {
	Text       string  `json:"text"`
	Bounds     Bounds  `json:"bounds"`
	Confidence float64 `json:"confidence"`
}

// ResultError marks an OCRResult as a degraded placeholder rather than a
// real extraction.
type ResultError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message,omitempty"`
	Retryable bool      `json:"retryable"`
}

// OCRResult is the uniform outcome of an extraction. Degraded outcomes set
// Err instead of surfacing as a Go error, so callers always receive a
// renderable result.
type OCRResult struct {
	Text             string       `json:"text"`
	Confidence       float64      `json:"confidence"`
	Provider         ProviderID   `json:"provider"`
	ProcessingTimeMs int64        `json:"processing_time_ms"`
	Blocks           []TextBlock  `json:"blocks,omitempty"`
	Err              *ResultError `json:"error,omitempty"`
}

// Degraded reports whether the result is a failure placeholder.
func (r OCRResult) Degraded() bool { return r.Err != nil }

// RateLimitWarning classifies how close a provider is to its limits.
type RateLimitWarning int

const (
	WarnNone RateLimitWarning = iota
	// WarnApproaching: at least 80% of a quota window is used.
	WarnApproaching
	// WarnCritical: a quota window is exhausted or the bucket is empty.
	WarnCritical
)

func (w RateLimitWarning) String() string {
	switch w {
	case WarnNone:
		return "none"
	case WarnApproaching:
		return "warning"
	case WarnCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// RateLimitStatus is the gate's admit decision plus the context callers need
// to surface "approaching limit" before a hard denial.
type RateLimitStatus struct {
	Allowed          bool
	TokensRemaining  float64
	RetryAfter       time.Duration
	DailyRemaining   int64
	MonthlyRemaining int64
	Warning          RateLimitWarning
}

// HealthReport summarizes scheduler liveness for monitoring callers.
type HealthReport struct {
	Healthy            bool
	AvailableProviders []ProviderID
	Issues             []string
}
