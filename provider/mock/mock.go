// Package mock provides a configurable fake OCR provider for testing.
package mock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/scandesk/ocrsched"
)

// Provider is a mock OCR provider.
type Provider struct {
	name        ocrsched.ProviderID
	available   atomic.Bool
	latency     time.Duration
	failAfter   int
	callCount   atomic.Int64
	staticErr   error
	text        string
	confidence  float64
	extractFunc func(context.Context, []byte, ocrsched.OCROptions) (ocrsched.OCRResult, error)
}

var _ ocrsched.Provider = (*Provider)(nil)

// Option configures a mock Provider.
type Option func(*Provider)

// New creates a mock provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:       "mock",
		text:       "hello from mock provider",
		confidence: 0.95,
	}
	p.available.Store(true)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithName sets the provider name.
func WithName(name ocrsched.ProviderID) Option {
	return func(p *Provider) { p.name = name }
}

// WithText sets the extracted text returned by the mock.
func WithText(text string) Option {
	return func(p *Provider) { p.text = text }
}

// WithConfidence sets the confidence returned by the mock.
func WithConfidence(c float64) Option {
	return func(p *Provider) { p.confidence = c }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithFailAfter makes the provider fail after N successful calls.
func WithFailAfter(n int) Option {
	return func(p *Provider) { p.failAfter = n }
}

// WithError makes the provider always return this error.
func WithError(err error) Option {
	return func(p *Provider) { p.staticErr = err }
}

// WithUnavailable starts the provider in the unavailable state.
func WithUnavailable() Option {
	return func(p *Provider) { p.available.Store(false) }
}

// WithExtractFunc sets a custom extraction function.
func WithExtractFunc(fn func(context.Context, []byte, ocrsched.OCROptions) (ocrsched.OCRResult, error)) Option {
	return func(p *Provider) { p.extractFunc = fn }
}

// SetAvailable toggles availability at runtime.
func (p *Provider) SetAvailable(v bool) { p.available.Store(v) }

// Calls reports how many extractions were attempted.
func (p *Provider) Calls() int64 { return p.callCount.Load() }

func (p *Provider) Name() ocrsched.ProviderID { return p.name }

func (p *Provider) IsAvailable() bool { return p.available.Load() }

func (p *Provider) ExtractText(ctx context.Context, image []byte, opts ocrsched.OCROptions) (ocrsched.OCRResult, error) {
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return ocrsched.OCRResult{}, ctx.Err()
		}
	}

	count := p.callCount.Add(1)

	if p.staticErr != nil {
		return ocrsched.OCRResult{}, p.staticErr
	}

	if p.failAfter > 0 && int(count) > p.failAfter {
		return ocrsched.OCRResult{}, ocrsched.ErrProviderUnavailable
	}

	if p.extractFunc != nil {
		return p.extractFunc(ctx, image, opts)
	}

	return ocrsched.OCRResult{
		Text:       p.text,
		Confidence: p.confidence,
		Provider:   p.name,
		Blocks: []ocrsched.TextBlock{
			{Text: p.text, Confidence: p.confidence},
		},
	}, nil
}
