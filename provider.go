package ocrsched

import "context"

// Provider is the interface that OCR provider adapters must implement.
// The scheduler does not know or care about the provider's wire protocol.
type Provider interface {
	// Name returns the provider identifier (e.g. "tesseract", "ocrspace").
	Name() ProviderID

	// IsAvailable reports whether the provider can currently serve requests
	// (credentials configured, local binary present, etc). It must be cheap;
	// it is consulted on every fallback pass.
	IsAvailable() bool

	// ExtractText performs a single extraction. Implementations should honor
	// ctx cancellation as a best-effort abort; the scheduler stops waiting
	// either way once the request deadline passes.
	ExtractText(ctx context.Context, image []byte, opts OCROptions) (OCRResult, error)
}
