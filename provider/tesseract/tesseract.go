// Package tesseract provides a local Tesseract-backed OCR provider using the
// gosseract client. It requires the tesseract library at build time (cgo),
// which is why it lives in its own module.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/scandesk/ocrsched"
)

// Provider runs OCR through a locally installed Tesseract.
type Provider struct {
	clientFactory func() *gosseract.Client
}

var _ ocrsched.Provider = (*Provider)(nil)

// New creates a Tesseract provider.
func New() *Provider {
	return &Provider{clientFactory: gosseract.NewClient}
}

func (p *Provider) Name() ocrsched.ProviderID { return "tesseract" }

// IsAvailable probes for a working local Tesseract installation.
func (p *Provider) IsAvailable() bool {
	langs, err := gosseract.GetAvailableLanguages()
	return err == nil && len(langs) > 0
}

// ExtractText runs one recognition. A fresh client per call keeps the
// provider safe under the scheduler's per-provider worker.
func (p *Provider) ExtractText(ctx context.Context, image []byte, opts ocrsched.OCROptions) (ocrsched.OCRResult, error) {
	select {
	case <-ctx.Done():
		return ocrsched.OCRResult{}, ctx.Err()
	default:
	}

	c := p.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(image); err != nil {
		return ocrsched.OCRResult{}, fmt.Errorf("tesseract: set image: %w", err)
	}
	if len(opts.Languages) > 0 {
		if err := c.SetLanguage(opts.Languages...); err != nil {
			return ocrsched.OCRResult{}, fmt.Errorf("tesseract: set languages: %w", err)
		}
	}
	if opts.DPI > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(opts.DPI)); err != nil {
			return ocrsched.OCRResult{}, fmt.Errorf("tesseract: set dpi: %w", err)
		}
	}

	text, err := c.Text()
	if err != nil {
		return ocrsched.OCRResult{}, fmt.Errorf("tesseract: recognize: %w", err)
	}
	plain := strings.TrimSpace(text)

	blocks, avgConf := extractBlocks(c)

	return ocrsched.OCRResult{
		Text:       plain,
		Confidence: avgConf,
		Provider:   "tesseract",
		Blocks:     blocks,
	}, nil
}

// extractBlocks converts Tesseract word boxes into text blocks with averaged
// confidence.
func extractBlocks(c *gosseract.Client) ([]ocrsched.TextBlock, float64) {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil || len(boxes) == 0 {
		return nil, 0
	}

	blocks := make([]ocrsched.TextBlock, 0, len(boxes))
	var sum float64
	for _, b := range boxes {
		conf := b.Confidence / 100.0
		sum += conf
		blocks = append(blocks, ocrsched.TextBlock{
			Text: strings.TrimSpace(b.Word),
			Bounds: ocrsched.Bounds{
				X:      float64(b.Box.Min.X),
				Y:      float64(b.Box.Min.Y),
				Width:  float64(b.Box.Dx()),
				Height: float64(b.Box.Dy()),
			},
			Confidence: conf,
		})
	}
	return blocks, sum / float64(len(boxes))
}
