// Package ocrspace adapts the hosted OCR.space API to the ocrsched Provider
// contract.
package ocrspace

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/scandesk/ocrsched"
)

const defaultBaseURL = "https://api.ocr.space/parse/image"

// Provider is the OCR.space API adapter.
type Provider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

var _ ocrsched.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithBaseURL sets a custom endpoint URL.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// New creates a new OCR.space provider. The API key comes from the caller;
// an empty key leaves the provider reporting unavailable.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() ocrsched.ProviderID { return "ocrspace" }

func (p *Provider) IsAvailable() bool { return p.apiKey != "" }

// OCR.space API types.
type parseResponse struct {
	ParsedResults []parsedResult `json:"ParsedResults"`
	OCRExitCode   int            `json:"OCRExitCode"`
	IsErrored     bool           `json:"IsErroredOnProcessing"`
	ErrorMessage  any            `json:"ErrorMessage"`
}

type parsedResult struct {
	ParsedText  string      `json:"ParsedText"`
	TextOverlay textOverlay `json:"TextOverlay"`
	ExitCode    int         `json:"FileParseExitCode"`
}

type textOverlay struct {
	Lines []overlayLine `json:"Lines"`
}

type overlayLine struct {
	LineText string        `json:"LineText"`
	Words    []overlayWord `json:"Words"`
}

type overlayWord struct {
	WordText string  `json:"WordText"`
	Left     float64 `json:"Left"`
	Top      float64 `json:"Top"`
	Height   float64 `json:"Height"`
	Width    float64 `json:"Width"`
}

func (p *Provider) ExtractText(ctx context.Context, image []byte, opts ocrsched.OCROptions) (ocrsched.OCRResult, error) {
	form := url.Values{}
	form.Set("base64Image", "data:image/png;base64,"+base64.StdEncoding.EncodeToString(image))
	form.Set("isOverlayRequired", "true")
	form.Set("detectOrientation", strconv.FormatBool(opts.DetectOrientation))
	if len(opts.Languages) > 0 {
		form.Set("language", opts.Languages[0])
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return ocrsched.OCRResult{}, fmt.Errorf("ocrspace: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("apikey", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return ocrsched.OCRResult{}, fmt.Errorf("ocrspace: %w: %v", ocrsched.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ocrsched.OCRResult{}, fmt.Errorf("ocrspace: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ocrsched.OCRResult{}, ocrsched.ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return ocrsched.OCRResult{}, fmt.Errorf("ocrspace: unexpected status %d: %s",
			resp.StatusCode, truncate(body))
	}

	var parsed parseResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ocrsched.OCRResult{}, fmt.Errorf("ocrspace: decode response: %w", err)
	}
	if parsed.IsErrored || len(parsed.ParsedResults) == 0 {
		return ocrsched.OCRResult{}, fmt.Errorf("ocrspace: processing failed: exit=%d msg=%v",
			parsed.OCRExitCode, parsed.ErrorMessage)
	}

	return toResult(parsed.ParsedResults[0]), nil
}

func toResult(r parsedResult) ocrsched.OCRResult {
	var blocks []ocrsched.TextBlock
	for _, line := range r.TextOverlay.Lines {
		blocks = append(blocks, ocrsched.TextBlock{
			Text:   line.LineText,
			Bounds: lineBounds(line.Words),
			// The API reports no per-line confidence; a successful parse is
			// treated as high confidence.
			Confidence: 0.9,
		})
	}
	return ocrsched.OCRResult{
		Text:       strings.TrimSpace(r.ParsedText),
		Confidence: 0.9,
		Provider:   "ocrspace",
		Blocks:     blocks,
	}
}

func lineBounds(words []overlayWord) ocrsched.Bounds {
	if len(words) == 0 {
		return ocrsched.Bounds{}
	}
	b := ocrsched.Bounds{X: words[0].Left, Y: words[0].Top}
	maxX, maxY := words[0].Left+words[0].Width, words[0].Top+words[0].Height
	for _, w := range words[1:] {
		if w.Left < b.X {
			b.X = w.Left
		}
		if w.Top < b.Y {
			b.Y = w.Top
		}
		if w.Left+w.Width > maxX {
			maxX = w.Left + w.Width
		}
		if w.Top+w.Height > maxY {
			maxY = w.Top + w.Height
		}
	}
	b.Width = maxX - b.X
	b.Height = maxY - b.Y
	return b
}

func truncate(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
