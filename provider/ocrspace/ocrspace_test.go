package ocrspace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/scandesk/ocrsched"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractText_ParsesOverlay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.Header.Get("apikey"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "eng", r.FormValue("language"))
		assert.NotEmpty(t, r.FormValue("base64Image"))

		resp := parseResponse{
			ParsedResults: []parsedResult{
				{
					ParsedText: "TOTAL 42.00\n",
					TextOverlay: textOverlay{
						Lines: []overlayLine{
							{
								LineText: "TOTAL 42.00",
								Words: []overlayWord{
									{WordText: "TOTAL", Left: 10, Top: 20, Width: 50, Height: 12},
									{WordText: "42.00", Left: 70, Top: 20, Width: 40, Height: 12},
								},
							},
						},
					},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := New("test-key", WithBaseURL(srv.URL))
	result, err := p.ExtractText(context.Background(), []byte("img"),
		ocrsched.OCROptions{Languages: []string{"eng"}})
	require.NoError(t, err)

	assert.Equal(t, "TOTAL 42.00", result.Text)
	require.Len(t, result.Blocks, 1)
	assert.Equal(t, "TOTAL 42.00", result.Blocks[0].Text)
	assert.Equal(t, 10.0, result.Blocks[0].Bounds.X)
	assert.Equal(t, 100.0, result.Blocks[0].Bounds.Width)
}

func TestExtractText_RateLimitMapsToSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := New("test-key", WithBaseURL(srv.URL))
	_, err := p.ExtractText(context.Background(), []byte("img"), ocrsched.OCROptions{})
	assert.ErrorIs(t, err, ocrsched.ErrRateLimited)
}

func TestExtractText_ProcessingErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(parseResponse{IsErrored: true, ErrorMessage: "bad image"})
	}))
	defer srv.Close()

	p := New("test-key", WithBaseURL(srv.URL))
	_, err := p.ExtractText(context.Background(), []byte("img"), ocrsched.OCROptions{})
	assert.ErrorContains(t, err, "processing failed")
}

func TestIsAvailable_RequiresAPIKey(t *testing.T) {
	assert.False(t, New("").IsAvailable())
	assert.True(t, New("key").IsAvailable())
}
