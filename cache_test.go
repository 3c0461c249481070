package ocrsched

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_GenerateKeyDeterministic(t *testing.T) {
	img := []byte("image-bytes")
	opts := OCROptions{Languages: []string{"eng", "deu"}, DPI: 300}

	assert.Equal(t, GenerateKey(img, opts), GenerateKey(img, opts))

	// Language order doesn't split the cache.
	reordered := OCROptions{Languages: []string{"deu", "eng"}, DPI: 300}
	assert.Equal(t, GenerateKey(img, opts), GenerateKey(img, reordered))

	// Different image or options → different key.
	assert.NotEqual(t, GenerateKey(img, opts), GenerateKey([]byte("other"), opts))
	assert.NotEqual(t, GenerateKey(img, opts), GenerateKey(img, OCROptions{DPI: 150}))
}

func TestCache_PutGetAndTTLExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewResultCache(10, nil, nil)
	now := time.Now()
	c.now = func() time.Time { return now }

	result := OCRResult{Text: "hello", Confidence: 0.9, Provider: "p1"}
	c.Put(ctx, "k1", result, time.Second)

	got, ok := c.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, result, got)

	now = now.Add(1500 * time.Millisecond)
	_, ok = c.Get(ctx, "k1")
	assert.False(t, ok)
}

func TestCache_LRUEviction(t *testing.T) {
	ctx := context.Background()
	c := NewResultCache(3, nil, nil)
	now := time.Now()
	c.now = func() time.Time { return now }

	for i := 1; i <= 3; i++ {
		c.Put(ctx, fmt.Sprintf("k%d", i), OCRResult{Text: fmt.Sprintf("v%d", i)}, time.Hour)
	}

	// Touch k1 so k2 becomes the least recently read.
	_, ok := c.Get(ctx, "k1")
	require.True(t, ok)

	c.Put(ctx, "k4", OCRResult{Text: "v4"}, time.Hour)

	_, ok = c.Get(ctx, "k2")
	assert.False(t, ok, "least-recently-read entry should have been evicted")
	_, ok = c.Get(ctx, "k1")
	assert.True(t, ok)
	_, ok = c.Get(ctx, "k4")
	assert.True(t, ok)
}

func TestCache_ExpiredEvictedBeforeLive(t *testing.T) {
	ctx := context.Background()
	c := NewResultCache(3, nil, nil)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Put(ctx, "short", OCRResult{Text: "short"}, time.Second)
	c.Put(ctx, "live-a", OCRResult{Text: "a"}, time.Hour)
	c.Put(ctx, "live-b", OCRResult{Text: "b"}, time.Hour)

	now = now.Add(2 * time.Second) // "short" is now expired

	// Even though "short" was written first and the live entries were not
	// touched since, insertion evicts the expired entry, not a live one.
	c.Put(ctx, "new", OCRResult{Text: "new"}, time.Hour)

	_, ok := c.Get(ctx, "live-a")
	assert.True(t, ok)
	_, ok = c.Get(ctx, "live-b")
	assert.True(t, ok)
	_, ok = c.Get(ctx, "new")
	assert.True(t, ok)
}

func TestCache_OverwriteSameKey(t *testing.T) {
	ctx := context.Background()
	c := NewResultCache(10, nil, nil)

	c.Put(ctx, "k1", OCRResult{Text: "old"}, time.Hour)
	c.Put(ctx, "k1", OCRResult{Text: "new"}, time.Hour)

	got, ok := c.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, "new", got.Text)
	assert.Equal(t, 1, c.Len())
}

func TestCache_PersistsAndReloadsThroughStore(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()

	first := NewResultCache(10, st, nil)
	first.Put(ctx, "k1", OCRResult{Text: "persisted", Confidence: 0.8}, time.Hour)

	// A fresh cache (new process) finds the entry in the durable store.
	second := NewResultCache(10, st, nil)
	got, ok := second.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, "persisted", got.Text)
}

func TestCache_StoreFailureDoesNotFailPut(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	st.failSet = true
	c := NewResultCache(10, st, nil)

	c.Put(ctx, "k1", OCRResult{Text: "v"}, time.Hour)

	// Entry is still served from memory.
	got, ok := c.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, "v", got.Text)
}
