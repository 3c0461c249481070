package ocrsched_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/scandesk/ocrsched"
	"github.com/scandesk/ocrsched/meter"
	"github.com/scandesk/ocrsched/provider/mock"
	"github.com/scandesk/ocrsched/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, cfg ocrsched.Config, providers []ocrsched.Provider, opts ...ocrsched.Option) *ocrsched.Scheduler {
	t.Helper()
	opts = append(opts, ocrsched.WithMeter(&meter.NoopMeter{}))
	s, err := ocrsched.New(cfg, providers, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func unlimited(id ocrsched.ProviderID) ocrsched.ProviderConfig {
	return ocrsched.ProviderConfig{ID: id}
}

func TestExtractText_Success(t *testing.T) {
	prov := mock.New(mock.WithText("scanned text"), mock.WithConfidence(0.92))
	cfg := ocrsched.Config{Providers: []ocrsched.ProviderConfig{unlimited("mock")}}
	s := newTestScheduler(t, cfg, []ocrsched.Provider{prov})

	result, err := s.ExtractText(context.Background(), []byte("img"), ocrsched.OCROptions{})
	require.NoError(t, err)
	assert.False(t, result.Degraded())
	assert.Equal(t, "scanned text", result.Text)
	assert.Equal(t, ocrsched.ProviderID("mock"), result.Provider)
	assert.InDelta(t, 0.92, result.Confidence, 0.001)
}

func TestExtractText_CacheHitSkipsProvider(t *testing.T) {
	prov := mock.New()
	cfg := ocrsched.Config{
		Providers: []ocrsched.ProviderConfig{unlimited("mock")},
		Cache:     ocrsched.CacheConfig{TTL: time.Hour},
	}
	s := newTestScheduler(t, cfg, []ocrsched.Provider{prov})

	ctx := context.Background()
	img := []byte("same-image")
	opts := ocrsched.OCROptions{Languages: []string{"eng"}}

	first, err := s.ExtractText(ctx, img, opts)
	require.NoError(t, err)
	second, err := s.ExtractText(ctx, img, opts)
	require.NoError(t, err)

	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, int64(1), prov.Calls(), "second call must be served from cache")
}

// Priority list [A,B]: A denied by the gate, B admitted and succeeds. The
// final result is B's; A's denial is recorded, not thrown.
func TestExtractText_FallsBackWhenGateDenies(t *testing.T) {
	provA := mock.New(mock.WithName("a"), mock.WithText("from A"))
	provB := mock.New(mock.WithName("b"), mock.WithText("from B"))

	cfg := ocrsched.Config{
		PreferredProvider: "a",
		Providers: []ocrsched.ProviderConfig{
			{ID: "a", RequestsPerMinute: 1, BurstCapacity: 1},
			unlimited("b"),
		},
		Cache: ocrsched.CacheConfig{Disabled: true},
	}
	s := newTestScheduler(t, cfg, []ocrsched.Provider{provA, provB})

	ctx := context.Background()

	// First call consumes A's only token.
	result, err := s.ExtractText(ctx, []byte("img-1"), ocrsched.OCROptions{})
	require.NoError(t, err)
	require.Equal(t, ocrsched.ProviderID("a"), result.Provider)

	// Second call: A is token-starved, B serves.
	result, err = s.ExtractText(ctx, []byte("img-2"), ocrsched.OCROptions{})
	require.NoError(t, err)
	assert.False(t, result.Degraded())
	assert.Equal(t, ocrsched.ProviderID("b"), result.Provider)
	assert.Equal(t, "from B", result.Text)
}

func TestExtractText_AllProvidersFailed_DegradedResultNotError(t *testing.T) {
	boom := errors.New("provider exploded")
	provA := mock.New(mock.WithName("a"), mock.WithError(boom))
	provB := mock.New(mock.WithName("b"), mock.WithError(boom))

	cfg := ocrsched.Config{
		Providers: []ocrsched.ProviderConfig{unlimited("a"), unlimited("b")},
		Cache:     ocrsched.CacheConfig{Disabled: true},
	}
	s := newTestScheduler(t, cfg, []ocrsched.Provider{provA, provB})

	result, err := s.ExtractText(context.Background(), []byte("img"), ocrsched.OCROptions{})
	require.NoError(t, err, "exhaustion must not surface as an error")
	require.True(t, result.Degraded())
	assert.Equal(t, ocrsched.CodeAllProvidersFailed, result.Err.Code)
	assert.True(t, result.Err.Retryable)
	assert.InDelta(t, 0.1, result.Confidence, 0.001)
	assert.Equal(t, ocrsched.ProviderFallback, result.Provider)
}

func TestExtractText_AllGateDenied_RateLimitedCode(t *testing.T) {
	provA := mock.New(mock.WithName("a"))
	provB := mock.New(mock.WithName("b"))

	cfg := ocrsched.Config{
		Providers: []ocrsched.ProviderConfig{
			{ID: "a", RequestsPerMinute: 1, BurstCapacity: 1},
			{ID: "b", RequestsPerMinute: 1, BurstCapacity: 1},
		},
		Cache: ocrsched.CacheConfig{Disabled: true},
	}
	s := newTestScheduler(t, cfg, []ocrsched.Provider{provA, provB})

	ctx := context.Background()

	// Exhaust both buckets.
	_, err := s.ExtractText(ctx, []byte("img-1"), ocrsched.OCROptions{})
	require.NoError(t, err)
	_, err = s.ExtractText(ctx, []byte("img-2"), ocrsched.OCROptions{})
	require.NoError(t, err)

	result, err := s.ExtractText(ctx, []byte("img-3"), ocrsched.OCROptions{})
	require.NoError(t, err)
	require.True(t, result.Degraded())
	assert.Equal(t, ocrsched.CodeRateLimited, result.Err.Code)
}

func TestExtractText_SkipsUnavailableProvider(t *testing.T) {
	provA := mock.New(mock.WithName("a"), mock.WithUnavailable())
	provB := mock.New(mock.WithName("b"), mock.WithText("from B"))

	cfg := ocrsched.Config{
		Providers: []ocrsched.ProviderConfig{unlimited("a"), unlimited("b")},
		Cache:     ocrsched.CacheConfig{Disabled: true},
	}
	s := newTestScheduler(t, cfg, []ocrsched.Provider{provA, provB})

	result, err := s.ExtractText(context.Background(), []byte("img"), ocrsched.OCROptions{})
	require.NoError(t, err)
	assert.Equal(t, ocrsched.ProviderID("b"), result.Provider)
	assert.Equal(t, int64(0), provA.Calls())
}

func TestInitFailure_IsSticky(t *testing.T) {
	prov := mock.New()
	cfg := ocrsched.Config{
		Providers: []ocrsched.ProviderConfig{unlimited("mock"), unlimited("ghost")},
	}
	s := newTestScheduler(t, cfg, []ocrsched.Provider{prov})

	_, err := s.ExtractText(context.Background(), []byte("img"), ocrsched.OCROptions{})
	require.ErrorIs(t, err, ocrsched.ErrInitFailed)

	// Not retried silently: the failure is permanent for this instance.
	_, err = s.ExtractText(context.Background(), []byte("img"), ocrsched.OCROptions{})
	assert.ErrorIs(t, err, ocrsched.ErrInitFailed)
	assert.Equal(t, int64(0), prov.Calls())
}

func TestConcurrentCallsShareInitialization(t *testing.T) {
	prov := mock.New()
	cfg := ocrsched.Config{
		Providers: []ocrsched.ProviderConfig{unlimited("mock")},
		Cache:     ocrsched.CacheConfig{Disabled: true},
	}
	s := newTestScheduler(t, cfg, []ocrsched.Provider{prov})

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = s.ExtractText(context.Background(), []byte{byte(idx)}, ocrsched.OCROptions{})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestSetPreferredProvider(t *testing.T) {
	provA := mock.New(mock.WithName("a"))
	provB := mock.New(mock.WithName("b"), mock.WithUnavailable())

	cfg := ocrsched.Config{
		Providers: []ocrsched.ProviderConfig{unlimited("a"), unlimited("b")},
	}
	s := newTestScheduler(t, cfg, []ocrsched.Provider{provA, provB})

	assert.NoError(t, s.SetPreferredProvider("a"))
	assert.ErrorIs(t, s.SetPreferredProvider("nope"), ocrsched.ErrUnknownProvider)
	assert.ErrorIs(t, s.SetPreferredProvider("b"), ocrsched.ErrProviderUnavailable)
}

func TestProviderStatuses(t *testing.T) {
	prov := mock.New()
	cfg := ocrsched.Config{
		Providers: []ocrsched.ProviderConfig{
			{ID: "mock", RequestsPerMinute: 60, BurstCapacity: 10, DailyQuota: 100, MonthlyQuota: 1000},
		},
	}
	s := newTestScheduler(t, cfg, []ocrsched.Provider{prov})
	ctx := context.Background()

	status, err := s.ProviderStatus(ctx, "mock")
	require.NoError(t, err)
	assert.True(t, status.Allowed)
	assert.Equal(t, int64(100), status.DailyRemaining)
	assert.Equal(t, ocrsched.WarnNone, status.Warning)

	_, err = s.ProviderStatus(ctx, "nope")
	assert.ErrorIs(t, err, ocrsched.ErrUnknownProvider)

	all, err := s.AllProviderStatuses(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Contains(t, all, ocrsched.ProviderID("mock"))
}

func TestHealthCheck(t *testing.T) {
	prov := mock.New()
	cfg := ocrsched.Config{Providers: []ocrsched.ProviderConfig{unlimited("mock")}}
	s := newTestScheduler(t, cfg, []ocrsched.Provider{prov})

	report := s.HealthCheck(context.Background())
	assert.True(t, report.Healthy)
	assert.Equal(t, []ocrsched.ProviderID{"mock"}, report.AvailableProviders)
	assert.Empty(t, report.Issues)

	prov.SetAvailable(false)
	report = s.HealthCheck(context.Background())
	assert.False(t, report.Healthy)
	assert.Contains(t, report.Issues, "no providers available")
}

func TestQuotaSurvivesRestart(t *testing.T) {
	st := store.NewMemory()
	cfg := ocrsched.Config{
		Providers: []ocrsched.ProviderConfig{
			{ID: "mock", DailyQuota: 10, MonthlyQuota: 100},
		},
		Cache: ocrsched.CacheConfig{Disabled: true},
	}
	ctx := context.Background()

	first := newTestScheduler(t, cfg, []ocrsched.Provider{mock.New()}, ocrsched.WithStore(st))
	_, err := first.ExtractText(ctx, []byte("img"), ocrsched.OCROptions{})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// A new scheduler over the same store sees the charged quota.
	second := newTestScheduler(t, cfg, []ocrsched.Provider{mock.New()}, ocrsched.WithStore(st))
	status, err := second.ProviderStatus(ctx, "mock")
	require.NoError(t, err)
	assert.Equal(t, int64(9), status.DailyRemaining)
	assert.Equal(t, int64(99), status.MonthlyRemaining)
}

func TestClose_RejectsFurtherWork(t *testing.T) {
	prov := mock.New()
	cfg := ocrsched.Config{Providers: []ocrsched.ProviderConfig{unlimited("mock")}}
	s, err := ocrsched.New(cfg, []ocrsched.Provider{prov})
	require.NoError(t, err)

	_, err = s.ExtractText(context.Background(), []byte("img"), ocrsched.OCROptions{})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	_, err = s.ExtractText(context.Background(), []byte("img-2"), ocrsched.OCROptions{})
	assert.ErrorIs(t, err, ocrsched.ErrClosed)
}

func TestExtractText_ProviderTimeoutDegrades(t *testing.T) {
	prov := mock.New(mock.WithLatency(2 * time.Second))
	cfg := ocrsched.Config{
		Providers: []ocrsched.ProviderConfig{unlimited("mock")},
		Cache:     ocrsched.CacheConfig{Disabled: true},
	}
	s := newTestScheduler(t, cfg, []ocrsched.Provider{prov})

	start := time.Now()
	result, err := s.ExtractText(context.Background(), []byte("img"),
		ocrsched.OCROptions{Timeout: 100 * time.Millisecond})
	require.NoError(t, err)
	assert.True(t, result.Degraded())
	assert.Less(t, time.Since(start), time.Second)
}
