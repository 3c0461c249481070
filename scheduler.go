package ocrsched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

type schedulerState int

const (
	stateIdle schedulerState = iota
	stateReady
	stateFailed
	stateClosed
)

// Scheduler is the facade other subsystems call. It wires the cache, the
// rate-limit gate, the per-provider queues and the fallback loop together
// behind ExtractText.
//
// Construction is cheap; loading persisted state happens once, lazily, on
// the first call. Concurrent callers during initialization share the single
// in-flight initialization. An initialization failure is sticky: every
// subsequent call fails with ErrInitFailed until a new Scheduler is built.
type Scheduler struct {
	cfg      Config
	registry *ProviderRegistry
	limiter  *TokenBucketLimiter
	quota    *QuotaTracker
	gate     *RateLimitGate
	queue    *PriorityRequestQueue
	cache    *ResultCache
	orch     *fallbackOrchestrator
	meter    Meter
	logger   *slog.Logger
	store    KeyValueStore

	initGroup singleflight.Group
	mu        sync.Mutex
	state     schedulerState
	initErr   error
	preferred ProviderID

	cacheCapacity int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithStore sets the durable key-value store for quota and cache
// persistence. Without it, state is process-lifetime only.
func WithStore(store KeyValueStore) Option {
	return func(s *Scheduler) { s.store = store }
}

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(s *Scheduler) { s.meter = m }
}

// WithLogger sets the logger used for swallowed-error reporting.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithCacheCapacity overrides the cache entry limit from the config.
func WithCacheCapacity(n int) Option {
	return func(s *Scheduler) { s.cacheCapacity = n }
}

// New creates a Scheduler for the given config and providers. Every provider
// named in the config must be present in providers; extra providers are
// registered with unlimited rate limits.
func New(cfg Config, providers []Provider, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("ocrsched: at least one provider is required")
	}

	s := &Scheduler{
		cfg:       cfg,
		registry:  NewProviderRegistry(),
		limiter:   NewTokenBucketLimiter(),
		preferred: cfg.PreferredProvider,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.meter == nil {
		s.meter = noopMeter{}
	}

	for _, p := range providers {
		s.registry.Register(p)
	}

	s.quota = NewQuotaTracker(s.store, s.logger)
	s.gate = NewRateLimitGate(s.limiter, s.quota)
	s.queue = NewPriorityRequestQueue(s.gate, s.logger)
	capacity := cfg.Cache.MaxEntries
	if s.cacheCapacity > 0 {
		capacity = s.cacheCapacity
	}
	s.cache = NewResultCache(capacity, s.store, s.logger)
	s.orch = &fallbackOrchestrator{
		registry: s.registry,
		gate:     s.gate,
		queue:    s.queue,
		quota:    s.quota,
		meter:    s.meter,
		logger:   s.logger,
	}
	return s, nil
}

// ensureInit runs initialization exactly once, shared across concurrent
// callers.
func (s *Scheduler) ensureInit(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case stateReady:
		s.mu.Unlock()
		return nil
	case stateFailed:
		err := s.initErr
		s.mu.Unlock()
		return err
	case stateClosed:
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	_, err, _ := s.initGroup.Do("init", func() (any, error) {
		return nil, s.initialize(ctx)
	})
	return err
}

func (s *Scheduler) initialize(ctx context.Context) error {
	fail := func(err error) error {
		wrapped := fmt.Errorf("%w: %v", ErrInitFailed, err)
		s.mu.Lock()
		s.state = stateFailed
		s.initErr = wrapped
		s.mu.Unlock()
		return wrapped
	}

	for _, pc := range s.cfg.Providers {
		if _, ok := s.registry.Get(pc.ID); !ok {
			return fail(fmt.Errorf("configured provider %q has no implementation", pc.ID))
		}
		if pc.RequestsPerMinute > 0 {
			s.limiter.Configure(pc.ID, pc.RequestsPerMinute, pc.BurstCapacity)
		}
		s.quota.Configure(pc.ID, pc.DailyQuota, pc.MonthlyQuota)
	}

	s.quota.Load(ctx)

	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.state = stateReady
	s.mu.Unlock()

	s.logger.Info("scheduler ready",
		"providers", len(s.cfg.Providers),
		"preferred", string(s.preferred),
		"cache_enabled", !s.cfg.Cache.Disabled)
	return nil
}

// ExtractText runs one extraction: cache lookup first, then ordered provider
// fallback. Degraded outcomes come back as an OCRResult with Err set; the
// error return is reserved for initialization failure and ctx cancellation.
func (s *Scheduler) ExtractText(ctx context.Context, image []byte, opts OCROptions) (OCRResult, error) {
	if err := s.ensureInit(ctx); err != nil {
		return OCRResult{}, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = s.cfg.DefaultTimeout
	}

	key := GenerateKey(image, opts)
	if !s.cfg.Cache.Disabled {
		if result, ok := s.cache.Get(ctx, key); ok {
			s.meter.OnCache(CacheEvent{Key: key, Hit: true})
			return result, nil
		}
		s.meter.OnCache(CacheEvent{Key: key, Hit: false})
	}

	result, err := s.orch.extract(ctx, image, opts, s.providerOrder())
	if err != nil {
		return OCRResult{}, err
	}

	if !result.Degraded() && !s.cfg.Cache.Disabled {
		s.cache.Put(ctx, key, result, s.cfg.Cache.TTL)
	}
	return result, nil
}

// providerOrder is the fallback order: preferred provider first, then
// registration order.
func (s *Scheduler) providerOrder() []ProviderID {
	s.mu.Lock()
	preferred := s.preferred
	s.mu.Unlock()

	order := s.registry.Order()
	if preferred == "" {
		return order
	}
	out := make([]ProviderID, 0, len(order))
	out = append(out, preferred)
	for _, id := range order {
		if id != preferred {
			out = append(out, id)
		}
	}
	return out
}

// AvailableProviders returns the providers that may currently be attempted.
func (s *Scheduler) AvailableProviders() []ProviderID {
	return s.registry.Available()
}

// SetPreferredProvider moves the given provider to the front of the fallback
// order. It errors when the provider is unknown or currently unavailable.
func (s *Scheduler) SetPreferredProvider(id ProviderID) error {
	if _, ok := s.registry.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	if !s.registry.IsAvailable(id) {
		return fmt.Errorf("%w: %s", ErrProviderUnavailable, id)
	}
	s.mu.Lock()
	s.preferred = id
	s.mu.Unlock()
	return nil
}

// ProviderStatus returns the current rate-limit status of one provider
// without consuming a token.
func (s *Scheduler) ProviderStatus(ctx context.Context, id ProviderID) (RateLimitStatus, error) {
	if err := s.ensureInit(ctx); err != nil {
		return RateLimitStatus{}, err
	}
	if _, ok := s.registry.Get(id); !ok {
		return RateLimitStatus{}, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return s.gate.Status(id), nil
}

// AllProviderStatuses returns the status of every registered provider.
func (s *Scheduler) AllProviderStatuses(ctx context.Context) (map[ProviderID]RateLimitStatus, error) {
	if err := s.ensureInit(ctx); err != nil {
		return nil, err
	}
	out := make(map[ProviderID]RateLimitStatus)
	for _, id := range s.registry.Order() {
		out[id] = s.gate.Status(id)
	}
	return out, nil
}

// HealthCheck reports scheduler liveness: healthy when initialized and at
// least one provider is attemptable.
func (s *Scheduler) HealthCheck(ctx context.Context) HealthReport {
	report := HealthReport{}

	if err := s.ensureInit(ctx); err != nil {
		report.Issues = append(report.Issues, err.Error())
		return report
	}

	report.AvailableProviders = s.registry.Available()
	if len(report.AvailableProviders) == 0 {
		report.Issues = append(report.Issues, "no providers available")
		return report
	}

	for _, id := range s.registry.Order() {
		if st := s.gate.Status(id); st.Warning == WarnCritical {
			report.Issues = append(report.Issues,
				fmt.Sprintf("provider %s at limit", id))
		}
	}

	report.Healthy = true
	return report
}

// Close flushes persisted quota state and clears all queues. The scheduler
// is unusable afterwards.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = stateClosed
	s.mu.Unlock()

	s.queue.Close()
	s.quota.Flush(context.Background())
	return nil
}

// noopMeter is the default meter.
type noopMeter struct{}

func (noopMeter) OnAttempt(AttemptEvent) {}
func (noopMeter) OnResult(ResultEvent)   {}
func (noopMeter) OnCache(CacheEvent)     {}
