package ocrsched

import (
	"sync"
	"time"
)

const (
	breakerFailureThreshold = 3
	breakerFailureWindow    = 5 * time.Minute
	breakerCooldown         = 30 * time.Second
)

// AvailabilityState describes a registered provider's liveness.
type AvailabilityState int

const (
	// StateAvailable: the provider may be attempted.
	StateAvailable AvailabilityState = iota
	// StateTripped: repeated failures inside the window; skipped until the
	// cooldown elapses.
	StateTripped
	// StateProbing: cooldown elapsed; the next attempt decides.
	StateProbing
	// StateDisabled: explicitly marked down; only Enable restores it.
	StateDisabled
)

func (s AvailabilityState) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StateTripped:
		return "tripped"
	case StateProbing:
		return "probing"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// ProviderRegistry tracks which providers are configured and whether each
// may currently be attempted. Availability combines the provider's own
// IsAvailable with a failure-window breaker: repeated failures trip the
// provider, a cooldown later it is probed again, and one success restores
// it.
type ProviderRegistry struct {
	mu        sync.RWMutex
	order     []ProviderID
	providers map[ProviderID]*registeredProvider
	now       func() time.Time
}

type registeredProvider struct {
	provider  Provider
	state     AvailabilityState
	failures  []time.Time
	trippedAt time.Time
}

// NewProviderRegistry creates an empty registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[ProviderID]*registeredProvider),
		now:       time.Now,
	}
}

// Register adds a provider. Registration order defines the default fallback
// order. Re-registering an ID replaces the provider and resets its state.
func (r *ProviderRegistry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.Name()
	if _, ok := r.providers[id]; !ok {
		r.order = append(r.order, id)
	}
	r.providers[id] = &registeredProvider{provider: p, state: StateAvailable}
}

// Get returns the provider for id.
func (r *ProviderRegistry) Get(id ProviderID) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rp, ok := r.providers[id]
	if !ok {
		return nil, false
	}
	return rp.provider, true
}

// Order returns the registration order of all providers.
func (r *ProviderRegistry) Order() []ProviderID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProviderID, len(r.order))
	copy(out, r.order)
	return out
}

// Available returns the providers that may currently be attempted, in
// registration order.
func (r *ProviderRegistry) Available() []ProviderID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []ProviderID
	for _, id := range r.order {
		if r.attemptableLocked(r.providers[id]) {
			out = append(out, id)
		}
	}
	return out
}

// IsAvailable reports whether the provider may be attempted right now.
func (r *ProviderRegistry) IsAvailable(id ProviderID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rp, ok := r.providers[id]
	if !ok {
		return false
	}
	return r.attemptableLocked(rp)
}

// State returns the breaker state for the provider.
func (r *ProviderRegistry) State(id ProviderID) AvailabilityState {
	r.mu.Lock()
	defer r.mu.Unlock()

	rp, ok := r.providers[id]
	if !ok {
		return StateDisabled
	}
	r.refreshLocked(rp)
	return rp.state
}

// RecordSuccess restores the provider after a successful call.
func (r *ProviderRegistry) RecordSuccess(id ProviderID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rp, ok := r.providers[id]
	if !ok || rp.state == StateDisabled {
		return
	}
	rp.state = StateAvailable
	rp.failures = rp.failures[:0]
}

// RecordFailure counts a failure toward the breaker window.
func (r *ProviderRegistry) RecordFailure(id ProviderID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rp, ok := r.providers[id]
	if !ok || rp.state == StateDisabled || rp.state == StateTripped {
		return
	}

	now := r.now()
	cutoff := now.Add(-breakerFailureWindow)
	kept := rp.failures[:0]
	for _, t := range rp.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	rp.failures = append(kept, now)

	if len(rp.failures) >= breakerFailureThreshold {
		rp.state = StateTripped
		rp.trippedAt = now
	}
}

// Disable marks the provider permanently unavailable until Enable.
func (r *ProviderRegistry) Disable(id ProviderID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rp, ok := r.providers[id]; ok {
		rp.state = StateDisabled
	}
}

// Enable lifts a Disable and resets the breaker.
func (r *ProviderRegistry) Enable(id ProviderID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rp, ok := r.providers[id]; ok {
		rp.state = StateAvailable
		rp.failures = rp.failures[:0]
	}
}

// refreshLocked advances tripped → probing once the cooldown has elapsed.
func (r *ProviderRegistry) refreshLocked(rp *registeredProvider) {
	if rp.state == StateTripped && r.now().Sub(rp.trippedAt) >= breakerCooldown {
		rp.state = StateProbing
	}
}

func (r *ProviderRegistry) attemptableLocked(rp *registeredProvider) bool {
	r.refreshLocked(rp)
	switch rp.state {
	case StateAvailable, StateProbing:
		return rp.provider.IsAvailable()
	default:
		return false
	}
}
