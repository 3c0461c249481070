package ocrsched

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// QuotaUsageKey is the store key holding the persisted per-provider quota
// record.
const QuotaUsageKey = "scanner_quota_usage"

// QuotaTracker maintains per-provider daily and monthly call counters. The
// daily window resets at local midnight and the monthly window on the 1st;
// both resets are evaluated lazily on access, never by a timer, so an idle
// process still resets correctly on its next check.
//
// Counters are persisted after every mutation. A store failure is logged and
// swallowed: quota tracking degrades to memory-only rather than blocking
// requests.
type QuotaTracker struct {
	mu     sync.Mutex
	usage  map[ProviderID]*quotaUsage
	store  KeyValueStore
	logger *slog.Logger
	now    func() time.Time
}

type quotaWindow struct {
	Used      int64     `json:"used"`
	Limit     int64     `json:"limit"`
	ResetTime time.Time `json:"resetTime"`
}

type quotaUsage struct {
	Daily       quotaWindow `json:"daily"`
	Monthly     quotaWindow `json:"monthly"`
	LastUpdated time.Time   `json:"lastUpdated"`
}

// QuotaDecision is the outcome of a quota check.
type QuotaDecision struct {
	Allowed          bool
	DailyRemaining   int64
	MonthlyRemaining int64
	// DailyFraction and MonthlyFraction are used/limit, 0 when unlimited.
	DailyFraction   float64
	MonthlyFraction float64
}

// NewQuotaTracker creates a tracker backed by store. A nil store keeps quota
// in memory only.
func NewQuotaTracker(store KeyValueStore, logger *slog.Logger) *QuotaTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuotaTracker{
		usage:  make(map[ProviderID]*quotaUsage),
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Configure sets the limits for a provider. A limit of 0 means unlimited for
// that window. Existing used counts are preserved on reconfiguration.
func (t *QuotaTracker) Configure(provider ProviderID, dailyLimit, monthlyLimit int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	u, ok := t.usage[provider]
	if !ok {
		now := t.now()
		u = &quotaUsage{
			Daily:   quotaWindow{ResetTime: nextMidnight(now)},
			Monthly: quotaWindow{ResetTime: nextMonthStart(now)},
		}
		t.usage[provider] = u
	}
	u.Daily.Limit = dailyLimit
	u.Monthly.Limit = monthlyLimit
}

// Load merges persisted usage into the configured providers. Unknown
// providers in the record are ignored; a missing or corrupt record is not an
// error (counters start fresh).
func (t *QuotaTracker) Load(ctx context.Context) {
	if t.store == nil {
		return
	}

	raw, ok, err := t.store.Get(ctx, QuotaUsageKey)
	if err != nil {
		t.logger.Warn("quota load failed, starting fresh", "error", err)
		return
	}
	if !ok {
		return
	}

	var persisted map[ProviderID]*quotaUsage
	if err := json.Unmarshal([]byte(raw), &persisted); err != nil {
		t.logger.Warn("quota record corrupt, starting fresh", "error", err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, saved := range persisted {
		u, ok := t.usage[id]
		if !ok {
			continue
		}
		// Limits come from config; only the runtime state is adopted.
		u.Daily.Used = saved.Daily.Used
		u.Monthly.Used = saved.Monthly.Used
		if !saved.Daily.ResetTime.IsZero() {
			u.Daily.ResetTime = saved.Daily.ResetTime
		}
		if !saved.Monthly.ResetTime.IsZero() {
			u.Monthly.ResetTime = saved.Monthly.ResetTime
		}
		u.LastUpdated = saved.LastUpdated
	}
}

// CheckAndReserve evaluates whether one more call fits in both windows. It
// does not charge the quota; Commit does that once the provider call has
// actually succeeded, so calls that never leave the queue are free.
func (t *QuotaTracker) CheckAndReserve(provider ProviderID) QuotaDecision {
	t.mu.Lock()
	defer t.mu.Unlock()

	u, ok := t.usage[provider]
	if !ok {
		return QuotaDecision{Allowed: true}
	}
	t.maybeReset(u)

	d := QuotaDecision{
		Allowed:          windowHasRoom(u.Daily) && windowHasRoom(u.Monthly),
		DailyRemaining:   windowRemaining(u.Daily),
		MonthlyRemaining: windowRemaining(u.Monthly),
		DailyFraction:    windowFraction(u.Daily),
		MonthlyFraction:  windowFraction(u.Monthly),
	}
	return d
}

// Commit charges one call against both windows and persists the record.
func (t *QuotaTracker) Commit(ctx context.Context, provider ProviderID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	u, ok := t.usage[provider]
	if !ok {
		return
	}
	t.maybeReset(u)
	u.Daily.Used++
	u.Monthly.Used++
	u.LastUpdated = t.now()
	t.persistLocked(ctx)
}

// Reset zeroes both windows for a provider (admin/testing override) and
// persists the record.
func (t *QuotaTracker) Reset(ctx context.Context, provider ProviderID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	u, ok := t.usage[provider]
	if !ok {
		return
	}
	now := t.now()
	u.Daily.Used = 0
	u.Daily.ResetTime = nextMidnight(now)
	u.Monthly.Used = 0
	u.Monthly.ResetTime = nextMonthStart(now)
	u.LastUpdated = now
	t.persistLocked(ctx)
}

// Flush writes the current record to the store. Used on shutdown.
func (t *QuotaTracker) Flush(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.persistLocked(ctx)
}

// maybeReset applies lazy window resets. Must be called with the lock held.
func (t *QuotaTracker) maybeReset(u *quotaUsage) {
	now := t.now()
	if !now.Before(u.Daily.ResetTime) {
		u.Daily.Used = 0
		u.Daily.ResetTime = nextMidnight(now)
	}
	if !now.Before(u.Monthly.ResetTime) {
		u.Monthly.Used = 0
		u.Monthly.ResetTime = nextMonthStart(now)
	}
}

// persistLocked serializes the whole record to the store. Failures are
// logged and swallowed; see type docs. Must be called with the lock held.
func (t *QuotaTracker) persistLocked(ctx context.Context) {
	if t.store == nil {
		return
	}
	data, err := json.Marshal(t.usage)
	if err != nil {
		t.logger.Warn("quota marshal failed", "error", err)
		return
	}
	if err := t.store.Set(ctx, QuotaUsageKey, string(data)); err != nil {
		t.logger.Warn("quota persist failed, continuing in memory", "error", err)
	}
}

func windowHasRoom(w quotaWindow) bool {
	return w.Limit <= 0 || w.Used < w.Limit
}

func windowRemaining(w quotaWindow) int64 {
	if w.Limit <= 0 {
		return -1
	}
	if r := w.Limit - w.Used; r > 0 {
		return r
	}
	return 0
}

func windowFraction(w quotaWindow) float64 {
	if w.Limit <= 0 {
		return 0
	}
	return float64(w.Used) / float64(w.Limit)
}

func nextMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
}

func nextMonthStart(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, now.Location())
}
