package ocrsched

// warnThreshold is the quota fraction at which the gate starts reporting
// WarnApproaching.
const warnThreshold = 0.8

// RateLimitGate composes the token bucket and the quota tracker into a
// single admit/deny decision. Admit is pure computation; it never suspends.
type RateLimitGate struct {
	limiter *TokenBucketLimiter
	quota   *QuotaTracker
}

// NewRateLimitGate creates a gate over the given limiter and tracker.
func NewRateLimitGate(limiter *TokenBucketLimiter, quota *QuotaTracker) *RateLimitGate {
	return &RateLimitGate{limiter: limiter, quota: quota}
}

// Admit decides whether one request may proceed for the provider. A request
// is allowed only when the bucket has a token and neither quota window is
// exhausted. Quota is checked before the bucket so a quota-denied request
// does not burn a token.
func (g *RateLimitGate) Admit(provider ProviderID) RateLimitStatus {
	qd := g.quota.CheckAndReserve(provider)

	status := RateLimitStatus{
		DailyRemaining:   qd.DailyRemaining,
		MonthlyRemaining: qd.MonthlyRemaining,
	}

	if !qd.Allowed {
		status.TokensRemaining = g.limiter.Tokens(provider)
		status.Warning = WarnCritical
		return status
	}

	allowed, remaining, retryAfter := g.limiter.TryConsume(provider)
	status.Allowed = allowed
	status.TokensRemaining = remaining
	status.RetryAfter = retryAfter
	status.Warning = classify(allowed, qd)
	return status
}

// Status reports the current limits without consuming a token.
func (g *RateLimitGate) Status(provider ProviderID) RateLimitStatus {
	qd := g.quota.CheckAndReserve(provider)
	tokensOK, tokens := g.limiter.Peek(provider)

	return RateLimitStatus{
		Allowed:          qd.Allowed && tokensOK,
		TokensRemaining:  tokens,
		DailyRemaining:   qd.DailyRemaining,
		MonthlyRemaining: qd.MonthlyRemaining,
		Warning:          classify(tokensOK, qd),
	}
}

func classify(tokensOK bool, qd QuotaDecision) RateLimitWarning {
	if !tokensOK || !qd.Allowed {
		return WarnCritical
	}
	if qd.DailyFraction >= warnThreshold || qd.MonthlyFraction >= warnThreshold {
		return WarnApproaching
	}
	return WarnNone
}
