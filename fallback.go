package ocrsched

import (
	"context"
	"log/slog"
	"time"
)

// fallbackOrchestrator tries providers in order, applying the gate and the
// per-provider queue to each attempt and moving on when one fails. It is a
// straight-line loop on purpose: there is exactly one fallback policy.
type fallbackOrchestrator struct {
	registry *ProviderRegistry
	gate     *RateLimitGate
	queue    *PriorityRequestQueue
	quota    *QuotaTracker
	meter    Meter
	logger   *slog.Logger
}

// extract walks the ordered provider list. The returned result is always
// usable: on total failure it is a degraded placeholder carrying the error
// taxonomy, never a panic or a bare error (the only error returns are ctx
// cancellation).
func (f *fallbackOrchestrator) extract(
	ctx context.Context,
	image []byte,
	opts OCROptions,
	order []ProviderID,
) (OCRResult, error) {
	var (
		lastErr  error
		attempts int
		denials  int
	)

	for _, id := range order {
		if ctx.Err() != nil {
			return OCRResult{}, ctx.Err()
		}

		if !f.registry.IsAvailable(id) {
			f.logger.Debug("skipping unavailable provider", "provider", id)
			lastErr = ErrProviderUnavailable
			continue
		}

		// Non-consuming preview: a denied provider is skipped immediately
		// instead of blocking on its cooldown while others could serve. The
		// queue worker performs the consuming admit before running.
		status := f.gate.Status(id)
		if !status.Allowed {
			f.logger.Debug("gate denied provider, trying next",
				"provider", id,
				"tokens", status.TokensRemaining,
				"daily_remaining", status.DailyRemaining,
				"warning", status.Warning.String())
			denials++
			lastErr = ErrRateLimited
			continue
		}

		attempts++
		f.meter.OnAttempt(AttemptEvent{
			Provider:   id,
			AttemptNum: attempts,
			Priority:   opts.Priority,
			Warning:    status.Warning,
		})

		provider, ok := f.registry.Get(id)
		if !ok {
			lastErr = ErrUnknownProvider
			continue
		}

		start := time.Now()
		result, err := f.queue.Enqueue(ctx, id, opts.Priority, opts.Timeout,
			func(workCtx context.Context) (OCRResult, error) {
				return provider.ExtractText(workCtx, image, opts)
			})
		duration := time.Since(start)

		if err != nil {
			f.registry.RecordFailure(id)
			f.meter.OnResult(ResultEvent{
				Provider: id,
				Success:  false,
				Duration: duration,
				Error:    err,
			})
			if ctx.Err() != nil {
				return OCRResult{}, ctx.Err()
			}
			lastErr = err
			continue
		}

		// Quota is charged only now, after the provider call actually
		// succeeded; queued calls that never ran cost nothing.
		f.quota.Commit(ctx, id)
		f.registry.RecordSuccess(id)
		f.meter.OnResult(ResultEvent{
			Provider:   id,
			Success:    true,
			Duration:   duration,
			Confidence: result.Confidence,
		})

		result.Provider = id
		result.ProcessingTimeMs = duration.Milliseconds()
		return result, nil
	}

	return f.exhausted(order, attempts, denials, lastErr), nil
}

// exhausted builds the terminal placeholder result after the provider list
// ran out.
func (f *fallbackOrchestrator) exhausted(order []ProviderID, attempts, denials int, lastErr error) OCRResult {
	code := CodeAllProvidersFailed
	msg := "all providers failed"
	if attempts == 0 && denials > 0 {
		// Every provider was turned away at the gate before any call was
		// made.
		code = CodeRateLimited
		msg = "all providers rate limited"
	}
	if lastErr != nil {
		msg = msg + ": " + lastErr.Error()
	}

	f.logger.Warn("extraction exhausted provider list",
		"providers", len(order), "attempts", attempts, "code", string(code))

	return OCRResult{
		Confidence: 0.1,
		Provider:   ProviderFallback,
		Err: &ResultError{
			Code:      code,
			Message:   msg,
			Retryable: true,
		},
	}
}
