package meter

import (
	"log/slog"

	"github.com/scandesk/ocrsched"
)

// LogMeter logs scheduling events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ ocrsched.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnAttempt(e ocrsched.AttemptEvent) {
	m.Logger.Info("attempt",
		"provider", string(e.Provider),
		"attempt", e.AttemptNum,
		"priority", e.Priority,
		"warning", e.Warning.String(),
	)
}

func (m *LogMeter) OnResult(e ocrsched.ResultEvent) {
	if e.Success {
		m.Logger.Info("result",
			"provider", string(e.Provider),
			"duration_ms", e.Duration.Milliseconds(),
			"confidence", e.Confidence,
		)
	} else {
		m.Logger.Warn("result_error",
			"provider", string(e.Provider),
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Error,
		)
	}
}

func (m *LogMeter) OnCache(e ocrsched.CacheEvent) {
	m.Logger.Debug("cache",
		"key", e.Key,
		"hit", e.Hit,
	)
}
