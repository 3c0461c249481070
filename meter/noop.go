package meter

import "github.com/scandesk/ocrsched"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ ocrsched.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnAttempt(ocrsched.AttemptEvent) {}
func (m *NoopMeter) OnResult(ocrsched.ResultEvent)   {}
func (m *NoopMeter) OnCache(ocrsched.CacheEvent)     {}
