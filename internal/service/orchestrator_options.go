package service

import "time"

type OrchestratorOption func(*Orchestrator)

func WithChannelTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.channelTimeout = timeout
		}
	}
}

// WithClock overrides the time source; quiet-hours and digest scheduling
// become deterministic in tests.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}
