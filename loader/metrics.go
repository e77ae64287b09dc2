package loader

import "time"

// Outcome classifies how a worker finished.
type Outcome int

const (
	// OutcomeLoaded — fetch and decode succeeded.
	OutcomeLoaded Outcome = iota
	// OutcomeFailed — network or decode failure.
	OutcomeFailed
	// OutcomeCancelled — cancelled by the caller.
	OutcomeCancelled
)

// Metrics exposes dispatcher-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Launched()
	Completed(outcome Outcome, d time.Duration)
	Depth(active, pending int)
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Launched()                        {}
func (NoopMetrics) Completed(Outcome, time.Duration) {}
func (NoopMetrics) Depth(active, pending int)        {}

var _ Metrics = NoopMetrics{}
