// Package service defines the interfaces for domain services.
package service

import (
	"time"
)

// Metrics defines the interface for collecting guard metrics.
// This abstraction keeps the engine and guard independent of the monitoring backend.
type Metrics interface {
	// RecordDecision counts a final guard decision. mode is "shadow", "enforce" or
	// "disabled"; outcome is the true (pre-shadow) outcome.
	RecordDecision(action, outcome, reason, mode string)

	// RecordStoreUnavailable counts a store call that failed open.
	RecordStoreUnavailable(operation string)

	// RecordDispatch counts abuse event dispatch results: "ok", "failed", "dropped".
	RecordDispatch(result string)

	// ObserveEvaluation records how long the decision engine took.
	ObserveEvaluation(action string, duration time.Duration)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordDecision(action, outcome, reason, mode string)     {}
func (NoopMetrics) RecordStoreUnavailable(operation string)                 {}
func (NoopMetrics) RecordDispatch(result string)                            {}
func (NoopMetrics) ObserveEvaluation(action string, duration time.Duration) {}

var _ Metrics = NoopMetrics{}
