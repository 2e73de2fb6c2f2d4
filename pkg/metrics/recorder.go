// Package metrics provides metrics recording for questionnaire operations.
package metrics

import (
	"time"
)

// Recorder defines the interface for recording questionnaire metrics.
type Recorder interface {
	// ObserveDelivery records a completed submission delivery attempt.
	ObserveDelivery(success bool, attempts int, duration time.Duration)

	// IncValidationFailure increments the failure counter for a step/kind pair.
	IncValidationFailure(stepID, kind string)

	// IncStepEntered increments the entry counter for a step.
	IncStepEntered(stepID string)

	// IncStorageError counts storage problems by class (probe, quota, write).
	IncStorageError(class string)

	// IncLockoutHit counts submissions refused by the duplicate lockout.
	IncLockoutHit()
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

// ObserveDelivery does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveDelivery(_ bool, _ int, _ time.Duration) {}

// IncValidationFailure does nothing in the no-op recorder.
func (n *NoopRecorder) IncValidationFailure(_, _ string) {}

// IncStepEntered does nothing in the no-op recorder.
func (n *NoopRecorder) IncStepEntered(_ string) {}

// IncStorageError does nothing in the no-op recorder.
func (n *NoopRecorder) IncStorageError(_ string) {}

// IncLockoutHit does nothing in the no-op recorder.
func (n *NoopRecorder) IncLockoutHit() {}
