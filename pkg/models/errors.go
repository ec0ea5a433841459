package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies user-visible failures.
type ErrorKind string

const (
	// KindValidation marks bad submission parameters, rejected synchronously.
	KindValidation ErrorKind = "validation"
	// KindProvider marks a failed AI backend call (auth, network, rate limit).
	KindProvider ErrorKind = "provider"
	// KindTimeout marks a deadline exceeded.
	KindTimeout ErrorKind = "timeout"
	// KindCancellation marks a user-initiated stop.
	KindCancellation ErrorKind = "cancellation"
	// KindStepExecution marks a failure in a step's own logic.
	KindStepExecution ErrorKind = "step_execution"
	// KindCircuitOpen marks a fast-fail while a circuit breaker is open.
	KindCircuitOpen ErrorKind = "circuit_open"
)

// ValidationError reports invalid submission parameters.
// It is returned synchronously; the task never enters the queue.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Kind returns the error classification.
func (e *ValidationError) Kind() ErrorKind { return KindValidation }

// ProviderError reports a failed call to an AI backend.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Kind returns the error classification.
func (e *ProviderError) Kind() ErrorKind { return KindProvider }

// TimeoutError reports an exceeded task deadline.
type TimeoutError struct {
	TaskID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s exceeded deadline of %s", e.TaskID, e.Timeout)
}

// Kind returns the error classification.
func (e *TimeoutError) Kind() ErrorKind { return KindTimeout }

// CancellationError reports a user-initiated stop.
type CancellationError struct {
	TaskID string
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("task %s cancelled", e.TaskID)
}

// Kind returns the error classification.
func (e *CancellationError) Kind() ErrorKind { return KindCancellation }

// StepExecutionError reports a failure in one step's own logic.
type StepExecutionError struct {
	Step string
	Err  error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %q: %v", e.Step, e.Err)
}

func (e *StepExecutionError) Unwrap() error { return e.Err }

// Kind returns the error classification.
func (e *StepExecutionError) Kind() ErrorKind { return KindStepExecution }

// CircuitOpenError reports a short-circuited call while a breaker is open.
// These calls never reach the provider and do not count as retry attempts.
type CircuitOpenError struct {
	Key     string
	RetryIn time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s (retry in %s)", e.Key, e.RetryIn.Round(time.Second))
}

// Kind returns the error classification.
func (e *CircuitOpenError) Kind() ErrorKind { return KindCircuitOpen }

// KindOf returns the classification of err, or an empty kind for
// unclassified errors.
func KindOf(err error) ErrorKind {
	var k interface{ Kind() ErrorKind }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return ""
}
