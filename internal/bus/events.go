// Package bus provides the event fan-out point for task lifecycle
// notifications. External observers (UI, persistence, notifications)
// subscribe here; the core never calls them directly.
package bus

import (
	"time"

	"github.com/mwald/cadenza/pkg/models"
)

// EventType represents the kind of lifecycle event.
type EventType string

const (
	// EventSubmitted indicates a task was accepted into the queue.
	EventSubmitted EventType = "submitted"
	// EventStarted indicates a task left the queue and began planning.
	EventStarted EventType = "started"
	// EventProgress carries a task's updated progress percentage.
	EventProgress EventType = "progress"
	// EventStepStart indicates a step began executing.
	EventStepStart EventType = "step_start"
	// EventStepComplete indicates a step finished successfully.
	EventStepComplete EventType = "step_complete"
	// EventStepError indicates a step failed.
	EventStepError EventType = "step_error"
	// EventCompleted indicates a task finished successfully.
	EventCompleted EventType = "completed"
	// EventFailed indicates a task failed terminally.
	EventFailed EventType = "failed"
	// EventCancelled indicates a task was stopped by the caller.
	EventCancelled EventType = "cancelled"
)

// Event is one lifecycle notification. Events for a single task are
// published in lifecycle order and delivered at least once per subscriber.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// TaskID is the ID of the related task.
	TaskID string
	// AgentID is the originating agent identifier.
	AgentID string
	// Progress is the task's progress percentage (progress events).
	Progress int
	// StepIndex is the zero-based index of the related step (step events).
	StepIndex int
	// Step is the related step's description (step events).
	Step string
	// Result is the step or task result payload, if any.
	Result string
	// ErrorKind classifies the failure for failed/step_error events.
	ErrorKind models.ErrorKind
	// Message is a human-readable summary. Raw provider payloads and
	// stack traces are never placed here.
	Message string
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
