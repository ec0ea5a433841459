// Package models defines the shared data types for the orchestration core.
package models

import "time"

// Priority determines dequeue order for submitted tasks.
type Priority string

const (
	// PriorityHigh tasks are dequeued before all others.
	PriorityHigh Priority = "high"
	// PriorityNormal is the default priority.
	PriorityNormal Priority = "normal"
	// PriorityLow tasks run only when nothing else is waiting.
	PriorityLow Priority = "low"
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	default:
		return false
	}
}

// Rank returns a sortable rank for the priority. Lower ranks dequeue first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is queued and has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusPlanning indicates the executor is producing a step plan.
	TaskStatusPlanning TaskStatus = "planning"
	// TaskStatusExecuting indicates steps are running.
	TaskStatusExecuting TaskStatus = "executing"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed terminally.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was stopped by the caller.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusPlanning, TaskStatusExecuting,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a final state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Active returns true if the task occupies a worker slot.
func (s TaskStatus) Active() bool {
	return s == TaskStatusPlanning || s == TaskStatusExecuting
}

// StepStatus represents the state of a single step within a task's plan.
type StepStatus string

const (
	// StepStatusPending indicates the step has not started.
	StepStatusPending StepStatus = "pending"
	// StepStatusRunning indicates the step is in flight.
	StepStatusRunning StepStatus = "running"
	// StepStatusDone indicates the step completed successfully.
	StepStatusDone StepStatus = "done"
	// StepStatusError indicates the step failed.
	StepStatusError StepStatus = "error"
)

// Step is one ordered unit of execution within a task's plan.
// A step is immutable once its status is done or error.
type Step struct {
	// Description is what this step does, in human-readable form.
	Description string `json:"description"`
	// Status is the current state of the step.
	Status StepStatus `json:"status"`
	// Optional marks a step whose failure does not fail the task.
	Optional bool `json:"optional,omitempty"`
	// Result holds the step's result payload once done.
	Result string `json:"result,omitempty"`
	// Error holds the step's error message if it failed.
	Error string `json:"error,omitempty"`
	// StartedAt is when the step began executing.
	StartedAt time.Time `json:"started_at,omitzero"`
	// EndedAt is when the step settled.
	EndedAt time.Time `json:"ended_at,omitzero"`
}

// SubmitOptions controls scheduling behavior for a submitted task.
type SubmitOptions struct {
	// Priority is the dequeue priority. Defaults to normal.
	Priority Priority `json:"priority,omitempty"`
	// Timeout is the total deadline for the task. Zero means no deadline.
	Timeout time.Duration `json:"timeout,omitempty"`
	// RetryOnFailure enables whole-task retries after a failed attempt.
	RetryOnFailure bool `json:"retry_on_failure,omitempty"`
	// MaxRetries caps the number of retries when RetryOnFailure is set.
	MaxRetries int `json:"max_retries,omitempty"`
}

// Task is one unit of orchestrated work with its own lifecycle and progress.
// Its status and progress are written only by the executor that owns it.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// AgentID is the identifier of the agent the request is directed at.
	AgentID string `json:"agent_id"`
	// Request is the work request text.
	Request string `json:"request"`
	// WorkspaceRoot is the root directory the task operates in.
	WorkspaceRoot string `json:"workspace_root,omitempty"`
	// Params is an arbitrary parameter bag passed through to collaborators.
	Params map[string]string `json:"params,omitempty"`
	// Priority is the dequeue priority.
	Priority Priority `json:"priority"`
	// Status is the current lifecycle state.
	Status TaskStatus `json:"status"`
	// Steps is the ordered step plan produced during planning.
	Steps []Step `json:"steps,omitempty"`
	// Progress is a 0-100 percentage, non-decreasing until terminal.
	Progress int `json:"progress"`
	// Result is the synthesized result once completed.
	Result string `json:"result,omitempty"`
	// Error is the terminal error message if the task failed.
	Error string `json:"error,omitempty"`
	// RetryCount is the number of retries consumed so far.
	RetryCount int `json:"retry_count,omitempty"`
	// Options are the scheduling options supplied at submission.
	Options SubmitOptions `json:"options"`
	// CreatedAt is when the task was submitted.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when the task left the queue, if it has.
	StartedAt time.Time `json:"started_at,omitzero"`
	// CompletedAt is when the task reached a terminal state, if it has.
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// Clone returns a deep copy of the task, safe to hand to callers while the
// executor keeps mutating the original.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Steps != nil {
		cp.Steps = make([]Step, len(t.Steps))
		copy(cp.Steps, t.Steps)
	}
	if t.Params != nil {
		cp.Params = make(map[string]string, len(t.Params))
		for k, v := range t.Params {
			cp.Params[k] = v
		}
	}
	return &cp
}

// Stats summarizes the queue contents by status.
type Stats struct {
	// Total is the number of tasks known to the scheduler.
	Total int `json:"total"`
	// Pending is the number of queued tasks.
	Pending int `json:"pending"`
	// Running is the number of tasks occupying worker slots.
	Running int `json:"running"`
	// Completed is the number of successfully finished tasks.
	Completed int `json:"completed"`
	// Failed is the number of terminally failed tasks.
	Failed int `json:"failed"`
	// Cancelled is the number of cancelled tasks.
	Cancelled int `json:"cancelled"`
}
