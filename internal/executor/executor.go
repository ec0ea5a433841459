// Package executor drives one task through its lifecycle: planning,
// ordered step execution with cancellation and deadline checks between
// steps, and terminal settlement with optional whole-task retries.
package executor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mwald/cadenza/internal/bus"
	"github.com/mwald/cadenza/internal/config"
	"github.com/mwald/cadenza/pkg/models"
)

// Progress milestones. Planning contributes up to planProgress; steps
// share stepProgressSpan up to the pre-finalization cap; finalization
// takes a completed task to 100.
const (
	planProgress      = 10
	stepProgressSpan  = 85
	preFinalizeCap    = 95
	completedProgress = 100
)

// Planner produces the ordered step plan for a task.
type Planner interface {
	Plan(ctx context.Context, task *models.Task) ([]models.Step, error)
}

// StepRunner executes one step of a task's plan.
type StepRunner interface {
	RunStep(ctx context.Context, task *models.Task, stepIndex int) (string, error)
}

// Handle is the executor's view of a scheduled task. The scheduler owns
// the handle; the executor is the single writer of the task's status,
// steps, and progress for the handle's lifetime.
type Handle interface {
	// Task returns the live task. Only the executor mutates it.
	Task() *models.Task
	// Cancelled reports the cooperative cancellation flag. The executor
	// checks it only between steps.
	Cancelled() bool
	// Publish emits a lifecycle event.
	Publish(event bus.Event)
}

// Executor runs tasks to a terminal state.
type Executor struct {
	planner    Planner
	runner     StepRunner
	backoff    time.Duration
	backoffMax time.Duration
}

// New creates an Executor with the given plan and step implementations.
func New(planner Planner, runner StepRunner, cfg config.ExecutorConfig) *Executor {
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	backoffMax := cfg.RetryBackoffMax
	if backoffMax <= 0 {
		backoffMax = 30 * time.Second
	}
	return &Executor{
		planner:    planner,
		runner:     runner,
		backoff:    backoff,
		backoffMax: backoffMax,
	}
}

// Execute drives the task to a terminal state. Transitions are
// one-directional within an attempt; a retry restarts from planning with
// the retry count incremented. Progress never decreases, including
// across retries.
func (e *Executor) Execute(ctx context.Context, h Handle) {
	task := h.Task()

	task.Status = models.TaskStatusPlanning
	task.StartedAt = time.Now()
	h.Publish(bus.Event{
		Type:    bus.EventStarted,
		TaskID:  task.ID,
		AgentID: task.AgentID,
	})

	var deadline time.Time
	if task.Options.Timeout > 0 {
		deadline = task.StartedAt.Add(task.Options.Timeout)
	}

	for {
		err := e.attempt(ctx, h, deadline)
		if err == nil {
			e.settleCompleted(h)
			return
		}

		switch models.KindOf(err) {
		case models.KindCancellation:
			e.settleCancelled(h)
			return
		case models.KindTimeout:
			// The whole-task deadline has passed; a retry would time
			// out again immediately.
			e.settleFailed(h, err)
			return
		}

		task := h.Task()
		if !task.Options.RetryOnFailure || task.RetryCount >= task.Options.MaxRetries {
			e.settleFailed(h, err)
			return
		}

		task.RetryCount++
		delay := e.retryDelay(task.RetryCount)
		log.Printf("[executor] task %s attempt failed (%v), retry %d/%d in %s",
			task.ID, err, task.RetryCount, task.Options.MaxRetries, delay)

		select {
		case <-ctx.Done():
			e.settleCancelled(h)
			return
		case <-time.After(delay):
		}
		if h.Cancelled() {
			e.settleCancelled(h)
			return
		}

		task.Status = models.TaskStatusPlanning
	}
}

// attempt runs one full planning+execution pass. It returns nil when the
// task completed, a CancellationError or TimeoutError when the flag or
// deadline fired at a step boundary, and the step or planning error
// otherwise.
func (e *Executor) attempt(ctx context.Context, h Handle, deadline time.Time) error {
	task := h.Task()

	if h.Cancelled() {
		return &models.CancellationError{TaskID: task.ID}
	}

	steps, err := e.planner.Plan(ctx, task)
	if err != nil {
		return fmt.Errorf("planning: %w", err)
	}
	if len(steps) == 0 {
		return &models.ValidationError{Field: "plan", Reason: "planner produced no steps"}
	}

	task.Steps = steps
	e.raiseProgress(h, planProgress)

	task.Status = models.TaskStatusExecuting

	for i := range task.Steps {
		// Cancellation and deadline are observed only between steps; an
		// in-flight step is never interrupted.
		if h.Cancelled() {
			return &models.CancellationError{TaskID: task.ID}
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return &models.TimeoutError{TaskID: task.ID, Timeout: task.Options.Timeout}
		}
		if err := ctx.Err(); err != nil {
			return &models.CancellationError{TaskID: task.ID}
		}

		if err := e.runStep(ctx, h, i); err != nil {
			step := &task.Steps[i]
			if !step.Optional {
				return err
			}
			log.Printf("[executor] task %s optional step %d failed, continuing: %v", task.ID, i, err)
		}
		e.raiseProgress(h, stepTarget(i+1, len(task.Steps)))
	}

	return nil
}

// runStep executes one step and settles its status.
func (e *Executor) runStep(ctx context.Context, h Handle, i int) error {
	task := h.Task()
	step := &task.Steps[i]

	step.Status = models.StepStatusRunning
	step.StartedAt = time.Now()
	h.Publish(bus.Event{
		Type:      bus.EventStepStart,
		TaskID:    task.ID,
		AgentID:   task.AgentID,
		StepIndex: i,
		Step:      step.Description,
	})

	result, err := e.runner.RunStep(ctx, task, i)
	step.EndedAt = time.Now()

	if err != nil {
		step.Status = models.StepStatusError
		step.Error = err.Error()
		h.Publish(bus.Event{
			Type:      bus.EventStepError,
			TaskID:    task.ID,
			AgentID:   task.AgentID,
			StepIndex: i,
			Step:      step.Description,
			ErrorKind: models.KindStepExecution,
			Message:   err.Error(),
		})
		return &models.StepExecutionError{Step: step.Description, Err: err}
	}

	step.Status = models.StepStatusDone
	step.Result = result
	h.Publish(bus.Event{
		Type:      bus.EventStepComplete,
		TaskID:    task.ID,
		AgentID:   task.AgentID,
		StepIndex: i,
		Step:      step.Description,
		Result:    result,
	})
	return nil
}

// stepTarget maps settled-step count to a progress percentage, capped
// below finalization.
func stepTarget(settled, total int) int {
	p := planProgress + settled*stepProgressSpan/total
	if p > preFinalizeCap {
		p = preFinalizeCap
	}
	return p
}

// raiseProgress moves progress up to target, never down, and publishes
// the change.
func (e *Executor) raiseProgress(h Handle, target int) {
	task := h.Task()
	if target <= task.Progress {
		return
	}
	task.Progress = target
	h.Publish(bus.Event{
		Type:     bus.EventProgress,
		TaskID:   task.ID,
		AgentID:  task.AgentID,
		Progress: target,
	})
}

func (e *Executor) settleCompleted(h Handle) {
	task := h.Task()

	var results []string
	for _, step := range task.Steps {
		if step.Result != "" {
			results = append(results, step.Result)
		}
	}
	task.Result = strings.Join(results, "\n")
	task.Status = models.TaskStatusCompleted
	task.CompletedAt = time.Now()
	e.raiseProgress(h, completedProgress)
	h.Publish(bus.Event{
		Type:    bus.EventCompleted,
		TaskID:  task.ID,
		AgentID: task.AgentID,
		Result:  task.Result,
	})
}

func (e *Executor) settleFailed(h Handle, err error) {
	task := h.Task()
	task.Status = models.TaskStatusFailed
	task.Error = err.Error()
	task.CompletedAt = time.Now()
	h.Publish(bus.Event{
		Type:      bus.EventFailed,
		TaskID:    task.ID,
		AgentID:   task.AgentID,
		ErrorKind: models.KindOf(err),
		Message:   err.Error(),
	})
}

func (e *Executor) settleCancelled(h Handle) {
	task := h.Task()
	task.Status = models.TaskStatusCancelled
	task.CompletedAt = time.Now()
	h.Publish(bus.Event{
		Type:      bus.EventCancelled,
		TaskID:    task.ID,
		AgentID:   task.AgentID,
		ErrorKind: models.KindCancellation,
	})
}

// retryDelay is the exponential backoff for the nth retry, capped.
func (e *Executor) retryDelay(retry int) time.Duration {
	delay := e.backoff
	for i := 1; i < retry; i++ {
		delay *= 2
		if delay >= e.backoffMax {
			return e.backoffMax
		}
	}
	if delay > e.backoffMax {
		delay = e.backoffMax
	}
	return delay
}
