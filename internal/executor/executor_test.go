package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mwald/cadenza/internal/bus"
	"github.com/mwald/cadenza/internal/config"
	"github.com/mwald/cadenza/pkg/models"
)

// fakeHandle implements Handle for direct executor tests.
type fakeHandle struct {
	mu        sync.Mutex
	task      *models.Task
	cancelled bool
	events    []bus.Event
}

func newFakeHandle(task *models.Task) *fakeHandle {
	return &fakeHandle{task: task}
}

func (h *fakeHandle) Task() *models.Task { return h.task }

func (h *fakeHandle) Cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

func (h *fakeHandle) cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelled = true
}

func (h *fakeHandle) Publish(event bus.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *fakeHandle) eventTypes() []bus.EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	types := make([]bus.EventType, len(h.events))
	for i, ev := range h.events {
		types[i] = ev.Type
	}
	return types
}

// plannerFunc adapts a function to the Planner interface.
type plannerFunc func(ctx context.Context, task *models.Task) ([]models.Step, error)

func (f plannerFunc) Plan(ctx context.Context, task *models.Task) ([]models.Step, error) {
	return f(ctx, task)
}

// runnerFunc adapts a function to the StepRunner interface.
type runnerFunc func(ctx context.Context, task *models.Task, stepIndex int) (string, error)

func (f runnerFunc) RunStep(ctx context.Context, task *models.Task, stepIndex int) (string, error) {
	return f(ctx, task, stepIndex)
}

func fixedPlan(descriptions ...string) Planner {
	return plannerFunc(func(ctx context.Context, task *models.Task) ([]models.Step, error) {
		steps := make([]models.Step, len(descriptions))
		for i, d := range descriptions {
			steps[i] = models.Step{Description: d, Status: models.StepStatusPending}
		}
		return steps, nil
	})
}

func okRunner() StepRunner {
	return runnerFunc(func(ctx context.Context, task *models.Task, i int) (string, error) {
		return "done " + task.Steps[i].Description, nil
	})
}

func newTask(opts models.SubmitOptions) *models.Task {
	return &models.Task{
		ID:      "t1",
		AgentID: "agent",
		Request: "do things",
		Status:  models.TaskStatusPending,
		Options: opts,
	}
}

func testConfig() config.ExecutorConfig {
	return config.ExecutorConfig{
		RetryBackoff:    time.Millisecond,
		RetryBackoffMax: 4 * time.Millisecond,
	}
}

func TestExecuteHappyPath(t *testing.T) {
	e := New(fixedPlan("a", "b", "c"), okRunner(), testConfig())
	h := newFakeHandle(newTask(models.SubmitOptions{}))

	e.Execute(context.Background(), h)

	task := h.task
	if task.Status != models.TaskStatusCompleted {
		t.Fatalf("expected completed, got %s", task.Status)
	}
	if task.Progress != 100 {
		t.Errorf("expected progress 100, got %d", task.Progress)
	}
	if task.Result == "" {
		t.Error("expected a synthesized result")
	}
	for i, step := range task.Steps {
		if step.Status != models.StepStatusDone {
			t.Errorf("step %d: expected done, got %s", i, step.Status)
		}
	}
	if task.CompletedAt.IsZero() {
		t.Error("expected CompletedAt set")
	}
}

func TestExecuteEventOrder(t *testing.T) {
	e := New(fixedPlan("a", "b"), okRunner(), testConfig())
	h := newFakeHandle(newTask(models.SubmitOptions{}))

	e.Execute(context.Background(), h)

	types := h.eventTypes()
	want := []bus.EventType{
		bus.EventStarted,
		bus.EventProgress, // plan produced
		bus.EventStepStart,
		bus.EventStepComplete,
		bus.EventProgress,
		bus.EventStepStart,
		bus.EventStepComplete,
		bus.EventProgress,
		bus.EventProgress, // finalization to 100
		bus.EventCompleted,
	}
	if len(types) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(types), types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], types[i])
		}
	}
}

func TestProgressNeverDecreases(t *testing.T) {
	e := New(fixedPlan("a", "b", "c", "d"), okRunner(), testConfig())
	h := newFakeHandle(newTask(models.SubmitOptions{}))

	e.Execute(context.Background(), h)

	last := -1
	for _, ev := range h.events {
		if ev.Type != bus.EventProgress {
			continue
		}
		if ev.Progress <= last {
			t.Fatalf("progress went from %d to %d", last, ev.Progress)
		}
		last = ev.Progress
	}
	if last != 100 {
		t.Errorf("expected final progress 100, got %d", last)
	}
}

func TestStepFailureFailsTask(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context, task *models.Task, i int) (string, error) {
		if i == 1 {
			return "", errors.New("step exploded")
		}
		return "ok", nil
	})
	e := New(fixedPlan("a", "b", "c"), runner, testConfig())
	h := newFakeHandle(newTask(models.SubmitOptions{}))

	e.Execute(context.Background(), h)

	task := h.task
	if task.Status != models.TaskStatusFailed {
		t.Fatalf("expected failed, got %s", task.Status)
	}
	if task.Steps[1].Status != models.StepStatusError {
		t.Errorf("expected step 1 error, got %s", task.Steps[1].Status)
	}
	if task.Steps[2].Status != models.StepStatusPending {
		t.Errorf("step after failure must not run, got %s", task.Steps[2].Status)
	}

	var sawStepError, sawFailed bool
	for _, ev := range h.events {
		if ev.Type == bus.EventStepError {
			sawStepError = true
		}
		if ev.Type == bus.EventFailed {
			sawFailed = true
			if ev.ErrorKind != models.KindStepExecution {
				t.Errorf("expected step_execution kind, got %s", ev.ErrorKind)
			}
		}
	}
	if !sawStepError || !sawFailed {
		t.Errorf("expected step_error and failed events, got %v", h.eventTypes())
	}
}

func TestOptionalStepFailureContinues(t *testing.T) {
	planner := plannerFunc(func(ctx context.Context, task *models.Task) ([]models.Step, error) {
		return []models.Step{
			{Description: "a", Status: models.StepStatusPending},
			{Description: "b", Status: models.StepStatusPending, Optional: true},
			{Description: "c", Status: models.StepStatusPending},
		}, nil
	})
	runner := runnerFunc(func(ctx context.Context, task *models.Task, i int) (string, error) {
		if i == 1 {
			return "", errors.New("optional step exploded")
		}
		return "ok", nil
	})
	e := New(planner, runner, testConfig())
	h := newFakeHandle(newTask(models.SubmitOptions{}))

	e.Execute(context.Background(), h)

	task := h.task
	if task.Status != models.TaskStatusCompleted {
		t.Fatalf("expected completed despite optional failure, got %s (%s)", task.Status, task.Error)
	}
	if task.Steps[1].Status != models.StepStatusError {
		t.Errorf("expected optional step marked error, got %s", task.Steps[1].Status)
	}
	if task.Steps[2].Status != models.StepStatusDone {
		t.Errorf("expected step after optional failure to run, got %s", task.Steps[2].Status)
	}

	// The optional failure is still surfaced as a step_error event.
	found := false
	for _, ev := range h.events {
		if ev.Type == bus.EventStepError && ev.StepIndex == 1 {
			found = true
		}
	}
	if !found {
		t.Error("optional step failure must emit step_error")
	}
}

func TestRetryRestartsFromPlanning(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	runner := runnerFunc(func(ctx context.Context, task *models.Task, i int) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if i == 0 {
			attempts++
			if attempts < 3 {
				return "", errors.New("transient")
			}
		}
		return "ok", nil
	})
	e := New(fixedPlan("a", "b"), runner, testConfig())
	h := newFakeHandle(newTask(models.SubmitOptions{RetryOnFailure: true, MaxRetries: 3}))

	e.Execute(context.Background(), h)

	task := h.task
	if task.Status != models.TaskStatusCompleted {
		t.Fatalf("expected completed after retries, got %s (%s)", task.Status, task.Error)
	}
	if task.RetryCount != 2 {
		t.Errorf("expected 2 retries consumed, got %d", task.RetryCount)
	}
	if attempts != 3 {
		t.Errorf("expected 3 first-step attempts, got %d", attempts)
	}
}

func TestRetryExhaustionFails(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context, task *models.Task, i int) (string, error) {
		return "", errors.New("always broken")
	})
	e := New(fixedPlan("a"), runner, testConfig())
	h := newFakeHandle(newTask(models.SubmitOptions{RetryOnFailure: true, MaxRetries: 2}))

	e.Execute(context.Background(), h)

	task := h.task
	if task.Status != models.TaskStatusFailed {
		t.Fatalf("expected failed, got %s", task.Status)
	}
	if task.RetryCount != 2 {
		t.Errorf("expected retry count 2, got %d", task.RetryCount)
	}
	if task.Error == "" {
		t.Error("expected terminal error attached")
	}
}

func TestNoRetryWithoutFlag(t *testing.T) {
	calls := 0
	runner := runnerFunc(func(ctx context.Context, task *models.Task, i int) (string, error) {
		calls++
		return "", errors.New("broken")
	})
	e := New(fixedPlan("a"), runner, testConfig())
	h := newFakeHandle(newTask(models.SubmitOptions{}))

	e.Execute(context.Background(), h)

	if calls != 1 {
		t.Errorf("expected single attempt, got %d", calls)
	}
	if h.task.Status != models.TaskStatusFailed {
		t.Errorf("expected failed, got %s", h.task.Status)
	}
}

func TestCancellationBetweenSteps(t *testing.T) {
	h := newFakeHandle(newTask(models.SubmitOptions{}))
	runner := runnerFunc(func(ctx context.Context, task *models.Task, i int) (string, error) {
		if i == 0 {
			// Cancel while the first step is in flight; it must finish.
			h.cancel()
		}
		return "ok", nil
	})
	e := New(fixedPlan("a", "b", "c"), runner, testConfig())

	e.Execute(context.Background(), h)

	task := h.task
	if task.Status != models.TaskStatusCancelled {
		t.Fatalf("expected cancelled, got %s", task.Status)
	}
	if task.Steps[0].Status != models.StepStatusDone {
		t.Errorf("in-flight step must complete, got %s", task.Steps[0].Status)
	}
	if task.Steps[1].Status != models.StepStatusPending {
		t.Errorf("no step may start after cancellation, got %s", task.Steps[1].Status)
	}
}

func TestTimeoutAtStepBoundary(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context, task *models.Task, i int) (string, error) {
		time.Sleep(20 * time.Millisecond)
		return "ok", nil
	})
	e := New(fixedPlan("a", "b"), runner, testConfig())
	h := newFakeHandle(newTask(models.SubmitOptions{
		Timeout:        10 * time.Millisecond,
		RetryOnFailure: true,
		MaxRetries:     5,
	}))

	e.Execute(context.Background(), h)

	task := h.task
	if task.Status != models.TaskStatusFailed {
		t.Fatalf("expected failed on timeout, got %s", task.Status)
	}
	// The first step ran past the deadline; the timeout fired before the
	// second step and must not be retried.
	if task.Steps[0].Status != models.StepStatusDone {
		t.Errorf("in-flight step must complete, got %s", task.Steps[0].Status)
	}
	if task.Steps[1].Status != models.StepStatusPending {
		t.Errorf("no step may start after the deadline, got %s", task.Steps[1].Status)
	}
	if task.RetryCount != 0 {
		t.Errorf("timeout must not consume retries, got %d", task.RetryCount)
	}

	for _, ev := range h.events {
		if ev.Type == bus.EventFailed && ev.ErrorKind != models.KindTimeout {
			t.Errorf("expected timeout kind, got %s", ev.ErrorKind)
		}
	}
}

func TestPlannerErrorFailsTask(t *testing.T) {
	planner := plannerFunc(func(ctx context.Context, task *models.Task) ([]models.Step, error) {
		return nil, errors.New("cannot plan")
	})
	e := New(planner, okRunner(), testConfig())
	h := newFakeHandle(newTask(models.SubmitOptions{}))

	e.Execute(context.Background(), h)

	if h.task.Status != models.TaskStatusFailed {
		t.Errorf("expected failed, got %s", h.task.Status)
	}
}

func TestRetryDelayExponentialAndCapped(t *testing.T) {
	e := New(fixedPlan("a"), okRunner(), config.ExecutorConfig{
		RetryBackoff:    time.Second,
		RetryBackoffMax: 5 * time.Second,
	})

	cases := []struct {
		retry int
		want  time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tc := range cases {
		if got := e.retryDelay(tc.retry); got != tc.want {
			t.Errorf("retry %d: expected %s, got %s", tc.retry, tc.want, got)
		}
	}
}
