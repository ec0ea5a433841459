package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mwald/cadenza/internal/bus"
	"github.com/mwald/cadenza/internal/config"
	"github.com/mwald/cadenza/internal/executor"
	"github.com/mwald/cadenza/pkg/models"
)

// fakeRunner settles tasks on command, recording start order.
type fakeRunner struct {
	mu      sync.Mutex
	started []string
	gates   map[string]chan models.TaskStatus
	auto    models.TaskStatus // settle immediately with this status when set
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{gates: make(map[string]chan models.TaskStatus)}
}

func (r *fakeRunner) Execute(ctx context.Context, h executor.Handle) {
	task := h.Task()

	r.mu.Lock()
	r.started = append(r.started, task.ID)
	gate, hasGate := r.gates[task.ID]
	auto := r.auto
	r.mu.Unlock()

	task.Status = models.TaskStatusExecuting
	h.Publish(bus.Event{Type: bus.EventStarted, TaskID: task.ID, AgentID: task.AgentID})

	status := auto
	if hasGate {
		select {
		case status = <-gate:
		case <-ctx.Done():
			status = models.TaskStatusCancelled
		}
	} else if status == "" {
		status = models.TaskStatusCompleted
	}

	if h.Cancelled() {
		status = models.TaskStatusCancelled
	}

	task.Status = status
	task.CompletedAt = time.Now()
	switch status {
	case models.TaskStatusCompleted:
		task.Progress = 100
		h.Publish(bus.Event{Type: bus.EventCompleted, TaskID: task.ID})
	case models.TaskStatusFailed:
		h.Publish(bus.Event{Type: bus.EventFailed, TaskID: task.ID})
	default:
		h.Publish(bus.Event{Type: bus.EventCancelled, TaskID: task.ID})
	}
}

// gate registers a manual settlement channel for the next started task.
func (r *fakeRunner) gate(taskID string) chan models.TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan models.TaskStatus, 1)
	r.gates[taskID] = ch
	return ch
}

func (r *fakeRunner) startOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.started...)
}

func newTestScheduler(t *testing.T, maxConcurrent int, runner Runner) *Scheduler {
	t.Helper()
	s := New(config.SchedulerConfig{MaxConcurrent: maxConcurrent}, runner, bus.New())
	s.Start(context.Background())
	t.Cleanup(s.Stop)
	return s
}

func waitForStatus(t *testing.T, s *Scheduler, taskID string, want models.TaskStatus) *models.Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, err := s.GetTask(taskID)
		if err != nil {
			t.Fatalf("GetTask failed: %v", err)
		}
		if task.Status == want {
			return task
		}
		time.Sleep(2 * time.Millisecond)
	}
	task, _ := s.GetTask(taskID)
	t.Fatalf("task %s never reached %s (stuck at %s)", taskID, want, task.Status)
	return nil
}

func TestSubmitValidation(t *testing.T) {
	s := newTestScheduler(t, 1, newFakeRunner())

	cases := []struct {
		name    string
		agentID string
		request string
		opts    models.SubmitOptions
	}{
		{"missing agent", "", "do it", models.SubmitOptions{}},
		{"blank agent", "   ", "do it", models.SubmitOptions{}},
		{"empty request", "agent", "", models.SubmitOptions{}},
		{"bad priority", "agent", "do it", models.SubmitOptions{Priority: "urgent"}},
		{"negative retries", "agent", "do it", models.SubmitOptions{MaxRetries: -1}},
	}
	for _, tc := range cases {
		_, err := s.Submit(tc.agentID, tc.request, "", nil, tc.opts)
		if models.KindOf(err) != models.KindValidation {
			t.Errorf("%s: expected synchronous validation error, got %v", tc.name, err)
		}
	}

	if stats := s.Stats(); stats.Total != 0 {
		t.Errorf("invalid submissions must not enter the queue, got %d tasks", stats.Total)
	}
}

func TestSubmitAndComplete(t *testing.T) {
	s := newTestScheduler(t, 2, newFakeRunner())

	id, err := s.Submit("agent", "do the thing", "/tmp/ws", map[string]string{"k": "v"}, models.SubmitOptions{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if len(id) != 8 {
		t.Errorf("expected 8-char task id, got %q", id)
	}

	task, err := s.WaitFor(id, 2*time.Second)
	if err != nil {
		t.Fatalf("WaitFor failed: %v", err)
	}
	if task.Status != models.TaskStatusCompleted {
		t.Errorf("expected completed, got %s", task.Status)
	}
	if task.Progress != 100 {
		t.Errorf("expected progress 100, got %d", task.Progress)
	}
	if task.Priority != models.PriorityNormal {
		t.Errorf("expected default priority normal, got %s", task.Priority)
	}
}

func TestConcurrencyBound(t *testing.T) {
	runner := newFakeRunner()
	s := New(config.SchedulerConfig{MaxConcurrent: 2}, runner, bus.New())

	// Gate tasks before starting the loop so nothing settles on its own.
	ids := make([]string, 4)
	gates := make([]chan models.TaskStatus, 4)
	for i := range ids {
		id, err := s.Submit("agent", "work", "", nil, models.SubmitOptions{})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		ids[i] = id
		gates[i] = runner.gate(id)
	}

	s.Start(context.Background())
	defer s.Stop()

	// Only two tasks may run at once.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(s.GetRunningTasks()) == 2 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if n := len(s.GetRunningTasks()); n != 2 {
		t.Fatalf("expected 2 running tasks, got %d", n)
	}
	if stats := s.Stats(); stats.Pending != 2 {
		t.Errorf("expected 2 pending tasks, got %d", stats.Pending)
	}

	// Settling one task frees the slot for the next.
	gates[0] <- models.TaskStatusCompleted
	waitForStatus(t, s, ids[2], models.TaskStatusExecuting)
	if n := len(s.GetRunningTasks()); n != 2 {
		t.Errorf("expected slot reuse to keep 2 running, got %d", n)
	}

	for _, gate := range gates[1:] {
		gate <- models.TaskStatusCompleted
	}
}

func TestPriorityThenFIFO(t *testing.T) {
	runner := newFakeRunner()
	s := New(config.SchedulerConfig{MaxConcurrent: 1}, runner, bus.New())

	lowID, _ := s.Submit("agent", "low work", "", nil, models.SubmitOptions{Priority: models.PriorityLow})
	normalA, _ := s.Submit("agent", "normal a", "", nil, models.SubmitOptions{})
	normalB, _ := s.Submit("agent", "normal b", "", nil, models.SubmitOptions{})
	highID, _ := s.Submit("agent", "high work", "", nil, models.SubmitOptions{Priority: models.PriorityHigh})

	s.Start(context.Background())
	defer s.Stop()

	for _, id := range []string{highID, normalA, normalB, lowID} {
		if _, err := s.WaitFor(id, 2*time.Second); err != nil {
			t.Fatalf("WaitFor(%s) failed: %v", id, err)
		}
	}

	want := []string{highID, normalA, normalB, lowID}
	got := runner.startOrder()
	if len(got) != len(want) {
		t.Fatalf("expected %d starts, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("start order %v, want %v", got, want)
		}
	}
}

func TestCancelPendingTask(t *testing.T) {
	runner := newFakeRunner()
	s := New(config.SchedulerConfig{MaxConcurrent: 1}, runner, bus.New())

	blockerID, _ := s.Submit("agent", "blocker", "", nil, models.SubmitOptions{})
	blockerGate := runner.gate(blockerID)
	pendingID, _ := s.Submit("agent", "queued", "", nil, models.SubmitOptions{})

	s.Start(context.Background())
	defer s.Stop()
	waitForStatus(t, s, blockerID, models.TaskStatusExecuting)

	if err := s.Cancel(pendingID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	task, err := s.GetTask(pendingID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task.Status != models.TaskStatusCancelled {
		t.Errorf("expected cancelled, got %s", task.Status)
	}

	// The cancelled task never starts, even after the slot frees up.
	blockerGate <- models.TaskStatusCompleted
	s.WaitFor(blockerID, 2*time.Second)
	for _, started := range runner.startOrder() {
		if started == pendingID {
			t.Error("cancelled pending task must not start")
		}
	}
}

func TestCancelRunningTaskSetsFlag(t *testing.T) {
	runner := newFakeRunner()
	s := New(config.SchedulerConfig{MaxConcurrent: 1}, runner, bus.New())

	id, _ := s.Submit("agent", "long work", "", nil, models.SubmitOptions{})
	gate := runner.gate(id)

	s.Start(context.Background())
	defer s.Stop()
	waitForStatus(t, s, id, models.TaskStatusExecuting)

	if err := s.Cancel(id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	// The runner observes the flag when it next checks; the scheduler
	// does not interrupt it.
	if task, _ := s.GetTask(id); task.Status != models.TaskStatusExecuting {
		t.Errorf("running task must keep running until the flag is observed, got %s", task.Status)
	}

	gate <- models.TaskStatusCompleted // runner sees the flag and settles cancelled
	task, err := s.WaitFor(id, 2*time.Second)
	if err != nil {
		t.Fatalf("WaitFor failed: %v", err)
	}
	if task.Status != models.TaskStatusCancelled {
		t.Errorf("expected cancelled, got %s", task.Status)
	}
}

func TestCancelUnknownTask(t *testing.T) {
	s := newTestScheduler(t, 1, newFakeRunner())

	if err := s.Cancel("nope"); models.KindOf(err) != models.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestWaitForTimeout(t *testing.T) {
	runner := newFakeRunner()
	s := New(config.SchedulerConfig{MaxConcurrent: 1}, runner, bus.New())

	id, _ := s.Submit("agent", "slow work", "", nil, models.SubmitOptions{})
	gate := runner.gate(id)

	s.Start(context.Background())
	defer s.Stop()

	_, err := s.WaitFor(id, 10*time.Millisecond)
	if models.KindOf(err) != models.KindTimeout {
		t.Errorf("expected timeout error, got %v", err)
	}

	gate <- models.TaskStatusCompleted
}

func TestStatsAndClearCompleted(t *testing.T) {
	runner := newFakeRunner()
	runner.auto = models.TaskStatusCompleted
	s := newTestScheduler(t, 3, runner)

	var ids []string
	for i := 0; i < 3; i++ {
		id, _ := s.Submit("agent", "work", "", nil, models.SubmitOptions{})
		ids = append(ids, id)
	}
	for _, id := range ids {
		if _, err := s.WaitFor(id, 2*time.Second); err != nil {
			t.Fatalf("WaitFor failed: %v", err)
		}
	}

	stats := s.Stats()
	if stats.Total != 3 || stats.Completed != 3 {
		t.Errorf("expected 3 completed of 3, got %+v", stats)
	}

	if removed := s.ClearCompleted(); removed != 3 {
		t.Errorf("expected 3 removed, got %d", removed)
	}
	if stats := s.Stats(); stats.Total != 0 {
		t.Errorf("expected empty scheduler, got %+v", stats)
	}

	if _, err := s.GetTask(ids[0]); err == nil {
		t.Error("cleared task should be unknown")
	}
}

func TestGetAllTasksOrdered(t *testing.T) {
	runner := newFakeRunner()
	runner.auto = models.TaskStatusCompleted
	s := newTestScheduler(t, 1, runner)

	var ids []string
	for i := 0; i < 3; i++ {
		id, _ := s.Submit("agent", "work", "", nil, models.SubmitOptions{})
		ids = append(ids, id)
	}
	for _, id := range ids {
		s.WaitFor(id, 2*time.Second)
	}

	all := s.GetAllTasks()
	if len(all) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(all))
	}
	for i, task := range all {
		if task.ID != ids[i] {
			t.Errorf("position %d: expected %s, got %s", i, ids[i], task.ID)
		}
	}
}

func TestSnapshotsAreCopies(t *testing.T) {
	runner := newFakeRunner()
	runner.auto = models.TaskStatusCompleted
	s := newTestScheduler(t, 1, runner)

	id, _ := s.Submit("agent", "work", "", map[string]string{"k": "v"}, models.SubmitOptions{})
	task, err := s.WaitFor(id, 2*time.Second)
	if err != nil {
		t.Fatalf("WaitFor failed: %v", err)
	}

	task.Status = models.TaskStatusFailed
	task.Params["k"] = "mutated"

	again, _ := s.GetTask(id)
	if again.Status != models.TaskStatusCompleted {
		t.Error("mutating a snapshot must not affect the scheduler's state")
	}
	if again.Params["k"] != "v" {
		t.Error("snapshot params must be deep-copied")
	}
}

func TestSubmitAfterStop(t *testing.T) {
	s := New(config.SchedulerConfig{MaxConcurrent: 1}, newFakeRunner(), bus.New())
	s.Start(context.Background())
	s.Stop()

	_, err := s.Submit("agent", "work", "", nil, models.SubmitOptions{})
	if err == nil {
		t.Error("expected error submitting to a stopped scheduler")
	}
}

func TestDefaultTimeoutApplied(t *testing.T) {
	runner := newFakeRunner()
	runner.auto = models.TaskStatusCompleted
	s := New(config.SchedulerConfig{MaxConcurrent: 1, DefaultTimeout: time.Minute}, runner, bus.New())
	s.Start(context.Background())
	defer s.Stop()

	id, _ := s.Submit("agent", "work", "", nil, models.SubmitOptions{})
	task, err := s.WaitFor(id, 2*time.Second)
	if err != nil {
		t.Fatalf("WaitFor failed: %v", err)
	}
	if task.Options.Timeout != time.Minute {
		t.Errorf("expected default timeout applied, got %s", task.Options.Timeout)
	}
}

func TestFailedTaskCountedInStats(t *testing.T) {
	runner := newFakeRunner()
	runner.auto = models.TaskStatusFailed
	s := newTestScheduler(t, 1, runner)

	id, _ := s.Submit("agent", "doomed work", "", nil, models.SubmitOptions{})
	task, err := s.WaitFor(id, 2*time.Second)
	if err != nil {
		t.Fatalf("WaitFor failed: %v", err)
	}
	if task.Status != models.TaskStatusFailed {
		t.Fatalf("expected failed, got %s", task.Status)
	}

	stats := s.Stats()
	if stats.Failed != 1 {
		t.Errorf("expected 1 failed, got %+v", stats)
	}
}
