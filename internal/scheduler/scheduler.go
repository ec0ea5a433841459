package scheduler

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mwald/cadenza/internal/bus"
	"github.com/mwald/cadenza/internal/config"
	"github.com/mwald/cadenza/internal/executor"
	"github.com/mwald/cadenza/pkg/models"
)

// Runner drives one task to a terminal state. The executor implements it.
// The runner is the single writer of the task for the handle's lifetime;
// Publish doubles as the synchronization point for external snapshots.
type Runner interface {
	Execute(ctx context.Context, h executor.Handle)
}

// Scheduler admits tasks into a priority queue and runs up to
// maxConcurrent of them simultaneously. All queries return deep-copied
// snapshots; the live task is only ever touched by its runner.
type Scheduler struct {
	runner         Runner
	bus            *bus.Bus
	maxConcurrent  int
	defaultTimeout time.Duration

	mu      sync.RWMutex
	tasks   map[string]*taskEntry
	queue   []*taskEntry
	running map[string]*taskEntry
	seq     uint64
	stopped bool

	// trigger signals the run loop to look for work.
	trigger chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// taskEntry tracks one task through the scheduler. It implements the
// executor's Handle for the runner.
type taskEntry struct {
	sched *Scheduler
	seq   uint64

	// live is mutated only by the scheduler before start and by the
	// runner after start.
	live *models.Task

	// snapshot is refreshed under mu on every published event; queries
	// read it instead of the live task.
	mu        sync.Mutex
	snapshot  *models.Task
	cancelled atomic.Bool
	done      chan struct{}
}

// Task returns the live task for the runner.
func (e *taskEntry) Task() *models.Task { return e.live }

// Cancelled reports the cooperative cancellation flag.
func (e *taskEntry) Cancelled() bool { return e.cancelled.Load() }

// Publish refreshes the query snapshot and forwards the event to the bus.
// It runs on the runner's goroutine, so cloning the live task here is safe.
func (e *taskEntry) Publish(event bus.Event) {
	e.mu.Lock()
	e.snapshot = e.live.Clone()
	e.mu.Unlock()

	e.sched.bus.Publish(event)
}

// view returns the current snapshot clone.
func (e *taskEntry) view() *models.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot.Clone()
}

// refresh re-snapshots the live task. Called by the scheduler while it
// still owns the task (before start, or when settling a pending task).
func (e *taskEntry) refresh() {
	e.mu.Lock()
	e.snapshot = e.live.Clone()
	e.mu.Unlock()
}

// New creates a Scheduler. Call Start before submitting.
func New(cfg config.SchedulerConfig, runner Runner, b *bus.Bus) *Scheduler {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 3
	}
	return &Scheduler{
		runner:         runner,
		bus:            b,
		maxConcurrent:  maxConcurrent,
		defaultTimeout: cfg.DefaultTimeout,
		tasks:          make(map[string]*taskEntry),
		running:        make(map[string]*taskEntry),
		trigger:        make(chan struct{}, 1),
	}
}

// Start launches the run loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.runLoop()
}

// Stop cancels the run loop and waits for running tasks to settle.
// Pending tasks stay pending; they are not cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Submit validates and enqueues a task, returning its ID. Validation
// failures are synchronous; an invalid task never enters the queue.
func (s *Scheduler) Submit(agentID, request, workspaceRoot string, params map[string]string, opts models.SubmitOptions) (string, error) {
	if strings.TrimSpace(agentID) == "" {
		return "", &models.ValidationError{Field: "agentId", Reason: "must not be empty"}
	}
	if strings.TrimSpace(request) == "" {
		return "", &models.ValidationError{Field: "request", Reason: "must not be empty"}
	}
	if opts.Priority == "" {
		opts.Priority = models.PriorityNormal
	}
	if !opts.Priority.Valid() {
		return "", &models.ValidationError{Field: "priority", Reason: "unknown priority " + string(opts.Priority)}
	}
	if opts.MaxRetries < 0 {
		return "", &models.ValidationError{Field: "maxRetries", Reason: "must not be negative"}
	}
	if opts.Timeout == 0 {
		opts.Timeout = s.defaultTimeout
	}

	task := &models.Task{
		ID:            uuid.New().String()[:8],
		AgentID:       agentID,
		Request:       request,
		WorkspaceRoot: workspaceRoot,
		Params:        params,
		Priority:      opts.Priority,
		Status:        models.TaskStatusPending,
		Options:       opts,
		CreatedAt:     time.Now(),
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return "", &models.ValidationError{Field: "scheduler", Reason: "scheduler is stopped"}
	}
	s.seq++
	entry := &taskEntry{
		sched: s,
		seq:   s.seq,
		live:  task,
		done:  make(chan struct{}),
	}
	entry.refresh()
	s.tasks[task.ID] = entry
	s.queue = append(s.queue, entry)
	s.mu.Unlock()

	debugLog("[scheduler] submitted task %s (agent=%s priority=%s)", task.ID, agentID, opts.Priority)
	s.bus.Publish(bus.Event{
		Type:    bus.EventSubmitted,
		TaskID:  task.ID,
		AgentID: agentID,
	})

	s.kick()
	return task.ID, nil
}

// Cancel stops a task. Pending tasks are removed from the queue and
// settle immediately; running tasks get their cancellation flag set and
// settle at the next step boundary. Cancelling a settled task is a no-op.
func (s *Scheduler) Cancel(taskID string) error {
	s.mu.Lock()

	entry, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return &models.ValidationError{Field: "taskId", Reason: "unknown task " + taskID}
	}

	// Pending: remove from the queue and settle here.
	for i, queued := range s.queue {
		if queued != entry {
			continue
		}
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		entry.live.Status = models.TaskStatusCancelled
		entry.live.CompletedAt = time.Now()
		entry.refresh()
		close(entry.done)
		s.mu.Unlock()

		debugLog("[scheduler] cancelled pending task %s", taskID)
		s.bus.Publish(bus.Event{
			Type:      bus.EventCancelled,
			TaskID:    taskID,
			AgentID:   entry.live.AgentID,
			ErrorKind: models.KindCancellation,
		})
		return nil
	}
	s.mu.Unlock()

	// Running or settled: set the flag; the runner observes it between
	// steps. Settled tasks ignore it.
	entry.cancelled.Store(true)
	debugLog("[scheduler] cancellation requested for task %s", taskID)
	return nil
}

// GetTask returns a snapshot of the task.
func (s *Scheduler) GetTask(taskID string) (*models.Task, error) {
	s.mu.RLock()
	entry, ok := s.tasks[taskID]
	s.mu.RUnlock()
	if !ok {
		return nil, &models.ValidationError{Field: "taskId", Reason: "unknown task " + taskID}
	}
	return entry.view(), nil
}

// GetAllTasks returns snapshots of every known task, oldest first.
func (s *Scheduler) GetAllTasks() []*models.Task {
	s.mu.RLock()
	entries := make([]*taskEntry, 0, len(s.tasks))
	for _, entry := range s.tasks {
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	tasks := make([]*models.Task, len(entries))
	for i, entry := range entries {
		tasks[i] = entry.view()
	}
	return tasks
}

// GetRunningTasks returns snapshots of the tasks occupying worker slots.
func (s *Scheduler) GetRunningTasks() []*models.Task {
	s.mu.RLock()
	entries := make([]*taskEntry, 0, len(s.running))
	for _, entry := range s.running {
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	tasks := make([]*models.Task, len(entries))
	for i, entry := range entries {
		tasks[i] = entry.view()
	}
	return tasks
}

// WaitFor blocks until the task settles or the timeout elapses, and
// returns the task's final snapshot.
func (s *Scheduler) WaitFor(taskID string, timeout time.Duration) (*models.Task, error) {
	s.mu.RLock()
	entry, ok := s.tasks[taskID]
	s.mu.RUnlock()
	if !ok {
		return nil, &models.ValidationError{Field: "taskId", Reason: "unknown task " + taskID}
	}

	select {
	case <-entry.done:
		return entry.view(), nil
	case <-time.After(timeout):
		return nil, &models.TimeoutError{TaskID: taskID, Timeout: timeout}
	}
}

// Stats summarizes all known tasks by status.
func (s *Scheduler) Stats() models.Stats {
	var stats models.Stats
	for _, task := range s.GetAllTasks() {
		stats.Total++
		switch {
		case task.Status == models.TaskStatusPending:
			stats.Pending++
		case task.Status.Active():
			stats.Running++
		case task.Status == models.TaskStatusCompleted:
			stats.Completed++
		case task.Status == models.TaskStatusFailed:
			stats.Failed++
		case task.Status == models.TaskStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats
}

// ClearCompleted removes settled tasks and returns how many were removed.
func (s *Scheduler) ClearCompleted() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.tasks {
		entry.mu.Lock()
		terminal := entry.snapshot.Status.Terminal()
		entry.mu.Unlock()
		if terminal {
			delete(s.tasks, id)
			removed++
		}
	}
	debugLog("[scheduler] cleared %d settled tasks", removed)
	return removed
}

// kick nudges the run loop without blocking.
func (s *Scheduler) kick() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// runLoop starts eligible tasks whenever slots free up or work arrives.
func (s *Scheduler) runLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.trigger:
			s.schedule()
		}
	}
}

// schedule starts queued tasks while slots are available. Dequeue order
// is priority rank, then submission order within a rank.
func (s *Scheduler) schedule() {
	for {
		s.mu.Lock()
		if len(s.running) >= s.maxConcurrent || len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}

		best := 0
		for i := 1; i < len(s.queue); i++ {
			a, b := s.queue[i], s.queue[best]
			if a.live.Priority.Rank() < b.live.Priority.Rank() ||
				(a.live.Priority.Rank() == b.live.Priority.Rank() && a.seq < b.seq) {
				best = i
			}
		}
		entry := s.queue[best]
		s.queue = append(s.queue[:best], s.queue[best+1:]...)
		s.running[entry.live.ID] = entry
		runningCount := len(s.running)
		s.mu.Unlock()

		debugLog("[scheduler] starting task %s (running=%d/%d)",
			entry.live.ID, runningCount, s.maxConcurrent)

		s.wg.Add(1)
		go s.runTask(entry)
	}
}

// runTask drives one task to a terminal state and frees its slot.
func (s *Scheduler) runTask(entry *taskEntry) {
	defer s.wg.Done()

	s.runner.Execute(s.ctx, entry)

	s.mu.Lock()
	delete(s.running, entry.live.ID)
	s.mu.Unlock()

	entry.refresh()
	close(entry.done)

	debugLog("[scheduler] task %s settled as %s", entry.live.ID, entry.live.Status)
	s.kick()
}
