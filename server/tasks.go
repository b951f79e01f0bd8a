package server

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"sensor_report_loader/logger"

	"github.com/google/uuid"
)

// ErrBusy is returned by Start while another task is running. The store is
// written by a single pipeline at a time.
var ErrBusy = errors.New("a task is already running")

// Status is the lifecycle state of a task.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Task is a snapshot of a background job.
type Task struct {
	ID         string      `json:"id"`
	Kind       string      `json:"kind"`
	Status     Status      `json:"status"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Result     interface{} `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// TaskFunc is the body of a task. It must return when ctx is cancelled.
type TaskFunc func(ctx context.Context) (interface{}, error)

// Tasks runs at most one background job at a time and keeps the outcome of
// every job it started.
type Tasks struct {
	mu      sync.Mutex
	tasks   map[string]*Task
	running string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	onDone func(Task)
}

// NewTasks creates a runner whose jobs are cancelled when parent is done or
// Shutdown is called. onDone, if set, receives every finished task.
func NewTasks(parent context.Context, onDone func(Task)) *Tasks {
	ctx, cancel := context.WithCancel(parent)
	return &Tasks{
		tasks:  make(map[string]*Task),
		ctx:    ctx,
		cancel: cancel,
		onDone: onDone,
	}
}

// Start launches fn in the background and returns its initial snapshot.
func (t *Tasks) Start(kind string, fn TaskFunc) (Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ctx.Err() != nil {
		return Task{}, t.ctx.Err()
	}
	if t.running != "" {
		return Task{}, ErrBusy
	}

	task := &Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	t.tasks[task.ID] = task
	t.running = task.ID

	t.wg.Add(1)
	go t.run(task.ID, fn)

	return *task, nil
}

func (t *Tasks) run(id string, fn TaskFunc) {
	defer t.wg.Done()

	result, err := call(t.ctx, fn)
	finished := time.Now().UTC()

	t.mu.Lock()
	task := t.tasks[id]
	task.FinishedAt = &finished
	task.Result = result
	switch {
	case err == nil:
		task.Status = StatusSucceeded
	case errors.Is(err, context.Canceled):
		task.Status = StatusCancelled
		task.Error = err.Error()
	default:
		task.Status = StatusFailed
		task.Error = err.Error()
	}
	t.running = ""
	snapshot := *task
	t.mu.Unlock()

	if t.onDone != nil {
		t.onDone(snapshot)
	}
}

// call runs fn and turns a panic into a failed result.
func call(ctx context.Context, fn TaskFunc) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Named("tasks").Errorw("task panicked", "panic", r, "stack", string(debug.Stack()))
			result, err = nil, fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// Get returns a snapshot of the task with id.
func (t *Tasks) Get(id string) (Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// Shutdown cancels running tasks and waits for them to return.
func (t *Tasks) Shutdown() {
	t.cancel()
	t.wg.Wait()
}
