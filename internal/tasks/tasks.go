// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tasks provides a background task system for fire-and-forget
// work such as conversation title generation.
package tasks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// TASK STATUS
// =============================================================================

// Status represents the current state of a background task.
type Status string

const (
	StatusQueued   Status = "Queued"
	StatusRunning  Status = "Running"
	StatusComplete Status = "Complete"
	StatusFailed   Status = "Failed"
	StatusCanceled Status = "Canceled"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// =============================================================================
// TASK
// =============================================================================

// Func is the work a task performs. It must honor cancellation through
// the context.
type Func func(ctx context.Context) error

// Task is one unit of background work.
type Task struct {
	// ID is a unique identifier for this task.
	ID string

	// Description is a human-readable description of the work.
	Description string

	// Status is the current state of the task.
	Status Status

	// StartTime is when the task started running.
	StartTime time.Time

	// EndTime is when the task completed or failed.
	EndTime time.Time

	// Error is the failure message when Status is Failed.
	Error string

	fn     Func
	cancel context.CancelFunc
}

// NewTask creates a queued task for the given work.
func NewTask(description string, fn Func) *Task {
	return &Task{
		ID:          uuid.NewString(),
		Description: description,
		Status:      StatusQueued,
		fn:          fn,
	}
}

// Done reports whether the task has reached a terminal state.
func (t *Task) Done() bool {
	switch t.Status {
	case StatusComplete, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Duration returns the task's run time so far, or total run time once
// finished.
func (t *Task) Duration() time.Duration {
	if t.StartTime.IsZero() {
		return 0
	}
	if t.EndTime.IsZero() {
		return time.Since(t.StartTime)
	}
	return t.EndTime.Sub(t.StartTime)
}

// =============================================================================
// RUNNER
// =============================================================================

// DefaultMaxConcurrent is the default concurrency limit.
const DefaultMaxConcurrent = 4

// DefaultTaskTimeout bounds a single task's run time.
const DefaultTaskTimeout = 2 * time.Minute

// Runner executes submitted tasks with bounded concurrency. Tasks are
// tracked by ID until Forget or Stop.
type Runner struct {
	mu    sync.Mutex
	tasks map[string]*Task

	wg        sync.WaitGroup
	stop      chan struct{}
	stopOnce  sync.Once
	semaphore chan struct{}
	timeout   time.Duration
}

// NewRunner creates a runner with default concurrency and timeout.
func NewRunner() *Runner {
	return NewRunnerWithOptions(DefaultMaxConcurrent, DefaultTaskTimeout)
}

// NewRunnerWithOptions creates a runner with custom settings. A zero
// timeout disables the per-task deadline.
func NewRunnerWithOptions(maxConcurrent int, timeout time.Duration) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Runner{
		tasks:     make(map[string]*Task),
		stop:      make(chan struct{}),
		semaphore: make(chan struct{}, maxConcurrent),
		timeout:   timeout,
	}
}

// Submit queues the work and starts it as soon as a slot frees up. The
// returned task can be polled through Get.
func (r *Runner) Submit(description string, fn Func) *Task {
	task := NewTask(description, fn)

	r.mu.Lock()
	select {
	case <-r.stop:
		task.Status = StatusCanceled
		r.mu.Unlock()
		return task
	default:
	}
	r.tasks[task.ID] = task
	r.mu.Unlock()

	r.wg.Add(1)
	go r.execute(task)
	return task
}

func (r *Runner) execute(task *Task) {
	defer r.wg.Done()

	select {
	case r.semaphore <- struct{}{}:
	case <-r.stop:
		r.finish(task, StatusCanceled, "runner stopped")
		return
	}
	defer func() { <-r.semaphore }()

	ctx := context.Background()
	var cancel context.CancelFunc
	if r.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	r.mu.Lock()
	task.Status = StatusRunning
	task.StartTime = time.Now()
	task.cancel = cancel
	r.mu.Unlock()

	// Cancel the task context if the runner stops mid-run.
	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-r.stop:
			cancel()
		case <-stopWatch:
		}
	}()

	err := task.fn(ctx)
	close(stopWatch)

	switch {
	case err == nil:
		r.finish(task, StatusComplete, "")
	case ctx.Err() != nil:
		r.finish(task, StatusCanceled, ctx.Err().Error())
	default:
		r.finish(task, StatusFailed, err.Error())
	}
}

func (r *Runner) finish(task *Task, status Status, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task.Status = status
	task.Error = errMsg
	task.EndTime = time.Now()
}

// Get returns the task with the given ID, or nil.
func (r *Runner) Get(id string) *Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks[id]
}

// Cancel requests cancellation of a running task. Queued tasks are
// canceled immediately.
func (r *Runner) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok || task.Done() {
		return false
	}
	if task.cancel != nil {
		task.cancel()
	}
	return true
}

// Forget drops a finished task from tracking.
func (r *Runner) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task, ok := r.tasks[id]; ok && task.Done() {
		delete(r.tasks, id)
	}
}

// List returns all tracked tasks, newest first.
func (r *Runner) List() []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

// Stop cancels in-flight tasks and waits for them to finish. No new
// tasks are accepted afterwards.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
}

// Wait blocks until every submitted task has finished. Intended for
// tests and shutdown paths.
func (r *Runner) Wait() {
	r.wg.Wait()
}
