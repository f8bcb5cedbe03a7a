// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsToCompletion(t *testing.T) {
	r := NewRunner()
	defer r.Stop()

	var ran atomic.Bool
	task := r.Submit("noop", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	r.Wait()

	if !ran.Load() {
		t.Fatal("task did not run")
	}
	got := r.Get(task.ID)
	if got == nil || got.Status != StatusComplete {
		t.Fatalf("expected Complete, got %+v", got)
	}
	if got.Duration() < 0 {
		t.Error("expected non-negative duration")
	}
}

func TestSubmitRecordsFailure(t *testing.T) {
	r := NewRunner()
	defer r.Stop()

	task := r.Submit("boom", func(ctx context.Context) error {
		return errors.New("exploded")
	})
	r.Wait()

	got := r.Get(task.ID)
	if got.Status != StatusFailed {
		t.Fatalf("expected Failed, got %s", got.Status)
	}
	if got.Error != "exploded" {
		t.Errorf("expected error message, got %q", got.Error)
	}
}

func TestCancelRunningTask(t *testing.T) {
	r := NewRunner()
	defer r.Stop()

	started := make(chan struct{})
	task := r.Submit("slow", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	<-started
	if !r.Cancel(task.ID) {
		t.Fatal("Cancel should succeed for a running task")
	}
	r.Wait()

	got := r.Get(task.ID)
	if got.Status != StatusCanceled {
		t.Fatalf("expected Canceled, got %s", got.Status)
	}
}

func TestTimeoutCancelsTask(t *testing.T) {
	r := NewRunnerWithOptions(1, 10*time.Millisecond)
	defer r.Stop()

	task := r.Submit("stuck", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	r.Wait()

	got := r.Get(task.ID)
	if got.Status != StatusCanceled {
		t.Fatalf("expected Canceled on timeout, got %s", got.Status)
	}
}

func TestConcurrencyLimit(t *testing.T) {
	r := NewRunnerWithOptions(1, 0)
	defer r.Stop()

	var concurrent, peak atomic.Int32
	for i := 0; i < 4; i++ {
		r.Submit("counted", func(ctx context.Context) error {
			n := concurrent.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			concurrent.Add(-1)
			return nil
		})
	}
	r.Wait()

	if peak.Load() != 1 {
		t.Errorf("expected at most 1 concurrent task, saw %d", peak.Load())
	}
}

func TestForgetOnlyDropsFinished(t *testing.T) {
	r := NewRunner()
	defer r.Stop()

	started := make(chan struct{})
	release := make(chan struct{})
	task := r.Submit("held", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})

	<-started
	r.Forget(task.ID)
	if r.Get(task.ID) == nil {
		t.Fatal("running task should not be forgotten")
	}

	close(release)
	r.Wait()
	r.Forget(task.ID)
	if r.Get(task.ID) != nil {
		t.Fatal("finished task should be forgotten")
	}
}

func TestStopRejectsNewWork(t *testing.T) {
	r := NewRunner()
	r.Stop()

	task := r.Submit("late", func(ctx context.Context) error { return nil })
	if task.Status != StatusCanceled {
		t.Fatalf("expected Canceled for post-stop submit, got %s", task.Status)
	}
}
