package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPool_BasicExecution(t *testing.T) {
	wp := New(context.Background(), 2)
	wp.Start()
	defer wp.Stop()

	var executed atomic.Bool
	err := <-wp.Submit(func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})
	if err != nil {
		t.Fatalf("Task returned error: %v", err)
	}
	if !executed.Load() {
		t.Fatal("Task was not executed")
	}
}

func TestWorkerPool_SubmitAllKeepsOrder(t *testing.T) {
	wp := New(context.Background(), 3)
	wp.Start()
	defer wp.Stop()

	tasks := make([]Task, 10)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) error {
			// later tasks finish first
			time.Sleep(time.Duration(10-i) * time.Millisecond)
			if i%3 == 0 {
				return fmt.Errorf("task %d failed", i)
			}
			return nil
		}
	}

	results := wp.SubmitAll(context.Background(), tasks)
	if len(results) != len(tasks) {
		t.Fatalf("Expected %d results, got %d", len(tasks), len(results))
	}
	for i, err := range results {
		if i%3 == 0 {
			if err == nil || err.Error() != fmt.Sprintf("task %d failed", i) {
				t.Errorf("result %d = %v, want task %d failure", i, err, i)
			}
		} else if err != nil {
			t.Errorf("result %d = %v, want nil", i, err)
		}
	}
}

func TestWorkerPool_FailureDoesNotAbortOthers(t *testing.T) {
	wp := New(context.Background(), 1)
	wp.Start()
	defer wp.Stop()

	var ran atomic.Int32
	tasks := []Task{
		func(ctx context.Context) error { ran.Add(1); return errors.New("unreachable") },
		func(ctx context.Context) error { ran.Add(1); return nil },
		func(ctx context.Context) error { ran.Add(1); return nil },
	}
	results := wp.SubmitAll(context.Background(), tasks)
	if ran.Load() != 3 {
		t.Fatalf("Expected all 3 tasks to run, ran %d", ran.Load())
	}
	if results[0] == nil || results[1] != nil || results[2] != nil {
		t.Fatalf("Unexpected results: %v", results)
	}
}

func TestWorkerPool_SubmitAllContextCancelled(t *testing.T) {
	wp := New(context.Background(), 1)
	wp.Start()
	defer wp.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	block := make(chan struct{})
	defer close(block)
	tasks := []Task{
		func(ctx context.Context) error { <-block; return nil },
	}
	results := wp.SubmitAll(ctx, tasks)
	if !errors.Is(results[0], context.DeadlineExceeded) {
		t.Fatalf("Expected DeadlineExceeded, got %v", results[0])
	}
}

func TestWorkerPool_SubmitAfterStop(t *testing.T) {
	wp := New(context.Background(), 2)
	wp.Start()
	wp.Stop()
	wp.Stop() // idempotent

	err := <-wp.Submit(func(ctx context.Context) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled after Stop, got %v", err)
	}
}

func TestWorkerPool_EmptySubmitAll(t *testing.T) {
	wp := New(context.Background(), 0)
	wp.Start()
	defer wp.Stop()

	if results := wp.SubmitAll(context.Background(), nil); results != nil {
		t.Fatalf("Expected nil results for no tasks, got %v", results)
	}
}
