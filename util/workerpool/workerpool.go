package workerpool

import (
	"context"
	"sync"
)

// Task represents a unit of work to be executed by the worker pool
type Task func(ctx context.Context) error

// WorkerPool is a fixed-size pool of goroutines that execute tasks
type WorkerPool struct {
	numWorkers int
	tasks      chan taskWrapper
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc

	stopOnce sync.Once
	mu       sync.RWMutex // guards closed against concurrent Submit
	closed   bool
}

type taskWrapper struct {
	task   Task
	result chan error
}

// New creates a new worker pool with the specified number of workers.
// The provided context is the base context passed to every task.
func New(ctx context.Context, numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		numWorkers: numWorkers,
		tasks:      make(chan taskWrapper, numWorkers*2),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start starts all worker goroutines
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.ctx.Done():
			return
		case tw, ok := <-wp.tasks:
			if !ok {
				return
			}
			// result is buffered, this never blocks
			tw.result <- tw.task(wp.ctx)
		}
	}
}

// Submit queues a task and returns a channel that receives its result.
// If the pool is stopped the channel receives context.Canceled.
func (wp *WorkerPool) Submit(task Task) <-chan error {
	result := make(chan error, 1)

	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closed {
		result <- context.Canceled
		return result
	}

	select {
	case <-wp.ctx.Done():
		result <- wp.ctx.Err()
	case wp.tasks <- taskWrapper{task: task, result: result}:
	}
	return result
}

// SubmitAll runs every task on the pool and waits for all of them.
// The returned slice holds each task's error at the task's index.
// Tasks still pending when ctx is done report ctx.Err().
func (wp *WorkerPool) SubmitAll(ctx context.Context, tasks []Task) []error {
	if len(tasks) == 0 {
		return nil
	}

	results := make([]error, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, t Task) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				results[i] = ctx.Err()
			case err := <-wp.Submit(t):
				results[i] = err
			}
		}(i, task)
	}
	wg.Wait()
	return results
}

// Stop cancels the pool context and waits for the workers to exit.
// Queued tasks that have not started are dropped.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		wp.cancel()
		wp.mu.Lock()
		wp.closed = true
		close(wp.tasks)
		wp.mu.Unlock()
		wp.wg.Wait()
	})
}
