package sequence

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrRunnerClosed reports that a task could not complete because the runner stopped.
var ErrRunnerClosed = errors.New("sequence: runner closed")

// Runner executes posted tasks one at a time, in the order they were posted.
// Every messaging and controller component runs its callbacks through a Runner,
// so none of them needs its own locking.
type Runner interface {
	PostTask(task func())
}

// LoopRunner is a Runner backed by a single goroutine.
type LoopRunner struct {
	mu      sync.Mutex
	pending []func()
	closed  bool
	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	logger  *zap.Logger
}

// NewLoopRunner starts the runner goroutine. Close must be called to release it.
func NewLoopRunner(logger *zap.Logger) *LoopRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	runner := &LoopRunner{
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  logger,
	}
	go runner.loop()
	return runner
}

// PostTask queues task for execution. Tasks posted after Close are discarded.
func (r *LoopRunner) PostTask(task func()) {
	if task == nil {
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Debug("task posted to closed runner dropped")
		return
	}
	r.pending = append(r.pending, task)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Invoke runs fn on the sequence and waits for it to finish.
// It must not be called from a task already running on this runner.
func (r *LoopRunner) Invoke(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	r.PostTask(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrRunnerClosed
		}
	}
}

// Close stops the runner after the task currently executing, if any.
// Queued tasks that have not started are discarded.
func (r *LoopRunner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.stopped
		return
	}
	r.closed = true
	dropped := len(r.pending)
	r.pending = nil
	r.mu.Unlock()

	close(r.stop)
	<-r.stopped
	if dropped > 0 {
		r.logger.Debug("runner closed with pending tasks", zap.Int("dropped", dropped))
	}
}

func (r *LoopRunner) loop() {
	defer close(r.stopped)
	for {
		select {
		case <-r.stop:
			return
		case <-r.wake:
		}
		for {
			task := r.next()
			if task == nil {
				break
			}
			task()
		}
	}
}

func (r *LoopRunner) next() func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || len(r.pending) == 0 {
		return nil
	}
	task := r.pending[0]
	r.pending[0] = nil
	r.pending = r.pending[1:]
	return task
}

// ManualRunner queues tasks until the caller drains them. Tests use it to
// observe intermediate states between posted tasks.
type ManualRunner struct {
	mu      sync.Mutex
	pending []func()
}

// NewManualRunner constructs an empty ManualRunner.
func NewManualRunner() *ManualRunner {
	return &ManualRunner{}
}

// PostTask queues task.
func (r *ManualRunner) PostTask(task func()) {
	if task == nil {
		return
	}
	r.mu.Lock()
	r.pending = append(r.pending, task)
	r.mu.Unlock()
}

// RunUntilIdle runs queued tasks, including ones they post, until none remain.
func (r *ManualRunner) RunUntilIdle() {
	for {
		r.mu.Lock()
		if len(r.pending) == 0 {
			r.mu.Unlock()
			return
		}
		task := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		task()
	}
}

// Pending reports how many tasks are queued.
func (r *ManualRunner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
