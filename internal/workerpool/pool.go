// Package workerpool runs fire-and-forget tasks on a fixed set of long-lived
// workers fed by one shared FIFO queue.
//
// At most Size tasks execute at once. Submission never waits for execution.
// Close stops intake, lets queued and in-flight tasks finish, and joins the
// workers; nothing is aborted mid-execution.
package workerpool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/atmx/market-feed/internal/metrics"
)

var (
	// ErrInvalidSize is returned by New for a size below one.
	ErrInvalidSize = errors.New("workerpool: size must be at least 1")

	// ErrPoolClosed is returned when submitting to a pool that is shutting down.
	ErrPoolClosed = errors.New("workerpool: pool is closed")

	// ErrTaskPanic is delivered on a Submit result channel when the task panicked.
	ErrTaskPanic = errors.New("workerpool: task panicked")
)

// Task is an opaque unit of work.
type Task func()

// Pool is a fixed-size worker pool.
type Pool struct {
	size   int
	queue  *queue[Task]
	logger *slog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
	active    atomic.Int64
	completed atomic.Int64
	panics    atomic.Int64
}

// New starts size workers. Pass nil for logger to use slog.Default().
func New(size int, logger *slog.Logger) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSize, size)
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		size:   size,
		queue:  newQueue[Task](size * 4),
		logger: logger.With("component", "workerpool"),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker(i)
	}
	p.logger.Debug("worker pool started", "size", size)
	return p, nil
}

// Execute enqueues task and returns immediately.
func (p *Pool) Execute(task Task) error {
	if task == nil {
		return errors.New("workerpool: nil task")
	}
	if !p.queue.Send(task) {
		return ErrPoolClosed
	}
	metrics.PoolQueued.Inc()
	return nil
}

// Submit enqueues task and returns a channel that receives its result once it
// ran. A panicking task delivers an error wrapping ErrTaskPanic.
func (p *Pool) Submit(task func() error) (<-chan error, error) {
	if task == nil {
		return nil, errors.New("workerpool: nil task")
	}
	done := make(chan error, 1)
	err := p.Execute(func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", ErrTaskPanic, r)
				panic(r)
			}
		}()
		done <- task()
	})
	if err != nil {
		return nil, err
	}
	return done, nil
}

// Close stops accepting tasks and waits until every queued and in-flight task
// finished. It is safe to call more than once.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.queue.Close()
	})
	p.wg.Wait()
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// Active returns the number of tasks executing right now.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Queued returns the number of tasks waiting for a worker.
func (p *Pool) Queued() int { return p.queue.Len() }

// Completed returns the number of tasks that finished, including panicked ones.
func (p *Pool) Completed() int64 { return p.completed.Load() }

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		task, ok := p.queue.Receive()
		if !ok {
			p.logger.Debug("worker exiting", "worker", id)
			return
		}
		metrics.PoolQueued.Dec()
		p.run(id, task)
	}
}

// run executes one task. A panic is logged and counted; the worker survives.
func (p *Pool) run(id int, task Task) {
	p.active.Add(1)
	metrics.PoolActive.Inc()
	defer func() {
		p.active.Add(-1)
		metrics.PoolActive.Dec()
		p.completed.Add(1)
		if r := recover(); r != nil {
			p.panics.Add(1)
			metrics.PoolTasks.WithLabelValues("panic").Inc()
			p.logger.Error("task panicked", "worker", id, "panic", r)
			return
		}
		metrics.PoolTasks.WithLabelValues("ok").Inc()
	}()
	task()
}
