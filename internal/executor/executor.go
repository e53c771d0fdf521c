// Package executor is the fixed-size worker pool that runs ready tasks. The
// actor system submits an actor whenever its mailbox becomes non-empty; any
// idle worker picks it up, so no task is pinned to a goroutine.
package executor

import (
	"context"
	"sync"

	"github.com/vk/flowgrid/internal/ctxlog"
)

// Task is a unit of work handed to the pool.
type Task interface {
	Run(ctx context.Context)
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context)

// Run calls f.
func (f TaskFunc) Run(ctx context.Context) { f(ctx) }

// Pool runs submitted tasks on a fixed number of workers.
type Pool struct {
	queue   *taskQueue
	workers int
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	once    sync.Once
}

// New starts a pool with the given number of workers. The context must carry
// a logger; cancelling it stops the workers once their current task ends.
func New(ctx context.Context, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		queue:   newTaskQueue(),
		workers: workers,
		cancel:  cancel,
	}

	logger := ctxlog.FromContext(ctx)
	logger.Debug("Starting worker pool.", "workers", workers)
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(ctx, i)
	}
	return p
}

// Submit queues a task. It never blocks; it returns false after Close.
func (p *Pool) Submit(t Task) bool {
	return p.queue.push(t)
}

// Workers returns the pool size.
func (p *Pool) Workers() int { return p.workers }

// Close stops accepting tasks, lets the workers drain and waits for them.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.queue.close()
		p.wg.Wait()
		p.cancel()
	})
}
