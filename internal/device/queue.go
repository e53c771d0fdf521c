package device

import (
	"context"
	"errors"
	"sync"

	"github.com/vk/flowgrid/internal/tensor"
)

// ErrQueueFull is returned by Push on a bounded queue at capacity.
var ErrQueueFull = errors.New("tensor queue is full")

// TensorQueue is a FIFO of tensor batches. Host data sources Peek it so every
// iteration of a run sees the same inputs; device-queue data sources Pop it
// so every iteration consumes a fresh batch.
type TensorQueue struct {
	mu       sync.Mutex
	items    [][]*tensor.Tensor
	capacity int
	signal   chan struct{}
}

// NewTensorQueue creates a queue. A capacity of 0 means unbounded.
func NewTensorQueue(capacity int) *TensorQueue {
	return &TensorQueue{
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// Push appends a batch.
func (q *TensorQueue) Push(batch []*tensor.Tensor) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity > 0 && len(q.items) >= q.capacity {
		return ErrQueueFull
	}
	q.items = append(q.items, batch)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// TryPop removes the front batch without blocking.
func (q *TensorQueue) TryPop() ([]*tensor.Tensor, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	batch := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) > 0 {
		select {
		case q.signal <- struct{}{}:
		default:
		}
	}
	return batch, true
}

// Pop removes the front batch, blocking until one is available or ctx ends.
func (q *TensorQueue) Pop(ctx context.Context) ([]*tensor.Tensor, error) {
	for {
		if batch, ok := q.TryPop(); ok {
			return batch, nil
		}
		select {
		case <-q.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Peek returns the front batch without removing it.
func (q *TensorQueue) Peek() ([]*tensor.Tensor, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// Clear drops every queued batch.
func (q *TensorQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

// Len returns the number of queued batches.
func (q *TensorQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
