package actor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/vk/flowgrid/internal/tensor"
)

// ErrStalled is returned by Wait when every message of a run has been
// handled but the run neither completed nor failed.
var ErrStalled = errors.New("run stalled: no messages in flight and no completion signal")

// OpContext is the token shared by every message of one Run invocation. It
// carries the current step's sequence number, the result slots, the shared
// failure flag and the in-flight message count used to detect quiescence.
type OpContext struct {
	RunID string

	clock    *Clock
	firstSeq uint64
	seq      atomic.Uint64
	steps    atomic.Int64

	failed  atomic.Bool
	errOnce sync.Once
	err     error
	// aborted is cancelled with the first failure.
	aborted context.Context
	abort   context.CancelCauseFunc

	completed atomic.Bool

	mu       sync.Mutex
	results  []*tensor.Tensor
	branches []string

	inflight  atomic.Int64
	quiet     chan struct{}
	quietOnce sync.Once
}

// NewOpContext creates the token for a run and opens its first step.
func NewOpContext(clock *Clock) *OpContext {
	op := &OpContext{
		RunID: uuid.NewString(),
		clock: clock,
		quiet: make(chan struct{}),
	}
	op.aborted, op.abort = context.WithCancelCause(context.Background())
	op.firstSeq = op.NextStep()
	return op
}

// NextStep advances to a new step and returns its sequence number.
func (op *OpContext) NextStep() uint64 {
	seq := op.clock.Next()
	op.seq.Store(seq)
	op.mu.Lock()
	op.branches = nil
	op.mu.Unlock()
	return seq
}

// Seq returns the sequence number of the current step.
func (op *OpContext) Seq() uint64 { return op.seq.Load() }

// FirstSeq returns the sequence number of the run's first step. Buffered
// state tagged with an older number belongs to an earlier run.
func (op *OpContext) FirstSeq() uint64 { return op.firstSeq }

// StepDone counts a finished step and returns how many have finished.
func (op *OpContext) StepDone() int64 { return op.steps.Add(1) }

// Steps returns the number of finished steps.
func (op *OpContext) Steps() int64 { return op.steps.Load() }

// SetFailed marks the run failed. Only the first error is kept; later calls
// re-assert the flag without replacing it. It reports whether err was the first.
func (op *OpContext) SetFailed(err error) bool {
	first := false
	op.errOnce.Do(func() {
		op.err = err
		first = true
	})
	op.failed.Store(true)
	if first {
		op.abort(err)
	}
	return first
}

// Bind returns a child of ctx that is also cancelled when the run fails, so
// a kernel still running after another actor failed can stop early. The
// returned function must be called once the work is done.
func (op *OpContext) Bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(op.aborted, func() { cancel(context.Cause(op.aborted)) })
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}

// Failed reports whether any actor has failed the run.
func (op *OpContext) Failed() bool { return op.failed.Load() }

// Err returns the first failure, or nil.
func (op *OpContext) Err() error {
	if !op.failed.Load() {
		return nil
	}
	return op.err
}

// SetResults publishes the outputs of the current step.
func (op *OpContext) SetResults(results []*tensor.Tensor) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.results = results
}

// Results returns the last published outputs.
func (op *OpContext) Results() []*tensor.Tensor {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.results
}

// AddBranch records a control-flow branch taken in the current step.
func (op *OpContext) AddBranch(graph string) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.branches = append(op.branches, graph)
}

// Branches returns the branches taken in the current step.
func (op *OpContext) Branches() []string {
	op.mu.Lock()
	defer op.mu.Unlock()
	return append([]string(nil), op.branches...)
}

// Complete signals that the final step finished successfully.
func (op *OpContext) Complete() { op.completed.Store(true) }

// Completed reports whether Complete was called.
func (op *OpContext) Completed() bool { return op.completed.Load() }

// Hold keeps the run from being considered quiet while the caller is still
// sending its initial messages. Every Hold must be paired with a Release.
func (op *OpContext) Hold() { op.inflight.Add(1) }

// Release undoes Hold.
func (op *OpContext) Release() { op.done() }

// Inflight returns the number of undelivered or in-process messages.
func (op *OpContext) Inflight() int64 { return op.inflight.Load() }

func (op *OpContext) done() {
	if op.inflight.Add(-1) == 0 {
		op.quietOnce.Do(func() { close(op.quiet) })
	}
}

// Wait blocks until no message of the run is in flight, then reports the
// outcome: the first failure, ErrStalled, or nil on completion.
func (op *OpContext) Wait(ctx context.Context) error {
	select {
	case <-op.quiet:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := op.Err(); err != nil {
		return err
	}
	if !op.Completed() {
		return ErrStalled
	}
	return nil
}
