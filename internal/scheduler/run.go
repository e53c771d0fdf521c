package scheduler

import (
	"context"
	"fmt"

	"github.com/vk/flowgrid/internal/actor"
	"github.com/vk/flowgrid/internal/actorset"
	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/nodestore"
	"github.com/vk/flowgrid/internal/tensor"
)

// Result is what one Run produced.
type Result struct {
	RunID string
	// Names and Outputs are in declared output order. Outputs is nil when
	// the run failed.
	Names   []string
	Outputs []*tensor.Tensor
	// Steps is the number of steps that finished.
	Steps int64
	// Branches lists the branch graphs taken in the last step.
	Branches []string
}

// Output returns the named output, or nil.
func (r *Result) Output(name string) *tensor.Tensor {
	for i, n := range r.Names {
		if n == name && i < len(r.Outputs) {
			return r.Outputs[i]
		}
	}
	return nil
}

// PrepareRun makes set ready for a run: weights and constants are copied to
// their devices the first time, and inputs become the host batch every step
// of the run reads.
func (s *Scheduler) PrepareRun(ctx context.Context, set *actorset.ActorSet, inputs []*tensor.Tensor) error {
	if err := set.Store.Persist(ctx); err != nil {
		return fmt.Errorf("persist device tensors of %s: %w", set.Name, err)
	}
	if err := checkInputs(set, inputs); err != nil {
		return err
	}
	set.HostQueue.Clear()
	if err := set.HostQueue.Push(inputs); err != nil {
		return fmt.Errorf("feed host inputs of %s: %w", set.Name, err)
	}
	return nil
}

func checkInputs(set *actorset.ActorSet, inputs []*tensor.Tensor) error {
	var host *actorset.SourceInfo
	for _, a := range set.Actors {
		if a.Kind == actorset.DataSource && a.Source.Kind == actorset.HostSource {
			host = a.Source
		}
	}
	want := 0
	if host != nil {
		want = len(host.Outputs)
	}
	if len(inputs) != want {
		return fmt.Errorf("program %s takes %d inputs, got %d", set.Name, want, len(inputs))
	}
	if host == nil {
		return nil
	}
	return checkBatch(set, host, inputs, "input")
}

// checkBatch matches every tensor of batch against the source output it
// lands in.
func checkBatch(set *actorset.ActorSet, src *actorset.SourceInfo, batch []*tensor.Tensor, what string) error {
	for i, out := range src.Outputs {
		pos := src.Positions[i]
		if pos >= len(batch) || batch[pos] == nil {
			return fmt.Errorf("%s %d of %s is missing", what, pos, set.Name)
		}
		in := batch[pos]
		if in.DType != out.DType() || len(in.Data) != out.Size() {
			return fmt.Errorf("%s %d of %s is %s, want %s", what, pos, set.Name, in, out)
		}
	}
	return nil
}

// Run executes set once with inputs in program input order and blocks until
// the run finishes. In pipeline mode that is after the configured number of
// steps. The returned Result is never nil; on failure it still carries the
// run ID and the number of finished steps.
func (s *Scheduler) Run(ctx context.Context, set *actorset.ActorSet, inputs []*tensor.Tensor) (*Result, error) {
	e, err := s.lookup(set)
	if err != nil {
		return &Result{}, err
	}
	e.run.Lock()
	defer e.run.Unlock()
	if !set.Spawned() {
		return &Result{}, fmt.Errorf("actor set %s was destroyed", set.Name)
	}

	if err := s.PrepareRun(ctx, set, inputs); err != nil {
		return &Result{}, err
	}
	defer set.HostQueue.Clear()

	op := actor.NewOpContext(s.sys.Clock())
	logger := ctxlog.FromContext(ctx).With("program", set.Name, "run_id", op.RunID)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Info("🚀 Starting run...", "strategy", set.Strategy, "iterations", set.Iterations)

	recorder, _ := set.History.(nodestore.RunRecorder)
	if recorder != nil {
		if err := recorder.BeginRun(ctx, op.RunID, set.Name, set.Strategy.String()); err != nil {
			logger.Warn("Failed to record run start.", "error", err)
		}
	}

	op.Hold()
	set.Start(op)
	op.Release()
	runErr := op.Wait(ctx)
	if runErr != nil && ctx.Err() != nil {
		// Running kernels see the cancellation through their launch context
		// and everything still queued drops out on the failure flag. The set
		// is only handed back once no actor touches it any more.
		op.SetFailed(ctx.Err())
		logger.Debug("Run cancelled, waiting for in-flight actors.", "inflight", op.Inflight())
		if err := op.Wait(context.WithoutCancel(ctx)); err != nil {
			runErr = err
		}
	}

	res := &Result{
		RunID:    op.RunID,
		Names:    outputNames(set),
		Steps:    op.Steps(),
		Branches: op.Branches(),
	}
	if runErr == nil {
		res.Outputs = op.Results()
	}

	if recorder != nil {
		if err := recorder.EndRun(context.WithoutCancel(ctx), op.RunID, res.Steps, runErr); err != nil {
			logger.Warn("Failed to record run end.", "error", err)
		}
	}
	if runErr != nil {
		logger.Warn("Run failed.", "steps", res.Steps, "error", runErr)
		return res, fmt.Errorf("run %s: %w", set.Name, runErr)
	}
	logger.Info("🏁 Run finished.", "steps", res.Steps, "branches", res.Branches)
	return res, nil
}

func outputNames(set *actorset.ActorSet) []string {
	if set.Output < 0 {
		return nil
	}
	return set.Actors[set.Output].Output.Names
}
