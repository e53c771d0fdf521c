package actorset

import (
	"context"
	"fmt"

	"github.com/vk/flowgrid/internal/actor"
	"github.com/vk/flowgrid/internal/device"
	"github.com/vk/flowgrid/internal/memory"
	"github.com/vk/flowgrid/internal/model"
	"github.com/vk/flowgrid/internal/tensor"
)

func (a *Actor) fireSource(op *actor.OpContext, seq uint64, in *inbox) error {
	src := a.Source
	switch src.Kind {
	case HostSource, QueueSource:
		var batch []*tensor.Tensor
		var ok bool
		if src.Kind == HostSource {
			batch, ok = a.set.HostQueue.Peek()
		} else {
			batch, ok = a.set.DeviceQueue.TryPop()
		}
		if !ok {
			return fmt.Errorf("%s: %w", a.Name, ErrNoInput)
		}
		for i, t := range src.Outputs {
			pos := src.Positions[i]
			if pos >= len(batch) {
				return fmt.Errorf("%s: batch has %d tensors, output %d reads position %d", a.Name, len(batch), i, pos)
			}
			if err := t.SyncHostToDevice(batch[pos]); err != nil {
				return fmt.Errorf("%s: output %d: %w", a.Name, i, err)
			}
		}
	case EntrySource:
		for i, t := range src.Outputs {
			if err := t.ConvertFrom(in.data[i]); err != nil {
				return fmt.Errorf("%s: output %d: %w", a.Name, i, err)
			}
		}
	}
	a.forward(op, seq, src.Outputs, nil)
	return nil
}

func (a *Actor) fireKernel(ctx context.Context, op *actor.OpContext, seq uint64, in *inbox) error {
	k := a.Kernel
	inputs := make([]*device.DeviceTensor, len(k.Fixed))
	for i := range inputs {
		if in.data[i] != nil {
			inputs[i] = in.data[i]
		} else {
			inputs[i] = k.Fixed[i]
		}
	}
	launchIn := inputs
	if k.Staging != nil {
		for i, st := range k.Staging {
			if err := st.CopyFrom(inputs[i]); err != nil {
				return fmt.Errorf("%s: stage input %d: %w", a.Name, i, err)
			}
		}
		launchIn = k.Staging
	}

	outputs, err := a.prepareOutputs(inputs)
	if err != nil {
		return err
	}
	workspace, err := a.prepareWorkspace()
	if err != nil {
		a.freeOutputs(outputs)
		return err
	}
	launchCtx, stop := op.Bind(ctx)
	err = a.Device.LaunchKernel(launchCtx, k.Mod, launchIn, workspace, outputs)
	stop()
	a.freeWorkspace(workspace)
	if err != nil {
		a.freeOutputs(outputs)
		return &KernelError{Kernel: a.Name, Err: err}
	}

	a.forward(op, seq, outputs, k.Dynamic)
	for j, out := range outputs {
		if k.Dynamic[j] && k.Consumers[j] == 0 {
			memory.Free(out)
		}
	}
	return nil
}

func (a *Actor) prepareOutputs(inputs []*device.DeviceTensor) ([]*device.DeviceTensor, error) {
	k := a.Kernel
	outputs := make([]*device.DeviceTensor, len(k.Outputs))
	for j, t := range k.Outputs {
		switch {
		case k.Refs[j] >= 0:
			// Follow the variable: an earlier ref kernel may have redirected it.
			if ptr := inputs[k.Refs[j]].Ptr(); t.Ptr() != ptr {
				t.SetPtr(ptr)
			}
			outputs[j] = t
		case k.Dynamic[j]:
			f := t.Fork()
			if err := memory.Allocate(f, a.Name+" output"); err != nil {
				a.freeOutputs(outputs[:j])
				return nil, err
			}
			f.SetRefCount(int32(k.Consumers[j]))
			outputs[j] = f
		default:
			outputs[j] = t
		}
	}
	return outputs, nil
}

func (a *Actor) freeOutputs(outputs []*device.DeviceTensor) {
	for j, out := range outputs {
		if out != nil && a.Kernel.Dynamic[j] {
			memory.Free(out)
		}
	}
}

func (a *Actor) prepareWorkspace() ([]*device.DeviceTensor, error) {
	k := a.Kernel
	if a.set.Reuse || len(k.Workspace) == 0 {
		return k.Workspace, nil
	}
	ws := make([]*device.DeviceTensor, len(k.Workspace))
	for i, t := range k.Workspace {
		f := t.Fork()
		if err := memory.Allocate(f, a.Name+" workspace"); err != nil {
			a.freeWorkspace(ws[:i])
			return nil, err
		}
		ws[i] = f
	}
	return ws, nil
}

func (a *Actor) freeWorkspace(ws []*device.DeviceTensor) {
	if a.set.Reuse {
		return
	}
	for _, t := range ws {
		memory.Free(t)
	}
}

func (a *Actor) fireCopy(op *actor.OpContext, seq uint64, in *inbox) error {
	out := a.Copy.Output
	if err := out.ConvertFrom(in.data[0]); err != nil {
		return fmt.Errorf("%s: %w", a.Name, err)
	}
	a.forward(op, seq, []*device.DeviceTensor{out}, nil)
	return nil
}

func (a *Actor) fireSwitch(op *actor.OpContext, seq uint64, in *inbox) error {
	cond, err := truth(in.data[0])
	if err != nil {
		return fmt.Errorf("%s: condition: %w", a.Name, err)
	}
	branch := a.Branches[1]
	if cond {
		branch = a.Branches[0]
	}
	a.enterBranch(op, seq, branch, in.data[1:])
	return nil
}

func (a *Actor) fireGather(op *actor.OpContext, seq uint64, in *inbox) error {
	a.enterBranch(op, seq, a.Branches[0], in.data)
	return nil
}

// enterBranch reports the branch to the loop count actor before any of the
// branch graph's actors can run, then hands the inputs to its entry.
func (a *Actor) enterBranch(op *actor.OpContext, seq uint64, branch BranchArrow, inputs []*device.DeviceTensor) {
	op.AddBranch(branch.Graph)
	a.set.send(op, a.set.LoopCount, &OpBranch{Seq: seq, Graph: branch.Graph, Tails: a.set.BranchTails[branch.Graph], From: a.Index})
	for i, t := range inputs {
		a.set.send(op, branch.To, &OpData{Seq: seq, To: i, Tensor: t, From: a.Index})
	}
	a.set.send(op, branch.To, &OpControl{Seq: seq, From: a.Index})
}

func truth(t *device.DeviceTensor) (bool, error) {
	if t.Size() == 0 {
		return false, fmt.Errorf("empty tensor %s", t)
	}
	switch t.DType() {
	case tensor.Bool:
		vals, err := t.Bools()
		if err != nil {
			return false, err
		}
		return vals[0], nil
	case tensor.Int32:
		vals, err := t.Int32s()
		if err != nil {
			return false, err
		}
		return vals[0] != 0, nil
	case tensor.Float32:
		vals, err := t.Float32s()
		if err != nil {
			return false, err
		}
		return vals[0] != 0, nil
	}
	return false, fmt.Errorf("unsupported condition type %s", t.DType())
}

func (a *Actor) fireLoopCount(op *actor.OpContext) {
	steps := op.StepDone()
	if a.set.Strategy == model.Pipeline && steps < int64(a.set.Iterations) {
		a.set.trigger(op, op.NextStep())
		return
	}
	op.Complete()
}

func (a *Actor) fireOutput(op *actor.OpContext, seq uint64, in *inbox) error {
	out := a.Output
	results := make([]*tensor.Tensor, len(out.Names))
	for i := range results {
		t := in.data[i]
		if t == nil {
			t = out.Fixed[i]
		}
		if t == nil {
			return fmt.Errorf("%s: output %s was never produced", a.Name, out.Names[i])
		}
		host, err := t.SyncDeviceToHost()
		if err != nil {
			return fmt.Errorf("%s: output %s: %w", a.Name, out.Names[i], err)
		}
		results[i] = host
	}
	op.SetResults(results)
	a.forward(op, seq, nil, nil)
	return nil
}
