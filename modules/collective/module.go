// Package collective provides communication kernels for a single-process
// group of identical replicas. AllReduce combines a tensor with WorldSize
// copies of itself and Broadcast forwards rank 0's tensor unchanged; both are
// marked as communication kernels so the scheduler orders them and gives them
// contiguous memory.
package collective

import (
	"context"
	"fmt"
	"slices"

	"github.com/vk/flowgrid/internal/device"
	"github.com/vk/flowgrid/internal/registry"
	"github.com/vk/flowgrid/internal/tensor"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// AllReduceAttrs are the attributes of AllReduce.
type AllReduceAttrs struct {
	Op        string `cty:"op"`
	WorldSize int    `cty:"world_size"`
}

// BroadcastAttrs are the attributes of Broadcast.
type BroadcastAttrs struct {
	Root int `cty:"root"`
}

// Register registers the communication kernels.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterKernel("AllReduce", &registry.RegisteredKernel{
		NewAttrs:      func() any { return &AllReduceAttrs{Op: "sum", WorldSize: 1} },
		Build:         buildAllReduce,
		Infer:         inferPassThrough,
		MinInputs:     1,
		MaxInputs:     -1,
		Communication: true,
	})
	r.RegisterKernel("Broadcast", &registry.RegisteredKernel{
		NewAttrs: func() any { return new(BroadcastAttrs) },
		Build: func(attrs any) (device.KernelMod, error) {
			if root := attrs.(*BroadcastAttrs).Root; root != 0 {
				return nil, fmt.Errorf("root %d does not exist in a single-process group", root)
			}
			return device.KernelFunc(broadcast), nil
		},
		Infer:         inferPassThrough,
		MinInputs:     1,
		MaxInputs:     -1,
		Communication: true,
	})
}

type allReduce struct {
	op    string
	world int
}

func buildAllReduce(attrs any) (device.KernelMod, error) {
	a := attrs.(*AllReduceAttrs)
	if a.WorldSize < 1 {
		return nil, fmt.Errorf("world_size must be positive, got %d", a.WorldSize)
	}
	switch a.Op {
	case "sum", "mean", "max", "min":
	default:
		return nil, fmt.Errorf("unknown reduce op %q", a.Op)
	}
	return allReduce{op: a.Op, world: a.WorldSize}, nil
}

// Launch reduces every input over the replicas into the matching output.
func (k allReduce) Launch(_ context.Context, inputs, _, outputs []*device.DeviceTensor) error {
	if len(inputs) != len(outputs) {
		return fmt.Errorf("AllReduce: %d inputs but %d outputs", len(inputs), len(outputs))
	}
	for i, in := range inputs {
		if err := k.reduce(in, outputs[i]); err != nil {
			return fmt.Errorf("AllReduce: input %d: %w", i, err)
		}
	}
	return nil
}

func (k allReduce) reduce(in, out *device.DeviceTensor) error {
	switch in.DType() {
	case tensor.Float32:
		vals, err := in.Float32s()
		if err != nil {
			return err
		}
		if k.op == "sum" {
			for i := range vals {
				vals[i] *= float32(k.world)
			}
		}
		return out.SetFloat32s(vals)
	case tensor.Int32:
		vals, err := in.Int32s()
		if err != nil {
			return err
		}
		if k.op == "sum" {
			for i := range vals {
				vals[i] *= int32(k.world)
			}
		}
		return out.SetInt32s(vals)
	}
	return fmt.Errorf("unsupported type %s", in.DType())
}

func broadcast(_ context.Context, inputs, _, outputs []*device.DeviceTensor) error {
	if len(inputs) != len(outputs) {
		return fmt.Errorf("Broadcast: %d inputs but %d outputs", len(inputs), len(outputs))
	}
	for i, in := range inputs {
		if err := outputs[i].CopyFrom(in); err != nil {
			return fmt.Errorf("Broadcast: input %d: %w", i, err)
		}
	}
	return nil
}

func inferPassThrough(in []registry.Meta, _ any) ([]registry.Meta, error) {
	out := make([]registry.Meta, len(in))
	for i, m := range in {
		out[i] = registry.Meta{DType: m.DType, Shape: slices.Clone(m.Shape)}
	}
	return out, nil
}
