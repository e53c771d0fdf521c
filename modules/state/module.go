// Package state provides in-place update kernels. Their single output is a
// ref output: it shares the address of input 0, so writing the output
// updates the variable behind that input.
package state

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

// Register registers Assign and AssignAdd.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterKernel("Assign", &registry.RegisteredKernel{
		Build:     func(any) (device.KernelMod, error) { return device.KernelFunc(assign), nil },
		Infer:     inferRef,
		MinInputs: 2,
		MaxInputs: 2,
		Refs:      map[int]int{0: 0},
	})
	r.RegisterKernel("AssignAdd", &registry.RegisteredKernel{
		Build:     func(any) (device.KernelMod, error) { return device.KernelFunc(assignAdd), nil },
		Infer:     inferRef,
		MinInputs: 2,
		MaxInputs: 2,
		Refs:      map[int]int{0: 0},
	})
}

func checkRef(name string, inputs, outputs []*device.DeviceTensor) error {
	ref, out := inputs[0], outputs[0]
	if out.Ptr() != ref.Ptr() {
		return fmt.Errorf("%s: output at %#x does not alias its variable at %#x", name, uint64(out.Ptr()), uint64(ref.Ptr()))
	}
	if ref.Size() != inputs[1].Size() || ref.DType() != inputs[1].DType() {
		return fmt.Errorf("%s: value %s does not match variable %s", name, inputs[1], ref)
	}
	return nil
}

func assign(_ context.Context, inputs, _, outputs []*device.DeviceTensor) error {
	if err := checkRef("Assign", inputs, outputs); err != nil {
		return err
	}
	return outputs[0].CopyFrom(inputs[1])
}

func assignAdd(_ context.Context, inputs, _, outputs []*device.DeviceTensor) error {
	if err := checkRef("AssignAdd", inputs, outputs); err != nil {
		return err
	}
	ref, delta, out := inputs[0], inputs[1], outputs[0]
	switch ref.DType() {
	case tensor.Float32:
		x, err := ref.Float32s()
		if err != nil {
			return err
		}
		d, err := delta.Float32s()
		if err != nil {
			return err
		}
		for i := range x {
			x[i] += d[i]
		}
		return out.SetFloat32s(x)
	case tensor.Int32:
		x, err := ref.Int32s()
		if err != nil {
			return err
		}
		d, err := delta.Int32s()
		if err != nil {
			return err
		}
		for i := range x {
			x[i] += d[i]
		}
		return out.SetInt32s(x)
	}
	return fmt.Errorf("AssignAdd: unsupported type %s", ref.DType())
}

func inferRef(in []registry.Meta, _ any) ([]registry.Meta, error) {
	if in[0].DType != in[1].DType || tensor.NumElements(in[0].Shape) != tensor.NumElements(in[1].Shape) {
		return nil, fmt.Errorf("value %s%v does not match variable %s%v", in[1].DType, in[1].Shape, in[0].DType, in[0].Shape)
	}
	return []registry.Meta{{DType: in[0].DType, Shape: slices.Clone(in[0].Shape)}}, nil
}
