// Package math provides the elementwise arithmetic kernels: Add, Sub, Mul,
// Relu, Cast, Greater and Identity. Binary kernels broadcast an operand with
// a single element against the other operand.
package math

import (
	"context"
	"fmt"

	"github.com/vk/flowgrid/internal/device"
	"github.com/vk/flowgrid/internal/registry"
	"github.com/vk/flowgrid/internal/tensor"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the math kernels.
func (m *Module) Register(r *registry.Registry) {
	for _, op := range []binaryOp{
		{name: "Add", f32: func(a, b float32) float32 { return a + b }, i32: func(a, b int32) int32 { return a + b }},
		{name: "Sub", f32: func(a, b float32) float32 { return a - b }, i32: func(a, b int32) int32 { return a - b }},
		{name: "Mul", f32: func(a, b float32) float32 { return a * b }, i32: func(a, b int32) int32 { return a * b }},
	} {
		r.RegisterKernel(op.name, &registry.RegisteredKernel{
			Build:     constant(op),
			Infer:     inferBinary(false),
			MinInputs: 2,
			MaxInputs: 2,
		})
	}
	r.RegisterKernel("Greater", &registry.RegisteredKernel{
		Build:     constant(device.KernelFunc(greater)),
		Infer:     inferBinary(true),
		MinInputs: 2,
		MaxInputs: 2,
	})
	r.RegisterKernel("Relu", &registry.RegisteredKernel{
		Build:     constant(device.KernelFunc(relu)),
		Infer:     inferSame,
		MinInputs: 1,
		MaxInputs: 1,
	})
	r.RegisterKernel("Identity", &registry.RegisteredKernel{
		Build:     constant(device.KernelFunc(identity)),
		Infer:     inferSame,
		MinInputs: 1,
		MaxInputs: 1,
	})
	r.RegisterKernel("Cast", &registry.RegisteredKernel{
		NewAttrs:  func() any { return new(CastAttrs) },
		Build:     buildCast,
		Infer:     inferCast,
		MinInputs: 1,
		MaxInputs: 1,
	})
}

func constant(k device.KernelMod) func(any) (device.KernelMod, error) {
	return func(any) (device.KernelMod, error) { return k, nil }
}

type binaryOp struct {
	name string
	f32  func(a, b float32) float32
	i32  func(a, b int32) int32
}

func (op binaryOp) Launch(_ context.Context, inputs, _, outputs []*device.DeviceTensor) error {
	a, b, out := inputs[0], inputs[1], outputs[0]
	if a.DType() != b.DType() {
		return fmt.Errorf("%s: operand types differ: %s and %s", op.name, a.DType(), b.DType())
	}
	switch a.DType() {
	case tensor.Float32:
		x, y, err := pair(a, b, (*device.DeviceTensor).Float32s)
		if err != nil {
			return err
		}
		res, err := zip(x, y, op.f32)
		if err != nil {
			return fmt.Errorf("%s: %w", op.name, err)
		}
		return out.SetFloat32s(res)
	case tensor.Int32:
		x, y, err := pair(a, b, (*device.DeviceTensor).Int32s)
		if err != nil {
			return err
		}
		res, err := zip(x, y, op.i32)
		if err != nil {
			return fmt.Errorf("%s: %w", op.name, err)
		}
		return out.SetInt32s(res)
	}
	return fmt.Errorf("%s: unsupported type %s", op.name, a.DType())
}

func greater(_ context.Context, inputs, _, outputs []*device.DeviceTensor) error {
	a, b, out := inputs[0], inputs[1], outputs[0]
	if a.DType() != b.DType() {
		return fmt.Errorf("Greater: operand types differ: %s and %s", a.DType(), b.DType())
	}
	var res []bool
	var err error
	switch a.DType() {
	case tensor.Float32:
		x, y, perr := pair(a, b, (*device.DeviceTensor).Float32s)
		if perr != nil {
			return perr
		}
		res, err = compare(x, y)
	case tensor.Int32:
		x, y, perr := pair(a, b, (*device.DeviceTensor).Int32s)
		if perr != nil {
			return perr
		}
		res, err = compare(x, y)
	default:
		return fmt.Errorf("Greater: unsupported type %s", a.DType())
	}
	if err != nil {
		return fmt.Errorf("Greater: %w", err)
	}
	return out.SetBools(res)
}

func relu(_ context.Context, inputs, _, outputs []*device.DeviceTensor) error {
	in, out := inputs[0], outputs[0]
	switch in.DType() {
	case tensor.Float32:
		x, err := in.Float32s()
		if err != nil {
			return err
		}
		return out.SetFloat32s(apply(x, func(v float32) float32 { return max(v, 0) }))
	case tensor.Int32:
		x, err := in.Int32s()
		if err != nil {
			return err
		}
		return out.SetInt32s(apply(x, func(v int32) int32 { return max(v, 0) }))
	}
	return fmt.Errorf("Relu: unsupported type %s", in.DType())
}

func identity(_ context.Context, inputs, _, outputs []*device.DeviceTensor) error {
	return outputs[0].CopyFrom(inputs[0])
}

// CastAttrs are the attributes of Cast.
type CastAttrs struct {
	To string `cty:"to"`
}

type cast struct{ to tensor.DType }

func buildCast(attrs any) (device.KernelMod, error) {
	to, err := tensor.ParseDType(attrs.(*CastAttrs).To)
	if err != nil {
		return nil, err
	}
	return cast{to: to}, nil
}

func (c cast) Launch(_ context.Context, inputs, _, outputs []*device.DeviceTensor) error {
	in, out := inputs[0], outputs[0]
	if out.DType() != c.to {
		return fmt.Errorf("Cast: output is %s, want %s", out.DType(), c.to)
	}
	vals, err := asFloat64(in)
	if err != nil {
		return err
	}
	switch c.to {
	case tensor.Float32:
		return out.SetFloat32s(apply(vals, func(v float64) float32 { return float32(v) }))
	case tensor.Int32:
		return out.SetInt32s(apply(vals, func(v float64) int32 { return int32(v) }))
	case tensor.Bool:
		return out.SetBools(apply(vals, func(v float64) bool { return v != 0 }))
	}
	return fmt.Errorf("Cast: unsupported target %s", c.to)
}

func asFloat64(t *device.DeviceTensor) ([]float64, error) {
	switch t.DType() {
	case tensor.Float32:
		x, err := t.Float32s()
		return apply(x, func(v float32) float64 { return float64(v) }), err
	case tensor.Int32:
		x, err := t.Int32s()
		return apply(x, func(v int32) float64 { return float64(v) }), err
	case tensor.Bool:
		x, err := t.Bools()
		return apply(x, func(v bool) float64 {
			if v {
				return 1
			}
			return 0
		}), err
	}
	return nil, fmt.Errorf("Cast: unsupported source %s", t.DType())
}
