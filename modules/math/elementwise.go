package math

import (
	"fmt"
	"slices"

	"github.com/vk/flowgrid/internal/device"
	"github.com/vk/flowgrid/internal/registry"
	"github.com/vk/flowgrid/internal/tensor"
)

type number interface{ ~int32 | ~float32 }

func pair[T any](a, b *device.DeviceTensor, read func(*device.DeviceTensor) ([]T, error)) ([]T, []T, error) {
	x, err := read(a)
	if err != nil {
		return nil, nil, err
	}
	y, err := read(b)
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

// broadcastLen returns the result length of combining n and m elements.
func broadcastLen(n, m int) (int, error) {
	switch {
	case n == m, m == 1:
		return n, nil
	case n == 1:
		return m, nil
	}
	return 0, fmt.Errorf("cannot broadcast %d elements against %d", n, m)
}

func zip[T any](x, y []T, f func(a, b T) T) ([]T, error) {
	n, err := broadcastLen(len(x), len(y))
	if err != nil {
		return nil, err
	}
	out := make([]T, n)
	for i := range out {
		out[i] = f(x[min(i, len(x)-1)], y[min(i, len(y)-1)])
	}
	return out, nil
}

func compare[T number](x, y []T) ([]bool, error) {
	n, err := broadcastLen(len(x), len(y))
	if err != nil {
		return nil, err
	}
	out := make([]bool, n)
	for i := range out {
		out[i] = x[min(i, len(x)-1)] > y[min(i, len(y)-1)]
	}
	return out, nil
}

func apply[T, U any](x []T, f func(T) U) []U {
	out := make([]U, len(x))
	for i, v := range x {
		out[i] = f(v)
	}
	return out
}

func inferBinary(boolean bool) func([]registry.Meta, any) ([]registry.Meta, error) {
	return func(in []registry.Meta, _ any) ([]registry.Meta, error) {
		a, b := in[0], in[1]
		if a.DType != b.DType {
			return nil, fmt.Errorf("operand types differ: %s and %s", a.DType, b.DType)
		}
		if _, err := broadcastLen(tensor.NumElements(a.Shape), tensor.NumElements(b.Shape)); err != nil {
			return nil, err
		}
		shape := a.Shape
		if tensor.NumElements(b.Shape) > tensor.NumElements(a.Shape) {
			shape = b.Shape
		}
		dtype := a.DType
		if boolean {
			dtype = tensor.Bool
		}
		return []registry.Meta{{DType: dtype, Shape: slices.Clone(shape)}}, nil
	}
}

func inferSame(in []registry.Meta, _ any) ([]registry.Meta, error) {
	return []registry.Meta{{DType: in[0].DType, Shape: slices.Clone(in[0].Shape)}}, nil
}

func inferCast(in []registry.Meta, attrs any) ([]registry.Meta, error) {
	to, err := tensor.ParseDType(attrs.(*CastAttrs).To)
	if err != nil {
		return nil, err
	}
	return []registry.Meta{{DType: to, Shape: slices.Clone(in[0].Shape)}}, nil
}
