package registry

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/vk/flowgrid/internal/device"
	"github.com/vk/flowgrid/internal/tensor"
)

// Meta is the type and shape of one tensor, as seen by shape inference.
type Meta struct {
	DType tensor.DType
	Shape []int
}

// RegisteredKernel holds the compiled Go parts of a kernel type.
type RegisteredKernel struct {
	// NewAttrs returns a pointer to the struct the kernel's attributes decode
	// into. Fields carry `cty:"name"` tags. Nil means the kernel takes none.
	NewAttrs func() any
	// Build returns the launchable kernel for decoded attributes.
	Build func(attrs any) (device.KernelMod, error)
	// Infer computes output metas from input metas. Optional: kernels without
	// it need their outputs declared.
	Infer func(inputs []Meta, attrs any) ([]Meta, error)
	// MinInputs and MaxInputs bound the input count; MaxInputs < 0 is unbounded.
	MinInputs, MaxInputs int
	// Refs maps an output index to the input it updates in place.
	Refs map[int]int
	// Communication kernels are ordered by execution order and get
	// contiguous input and output memory.
	Communication bool
}

// attrsType is the struct type behind NewAttrs, or nil.
func (k *RegisteredKernel) attrsType() reflect.Type {
	if k.NewAttrs == nil {
		return nil
	}
	t := reflect.TypeOf(k.NewAttrs())
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// RegisterKernel registers a kernel type. Registering a name twice is a
// programming error and panics.
func (r *Registry) RegisterKernel(kernelType string, k *RegisteredKernel) {
	if _, exists := r.kernels[kernelType]; exists {
		panic(fmt.Sprintf("kernel type '%s' already registered", kernelType))
	}
	if k.Build == nil {
		panic(fmt.Sprintf("kernel type '%s' has no Build function", kernelType))
	}
	slog.Debug("Registering kernel type.", "type", kernelType, "communication", k.Communication)
	r.kernels[kernelType] = k
}
