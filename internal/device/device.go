// Package device models device memory and kernel launch. A Context is the
// collaborator that owns one device's memory: it hands out addresses,
// takes them back and runs kernels against DeviceTensors that point into it.
// CPU is the in-process implementation used by the scheduler and its tests.
package device

import (
	"context"
	"errors"
)

// Address is a device memory address. The zero value is the null address.
type Address uint64

// NullAddress marks a DeviceTensor that owns no memory yet.
const NullAddress Address = 0

// MemAlign is the alignment boundary for communication buffers.
const MemAlign = 512

// AlignSize pads size the way collective buffers are padded: one alignment
// unit of headroom plus a 32 byte tail, rounded up to MemAlign.
func AlignSize(size int) int {
	return (size + MemAlign + 31) / MemAlign * MemAlign
}

// ErrOutOfMemory is returned when an allocator cannot satisfy a request.
var ErrOutOfMemory = errors.New("device out of memory")

// KernelMod is a launchable kernel bound to its attributes.
type KernelMod interface {
	Launch(ctx context.Context, inputs, workspace, outputs []*DeviceTensor) error
}

// KernelFunc adapts a plain function to KernelMod.
type KernelFunc func(ctx context.Context, inputs, workspace, outputs []*DeviceTensor) error

// Launch calls f.
func (f KernelFunc) Launch(ctx context.Context, inputs, workspace, outputs []*DeviceTensor) error {
	return f(ctx, inputs, workspace, outputs)
}

// Context is the interface a device exposes to the scheduler.
type Context interface {
	// Name identifies the device, e.g. "cpu:0".
	Name() string
	// AllocateMemory reserves size bytes and returns their base address.
	AllocateMemory(size int) (Address, error)
	// FreeMemory releases memory returned by AllocateMemory.
	FreeMemory(addr Address)
	// Memory returns a view of size bytes starting at addr.
	Memory(addr Address, size int) ([]byte, error)
	// LaunchKernel runs kernel on this device with the given address lists.
	LaunchKernel(ctx context.Context, kernel KernelMod, inputs, workspace, outputs []*DeviceTensor) error
}
