package builder

import (
	"errors"
	"fmt"

	"github.com/vk/flowgrid/internal/device"
	"github.com/vk/flowgrid/internal/model"
	"github.com/vk/flowgrid/internal/nodestore"
)

var (
	// ErrUnresolvedProducer means a value has no producer in the program.
	ErrUnresolvedProducer = errors.New("unresolved producer")
	// ErrCycle means the actors depend on each other in a loop.
	ErrCycle = errors.New("dependency cycle")
	// ErrControlFlow means switches, gathers or branch graphs are wired wrongly.
	ErrControlFlow = errors.New("malformed control flow")
	// ErrInvalidGraph covers every other structural problem.
	ErrInvalidGraph = errors.New("invalid graph")
)

// BuildError reports why a program could not be built and which node is to
// blame.
type BuildError struct {
	Node string
	Err  error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build %s: %v", e.Node, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

func buildErr(node string, kind error, format string, args ...any) *BuildError {
	return &BuildError{Node: node, Err: fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))}
}

// KernelResolver binds a kernel to its implementation. The registry
// implements it.
type KernelResolver interface {
	Bind(k *model.Kernel) (device.KernelMod, error)
}

// Options configure Build.
type Options struct {
	Kernels KernelResolver
	// History receives per-step actor records. Nil disables recording.
	History nodestore.Store
}

type kernelKey struct {
	graph, name string
}

// value is a resolved producer: output index of actor, or a store-backed
// tensor when actor is negative.
type value struct {
	actor  int
	index  int
	tensor *device.DeviceTensor
}

func (v value) stored() bool { return v.actor < 0 }

type copyKey struct {
	actor, index int
	device       string
	format       string
}
