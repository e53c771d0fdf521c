package registry

import (
	"context"
	"sort"

	"github.com/vk/flowgrid/internal/ctxlog"
)

// Module is the interface that all kernel modules must implement to be registered.
type Module interface {
	Register(r *Registry)
}

// Registry holds the kernel types known to one application instance.
type Registry struct {
	kernels map[string]*RegisteredKernel
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{
		kernels: make(map[string]*RegisteredKernel),
	}
}

// Load registers every module.
func (r *Registry) Load(ctx context.Context, modules ...Module) {
	for _, m := range modules {
		m.Register(r)
	}
	ctxlog.FromContext(ctx).Debug("Registry loaded.", "kernel_types", len(r.kernels))
}

// Lookup returns the registration of a kernel type.
func (r *Registry) Lookup(kernelType string) (*RegisteredKernel, bool) {
	k, ok := r.kernels[kernelType]
	return k, ok
}

// Types returns the registered kernel type names, sorted.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.kernels))
	for name := range r.kernels {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
