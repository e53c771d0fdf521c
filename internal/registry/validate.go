package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/device"
	"github.com/vk/flowgrid/internal/model"
)

// Bind decodes a kernel's attributes and returns its launchable implementation.
func (r *Registry) Bind(k *model.Kernel) (device.KernelMod, error) {
	reg, attrs, err := r.decode(k.Type, len(k.Inputs), k)
	if err != nil {
		return nil, err
	}
	mod, err := reg.Build(attrs)
	if err != nil {
		return nil, fmt.Errorf("kernel %s (%s): %w", k.Name, k.Type, err)
	}
	return mod, nil
}

// Infer returns the output metas of a kernel from the metas of its inputs.
func (r *Registry) Infer(k *model.Kernel, inputs []Meta) ([]Meta, error) {
	reg, attrs, err := r.decode(k.Type, len(inputs), k)
	if err != nil {
		return nil, err
	}
	if reg.Infer == nil {
		return nil, fmt.Errorf("kernel %s (%s): outputs must be declared, the type has no shape inference", k.Name, k.Type)
	}
	out, err := reg.Infer(inputs, attrs)
	if err != nil {
		return nil, fmt.Errorf("kernel %s (%s): %w", k.Name, k.Type, err)
	}
	return out, nil
}

func (r *Registry) decode(kernelType string, numInputs int, k *model.Kernel) (*RegisteredKernel, any, error) {
	reg, ok := r.kernels[kernelType]
	if !ok {
		return nil, nil, fmt.Errorf("kernel %s: unknown kernel type %q", k.Name, kernelType)
	}
	if numInputs < reg.MinInputs || (reg.MaxInputs >= 0 && numInputs > reg.MaxInputs) {
		return nil, nil, fmt.Errorf("kernel %s (%s): got %d inputs, want %s", k.Name, kernelType, numInputs, arity(reg))
	}
	var attrs any
	if reg.NewAttrs != nil {
		attrs = reg.NewAttrs()
		if err := DecodeAttrs(k.Attrs, attrs); err != nil {
			return nil, nil, fmt.Errorf("kernel %s (%s): %w", k.Name, kernelType, err)
		}
	} else if len(k.Attrs) > 0 {
		return nil, nil, fmt.Errorf("kernel %s (%s): kernel type takes no attributes", k.Name, kernelType)
	}
	return reg, attrs, nil
}

func arity(reg *RegisteredKernel) string {
	switch {
	case reg.MaxInputs < 0:
		return fmt.Sprintf("at least %d", reg.MinInputs)
	case reg.MinInputs == reg.MaxInputs:
		return fmt.Sprintf("exactly %d", reg.MinInputs)
	}
	return fmt.Sprintf("between %d and %d", reg.MinInputs, reg.MaxInputs)
}

// Validate checks that every kernel of a program can be bound and that its
// declared ref outputs and communication flag agree with its kernel type.
func (r *Registry) Validate(ctx context.Context, prog *model.GraphCompilerInfo) error {
	var errs []string
	logger := ctxlog.FromContext(ctx)

	for _, g := range prog.Graphs {
		for _, k := range g.Kernels {
			if k.Skipped {
				continue
			}
			if _, err := r.Bind(k); err != nil {
				errs = append(errs, fmt.Sprintf("graph %s: %v", g.Name, err))
				continue
			}
			reg := r.kernels[k.Type]
			if reg.Communication != k.Communication {
				errs = append(errs, fmt.Sprintf("graph %s: kernel %s: communication flag is %t but type %s is %t",
					g.Name, k.Name, k.Communication, k.Type, reg.Communication))
			}
			for i, out := range k.Outputs {
				want, isRef := reg.Refs[i]
				if !isRef {
					want = -1
				}
				if out.Ref != want {
					errs = append(errs, fmt.Sprintf("graph %s: kernel %s: output %d updates input %d but type %s updates %d",
						g.Name, k.Name, i, out.Ref, k.Type, want))
				}
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	logger.Debug("Registry validated program.", "program", prog.Name)
	return nil
}
