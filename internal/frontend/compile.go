package frontend

import (
	"context"
	"fmt"

	"github.com/vk/flowgrid/internal/config"
	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/device"
	"github.com/vk/flowgrid/internal/model"
	"github.com/vk/flowgrid/internal/nodeid"
	"github.com/vk/flowgrid/internal/registry"
	"github.com/vk/flowgrid/internal/tensor"
	"github.com/zclconf/go-cty/cty"
)

const (
	// DefaultDevice is used by graphs that do not name one.
	DefaultDevice = "cpu:0"
	// DefaultMemory is the capacity of devices declared without one.
	DefaultMemory = 16 << 20
)

type compiler struct {
	conv    config.Converter
	reg     *registry.Registry
	devices map[string]device.Context
	memory  map[string]int
	prog    *model.GraphCompilerInfo
}

// Compile builds the program described by m.
func Compile(ctx context.Context, m *config.Model, conv config.Converter, reg *registry.Registry) (*model.GraphCompilerInfo, error) {
	logger := ctxlog.FromContext(ctx)
	if m.Program == nil {
		return nil, fmt.Errorf("no program block found")
	}

	c := &compiler{
		conv:    conv,
		reg:     reg,
		devices: make(map[string]device.Context),
		memory:  make(map[string]int),
		prog:    &model.GraphCompilerInfo{Name: m.Program.Name},
	}
	for _, d := range m.Devices {
		if _, dup := c.memory[d.Name]; dup {
			return nil, fmt.Errorf("device %q declared twice", d.Name)
		}
		c.memory[d.Name] = d.Memory
	}

	for _, g := range m.Graphs {
		kg, err := c.graph(ctx, g)
		if err != nil {
			return nil, err
		}
		c.prog.Graphs = append(c.prog.Graphs, kg)
		c.prog.DeviceContexts = append(c.prog.DeviceContexts, c.device(kg.Device))
	}
	if err := c.controlNodes(m); err != nil {
		return nil, err
	}
	if err := c.program(m.Program); err != nil {
		return nil, err
	}

	if err := c.prog.Validate(); err != nil {
		return nil, err
	}
	if err := reg.Validate(ctx, c.prog); err != nil {
		return nil, err
	}
	logger.Debug("Program compiled.", "program", c.prog.Name, "graphs", len(c.prog.Graphs), "devices", len(c.devices))
	return c.prog, nil
}

func (c *compiler) device(name string) device.Context {
	if dev, ok := c.devices[name]; ok {
		return dev
	}
	size := c.memory[name]
	if size <= 0 {
		size = DefaultMemory
	}
	dev := device.NewCPU(name, size)
	c.devices[name] = dev
	return dev
}

func (c *compiler) graph(ctx context.Context, g *config.Graph) (*model.KernelGraph, error) {
	kg := &model.KernelGraph{Name: g.Name, Device: g.Device, Source: model.NewFSInfo(g.File)}
	if kg.Device == "" {
		kg.Device = DefaultDevice
	}
	wrap := func(err error) error { return fmt.Errorf("%s: graph %s: %w", kg.Source, g.Name, err) }

	for _, p := range g.Parameters {
		param, err := c.parameter(ctx, p)
		if err != nil {
			return nil, wrap(fmt.Errorf("parameter %s: %w", p.Name, err))
		}
		kg.Parameters = append(kg.Parameters, param)
	}
	for _, k := range g.Kernels {
		kernel, err := c.kernel(kg, k)
		if err != nil {
			return nil, wrap(fmt.Errorf("kernel %s: %w", k.Name, err))
		}
		kg.Kernels = append(kg.Kernels, kernel)
	}
	outs, err := nodeid.ParseRefs(g.Outputs)
	if err != nil {
		return nil, wrap(fmt.Errorf("outputs: %w", err))
	}
	kg.Outputs = outs
	return kg, nil
}

func (c *compiler) parameter(ctx context.Context, p *config.Parameter) (*model.Parameter, error) {
	kind, err := model.ParseParamKind(p.Kind)
	if err != nil {
		return nil, err
	}
	dtype, err := parseDType(p.DType)
	if err != nil {
		return nil, err
	}
	param := &model.Parameter{
		Name:   p.Name,
		Kind:   kind,
		DType:  dtype,
		Shape:  p.Shape,
		Format: tensor.Format(p.Format),
		Queue:  p.Queue,
	}
	if p.Source != "" {
		src, err := nodeid.ParseRef(p.Source)
		if err != nil {
			return nil, err
		}
		param.Source = &src
	}
	if !p.Value.IsNull() {
		val, err := DecodeTensor(ctx, c.conv, dtype, p.Shape, p.Value)
		if err != nil {
			return nil, err
		}
		param.Value = val
	}
	return param, nil
}

// DecodeTensor decodes a literal into a host tensor of the given dtype and
// shape. A single primitive value fills the whole tensor.
func DecodeTensor(ctx context.Context, conv config.Converter, dtype tensor.DType, shape []int, v cty.Value) (*tensor.Tensor, error) {
	n := tensor.NumElements(shape)
	if v.Type().IsPrimitiveType() {
		elems := make([]cty.Value, n)
		for i := range elems {
			elems[i] = v
		}
		v = cty.TupleVal(elems)
	}

	t := tensor.New(dtype, shape)
	switch dtype {
	case tensor.Float32:
		var vals []float64
		if err := conv.Decode(ctx, v, &vals); err != nil {
			return nil, err
		}
		if len(vals) != n {
			return nil, fmt.Errorf("value has %d elements, shape %v needs %d", len(vals), shape, n)
		}
		f := make([]float32, n)
		for i, x := range vals {
			f[i] = float32(x)
		}
		tensor.PutFloat32s(t.Data, f)
	case tensor.Int32:
		var vals []int64
		if err := conv.Decode(ctx, v, &vals); err != nil {
			return nil, err
		}
		if len(vals) != n {
			return nil, fmt.Errorf("value has %d elements, shape %v needs %d", len(vals), shape, n)
		}
		i32 := make([]int32, n)
		for i, x := range vals {
			i32[i] = int32(x)
		}
		tensor.PutInt32s(t.Data, i32)
	case tensor.Bool:
		var vals []bool
		if err := conv.Decode(ctx, v, &vals); err != nil {
			return nil, err
		}
		if len(vals) != n {
			return nil, fmt.Errorf("value has %d elements, shape %v needs %d", len(vals), shape, n)
		}
		tensor.PutBools(t.Data, vals)
	default:
		return nil, fmt.Errorf("cannot decode values of dtype %s", dtype)
	}
	return t, nil
}

func (c *compiler) kernel(kg *model.KernelGraph, k *config.Kernel) (*model.Kernel, error) {
	inputs, err := nodeid.ParseRefs(k.Inputs)
	if err != nil {
		return nil, fmt.Errorf("inputs: %w", err)
	}
	kernel := &model.Kernel{
		Name:          k.Name,
		Type:          k.Type,
		Inputs:        inputs,
		Workspace:     k.Workspace,
		Attrs:         k.Attrs,
		Communication: k.Communication,
		Skipped:       k.Skip,
		After:         k.After,
	}
	for _, f := range k.InputFormats {
		kernel.InputFormats = append(kernel.InputFormats, tensor.Format(f))
	}

	reg, known := c.reg.Lookup(k.Type)
	if known && reg.Communication {
		kernel.Communication = true
	}

	if len(k.Outputs) > 0 {
		for _, o := range k.Outputs {
			dtype, err := parseDType(o.DType)
			if err != nil {
				return nil, err
			}
			kernel.Outputs = append(kernel.Outputs, model.Output{DType: dtype, Shape: o.Shape, Format: tensor.Format(o.Format)})
		}
	} else {
		metas := make([]registry.Meta, len(inputs))
		for i, in := range inputs {
			meta, err := c.meta(kg, in)
			if err != nil {
				return nil, fmt.Errorf("input %d: %w", i, err)
			}
			metas[i] = meta
		}
		if k.Skip {
			for _, m := range metas {
				kernel.Outputs = append(kernel.Outputs, model.Output{DType: m.DType, Shape: m.Shape})
			}
		} else {
			out, err := c.reg.Infer(kernel, metas)
			if err != nil {
				return nil, err
			}
			for _, m := range out {
				kernel.Outputs = append(kernel.Outputs, model.Output{DType: m.DType, Shape: m.Shape})
			}
		}
	}

	for i := range kernel.Outputs {
		kernel.Outputs[i].Ref = -1
		if known {
			if in, ok := reg.Refs[i]; ok {
				kernel.Outputs[i].Ref = in
			}
		}
	}
	return kernel, nil
}

// meta returns the type and shape of the value ref points at. Local refs
// resolve in kg, which holds the kernels compiled so far; qualified refs
// resolve in graphs compiled earlier.
func (c *compiler) meta(kg *model.KernelGraph, ref model.Ref) (registry.Meta, error) {
	g := kg
	if ref.Graph != "" && ref.Graph != kg.Name {
		g, _ = c.prog.Graph(ref.Graph)
		if g == nil {
			return registry.Meta{}, fmt.Errorf("%s: unknown or later graph %q", ref, ref.Graph)
		}
	}
	if ref.Kind == model.RefParam {
		p := g.Parameter(ref.Name)
		if p == nil {
			return registry.Meta{}, fmt.Errorf("%s: no such parameter", ref)
		}
		return registry.Meta{DType: p.DType, Shape: p.Shape}, nil
	}
	k := g.Kernel(ref.Name)
	if k == nil {
		return registry.Meta{}, fmt.Errorf("%s: no such kernel before this one", ref)
	}
	if ref.Index >= len(k.Outputs) {
		return registry.Meta{}, fmt.Errorf("%s: kernel has %d outputs", ref, len(k.Outputs))
	}
	out := k.Outputs[ref.Index]
	return registry.Meta{DType: out.DType, Shape: out.Shape}, nil
}

func (c *compiler) controlNodes(m *config.Model) error {
	for _, s := range m.Switches {
		cond, err := nodeid.ParseRef(s.Cond)
		if err != nil {
			return fmt.Errorf("switch %s: cond: %w", s.Name, err)
		}
		inputs, err := nodeid.ParseRefs(s.Inputs)
		if err != nil {
			return fmt.Errorf("switch %s: inputs: %w", s.Name, err)
		}
		c.prog.Switches = append(c.prog.Switches, &model.Switch{
			Name: s.Name, Cond: cond, Inputs: inputs, True: s.OnTrue, False: s.OnFalse,
		})
	}
	for _, g := range m.Gathers {
		inputs, err := nodeid.ParseRefs(g.Inputs)
		if err != nil {
			return fmt.Errorf("gather %s: inputs: %w", g.Name, err)
		}
		c.prog.Gathers = append(c.prog.Gathers, &model.Gather{Name: g.Name, Inputs: inputs, Graph: g.Graph})
	}
	return nil
}

func (c *compiler) program(p *config.Program) error {
	strategy, err := model.ParseStrategy(p.Strategy)
	if err != nil {
		return fmt.Errorf("program %s: %w", p.Name, err)
	}
	c.prog.Strategy = strategy
	c.prog.LoopCount = p.LoopCount
	c.prog.MemoryReuse = p.MemoryReuse == nil || *p.MemoryReuse

	inputs, err := nodeid.ParseRefs(p.Inputs)
	if err != nil {
		return fmt.Errorf("program %s: inputs: %w", p.Name, err)
	}
	c.prog.Inputs = inputs
	for _, o := range p.Outputs {
		cands, err := nodeid.ParseRefs(o.Candidates)
		if err != nil {
			return fmt.Errorf("program %s: output %s: %w", p.Name, o.Name, err)
		}
		c.prog.Outputs = append(c.prog.Outputs, model.OutputSpec{Name: o.Name, Candidates: cands})
	}
	return nil
}

func parseDType(s string) (tensor.DType, error) {
	if s == "" {
		return tensor.Float32, nil
	}
	return tensor.ParseDType(s)
}
