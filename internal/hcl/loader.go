package hcl

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/flowgrid/internal/config"
	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/fsutil"
	"github.com/zclconf/go-cty/cty"
)

// Extension is the file extension the loader picks up.
const Extension = ".hcl"

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct{}

// NewLoader creates a new HCL configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses every .hcl file under paths and merges their blocks into one
// model. It is agnostic to the origin of the paths and accepts any block in
// any file.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, config.Converter, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := fsutil.FindFiles(paths, Extension)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	parser := hclparse.NewParser()
	model := &config.Model{}
	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}
		part, err := l.decodeFile(file, hclFile.Body)
		if err != nil {
			return nil, nil, err
		}
		if err := model.Merge(part); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", file, err)
		}
	}

	logger.Debug("HCL loading complete.", "devices", len(model.Devices), "graphs", len(model.Graphs),
		"switches", len(model.Switches), "gathers", len(model.Gathers))
	return model, NewConverter(), nil
}

// LoadBytes parses one graph file held in memory. name is used in
// diagnostics.
func (l *Loader) LoadBytes(src []byte, name string) (*config.Model, error) {
	hclFile, diags := hclparse.NewParser().ParseHCL(src, name)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL %s: %w", name, diags)
	}
	return l.decodeFile(name, hclFile.Body)
}

func (l *Loader) decodeFile(file string, body hcl.Body) (*config.Model, error) {
	var root fileRoot
	if diags := gohcl.DecodeBody(body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
	}
	if len(root.Programs) > 1 {
		return nil, fmt.Errorf("%s declares %d program blocks, want at most one", file, len(root.Programs))
	}

	model := &config.Model{}
	for _, d := range root.Devices {
		model.Devices = append(model.Devices, &config.Device{Name: d.Name, Memory: d.Memory})
	}
	for _, g := range root.Graphs {
		graph, err := l.translateGraph(file, g)
		if err != nil {
			return nil, err
		}
		model.Graphs = append(model.Graphs, graph)
	}
	for _, s := range root.Switches {
		model.Switches = append(model.Switches, &config.Switch{
			Name: s.Name, Cond: s.Cond, Inputs: s.Inputs, OnTrue: s.OnTrue, OnFalse: s.OnFalse,
		})
	}
	for _, g := range root.Gathers {
		model.Gathers = append(model.Gathers, &config.Gather{Name: g.Name, Inputs: g.Inputs, Graph: g.Graph})
	}
	if len(root.Programs) == 1 {
		model.Program = translateProgram(root.Programs[0])
	}
	return model, nil
}

func (l *Loader) translateGraph(file string, g *graphBlock) (*config.Graph, error) {
	graph := &config.Graph{Name: g.Name, Device: g.Device, Outputs: g.Outputs, File: file}
	for _, p := range g.Parameters {
		param := &config.Parameter{
			Name:   p.Name,
			Kind:   p.Kind,
			DType:  p.DType,
			Shape:  p.Shape,
			Format: p.Format,
			Value:  cty.NullVal(cty.DynamicPseudoType),
			Queue:  p.Queue,
			Source: p.Source,
		}
		if p.Value != nil {
			param.Value = *p.Value
		}
		graph.Parameters = append(graph.Parameters, param)
	}
	for _, k := range g.Kernels {
		attrs, err := l.extractAttrs(k.Attrs)
		if err != nil {
			return nil, fmt.Errorf("graph %s: kernel %s: %w", g.Name, k.Name, err)
		}
		kernel := &config.Kernel{
			Name:          k.Name,
			Type:          k.Type,
			Inputs:        k.Inputs,
			Workspace:     k.Workspace,
			Attrs:         attrs,
			After:         k.After,
			Skip:          k.Skip,
			Communication: k.Communication,
			InputFormats:  k.InputFormats,
		}
		for _, o := range k.Outputs {
			kernel.Outputs = append(kernel.Outputs, &config.KernelOutput{DType: o.DType, Shape: o.Shape, Format: o.Format})
		}
		graph.Kernels = append(graph.Kernels, kernel)
	}
	return graph, nil
}

func translateProgram(p *programBlock) *config.Program {
	prog := &config.Program{
		Name:        p.Name,
		Strategy:    p.Strategy,
		LoopCount:   p.LoopCount,
		MemoryReuse: p.MemoryReuse,
		Inputs:      p.Inputs,
	}
	for _, o := range p.Outputs {
		prog.Outputs = append(prog.Outputs, &config.ProgramOutput{Name: o.Name, Candidates: o.Candidates})
	}
	return prog
}

// extractAttrs evaluates the attributes of an `attrs` block. They are
// literals: no variables or functions are in scope.
func (l *Loader) extractAttrs(block *attrsBlock) (map[string]cty.Value, error) {
	if block == nil || block.Body == nil {
		return nil, nil
	}
	attrs, diags := block.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, diags
	}
	out := make(map[string]cty.Value, len(attrs))
	for name, attr := range attrs {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("attribute %q: %w", name, diags)
		}
		out[name] = val
	}
	return out, nil
}
