// Package yamlcfg loads graph files written in YAML into the same
// format-agnostic model the HCL loader produces. Blocks become lists of
// mappings:
//
//	graphs:
//	  - name: main
//	    parameters:
//	      - {name: x, kind: input, dtype: float32, shape: [2]}
//	    kernels:
//	      - {name: relu, type: Relu, inputs: [param.x]}
//	program:
//	  name: demo
//	  inputs: [graph.main.param.x]
//	  outputs:
//	    - {name: y, candidates: ["graph.main.kernel.relu[0]"]}
//
// Literal values (parameter values, kernel attributes) are converted to cty
// through their JSON form, so they follow the same conversion rules as HCL
// literals.
package yamlcfg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/vk/flowgrid/internal/config"
	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/fsutil"
	"github.com/vk/flowgrid/internal/hcl"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
	"gopkg.in/yaml.v3"
)

// Extensions are the file extensions the loader picks up.
var Extensions = []string{".yaml", ".yml"}

type fileRoot struct {
	Devices  []deviceDoc  `yaml:"devices"`
	Graphs   []graphDoc   `yaml:"graphs"`
	Switches []switchDoc  `yaml:"switches"`
	Gathers  []gatherDoc  `yaml:"gathers"`
	Program  *programDoc  `yaml:"program"`
}

type deviceDoc struct {
	Name   string `yaml:"name"`
	Memory int    `yaml:"memory"`
}

type graphDoc struct {
	Name       string         `yaml:"name"`
	Device     string         `yaml:"device"`
	Parameters []parameterDoc `yaml:"parameters"`
	Kernels    []kernelDoc    `yaml:"kernels"`
	Outputs    []string       `yaml:"outputs"`
}

type parameterDoc struct {
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"`
	DType  string `yaml:"dtype"`
	Shape  []int  `yaml:"shape"`
	Format string `yaml:"format"`
	Value  any    `yaml:"value"`
	Queue  bool   `yaml:"queue"`
	Source string `yaml:"source"`
}

type kernelDoc struct {
	Name          string         `yaml:"name"`
	Type          string         `yaml:"type"`
	Inputs        []string       `yaml:"inputs"`
	Outputs       []outputDoc    `yaml:"outputs"`
	Workspace     []int          `yaml:"workspace"`
	Attrs         map[string]any `yaml:"attrs"`
	After         []string       `yaml:"after"`
	Skip          bool           `yaml:"skip"`
	Communication bool           `yaml:"communication"`
	InputFormats  []string       `yaml:"input_formats"`
}

type outputDoc struct {
	DType  string `yaml:"dtype"`
	Shape  []int  `yaml:"shape"`
	Format string `yaml:"format"`
}

type switchDoc struct {
	Name    string   `yaml:"name"`
	Cond    string   `yaml:"cond"`
	Inputs  []string `yaml:"inputs"`
	OnTrue  string   `yaml:"on_true"`
	OnFalse string   `yaml:"on_false"`
}

type gatherDoc struct {
	Name   string   `yaml:"name"`
	Inputs []string `yaml:"inputs"`
	Graph  string   `yaml:"graph"`
}

type programDoc struct {
	Name        string      `yaml:"name"`
	Strategy    string      `yaml:"strategy"`
	LoopCount   int         `yaml:"loop_count"`
	MemoryReuse *bool       `yaml:"memory_reuse"`
	Inputs      []string    `yaml:"inputs"`
	Outputs     []outputRef `yaml:"outputs"`
}

type outputRef struct {
	Name       string   `yaml:"name"`
	Candidates []string `yaml:"candidates"`
}

// Loader is the YAML implementation of the config.Loader interface.
type Loader struct{}

// NewLoader creates a new YAML configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses every YAML file under paths and merges them into one model.
// Values are converted with the HCL package's converter.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, config.Converter, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("YAML loader started.", "path_count", len(paths))

	files, err := fsutil.FindFiles(paths, Extensions...)
	if err != nil {
		return nil, nil, err
	}
	model := &config.Model{}
	for _, file := range files {
		src, err := os.ReadFile(file)
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", file, err)
		}
		part, err := l.LoadBytes(src, file)
		if err != nil {
			return nil, nil, err
		}
		if err := model.Merge(part); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", file, err)
		}
	}
	logger.Debug("YAML loading complete.", "files", len(files), "graphs", len(model.Graphs))
	return model, hcl.NewConverter(), nil
}

// LoadBytes parses one YAML graph file held in memory. name is used in
// diagnostics and recorded as the file of its graphs.
func (l *Loader) LoadBytes(src []byte, name string) (*config.Model, error) {
	var root fileRoot
	dec := yaml.NewDecoder(bytes.NewReader(src))
	dec.KnownFields(true)
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("failed to decode YAML file %s: %w", name, err)
	}

	model := &config.Model{}
	for _, d := range root.Devices {
		model.Devices = append(model.Devices, &config.Device{Name: d.Name, Memory: d.Memory})
	}
	for _, g := range root.Graphs {
		graph, err := translateGraph(name, g)
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
	if p := root.Program; p != nil {
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
		model.Program = prog
	}
	return model, nil
}

func translateGraph(file string, g graphDoc) (*config.Graph, error) {
	graph := &config.Graph{Name: g.Name, Device: g.Device, Outputs: g.Outputs, File: file}
	for _, p := range g.Parameters {
		val, err := toCty(p.Value)
		if err != nil {
			return nil, fmt.Errorf("graph %s: parameter %s: %w", g.Name, p.Name, err)
		}
		graph.Parameters = append(graph.Parameters, &config.Parameter{
			Name:   p.Name,
			Kind:   p.Kind,
			DType:  p.DType,
			Shape:  p.Shape,
			Format: p.Format,
			Value:  val,
			Queue:  p.Queue,
			Source: p.Source,
		})
	}
	for _, k := range g.Kernels {
		kernel := &config.Kernel{
			Name:          k.Name,
			Type:          k.Type,
			Inputs:        k.Inputs,
			Workspace:     k.Workspace,
			After:         k.After,
			Skip:          k.Skip,
			Communication: k.Communication,
			InputFormats:  k.InputFormats,
		}
		if len(k.Attrs) > 0 {
			kernel.Attrs = make(map[string]cty.Value, len(k.Attrs))
			for name, v := range k.Attrs {
				val, err := toCty(v)
				if err != nil {
					return nil, fmt.Errorf("graph %s: kernel %s: attribute %q: %w", g.Name, k.Name, name, err)
				}
				kernel.Attrs[name] = val
			}
		}
		for _, o := range k.Outputs {
			kernel.Outputs = append(kernel.Outputs, &config.KernelOutput{DType: o.DType, Shape: o.Shape, Format: o.Format})
		}
		graph.Kernels = append(graph.Kernels, kernel)
	}
	return graph, nil
}

// toCty converts a decoded YAML value into a cty value. Sequences become
// tuples and mappings objects, as they do for HCL literals.
func toCty(v any) (cty.Value, error) {
	if v == nil {
		return cty.NullVal(cty.DynamicPseudoType), nil
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return cty.NilVal, fmt.Errorf("unsupported value %v: %w", v, err)
	}
	ty, err := ctyjson.ImpliedType(buf)
	if err != nil {
		return cty.NilVal, err
	}
	return ctyjson.Unmarshal(buf, ty)
}
