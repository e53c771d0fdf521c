package hcl

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// fileRoot decodes every top-level block a graph file may hold.
type fileRoot struct {
	Devices  []*deviceBlock  `hcl:"device,block"`
	Graphs   []*graphBlock   `hcl:"graph,block"`
	Switches []*switchBlock  `hcl:"switch,block"`
	Gathers  []*gatherBlock  `hcl:"gather,block"`
	Programs []*programBlock `hcl:"program,block"`
	Remain   hcl.Body        `hcl:",remain"`
}

type deviceBlock struct {
	Name   string `hcl:"name,label"`
	Memory int    `hcl:"memory,optional"`
}

type graphBlock struct {
	Name       string            `hcl:"name,label"`
	Device     string            `hcl:"device,optional"`
	Parameters []*parameterBlock `hcl:"parameter,block"`
	Kernels    []*kernelBlock    `hcl:"kernel,block"`
	Outputs    []string          `hcl:"outputs,optional"`
}

type parameterBlock struct {
	Name   string     `hcl:"name,label"`
	Kind   string     `hcl:"kind"`
	DType  string     `hcl:"dtype,optional"`
	Shape  []int      `hcl:"shape,optional"`
	Format string     `hcl:"format,optional"`
	Value  *cty.Value `hcl:"value,optional"`
	Queue  bool       `hcl:"queue,optional"`
	Source string     `hcl:"source,optional"`
}

// attrsBlock holds free-form kernel attributes.
type attrsBlock struct {
	Body hcl.Body `hcl:",remain"`
}

type kernelBlock struct {
	Name          string         `hcl:"name,label"`
	Type          string         `hcl:"type"`
	Inputs        []string       `hcl:"inputs,optional"`
	Outputs       []*outputBlock `hcl:"output,block"`
	Workspace     []int          `hcl:"workspace,optional"`
	Attrs         *attrsBlock    `hcl:"attrs,block"`
	After         []string       `hcl:"after,optional"`
	Skip          bool           `hcl:"skip,optional"`
	Communication bool           `hcl:"communication,optional"`
	InputFormats  []string       `hcl:"input_formats,optional"`
}

type outputBlock struct {
	DType  string `hcl:"dtype"`
	Shape  []int  `hcl:"shape"`
	Format string `hcl:"format,optional"`
}

type switchBlock struct {
	Name    string   `hcl:"name,label"`
	Cond    string   `hcl:"cond"`
	Inputs  []string `hcl:"inputs,optional"`
	OnTrue  string   `hcl:"on_true"`
	OnFalse string   `hcl:"on_false"`
}

type gatherBlock struct {
	Name   string   `hcl:"name,label"`
	Inputs []string `hcl:"inputs"`
	Graph  string   `hcl:"graph"`
}

type programBlock struct {
	Name        string                `hcl:"name,label"`
	Strategy    string                `hcl:"strategy,optional"`
	LoopCount   int                   `hcl:"loop_count,optional"`
	MemoryReuse *bool                 `hcl:"memory_reuse,optional"`
	Inputs      []string              `hcl:"inputs,optional"`
	Outputs     []*programOutputBlock `hcl:"output,block"`
}

type programOutputBlock struct {
	Name       string   `hcl:"name,label"`
	Candidates []string `hcl:"candidates"`
}
