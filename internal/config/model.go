package config

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
)

// Model is the unified, format-agnostic representation of one program:
// its devices, graphs, control nodes and the program block itself.
type Model struct {
	Devices  []*Device
	Graphs   []*Graph
	Switches []*Switch
	Gathers  []*Gather
	Program  *Program
}

// Device is a `device` block.
type Device struct {
	Name string
	// Memory is the capacity in bytes; zero selects the default.
	Memory int
}

// Graph is a `graph` block.
type Graph struct {
	Name       string
	Device     string
	Parameters []*Parameter
	Kernels    []*Kernel
	// Outputs are node references local to the graph.
	Outputs []string
	// File is the file the block was declared in.
	File string
}

// Parameter is a `parameter` block.
type Parameter struct {
	Name   string
	Kind   string
	DType  string
	Shape  []int
	Format string
	// Value is null unless the file sets it.
	Value  cty.Value
	Queue  bool
	Source string
}

// Kernel is a `kernel` block.
type Kernel struct {
	Name          string
	Type          string
	Inputs        []string
	Outputs       []*KernelOutput
	Workspace     []int
	Attrs         map[string]cty.Value
	After         []string
	Skip          bool
	Communication bool
	InputFormats  []string
}

// KernelOutput declares one output slot. Kernels whose type infers its
// outputs may leave them out.
type KernelOutput struct {
	DType  string
	Shape  []int
	Format string
}

// Switch is a `switch` block.
type Switch struct {
	Name    string
	Cond    string
	Inputs  []string
	OnTrue  string
	OnFalse string
}

// Gather is a `gather` block.
type Gather struct {
	Name   string
	Inputs []string
	Graph  string
}

// Program is the `program` block.
type Program struct {
	Name      string
	Strategy  string
	LoopCount int
	// MemoryReuse is nil when the file leaves it to the default.
	MemoryReuse *bool
	Inputs      []string
	Outputs     []*ProgramOutput
}

// ProgramOutput is an `output` block of the program.
type ProgramOutput struct {
	Name       string
	Candidates []string
}

// Merge appends the blocks of other to m. A file may declare at most one
// program across all files merged.
func (m *Model) Merge(other *Model) error {
	m.Devices = append(m.Devices, other.Devices...)
	m.Graphs = append(m.Graphs, other.Graphs...)
	m.Switches = append(m.Switches, other.Switches...)
	m.Gathers = append(m.Gathers, other.Gathers...)
	if other.Program != nil {
		if m.Program != nil {
			return fmt.Errorf("program %q declared twice (already have %q)", other.Program.Name, m.Program.Name)
		}
		m.Program = other.Program
	}
	return nil
}
