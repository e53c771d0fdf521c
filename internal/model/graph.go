// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines KernelGraph and its parts: parameters, kernels and the
// tensor slots kernels produce.
package model

import (
	"fmt"

	"github.com/vk/flowgrid/internal/tensor"
	"github.com/zclconf/go-cty/cty"
)

// ParamKind classifies a graph parameter by where its value comes from.
type ParamKind int

const (
	// Input is fed per run: from the host queue in a root graph, from the
	// calling control node in a branch graph, or from the device queue when
	// Parameter.Queue is set.
	Input ParamKind = iota
	// Weight is persisted once and may be updated in place by ref outputs.
	Weight
	// Const is a value node persisted once.
	Const
	// Internal is fed directly by a value of another root graph.
	Internal
)

var paramKindNames = map[ParamKind]string{
	Input:    "input",
	Weight:   "weight",
	Const:    "const",
	Internal: "internal",
}

func (k ParamKind) String() string {
	if s, ok := paramKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("param_kind(%d)", int(k))
}

// ParseParamKind parses the lower-case name of a kind.
func ParseParamKind(s string) (ParamKind, error) {
	for k, name := range paramKindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown parameter kind %q", s)
}

// Parameter is a leaf of a kernel graph.
type Parameter struct {
	Name   string
	Kind   ParamKind
	DType  tensor.DType
	Shape  []int
	Format tensor.Format
	// Value holds the data of Weight and Const parameters.
	Value *tensor.Tensor
	// Queue marks an Input fed from the device queue.
	Queue bool
	// Source is the producer of an Internal parameter, qualified with its graph.
	Source *Ref
}

// Persisted reports whether the parameter lives in the device tensor store.
func (p *Parameter) Persisted() bool {
	return p.Kind == Weight || p.Kind == Const
}

// Output describes one tensor slot a kernel writes.
type Output struct {
	DType  tensor.DType
	Shape  []int
	Format tensor.Format
	// Ref is the index of the input this output updates in place, or -1.
	Ref int
}

// IsRef reports whether the output aliases one of the kernel's inputs.
func (o Output) IsRef() bool { return o.Ref >= 0 }

// Kernel is one selected kernel of a graph.
type Kernel struct {
	Name string
	// Type selects the kernel implementation in the registry.
	Type    string
	Inputs  []Ref
	Outputs []Output
	// Workspace lists the byte sizes of scratch buffers.
	Workspace []int
	Attrs     map[string]cty.Value
	// Communication kernels are totally ordered by execution order.
	Communication bool
	// Skipped kernels pass input i through as output i and are not executed.
	Skipped bool
	// After names kernels of the same graph that must finish first.
	After []string
	// InputFormats optionally names the layout each input must arrive in.
	InputFormats []tensor.Format
}

// KernelGraph is a compiled graph bound to one device.
type KernelGraph struct {
	Name       string
	Device     string
	Parameters []*Parameter
	// Kernels are in execution order.
	Kernels []*Kernel
	// Outputs are the values the graph hands back to its caller.
	Outputs []Ref
	Source  *FSInfo
}

// Parameter returns the named parameter, or nil.
func (g *KernelGraph) Parameter(name string) *Parameter {
	for _, p := range g.Parameters {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Kernel returns the named kernel, or nil.
func (g *KernelGraph) Kernel(name string) *Kernel {
	for _, k := range g.Kernels {
		if k.Name == name {
			return k
		}
	}
	return nil
}

// KernelIndex returns the execution-order position of the named kernel, or -1.
func (g *KernelGraph) KernelIndex(name string) int {
	for i, k := range g.Kernels {
		if k.Name == name {
			return i
		}
	}
	return -1
}

// Inputs returns the graph's Input parameters that are not queue-fed, in
// declaration order.
func (g *KernelGraph) Inputs() []*Parameter {
	var out []*Parameter
	for _, p := range g.Parameters {
		if p.Kind == Input && !p.Queue {
			out = append(out, p)
		}
	}
	return out
}
