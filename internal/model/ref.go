// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines Ref, the address of a single value in a compiled program.
package model

import "fmt"

// RefKind says what a Ref points at.
type RefKind int

const (
	RefParam RefKind = iota
	RefKernel
)

func (k RefKind) String() string {
	if k == RefKernel {
		return "kernel"
	}
	return "param"
}

// Ref addresses a graph parameter or one output of a kernel. Graph is empty
// when the reference is local to the graph that holds it.
type Ref struct {
	Graph string
	Kind  RefKind
	Name  string
	// Index is the kernel output slot; always 0 for parameters.
	Index int
}

// ParamRef returns a reference to a parameter.
func ParamRef(graph, name string) Ref {
	return Ref{Graph: graph, Kind: RefParam, Name: name}
}

// KernelRef returns a reference to output index of a kernel.
func KernelRef(graph, name string, index int) Ref {
	return Ref{Graph: graph, Kind: RefKernel, Name: name, Index: index}
}

// In returns r qualified with graph if it is not already qualified.
func (r Ref) In(graph string) Ref {
	if r.Graph == "" {
		r.Graph = graph
	}
	return r
}

func (r Ref) String() string {
	s := ""
	if r.Graph != "" {
		s = "graph." + r.Graph + "."
	}
	if r.Kind == RefKernel {
		return fmt.Sprintf("%skernel.%s[%d]", s, r.Name, r.Index)
	}
	return s + "param." + r.Name
}
