// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines GraphCompilerInfo, the whole compiled program, together
// with the control nodes that join its graphs.
package model

import (
	"fmt"

	"github.com/vk/flowgrid/internal/device"
)

// Strategy selects how Run drives the program.
type Strategy int

const (
	// Pipeline runs LoopCount steps back to back inside one Run.
	Pipeline Strategy = iota
	// Step runs exactly one step per Run.
	Step
)

func (s Strategy) String() string {
	switch s {
	case Pipeline:
		return "pipeline"
	case Step:
		return "step"
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// ParseStrategy parses "pipeline" or "step".
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "pipeline", "":
		return Pipeline, nil
	case "step":
		return Step, nil
	}
	return 0, fmt.Errorf("unknown strategy %q", s)
}

// Switch calls True or False with Inputs depending on the boolean Cond.
type Switch struct {
	Name   string
	Cond   Ref
	Inputs []Ref
	True   string
	False  string
}

// Gather calls Graph once all Inputs have arrived.
type Gather struct {
	Name   string
	Inputs []Ref
	Graph  string
}

// OutputSpec is one program output. Exactly one candidate delivers a value
// per step; several candidates are only meaningful when they live in
// mutually exclusive branch graphs.
type OutputSpec struct {
	Name       string
	Candidates []Ref
}

// GraphCompilerInfo is the compiled program.
type GraphCompilerInfo struct {
	Name   string
	Graphs []*KernelGraph
	// DeviceContexts[i] runs Graphs[i].
	DeviceContexts []device.Context
	Switches       []*Switch
	Gathers        []*Gather
	// Inputs orders the host inputs passed to Run. Every entry is a
	// non-queue Input parameter of a root graph.
	Inputs      []Ref
	Outputs     []OutputSpec
	Strategy    Strategy
	LoopCount   int
	MemoryReuse bool
}

// Graph returns the named graph and its index, or nil and -1.
func (g *GraphCompilerInfo) Graph(name string) (*KernelGraph, int) {
	for i, kg := range g.Graphs {
		if kg.Name == name {
			return kg, i
		}
	}
	return nil, -1
}

// BranchGraphs maps every graph called by a control node to the names of
// the nodes that call it.
func (g *GraphCompilerInfo) BranchGraphs() map[string][]string {
	out := make(map[string][]string)
	for _, s := range g.Switches {
		out[s.True] = append(out[s.True], s.Name)
		if s.False != s.True {
			out[s.False] = append(out[s.False], s.Name)
		}
	}
	for _, ga := range g.Gathers {
		out[ga.Graph] = append(out[ga.Graph], ga.Name)
	}
	return out
}

// Iterations is the number of steps one Run performs.
func (g *GraphCompilerInfo) Iterations() int {
	if g.Strategy == Step || g.LoopCount < 1 {
		return 1
	}
	return g.LoopCount
}
