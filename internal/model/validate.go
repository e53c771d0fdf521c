// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file holds the structural checks run on a program before the
// scheduler builds anything from it. Reference resolution and graph shape
// are checked by the builder; here only names, counts and literals are.
package model

import (
	"fmt"
	"strings"
)

// Validate reports every structural problem found, joined into one error.
func (g *GraphCompilerInfo) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if g.Name == "" {
		add("program has no name")
	}
	if len(g.Graphs) == 0 {
		add("program has no graphs")
	}
	if len(g.DeviceContexts) != len(g.Graphs) {
		add("program has %d graphs but %d device contexts", len(g.Graphs), len(g.DeviceContexts))
	}
	for i, dc := range g.DeviceContexts {
		if dc == nil {
			add("graph %d has no device context", i)
		}
	}

	nodes := make(map[string]string)
	claim := func(name, what string) {
		if name == "" {
			add("%s has no name", what)
			return
		}
		if prev, ok := nodes[name]; ok {
			add("duplicate name %q (%s and %s)", name, prev, what)
			return
		}
		nodes[name] = what
	}

	persisted := make(map[string]*Parameter)
	for _, kg := range g.Graphs {
		claim(kg.Name, "graph")
		local := make(map[string]bool)
		for _, p := range kg.Parameters {
			if local[p.Name] {
				add("graph %s: duplicate parameter or kernel %q", kg.Name, p.Name)
			}
			local[p.Name] = true
			if p.Persisted() {
				if p.Value == nil {
					add("graph %s: %s parameter %q has no value", kg.Name, p.Kind, p.Name)
				} else if err := p.Value.Validate(); err != nil {
					add("graph %s: parameter %q: %v", kg.Name, p.Name, err)
				} else if p.Value.DType != p.DType {
					add("graph %s: parameter %q is %s but its value is %s", kg.Name, p.Name, p.DType, p.Value.DType)
				}
				if prev, ok := persisted[p.Name]; ok && prev.Kind != p.Kind {
					add("parameter %q is declared both %s and %s", p.Name, prev.Kind, p.Kind)
				}
				persisted[p.Name] = p
			}
			if p.Kind == Internal && p.Source == nil {
				add("graph %s: internal parameter %q has no source", kg.Name, p.Name)
			}
			if p.Queue && p.Kind != Input {
				add("graph %s: only input parameters can be queue-fed, %q is %s", kg.Name, p.Name, p.Kind)
			}
		}
		for _, k := range kg.Kernels {
			if local[k.Name] {
				add("graph %s: duplicate parameter or kernel %q", kg.Name, k.Name)
			}
			local[k.Name] = true
			if k.Type == "" && !k.Skipped {
				add("graph %s: kernel %q has no type", kg.Name, k.Name)
			}
			if k.Skipped && len(k.Outputs) > len(k.Inputs) {
				add("graph %s: skipped kernel %q has more outputs than inputs", kg.Name, k.Name)
			}
			for i, o := range k.Outputs {
				if o.Ref >= len(k.Inputs) {
					add("graph %s: kernel %q output %d updates input %d which does not exist", kg.Name, k.Name, i, o.Ref)
				}
			}
			if len(k.InputFormats) > 0 && len(k.InputFormats) != len(k.Inputs) {
				add("graph %s: kernel %q has %d inputs but %d input formats", kg.Name, k.Name, len(k.Inputs), len(k.InputFormats))
			}
			for i, ws := range k.Workspace {
				if ws < 0 {
					add("graph %s: kernel %q workspace %d has negative size", kg.Name, k.Name, i)
				}
			}
		}
	}
	for _, s := range g.Switches {
		claim(s.Name, "switch")
	}
	for _, ga := range g.Gathers {
		claim(ga.Name, "gather")
	}
	for _, o := range g.Outputs {
		if len(o.Candidates) == 0 {
			add("output %q has no value", o.Name)
		}
	}
	if g.LoopCount < 0 {
		add("loop_count must not be negative, got %d", g.LoopCount)
	}

	if len(errs) > 0 {
		return fmt.Errorf("program validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}
