package builder

import (
	"github.com/vk/flowgrid/internal/model"
	"github.com/vk/flowgrid/internal/tensor"
)

// linkControlArrows adds the arrows that order kernels without a data
// dependency: each kernel's After list, and a chain through the
// communication kernels of every graph in execution order.
func (b *builder) linkControlArrows() error {
	for _, kg := range b.prog.Graphs {
		lastComm := -1
		for _, k := range kg.Kernels {
			if k.Skipped {
				continue
			}
			idx := b.kernels[kernelKey{kg.Name, k.Name}]
			for _, name := range k.After {
				dep := kg.Kernel(name)
				if dep == nil {
					return buildErr(kg.Name+"/"+k.Name, ErrUnresolvedProducer, "after %q: graph %s has no such kernel", name, kg.Name)
				}
				froms, err := b.controlSources(kg, dep)
				if err != nil {
					return err
				}
				for _, from := range froms {
					b.set.LinkControl(from, idx)
				}
			}
			if k.Communication {
				if lastComm >= 0 {
					b.set.LinkControl(lastComm, idx)
				}
				lastComm = idx
			}
		}
	}
	return nil
}

// controlSources returns the actors that waiting for dep means waiting for:
// dep's own actor, or the producers of a skipped kernel's inputs.
func (b *builder) controlSources(kg *model.KernelGraph, dep *model.Kernel) ([]int, error) {
	if !dep.Skipped {
		return []int{b.kernels[kernelKey{kg.Name, dep.Name}]}, nil
	}
	var out []int
	for _, ref := range dep.Inputs {
		ref = ref.In(kg.Name)
		src, _ := b.prog.Graph(ref.Graph)
		if src != nil && ref.Kind == model.RefParam {
			if p := src.Parameter(ref.Name); p != nil && p.Persisted() {
				continue
			}
		}
		v, err := b.resolve(ref, b.devices[kg.Name])
		if err != nil {
			return nil, err
		}
		out = append(out, v.actor)
	}
	return out, nil
}

// linkControlFlow wires switches and gathers: their inputs arrive as data
// arrows from root graphs, and branch arrows lead to the entry data source
// of each branch graph they can select.
func (b *builder) linkControlFlow() error {
	for _, s := range b.prog.Switches {
		idx := b.controls[s.Name]
		cond, err := b.controlInput(s.Name, s.Cond)
		if err != nil {
			return err
		}
		b.set.LinkData(cond.actor, cond.index, idx, 0)

		vals := make([]value, len(s.Inputs))
		for i, ref := range s.Inputs {
			if vals[i], err = b.controlInput(s.Name, ref); err != nil {
				return err
			}
			b.set.LinkData(vals[i].actor, vals[i].index, idx, i+1)
		}
		for _, br := range []struct{ name, graph string }{{"true", s.True}, {"false", s.False}} {
			if err := b.checkBranchInputs(s.Name, br.graph, vals); err != nil {
				return err
			}
			b.set.LinkBranch(idx, br.name, br.graph, b.entries[br.graph])
		}
	}

	for _, g := range b.prog.Gathers {
		idx := b.controls[g.Name]
		vals := make([]value, len(g.Inputs))
		for i, ref := range g.Inputs {
			var err error
			if vals[i], err = b.controlInput(g.Name, ref); err != nil {
				return err
			}
			b.set.LinkData(vals[i].actor, vals[i].index, idx, i)
		}
		if err := b.checkBranchInputs(g.Name, g.Graph, vals); err != nil {
			return err
		}
		b.set.LinkBranch(idx, "gather", g.Graph, b.entries[g.Graph])
	}
	return nil
}

// controlInput resolves a switch or gather input. Only actors of root
// graphs can feed control nodes.
func (b *builder) controlInput(node string, ref model.Ref) (value, error) {
	if b.isBranch(ref.Graph) {
		return value{}, buildErr(node, ErrControlFlow, "%s lies in branch graph %s: nested control flow is not supported", ref, ref.Graph)
	}
	v, err := b.resolve(ref, b.devices[ref.Graph])
	if err != nil {
		return value{}, err
	}
	if v.stored() {
		return value{}, buildErr(node, ErrControlFlow, "%s is a persisted parameter, control nodes only take actor outputs", ref)
	}
	return v, nil
}

func (b *builder) checkBranchInputs(node, graph string, vals []value) error {
	kg, _ := b.prog.Graph(graph)
	params := kg.Inputs()
	if len(params) != len(vals) {
		return buildErr(node, ErrControlFlow, "passes %d inputs but graph %s takes %d", len(vals), graph, len(params))
	}
	for i, p := range params {
		t := vals[i].tensor
		if t.DType() != p.DType || t.Size() != tensor.ByteSize(p.DType, p.Shape) {
			return buildErr(node, ErrControlFlow, "input %d is %s but graph %s parameter %q is %s%v", i, t, graph, p.Name, p.DType, p.Shape)
		}
	}
	return nil
}

// linkResults connects every program output to the output actor. An output
// with several candidates must take exactly one from each branch of a
// single switch, so that each step delivers it once.
func (b *builder) linkResults() error {
	out := b.set.Actors[b.set.Output]
	for pos, spec := range b.prog.Outputs {
		if err := b.checkCandidates(spec); err != nil {
			return err
		}
		for _, ref := range spec.Candidates {
			v, err := b.resolve(ref, b.devices[ref.Graph])
			if err != nil {
				return err
			}
			if v.stored() {
				if len(spec.Candidates) > 1 {
					return buildErr(spec.Name, ErrControlFlow, "branch outputs must be produced by actors, %s is persisted", ref)
				}
				out.Output.Fixed[pos] = v.tensor
				continue
			}
			b.set.LinkResult(v.actor, v.index, pos)
		}
	}
	return nil
}

func (b *builder) checkCandidates(spec model.OutputSpec) error {
	if len(spec.Candidates) == 1 {
		ref := spec.Candidates[0]
		if node, ok := b.branchOf[ref.Graph]; ok && b.switchNamed(node) != nil {
			return buildErr(spec.Name, ErrControlFlow, "graph %s runs only when switch %s selects it, list a candidate for each branch", ref.Graph, node)
		}
		return nil
	}

	var sw *model.Switch
	seen := map[string]bool{}
	for _, ref := range spec.Candidates {
		node, ok := b.branchOf[ref.Graph]
		s := b.switchNamed(node)
		if !ok || s == nil || (sw != nil && s != sw) {
			return buildErr(spec.Name, ErrControlFlow, "candidates must come from the branch graphs of one switch, %s does not", ref)
		}
		if seen[ref.Graph] {
			return buildErr(spec.Name, ErrControlFlow, "two candidates from graph %s", ref.Graph)
		}
		seen[ref.Graph] = true
		sw = s
	}
	if !seen[sw.True] || !seen[sw.False] || len(seen) != 2 {
		return buildErr(spec.Name, ErrControlFlow, "candidates must cover both branches of switch %s", sw.Name)
	}
	return nil
}

// linkLoopCount decides how each step starts and ends. Actors without
// inputs become triggers in root graphs and follow the entry source in
// branch graphs. Every actor without outgoing arrows reports to the loop
// count actor.
func (b *builder) linkLoopCount() error {
	loop := b.set.LoopCount
	for _, a := range b.set.Actors {
		if a.Index == loop || a.InputData > 0 || a.InputControl > 0 {
			continue
		}
		if b.isBranch(a.Graph) {
			b.set.LinkControl(b.entries[a.Graph], a.Index)
			continue
		}
		a.Trigger = true
		b.set.Triggers = append(b.set.Triggers, a.Index)
	}
	for _, a := range b.set.Actors {
		if a.Index == loop || !a.Tail() {
			continue
		}
		b.set.LinkControl(a.Index, loop)
		if b.isBranch(a.Graph) {
			b.set.BranchTails[a.Graph]++
		}
	}
	return nil
}
