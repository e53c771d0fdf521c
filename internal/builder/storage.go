package builder

import (
	"sort"
	"strconv"

	"github.com/vk/flowgrid/internal/actorset"
	"github.com/vk/flowgrid/internal/device"
	"github.com/vk/flowgrid/internal/memory"
)

// planned is a block together with the graph it belongs to and, for
// dynamic blocks, the actors that touch its memory.
type planned struct {
	block    *memory.Block
	graph    string
	producer int
	users    []int
}

type memoryPlan struct {
	blocks  []*planned
	blockOf map[*device.DeviceTensor]*planned
}

func (p *memoryPlan) add(pb *planned) *planned {
	p.blocks = append(p.blocks, pb)
	for _, t := range pb.block.Tensors {
		p.blockOf[t] = pb
	}
	return pb
}

// planMemory groups every tensor of the set into blocks, assigns them
// device addresses and, when memory is shared, orders the kernels that
// share it.
func (b *builder) planMemory() error {
	plan := &memoryPlan{blockOf: make(map[*device.DeviceTensor]*planned)}

	for _, e := range b.set.Store.Entries() {
		plan.add(&planned{block: &memory.Block{Name: "store/" + e.Key.String(), Class: memory.Static, Tensors: []*device.DeviceTensor{e.Tensor}}, producer: -1})
	}
	for _, a := range b.set.Actors {
		switch a.Kind {
		case actorset.DataSource:
			for i, t := range a.Source.Outputs {
				plan.add(&planned{block: &memory.Block{Name: a.Name + "/" + strconv.Itoa(i), Class: memory.Static, Tensors: []*device.DeviceTensor{t}}, graph: a.Graph, producer: -1})
			}
		case actorset.Copy:
			plan.add(&planned{block: &memory.Block{Name: a.Name, Class: memory.Static, Tensors: []*device.DeviceTensor{a.Copy.Output}}, graph: a.Graph, producer: -1})
		}
	}

	var refs []refOutput
	for _, a := range b.set.Actors {
		if a.Kind != actorset.Kernel {
			continue
		}
		rs, err := b.planKernel(plan, a)
		if err != nil {
			return err
		}
		refs = append(refs, rs...)
	}
	if err := b.planAliases(plan, refs); err != nil {
		return err
	}

	for _, a := range b.set.Actors {
		if a.Kind != actorset.Kernel {
			continue
		}
		for j, t := range a.Kernel.Outputs {
			for _, d := range a.Data {
				if d.FromIndex == j {
					a.Kernel.Consumers[j]++
				}
			}
			a.Kernel.Dynamic[j] = !b.set.Reuse && plan.blockOf[t].block.Class == memory.Dynamic
		}
	}

	if err := b.assign(plan); err != nil {
		return err
	}
	if b.set.Reuse {
		b.orderReuse(plan)
	}
	return nil
}

type refOutput struct {
	actor *actorset.Actor
	index int
}

// planKernel adds the blocks of one kernel and returns its ref outputs,
// which are planned once every other block exists.
func (b *builder) planKernel(plan *memoryPlan, a *actorset.Actor) ([]refOutput, error) {
	k := a.Kernel
	pos := b.pos[a.Index]

	graphOut := make(map[int]bool)
	kg, _ := b.prog.Graph(a.Graph)
	for _, ref := range kg.Outputs {
		v, err := b.resolve(ref.In(kg.Name), a.Device)
		if err != nil {
			return nil, err
		}
		if v.actor == a.Index {
			graphOut[v.index] = true
		}
	}

	if k.Communication && len(k.Fixed) > 0 {
		for _, t := range b.inputs[a.Index] {
			k.Staging = append(k.Staging, device.NewDeviceTensor(a.Device, t.DType(), t.Shape(), t.Format()))
		}
		plan.add(&planned{block: &memory.Block{Name: a.Name + "/inputs", Class: memory.Contiguous, Tensors: k.Staging}, graph: a.Graph, producer: a.Index})
	}

	var refs []refOutput
	var comm []*device.DeviceTensor
	for j, t := range k.Outputs {
		if k.Refs[j] >= 0 {
			refs = append(refs, refOutput{actor: a, index: j})
			continue
		}
		if k.Communication {
			comm = append(comm, t)
			continue
		}

		pb := &planned{block: &memory.Block{Name: a.Name + "/" + strconv.Itoa(j), Class: memory.Static, Tensors: []*device.DeviceTensor{t}}, graph: a.Graph, producer: a.Index}
		if end, ok := b.dynamicRange(a, j, pos); ok && !graphOut[j] {
			pb.block.Class = memory.Dynamic
			pb.block.Start, pb.block.End = pos, end
			pb.users = append(pb.users, a.Index)
			for _, d := range a.Data {
				if d.FromIndex == j {
					pb.users = append(pb.users, d.To)
				}
			}
		}
		plan.add(pb)
	}
	if len(comm) > 0 {
		plan.add(&planned{block: &memory.Block{Name: a.Name + "/outputs", Class: memory.Contiguous, Tensors: comm}, graph: a.Graph, producer: a.Index})
	}

	for i, t := range k.Workspace {
		plan.add(&planned{
			block: &memory.Block{Name: a.Name + "/workspace/" + strconv.Itoa(i), Class: memory.Dynamic, Tensors: []*device.DeviceTensor{t}, Start: pos, End: pos},
			graph: a.Graph, producer: a.Index, users: []int{a.Index},
		})
	}
	return refs, nil
}

// planAliases points every ref output at the block of the input it
// updates. A chain of ref kernels resolves in dependency order; the root of
// every chain leaves the reuse pool.
func (b *builder) planAliases(plan *memoryPlan, refs []refOutput) error {
	for len(refs) > 0 {
		var left []refOutput
		for _, r := range refs {
			k := r.actor.Kernel
			in := b.inputs[r.actor.Index][k.Refs[r.index]]
			src, ok := plan.blockOf[in]
			if !ok {
				left = append(left, r)
				continue
			}
			plan.add(&planned{
				block: &memory.Block{Name: r.actor.Name + "/" + strconv.Itoa(r.index), Class: memory.Alias, Tensors: []*device.DeviceTensor{k.Outputs[r.index]}, Source: src.block},
				graph: r.actor.Graph, producer: r.actor.Index,
			})
			root := src.block
			for root.Class == memory.Alias {
				root = root.Source
			}
			if root.Class == memory.Dynamic {
				root.Class = memory.Ref
			}
		}
		if len(left) == len(refs) {
			r := left[0]
			return buildErr(r.actor.Name, ErrInvalidGraph, "output %d updates input %d in place but that input has no memory", r.index, r.actor.Kernel.Refs[r.index])
		}
		refs = left
	}
	return nil
}

// dynamicRange reports whether output j of kernel a can share memory, and
// the last position that reads it. Only outputs read solely by later
// kernels of the same graph qualify.
func (b *builder) dynamicRange(a *actorset.Actor, j, pos int) (int, bool) {
	for _, r := range a.Results {
		if r.FromIndex == j {
			return 0, false
		}
	}
	end := pos
	for _, d := range a.Data {
		if d.FromIndex != j {
			continue
		}
		to := b.set.Actors[d.To]
		p, ok := b.pos[d.To]
		if !ok || to.Graph != a.Graph {
			return 0, false
		}
		end = max(end, p)
	}
	return end, true
}

// assign hands the blocks to one memory manager per device: persistent
// blocks first, then each graph's blocks so that every graph gets its own
// shared dynamic region, then the aliases.
func (b *builder) assign(plan *memoryPlan) error {
	type group struct {
		dev     device.Context
		global  []*memory.Block
		graphs  map[string][]*memory.Block
		order   []string
		aliases []*memory.Block
	}
	groups := make(map[string]*group)
	for _, pb := range plan.blocks {
		if len(pb.block.Tensors) == 0 {
			continue
		}
		dev := pb.block.Tensors[0].Device()
		g, ok := groups[dev.Name()]
		if !ok {
			g = &group{dev: dev, graphs: make(map[string][]*memory.Block)}
			groups[dev.Name()] = g
		}
		switch {
		case pb.block.Class == memory.Alias:
			g.aliases = append(g.aliases, pb.block)
		case pb.block.Class == memory.Dynamic:
			if _, ok := g.graphs[pb.graph]; !ok {
				g.order = append(g.order, pb.graph)
			}
			g.graphs[pb.graph] = append(g.graphs[pb.graph], pb.block)
		default:
			g.global = append(g.global, pb.block)
		}
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		g := groups[name]
		m := memory.NewManager(g.dev)
		b.set.Managers = append(b.set.Managers, m)
		report := actorset.DeviceReport{Device: name}

		calls := [][]*memory.Block{g.global}
		for _, graph := range g.order {
			calls = append(calls, g.graphs[graph])
		}
		calls = append(calls, g.aliases)
		for _, blocks := range calls {
			rep, err := m.Assign(b.ctx, blocks, b.set.Reuse)
			if err != nil {
				return &BuildError{Node: name, Err: err}
			}
			report.Static += rep.Static
			report.Dynamic += rep.Dynamic
			report.Contiguous += rep.Contiguous
			report.Ref += rep.Ref
			report.DynamicWithoutReuse += rep.DynamicWithoutReuse
		}
		b.set.Reports = append(b.set.Reports, report)
	}

	for _, pb := range plan.blocks {
		b.set.Blocks = append(b.set.Blocks, pb.block)
	}
	return nil
}

// orderReuse makes every kernel that writes a shared region wait for the
// kernels still using an earlier tensor placed at overlapping bytes.
// Without these arrows independent kernels could run concurrently and
// overwrite each other's data.
func (b *builder) orderReuse(plan *memoryPlan) {
	var shared []*planned
	for _, pb := range plan.blocks {
		if pb.block.Class == memory.Dynamic && pb.block.Addr() != device.NullAddress {
			shared = append(shared, pb)
		}
	}
	for _, x := range shared {
		for _, y := range shared {
			if x == y || x.graph != y.graph || x.block.End >= y.block.Start || !bytesOverlap(x.block, y.block) {
				continue
			}
			if x.block.Tensors[0].Device().Name() != y.block.Tensors[0].Device().Name() {
				continue
			}
			for _, u := range x.users {
				if u != y.producer {
					b.set.LinkControl(u, y.producer)
				}
			}
		}
	}
}

func bytesOverlap(x, y *memory.Block) bool {
	xs, ys := x.Addr(), y.Addr()
	xe := xs + device.Address(max(x.Size(), 1))
	ye := ys + device.Address(max(y.Size(), 1))
	return xs < ye && ys < xe
}
