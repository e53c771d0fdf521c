package builder

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/vk/flowgrid/internal/actorset"
	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/device"
	"github.com/vk/flowgrid/internal/model"
)

type builder struct {
	ctx  context.Context
	prog *model.GraphCompilerInfo
	opts Options
	set  *actorset.ActorSet

	devices  map[string]device.Context
	branchOf map[string]string // branch graph -> the control node targeting it
	kernels  map[kernelKey]int
	models   map[int]*model.Kernel
	pos      map[int]int // kernel actor -> position in its graph's execution order
	entries  map[string]int
	controls map[string]int
	params   map[kernelKey]value
	copies   map[copyKey]int
	inputs   map[int][]*device.DeviceTensor // kernel actor -> tensor behind each input
}

// Build constructs and links the ActorSet of prog. The returned set owns
// device memory for its static tensors; release it with Destroy.
func Build(ctx context.Context, prog *model.GraphCompilerInfo, opts Options) (*actorset.ActorSet, error) {
	logger := ctxlog.FromContext(ctx).With("program", prog.Name)
	logger.Debug("Build: Starting actor set construction.")

	if opts.Kernels == nil {
		return nil, errors.New("builder: no kernel resolver configured")
	}
	if err := prog.Validate(); err != nil {
		return nil, &BuildError{Node: prog.Name, Err: fmt.Errorf("%w: %w", ErrInvalidGraph, err)}
	}

	set := actorset.New(prog.Name)
	set.Strategy = prog.Strategy
	set.Iterations = prog.Iterations()
	set.Reuse = prog.MemoryReuse
	set.History = opts.History

	b := &builder{
		ctx:      ctx,
		prog:     prog,
		opts:     opts,
		set:      set,
		devices:  make(map[string]device.Context),
		branchOf: make(map[string]string),
		kernels:  make(map[kernelKey]int),
		models:   make(map[int]*model.Kernel),
		pos:      make(map[int]int),
		entries:  make(map[string]int),
		controls: make(map[string]int),
		params:   make(map[kernelKey]value),
		copies:   make(map[copyKey]int),
		inputs:   make(map[int][]*device.DeviceTensor),
	}

	phases := []struct {
		name string
		run  func() error
	}{
		{"graph classification", b.classifyGraphs},
		{"actor creation", b.buildActors},
		{"data linking", b.linkDataArrows},
		{"control linking", b.linkControlArrows},
		{"control flow linking", b.linkControlFlow},
		{"result linking", b.linkResults},
		{"validation", b.validate},
		{"memory assignment", b.planMemory},
		{"memory ordering check", b.checkAcyclic},
		{"step wiring", b.linkLoopCount},
	}
	for _, phase := range phases {
		if err := phase.run(); err != nil {
			set.Destroy()
			logger.Debug("Build: Phase failed.", "phase", phase.name, "error", err)
			return nil, err
		}
		logger.Debug("Build: Phase complete.", "phase", phase.name, "actors", len(set.Actors))
	}

	if err := set.Check(); err != nil {
		set.Destroy()
		return nil, &BuildError{Node: prog.Name, Err: fmt.Errorf("%w: %w", ErrInvalidGraph, err)}
	}

	logger.Info("Build: Actor set construction successful.", "actors", len(set.Actors), "triggers", len(set.Triggers))
	return set, nil
}

func (b *builder) add(a *actorset.Actor) (int, error) {
	idx, err := b.set.Add(a)
	if err != nil {
		return -1, buildErr(a.Name, ErrInvalidGraph, "%v", err)
	}
	return idx, nil
}

func (b *builder) isBranch(graph string) bool {
	_, ok := b.branchOf[graph]
	return ok
}

func (b *builder) switchNamed(name string) *model.Switch {
	for _, s := range b.prog.Switches {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// classifyGraphs records each graph's device and finds the branch graphs.
// A branch graph is entered by exactly one switch or gather.
func (b *builder) classifyGraphs() error {
	for i, kg := range b.prog.Graphs {
		b.devices[kg.Name] = b.prog.DeviceContexts[i]
	}
	for _, s := range b.prog.Switches {
		if s.True == s.False {
			return buildErr(s.Name, ErrControlFlow, "both branches target graph %q", s.True)
		}
	}

	targets := b.prog.BranchGraphs()
	for _, kg := range b.prog.Graphs {
		nodes, ok := targets[kg.Name]
		if !ok {
			continue
		}
		if len(nodes) != 1 {
			return buildErr(kg.Name, ErrControlFlow, "branch graph is entered by %d control nodes %v, want exactly one", len(nodes), nodes)
		}
		for _, p := range kg.Parameters {
			if p.Queue {
				return buildErr(kg.Name+"/"+p.Name, ErrControlFlow, "branch graphs cannot read the device queue")
			}
		}
		b.branchOf[kg.Name] = nodes[0]
		b.set.BranchTails[kg.Name] = 0
		delete(targets, kg.Name)
	}
	if len(targets) > 0 {
		graph := slices.Sorted(maps.Keys(targets))[0]
		return buildErr(targets[graph][0], ErrControlFlow, "branch graph %q does not exist", graph)
	}
	return nil
}
