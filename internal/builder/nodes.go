package builder

import (
	"fmt"

	"github.com/vk/flowgrid/internal/actorset"
	"github.com/vk/flowgrid/internal/device"
	"github.com/vk/flowgrid/internal/model"
	"github.com/vk/flowgrid/internal/tensor"
)

const (
	hostSourceName  = "data_source.host"
	queueSourceName = "data_source.queue"
)

func (b *builder) buildActors() error {
	for _, build := range []func() error{
		b.buildDataSources,
		b.buildKernels,
		b.buildControlNodes,
		b.buildLoopCount,
		b.buildOutput,
	} {
		if err := build(); err != nil {
			return err
		}
	}
	return nil
}

// buildDataSources creates the host source (program inputs of root graphs,
// in program input order), the queue source (queue-fed parameters of root
// graphs) and one entry source per branch graph.
func (b *builder) buildDataSources() error {
	host := &actorset.SourceInfo{Kind: actorset.HostSource}
	var hostKeys []kernelKey
	for i, ref := range b.prog.Inputs {
		kg, _ := b.prog.Graph(ref.Graph)
		var p *model.Parameter
		if kg != nil && ref.Kind == model.RefParam {
			p = kg.Parameter(ref.Name)
		}
		if p == nil || p.Kind != model.Input || p.Queue {
			return buildErr(ref.String(), ErrUnresolvedProducer, "program inputs must name host-fed input parameters")
		}
		if b.isBranch(kg.Name) {
			return buildErr(ref.String(), ErrControlFlow, "host inputs only exist in root graphs, %s is a branch graph", kg.Name)
		}
		key := kernelKey{kg.Name, p.Name}
		if _, dup := b.params[key]; dup {
			return buildErr(ref.String(), ErrInvalidGraph, "listed twice among the program inputs")
		}
		b.params[key] = value{}
		hostKeys = append(hostKeys, key)
		host.Outputs = append(host.Outputs, device.NewDeviceTensor(b.devices[kg.Name], p.DType, p.Shape, p.Format))
		host.Positions = append(host.Positions, i)
		host.Params = append(host.Params, model.ParamRef(kg.Name, p.Name))
	}

	queue := &actorset.SourceInfo{Kind: actorset.QueueSource}
	var queueKeys []kernelKey
	for _, kg := range b.prog.Graphs {
		if b.isBranch(kg.Name) {
			continue
		}
		for _, p := range kg.Parameters {
			if p.Kind != model.Input {
				continue
			}
			key := kernelKey{kg.Name, p.Name}
			if !p.Queue {
				if _, ok := b.params[key]; !ok {
					return buildErr(kg.Name+"/"+p.Name, ErrUnresolvedProducer, "input parameter is not listed among the program inputs")
				}
				continue
			}
			queueKeys = append(queueKeys, key)
			queue.Positions = append(queue.Positions, len(queue.Outputs))
			queue.Outputs = append(queue.Outputs, device.NewDeviceTensor(b.devices[kg.Name], p.DType, p.Shape, p.Format))
			queue.Params = append(queue.Params, model.ParamRef(kg.Name, p.Name))
		}
	}

	for _, src := range []struct {
		name string
		info *actorset.SourceInfo
		keys []kernelKey
	}{
		{hostSourceName, host, hostKeys},
		{queueSourceName, queue, queueKeys},
	} {
		if len(src.keys) == 0 {
			continue
		}
		idx, err := b.add(&actorset.Actor{Name: src.name, Kind: actorset.DataSource, Source: src.info})
		if err != nil {
			return err
		}
		for i, key := range src.keys {
			b.params[key] = value{actor: idx, index: i, tensor: src.info.Outputs[i]}
		}
	}

	for _, kg := range b.prog.Graphs {
		if !b.isBranch(kg.Name) {
			continue
		}
		dev := b.devices[kg.Name]
		params := kg.Inputs()
		info := &actorset.SourceInfo{Kind: actorset.EntrySource}
		for _, p := range params {
			info.Outputs = append(info.Outputs, device.NewDeviceTensor(dev, p.DType, p.Shape, p.Format))
		}
		idx, err := b.add(&actorset.Actor{Name: kg.Name + "/entry", Kind: actorset.DataSource, Graph: kg.Name, Device: dev, Source: info})
		if err != nil {
			return err
		}
		b.entries[kg.Name] = idx
		for i, p := range params {
			b.params[kernelKey{kg.Name, p.Name}] = value{actor: idx, index: i, tensor: info.Outputs[i]}
		}
	}
	return nil
}

// buildKernels creates one actor per kernel that is not skipped and binds
// it to its implementation.
func (b *builder) buildKernels() error {
	for _, kg := range b.prog.Graphs {
		dev := b.devices[kg.Name]
		for i, k := range kg.Kernels {
			if k.Skipped {
				continue
			}
			name := kg.Name + "/" + k.Name
			mod, err := b.opts.Kernels.Bind(k)
			if err != nil {
				return &BuildError{Node: name, Err: fmt.Errorf("%w: %w", ErrInvalidGraph, err)}
			}
			info := &actorset.KernelInfo{
				Type:          k.Type,
				Mod:           mod,
				Fixed:         make([]*device.DeviceTensor, len(k.Inputs)),
				Dynamic:       make([]bool, len(k.Outputs)),
				Consumers:     make([]int, len(k.Outputs)),
				Communication: k.Communication,
			}
			for _, o := range k.Outputs {
				info.Outputs = append(info.Outputs, device.NewDeviceTensor(dev, o.DType, o.Shape, o.Format))
				info.Refs = append(info.Refs, o.Ref)
			}
			for _, size := range k.Workspace {
				info.Workspace = append(info.Workspace, device.NewDeviceTensor(dev, tensor.Bool, []int{size}, ""))
			}
			idx, err := b.add(&actorset.Actor{Name: name, Kind: actorset.Kernel, Graph: kg.Name, Device: dev, Kernel: info})
			if err != nil {
				return err
			}
			b.kernels[kernelKey{kg.Name, k.Name}] = idx
			b.models[idx] = k
			b.pos[idx] = i
		}
	}
	return nil
}

func (b *builder) buildControlNodes() error {
	for _, s := range b.prog.Switches {
		idx, err := b.add(&actorset.Actor{Name: "switch/" + s.Name, Kind: actorset.Switch, Switch: &actorset.SwitchInfo{Inputs: len(s.Inputs)}})
		if err != nil {
			return err
		}
		b.controls[s.Name] = idx
	}
	for _, g := range b.prog.Gathers {
		idx, err := b.add(&actorset.Actor{Name: "gather/" + g.Name, Kind: actorset.Gather, Gather: &actorset.GatherInfo{Inputs: len(g.Inputs)}})
		if err != nil {
			return err
		}
		b.controls[g.Name] = idx
	}
	return nil
}

func (b *builder) buildLoopCount() error {
	_, err := b.add(&actorset.Actor{
		Name: b.prog.Name + "/loop_count",
		Kind: actorset.LoopCount,
		Loop: &actorset.LoopInfo{BranchNodes: len(b.prog.Switches) + len(b.prog.Gathers)},
	})
	return err
}

func (b *builder) buildOutput() error {
	info := &actorset.OutputInfo{Fixed: make([]*device.DeviceTensor, len(b.prog.Outputs))}
	for _, o := range b.prog.Outputs {
		info.Names = append(info.Names, o.Name)
	}
	_, err := b.add(&actorset.Actor{Name: b.prog.Name + "/output", Kind: actorset.Output, Output: info})
	return err
}
