package builder

import (
	"fmt"

	"github.com/vk/flowgrid/internal/actorset"
	"github.com/vk/flowgrid/internal/device"
	"github.com/vk/flowgrid/internal/model"
	"github.com/vk/flowgrid/internal/tensor"
)

// resolve finds the producer of a qualified reference as seen from a
// consumer on dev. Weights and constants resolve to the store entry for dev.
func (b *builder) resolve(ref model.Ref, dev device.Context) (value, error) {
	return b.resolveSeen(ref, dev, make(map[model.Ref]bool))
}

func (b *builder) resolveSeen(ref model.Ref, dev device.Context, seen map[model.Ref]bool) (value, error) {
	node := ref.String()
	if seen[ref] {
		return value{}, buildErr(node, ErrCycle, "reference resolves to itself")
	}
	seen[ref] = true

	kg, _ := b.prog.Graph(ref.Graph)
	if kg == nil {
		return value{}, buildErr(node, ErrUnresolvedProducer, "graph %q does not exist", ref.Graph)
	}

	if ref.Kind == model.RefParam {
		p := kg.Parameter(ref.Name)
		if p == nil {
			return value{}, buildErr(node, ErrUnresolvedProducer, "graph %s has no parameter %q", kg.Name, ref.Name)
		}
		switch p.Kind {
		case model.Weight, model.Const:
			e := b.set.Store.Insert(p.Name, dev, p.Value, p.Format)
			return value{actor: -1, tensor: e.Tensor}, nil
		case model.Internal:
			src := p.Source.In(kg.Name)
			if b.isBranch(kg.Name) || b.isBranch(src.Graph) {
				return value{}, buildErr(node, ErrControlFlow, "internal parameters may only connect root graphs")
			}
			v, err := b.resolveSeen(src, dev, seen)
			if err != nil {
				return value{}, err
			}
			if v.tensor.DType() != p.DType || v.tensor.Size() != tensor.ByteSize(p.DType, p.Shape) {
				return value{}, buildErr(node, ErrInvalidGraph, "declared %s%v but %s produces %s", p.DType, p.Shape, src, v.tensor)
			}
			return v, nil
		default:
			v, ok := b.params[kernelKey{kg.Name, p.Name}]
			if !ok {
				return value{}, buildErr(node, ErrUnresolvedProducer, "input parameter has no data source")
			}
			return v, nil
		}
	}

	k := kg.Kernel(ref.Name)
	if k == nil {
		return value{}, buildErr(node, ErrUnresolvedProducer, "graph %s has no kernel %q", kg.Name, ref.Name)
	}
	if ref.Index < 0 || ref.Index >= len(k.Outputs) {
		return value{}, buildErr(node, ErrUnresolvedProducer, "kernel %s has %d outputs", k.Name, len(k.Outputs))
	}
	if k.Skipped {
		return b.resolveSeen(k.Inputs[ref.Index].In(kg.Name), dev, seen)
	}
	idx := b.kernels[kernelKey{kg.Name, k.Name}]
	return value{actor: idx, index: ref.Index, tensor: b.set.Actors[idx].Kernel.Outputs[ref.Index]}, nil
}

// linkDataArrows connects every kernel input to its producer. Store-backed
// inputs are placed on the kernel directly instead.
func (b *builder) linkDataArrows() error {
	for _, kg := range b.prog.Graphs {
		for _, k := range kg.Kernels {
			if k.Skipped {
				continue
			}
			idx := b.kernels[kernelKey{kg.Name, k.Name}]
			a := b.set.Actors[idx]
			tensors := make([]*device.DeviceTensor, len(k.Inputs))
			for i, ref := range k.Inputs {
				v, err := b.resolve(ref.In(kg.Name), a.Device)
				if err != nil {
					return err
				}
				if v.stored() {
					a.Kernel.Fixed[i] = v.tensor
					tensors[i] = v.tensor
					continue
				}
				if from := b.set.Actors[v.actor].Graph; from != kg.Name && (b.isBranch(from) || b.isBranch(kg.Name)) {
					return buildErr(a.Name, ErrControlFlow, "input %d crosses into or out of a branch graph, pass it through the control node", i)
				}
				format := v.tensor.Format()
				if len(k.InputFormats) > 0 && k.InputFormats[i] != "" {
					format = k.InputFormats[i]
				}
				if v, err = b.linkCopy(v, a, format); err != nil {
					return err
				}
				b.set.LinkData(v.actor, v.index, idx, i)
				tensors[i] = v.tensor
			}
			b.inputs[idx] = tensors
		}
	}
	return nil
}

// linkCopy places a copy actor between v and consumer when they disagree on
// device or format. One copy serves every consumer of the same output on the
// same device and format.
func (b *builder) linkCopy(v value, consumer *actorset.Actor, format tensor.Format) (value, error) {
	t := v.tensor
	if t.Device().Name() == consumer.Device.Name() && t.Format() == format {
		return v, nil
	}
	key := copyKey{actor: v.actor, index: v.index, device: consumer.Device.Name(), format: string(format)}
	if idx, ok := b.copies[key]; ok {
		return value{actor: idx, tensor: b.set.Actors[idx].Copy.Output}, nil
	}

	producer := b.set.Actors[v.actor]
	name := fmt.Sprintf("copy/%s[%d]->%s", producer.Name, v.index, consumer.Device.Name())
	if format != t.Format() {
		name += ":" + string(format)
	}
	out := device.NewDeviceTensor(consumer.Device, t.DType(), t.Shape(), format)
	idx, err := b.add(&actorset.Actor{
		Name:   name,
		Kind:   actorset.Copy,
		Graph:  consumer.Graph,
		Device: consumer.Device,
		Copy:   &actorset.CopyInfo{Output: out},
	})
	if err != nil {
		return value{}, err
	}
	b.set.LinkData(v.actor, v.index, idx, 0)
	b.copies[key] = idx
	return value{actor: idx, tensor: out}, nil
}
