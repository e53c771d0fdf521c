// Package dump renders an ActorSet as line-oriented text for debugging:
// every actor with its payload and outgoing arrows, the device tensor store,
// and the memory assignment. The format is meant for people and golden
// tests, not for parsing.
package dump

import (
	"fmt"
	"io"
	"strings"

	"github.com/vk/flowgrid/internal/actorset"
	"github.com/vk/flowgrid/internal/device"
	"github.com/vk/flowgrid/internal/memory"
)

// Write writes the dump of set to w.
func Write(w io.Writer, set *actorset.ActorSet) error {
	var b strings.Builder
	stored := make(map[*device.DeviceTensor]string)
	for _, e := range set.Store.Entries() {
		stored[e.Tensor] = e.Key.String()
	}

	fmt.Fprintf(&b, "actor_set %s strategy=%s iterations=%d reuse=%t\n", set.Name, set.Strategy, set.Iterations, set.Reuse)
	for _, a := range set.Actors {
		writeActor(&b, set, a, stored)
	}
	for _, e := range set.Store.Entries() {
		fmt.Fprintf(&b, "store %s %s\n", e.Key, describe(e.Tensor))
	}
	for _, r := range set.Reports {
		fmt.Fprintf(&b, "memory %s static=%d dynamic=%d dynamic_without_reuse=%d contiguous=%d ref=%d\n",
			r.Device, r.Static, r.Dynamic, r.DynamicWithoutReuse, r.Contiguous, r.Ref)
	}
	for _, blk := range set.Blocks {
		writeBlock(&b, blk)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeActor(b *strings.Builder, set *actorset.ActorSet, a *actorset.Actor, stored map[*device.DeviceTensor]string) {
	fmt.Fprintf(b, "actor %d %s kind=%s", a.Index, a.Name, a.Kind)
	if a.Graph != "" {
		fmt.Fprintf(b, " graph=%s", a.Graph)
	}
	if a.Device != nil {
		fmt.Fprintf(b, " device=%s", a.Device.Name())
	}
	fmt.Fprintf(b, " data_inputs=%d control_inputs=%d", a.InputData, a.InputControl)
	if a.Trigger {
		b.WriteString(" trigger")
	}
	b.WriteByte('\n')

	switch a.Kind {
	case actorset.DataSource:
		fmt.Fprintf(b, "  source %s\n", a.Source.Kind)
		for i, t := range a.Source.Outputs {
			fmt.Fprintf(b, "  output %d %s\n", i, describe(t))
		}
	case actorset.Kernel:
		k := a.Kernel
		fmt.Fprintf(b, "  kernel type=%s", k.Type)
		if k.Communication {
			b.WriteString(" communication")
		}
		b.WriteByte('\n')
		for i, t := range k.Fixed {
			if t != nil {
				fmt.Fprintf(b, "  fixed %d %s\n", i, stored[t])
			}
		}
		for j, t := range k.Outputs {
			fmt.Fprintf(b, "  output %d %s consumers=%d", j, describe(t), k.Consumers[j])
			if k.Refs[j] >= 0 {
				fmt.Fprintf(b, " ref=%d", k.Refs[j])
			}
			if k.Dynamic[j] {
				b.WriteString(" dynamic")
			}
			b.WriteByte('\n')
		}
		for i, t := range k.Workspace {
			fmt.Fprintf(b, "  workspace %d %d\n", i, t.Size())
		}
	case actorset.Copy:
		fmt.Fprintf(b, "  output 0 %s\n", describe(a.Copy.Output))
	case actorset.Switch:
		fmt.Fprintf(b, "  inputs %d\n", a.Switch.Inputs)
	case actorset.Gather:
		fmt.Fprintf(b, "  inputs %d\n", a.Gather.Inputs)
	case actorset.LoopCount:
		fmt.Fprintf(b, "  branch_nodes %d\n", a.Loop.BranchNodes)
	case actorset.Output:
		for i, name := range a.Output.Names {
			fmt.Fprintf(b, "  result %d %s", i, name)
			if t := a.Output.Fixed[i]; t != nil {
				fmt.Fprintf(b, " fixed=%s", stored[t])
			}
			b.WriteByte('\n')
		}
	}

	for _, d := range a.Data {
		fmt.Fprintf(b, "  data %d -> %s:%d\n", d.FromIndex, set.Actors[d.To].Name, d.ToIndex)
	}
	for _, r := range a.Results {
		fmt.Fprintf(b, "  result %d -> %s\n", r.FromIndex, set.Actors[set.Output].Output.Names[r.ToIndex])
	}
	for _, c := range a.Control {
		fmt.Fprintf(b, "  control -> %s\n", set.Actors[c.To].Name)
	}
	for _, br := range a.Branches {
		fmt.Fprintf(b, "  branch %s -> %s graph=%s\n", br.Branch, set.Actors[br.To].Name, br.Graph)
	}
}

func writeBlock(b *strings.Builder, blk *memory.Block) {
	fmt.Fprintf(b, "block %s class=%s size=%d", blk.Name, blk.Class, blk.Size())
	switch blk.Class {
	case memory.Dynamic:
		fmt.Fprintf(b, " live=%d..%d", blk.Start, blk.End)
	case memory.Alias:
		fmt.Fprintf(b, " source=%s", blk.Source.Name)
	case memory.Contiguous:
		fmt.Fprintf(b, " tensors=%d", len(blk.Tensors))
	}
	b.WriteByte('\n')
}

func describe(t *device.DeviceTensor) string {
	dev := "-"
	if t.Device() != nil {
		dev = t.Device().Name()
	}
	return fmt.Sprintf("%s%v %s @%s", t.DType(), t.Shape(), t.Format(), dev)
}
