package actorset

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/vk/flowgrid/internal/actor"
	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/device"
	"github.com/vk/flowgrid/internal/memory"
	"github.com/vk/flowgrid/internal/model"
	"github.com/vk/flowgrid/internal/nodestore"
)

// Kind selects an actor's behaviour.
type Kind int

const (
	DataSource Kind = iota
	Kernel
	Copy
	Switch
	Gather
	LoopCount
	Output
)

var kindNames = [...]string{
	DataSource: "data_source",
	Kernel:     "kernel",
	Copy:       "copy",
	Switch:     "switch",
	Gather:     "gather",
	LoopCount:  "loop_count",
	Output:     "output",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// SourceKind is where a data source reads its tensors from.
type SourceKind int

const (
	// HostSource peeks the host queue: every step of a run sees the same batch.
	HostSource SourceKind = iota
	// QueueSource pops the device queue: every step consumes a new batch.
	QueueSource
	// EntrySource receives its tensors from the switch or gather that
	// selected its branch graph.
	EntrySource
)

func (k SourceKind) String() string {
	switch k {
	case HostSource:
		return "host"
	case QueueSource:
		return "queue"
	case EntrySource:
		return "entry"
	}
	return fmt.Sprintf("source(%d)", int(k))
}

// SourceInfo is the DataSource payload.
type SourceInfo struct {
	Kind    SourceKind
	Outputs []*device.DeviceTensor
	// Positions maps output i to its index in a queued batch.
	Positions []int
	// Params names the qualified parameter output i feeds.
	Params []model.Ref
}

// KernelInfo is the Kernel payload. All slices except Fixed and Staging are
// indexed by output; Fixed is indexed by input.
type KernelInfo struct {
	Type string
	Mod  device.KernelMod
	// Fixed holds store-backed inputs. Slots reached by an arrow are nil.
	Fixed     []*device.DeviceTensor
	Outputs   []*device.DeviceTensor
	Workspace []*device.DeviceTensor
	// Refs[j] is the input output j aliases, or -1.
	Refs []int
	// Dynamic[j] marks outputs allocated on every firing and released by
	// their consumers.
	Dynamic   []bool
	Consumers []int
	// Staging is the contiguous input block of a communication kernel.
	Staging       []*device.DeviceTensor
	Communication bool
}

// CopyInfo is the Copy payload.
type CopyInfo struct {
	Output *device.DeviceTensor
}

// SwitchInfo is the Switch payload. Input 0 is the condition, inputs
// 1..Inputs are forwarded. Branches[0] is taken on true, Branches[1] on false.
type SwitchInfo struct {
	Inputs int
}

// GatherInfo is the Gather payload.
type GatherInfo struct {
	Inputs int
}

// LoopInfo is the LoopCount payload.
type LoopInfo struct {
	// BranchNodes is the number of switches and gathers, each of which
	// reports one branch per step.
	BranchNodes int
}

// OutputInfo is the Output payload.
type OutputInfo struct {
	Names []string
	// Fixed holds store-backed outputs, read directly at publish time.
	Fixed []*device.DeviceTensor
}

// Actor is one node of an ActorSet. Exactly one payload pointer is set,
// the one matching Kind.
type Actor struct {
	Index  int
	Name   string
	Kind   Kind
	Graph  string
	Device device.Context

	Data     []DataArrow
	Control  []ControlArrow
	Results  []DataArrow
	Branches []BranchArrow

	InputData    int
	InputControl int
	// Trigger actors have no inputs and wait for OpStart instead.
	Trigger bool

	Source *SourceInfo
	Kernel *KernelInfo
	Copy   *CopyInfo
	Switch *SwitchInfo
	Gather *GatherInfo
	Loop   *LoopInfo
	Output *OutputInfo

	set      *ActorSet
	pending  map[uint64]*inbox
	received atomic.Int64
	fires    atomic.Int64
}

type inbox struct {
	data     []*device.DeviceTensor
	releases []*OpData
	dataGot  int
	ctrlGot  int
	started  bool
	branches int
	tails    int
}

func (in *inbox) size() int {
	n := in.dataGot + in.ctrlGot + in.branches
	if in.started {
		n++
	}
	return n
}

// Received is the number of messages delivered to the actor so far.
func (a *Actor) Received() int64 { return a.received.Load() }

// Fires is the number of times the actor has fired.
func (a *Actor) Fires() int64 { return a.fires.Load() }

// Pending is the number of buffered messages not yet consumed by a firing.
// Call it only while no run is in flight.
func (a *Actor) Pending() int {
	n := 0
	for _, in := range a.pending {
		n += in.size()
	}
	return n
}

// Receive implements actor.Actor.
func (a *Actor) Receive(ctx context.Context, op *actor.OpContext, msg actor.Message) {
	a.received.Add(1)
	if m, ok := msg.(*OpRelease); ok {
		a.release(m.Tensor)
		return
	}
	seq, ok := seqOf(msg)
	if !ok {
		op.SetFailed(fmt.Errorf("actor %s: unexpected message %s", a.Name, msg.Kind()))
		return
	}
	a.purge(op)

	in := a.inbox(seq)
	switch m := msg.(type) {
	case *OpData:
		if m.To < 0 || m.To >= len(in.data) {
			op.SetFailed(fmt.Errorf("actor %s: data for unknown input %d", a.Name, m.To))
			return
		}
		if in.data[m.To] != nil {
			op.SetFailed(fmt.Errorf("actor %s: input %d delivered twice in step %d", a.Name, m.To, seq))
			return
		}
		in.data[m.To] = m.Tensor
		in.dataGot++
		if m.Release {
			in.releases = append(in.releases, m)
		}
	case *OpControl:
		in.ctrlGot++
	case *OpStart:
		in.started = true
	case *OpBranch:
		in.branches++
		in.tails += m.Tails
	}

	if !a.ready(in) {
		return
	}
	delete(a.pending, seq)
	if op.Failed() {
		a.drop(ctx, op, seq, in)
		return
	}
	a.fire(ctx, op, seq, in)
}

func (a *Actor) inbox(seq uint64) *inbox {
	if a.pending == nil {
		a.pending = make(map[uint64]*inbox)
	}
	in, ok := a.pending[seq]
	if !ok {
		in = &inbox{data: make([]*device.DeviceTensor, a.slots())}
		a.pending[seq] = in
	}
	return in
}

func (a *Actor) slots() int {
	switch a.Kind {
	case DataSource:
		if a.Source.Kind == EntrySource {
			return len(a.Source.Outputs)
		}
	case Kernel:
		return len(a.Kernel.Fixed)
	case Copy:
		return 1
	case Switch:
		return 1 + a.Switch.Inputs
	case Gather:
		return a.Gather.Inputs
	case Output:
		return len(a.Output.Names)
	}
	return 0
}

func (a *Actor) ready(in *inbox) bool {
	if a.Kind == LoopCount {
		return in.branches == a.Loop.BranchNodes && in.ctrlGot == a.InputControl+in.tails
	}
	if a.Trigger && !in.started {
		return false
	}
	return in.dataGot == a.InputData && in.ctrlGot == a.InputControl
}

// purge drops buffers left behind by earlier runs.
func (a *Actor) purge(op *actor.OpContext) {
	first := op.FirstSeq()
	for seq, in := range a.pending {
		if seq < first {
			delete(a.pending, seq)
			a.releaseInputs(op, in)
		}
	}
}

func (a *Actor) drop(ctx context.Context, op *actor.OpContext, seq uint64, in *inbox) {
	a.releaseInputs(op, in)
	a.record(ctx, op, seq, nodestore.StatusDropped, nil)
	op.SetFailed(op.Err())
	ctxlog.FromContext(ctx).Debug("Dropped step after failure.", "actor", a.Name, "seq", seq, "kind", a.Kind)
}

func (a *Actor) fire(ctx context.Context, op *actor.OpContext, seq uint64, in *inbox) {
	logger := ctxlog.FromContext(ctx)
	a.fires.Add(1)
	a.record(ctx, op, seq, nodestore.StatusRunning, nil)
	logger.Debug("Actor firing.", "actor", a.Name, "seq", seq, "kind", a.Kind)

	var err error
	switch a.Kind {
	case DataSource:
		err = a.fireSource(op, seq, in)
	case Kernel:
		err = a.fireKernel(ctx, op, seq, in)
	case Copy:
		err = a.fireCopy(op, seq, in)
	case Switch:
		err = a.fireSwitch(op, seq, in)
	case Gather:
		err = a.fireGather(op, seq, in)
	case LoopCount:
		a.fireLoopCount(op)
	case Output:
		err = a.fireOutput(op, seq, in)
	}
	a.releaseInputs(op, in)

	if err != nil {
		if op.SetFailed(err) {
			logger.Warn("Actor failed.", "actor", a.Name, "seq", seq, "kind", a.Kind, "error", err)
		}
		a.record(ctx, op, seq, nodestore.StatusFailed, err)
		return
	}
	a.record(ctx, op, seq, nodestore.StatusDone, nil)
}

func (a *Actor) record(ctx context.Context, op *actor.OpContext, seq uint64, status nodestore.Status, err error) {
	if a.set.History == nil {
		return
	}
	key := nodestore.Key{RunID: op.RunID, Seq: seq, Actor: a.Name}
	if e := a.set.History.SetStatus(ctx, key, a.Kind.String(), status, err); e != nil {
		ctxlog.FromContext(ctx).Warn("Failed to record actor status.", "actor", a.Name, "seq", seq, "error", e)
	}
}

// forward sends outputs along every outgoing data and result arrow, then
// completion along every control arrow.
func (a *Actor) forward(op *actor.OpContext, seq uint64, outputs []*device.DeviceTensor, dynamic []bool) {
	for _, arrow := range a.Data {
		a.set.send(op, arrow.To, &OpData{
			Seq:     seq,
			To:      arrow.ToIndex,
			Tensor:  outputs[arrow.FromIndex],
			From:    a.Index,
			Release: dynamic != nil && dynamic[arrow.FromIndex],
		})
	}
	for _, arrow := range a.Results {
		a.set.send(op, arrow.To, &OpData{Seq: seq, To: arrow.ToIndex, Tensor: outputs[arrow.FromIndex], From: a.Index})
	}
	for _, arrow := range a.Control {
		a.set.send(op, arrow.To, &OpControl{Seq: seq, From: a.Index})
	}
}

func (a *Actor) releaseInputs(op *actor.OpContext, in *inbox) {
	for _, m := range in.releases {
		a.set.send(op, m.From, &OpRelease{Tensor: m.Tensor})
	}
	in.releases = nil
}

// release frees a tensor this actor allocated once its last consumer is done.
func (a *Actor) release(t *device.DeviceTensor) {
	if t.DecreaseRefCount() == 0 {
		memory.Free(t)
	}
}

// reset frees whatever earlier runs left buffered. The actor must no
// longer be reachable through the actor system.
func (a *Actor) reset() {
	for seq, in := range a.pending {
		for _, m := range in.releases {
			if m.Tensor.DecreaseRefCount() == 0 {
				memory.Free(m.Tensor)
			}
		}
		delete(a.pending, seq)
	}
}
