package actorset

import "github.com/vk/flowgrid/internal/device"

// OpData carries a tensor along a data or result arrow.
type OpData struct {
	Seq    uint64
	To     int // input slot on the receiver
	Tensor *device.DeviceTensor
	From   int
	// Release asks the receiver to hand the tensor back to From once it
	// no longer needs it.
	Release bool
}

func (*OpData) Kind() string { return "data" }

// OpControl carries completion along a control arrow.
type OpControl struct {
	Seq  uint64
	From int
}

func (*OpControl) Kind() string { return "control" }

// OpStart starts a step at an actor without inputs.
type OpStart struct {
	Seq uint64
}

func (*OpStart) Kind() string { return "start" }

// OpBranch tells the loop count actor which branch graph a control node
// chose, and how many tail actors of that graph it must now wait for.
type OpBranch struct {
	Seq   uint64
	Graph string
	Tails int
	From  int
}

func (*OpBranch) Kind() string { return "branch" }

// OpRelease returns a tensor to the actor that allocated it.
type OpRelease struct {
	Tensor *device.DeviceTensor
}

func (*OpRelease) Kind() string { return "release" }

func seqOf(msg any) (uint64, bool) {
	switch m := msg.(type) {
	case *OpData:
		return m.Seq, true
	case *OpControl:
		return m.Seq, true
	case *OpStart:
		return m.Seq, true
	case *OpBranch:
		return m.Seq, true
	}
	return 0, false
}
