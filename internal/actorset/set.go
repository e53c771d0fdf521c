package actorset

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/vk/flowgrid/internal/actor"
	"github.com/vk/flowgrid/internal/device"
	"github.com/vk/flowgrid/internal/memory"
	"github.com/vk/flowgrid/internal/model"
	"github.com/vk/flowgrid/internal/nodestore"
)

// DataArrow connects output FromIndex of actor From to input ToIndex of
// actor To. Result arrows use the same shape with To set to the output
// actor and ToIndex to the output position.
type DataArrow struct {
	From, FromIndex int
	To, ToIndex     int
}

// ControlArrow orders To after From without carrying data.
type ControlArrow struct {
	From, To int
}

// BranchArrow connects a switch or gather to the entry data source of a
// branch graph.
type BranchArrow struct {
	From   int
	Branch string
	Graph  string
	To     int
}

// DeviceReport is the memory assignment summary of one device.
type DeviceReport struct {
	Device string
	memory.Report
}

// ActorSet is the runnable form of one compiled program.
type ActorSet struct {
	Name       string
	Actors     []*Actor
	Strategy   model.Strategy
	Iterations int
	Reuse      bool

	LoopCount int
	Output    int
	Triggers  []int
	// BranchTails is the number of tail actors per branch graph.
	BranchTails map[string]int

	HostQueue   *device.TensorQueue
	DeviceQueue *device.TensorQueue
	Store       *DeviceTensorStore
	Managers    []*memory.Manager
	Blocks      []*memory.Block
	Reports     []DeviceReport

	History nodestore.Store

	names map[string]int
	sys   *actor.System
	base  actor.AID
}

// New creates an empty set.
func New(name string) *ActorSet {
	return &ActorSet{
		Name:        name,
		LoopCount:   -1,
		Output:      -1,
		BranchTails: make(map[string]int),
		HostQueue:   device.NewTensorQueue(0),
		DeviceQueue: device.NewTensorQueue(0),
		Store:       NewDeviceTensorStore(),
		names:       make(map[string]int),
	}
}

// Add appends an actor and returns its index. Names must be unique.
func (s *ActorSet) Add(a *Actor) (int, error) {
	if _, dup := s.names[a.Name]; dup {
		return -1, fmt.Errorf("duplicate actor name %q", a.Name)
	}
	a.Index = len(s.Actors)
	a.set = s
	s.Actors = append(s.Actors, a)
	s.names[a.Name] = a.Index
	switch a.Kind {
	case LoopCount:
		s.LoopCount = a.Index
	case Output:
		s.Output = a.Index
	}
	return a.Index, nil
}

// Lookup finds an actor by name.
func (s *ActorSet) Lookup(name string) (*Actor, bool) {
	i, ok := s.names[name]
	if !ok {
		return nil, false
	}
	return s.Actors[i], true
}

// QueueSource returns the payload of the device-queue data source, or nil
// when every input of the program is host fed.
func (s *ActorSet) QueueSource() *SourceInfo {
	for _, a := range s.Actors {
		if a.Kind == DataSource && a.Source.Kind == QueueSource {
			return a.Source
		}
	}
	return nil
}

// LinkData adds a data arrow and counts it on the receiver.
func (s *ActorSet) LinkData(from, fromIndex, to, toIndex int) {
	s.Actors[from].Data = append(s.Actors[from].Data, DataArrow{From: from, FromIndex: fromIndex, To: to, ToIndex: toIndex})
	s.Actors[to].InputData++
}

// LinkResult adds a result arrow into the output actor. Several candidates
// may feed one position; the position counts once.
func (s *ActorSet) LinkResult(from, fromIndex, position int) {
	if !s.resultLinked(position) {
		s.Actors[s.Output].InputData++
	}
	s.Actors[from].Results = append(s.Actors[from].Results, DataArrow{From: from, FromIndex: fromIndex, To: s.Output, ToIndex: position})
}

func (s *ActorSet) resultLinked(position int) bool {
	for _, a := range s.Actors {
		for _, r := range a.Results {
			if r.ToIndex == position {
				return true
			}
		}
	}
	return false
}

// LinkControl adds a control arrow unless an identical one exists, and
// reports whether it added one.
func (s *ActorSet) LinkControl(from, to int) bool {
	for _, c := range s.Actors[from].Control {
		if c.To == to {
			return false
		}
	}
	s.Actors[from].Control = append(s.Actors[from].Control, ControlArrow{From: from, To: to})
	if !s.inBranch(from) || to != s.LoopCount {
		s.Actors[to].InputControl++
	}
	return true
}

// LinkBranch adds a branch arrow to an entry data source, which then
// expects the sender's inputs and one control message.
func (s *ActorSet) LinkBranch(from int, branch, graph string, to int) {
	s.Actors[from].Branches = append(s.Actors[from].Branches, BranchArrow{From: from, Branch: branch, Graph: graph, To: to})
	s.Actors[to].InputData += s.Actors[from].branchInputs()
	s.Actors[to].InputControl++
}

func (a *Actor) branchInputs() int {
	switch a.Kind {
	case Switch:
		return a.Switch.Inputs
	case Gather:
		return a.Gather.Inputs
	}
	return 0
}

// Tail reports whether an actor has no outgoing data, control or branch
// arrows. Result arrows do not count.
func (a *Actor) Tail() bool {
	return len(a.Data) == 0 && len(a.Control) == 0 && len(a.Branches) == 0
}

func (s *ActorSet) inBranch(i int) bool {
	_, ok := s.BranchTails[s.Actors[i].Graph]
	return ok
}

// Check verifies that every actor's declared input counts match the arrows
// pointing at it.
func (s *ActorSet) Check() error {
	var errs []string
	if s.LoopCount < 0 {
		errs = append(errs, "loop count actor is missing")
	}
	if s.Output < 0 {
		errs = append(errs, "output actor is missing")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	data := make([]int, len(s.Actors))
	control := make([]int, len(s.Actors))
	positions := map[int]bool{}
	branchTails := map[string]int{}
	for _, a := range s.Actors {
		for _, d := range a.Data {
			data[d.To]++
		}
		for _, r := range a.Results {
			if !positions[r.ToIndex] {
				positions[r.ToIndex] = true
				data[r.To]++
			}
		}
		for _, c := range a.Control {
			if c.To == s.LoopCount && s.inBranch(a.Index) {
				branchTails[a.Graph]++
				continue
			}
			control[c.To]++
		}
		for _, b := range a.Branches {
			data[b.To] += a.branchInputs()
			control[b.To]++
		}
	}
	for _, a := range s.Actors {
		if a.Kind == LoopCount {
			if control[a.Index] != a.InputControl {
				errs = append(errs, fmt.Sprintf("actor %s expects %d control inputs but %d arrows point at it", a.Name, a.InputControl, control[a.Index]))
			}
			continue
		}
		if data[a.Index] != a.InputData {
			errs = append(errs, fmt.Sprintf("actor %s expects %d data inputs but %d arrows point at it", a.Name, a.InputData, data[a.Index]))
		}
		if control[a.Index] != a.InputControl {
			errs = append(errs, fmt.Sprintf("actor %s expects %d control inputs but %d arrows point at it", a.Name, a.InputControl, control[a.Index]))
		}
		if a.Trigger && (a.InputData > 0 || a.InputControl > 0) {
			errs = append(errs, fmt.Sprintf("actor %s is started explicitly but has inputs", a.Name))
		}
	}
	graphs := make([]string, 0, len(s.BranchTails))
	for g := range s.BranchTails {
		graphs = append(graphs, g)
	}
	sort.Strings(graphs)
	for _, g := range graphs {
		if branchTails[g] != s.BranchTails[g] {
			errs = append(errs, fmt.Sprintf("branch graph %s has %d tails but %d reach the loop count actor", g, s.BranchTails[g], branchTails[g]))
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Spawn registers every actor with sys.
func (s *ActorSet) Spawn(sys *actor.System) error {
	if s.sys != nil {
		return fmt.Errorf("actor set %s is already scheduled", s.Name)
	}
	actors := make([]actor.Actor, len(s.Actors))
	for i, a := range s.Actors {
		actors[i] = a
	}
	s.base = sys.SpawnGroup(actors)
	s.sys = sys
	return nil
}

// Spawned reports whether the set is registered with an actor system.
func (s *ActorSet) Spawned() bool { return s.sys != nil }

// AID returns the actor system handle of actor i.
func (s *ActorSet) AID(i int) actor.AID {
	if s.sys == nil {
		return actor.NoAID
	}
	return s.base + actor.AID(i)
}

// Start sends the start signal of op's current step to every trigger actor.
func (s *ActorSet) Start(op *actor.OpContext) {
	s.trigger(op, op.Seq())
}

func (s *ActorSet) trigger(op *actor.OpContext, seq uint64) {
	for _, i := range s.Triggers {
		s.send(op, i, &OpStart{Seq: seq})
	}
}

func (s *ActorSet) send(op *actor.OpContext, to int, msg actor.Message) {
	s.sys.Send(op, s.AID(to), msg)
}

// Destroy unregisters the actors and releases all memory the set owns.
func (s *ActorSet) Destroy() {
	if s.sys != nil {
		s.sys.Stop(s.base, len(s.Actors))
		s.sys = nil
	}
	for _, a := range s.Actors {
		a.reset()
	}
	for _, m := range s.Managers {
		m.Release()
	}
	s.HostQueue.Clear()
	s.DeviceQueue.Clear()
}
