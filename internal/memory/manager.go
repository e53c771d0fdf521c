// Package memory assigns device addresses to the tensors of a compiled graph.
//
// Tensors are grouped into blocks of one of five classes. Static blocks
// (parameters, weights, constants, graph outputs) get their own allocation
// that lives as long as the ActorSet. Dynamic blocks (kernel intermediates and
// workspace) share one backing allocation laid out by the Somas interval
// analysis, or are left unassigned for the owning actor to allocate at firing
// time when reuse is disabled. Contiguous blocks hold a communication kernel's
// inputs or outputs back to back. Ref blocks are the roots of in-place update
// chains: they never take part in reuse. Alias blocks allocate nothing and
// take their root's address.
package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/device"
)

// Class is the allocation class of a block.
type Class int

const (
	Static Class = iota
	Dynamic
	Contiguous
	Ref
	Alias
)

func (c Class) String() string {
	switch c {
	case Static:
		return "static"
	case Dynamic:
		return "dynamic"
	case Contiguous:
		return "contiguous"
	case Ref:
		return "ref"
	case Alias:
		return "alias"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Block is a unit of allocation. Contiguous blocks carry several tensors,
// every other class exactly one.
type Block struct {
	Name    string
	Class   Class
	Tensors []*device.DeviceTensor
	// Live range in execution order, used for Dynamic blocks.
	Start, End int
	// Source is the aliased block for Alias blocks.
	Source *Block

	addr device.Address
}

// Size is the number of bytes the block occupies.
func (b *Block) Size() int {
	if b.Class == Contiguous {
		total := 0
		for _, t := range b.Tensors {
			total += device.AlignSize(t.Size())
		}
		return total
	}
	total := 0
	for _, t := range b.Tensors {
		total += t.Size()
	}
	return total
}

// Addr is the assigned base address, NullAddress until assigned.
func (b *Block) Addr() device.Address { return b.addr }

// ResourceError reports an allocation the device could not satisfy.
type ResourceError struct {
	Device string
	What   string
	Size   int
	Err    error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("cannot allocate %d bytes on %s for %s: %v", e.Size, e.Device, e.What, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// Report summarises an assignment in bytes per class.
type Report struct {
	Static     int
	Dynamic    int
	Contiguous int
	Ref        int
	// DynamicWithoutReuse is what the dynamic class would need with no sharing.
	DynamicWithoutReuse int
}

// Manager owns every allocation it made for one device and frees them on Release.
type Manager struct {
	dev   device.Context
	owned []device.Address
}

// NewManager creates a manager for dev.
func NewManager(dev device.Context) *Manager {
	return &Manager{dev: dev}
}

// Device returns the managed device.
func (m *Manager) Device() device.Context { return m.dev }

// Assign gives every block an address. With reuse disabled, dynamic blocks
// are left at NullAddress. Alias blocks are resolved last so that they see
// the final address of their root.
func (m *Manager) Assign(ctx context.Context, blocks []*Block, reuse bool) (Report, error) {
	logger := ctxlog.FromContext(ctx)
	var rep Report

	var dynamic []*Block
	for _, b := range blocks {
		switch b.Class {
		case Static, Ref, Contiguous:
			if err := m.allocateBlock(b); err != nil {
				return rep, err
			}
			switch b.Class {
			case Static:
				rep.Static += b.Size()
			case Ref:
				rep.Ref += b.Size()
			case Contiguous:
				rep.Contiguous += b.Size()
			}
		case Dynamic:
			dynamic = append(dynamic, b)
			rep.DynamicWithoutReuse += roundUp(max(b.Size(), 1), somasAlign)
		}
	}

	if reuse && len(dynamic) > 0 {
		intervals := make([]Interval, len(dynamic))
		for i, b := range dynamic {
			intervals[i] = Interval{Size: b.Size(), Start: b.Start, End: b.End}
		}
		offsets, total := Somas(intervals)
		base, err := m.dev.AllocateMemory(total)
		if err != nil {
			return rep, &ResourceError{Device: m.dev.Name(), What: "dynamic reuse block", Size: total, Err: err}
		}
		m.owned = append(m.owned, base)
		for i, b := range dynamic {
			b.setAddr(base + device.Address(offsets[i]))
		}
		rep.Dynamic = total
	}

	for _, b := range blocks {
		if b.Class != Alias {
			continue
		}
		root, err := resolveAlias(b)
		if err != nil {
			return rep, err
		}
		b.setAddr(root.addr)
	}

	logger.Debug("Memory assigned.", "device", m.dev.Name(), "static", rep.Static, "dynamic", rep.Dynamic,
		"dynamic_without_reuse", rep.DynamicWithoutReuse, "contiguous", rep.Contiguous, "ref", rep.Ref, "reuse", reuse)
	return rep, nil
}

// Release frees every allocation the manager made.
func (m *Manager) Release() {
	for _, addr := range m.owned {
		m.dev.FreeMemory(addr)
	}
	m.owned = nil
}

func (m *Manager) allocateBlock(b *Block) error {
	size := b.Size()
	if size == 0 {
		return nil
	}
	addr, err := m.dev.AllocateMemory(size)
	if err != nil {
		return &ResourceError{Device: m.dev.Name(), What: b.Class.String() + " block " + b.Name, Size: size, Err: err}
	}
	m.owned = append(m.owned, addr)
	b.setAddr(addr)
	return nil
}

// setAddr places the block at addr and points its tensors into it.
func (b *Block) setAddr(addr device.Address) {
	b.addr = addr
	cur := addr
	for _, t := range b.Tensors {
		t.SetPtr(cur)
		if b.Class == Contiguous {
			cur += device.Address(device.AlignSize(t.Size()))
		} else {
			cur += device.Address(t.Size())
		}
	}
	if b.Class == Static || b.Class == Ref || b.Class == Contiguous {
		for _, t := range b.Tensors {
			t.SetPersistent(true)
		}
	}
}

var errAliasCycle = errors.New("ref chain forms a cycle")

func resolveAlias(b *Block) (*Block, error) {
	seen := map[*Block]bool{}
	cur := b
	for cur.Class == Alias {
		if seen[cur] {
			return nil, fmt.Errorf("alias %s: %w", b.Name, errAliasCycle)
		}
		seen[cur] = true
		if cur.Source == nil {
			return nil, fmt.Errorf("alias %s has no source", cur.Name)
		}
		cur = cur.Source
	}
	return cur, nil
}

// Allocate gives a single tensor fresh memory at firing time.
func Allocate(t *device.DeviceTensor, what string) error {
	if t.Size() == 0 {
		return nil
	}
	dev := t.Device()
	addr, err := dev.AllocateMemory(t.Size())
	if err != nil {
		return &ResourceError{Device: dev.Name(), What: what, Size: t.Size(), Err: err}
	}
	t.SetPtr(addr)
	return nil
}

// Free returns a tensor's memory allocated by Allocate.
func Free(t *device.DeviceTensor) {
	if t.Ptr() == device.NullAddress || t.Persistent() {
		return
	}
	t.Device().FreeMemory(t.Ptr())
	t.SetPtr(device.NullAddress)
}
