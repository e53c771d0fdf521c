package device

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
)

// cpuAlign is the granularity of every CPU allocation.
const cpuAlign = 64

// span is a free range [start, start+size) of the arena, in addresses.
type span struct {
	start Address
	size  int
}

// CPU is a host-memory device. Its memory is one fixed-capacity arena with a
// first-fit free list, so running out of memory is observable.
type CPU struct {
	name string
	base Address

	mu    sync.Mutex
	mem   []byte
	free  []span // sorted by start
	alloc map[Address]int
	inUse int
	peak  int
}

// NewCPU creates a CPU device with capacity bytes of memory.
func NewCPU(name string, capacity int) *CPU {
	capacity = roundUp(capacity, cpuAlign)
	// Addresses start at MemAlign so that NullAddress is never handed out.
	base := Address(MemAlign)
	return &CPU{
		name:  name,
		base:  base,
		mem:   make([]byte, capacity),
		free:  []span{{start: base, size: capacity}},
		alloc: make(map[Address]int),
	}
}

func (c *CPU) Name() string { return c.name }

// AllocateMemory implements Context.
func (c *CPU) AllocateMemory(size int) (Address, error) {
	if size <= 0 {
		return NullAddress, fmt.Errorf("%s: invalid allocation size %d", c.name, size)
	}
	size = roundUp(size, cpuAlign)

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, s := range c.free {
		if s.size < size {
			continue
		}
		addr := s.start
		if s.size == size {
			c.free = append(c.free[:i], c.free[i+1:]...)
		} else {
			c.free[i] = span{start: s.start + Address(size), size: s.size - size}
		}
		c.alloc[addr] = size
		c.inUse += size
		c.peak = max(c.peak, c.inUse)
		clear(c.mem[c.offset(addr) : c.offset(addr)+size])
		return addr, nil
	}
	return NullAddress, fmt.Errorf("%s: allocate %d bytes (%d of %d in use): %w", c.name, size, c.inUse, len(c.mem), ErrOutOfMemory)
}

// FreeMemory implements Context. Freeing an unknown address is a no-op.
func (c *CPU) FreeMemory(addr Address) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size, ok := c.alloc[addr]
	if !ok {
		return
	}
	delete(c.alloc, addr)
	c.inUse -= size

	i := sort.Search(len(c.free), func(i int) bool { return c.free[i].start > addr })
	c.free = append(c.free, span{})
	copy(c.free[i+1:], c.free[i:])
	c.free[i] = span{start: addr, size: size}

	// Coalesce with the right neighbour, then the left one.
	if i+1 < len(c.free) && c.free[i].start+Address(c.free[i].size) == c.free[i+1].start {
		c.free[i].size += c.free[i+1].size
		c.free = append(c.free[:i+1], c.free[i+2:]...)
	}
	if i > 0 && c.free[i-1].start+Address(c.free[i-1].size) == c.free[i].start {
		c.free[i-1].size += c.free[i].size
		c.free = append(c.free[:i], c.free[i+1:]...)
	}
}

// Memory implements Context.
func (c *CPU) Memory(addr Address, size int) ([]byte, error) {
	off := c.offset(addr)
	if addr < c.base || off+size > len(c.mem) || size < 0 {
		return nil, fmt.Errorf("%s: address range %#x+%d is outside device memory", c.name, uint64(addr), size)
	}
	return c.mem[off : off+size : off+size], nil
}

// LaunchKernel implements Context. A panicking kernel is reported as an error.
func (c *CPU) LaunchKernel(ctx context.Context, kernel KernelMod, inputs, workspace, outputs []*DeviceTensor) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: kernel panicked: %v\n%s", c.name, r, debug.Stack())
		}
	}()
	return kernel.Launch(ctx, inputs, workspace, outputs)
}

// InUse returns the number of allocated bytes.
func (c *CPU) InUse() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inUse
}

// Peak returns the highest number of simultaneously allocated bytes.
func (c *CPU) Peak() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peak
}

// Capacity returns the arena size in bytes.
func (c *CPU) Capacity() int { return len(c.mem) }

func (c *CPU) offset(addr Address) int { return int(addr - c.base) }

func roundUp(n, align int) int {
	return (n + align - 1) / align * align
}
