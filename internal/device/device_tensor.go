package device

import (
	"fmt"
	"sync/atomic"

	"github.com/vk/flowgrid/internal/tensor"
)

// DeviceTensor is a typed, sized handle to device memory. The pointer is
// written only by the actor that produces the tensor; consumers read it after
// receiving the tensor in a message.
type DeviceTensor struct {
	ptr    Address
	size   int
	format tensor.Format
	dtype  tensor.DType
	shape  []int
	dev    Context

	// persistent tensors (weights, constants, graph outputs) keep their
	// address for the lifetime of the ActorSet.
	persistent bool

	refCount         atomic.Int32
	originalRefCount int32
}

// NewDeviceTensor creates a handle with no memory attached.
func NewDeviceTensor(dev Context, dtype tensor.DType, shape []int, format tensor.Format) *DeviceTensor {
	if format == "" {
		format = tensor.FormatDefault
	}
	return &DeviceTensor{
		size:   tensor.ByteSize(dtype, shape),
		format: format,
		dtype:  dtype,
		shape:  append([]int(nil), shape...),
		dev:    dev,
	}
}

func (d *DeviceTensor) Ptr() Address          { return d.ptr }
func (d *DeviceTensor) SetPtr(addr Address)   { d.ptr = addr }
func (d *DeviceTensor) Size() int             { return d.size }
func (d *DeviceTensor) Format() tensor.Format { return d.format }
func (d *DeviceTensor) DType() tensor.DType   { return d.dtype }
func (d *DeviceTensor) Shape() []int          { return d.shape }
func (d *DeviceTensor) Device() Context       { return d.dev }
func (d *DeviceTensor) Persistent() bool      { return d.persistent }
func (d *DeviceTensor) SetPersistent(p bool)  { d.persistent = p }

// Fork returns a handle with the same type, shape, format and device but
// no memory, for an owner that allocates a fresh buffer on every firing.
func (d *DeviceTensor) Fork() *DeviceTensor {
	return &DeviceTensor{
		size:   d.size,
		format: d.format,
		dtype:  d.dtype,
		shape:  d.shape,
		dev:    d.dev,
	}
}

// SetRefCount sets both the live and the original reference count.
func (d *DeviceTensor) SetRefCount(n int32) {
	d.originalRefCount = n
	d.refCount.Store(n)
}

// ResetRefCount restores the live count for the next step.
func (d *DeviceTensor) ResetRefCount() { d.refCount.Store(d.originalRefCount) }

// DecreaseRefCount decrements the live count and returns the new value.
func (d *DeviceTensor) DecreaseRefCount() int32 { return d.refCount.Add(-1) }

// RefCount returns the live count.
func (d *DeviceTensor) RefCount() int32 { return d.refCount.Load() }

// Bytes returns the device memory backing the tensor.
func (d *DeviceTensor) Bytes() ([]byte, error) {
	if d.ptr == NullAddress {
		return nil, fmt.Errorf("device tensor %s%v on %s has no memory", d.dtype, d.shape, d.deviceName())
	}
	return d.dev.Memory(d.ptr, d.size)
}

// SyncHostToDevice copies a host tensor into device memory.
func (d *DeviceTensor) SyncHostToDevice(t *tensor.Tensor) error {
	if t.DType != d.dtype {
		return fmt.Errorf("sync host to device: dtype %s does not match device tensor dtype %s", t.DType, d.dtype)
	}
	if len(t.Data) != d.size {
		return fmt.Errorf("sync host to device: %d bytes do not fit device tensor of %d bytes", len(t.Data), d.size)
	}
	mem, err := d.Bytes()
	if err != nil {
		return err
	}
	copy(mem, t.Data)
	return nil
}

// SyncDeviceToHost copies device memory into a new host tensor.
func (d *DeviceTensor) SyncDeviceToHost() (*tensor.Tensor, error) {
	mem, err := d.Bytes()
	if err != nil {
		return nil, err
	}
	out := tensor.New(d.dtype, d.shape)
	copy(out.Data, mem)
	return out, nil
}

// CopyFrom copies the contents of src, possibly living on another device.
func (d *DeviceTensor) CopyFrom(src *DeviceTensor) error {
	if src.size != d.size {
		return fmt.Errorf("copy device tensor: source has %d bytes, destination %d", src.size, d.size)
	}
	from, err := src.Bytes()
	if err != nil {
		return err
	}
	to, err := d.Bytes()
	if err != nil {
		return err
	}
	copy(to, from)
	return nil
}

// Float32s reads the tensor as float32 values.
func (d *DeviceTensor) Float32s() ([]float32, error) {
	mem, err := d.Bytes()
	if err != nil {
		return nil, err
	}
	return tensor.Float32s(mem), nil
}

// SetFloat32s writes float32 values.
func (d *DeviceTensor) SetFloat32s(vals []float32) error {
	mem, err := d.checkedBytes(len(vals) * 4)
	if err != nil {
		return err
	}
	tensor.PutFloat32s(mem, vals)
	return nil
}

// Int32s reads the tensor as int32 values.
func (d *DeviceTensor) Int32s() ([]int32, error) {
	mem, err := d.Bytes()
	if err != nil {
		return nil, err
	}
	return tensor.Int32s(mem), nil
}

// SetInt32s writes int32 values.
func (d *DeviceTensor) SetInt32s(vals []int32) error {
	mem, err := d.checkedBytes(len(vals) * 4)
	if err != nil {
		return err
	}
	tensor.PutInt32s(mem, vals)
	return nil
}

// Bools reads the tensor as bool values.
func (d *DeviceTensor) Bools() ([]bool, error) {
	mem, err := d.Bytes()
	if err != nil {
		return nil, err
	}
	return tensor.Bools(mem), nil
}

// SetBools writes bool values.
func (d *DeviceTensor) SetBools(vals []bool) error {
	mem, err := d.checkedBytes(len(vals))
	if err != nil {
		return err
	}
	tensor.PutBools(mem, vals)
	return nil
}

func (d *DeviceTensor) checkedBytes(n int) ([]byte, error) {
	if n > d.size {
		return nil, fmt.Errorf("write of %d bytes overflows device tensor of %d bytes", n, d.size)
	}
	return d.Bytes()
}

func (d *DeviceTensor) deviceName() string {
	if d.dev == nil {
		return "<none>"
	}
	return d.dev.Name()
}

func (d *DeviceTensor) String() string {
	return fmt.Sprintf("%s%v@%s:%#x(%d)", d.dtype, d.shape, d.deviceName(), uint64(d.ptr), d.size)
}
