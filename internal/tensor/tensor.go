// Package tensor holds host-side tensors: a data type, a shape and a flat
// little-endian payload. Device-side memory is modeled separately by the
// device package; host tensors are what callers feed into and read out of a run.
package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// DType is the element type of a tensor.
type DType int

const (
	Float32 DType = iota
	Int32
	Bool
)

var dtypeNames = map[DType]string{
	Float32: "float32",
	Int32:   "int32",
	Bool:    "bool",
}

// ItemSize returns the number of bytes one element occupies.
func (d DType) ItemSize() int {
	switch d {
	case Float32, Int32:
		return 4
	case Bool:
		return 1
	default:
		panic(fmt.Sprintf("tensor: unknown dtype %d", int(d)))
	}
}

func (d DType) String() string {
	if name, ok := dtypeNames[d]; ok {
		return name
	}
	return fmt.Sprintf("dtype(%d)", int(d))
}

// ParseDType converts a name such as "float32" into a DType.
func ParseDType(s string) (DType, error) {
	for d, name := range dtypeNames {
		if strings.EqualFold(name, s) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown dtype %q", s)
}

// Format is the memory layout label of a tensor. Two tensors with different
// formats cannot be handed to each other without a conversion copy.
type Format string

const (
	FormatDefault Format = "DefaultFormat"
	FormatNCHW    Format = "NCHW"
	FormatNHWC    Format = "NHWC"
)

// Tensor is a dense host tensor.
type Tensor struct {
	DType DType
	Shape []int
	Data  []byte
}

// NumElements returns the product of the shape dimensions. A scalar has one element.
func NumElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// ByteSize returns the number of payload bytes a tensor of this dtype and shape needs.
func ByteSize(dtype DType, shape []int) int {
	return NumElements(shape) * dtype.ItemSize()
}

// New allocates a zeroed tensor.
func New(dtype DType, shape []int) *Tensor {
	return &Tensor{
		DType: dtype,
		Shape: append([]int(nil), shape...),
		Data:  make([]byte, ByteSize(dtype, shape)),
	}
}

// FromFloat32 builds a float32 tensor. A nil shape means a 1-D tensor of len(vals).
func FromFloat32(shape []int, vals ...float32) *Tensor {
	t := New(Float32, defaultShape(shape, len(vals)))
	PutFloat32s(t.Data, vals)
	return t
}

// FromInt32 builds an int32 tensor. A nil shape means a 1-D tensor of len(vals).
func FromInt32(shape []int, vals ...int32) *Tensor {
	t := New(Int32, defaultShape(shape, len(vals)))
	PutInt32s(t.Data, vals)
	return t
}

// FromBool builds a bool tensor. A nil shape means a 1-D tensor of len(vals).
func FromBool(shape []int, vals ...bool) *Tensor {
	t := New(Bool, defaultShape(shape, len(vals)))
	PutBools(t.Data, vals)
	return t
}

func defaultShape(shape []int, n int) []int {
	if shape == nil {
		return []int{n}
	}
	return shape
}

// Float32s decodes the payload as float32 values.
func (t *Tensor) Float32s() []float32 { return Float32s(t.Data) }

// Int32s decodes the payload as int32 values.
func (t *Tensor) Int32s() []int32 { return Int32s(t.Data) }

// Bools decodes the payload as bool values.
func (t *Tensor) Bools() []bool { return Bools(t.Data) }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		DType: t.DType,
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]byte(nil), t.Data...),
	}
}

// Validate checks that the payload length matches dtype and shape.
func (t *Tensor) Validate() error {
	if want := ByteSize(t.DType, t.Shape); len(t.Data) != want {
		return fmt.Errorf("tensor %s%v has %d payload bytes, want %d", t.DType, t.Shape, len(t.Data), want)
	}
	return nil
}

// String renders the tensor for logs and CLI output, e.g. "int32[2] [1 0]".
func (t *Tensor) String() string {
	var vals any
	switch t.DType {
	case Float32:
		vals = t.Float32s()
	case Int32:
		vals = t.Int32s()
	case Bool:
		vals = t.Bools()
	}
	return fmt.Sprintf("%s%v %v", t.DType, t.Shape, vals)
}

// Float32s decodes raw little-endian bytes.
func Float32s(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// PutFloat32s encodes vals into b, which must be large enough.
func PutFloat32s(b []byte, vals []float32) {
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
}

// Int32s decodes raw little-endian bytes.
func Int32s(b []byte) []int32 {
	out := make([]int32, len(b)/4)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// PutInt32s encodes vals into b, which must be large enough.
func PutInt32s(b []byte, vals []int32) {
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[i*4:], uint32(v))
	}
}

// Bools decodes one byte per element.
func Bools(b []byte) []bool {
	out := make([]bool, len(b))
	for i, v := range b {
		out[i] = v != 0
	}
	return out
}

// PutBools encodes vals into b, which must be large enough.
func PutBools(b []byte, vals []bool) {
	for i, v := range vals {
		if v {
			b[i] = 1
		} else {
			b[i] = 0
		}
	}
}
