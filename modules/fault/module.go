// Package fault provides kernels for exercising failure handling: Fail
// always returns an error, Signal passes its input through and opens a named
// latch, and Delay passes its input through after sleeping. Fail can wait
// for a latch first, which makes the order of a failure relative to an
// unrelated kernel deterministic.
package fault

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/vk/flowgrid/internal/device"
	"github.com/vk/flowgrid/internal/registry"
)

// ErrInjected is the error Fail returns.
var ErrInjected = errors.New("injected kernel failure")

// Module implements the registry.Module interface for this package.
type Module struct{}

// FailAttrs are the attributes of Fail.
type FailAttrs struct {
	Message   string `cty:"message"`
	Wait      string `cty:"wait"`
	TimeoutMs int    `cty:"timeout_ms"`
}

// SignalAttrs are the attributes of Signal.
type SignalAttrs struct {
	Latch string `cty:"latch"`
}

// DelayAttrs are the attributes of Delay.
type DelayAttrs struct {
	Ms int `cty:"ms"`
}

// Register registers the fault kernels.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterKernel("Fail", &registry.RegisteredKernel{
		NewAttrs:  func() any { return &FailAttrs{Message: "fail", TimeoutMs: 5000} },
		Build:     func(attrs any) (device.KernelMod, error) { return failKernel(*attrs.(*FailAttrs)), nil },
		Infer:     inferPassThrough,
		MinInputs: 0,
		MaxInputs: -1,
	})
	r.RegisterKernel("Signal", &registry.RegisteredKernel{
		NewAttrs: func() any { return new(SignalAttrs) },
		Build: func(attrs any) (device.KernelMod, error) {
			name := attrs.(*SignalAttrs).Latch
			if name == "" {
				return nil, errors.New("latch must be set")
			}
			return signalKernel(name), nil
		},
		Infer:     inferPassThrough,
		MinInputs: 1,
		MaxInputs: -1,
	})
	r.RegisterKernel("Delay", &registry.RegisteredKernel{
		NewAttrs:  func() any { return new(DelayAttrs) },
		Build:     func(attrs any) (device.KernelMod, error) { return delayKernel(attrs.(*DelayAttrs).Ms), nil },
		Infer:     inferPassThrough,
		MinInputs: 1,
		MaxInputs: -1,
	})
}

var latches sync.Map // name -> *latch

type latch struct {
	ch   chan struct{}
	once sync.Once
}

func getLatch(name string) *latch {
	l, _ := latches.LoadOrStore(name, &latch{ch: make(chan struct{})})
	return l.(*latch)
}

// Latch returns the channel closed when the named latch opens.
func Latch(name string) <-chan struct{} {
	return getLatch(name).ch
}

// Open opens the named latch. Opening an open latch does nothing.
func Open(name string) {
	l := getLatch(name)
	l.once.Do(func() { close(l.ch) })
}

// Reset forgets the named latch, so the next Latch call returns a fresh,
// unopened channel.
func Reset(name string) {
	latches.Delete(name)
}

type failKernel FailAttrs

func (f failKernel) Launch(ctx context.Context, _, _, _ []*device.DeviceTensor) error {
	if f.Wait != "" {
		select {
		case <-Latch(f.Wait):
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(f.TimeoutMs) * time.Millisecond):
			return fmt.Errorf("latch %q never opened", f.Wait)
		}
	}
	return fmt.Errorf("%s: %w", f.Message, ErrInjected)
}

type signalKernel string

func (s signalKernel) Launch(ctx context.Context, inputs, _, outputs []*device.DeviceTensor) error {
	if err := passThrough(inputs, outputs); err != nil {
		return err
	}
	Open(string(s))
	return nil
}

type delayKernel int

func (d delayKernel) Launch(ctx context.Context, inputs, _, outputs []*device.DeviceTensor) error {
	select {
	case <-time.After(time.Duration(d) * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	return passThrough(inputs, outputs)
}

func passThrough(inputs, outputs []*device.DeviceTensor) error {
	if len(outputs) > len(inputs) {
		return fmt.Errorf("%d outputs but only %d inputs", len(outputs), len(inputs))
	}
	for i, out := range outputs {
		if err := out.CopyFrom(inputs[i]); err != nil {
			return err
		}
	}
	return nil
}

func inferPassThrough(in []registry.Meta, _ any) ([]registry.Meta, error) {
	out := make([]registry.Meta, len(in))
	for i, m := range in {
		out[i] = registry.Meta{DType: m.DType, Shape: slices.Clone(m.Shape)}
	}
	return out, nil
}
