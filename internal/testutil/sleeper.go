package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/vk/flowgrid/internal/device"
	"github.com/vk/flowgrid/internal/registry"
)

// ExecutionRecord holds the start and end times of one kernel launch.
type ExecutionRecord struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether the two launches ran at the same time.
func (r ExecutionRecord) Overlaps(other ExecutionRecord) bool {
	return r.Start.Before(other.End) && other.Start.Before(r.End)
}

// SleeperModule registers the Sleep kernel, which copies its input to its
// output after sleeping and records when each tag ran.
type SleeperModule struct {
	mu      sync.Mutex
	records map[string][]ExecutionRecord
}

// NewSleeperModule creates a new sleeper module for testing.
func NewSleeperModule() *SleeperModule {
	return &SleeperModule{records: make(map[string][]ExecutionRecord)}
}

type sleepAttrs struct {
	Tag string `cty:"tag"`
	Ms  int    `cty:"ms"`
}

// Register registers the Sleep kernel.
func (m *SleeperModule) Register(r *registry.Registry) {
	r.RegisterKernel("Sleep", &registry.RegisteredKernel{
		NewAttrs: func() any { return &sleepAttrs{Ms: 50} },
		Build: func(attrs any) (device.KernelMod, error) {
			a := *attrs.(*sleepAttrs)
			return device.KernelFunc(func(ctx context.Context, in, _, out []*device.DeviceTensor) error {
				rec := ExecutionRecord{Start: time.Now()}
				select {
				case <-time.After(time.Duration(a.Ms) * time.Millisecond):
				case <-ctx.Done():
					return ctx.Err()
				}
				rec.End = time.Now()
				m.mu.Lock()
				m.records[a.Tag] = append(m.records[a.Tag], rec)
				m.mu.Unlock()
				return out[0].CopyFrom(in[0])
			}), nil
		},
		Infer: func(in []registry.Meta, _ any) ([]registry.Meta, error) {
			return in[:1], nil
		},
		MinInputs: 1,
		MaxInputs: 1,
	})
}

// Records returns the launches recorded for tag.
func (m *SleeperModule) Records(tag string) []ExecutionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ExecutionRecord(nil), m.records[tag]...)
}
