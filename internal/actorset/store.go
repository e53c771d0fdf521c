package actorset

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/device"
	"github.com/vk/flowgrid/internal/tensor"
	"golang.org/x/sync/errgroup"
)

// StoreKey identifies a persisted tensor: one copy per consuming device.
type StoreKey struct {
	Name   string
	Device string
}

func (k StoreKey) String() string { return k.Name + "@" + k.Device }

// StoreEntry is a weight or constant and the host value it is loaded from.
type StoreEntry struct {
	Key    StoreKey
	Tensor *device.DeviceTensor
	Value  *tensor.Tensor

	persisted bool
}

// DeviceTensorStore holds weights and constants. They are written once, on
// the first PrepareRun, and keep their contents across runs.
type DeviceTensorStore struct {
	mu      sync.RWMutex
	entries map[StoreKey]*StoreEntry
}

// NewDeviceTensorStore creates an empty store.
func NewDeviceTensorStore() *DeviceTensorStore {
	return &DeviceTensorStore{entries: make(map[StoreKey]*StoreEntry)}
}

// Insert returns the entry for name on dev, creating it from value if it
// does not exist yet.
func (s *DeviceTensorStore) Insert(name string, dev device.Context, value *tensor.Tensor, format tensor.Format) *StoreEntry {
	key := StoreKey{Name: name, Device: dev.Name()}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return e
	}
	e := &StoreEntry{
		Key:    key,
		Tensor: device.NewDeviceTensor(dev, value.DType, value.Shape, format),
		Value:  value,
	}
	s.entries[key] = e
	return e
}

// Get returns the tensor stored for name on the named device.
func (s *DeviceTensorStore) Get(name, dev string) (*device.DeviceTensor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[StoreKey{Name: name, Device: dev}]
	if !ok {
		return nil, false
	}
	return e.Tensor, true
}

// Entries returns every entry ordered by name, then device.
func (s *DeviceTensorStore) Entries() []*StoreEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*StoreEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Name != out[j].Key.Name {
			return out[i].Key.Name < out[j].Key.Name
		}
		return out[i].Key.Device < out[j].Key.Device
	})
	return out
}

// Persist copies every value not yet on its device, one goroutine per device.
func (s *DeviceTensorStore) Persist(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	byDevice := map[string][]*StoreEntry{}
	for _, e := range s.Entries() {
		if !e.persisted {
			byDevice[e.Key.Device] = append(byDevice[e.Key.Device], e)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for dev, entries := range byDevice {
		g.Go(func() error {
			for _, e := range entries {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := e.Tensor.SyncHostToDevice(e.Value); err != nil {
					return fmt.Errorf("persist %s: %w", e.Key, err)
				}
			}
			logger.Debug("Persisted device tensors.", "device", dev, "count", len(entries))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entries := range byDevice {
		for _, e := range entries {
			e.persisted = true
		}
	}
	return nil
}
