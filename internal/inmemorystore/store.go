// Package inmemorystore provides an ephemeral, thread-safe, in-memory
// implementation of the nodestore.Store interface.
//
// Records are kept in a sync.Map keyed by (run, step, actor). Each actor owns
// its own keys and writes them from whichever worker runs it, so contention on
// a single key is rare and a global lock is not needed.
package inmemorystore

import (
	"context"
	"sort"
	"sync"

	"github.com/vk/flowgrid/internal/nodestore"
)

type entry struct {
	mu  sync.Mutex
	rec nodestore.Record
}

// Store is an in-memory implementation of nodestore.Store.
type Store struct {
	records sync.Map // Key: nodestore.Key, Value: *entry
}

// New creates a new, empty in-memory store.
func New() *Store {
	return &Store{}
}

// SetStatus updates the status of one actor on one step.
func (s *Store) SetStatus(ctx context.Context, key nodestore.Key, kind string, status nodestore.Status, err error) error {
	v, _ := s.records.LoadOrStore(key, &entry{rec: nodestore.Record{Key: key, Kind: kind}})
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rec.Status = status
	if status == nodestore.StatusRunning {
		e.rec.Fires++
	}
	if err != nil {
		e.rec.Err = err.Error()
	}
	return nil
}

// GetStatus retrieves the status of one actor on one step.
// If a status has not been set, it returns StatusPending.
func (s *Store) GetStatus(ctx context.Context, key nodestore.Key) (nodestore.Status, error) {
	v, ok := s.records.Load(key)
	if !ok {
		return nodestore.StatusPending, nil
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Status, nil
}

// Records returns a snapshot of every record of a run.
func (s *Store) Records(ctx context.Context, runID string) ([]nodestore.Record, error) {
	var out []nodestore.Record
	s.records.Range(func(k, v any) bool {
		if k.(nodestore.Key).RunID != runID {
			return true
		}
		e := v.(*entry)
		e.mu.Lock()
		out = append(out, e.rec)
		e.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].Actor < out[j].Actor
	})
	return out, nil
}
