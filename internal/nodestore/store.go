// Package nodestore defines the interface for recording what every actor did
// on every step of a run.
//
// The actors write to the store as they fire; tests and the CLI read it back
// to check that an actor ran at most once per step, which branch ran, and
// which actor failed first. The store never feeds back into scheduling.
//
// # State Transitions
//
// For one actor on one step:
//
//	Pending → Running → Done OR Failed
//	Pending → Dropped (the run had already failed when the actor became ready)
package nodestore

import (
	"context"
	"fmt"
)

// Status is an actor's state on one step.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusDone
	StatusFailed
	StatusDropped
)

var statusNames = [...]string{"pending", "running", "done", "failed", "dropped"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	for i, name := range statusNames {
		if name == s {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

// Key identifies one actor on one step of one run.
type Key struct {
	RunID string
	Seq   uint64
	Actor string
}

// Record is what the store holds for a key.
type Record struct {
	Key
	Kind   string
	Status Status
	// Fires counts transitions into StatusRunning.
	Fires int
	Err   string
}

// Store records actor activity. Implementations must be safe for
// concurrent use: actors on different workers write at the same time.
type Store interface {
	// SetStatus moves the actor to status. Moving to StatusRunning counts
	// a fire. err is recorded for StatusFailed.
	SetStatus(ctx context.Context, key Key, kind string, status Status, err error) error

	// GetStatus returns StatusPending for keys never written.
	GetStatus(ctx context.Context, key Key) (Status, error)

	// Records returns every record of a run ordered by step then actor name.
	Records(ctx context.Context, runID string) ([]Record, error)
}

// RunRecorder is implemented by stores that also keep one row per Run.
type RunRecorder interface {
	BeginRun(ctx context.Context, runID, program, strategy string) error
	EndRun(ctx context.Context, runID string, steps int64, runErr error) error
}
