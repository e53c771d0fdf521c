package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/vk/flowgrid/internal/actor"
	"github.com/vk/flowgrid/internal/actorset"
	"github.com/vk/flowgrid/internal/builder"
	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/dump"
	"github.com/vk/flowgrid/internal/model"
	"github.com/vk/flowgrid/internal/nodestore"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("scheduler is closed")

// Config configures a Scheduler.
type Config struct {
	Workers     int
	MailboxSize int
	// Kernels binds kernels to their implementations.
	Kernels builder.KernelResolver
	// History receives per-step actor records. Nil disables recording.
	History nodestore.Store
}

// Scheduler builds, caches and runs ActorSets.
type Scheduler struct {
	sys  *actor.System
	opts builder.Options

	mu     sync.Mutex
	sets   map[string]*entry
	closed bool
}

type entry struct {
	set *actorset.ActorSet
	run sync.Mutex
}

// New starts the actor system. ctx must carry a logger and bounds the
// lifetime of the worker pool.
func New(ctx context.Context, cfg Config) *Scheduler {
	return &Scheduler{
		sys: actor.NewSystem(ctx, actor.SystemConfig{Workers: cfg.Workers, MailboxSize: cfg.MailboxSize}),
		opts: builder.Options{
			Kernels: cfg.Kernels,
			History: cfg.History,
		},
		sets: make(map[string]*entry),
	}
}

// Transform returns the ActorSet of prog, building and scheduling it on
// first use.
func (s *Scheduler) Transform(ctx context.Context, prog *model.GraphCompilerInfo) (*actorset.ActorSet, error) {
	logger := ctxlog.FromContext(ctx).With("program", prog.Name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if e, ok := s.sets[prog.Name]; ok {
		logger.Debug("Reusing cached actor set.")
		return e.set, nil
	}

	set, err := builder.Build(ctx, prog, s.opts)
	if err != nil {
		return nil, err
	}
	if err := s.schedule(set); err != nil {
		set.Destroy()
		return nil, err
	}
	s.sets[prog.Name] = &entry{set: set}
	logger.Debug("Actor set scheduled.", "actors", len(set.Actors))
	return set, nil
}

// Schedule registers an ActorSet built elsewhere and caches it under its name.
func (s *Scheduler) Schedule(set *actorset.ActorSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.sets[set.Name]; ok {
		return fmt.Errorf("an actor set named %s is already scheduled", set.Name)
	}
	if err := s.schedule(set); err != nil {
		return err
	}
	s.sets[set.Name] = &entry{set: set}
	return nil
}

func (s *Scheduler) schedule(set *actorset.ActorSet) error {
	return set.Spawn(s.sys)
}

// Fetch returns a cached ActorSet.
func (s *Scheduler) Fetch(name string) (*actorset.ActorSet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sets[name]
	if !ok {
		return nil, false
	}
	return e.set, true
}

// Names returns the cached program names, sorted.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sets))
	for name := range s.sets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Destroy drops a cached set, waiting for a run in progress to finish.
func (s *Scheduler) Destroy(name string) bool {
	s.mu.Lock()
	e, ok := s.sets[name]
	delete(s.sets, name)
	s.mu.Unlock()
	if !ok {
		return false
	}
	e.run.Lock()
	defer e.run.Unlock()
	e.set.Destroy()
	return true
}

// Dump writes the text dump of a cached set.
func (s *Scheduler) Dump(w io.Writer, name string) error {
	set, ok := s.Fetch(name)
	if !ok {
		return fmt.Errorf("no actor set named %s", name)
	}
	return dump.Write(w, set)
}

// Close destroys every cached set and stops the actor system.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	names := make([]string, 0, len(s.sets))
	for name := range s.sets {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		s.Destroy(name)
	}
	s.sys.Close()
}

func (s *Scheduler) lookup(set *actorset.ActorSet) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	e, ok := s.sets[set.Name]
	if !ok || e.set != set {
		return nil, fmt.Errorf("actor set %s is not scheduled here", set.Name)
	}
	return e, nil
}
