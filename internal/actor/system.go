package actor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/executor"
)

// drainBatch bounds how many messages one actor handles before it yields its
// worker to other ready actors.
const drainBatch = 64

// SystemConfig configures an actor system.
type SystemConfig struct {
	// Workers is the executor pool size.
	Workers int
	// MailboxSize is the buffered capacity of each actor's mailbox. Messages
	// beyond it spill into an unbounded overflow list; nothing is dropped.
	MailboxSize int
}

// DefaultSystemConfig returns the defaults used when a field is zero.
func DefaultSystemConfig() SystemConfig {
	return SystemConfig{Workers: 4, MailboxSize: 1024}
}

// PanicError wraps a panic raised inside an actor's Receive.
type PanicError struct {
	Actor AID
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("actor %s panicked: %v", e.Actor, e.Value)
}

// cell is an actor plus its runtime state.
type cell struct {
	id        AID
	actor     Actor
	mailbox   chan envelope
	overflowM sync.Mutex
	overflow  []envelope
	scheduled atomic.Bool
	stopped   atomic.Bool
	sys       *System
}

// System owns the actors and the pool that runs them.
type System struct {
	ctx    context.Context
	cfg    SystemConfig
	pool   *executor.Pool
	clock  *Clock
	logger *slog.Logger

	mu    sync.RWMutex
	cells []*cell

	running     atomic.Bool
	deadLetters atomic.Int64
	processed   atomic.Int64
}

// NewSystem starts an actor system. The context must carry a logger.
func NewSystem(ctx context.Context, cfg SystemConfig) *System {
	def := DefaultSystemConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = def.MailboxSize
	}
	s := &System{
		ctx:    ctx,
		cfg:    cfg,
		pool:   executor.New(ctx, cfg.Workers),
		clock:  NewClock(),
		logger: ctxlog.FromContext(ctx),
	}
	s.running.Store(true)
	s.logger.Debug("Actor system started.", "workers", cfg.Workers, "mailbox", cfg.MailboxSize)
	return s
}

// Clock returns the system-wide step clock.
func (s *System) Clock() *Clock { return s.clock }

// Workers returns the executor pool size.
func (s *System) Workers() int { return s.pool.Workers() }

// SpawnGroup registers actors under contiguous handles and returns the
// first one. actors[i] gets handle base+i.
func (s *System) SpawnGroup(actors []Actor) AID {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := AID(len(s.cells))
	for i, a := range actors {
		s.cells = append(s.cells, &cell{
			id:      base + AID(i),
			actor:   a,
			mailbox: make(chan envelope, s.cfg.MailboxSize),
			sys:     s,
		})
	}
	return base
}

// Spawn registers a single actor.
func (s *System) Spawn(a Actor) AID {
	return s.SpawnGroup([]Actor{a})
}

// Stop unregisters n actors starting at base. Their pending mail is
// discarded and later sends to them become dead letters.
func (s *System) Stop(base AID, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		id := int(base) + i
		if id < 0 || id >= len(s.cells) || s.cells[id] == nil {
			continue
		}
		s.cells[id].stopped.Store(true)
		s.cells[id] = nil
	}
}

// Alive reports whether a handle refers to a registered actor.
func (s *System) Alive(id AID) bool {
	return s.lookup(id) != nil
}

func (s *System) lookup(id AID) *cell {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id < 0 || int(id) >= len(s.cells) {
		return nil
	}
	return s.cells[id]
}

// Send delivers msg to the actor at handle to, as part of run op. It never
// blocks. A message to an unknown actor is counted as a dead letter and
// fails the run.
func (s *System) Send(op *OpContext, to AID, msg Message) {
	op.inflight.Add(1)
	c := s.lookup(to)
	if c == nil || !s.running.Load() {
		s.deadLetters.Add(1)
		s.logger.Warn("Dead letter.", "to", to, "kind", msg.Kind())
		op.SetFailed(fmt.Errorf("message %s sent to unknown actor %s", msg.Kind(), to))
		op.done()
		return
	}
	env := envelope{op: op, msg: msg}
	// Once anything has spilled, later mail queues behind it to keep order.
	c.overflowM.Lock()
	if len(c.overflow) > 0 {
		c.overflow = append(c.overflow, env)
	} else {
		select {
		case c.mailbox <- env:
		default:
			c.overflow = append(c.overflow, env)
		}
	}
	c.overflowM.Unlock()
	c.schedule()
}

// DeadLetters returns the number of undeliverable messages so far.
func (s *System) DeadLetters() int64 { return s.deadLetters.Load() }

// Processed returns the number of messages handled so far.
func (s *System) Processed() int64 { return s.processed.Load() }

// Close stops accepting messages and waits for the workers to finish.
func (s *System) Close() {
	if s.running.CompareAndSwap(true, false) {
		s.pool.Close()
		s.logger.Debug("Actor system stopped.", "processed", s.processed.Load(), "deadLetters", s.deadLetters.Load())
	}
}

func (c *cell) schedule() {
	if c.scheduled.CompareAndSwap(false, true) {
		if !c.sys.pool.Submit(c) {
			c.scheduled.Store(false)
		}
	}
}

func (c *cell) next() (envelope, bool) {
	select {
	case env := <-c.mailbox:
		return env, true
	default:
	}
	c.overflowM.Lock()
	defer c.overflowM.Unlock()
	if len(c.overflow) == 0 {
		return envelope{}, false
	}
	env := c.overflow[0]
	c.overflow[0] = envelope{}
	c.overflow = c.overflow[1:]
	return env, true
}

func (c *cell) pending() bool {
	if len(c.mailbox) > 0 {
		return true
	}
	c.overflowM.Lock()
	defer c.overflowM.Unlock()
	return len(c.overflow) > 0
}

// Run drains up to drainBatch messages, then reschedules if mail remains.
func (c *cell) Run(ctx context.Context) {
	for i := 0; i < drainBatch; i++ {
		env, ok := c.next()
		if !ok {
			break
		}
		c.handle(ctx, env)
	}
	c.scheduled.Store(false)
	if c.pending() {
		c.schedule()
	}
}

func (c *cell) handle(ctx context.Context, env envelope) {
	defer env.op.done()
	if c.stopped.Load() {
		c.sys.deadLetters.Add(1)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			err := &PanicError{Actor: c.id, Value: r, Stack: string(debug.Stack())}
			c.sys.logger.Error("Actor panicked.", "actor", c.id, "kind", env.msg.Kind(), "panic", r)
			env.op.SetFailed(err)
		}
	}()
	c.actor.Receive(ctx, env.op, env.msg)
	c.sys.processed.Add(1)
}
