// Package actor is a minimal actor runtime: actors addressed by integer
// handles, one bounded mailbox per actor, fire-and-forget delivery, and a
// fixed worker pool that drains whichever actor has mail. An actor processes
// its messages one at a time, so its own state needs no locking.
package actor

import (
	"context"
	"fmt"
)

// AID is an actor handle returned at spawn time. Handles are dense indexes
// into the system's actor table.
type AID int

// NoAID is the invalid handle.
const NoAID AID = -1

func (a AID) String() string {
	if a == NoAID {
		return "aid(none)"
	}
	return fmt.Sprintf("aid(%d)", int(a))
}

// Message is anything delivered to an actor.
type Message interface {
	Kind() string
}

// Actor receives messages. Receive is never called concurrently for the
// same actor.
type Actor interface {
	Receive(ctx context.Context, op *OpContext, msg Message)
}

// ActorFunc adapts a function to Actor.
type ActorFunc func(ctx context.Context, op *OpContext, msg Message)

// Receive calls f.
func (f ActorFunc) Receive(ctx context.Context, op *OpContext, msg Message) { f(ctx, op, msg) }

// envelope carries a message together with the run it belongs to.
type envelope struct {
	op  *OpContext
	msg Message
}
