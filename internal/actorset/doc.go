// Package actorset holds the actors a compiled program runs as and the
// arrows between them.
//
// Every actor is one Actor value whose Kind selects its behaviour: a data
// source feeding inputs, a kernel launching a bound KernelMod, a copy across
// devices or formats, a switch or gather routing data into a branch graph,
// the loop count actor closing each step, and the output actor collecting
// results. Arrows are plain indexes into ActorSet.Actors; the actor system
// handle of actor i is the set's base handle plus i. The name map exists
// only for lookups from tests and the dump.
//
// # Firing rule
//
// An actor buffers messages per step sequence number. It fires once for a
// sequence number when the data inputs and control inputs it declares have
// all arrived (plus a start signal for actors without inputs), and discards
// the buffer afterwards. If the run has already failed it drops the buffer
// instead of firing.
package actorset
