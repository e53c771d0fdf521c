/*
Package builder turns a compiled program into an ActorSet. It is the
scheduler's Build and Link stage, and runs once per distinct program.

The construction is a multi-phase process:

 1. Actor Creation: one data source for the host-fed inputs of the root
    graphs, one for the queue-fed inputs, and one entry data source per
    branch graph; one kernel actor per kernel that is not skipped; one
    actor per switch and gather; the loop count actor and the output actor.

 2. Data Linking: every kernel input is resolved to its producer (a kernel
    output, a data source slot, a weight or constant in the device tensor
    store, or the value behind an internal parameter). Skipped kernels are
    resolved through to their own inputs. A copy actor is placed between a
    producer and a consumer on different devices or formats.

 3. Control Linking: explicit ordering (a kernel's After list), the chain
    through communication kernels in execution order, and branch arrows from
    every switch and gather to the entry data source of its branch graph.

 4. Validation: the actor graph must be acyclic and every kernel may only
    consume values of kernels earlier in its graph's execution order.

 5. Memory Assignment: every tensor gets a class and a block, blocks are
    assigned per device, and with reuse enabled, dynamic blocks that share
    bytes are ordered by extra control arrows so a later tensor is written
    only after every user of an earlier one is finished.

 6. Step Wiring: actors without inputs become start triggers (root graphs)
    or hang off their entry data source (branch graphs), and every tail
    actor reports to the loop count actor. Finally every actor's declared
    input counts are checked against the arrows that point at it.

Every failure is a *BuildError naming the node it concerns and wrapping one
of ErrUnresolvedProducer, ErrCycle, ErrControlFlow or ErrInvalidGraph.
*/
package builder
