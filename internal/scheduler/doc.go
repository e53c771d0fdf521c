// Package scheduler drives compiled programs through the actor runtime.
//
// A Scheduler owns one actor system and a cache of ActorSets keyed by
// program name. Transform builds and links a program once; every later
// Transform or Fetch of the same name returns the cached set, so a training
// loop calls Run on it over and over without rebuilding anything.
//
// # Run
//
// Run prepares the set (persists weights and constants, feeds the host
// inputs), starts the trigger actors and blocks until the run is quiet: every
// message it caused has been handled. In pipeline mode the loop count actor
// restarts the triggers until the configured number of steps is done; in
// step mode one step is performed. A kernel failure fails the whole run, and
// the error names the kernel that failed first.
//
// Cancelling the context of Run fails the run: kernels see the cancellation
// through their launch context and queued messages are dropped. Run still
// returns only after the last actor of the run is done, so the set can be
// destroyed right away.
//
// Runs of one ActorSet are serialized. Runs of different sets may overlap.
package scheduler
