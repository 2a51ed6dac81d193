// Package manager implements the dispatcher behind the REST surface.
//
// Dispatch is strategy-driven: stateless drivers share the FIFO queue,
// session-oriented drivers get a per-host queue consumed by a pinned
// worker on exactly one node. The manager owns the binding lifecycle
// (none, assigned, pinned): it consults the scheduler, asks the chosen
// node to spawn the worker, and confirms the outcome through the spawn
// job's record. Claim races between dispatchers resolve through the
// store's set-if-absent semantics; losing just means using the winner's
// binding. Nodes observed without a live worker are purged on sight so
// no job is ever routed at a corpse.
package manager
