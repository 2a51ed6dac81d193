/*
Package store provides the shared state and queue backend for NetPulse.

Every piece of cluster state lives here: node capacity records, the
host-to-node binding map, worker registrations, job records with their
status registries, and the job queues themselves. The controller and all
workers coordinate exclusively through this package; no component talks to
another over a private channel.

# Architecture

	┌───────────────────── STATE STORE ─────────────────────────┐
	│                                                             │
	│  Hashes                                                     │
	│    host_to_node_map   device host -> node hostname          │
	│    node_info_map      node hostname -> NodeInfo JSON        │
	│    worker_info_map    worker name -> WorkerInfo JSON        │
	│                                                             │
	│  Keys                                                       │
	│    job:<id>           Job JSON, TTL-bound after terminal    │
	│                                                             │
	│  Sets                                                       │
	│    jobs:<status>      job ids per lifecycle status          │
	│                                                             │
	│  Lists (queues)                                             │
	│    FifoQ              shared queue for stateless drivers    │
	│    NodeQ_<hostname>   per-node control queue (spawn/unbind) │
	│    HostQ_<host>       per-device queue for pinned workers   │
	│                                                             │
	│  Pub/Sub                                                    │
	│    netpulse:shutdown  worker kill commands                  │
	│    netpulse:jobs      job lifecycle events                  │
	└─────────────────────────────────────────────────────────────┘

Two implementations exist:

  - RedisStore: production backend on go-redis, with optional TLS and
    sentinel-based discovery.
  - MemStore: in-process backend with the same visible semantics, used by
    tests and single-node development.

# Concurrency Contract

HSetNX is the only primitive the dispatcher relies on for mutual
exclusion: binding a host to a node must be atomic across concurrent
dispatchers. Pipelines batch the remaining writes of a dispatch decision
but are not used to win races.

BLPop is the worker-side consumption primitive. A zero timeout blocks
until the context is canceled; expiry returns ErrNil rather than an
empty value.

# Usage

	st, err := store.NewRedisStore(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer st.Close()

	ok, err := st.HSetNX(ctx, store.KeyHostToNodeMap, host, []byte(node))
	if err != nil {
		return err
	}
	if !ok {
		// lost the race, re-read the winner
	}
*/
package store
