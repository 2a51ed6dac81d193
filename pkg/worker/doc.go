// Package worker implements the job-consuming processes of the
// dispatcher: the FIFO worker draining the shared queue with a bounded
// pool, the node worker managing one machine's pinned capacity, and the
// pinned worker owning a single device's queue and cached session.
//
// All variants share one base loop: register in the store, heartbeat at
// a third of the TTL, block-pop the subscribed queues, and honor kill
// commands published on the shutdown channel. Liveness is judged from
// the store record alone so any process can decide whether a worker is
// still there.
package worker
