/*
Package queue implements named job queues over the state store.

A queue is a Redis list of job ids; job bodies live in their own keys so
several queues and registries can reference the same record. Status
registries (jobs:queued, jobs:started, jobs:finished, jobs:failed,
jobs:canceled) index ids by lifecycle state for the controller's queries.

# Job Lifecycle

	Enqueue            Pop/BPop           MarkFinished
	   │                  │                    │
	   ▼                  ▼                    ▼
	queued ──────────▶ started ─────────▶ finished
	   │                  │
	   │ Cancel           │ MarkFailed
	   ▼                  ▼
	canceled           failed

Terminal statuses are monotonic. Queued jobs that outlive their TTL are
failed with a TimeoutError the moment a worker pops them; canceled ids
left in the list are skipped. Terminal records expire from the store
after their result/failure retention TTLs; registry members pointing at
expired records are pruned lazily by ByStatus.

Every transition publishes a JobEvent on the netpulse:jobs channel.
Events are best effort and never fail the transition.
*/
package queue
