/*
Package scheduler selects nodes for pinned-host bindings.

Plugins share one contract: NodeSelect places a single host, and
BatchNodeSelect places many hosts while tracking the capacity each earlier
placement consumed. Every plugin refuses placement with WorkerUnavailable
when the pool's total spare capacity cannot cover the request, and a full
node is never selected.

# Plugins

	greedy                 first node with room, filled in list order
	least_load             deterministic (min count, max remaining, min hostname)
	least_load_random      least-load tier, ties broken randomly
	load_weighted_random   draw weighted by (remaining+1)^2

load_weighted_random seeds its single-host draw from a hash of the host,
so consecutive dispatches for one host land on the same node while the
pool is unchanged; batch draws share a time-seeded stream and update
remaining capacity in real time.

The dispatcher passes only alive nodes here; liveness and stale-node
recovery are its concern, not the plugins'.
*/
package scheduler
