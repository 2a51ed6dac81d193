/*
Package reconciler runs the controller's background maintenance loops.

Two loops share the package. The Reconciler sweeps stale state out of
the store on a slow cadence: node state left behind by crashed node
runners, worker records dead past their retention window, and queued
jobs that expired on a queue nothing consumes. The Collector refreshes
the store-derived Prometheus gauges on a faster cadence so scrapes
reflect the whole cluster, not just this process.

Dispatches already purge dead nodes they encounter, so the sweeps exist
for state no request path has looked at. Every cycle is idempotent and
safe to run concurrently with dispatches and with other controller
replicas; all deletions re-check liveness against the store at sweep
time.
*/
package reconciler
