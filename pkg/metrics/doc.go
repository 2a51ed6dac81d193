/*
Package metrics defines the Prometheus instrumentation for NetPulse.

All series are registered at init and share the netpulse_ prefix. Two
kinds of series exist: counters and histograms incremented inline where
the work happens (dispatch latency, driver faults, webhook deliveries,
API requests), and gauges derived from the state store by the
reconciler package's collector so they cover work done by other
processes too.

	inline observation                  store-derived gauges
	──────────────────                  ────────────────────
	dispatch_duration_seconds           jobs_total{status}
	driver_errors_total{driver}         workers_total{state}
	webhook_deliveries_total{outcome}   nodes_total
	api_request_duration_seconds        node_pinned_workers{node}
	job_transitions_total{status}       pinned_bindings_total

This package must stay a leaf: it imports nothing from the rest of the
tree, so the execution path itself can observe a series without an
import cycle.

Handler returns the scrape handler the API mounts at /metrics.
*/
package metrics
