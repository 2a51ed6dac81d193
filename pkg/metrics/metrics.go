package metrics

import (
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job metrics
	JobsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netpulse_jobs_total",
			Help: "Jobs currently indexed in each lifecycle registry",
		},
		[]string{"status"},
	)

	JobTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netpulse_job_transitions_total",
			Help: "Job lifecycle transitions observed on the events channel",
		},
		[]string{"status"},
	)

	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netpulse_dispatch_duration_seconds",
			Help:    "Time from dispatch call until the job is committed to its queue",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	// Worker and node metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netpulse_workers_total",
			Help: "Registered workers by liveness",
		},
		[]string{"state"},
	)

	NodesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "netpulse_nodes_total",
			Help: "Node runners currently registered",
		},
	)

	NodePinnedWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netpulse_node_pinned_workers",
			Help: "Pinned workers currently running per node",
		},
		[]string{"node"},
	)

	NodePinnedCapacity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netpulse_node_pinned_capacity",
			Help: "Maximum pinned workers per node",
		},
		[]string{"node"},
	)

	PinnedBindingsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "netpulse_pinned_bindings_total",
			Help: "Host to node bindings currently held",
		},
	)

	// Delivery metrics
	DriverErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netpulse_driver_errors_total",
			Help: "Driver connect or call faults by driver name",
		},
		[]string{"driver"},
	)

	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netpulse_webhook_deliveries_total",
			Help: "Webhook delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netpulse_api_requests_total",
			Help: "API requests by method and response status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netpulse_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Reconciler metrics
	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "netpulse_sweep_duration_seconds",
			Help:    "Reconciler sweep cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SweepCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "netpulse_sweep_cycles_total",
			Help: "Reconciler sweep cycles completed",
		},
	)

	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netpulse_build_info",
			Help: "Build metadata; the value is always 1",
		},
		[]string{"version", "goversion"},
	)
)

func init() {
	prometheus.MustRegister(JobsByStatus)
	prometheus.MustRegister(JobTransitionsTotal)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(NodePinnedWorkers)
	prometheus.MustRegister(NodePinnedCapacity)
	prometheus.MustRegister(PinnedBindingsTotal)
	prometheus.MustRegister(DriverErrorsTotal)
	prometheus.MustRegister(WebhookDeliveriesTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(SweepDuration)
	prometheus.MustRegister(SweepCyclesTotal)
	prometheus.MustRegister(BuildInfo)
}

// SetVersion stamps the build info series. Call once at process start.
func SetVersion(version string) {
	BuildInfo.WithLabelValues(version, runtime.Version()).Set(1)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
