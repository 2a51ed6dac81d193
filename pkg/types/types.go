package types

import (
	"strings"
	"time"
)

// QueueStrategy selects which queue family a job is dispatched to
type QueueStrategy string

const (
	// QueueStrategyPinned routes jobs through a per-host queue consumed by a
	// dedicated pinned worker, amortizing long-lived device sessions
	QueueStrategyPinned QueueStrategy = "pinned"

	// QueueStrategyFIFO routes jobs through the shared stateless queue
	QueueStrategyFIFO QueueStrategy = "fifo"
)

// FifoQueue is the name of the shared queue for stateless drivers
const FifoQueue = "FifoQ"

const (
	nodeQueuePrefix = "NodeQ_"
	hostQueuePrefix = "HostQ_"
)

// NodeQueue returns the control-plane queue name for a node
func NodeQueue(hostname string) string {
	return nodeQueuePrefix + hostname
}

// HostQueue returns the per-target-host queue name
func HostQueue(host string) string {
	return hostQueuePrefix + host
}

// HostFromQueue extracts the target host from a HostQ_* queue name
func HostFromQueue(queue string) (string, bool) {
	if strings.HasPrefix(queue, hostQueuePrefix) {
		return strings.TrimPrefix(queue, hostQueuePrefix), true
	}
	return "", false
}

// IsHostQueue reports whether the queue name belongs to the pinned family
func IsHostQueue(queue string) bool {
	return strings.HasPrefix(queue, hostQueuePrefix)
}

// NodeInfo is the capacity record for one node worker. Exactly one record
// exists per node hostname in the node_info_map hash.
type NodeInfo struct {
	Hostname string `json:"hostname"`
	Count    int    `json:"count"`    // currently pinned hosts
	Capacity int    `json:"capacity"` // maximum pinned hosts
	Queue    string `json:"queue"`    // inbound control-plane queue (NodeQ_<hostname>)
}

// Remaining returns the number of additional hosts the node can pin
func (n NodeInfo) Remaining() int {
	r := n.Capacity - n.Count
	if r < 0 {
		return 0
	}
	return r
}

// Full reports whether the node has no remaining pinned-host capacity
func (n NodeInfo) Full() bool {
	return n.Count >= n.Capacity
}

// WorkerState represents what a worker is currently doing
type WorkerState string

const (
	WorkerStateIdle WorkerState = "idle"
	WorkerStateBusy WorkerState = "busy"
)

// WorkerInfo is the registry record a worker maintains in the store.
// DeathDate is set on clean exit; a missing DeathDate with a stale
// LastHeartbeat means the worker died uncleanly.
type WorkerInfo struct {
	Name          string      `json:"name"`
	State         WorkerState `json:"state"`
	Queues        []string    `json:"queues"`
	Birth         time.Time   `json:"birth"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
	DeathDate     *time.Time  `json:"death_date,omitempty"`
	PID           int         `json:"pid"`
	JobsDone      int64       `json:"jobs_done"`
	JobsFailed    int64       `json:"jobs_failed"`
}

// ConsumesQueue reports whether the worker listens on the given queue
func (w WorkerInfo) ConsumesQueue(queue string) bool {
	for _, q := range w.Queues {
		if q == queue {
			return true
		}
	}
	return false
}

// JobStatus is the lifecycle state of a job. Terminal states are sticky.
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusStarted  JobStatus = "started"
	JobStatusFinished JobStatus = "finished"
	JobStatusFailed   JobStatus = "failed"
	JobStatusCanceled JobStatus = "canceled"
)

// Terminal reports whether the status is final
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusFinished, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// JobStatuses lists every status in lifecycle order
func JobStatuses() []JobStatus {
	return []JobStatus{
		JobStatusQueued,
		JobStatusStarted,
		JobStatusFinished,
		JobStatusFailed,
		JobStatusCanceled,
	}
}

// Task function names resolved by workers through the process-local task
// registry. Jobs carry the name, never the function itself.
const (
	TaskExecute    = "execute"
	TaskSpawn      = "spawn"
	TaskUnbindHost = "unbind_host"
)

// Callback references a worker-side function by name. Resolution happens at
// execute time against a static registry; unresolved names fail the callback
// without crashing the worker.
type Callback struct {
	Name    string `json:"name"`
	Timeout int    `json:"timeout,omitempty"` // seconds
}

// JobMeta carries auxiliary job state mutated by callbacks
type JobMeta struct {
	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	TaskID       string `json:"task_id,omitempty"`
}

// JobResult is the persisted return value of a finished execute job
type JobResult struct {
	Retval map[string]DriverExecutionResult `json:"retval,omitempty"`
	Error  string                           `json:"error,omitempty"`
}

// Job is one submitted work unit. Jobs are created by the dispatcher on
// enqueue and transitioned by the worker that pops them.
type Job struct {
	ID         string            `json:"id"`
	Queue      string            `json:"queue"`
	Func       string            `json:"func"`
	Status     JobStatus         `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	EndedAt    *time.Time        `json:"ended_at,omitempty"`
	Worker     string            `json:"worker,omitempty"`
	Request    *ExecutionRequest `json:"request,omitempty"`
	Args       map[string]string `json:"args,omitempty"`
	Meta       JobMeta           `json:"meta"`
	Result     *JobResult        `json:"result,omitempty"`

	// TTL bounds how long the job may sit queued before it expires.
	// Timeout caps the execution phase wall clock. ResultTTL and
	// FailureTTL bound retention of the terminal record in the store.
	// All values are in seconds.
	TTL        int `json:"ttl"`
	Timeout    int `json:"timeout"`
	ResultTTL  int `json:"result_ttl"`
	FailureTTL int `json:"failure_ttl"`

	OnSuccess *Callback `json:"on_success,omitempty"`
	OnFailure *Callback `json:"on_failure,omitempty"`
}

// Expired reports whether a still-queued job has outlived its TTL
func (j *Job) Expired(now time.Time) bool {
	if j.Status != JobStatusQueued || j.TTL <= 0 {
		return false
	}
	return now.After(j.EnqueuedAt.Add(time.Duration(j.TTL) * time.Second))
}

// Host returns the target host of the job's execution request, if any
func (j *Job) Host() string {
	if j.Request != nil {
		return j.Request.ConnectionArgs.Host()
	}
	if j.Args != nil {
		return j.Args["host"]
	}
	return ""
}

// DriverExecutionResult is the per-command (or per-config-set) outcome of a
// driver call. ExitStatus zero means success; driver exceptions are folded
// into Error with ExitStatus one so partial results survive for the caller.
type DriverExecutionResult struct {
	Output     any            `json:"output"`
	Error      string         `json:"error,omitempty"`
	ExitStatus int            `json:"exit_status"`
	Telemetry  map[string]any `json:"telemetry,omitempty"`
	Parsed     any            `json:"parsed,omitempty"`
}

// Telemetry keys populated by the execute pipeline and pinned workers
const (
	TelemetryDuration      = "duration_seconds"
	TelemetryHost          = "host"
	TelemetrySessionReused = "session_reused"
)

// DeviceTestInfo is the metadata returned by a driver's connection probe
type DeviceTestInfo struct {
	Driver    string  `json:"driver"`
	Host      string  `json:"host"`
	Transport string  `json:"transport"`
	Prompt    string  `json:"prompt,omitempty"`
	Duration  float64 `json:"duration_seconds"`
}

// BatchFailedItem records a device that could not be enqueued during a bulk
// dispatch, together with the reason.
type BatchFailedItem struct {
	Host   string `json:"host"`
	Reason string `json:"reason"`
}

// WebhookBasicAuth holds credentials for webhook delivery
type WebhookBasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// WebhookSpec describes the outbound HTTP callback fired after a job
// reaches a terminal state.
type WebhookSpec struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"` // default POST
	Headers map[string]string `json:"headers,omitempty"`
	Timeout int               `json:"timeout,omitempty"` // seconds, default 5
	Auth    *WebhookBasicAuth `json:"auth,omitempty"`

	// StagedFiles lists temporary paths the request staged (for example a
	// rendered script written to disk); the webhook callback removes them
	// after delivery.
	StagedFiles []string `json:"staged_files,omitempty"`
}

// RenderingSpec names a renderer plugin and carries its template source and
// context. When the job payload is a dict, it is merged into Context and
// Template is used as the source; otherwise the payload itself is the
// inline template source.
type RenderingSpec struct {
	Name     string         `json:"name"`
	Template string         `json:"template,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
}

// ParsingSpec names a parser plugin and carries its template source
type ParsingSpec struct {
	Name     string `json:"name"`
	Template string `json:"template,omitempty"`
}
