package api

import (
	"time"

	"github.com/netpulse/netpulse/pkg/types"
)

// JobInResponse is the job view returned by the API. It mirrors the
// stored record minus the raw request and the internal lifetime fields.
type JobInResponse struct {
	JobID     string           `json:"job_id"`
	Queue     string           `json:"queue"`
	Status    types.JobStatus  `json:"status"`
	Driver    string           `json:"driver,omitempty"`
	Host      string           `json:"host,omitempty"`
	Worker    string           `json:"worker,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	StartedAt *time.Time       `json:"started_at,omitempty"`
	EndedAt   *time.Time       `json:"ended_at,omitempty"`
	Result    *types.JobResult `json:"result,omitempty"`
	Error     *JobError        `json:"error,omitempty"`
}

// JobError is the normalized error tuple of a failed job.
type JobError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func jobToResponse(job *types.Job) JobInResponse {
	resp := JobInResponse{
		JobID:     job.ID,
		Queue:     job.Queue,
		Status:    job.Status,
		Host:      job.Host(),
		Worker:    job.Worker,
		CreatedAt: job.CreatedAt,
		StartedAt: job.StartedAt,
		EndedAt:   job.EndedAt,
		Result:    job.Result,
	}
	if job.Request != nil {
		resp.Driver = job.Request.Driver
	}
	if job.Meta.ErrorType != "" {
		resp.Error = &JobError{Type: job.Meta.ErrorType, Message: job.Meta.ErrorMessage}
	}
	return resp
}

func jobsToResponse(jobs []*types.Job) []JobInResponse {
	out := make([]JobInResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, jobToResponse(job))
	}
	return out
}

// WorkerInResponse is the worker registry view returned by the API.
type WorkerInResponse struct {
	Name          string     `json:"name"`
	Queues        []string   `json:"queues"`
	Birth         time.Time  `json:"birth"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
	DeathDate     *time.Time `json:"death_date,omitempty"`
	PID           int        `json:"pid"`
	JobsDone      int64      `json:"jobs_done"`
	JobsFailed    int64      `json:"jobs_failed"`
}

func workersToResponse(workers []*types.WorkerInfo) []WorkerInResponse {
	out := make([]WorkerInResponse, 0, len(workers))
	for _, w := range workers {
		out = append(out, WorkerInResponse{
			Name:          w.Name,
			Queues:        w.Queues,
			Birth:         w.Birth,
			LastHeartbeat: w.LastHeartbeat,
			DeathDate:     w.DeathDate,
			PID:           w.PID,
			JobsDone:      w.JobsDone,
			JobsFailed:    w.JobsFailed,
		})
	}
	return out
}

// BulkResponse partitions a batch dispatch into committed jobs and
// rejected devices.
type BulkResponse struct {
	Succeeded []JobInResponse         `json:"succeeded"`
	Failed    []types.BatchFailedItem `json:"failed"`
}

// TemplateRenderRequest feeds a renderer plugin directly.
type TemplateRenderRequest struct {
	Source  string         `json:"source"`
	Context map[string]any `json:"context,omitempty"`
}

// TemplateParseRequest feeds a parser plugin directly.
type TemplateParseRequest struct {
	Template string `json:"template,omitempty"`
	Output   string `json:"output"`
}
