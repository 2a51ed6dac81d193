package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/netpulse/netpulse/pkg/errdefs"
	"github.com/netpulse/netpulse/pkg/log"
	"github.com/netpulse/netpulse/pkg/store"
	"github.com/netpulse/netpulse/pkg/types"
)

// JobEvent is the lifecycle notification published on the job events
// channel after every transition.
type JobEvent struct {
	JobID     string          `json:"job_id"`
	Queue     string          `json:"queue"`
	Status    types.JobStatus `json:"status"`
	Worker    string          `json:"worker,omitempty"`
	ErrorType string          `json:"error_type,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Fetch loads one job record.
func Fetch(ctx context.Context, st store.Store, id string) (*types.Job, error) {
	data, err := st.Get(ctx, store.JobKey(id))
	if errors.Is(err, store.ErrNil) {
		return nil, errdefs.NotFoundf("job %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job %s: %w", id, err)
	}
	var job types.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &job, nil
}

// FetchMany loads several jobs, silently skipping ids whose records have
// expired.
func FetchMany(ctx context.Context, st store.Store, ids []string) ([]*types.Job, error) {
	jobs := make([]*types.Job, 0, len(ids))
	for _, id := range ids {
		job, err := Fetch(ctx, st, id)
		if errdefs.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// ByStatus lists jobs currently registered under one status. Registry
// members whose records expired are pruned as a side effect.
func ByStatus(ctx context.Context, st store.Store, status types.JobStatus) ([]*types.Job, error) {
	ids, err := st.SMembers(ctx, store.StatusRegistry(string(status)))
	if err != nil {
		return nil, err
	}
	jobs := make([]*types.Job, 0, len(ids))
	for _, id := range ids {
		job, err := Fetch(ctx, st, id)
		if errdefs.IsNotFound(err) {
			if err := st.SRem(ctx, store.StatusRegistry(string(status)), id); err != nil {
				logger := log.WithComponent("queue")
				logger.Warn().Err(err).Str("job_id", id).
					Msg("failed to prune expired registry member")
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// MarkStarted transitions a popped job to started under the given worker.
func MarkStarted(ctx context.Context, st store.Store, job *types.Job, worker string) error {
	now := time.Now().UTC()
	job.Status = types.JobStatusStarted
	job.StartedAt = &now
	job.Worker = worker
	return transition(ctx, st, job, types.JobStatusQueued, 0)
}

// MarkFinished records a successful result and starts the result
// retention clock.
func MarkFinished(ctx context.Context, st store.Store, job *types.Job, result *types.JobResult) error {
	now := time.Now().UTC()
	from := job.Status
	job.Status = types.JobStatusFinished
	job.EndedAt = &now
	job.Result = result
	return transition(ctx, st, job, from, ttlOf(job.ResultTTL))
}

// MarkFailed records the error tuple and starts the failure retention
// clock. The previous status may be queued (TTL expiry) or started.
func MarkFailed(ctx context.Context, st store.Store, job *types.Job, errType, errMsg string) error {
	now := time.Now().UTC()
	from := job.Status
	job.Status = types.JobStatusFailed
	job.EndedAt = &now
	job.Meta.ErrorType = errType
	job.Meta.ErrorMessage = errMsg
	return transition(ctx, st, job, from, ttlOf(job.FailureTTL))
}

// Save rewrites the job record in place without a registry move. Used for
// meta updates from callbacks.
func Save(ctx context.Context, st store.Store, job *types.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}
	var ttl time.Duration
	if job.Status.Terminal() {
		if job.Status == types.JobStatusFinished {
			ttl = ttlOf(job.ResultTTL)
		} else {
			ttl = ttlOf(job.FailureTTL)
		}
	}
	return st.Set(ctx, store.JobKey(job.ID), data, ttl)
}

// transition persists the job and moves it between status registries in
// one pipeline. Terminal statuses are monotonic: a job already terminal is
// left untouched.
func transition(ctx context.Context, st store.Store, job *types.Job, from types.JobStatus, ttl time.Duration) error {
	if from.Terminal() {
		return fmt.Errorf("%w: job %s already terminal (%s)", errdefs.ErrJobOperation, job.ID, from)
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}
	pipe := st.Pipeline()
	pipe.Set(store.JobKey(job.ID), data, ttl)
	if from != job.Status {
		pipe.SRem(store.StatusRegistry(string(from)), job.ID)
		pipe.SAdd(store.StatusRegistry(string(job.Status)), job.ID)
	}
	if err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to transition job %s to %s: %w", job.ID, job.Status, err)
	}
	publishEvent(ctx, st, job)
	return nil
}

// publishEvent is best effort: a lost notification never fails the
// transition that produced it.
func publishEvent(ctx context.Context, st store.Store, job *types.Job) {
	event := JobEvent{
		JobID:     job.ID,
		Queue:     job.Queue,
		Status:    job.Status,
		Worker:    job.Worker,
		ErrorType: job.Meta.ErrorType,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := st.Publish(ctx, store.ChannelJobEvents, data); err != nil {
		logger := log.WithJobID(job.ID)
		logger.Debug().Err(err).Msg("failed to publish job event")
	}
}
