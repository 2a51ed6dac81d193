package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/netpulse/netpulse/pkg/errdefs"
	"github.com/netpulse/netpulse/pkg/log"
	"github.com/netpulse/netpulse/pkg/store"
	"github.com/netpulse/netpulse/pkg/types"
)

// Options carries per-job settings at enqueue time. Zero lifetimes fall
// back to the dispatcher's configured defaults before the job is built.
type Options struct {
	Func       string
	Request    *types.ExecutionRequest
	Args       map[string]string
	Timeout    int
	TTL        int
	ResultTTL  int
	FailureTTL int
	Meta       types.JobMeta
	OnSuccess  *types.Callback
	OnFailure  *types.Callback
}

// Queue is a named FIFO list of job ids. The job bodies live in their own
// keys; queues only carry references.
type Queue struct {
	Name  string
	store store.Store
}

func New(name string, st store.Store) *Queue {
	return &Queue{Name: name, store: st}
}

// NewJob builds a job record without committing it. Batch dispatch uses
// this to stage jobs for several queues and commit them in one pipeline.
func NewJob(queue string, opts Options) *types.Job {
	now := time.Now().UTC()
	return &types.Job{
		ID:         uuid.NewString(),
		Queue:      queue,
		Func:       opts.Func,
		Status:     types.JobStatusQueued,
		CreatedAt:  now,
		EnqueuedAt: now,
		Request:    opts.Request,
		Args:       opts.Args,
		Meta:       opts.Meta,
		TTL:        opts.TTL,
		Timeout:    opts.Timeout,
		ResultTTL:  opts.ResultTTL,
		FailureTTL: opts.FailureTTL,
		OnSuccess:  opts.OnSuccess,
		OnFailure:  opts.OnFailure,
	}
}

// Commit persists staged jobs and pushes their ids onto their queues in a
// single pipeline.
func Commit(ctx context.Context, st store.Store, jobs ...*types.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	pipe := st.Pipeline()
	for _, job := range jobs {
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
		}
		pipe.Set(store.JobKey(job.ID), data, 0)
		pipe.SAdd(store.StatusRegistry(string(types.JobStatusQueued)), job.ID)
		pipe.RPush(job.Queue, []byte(job.ID))
	}
	if err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to commit %d job(s): %w", len(jobs), err)
	}
	for _, job := range jobs {
		publishEvent(ctx, st, job)
	}
	return nil
}

// Enqueue builds and commits one job on this queue.
func (q *Queue) Enqueue(ctx context.Context, opts Options) (*types.Job, error) {
	job := NewJob(q.Name, opts)
	if err := Commit(ctx, q.store, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Length returns the number of ids waiting on the queue.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.store.LLen(ctx, q.Name)
}

// Pop takes the next live job off the queue without blocking. Stale ids
// (canceled or record gone) are skipped; jobs whose queued TTL lapsed are
// failed with a timeout and skipped. Returns store.ErrNil when drained.
func (q *Queue) Pop(ctx context.Context) (*types.Job, error) {
	for {
		data, err := q.store.LPop(ctx, q.Name)
		if err != nil {
			return nil, err
		}
		job, ok, err := liveJob(ctx, q.store, string(data))
		if err != nil {
			return nil, err
		}
		if ok {
			return job, nil
		}
	}
}

// BPop blocks across the given queues until a live job arrives, the
// timeout lapses (store.ErrNil), or ctx is canceled. Zero timeout blocks
// indefinitely.
func BPop(ctx context.Context, st store.Store, timeout time.Duration, queues ...string) (*types.Job, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := timeout
		if timeout > 0 {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return nil, store.ErrNil
			}
		}
		_, data, err := st.BLPop(ctx, remaining, queues...)
		if err != nil {
			return nil, err
		}
		job, ok, err := liveJob(ctx, st, string(data))
		if err != nil {
			return nil, err
		}
		if ok {
			return job, nil
		}
	}
}

// liveJob resolves a popped id to an executable job. Expired jobs are
// failed in place and reported as not live.
func liveJob(ctx context.Context, st store.Store, id string) (*types.Job, bool, error) {
	job, err := Fetch(ctx, st, id)
	if errdefs.IsNotFound(err) {
		return nil, false, nil // record expired or force-deleted
	}
	if err != nil {
		return nil, false, err
	}
	if job.Status != types.JobStatusQueued {
		return nil, false, nil // canceled while waiting
	}
	if job.Expired(time.Now().UTC()) {
		if err := MarkFailed(ctx, st, job, "TimeoutError",
			fmt.Sprintf("job sat queued longer than ttl (%ds)", job.TTL)); err != nil {
			logger := log.WithJobID(job.ID)
			logger.Warn().Err(err).Msg("failed to expire job")
		}
		return nil, false, nil
	}
	return job, true, nil
}

// Cancel removes a still-queued job. Started or terminal jobs cannot be
// canceled.
func Cancel(ctx context.Context, st store.Store, id string) error {
	job, err := Fetch(ctx, st, id)
	if err != nil {
		return err
	}
	if job.Status != types.JobStatusQueued {
		return fmt.Errorf("%w: job %s is %s, only queued jobs can be canceled",
			errdefs.ErrJobOperation, id, job.Status)
	}

	now := time.Now().UTC()
	job.Status = types.JobStatusCanceled
	job.EndedAt = &now
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}

	pipe := st.Pipeline()
	pipe.LRem(job.Queue, 1, []byte(job.ID))
	pipe.SRem(store.StatusRegistry(string(types.JobStatusQueued)), job.ID)
	pipe.SAdd(store.StatusRegistry(string(types.JobStatusCanceled)), job.ID)
	pipe.Set(store.JobKey(job.ID), data, ttlOf(job.FailureTTL))
	if err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", id, err)
	}
	publishEvent(ctx, st, job)
	return nil
}

func ttlOf(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
