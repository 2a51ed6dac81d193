package manager

import (
	"context"
	"sort"
	"strings"

	"github.com/netpulse/netpulse/pkg/errdefs"
	"github.com/netpulse/netpulse/pkg/queue"
	"github.com/netpulse/netpulse/pkg/store"
	"github.com/netpulse/netpulse/pkg/types"
	"github.com/netpulse/netpulse/pkg/worker"
)

// JobFilter narrows ListJobs. Zero fields match everything; ID wins over
// the rest.
type JobFilter struct {
	ID     string
	Queue  string
	Status string
	Node   string
	Host   string
}

// CancelFilter selects queued jobs to cancel: explicit ids, or every
// queued job matching the queue and/or host.
type CancelFilter struct {
	IDs   []string
	Queue string
	Host  string
}

// WorkerFilter narrows ListWorkers. Zero fields match everything.
type WorkerFilter struct {
	Queue string
	Node  string
	Host  string
}

// KillFilter targets shutdowns at one worker by name or every worker on
// a queue.
type KillFilter struct {
	Name  string
	Queue string
}

// GetJob fetches one job record.
func (m *Manager) GetJob(ctx context.Context, id string) (*types.Job, error) {
	return queue.Fetch(ctx, m.st, id)
}

// ListJobs returns the jobs matching the filter, oldest first. A lookup
// of an unknown id yields an empty list rather than an error.
func (m *Manager) ListJobs(ctx context.Context, f JobFilter) ([]*types.Job, error) {
	if f.ID != "" {
		job, err := queue.Fetch(ctx, m.st, f.ID)
		if err != nil {
			if errdefs.IsNotFound(err) {
				return []*types.Job{}, nil
			}
			return nil, err
		}
		return []*types.Job{job}, nil
	}

	statuses := types.JobStatuses()
	if f.Status != "" {
		status := types.JobStatus(f.Status)
		known := false
		for _, s := range statuses {
			if s == status {
				known = true
				break
			}
		}
		if !known {
			return nil, errdefs.Validationf("unknown job status %q", f.Status)
		}
		statuses = []types.JobStatus{status}
	}

	// The node filter matches jobs targeting hosts bound to that node,
	// plus the node's own control-queue jobs.
	var nodeHosts map[string]bool
	if f.Node != "" {
		bindings, err := m.st.HScan(ctx, store.KeyHostToNodeMap, "*")
		if err != nil {
			return nil, err
		}
		nodeHosts = make(map[string]bool)
		for host, owner := range bindings {
			if string(owner) == f.Node {
				nodeHosts[host] = true
			}
		}
	}

	var out []*types.Job
	for _, status := range statuses {
		jobs, err := queue.ByStatus(ctx, m.st, status)
		if err != nil {
			return nil, err
		}
		for _, job := range jobs {
			if f.Queue != "" && job.Queue != f.Queue {
				continue
			}
			if f.Host != "" && job.Host() != f.Host {
				continue
			}
			if nodeHosts != nil && !nodeHosts[job.Host()] && job.Queue != types.NodeQueue(f.Node) {
				continue
			}
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// CancelJobs cancels queued jobs and returns the ids it actually
// canceled. Jobs already past queued, or gone entirely, are skipped, so
// a repeated cancel returns an empty list.
func (m *Manager) CancelJobs(ctx context.Context, f CancelFilter) ([]string, error) {
	ids := f.IDs
	if len(ids) == 0 {
		if f.Queue == "" && f.Host == "" {
			return nil, errdefs.Validationf("cancel requires id, queue, or host")
		}
		jobs, err := m.ListJobs(ctx, JobFilter{
			Queue:  f.Queue,
			Host:   f.Host,
			Status: string(types.JobStatusQueued),
		})
		if err != nil {
			return nil, err
		}
		for _, job := range jobs {
			ids = append(ids, job.ID)
		}
	}

	canceled := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := queue.Cancel(ctx, m.st, id); err != nil {
			if errdefs.IsJobOperation(err) || errdefs.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		m.logger.Info().Str("job_id", id).Msg("job canceled")
		canceled = append(canceled, id)
	}
	return canceled, nil
}

// ListWorkers returns registered workers matching the filter, sorted by
// name. Records persist past death until their TTL sweeps them, so the
// list includes recently exited workers with their death date set.
func (m *Manager) ListWorkers(ctx context.Context, f WorkerFilter) ([]*types.WorkerInfo, error) {
	workers, err := worker.List(ctx, m.st)
	if err != nil {
		return nil, err
	}
	out := make([]*types.WorkerInfo, 0, len(workers))
	for _, w := range workers {
		if f.Queue != "" && !w.ConsumesQueue(f.Queue) {
			continue
		}
		if f.Host != "" && !w.ConsumesQueue(types.HostQueue(f.Host)) {
			continue
		}
		if f.Node != "" && !workerOnNode(w.Name, f.Node) {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

// KillWorkers publishes shutdown commands and returns the names of the
// workers addressed. Unknown names kill nothing and return empty.
func (m *Manager) KillWorkers(ctx context.Context, f KillFilter) ([]string, error) {
	switch {
	case f.Name != "":
		if _, err := worker.Fetch(ctx, m.st, f.Name); err != nil {
			if errdefs.IsNotFound(err) {
				return []string{}, nil
			}
			return nil, err
		}
		if err := worker.SendShutdown(ctx, m.st, f.Name); err != nil {
			return nil, err
		}
		m.logger.Info().Str("worker", f.Name).Msg("shutdown sent")
		return []string{f.Name}, nil

	case f.Queue != "":
		workers, err := m.ListWorkers(ctx, WorkerFilter{Queue: f.Queue})
		if err != nil {
			return nil, err
		}
		if err := worker.SendQueueShutdown(ctx, m.st, f.Queue); err != nil {
			return nil, err
		}
		names := make([]string, 0, len(workers))
		for _, w := range workers {
			if w.DeathDate == nil {
				names = append(names, w.Name)
			}
		}
		m.logger.Info().Str("queue", f.Queue).Int("workers", len(names)).Msg("queue shutdown sent")
		return names, nil

	default:
		return nil, errdefs.Validationf("kill requires name or queue")
	}
}

// workerOnNode reports whether a worker name belongs to the node: the
// node worker itself, or any <hostname>_<queue> variant it launched.
func workerOnNode(name, hostname string) bool {
	return name == hostname || strings.HasPrefix(name, hostname+"_")
}
