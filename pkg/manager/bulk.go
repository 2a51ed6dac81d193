package manager

import (
	"context"
	"errors"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/netpulse/netpulse/pkg/callback"
	"github.com/netpulse/netpulse/pkg/driver"
	"github.com/netpulse/netpulse/pkg/errdefs"
	"github.com/netpulse/netpulse/pkg/metrics"
	"github.com/netpulse/netpulse/pkg/queue"
	"github.com/netpulse/netpulse/pkg/store"
	"github.com/netpulse/netpulse/pkg/types"
	"github.com/netpulse/netpulse/pkg/worker"
)

// bulkItem tracks one device through the batch pipeline. A device either
// ends with a committed job or a terminal reason, never both.
type bulkItem struct {
	req      *types.ExecutionRequest
	host     string
	strategy types.QueueStrategy
	job      *types.Job
	err      error
}

// ExecuteOnBulkDevices expands the batch template per device, validates
// each expanded request, and dispatches the valid ones together. Devices
// that fail validation or dispatch are reported in the failed slice; the
// two slices always partition the device list.
func (m *Manager) ExecuteOnBulkDevices(ctx context.Context, batch *types.BatchExecutionRequest) ([]*types.Job, []types.BatchFailedItem, error) {
	if batch == nil {
		return nil, nil, errdefs.Validationf("request body is required")
	}
	reqs, err := batch.Expand()
	if err != nil {
		return nil, nil, err
	}

	var (
		valid  []*types.ExecutionRequest
		failed []types.BatchFailedItem
	)
	for _, req := range reqs {
		if err := req.Validate(); err != nil {
			failed = append(failed, types.BatchFailedItem{Host: req.Host(), Reason: err.Error()})
			continue
		}
		if _, err := driver.New(req); err != nil {
			failed = append(failed, types.BatchFailedItem{Host: req.Host(), Reason: err.Error()})
			continue
		}
		valid = append(valid, req)
	}

	opts := Options{}
	if batch.Webhook != nil {
		opts.OnSuccess = &types.Callback{Name: callback.NameWebhook}
		opts.OnFailure = &types.Callback{Name: callback.NameWebhook}
	}

	succeeded, dispatchFailed, err := m.DispatchBulkRPCJobs(ctx, valid, opts)
	if err != nil {
		return nil, nil, err
	}
	return succeeded, append(failed, dispatchFailed...), nil
}

// DispatchBulkRPCJobs routes a batch of requests, establishing pinned
// workers for every target host first, then committing all queue pushes
// in a single pipeline. The returned slices partition the input.
func (m *Manager) DispatchBulkRPCJobs(ctx context.Context, reqs []*types.ExecutionRequest, opts Options) ([]*types.Job, []types.BatchFailedItem, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.DispatchDuration, "bulk")

	items := make([]*bulkItem, len(reqs))
	needFifo := false
	needPinned := false
	for i, req := range reqs {
		it := &bulkItem{req: req, host: req.Host()}
		items[i] = it
		strategy, err := m.resolveStrategy(req)
		if err != nil {
			it.err = err
			continue
		}
		if strategy == types.QueueStrategyPinned && it.host == "" {
			it.err = errdefs.Validationf("pinned dispatch requires connection_args.host")
			continue
		}
		it.strategy = strategy
		switch strategy {
		case types.QueueStrategyFIFO:
			needFifo = true
		case types.QueueStrategyPinned:
			needPinned = true
		}
	}

	if needFifo {
		alive, err := m.fifoAlive(ctx)
		if err != nil {
			return nil, nil, err
		}
		if !alive {
			unavailable := errdefs.WorkerUnavailablef("no live worker consuming %s", types.FifoQueue)
			for _, it := range items {
				if it.err == nil && it.strategy == types.QueueStrategyFIFO {
					it.err = unavailable
				}
			}
		}
	}

	if needPinned {
		if err := m.bindBatch(ctx, items); err != nil {
			return nil, nil, err
		}
	}

	var staged []*types.Job
	for _, it := range items {
		if it.err != nil {
			continue
		}
		qname := types.FifoQueue
		if it.strategy == types.QueueStrategyPinned {
			qname = types.HostQueue(it.host)
		}
		it.job = queue.NewJob(qname, m.jobOptions(it.req, opts))
		staged = append(staged, it.job)
	}
	if len(staged) > 0 {
		if err := queue.Commit(ctx, m.st, staged...); err != nil {
			m.logger.Error().Err(err).Int("jobs", len(staged)).Msg("bulk commit failed")
			for _, it := range items {
				if it.err == nil {
					it.err = err
					it.job = nil
				}
			}
		}
	}

	var (
		succeeded []*types.Job
		failed    []types.BatchFailedItem
	)
	for _, it := range items {
		if it.err != nil {
			failed = append(failed, types.BatchFailedItem{Host: it.host, Reason: it.err.Error()})
			continue
		}
		succeeded = append(succeeded, it.job)
	}
	m.logger.Info().Int("succeeded", len(succeeded)).Int("failed", len(failed)).
		Msg("bulk dispatch complete")
	return succeeded, failed, nil
}

// bindBatch assigns every pinned host a node and spawns its worker.
// Already-bound hosts keep their live owner; the rest go through one
// BatchNodeSelect so capacity is consumed consistently across the batch.
func (m *Manager) bindBatch(ctx context.Context, items []*bulkItem) error {
	live, err := m.liveNodes(ctx)
	if err != nil {
		return err
	}
	liveByName := make(map[string]bool, len(live))
	for _, n := range live {
		liveByName[n.Hostname] = true
	}

	bindings, err := m.st.HGetAll(ctx, store.KeyHostToNodeMap)
	if err != nil {
		return err
	}

	// Partition unique hosts into bound-to-a-live-node and unassigned.
	target := make(map[string]string)
	var unassigned []string
	pendingSelect := make(map[string]bool)
	for _, it := range items {
		if it.err != nil || it.strategy != types.QueueStrategyPinned {
			continue
		}
		if _, done := target[it.host]; done || pendingSelect[it.host] {
			continue
		}
		if owner, ok := bindings[it.host]; ok {
			if liveByName[string(owner)] {
				target[it.host] = string(owner)
				continue
			}
			m.purgeNode(ctx, string(owner))
		}
		pendingSelect[it.host] = true
		unassigned = append(unassigned, it.host)
	}

	var selectErr error
	if len(unassigned) > 0 {
		selected, err := m.sched.BatchNodeSelect(live, unassigned)
		if err != nil {
			selectErr = err
		} else {
			for i, host := range unassigned {
				target[host] = selected[i].Hostname
			}
		}
	}

	// Spawn per unique host with bounded fan-out; hosts in the same
	// group land on the same node and the node absorbs duplicates.
	hosts := make([]string, 0, len(target))
	for host := range target {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)

	bindErrs := make(map[string]error, len(hosts))
	errSlots := make([]error, len(hosts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Server.Workers)
	for i, host := range hosts {
		i, host := i, host
		g.Go(func() error {
			errSlots[i] = m.bindForBulk(gctx, target[host], host)
			return nil
		})
	}
	_ = g.Wait()
	for i, host := range hosts {
		bindErrs[host] = errSlots[i]
	}

	for _, it := range items {
		if it.err != nil || it.strategy != types.QueueStrategyPinned {
			continue
		}
		if _, ok := target[it.host]; !ok {
			it.err = errdefs.WorkerUnavailablef(
				"no available node to run the job for %s: %v", it.host, selectErr)
			continue
		}
		if err := bindErrs[it.host]; err != nil {
			it.err = err
		}
	}
	return nil
}

// bindForBulk spawns on the batch-preselected node, falling back to the
// full single-host bind loop when the preselection raced.
func (m *Manager) bindForBulk(ctx context.Context, hostname, host string) error {
	node, err := worker.FetchNodeInfo(ctx, m.st, hostname)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return m.ensureHostWorker(ctx, host)
		}
		return err
	}
	err = m.ensureSpawned(ctx, node, host)
	switch {
	case err == nil:
		return nil
	case errdefs.IsHostAlreadyPinned(err):
		return nil
	case errdefs.IsNodePreempted(err), errors.Is(err, errSpawnUnconfirmed):
		return m.ensureHostWorker(ctx, host)
	default:
		return err
	}
}
