package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/netpulse/netpulse/pkg/callback"
	"github.com/netpulse/netpulse/pkg/config"
	"github.com/netpulse/netpulse/pkg/driver"
	"github.com/netpulse/netpulse/pkg/errdefs"
	"github.com/netpulse/netpulse/pkg/log"
	"github.com/netpulse/netpulse/pkg/metrics"
	"github.com/netpulse/netpulse/pkg/queue"
	"github.com/netpulse/netpulse/pkg/scheduler"
	"github.com/netpulse/netpulse/pkg/store"
	"github.com/netpulse/netpulse/pkg/types"
	"github.com/netpulse/netpulse/pkg/worker"
)

const (
	// bindRetries is how many times a failed pinned-bind attempt is
	// reselected before the dispatch aborts. Three attempts total.
	bindRetries = 2

	// spawnRecordTTL bounds retention of spawn control-job records.
	spawnRecordTTL = 120
)

// errSpawnUnconfirmed marks a spawn task the target node never reached a
// terminal state for within the confirmation window. The node is treated
// as dead and the bind loop reselects.
var errSpawnUnconfirmed = fmt.Errorf("%w: spawn not confirmed", errdefs.ErrWorkerUnavailable)

// Manager is the dispatcher: it decides which queue a job belongs on,
// binds hosts to nodes for pinned work, and answers the query and cancel
// operations behind the REST surface. Managers are stateless; any number
// of them can run against the same store.
type Manager struct {
	st     store.Store
	sched  scheduler.Scheduler
	cfg    *config.Config
	logger zerolog.Logger

	// spawnWait bounds how long a dispatch waits for a node to confirm a
	// spawn task before writing the node off.
	spawnWait time.Duration
}

// Options carries per-dispatch settings layered over the request.
type Options struct {
	// Func is the task the worker runs; empty means execute.
	Func string

	// TTL overrides the queued lifetime in seconds. Zero falls back to
	// the request TTL, then the configured default.
	TTL int

	OnSuccess *types.Callback
	OnFailure *types.Callback
}

// New builds a dispatcher using the configured scheduler plugin.
func New(cfg *config.Config, st store.Store) (*Manager, error) {
	sched, err := scheduler.New(cfg.Worker.Scheduler)
	if err != nil {
		return nil, err
	}
	return &Manager{
		st:        st,
		sched:     sched,
		cfg:       cfg,
		logger:    log.WithComponent("manager"),
		spawnWait: 30 * time.Second,
	}, nil
}

// ExecuteOnDevice validates and dispatches a single execute job, wiring
// the webhook callback when the request asks for one.
func (m *Manager) ExecuteOnDevice(ctx context.Context, req *types.ExecutionRequest) (*types.Job, error) {
	if req == nil {
		return nil, errdefs.Validationf("request body is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	// Constructing the driver decodes and checks the connection args, so
	// bad requests surface here instead of inside a queued job.
	if _, err := driver.New(req); err != nil {
		return nil, err
	}

	opts := Options{TTL: req.TTL}
	if req.Webhook != nil {
		opts.OnSuccess = &types.Callback{Name: callback.NameWebhook}
		opts.OnFailure = &types.Callback{Name: callback.NameWebhook}
	}
	return m.DispatchRPCJob(ctx, req, opts)
}

// DispatchRPCJob routes one job to the FIFO queue or the target host's
// pinned queue, establishing the host's worker first when needed.
func (m *Manager) DispatchRPCJob(ctx context.Context, req *types.ExecutionRequest, opts Options) (*types.Job, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.DispatchDuration, "single")

	strategy, err := m.resolveStrategy(req)
	if err != nil {
		return nil, err
	}

	var qname string
	switch strategy {
	case types.QueueStrategyFIFO:
		alive, err := m.fifoAlive(ctx)
		if err != nil {
			return nil, err
		}
		if !alive {
			return nil, errdefs.WorkerUnavailablef("no live worker consuming %s", types.FifoQueue)
		}
		qname = types.FifoQueue

	case types.QueueStrategyPinned:
		host := req.Host()
		if host == "" {
			return nil, errdefs.Validationf("pinned dispatch requires connection_args.host")
		}
		if err := m.ensureHostWorker(ctx, host); err != nil {
			return nil, err
		}
		qname = types.HostQueue(host)

	default:
		return nil, errdefs.Validationf("unknown queue strategy %q", strategy)
	}

	job, err := queue.New(qname, m.st).Enqueue(ctx, m.jobOptions(req, opts))
	if err != nil {
		return nil, err
	}
	m.logger.Info().
		Str("job_id", job.ID).
		Str("queue", qname).
		Str("driver", req.Driver).
		Str("host", req.Host()).
		Msg("job dispatched")
	return job, nil
}

// TestConnection probes the device synchronously through the driver,
// bypassing the queues entirely.
func (m *Manager) TestConnection(ctx context.Context, req *types.ExecutionRequest) (*types.DeviceTestInfo, error) {
	if req == nil || req.Driver == "" {
		return nil, errdefs.Validationf("driver is required")
	}
	if req.Host() == "" {
		return nil, errdefs.Validationf("connection_args must include host or hostname")
	}
	drv, err := driver.New(req)
	if err != nil {
		return nil, err
	}
	return drv.Test(ctx)
}

// Health reports whether the store is reachable.
func (m *Manager) Health(ctx context.Context) error {
	return m.st.Ping(ctx)
}

// resolveStrategy applies the request override, falling back to the
// driver's default (session-oriented drivers pin, stateless ones queue).
func (m *Manager) resolveStrategy(req *types.ExecutionRequest) (types.QueueStrategy, error) {
	if req.QueueStrategy != "" {
		return req.QueueStrategy, nil
	}
	return driver.DefaultStrategy(req.Driver)
}

// jobOptions folds the request and dispatch options over the configured
// default lifetimes.
func (m *Manager) jobOptions(req *types.ExecutionRequest, opts Options) queue.Options {
	ttl := opts.TTL
	if ttl == 0 {
		ttl = req.TTL
	}
	if ttl == 0 {
		ttl = m.cfg.Job.TTL
	}
	fn := opts.Func
	if fn == "" {
		fn = types.TaskExecute
	}
	return queue.Options{
		Func:       fn,
		Request:    req,
		TTL:        ttl,
		Timeout:    m.cfg.Job.Timeout,
		ResultTTL:  m.cfg.Job.ResultTTL,
		FailureTTL: m.cfg.Job.FailureTTL,
		OnSuccess:  opts.OnSuccess,
		OnFailure:  opts.OnFailure,
	}
}

func (m *Manager) jobTimeout() time.Duration {
	return time.Duration(m.cfg.Job.Timeout) * time.Second
}

func (m *Manager) fifoAlive(ctx context.Context) (bool, error) {
	return worker.AliveOnQueue(ctx, m.st, types.FifoQueue, m.jobTimeout(), m.cfg.Worker.TTLDuration())
}

// ensureHostWorker guarantees a pinned worker is (or is being) set up
// for the host before its job is enqueued. Claim races resolve in the
// winner's favor; preempted or unconfirmed attempts reselect with
// capped exponential backoff.
func (m *Manager) ensureHostWorker(ctx context.Context, host string) error {
	attempt := 0
	op := func() error {
		attempt++
		err := m.bindAttempt(ctx, host)
		switch {
		case err == nil:
			return nil
		case errdefs.IsHostAlreadyPinned(err):
			// Another dispatcher claimed the host first; its binding
			// serves this job just as well.
			m.logger.Debug().Str("host", host).Msg("host already pinned, using existing binding")
			return nil
		case errdefs.IsNodePreempted(err), errors.Is(err, errSpawnUnconfirmed):
			m.logger.Warn().Err(err).Str("host", host).Int("attempt", attempt).
				Msg("pinned bind attempt failed, reselecting")
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, bindRetries), ctx))
	if err != nil && (errdefs.IsNodePreempted(err) || errors.Is(err, errSpawnUnconfirmed)) {
		return fmt.Errorf("%w: no available node to run the job for %s after %d attempts: %v",
			errdefs.ErrWorkerUnavailable, host, attempt, err)
	}
	return err
}

// bindAttempt is one pass of the pinned lifecycle: resolve the owning
// node, then make sure a worker consumes the host queue.
func (m *Manager) bindAttempt(ctx context.Context, host string) error {
	node, err := m.resolveNode(ctx, host)
	if err != nil {
		return err
	}
	return m.ensureSpawned(ctx, node, host)
}

// resolveNode returns a live node responsible for the host: the bound
// owner when it is still alive, otherwise a fresh pick from the
// scheduler. Dead owners are purged on sight.
func (m *Manager) resolveNode(ctx context.Context, host string) (*types.NodeInfo, error) {
	raw, err := m.st.HGet(ctx, store.KeyHostToNodeMap, host)
	switch {
	case err == nil:
		hostname := string(raw)
		node, ferr := worker.FetchNodeInfo(ctx, m.st, hostname)
		if ferr == nil {
			alive, aerr := m.nodeAlive(ctx, node)
			if aerr != nil {
				return nil, aerr
			}
			if alive {
				return node, nil
			}
		} else if !errdefs.IsNotFound(ferr) {
			return nil, ferr
		}
		m.purgeNode(ctx, hostname)
	case !errors.Is(err, store.ErrNil):
		return nil, err
	}

	live, err := m.liveNodes(ctx)
	if err != nil {
		return nil, err
	}
	selected, err := m.sched.NodeSelect(live, host)
	if err != nil {
		if errdefs.IsWorkerUnavailable(err) {
			return nil, fmt.Errorf("no available node to run the job for %s: %w", host, err)
		}
		return nil, err
	}
	return &selected, nil
}

// liveNodes snapshots every node whose control queue has a live worker.
// Nodes observed dead are purged so nothing schedules onto them again.
func (m *Manager) liveNodes(ctx context.Context) ([]types.NodeInfo, error) {
	nodes, err := worker.ListNodeInfos(ctx, m.st)
	if err != nil {
		return nil, err
	}
	live := make([]types.NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		alive, err := m.nodeAlive(ctx, &n)
		if err != nil {
			return nil, err
		}
		if !alive {
			m.purgeNode(ctx, n.Hostname)
			continue
		}
		live = append(live, n)
	}
	return live, nil
}

// SweepDeadNodes force-deletes the state of every node whose control
// queue no longer has a live worker behind it and returns the hostnames
// purged. Dispatches already purge dead nodes they happen to look at;
// the reconciler drives this to cover nodes no dispatch has touched
// since they died.
func (m *Manager) SweepDeadNodes(ctx context.Context) ([]string, error) {
	nodes, err := worker.ListNodeInfos(ctx, m.st)
	if err != nil {
		return nil, err
	}
	var purged []string
	for _, n := range nodes {
		alive, err := m.nodeAlive(ctx, &n)
		if err != nil {
			return purged, err
		}
		if alive {
			continue
		}
		m.purgeNode(ctx, n.Hostname)
		purged = append(purged, n.Hostname)
	}
	return purged, nil
}

func (m *Manager) nodeAlive(ctx context.Context, node *types.NodeInfo) (bool, error) {
	return worker.AliveOnQueue(ctx, m.st, node.Queue, m.jobTimeout(), m.cfg.Worker.TTLDuration())
}

// purgeNode force-deletes a dead node's footprint: every binding whose
// value is the node's hostname, its capacity record, and a shutdown to
// any worker still consuming the orphaned host queues.
func (m *Manager) purgeNode(ctx context.Context, hostname string) {
	bindings, err := m.st.HScan(ctx, store.KeyHostToNodeMap, "*")
	if err != nil {
		m.logger.Warn().Err(err).Str("node", hostname).Msg("failed to scan bindings during purge")
		return
	}

	pipe := m.st.Pipeline()
	var hosts []string
	for host, owner := range bindings {
		if string(owner) == hostname {
			pipe.HDel(store.KeyHostToNodeMap, host)
			hosts = append(hosts, host)
		}
	}
	pipe.HDel(store.KeyNodeInfoMap, hostname)
	if err := pipe.Exec(ctx); err != nil {
		m.logger.Warn().Err(err).Str("node", hostname).Msg("failed to purge dead node state")
		return
	}

	for _, host := range hosts {
		if err := worker.SendQueueShutdown(ctx, m.st, types.HostQueue(host)); err != nil {
			m.logger.Warn().Err(err).Str("host", host).Msg("failed to shut down orphaned host queue")
		}
	}
	m.logger.Info().Str("node", hostname).Int("bindings", len(hosts)).
		Msg("purged dead node")
}

// ensureSpawned makes sure the host queue has a live consumer, asking
// the node to spawn one and waiting for the control job's verdict when
// it does not.
func (m *Manager) ensureSpawned(ctx context.Context, node *types.NodeInfo, host string) error {
	qname := types.HostQueue(host)
	alive, err := worker.AliveOnQueue(ctx, m.st, qname, m.jobTimeout(), m.cfg.Worker.TTLDuration())
	if err != nil {
		return err
	}
	if alive {
		return nil
	}

	spawn, err := queue.New(node.Queue, m.st).Enqueue(ctx, queue.Options{
		Func:       types.TaskSpawn,
		Args:       map[string]string{"queue": qname, "host": host},
		TTL:        m.cfg.Job.TTL,
		Timeout:    m.cfg.Job.Timeout,
		ResultTTL:  spawnRecordTTL,
		FailureTTL: spawnRecordTTL,
	})
	if err != nil {
		return err
	}
	m.logger.Debug().Str("host", host).Str("node", node.Hostname).Str("job_id", spawn.ID).
		Msg("spawn requested")
	return m.awaitSpawn(ctx, node.Hostname, spawn.ID)
}

// awaitSpawn polls the spawn job until it is terminal. A node that never
// runs its control job within the window is purged and reported as
// unconfirmed so the bind loop can reselect.
func (m *Manager) awaitSpawn(ctx context.Context, hostname, id string) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = m.spawnWait

	var spawned *types.Job
	op := func() error {
		job, err := queue.Fetch(ctx, m.st, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !job.Status.Terminal() {
			return fmt.Errorf("spawn %s still %s", id, job.Status)
		}
		spawned = job
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if spawned == nil {
			m.purgeNode(ctx, hostname)
			return fmt.Errorf("%w by node %s within %s: %v", errSpawnUnconfirmed, hostname, m.spawnWait, err)
		}
		return err
	}

	switch spawned.Status {
	case types.JobStatusFinished:
		return nil
	case types.JobStatusFailed:
		return spawnFailure(spawned)
	default:
		return errdefs.WorkerUnavailablef("spawn %s was canceled before node %s ran it", id, hostname)
	}
}

// spawnFailure rehydrates the typed error a node recorded on a failed
// spawn so the bind loop can classify it.
func spawnFailure(job *types.Job) error {
	switch job.Meta.ErrorType {
	case "NodePreempted":
		return fmt.Errorf("%w: %s", errdefs.ErrNodePreempted, job.Meta.ErrorMessage)
	case "HostAlreadyPinned":
		return fmt.Errorf("%w: %s", errdefs.ErrHostAlreadyPinned, job.Meta.ErrorMessage)
	default:
		return errdefs.WorkerUnavailablef("spawn %s failed: %s", job.ID, job.Meta.ErrorMessage)
	}
}
