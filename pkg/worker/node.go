package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/netpulse/netpulse/pkg/config"
	"github.com/netpulse/netpulse/pkg/errdefs"
	"github.com/netpulse/netpulse/pkg/log"
	"github.com/netpulse/netpulse/pkg/queue"
	"github.com/netpulse/netpulse/pkg/store"
	"github.com/netpulse/netpulse/pkg/types"
)

// NodeWorker owns one node's pinned-host capacity. It listens on
// NodeQ_<hostname> for control-plane tasks from the dispatcher, runs a
// pinned worker goroutine per bound host, and keeps node_info_map and
// host_to_node_map consistent with what is actually running here.
type NodeWorker struct {
	cfg      *config.Config
	st       store.Store
	hostname string
	queue    string
	logger   zerolog.Logger

	base *base

	mu          sync.Mutex
	pinned      map[string]*PinnedWorker // host -> running worker
	terminating bool
	runCtx      context.Context

	// exited carries pinned-worker exit notifications, the in-process
	// equivalent of SIGCHLD. Buffered to capacity so an exiting worker
	// never blocks on a stopped watcher.
	exited chan string
	wg     sync.WaitGroup
}

func NewNodeWorker(cfg *config.Config, st store.Store) (*NodeWorker, error) {
	hostname, err := nodeHostname(cfg)
	if err != nil {
		return nil, err
	}
	qname := types.NodeQueue(hostname)
	n := &NodeWorker{
		cfg:      cfg,
		st:       st,
		hostname: hostname,
		queue:    qname,
		logger:   log.WithWorker(hostname),
		pinned:   make(map[string]*PinnedWorker),
		exited:   make(chan string, cfg.Worker.PinnedPerNode),
	}
	n.base = newBase(st, hostname, []string{qname}, cfg.Worker.TTLDuration(), n.handleTask)
	n.base.onStop = n.setTerminating
	return n, nil
}

// Hostname returns the node identity this worker registered under.
func (n *NodeWorker) Hostname() string { return n.hostname }

// Run acquires the node singleton lock, clears state a crashed prior run
// left behind, publishes a fresh capacity record, and serves the node
// queue until stopped. Teardown releases every binding this node owned.
func (n *NodeWorker) Run(ctx context.Context) error {
	lock, err := acquireLock(n.cfg.Worker.LockDir, NodeLockFile)
	if err != nil {
		return err
	}
	defer lock.release()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	n.mu.Lock()
	n.runCtx = runCtx
	n.mu.Unlock()

	if err := n.bootCleanup(runCtx); err != nil {
		return fmt.Errorf("failed to clean stale node state: %w", err)
	}
	if err := n.publishNodeInfo(runCtx); err != nil {
		return fmt.Errorf("failed to publish node info: %w", err)
	}
	n.logger.Info().Int("capacity", n.cfg.Worker.PinnedPerNode).Msg("node online")

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		n.watchPinnedExits(runCtx)
	}()

	err = n.base.run(runCtx)

	n.setTerminating()
	cancel()
	<-watchDone
	n.teardown()
	return err
}

// Stop asks the node and all of its pinned workers to wind down.
func (n *NodeWorker) Stop() { n.base.stop() }

func (n *NodeWorker) setTerminating() {
	n.mu.Lock()
	n.terminating = true
	n.mu.Unlock()
}

// bootCleanup removes state a previous run of this node left behind
// after a crash: host bindings pointing here and registry records of
// pinned workers that can no longer exist.
func (n *NodeWorker) bootCleanup(ctx context.Context) error {
	if stale, err := FetchNodeInfo(ctx, n.st, n.hostname); err == nil {
		n.logger.Warn().Int("count", stale.Count).Msg("found stale node state from a previous run")
	} else if !errdefs.IsNotFound(err) {
		return err
	}

	bindings, err := n.st.HScan(ctx, store.KeyHostToNodeMap, "*")
	if err != nil {
		return err
	}
	pipe := n.st.Pipeline()
	dirty := false
	for host, owner := range bindings {
		if string(owner) != n.hostname {
			continue
		}
		pipe.HDel(store.KeyHostToNodeMap, host)
		pipe.HDel(store.KeyWorkerInfoMap, Name(n.hostname, types.HostQueue(host)))
		dirty = true
		n.logger.Info().Str("host", host).Msg("releasing stale host binding")
	}
	if !dirty {
		return nil
	}
	return pipe.Exec(ctx)
}

// publishNodeInfo deletes and rewrites this node's capacity record in
// one pipeline, so a reader never sees the stale count next to the new
// queue name.
func (n *NodeWorker) publishNodeInfo(ctx context.Context) error {
	info := types.NodeInfo{
		Hostname: n.hostname,
		Count:    0,
		Capacity: n.cfg.Worker.PinnedPerNode,
		Queue:    n.queue,
	}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	pipe := n.st.Pipeline()
	pipe.HDel(store.KeyNodeInfoMap, n.hostname)
	pipe.HSet(store.KeyNodeInfoMap, n.hostname, data)
	return pipe.Exec(ctx)
}

// handleTask dispatches one control-plane job from the node queue.
func (n *NodeWorker) handleTask(ctx context.Context, job *types.Job) error {
	switch job.Func {
	case types.TaskSpawn:
		return n.handleSpawn(ctx, job)
	case types.TaskUnbindHost:
		return n.handleUnbind(ctx, job)
	default:
		err := errdefs.Validationf("unknown node task %q", job.Func)
		if merr := queue.MarkStarted(ctx, n.st, job, n.hostname); merr == nil {
			failJob(ctx, n.st, job, err, nil)
		}
		return err
	}
}

func (n *NodeWorker) handleSpawn(ctx context.Context, job *types.Job) error {
	if err := queue.MarkStarted(ctx, n.st, job, n.hostname); err != nil {
		return nil
	}
	host, qname := job.Args["host"], job.Args["queue"]
	if host == "" || qname == "" {
		err := errdefs.Validationf("spawn task requires host and queue args")
		failJob(ctx, n.st, job, err, nil)
		return err
	}
	if err := n.spawnPinned(ctx, qname, host); err != nil {
		failJob(ctx, n.st, job, err, nil)
		return err
	}
	return queue.MarkFinished(ctx, n.st, job, &types.JobResult{
		Retval: map[string]types.DriverExecutionResult{
			"spawn": {Output: Name(n.hostname, qname), ExitStatus: 0},
		},
	})
}

// spawnPinned binds a host to this node and starts its dedicated worker.
// The order is load-bearing: capacity check, claim, spawn, count bump;
// a failed spawn rolls the claim back so another node can take the host.
func (n *NodeWorker) spawnPinned(ctx context.Context, qname, host string) error {
	n.mu.Lock()
	_, running := n.pinned[host]
	terminating := n.terminating
	n.mu.Unlock()
	if terminating {
		return errdefs.WorkerUnavailablef("node %s is shutting down", n.hostname)
	}
	if running {
		// Duplicate spawn from a dispatcher retry; the binding holds.
		n.logger.Debug().Str("host", host).Msg("spawn replay, worker already running")
		return nil
	}

	info, err := FetchNodeInfo(ctx, n.st, n.hostname)
	if err != nil {
		return err
	}
	if info.Full() {
		return fmt.Errorf("%w: node %s is at capacity (%d/%d)",
			errdefs.ErrNodePreempted, n.hostname, info.Count, info.Capacity)
	}

	claimed, err := n.st.HSetNX(ctx, store.KeyHostToNodeMap, host, []byte(n.hostname))
	if err != nil {
		return err
	}
	if !claimed {
		owner, _ := n.st.HGet(ctx, store.KeyHostToNodeMap, host)
		return fmt.Errorf("%w: host %s is bound to %s", errdefs.ErrHostAlreadyPinned, host, owner)
	}

	if err := n.startPinned(host); err != nil {
		if delErr := n.st.HDel(ctx, store.KeyHostToNodeMap, host); delErr != nil {
			n.logger.Error().Err(delErr).Str("host", host).Msg("failed to roll back host binding")
		}
		return err
	}

	info.Count++
	if err := SaveNodeInfo(ctx, n.st, info); err != nil {
		return err
	}
	n.logger.Info().Str("host", host).Int("count", info.Count).Msg("host pinned")
	return nil
}

// startPinned launches the pinned worker goroutine and registers it in
// the child table. The worker lives on the node's run context, not the
// spawn task's.
func (n *NodeWorker) startPinned(host string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.terminating {
		return errdefs.WorkerUnavailablef("node %s is shutting down", n.hostname)
	}
	pw := NewPinnedWorker(n.cfg, n.st, n.hostname, host)
	n.pinned[host] = pw

	runCtx := n.runCtx
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := pw.Run(runCtx); err != nil {
			n.logger.Warn().Err(err).Str("host", host).Msg("pinned worker ended with error")
		}
		n.exited <- host
	}()
	return nil
}

// watchPinnedExits is the reaper. Each exit outside a node-wide teardown
// queues an unbind task back onto our own queue, so the count decrement
// and binding removal serialize with spawns.
func (n *NodeWorker) watchPinnedExits(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case host := <-n.exited:
			n.onPinnedExit(ctx, host)
		}
	}
}

func (n *NodeWorker) onPinnedExit(ctx context.Context, host string) {
	n.mu.Lock()
	delete(n.pinned, host)
	terminating := n.terminating
	n.mu.Unlock()
	if terminating || ctx.Err() != nil {
		return
	}
	n.logger.Info().Str("host", host).Msg("pinned worker exited, scheduling unbind")
	q := queue.New(n.queue, n.st)
	_, err := q.Enqueue(ctx, queue.Options{
		Func:       types.TaskUnbindHost,
		Args:       map[string]string{"host": host},
		TTL:        n.cfg.Job.TTL,
		Timeout:    n.cfg.Job.Timeout,
		ResultTTL:  n.cfg.Job.ResultTTL,
		FailureTTL: n.cfg.Job.FailureTTL,
	})
	if err != nil {
		n.logger.Error().Err(err).Str("host", host).Msg("failed to enqueue unbind task")
	}
}

func (n *NodeWorker) handleUnbind(ctx context.Context, job *types.Job) error {
	if err := queue.MarkStarted(ctx, n.st, job, n.hostname); err != nil {
		return nil
	}
	host := job.Args["host"]
	if host == "" {
		err := errdefs.Validationf("unbind task requires a host arg")
		failJob(ctx, n.st, job, err, nil)
		return err
	}
	if err := n.unbindHost(ctx, host); err != nil {
		failJob(ctx, n.st, job, err, nil)
		return err
	}
	return queue.MarkFinished(ctx, n.st, job, nil)
}

// unbindHost releases one host: the count decrement and the binding
// removal land in a single pipeline.
func (n *NodeWorker) unbindHost(ctx context.Context, host string) error {
	info, err := FetchNodeInfo(ctx, n.st, n.hostname)
	if err != nil {
		return err
	}
	if info.Count > 0 {
		info.Count--
	}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	pipe := n.st.Pipeline()
	pipe.HSet(store.KeyNodeInfoMap, n.hostname, data)
	pipe.HDel(store.KeyHostToNodeMap, host)
	if err := pipe.Exec(ctx); err != nil {
		return err
	}
	n.logger.Info().Str("host", host).Int("count", info.Count).Msg("host unbound")
	return nil
}

// teardown is the clean-shutdown path: wait out the pinned workers, then
// release every binding this node owned and its capacity record in one
// pipeline. The terminating flag is already set, so individual exits do
// not queue per-host unbinds on top of this.
func (n *NodeWorker) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	n.mu.Lock()
	workers := make([]*PinnedWorker, 0, len(n.pinned))
	for _, pw := range n.pinned {
		workers = append(workers, pw)
	}
	n.mu.Unlock()
	for _, pw := range workers {
		pw.Stop()
	}
	n.wg.Wait()

	bindings, err := n.st.HScan(ctx, store.KeyHostToNodeMap, "*")
	if err != nil {
		n.logger.Error().Err(err).Msg("failed to scan bindings during teardown")
		bindings = nil
	}
	pipe := n.st.Pipeline()
	for host, owner := range bindings {
		if string(owner) == n.hostname {
			pipe.HDel(store.KeyHostToNodeMap, host)
		}
	}
	pipe.HDel(store.KeyNodeInfoMap, n.hostname)
	if err := pipe.Exec(ctx); err != nil {
		n.logger.Error().Err(err).Msg("failed to release node state during teardown")
		return
	}
	n.logger.Info().Msg("node state released")
}

// nodeHostname resolves the node identity, preferring the configured
// override.
func nodeHostname(cfg *config.Config) (string, error) {
	if cfg.Worker.Hostname != "" {
		return cfg.Worker.Hostname, nil
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to resolve hostname: %w", err)
	}
	return hostname, nil
}
