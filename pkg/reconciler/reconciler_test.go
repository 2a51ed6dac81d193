package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/netpulse/netpulse/pkg/config"
	"github.com/netpulse/netpulse/pkg/manager"
	"github.com/netpulse/netpulse/pkg/metrics"
	"github.com/netpulse/netpulse/pkg/queue"
	"github.com/netpulse/netpulse/pkg/store"
	"github.com/netpulse/netpulse/pkg/types"
	"github.com/netpulse/netpulse/pkg/worker"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Worker.Hostname = "node-a"
	cfg.Worker.TTL = 3
	cfg.Worker.LockDir = t.TempDir()
	cfg.Job.TTL = 60
	cfg.Job.Timeout = 30
	return cfg
}

func newReconciler(t *testing.T) (*Reconciler, store.Store) {
	t.Helper()
	st := store.NewMemStore()
	t.Cleanup(func() { _ = st.Close() })

	cfg := testConfig(t)
	mgr, err := manager.New(cfg, st)
	require.NoError(t, err)
	return New(cfg, st, mgr), st
}

func registerWorker(t *testing.T, st store.Store, name string, heartbeat time.Time, death *time.Time) {
	t.Helper()
	require.NoError(t, worker.Register(context.Background(), st, &types.WorkerInfo{
		Name:          name,
		Queues:        []string{types.FifoQueue},
		Birth:         heartbeat,
		LastHeartbeat: heartbeat,
		DeathDate:     death,
	}))
}

func TestSweepWorkersRemovesLongDead(t *testing.T) {
	r, st := newReconciler(t)
	ctx := context.Background()
	now := time.Now().UTC()

	recentDeath := now.Add(-time.Minute)
	oldDeath := now.Add(-20 * time.Minute)
	registerWorker(t, st, "fresh", now, nil)
	registerWorker(t, st, "recent-dead", recentDeath, &recentDeath)
	registerWorker(t, st, "long-dead", oldDeath, &oldDeath)
	registerWorker(t, st, "crashed", now.Add(-20*time.Minute), nil)

	r.sweepWorkers(ctx)

	workers, err := worker.List(ctx, st)
	require.NoError(t, err)
	names := make([]string, 0, len(workers))
	for _, w := range workers {
		names = append(names, w.Name)
	}
	require.ElementsMatch(t, []string{"fresh", "recent-dead"}, names)
}

func TestSweepNodesPurgesDeadNodeState(t *testing.T) {
	r, st := newReconciler(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// node-x died without cleanup: node info and a binding remain but no
	// worker consumes its control queue.
	require.NoError(t, worker.SaveNodeInfo(ctx, st, &types.NodeInfo{
		Hostname: "node-x", Count: 1, Capacity: 2, Queue: types.NodeQueue("node-x"),
	}))
	require.NoError(t, st.HSet(ctx, store.KeyHostToNodeMap, "d1", []byte("node-x")))

	// node-y is healthy.
	require.NoError(t, worker.SaveNodeInfo(ctx, st, &types.NodeInfo{
		Hostname: "node-y", Count: 0, Capacity: 2, Queue: types.NodeQueue("node-y"),
	}))
	require.NoError(t, worker.Register(ctx, st, &types.WorkerInfo{
		Name:          "node-y",
		Queues:        []string{types.NodeQueue("node-y")},
		Birth:         now,
		LastHeartbeat: now,
	}))

	r.sweepNodes(ctx)

	_, err := worker.FetchNodeInfo(ctx, st, "node-x")
	require.Error(t, err)
	_, err = st.HGet(ctx, store.KeyHostToNodeMap, "d1")
	require.True(t, errors.Is(err, store.ErrNil))

	alive, err := worker.FetchNodeInfo(ctx, st, "node-y")
	require.NoError(t, err)
	require.Equal(t, "node-y", alive.Hostname)
}

func TestSweepExpiredJobsFailsThem(t *testing.T) {
	r, st := newReconciler(t)
	ctx := context.Background()

	q := queue.New(types.HostQueue("d9"), st)
	expired, err := q.Enqueue(ctx, queue.Options{
		Func: types.TaskExecute, TTL: 1, Timeout: 30, ResultTTL: 60, FailureTTL: 60,
	})
	require.NoError(t, err)
	expired.EnqueuedAt = time.Now().UTC().Add(-2 * time.Second)
	require.NoError(t, queue.Save(ctx, st, expired))

	pending, err := q.Enqueue(ctx, queue.Options{
		Func: types.TaskExecute, TTL: 300, Timeout: 30, ResultTTL: 60, FailureTTL: 60,
	})
	require.NoError(t, err)

	r.sweepExpiredJobs(ctx)

	got, err := queue.Fetch(ctx, st, expired.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusFailed, got.Status)
	require.Equal(t, "TimeoutError", got.Meta.ErrorType)

	still, err := queue.Fetch(ctx, st, pending.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusQueued, still.Status)

	// The expired id is gone from the queue, the pending one remains.
	length, err := q.Length(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), length)
}

func TestReconcileCycleCompletes(t *testing.T) {
	r, _ := newReconciler(t)

	before := testutil.ToFloat64(metrics.SweepCyclesTotal)
	r.reconcile()
	require.Equal(t, before+1, testutil.ToFloat64(metrics.SweepCyclesTotal))
}

func TestReconcilerStartStop(t *testing.T) {
	r, _ := newReconciler(t)
	r.Start()
	r.Stop()
}
