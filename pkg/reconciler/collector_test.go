package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/netpulse/netpulse/pkg/config"
	"github.com/netpulse/netpulse/pkg/metrics"
	"github.com/netpulse/netpulse/pkg/queue"
	"github.com/netpulse/netpulse/pkg/store"
	"github.com/netpulse/netpulse/pkg/types"
	"github.com/netpulse/netpulse/pkg/worker"
)

func TestCollectorDerivesGaugesFromStore(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Default()
	cfg.Worker.TTL = 60
	cfg.Job.Timeout = 30

	q := queue.New(types.FifoQueue, st)
	opts := queue.Options{Func: types.TaskExecute, TTL: 60, Timeout: 30, ResultTTL: 60, FailureTTL: 60}
	_, err := q.Enqueue(ctx, opts)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, opts)
	require.NoError(t, err)
	started, err := q.Enqueue(ctx, opts)
	require.NoError(t, err)
	require.NoError(t, queue.MarkStarted(ctx, st, started, "w1"))

	now := time.Now().UTC()
	require.NoError(t, worker.Register(ctx, st, &types.WorkerInfo{
		Name:          "w1",
		Queues:        []string{types.FifoQueue},
		Birth:         now,
		LastHeartbeat: now,
	}))
	dead := now.Add(-time.Hour)
	require.NoError(t, worker.Register(ctx, st, &types.WorkerInfo{
		Name:          "w2",
		Queues:        []string{types.FifoQueue},
		Birth:         dead,
		LastHeartbeat: dead,
		DeathDate:     &dead,
	}))

	require.NoError(t, worker.SaveNodeInfo(ctx, st, &types.NodeInfo{
		Hostname: "node-a",
		Count:    1,
		Capacity: 2,
		Queue:    types.NodeQueue("node-a"),
	}))
	require.NoError(t, st.HSet(ctx, store.KeyHostToNodeMap, "d1", []byte("node-a")))

	c := NewCollector(cfg, st)
	c.collect()

	require.Equal(t, 2.0, testutil.ToFloat64(metrics.JobsByStatus.WithLabelValues("queued")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.JobsByStatus.WithLabelValues("started")))
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.JobsByStatus.WithLabelValues("failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.WorkersTotal.WithLabelValues("alive")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.WorkersTotal.WithLabelValues("dead")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.NodesTotal))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.NodePinnedWorkers.WithLabelValues("node-a")))
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.NodePinnedCapacity.WithLabelValues("node-a")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.PinnedBindingsTotal))
}

func TestCollectorStartStop(t *testing.T) {
	st := store.NewMemStore()
	t.Cleanup(func() { _ = st.Close() })

	c := NewCollector(config.Default(), st)
	c.Start()
	c.Stop()
}
