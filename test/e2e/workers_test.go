package e2e

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netpulse/netpulse/pkg/client"
	"github.com/netpulse/netpulse/pkg/types"
	"github.com/netpulse/netpulse/pkg/worker"
	"github.com/netpulse/netpulse/test/framework"
)

// TestWorkerDirectory walks the worker listing filters against a running
// cluster: node records, the fifo consumer, and a pinned worker spawned
// by a dispatch.
func TestWorkerDirectory(t *testing.T) {
	cluster := framework.StartCluster(t, &framework.Config{
		Nodes:         2,
		FIFOWorkers:   1,
		PinnedPerNode: 2,
		APIKey:        "e2e-key",
	})
	waiter := framework.DefaultWaiter()
	ctx := context.Background()

	all, err := cluster.Client.ListWorkers(ctx, client.WorkerQuery{})
	require.NoError(t, err)
	names := make([]string, 0, len(all))
	for _, wk := range all {
		names = append(names, wk.Name)
	}
	assert.Contains(t, names, "node-1")
	assert.Contains(t, names, "node-2")
	assert.Contains(t, names, worker.Name("fifo-1", types.FifoQueue))

	fifo, err := cluster.Client.ListWorkers(ctx, client.WorkerQuery{Queue: types.FifoQueue})
	require.NoError(t, err)
	require.Len(t, fifo, 1)
	assert.Equal(t, worker.Name("fifo-1", types.FifoQueue), fifo[0].Name)

	// A dispatch spawns the host's pinned worker; the host filter finds
	// exactly that record.
	job, err := cluster.Client.Execute(ctx, mockRequest("wd-1", "show version"))
	require.NoError(t, err)
	require.NoError(t, waiter.WaitForJobStatus(ctx, cluster, job.JobID, types.JobStatusFinished))

	pinned, err := cluster.Client.ListWorkers(ctx, client.WorkerQuery{Host: "wd-1"})
	require.NoError(t, err)
	require.Len(t, pinned, 1)
	assert.Contains(t, pinned[0].Queues, types.HostQueue("wd-1"))
	owner := strings.SplitN(pinned[0].Name, "_", 2)[0]
	assert.Contains(t, []string{"node-1", "node-2"}, owner)

	byNode, err := cluster.Client.ListWorkers(ctx, client.WorkerQuery{Node: owner})
	require.NoError(t, err)
	assert.NotEmpty(t, byNode)
	for _, wk := range byNode {
		assert.True(t, wk.Name == owner || strings.HasPrefix(wk.Name, owner+"_"),
			"node filter returned %s for node %s", wk.Name, owner)
	}
}

// TestKillWorkerByQueue shuts the only fifo consumer down through the
// API and checks fifo dispatch starts refusing.
func TestKillWorkerByQueue(t *testing.T) {
	cluster := framework.StartCluster(t, &framework.Config{
		Nodes:         1,
		FIFOWorkers:   1,
		PinnedPerNode: 2,
		APIKey:        "e2e-key",
	})
	waiter := framework.DefaultWaiter()
	ctx := context.Background()

	killed, err := cluster.Client.KillWorkers(ctx, "", types.FifoQueue)
	require.NoError(t, err)
	require.Equal(t, []string{worker.Name("fifo-1", types.FifoQueue)}, killed)
	require.NoError(t, waiter.WaitForWorkerDead(ctx, cluster, killed[0]))

	req := mockRequest("kq-1", "show version")
	req.QueueStrategy = types.QueueStrategyFIFO
	_, err = cluster.Client.Execute(ctx, req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no live worker")
}

// TestKillWorkerByName stops one of two fifo consumers; the queue keeps
// draining on the survivor.
func TestKillWorkerByName(t *testing.T) {
	cluster := framework.StartCluster(t, &framework.Config{
		FIFOWorkers:   2,
		PinnedPerNode: 2,
		APIKey:        "e2e-key",
	})
	waiter := framework.DefaultWaiter()
	ctx := context.Background()

	victim := worker.Name("fifo-2", types.FifoQueue)
	killed, err := cluster.Client.KillWorkers(ctx, victim, "")
	require.NoError(t, err)
	require.Equal(t, []string{victim}, killed)
	require.NoError(t, waiter.WaitForWorkerDead(ctx, cluster, victim))

	req := mockRequest("kn-1", "show version")
	req.QueueStrategy = types.QueueStrategyFIFO
	job, err := cluster.Client.Execute(ctx, req)
	require.NoError(t, err)
	require.NoError(t, waiter.WaitForJobStatus(ctx, cluster, job.JobID, types.JobStatusFinished))

	got, err := cluster.Client.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, worker.Name("fifo-1", types.FifoQueue), got.Worker)
}

// TestCancelQueuedJob parks a job behind a slow one on the same host,
// cancels it through the API, and checks the pinned worker skips it.
func TestCancelQueuedJob(t *testing.T) {
	cluster := framework.StartCluster(t, nil)
	waiter := framework.DefaultWaiter()
	ctx := context.Background()

	slow := mockRequest("cq-1", "show tech-support")
	slow.DriverArgs = map[string]any{"delay_ms": 2000}
	first, err := cluster.Client.Execute(ctx, slow)
	require.NoError(t, err)

	second, err := cluster.Client.Execute(ctx, mockRequest("cq-1", "show clock"))
	require.NoError(t, err)

	canceled, err := cluster.Client.CancelJobs(ctx, client.CancelQuery{IDs: []string{second.JobID}})
	require.NoError(t, err)
	require.Equal(t, []string{second.JobID}, canceled)

	require.NoError(t, waiter.WaitForJobStatus(ctx, cluster, first.JobID, types.JobStatusFinished))

	got, err := cluster.Client.GetJob(ctx, second.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCanceled, got.Status)
	assert.Nil(t, got.Result, "canceled before any device call")

	repeat, err := cluster.Client.CancelJobs(ctx, client.CancelQuery{IDs: []string{second.JobID}})
	require.NoError(t, err)
	assert.Empty(t, repeat, "terminal jobs are not cancelable")
}
