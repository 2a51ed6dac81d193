package e2e

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netpulse/netpulse/pkg/driver"
	"github.com/netpulse/netpulse/pkg/types"
	"github.com/netpulse/netpulse/test/framework"
)

// TestBulkAcrossNodes fans one batch out over two nodes and checks the
// scheduler spread the pinned workers evenly.
func TestBulkAcrossNodes(t *testing.T) {
	driver.ResetMockCounters()
	cluster := framework.StartCluster(t, &framework.Config{
		Nodes:         2,
		PinnedPerNode: 4,
		APIKey:        "e2e-key",
	})
	waiter := framework.DefaultWaiter()
	ctx := context.Background()

	batch := &types.BatchExecutionRequest{
		ExecutionRequest: types.ExecutionRequest{
			Driver:  driver.NameMock,
			Command: types.ListPayload("show version"),
		},
		Devices: []types.ConnectionArgs{
			{"host": "bulk-1"},
			{"host": "bulk-2"},
			{"host": "bulk-3"},
			{"host": "bulk-4"},
		},
	}
	resp, err := cluster.Client.ExecuteBulk(ctx, batch)
	require.NoError(t, err)
	require.Len(t, resp.Succeeded, 4)
	require.Empty(t, resp.Failed)

	byNode := make(map[string]int)
	for _, job := range resp.Succeeded {
		require.NoError(t, waiter.WaitForJobStatus(ctx, cluster, job.JobID, types.JobStatusFinished))
		got, err := cluster.Client.GetJob(ctx, job.JobID)
		require.NoError(t, err)
		require.NotEmpty(t, got.Worker)
		byNode[strings.SplitN(got.Worker, "_", 2)[0]]++
	}
	assert.Equal(t, map[string]int{"node-1": 2, "node-2": 2}, byNode,
		"least-load placement alternates across empty nodes")

	for _, host := range []string{"bulk-1", "bulk-2", "bulk-3", "bulk-4"} {
		assert.Equal(t, 1, driver.MockConnects(host), "one session per device")
	}
}

// TestBulkPartialCapacity fills the only node, then submits a batch
// where one host is already bound and one needs a slot that does not
// exist. The bound host dispatches; the other comes back in the failed
// list. The response always partitions the device list.
func TestBulkPartialCapacity(t *testing.T) {
	driver.ResetMockCounters()
	cluster := framework.StartCluster(t, &framework.Config{
		Nodes:         1,
		PinnedPerNode: 1,
		APIKey:        "e2e-key",
	})
	waiter := framework.DefaultWaiter()
	ctx := context.Background()

	// Occupy the node's single pinned slot.
	job, err := cluster.Client.Execute(ctx, mockRequest("pin-1", "show version"))
	require.NoError(t, err)
	require.NoError(t, waiter.WaitForJobStatus(ctx, cluster, job.JobID, types.JobStatusFinished))

	batch := &types.BatchExecutionRequest{
		ExecutionRequest: types.ExecutionRequest{
			Driver:  driver.NameMock,
			Command: types.ListPayload("show clock"),
		},
		Devices: []types.ConnectionArgs{
			{"host": "pin-1"},
			{"host": "pin-2"},
		},
	}
	resp, err := cluster.Client.ExecuteBulk(ctx, batch)
	require.NoError(t, err)

	require.Len(t, resp.Succeeded, 1)
	assert.Equal(t, "pin-1", resp.Succeeded[0].Host)
	require.NoError(t, waiter.WaitForJobStatus(ctx, cluster, resp.Succeeded[0].JobID, types.JobStatusFinished))

	require.Len(t, resp.Failed, 1)
	assert.Equal(t, "pin-2", resp.Failed[0].Host)
	assert.Contains(t, resp.Failed[0].Reason, "no available node")
}

// TestBulkFIFOWithoutConsumer dispatches a fifo batch with no fifo
// worker running; every device is reported failed, not dropped.
func TestBulkFIFOWithoutConsumer(t *testing.T) {
	cluster := framework.StartCluster(t, &framework.Config{
		Nodes:         1,
		PinnedPerNode: 2,
		APIKey:        "e2e-key",
	})
	ctx := context.Background()

	batch := &types.BatchExecutionRequest{
		ExecutionRequest: types.ExecutionRequest{
			Driver:        driver.NameMock,
			Command:       types.ListPayload("show version"),
			QueueStrategy: types.QueueStrategyFIFO,
		},
		Devices: []types.ConnectionArgs{
			{"host": "f-1"},
			{"host": "f-2"},
		},
	}
	resp, err := cluster.Client.ExecuteBulk(ctx, batch)
	require.NoError(t, err)
	assert.Empty(t, resp.Succeeded)
	require.Len(t, resp.Failed, 2)
	for _, item := range resp.Failed {
		assert.Contains(t, item.Reason, "no live worker")
	}
}
