package e2e

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netpulse/netpulse/pkg/driver"
	"github.com/netpulse/netpulse/pkg/types"
	"github.com/netpulse/netpulse/test/framework"
)

// TestBulkLoad pushes a wider batch through two nodes and checks every
// device ran exactly once over exactly one session.
func TestBulkLoad(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}
	driver.ResetMockCounters()
	cluster := framework.StartCluster(t, &framework.Config{
		Nodes:         2,
		PinnedPerNode: 8,
		APIKey:        "e2e-key",
	})
	waiter := framework.DefaultWaiter()
	ctx := context.Background()

	const devices = 12
	batch := &types.BatchExecutionRequest{
		ExecutionRequest: types.ExecutionRequest{
			Driver:  driver.NameMock,
			Command: types.ListPayload("show version", "show inventory"),
		},
	}
	for i := 1; i <= devices; i++ {
		batch.Devices = append(batch.Devices, types.ConnectionArgs{"host": fmt.Sprintf("load-%d", i)})
	}

	resp, err := cluster.Client.ExecuteBulk(ctx, batch)
	require.NoError(t, err)
	require.Len(t, resp.Succeeded, devices)
	require.Empty(t, resp.Failed)

	for _, job := range resp.Succeeded {
		require.NoError(t, waiter.WaitForJobStatus(ctx, cluster, job.JobID, types.JobStatusFinished))
		got, err := cluster.Client.GetJob(ctx, job.JobID)
		require.NoError(t, err)
		assert.Len(t, got.Result.Retval, 2)
	}
	for i := 1; i <= devices; i++ {
		assert.Equal(t, 1, driver.MockConnects(fmt.Sprintf("load-%d", i)))
	}
}

// TestFIFOFlood saturates a single fifo consumer; the per-job fan-out
// keeps slow devices from starving the rest.
func TestFIFOFlood(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}
	driver.ResetMockCounters()
	cluster := framework.StartCluster(t, &framework.Config{
		FIFOWorkers:   1,
		PinnedPerNode: 2,
		APIKey:        "e2e-key",
	})
	waiter := framework.DefaultWaiter()
	ctx := context.Background()

	const jobs = 20
	ids := make([]string, 0, jobs)
	for i := 0; i < jobs; i++ {
		req := mockRequest(fmt.Sprintf("flood-%d", i), "show version")
		req.QueueStrategy = types.QueueStrategyFIFO
		if i%4 == 0 {
			req.DriverArgs = map[string]any{"delay_ms": 250}
		}
		job, err := cluster.Client.Execute(ctx, req)
		require.NoError(t, err)
		ids = append(ids, job.JobID)
	}

	for _, id := range ids {
		require.NoError(t, waiter.WaitForJobStatus(ctx, cluster, id, types.JobStatusFinished))
	}
}
