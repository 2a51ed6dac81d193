package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netpulse/netpulse/pkg/errdefs"
	"github.com/netpulse/netpulse/pkg/store"
	"github.com/netpulse/netpulse/pkg/types"
)

func testRequest(host string) *types.ExecutionRequest {
	return &types.ExecutionRequest{
		Driver:         "ssh",
		ConnectionArgs: types.ConnectionArgs{"host": host},
		Command:        types.StringPayload("show version"),
	}
}

func TestEnqueuePopLifecycle(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	defer st.Close()
	q := New(types.HostQueue("10.0.0.1"), st)

	job, err := q.Enqueue(ctx, Options{
		Func:      types.TaskExecute,
		Request:   testRequest("10.0.0.1"),
		TTL:       60,
		Timeout:   30,
		ResultTTL: 300,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, types.JobStatusQueued, job.Status)

	n, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	queued, err := ByStatus(ctx, st, types.JobStatusQueued)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, job.ID, queued[0].ID)

	popped, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, popped.ID)

	require.NoError(t, MarkStarted(ctx, st, popped, "node-1_HostQ_10.0.0.1"))
	assert.Equal(t, types.JobStatusStarted, popped.Status)
	assert.NotNil(t, popped.StartedAt)

	started, err := ByStatus(ctx, st, types.JobStatusStarted)
	require.NoError(t, err)
	require.Len(t, started, 1)
	assert.Equal(t, "node-1_HostQ_10.0.0.1", started[0].Worker)

	result := &types.JobResult{
		Retval: map[string]types.DriverExecutionResult{
			"show version": {Output: "v1.0", ExitStatus: 0},
		},
	}
	require.NoError(t, MarkFinished(ctx, st, popped, result))

	finished, err := Fetch(ctx, st, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFinished, finished.Status)
	require.NotNil(t, finished.EndedAt)
	require.NotNil(t, finished.Result)
	assert.Equal(t, "v1.0", finished.Result.Retval["show version"].Output)

	// started registry must be empty again
	started, err = ByStatus(ctx, st, types.JobStatusStarted)
	require.NoError(t, err)
	assert.Empty(t, started)
}

func TestPopPreservesEnqueueOrder(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	defer st.Close()
	q := New(types.FifoQueue, st)

	first, err := q.Enqueue(ctx, Options{Func: types.TaskExecute, Request: testRequest("h1"), TTL: 60})
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, Options{Func: types.TaskExecute, Request: testRequest("h2"), TTL: 60})
	require.NoError(t, err)

	popped, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, popped.ID)

	popped, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, popped.ID)
}

func TestPopSkipsExpiredJob(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	defer st.Close()
	q := New(types.FifoQueue, st)

	job, err := q.Enqueue(ctx, Options{
		Func:    types.TaskExecute,
		Request: testRequest("10.0.0.9"),
		TTL:     1,
	})
	require.NoError(t, err)

	// force the enqueue time into the past
	stored, err := Fetch(ctx, st, job.ID)
	require.NoError(t, err)
	stored.EnqueuedAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, Save(ctx, st, stored))

	_, err = q.Pop(ctx)
	assert.ErrorIs(t, err, store.ErrNil, "expired job must not be returned")

	failed, err := Fetch(ctx, st, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, failed.Status)
	assert.Equal(t, "TimeoutError", failed.Meta.ErrorType)
}

func TestCancelOnlyQueued(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	defer st.Close()
	q := New(types.FifoQueue, st)

	job, err := q.Enqueue(ctx, Options{Func: types.TaskExecute, Request: testRequest("h1"), TTL: 60})
	require.NoError(t, err)

	require.NoError(t, Cancel(ctx, st, job.ID))

	canceled, err := Fetch(ctx, st, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCanceled, canceled.Status)

	// the id must be gone from the list, so Pop drains empty
	_, err = q.Pop(ctx)
	assert.ErrorIs(t, err, store.ErrNil)

	// canceling again fails: not queued anymore
	err = Cancel(ctx, st, job.ID)
	assert.ErrorIs(t, err, errdefs.ErrJobOperation)

	// canceling a started job fails
	job2, err := q.Enqueue(ctx, Options{Func: types.TaskExecute, Request: testRequest("h2"), TTL: 60})
	require.NoError(t, err)
	popped, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NoError(t, MarkStarted(ctx, st, popped, "w"))
	err = Cancel(ctx, st, job2.ID)
	assert.ErrorIs(t, err, errdefs.ErrJobOperation)
}

func TestCancelMissingJob(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	defer st.Close()

	err := Cancel(ctx, st, "nope")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestBPopAcrossQueues(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	defer st.Close()

	nodeQ := New(types.NodeQueue("node-1"), st)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = nodeQ.Enqueue(ctx, Options{Func: types.TaskSpawn, Args: map[string]string{"host": "10.0.0.1"}, TTL: 60})
	}()

	job, err := BPop(ctx, st, time.Second, types.NodeQueue("node-1"), types.FifoQueue)
	require.NoError(t, err)
	assert.Equal(t, types.TaskSpawn, job.Func)
	assert.Equal(t, "10.0.0.1", job.Args["host"])

	// timeout path
	_, err = BPop(ctx, st, 30*time.Millisecond, types.FifoQueue)
	assert.ErrorIs(t, err, store.ErrNil)
}

func TestCommitManyQueuesSinglePipeline(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	defer st.Close()

	jobs := []*types.Job{
		NewJob(types.HostQueue("10.0.0.1"), Options{Func: types.TaskExecute, Request: testRequest("10.0.0.1"), TTL: 60}),
		NewJob(types.HostQueue("10.0.0.2"), Options{Func: types.TaskExecute, Request: testRequest("10.0.0.2"), TTL: 60}),
		NewJob(types.NodeQueue("node-1"), Options{Func: types.TaskSpawn, Args: map[string]string{"host": "10.0.0.1"}, TTL: 60}),
	}
	require.NoError(t, Commit(ctx, st, jobs...))

	for _, queueName := range []string{types.HostQueue("10.0.0.1"), types.HostQueue("10.0.0.2"), types.NodeQueue("node-1")} {
		n, err := st.LLen(ctx, queueName)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, queueName)
	}

	queued, err := ByStatus(ctx, st, types.JobStatusQueued)
	require.NoError(t, err)
	assert.Len(t, queued, 3)
}

func TestByStatusPrunesExpiredRecords(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	defer st.Close()
	q := New(types.FifoQueue, st)

	job, err := q.Enqueue(ctx, Options{Func: types.TaskExecute, Request: testRequest("h"), TTL: 60})
	require.NoError(t, err)

	// simulate record expiry while the registry still holds the id
	require.NoError(t, st.Del(ctx, store.JobKey(job.ID)))

	jobs, err := ByStatus(ctx, st, types.JobStatusQueued)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	ids, err := st.SMembers(ctx, store.StatusRegistry(string(types.JobStatusQueued)))
	require.NoError(t, err)
	assert.Empty(t, ids, "stale registry member must be pruned")
}

func TestJobEventsPublished(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	defer st.Close()

	sub, err := st.Subscribe(ctx, store.ChannelJobEvents)
	require.NoError(t, err)
	defer sub.Close()

	q := New(types.FifoQueue, st)
	job, err := q.Enqueue(ctx, Options{Func: types.TaskExecute, Request: testRequest("h"), TTL: 60})
	require.NoError(t, err)

	select {
	case msg := <-sub.Messages():
		assert.Contains(t, string(msg.Payload), job.ID)
		assert.Contains(t, string(msg.Payload), `"queued"`)
	case <-time.After(time.Second):
		t.Fatal("no job event published")
	}
}
