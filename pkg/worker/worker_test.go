package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netpulse/netpulse/pkg/config"
	"github.com/netpulse/netpulse/pkg/driver"
	"github.com/netpulse/netpulse/pkg/executor"
	"github.com/netpulse/netpulse/pkg/queue"
	"github.com/netpulse/netpulse/pkg/store"
	"github.com/netpulse/netpulse/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Worker.Hostname = "node-a"
	cfg.Worker.TTL = 3
	cfg.Worker.PinnedPerNode = 2
	cfg.Worker.KeepaliveInterval = 1
	cfg.Worker.FifoConcurrency = 4
	cfg.Worker.LockDir = t.TempDir()
	cfg.Job.TTL = 60
	cfg.Job.Timeout = 30
	return cfg
}

func mockRequest(host string, commands ...string) *types.ExecutionRequest {
	return &types.ExecutionRequest{
		Driver:         driver.NameMock,
		ConnectionArgs: types.ConnectionArgs{"host": host},
		Command:        types.ListPayload(commands...),
	}
}

func enqueueExecute(t *testing.T, st store.Store, qname string, req *types.ExecutionRequest) *types.Job {
	t.Helper()
	job, err := queue.New(qname, st).Enqueue(context.Background(), queue.Options{
		Func:       types.TaskExecute,
		Request:    req,
		TTL:        60,
		Timeout:    30,
		ResultTTL:  60,
		FailureTTL: 60,
	})
	require.NoError(t, err)
	return job
}

func waitForStatus(t *testing.T, st store.Store, id string, status types.JobStatus) *types.Job {
	t.Helper()
	var job *types.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = queue.Fetch(context.Background(), st, id)
		return err == nil && job.Status == status
	}, 10*time.Second, 20*time.Millisecond, "job %s never reached %s", id, status)
	return job
}

func TestWorkerName(t *testing.T) {
	assert.Equal(t, "node-a", Name("node-a", ""))
	assert.Equal(t, "node-a_FifoQ", Name("node-a", types.FifoQueue))
	assert.Equal(t, "node-a_HostQ_10.0.0.1", Name("node-a", types.HostQueue("10.0.0.1")))
}

func TestAlive(t *testing.T) {
	now := time.Now().UTC()
	dead := now.Add(-time.Hour)

	idleFresh := &types.WorkerInfo{State: types.WorkerStateIdle, LastHeartbeat: now.Add(-10 * time.Second)}
	assert.True(t, Alive(idleFresh, 300*time.Second, 60*time.Second, now))

	idleStale := &types.WorkerInfo{State: types.WorkerStateIdle, LastHeartbeat: now.Add(-70 * time.Second)}
	assert.False(t, Alive(idleStale, 300*time.Second, 60*time.Second, now))

	// A busy worker on a long job gets the job-timeout window instead.
	busyLong := &types.WorkerInfo{State: types.WorkerStateBusy, LastHeartbeat: now.Add(-70 * time.Second)}
	assert.True(t, Alive(busyLong, 300*time.Second, 60*time.Second, now))
	assert.False(t, Alive(busyLong, 30*time.Second, 60*time.Second, now))

	departed := &types.WorkerInfo{State: types.WorkerStateIdle, LastHeartbeat: now, DeathDate: &dead}
	assert.False(t, Alive(departed, 300*time.Second, 60*time.Second, now))
}

func TestMatchesShutdown(t *testing.T) {
	queues := []string{"FifoQ"}
	assert.True(t, matchesShutdown("node-a_FifoQ", "node-a_FifoQ", queues))
	assert.True(t, matchesShutdown("queue:FifoQ", "node-a_FifoQ", queues))
	assert.False(t, matchesShutdown("queue:HostQ_x", "node-a_FifoQ", queues))
	assert.False(t, matchesShutdown("node-b_FifoQ", "node-a_FifoQ", queues))
}

func TestFileLock(t *testing.T) {
	dir := t.TempDir()
	first, err := acquireLock(dir, NodeLockFile)
	require.NoError(t, err)

	_, err = acquireLock(dir, NodeLockFile)
	require.Error(t, err, "second acquisition must fail while held")

	first.release()
	second, err := acquireLock(dir, NodeLockFile)
	require.NoError(t, err)
	second.release()
}

func TestFIFOWorkerExecutesJobs(t *testing.T) {
	driver.ResetMockCounters()
	st := store.NewMemStore()
	defer st.Close()
	cfg := testConfig(t)

	f, err := NewFIFOWorker(cfg, st)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	job := enqueueExecute(t, st, types.FifoQueue, mockRequest("d1", "show version"))
	finished := waitForStatus(t, st, job.ID, types.JobStatusFinished)
	require.NotNil(t, finished.Result)
	assert.Equal(t, "mock: show version", finished.Result.Retval["show version"].Output)
	assert.Equal(t, f.Name(), finished.Worker)

	require.Eventually(t, func() bool {
		info, err := Fetch(context.Background(), st, f.Name())
		return err == nil && info.JobsDone == 1
	}, 5*time.Second, 20*time.Millisecond)

	f.Stop()
	require.NoError(t, <-done)

	info, err := Fetch(context.Background(), st, f.Name())
	require.NoError(t, err)
	assert.NotNil(t, info.DeathDate, "clean exit must stamp a death date")
}

func TestFIFOWorkerNeverRunsCanceledJob(t *testing.T) {
	st := store.NewMemStore()
	defer st.Close()
	cfg := testConfig(t)

	// Cancel while no worker is consuming, then start the worker.
	job := enqueueExecute(t, st, types.FifoQueue, mockRequest("d1", "show version"))
	require.NoError(t, queue.Cancel(context.Background(), st, job.ID))

	f, err := NewFIFOWorker(cfg, st)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	probe := enqueueExecute(t, st, types.FifoQueue, mockRequest("d1", "show clock"))
	waitForStatus(t, st, probe.ID, types.JobStatusFinished)

	stored, err := queue.Fetch(context.Background(), st, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCanceled, stored.Status)
	assert.Nil(t, stored.StartedAt)

	f.Stop()
	require.NoError(t, <-done)
}

func TestExecuteJobWallClock(t *testing.T) {
	st := store.NewMemStore()
	defer st.Close()

	req := mockRequest("slow", "show version")
	req.DriverArgs = map[string]any{"delay_ms": 2500}
	job := enqueueExecute(t, st, types.FifoQueue, req)
	job.Timeout = 1

	err := executeJob(context.Background(), st, "w1", job, executor.Env{})
	require.Error(t, err)

	stored, ferr := queue.Fetch(context.Background(), st, job.ID)
	require.NoError(t, ferr)
	assert.Equal(t, types.JobStatusFailed, stored.Status)
	assert.Equal(t, "TimeoutError", stored.Meta.ErrorType)
}

func TestExecuteJobRenderFailureRunsFailureCallback(t *testing.T) {
	st := store.NewMemStore()
	defer st.Close()

	req := mockRequest("d1", "show {{ x")
	req.Rendering = &types.RenderingSpec{Name: "no_such_renderer"}
	job := queue.NewJob(types.FifoQueue, queue.Options{
		Func:      types.TaskExecute,
		Request:   req,
		TTL:       60,
		Timeout:   30,
		OnFailure: &types.Callback{Name: "rpc_exception_callback"},
	})
	require.NoError(t, queue.Commit(context.Background(), st, job))

	err := executeJob(context.Background(), st, "w1", job, executor.Env{})
	require.Error(t, err)

	stored, ferr := queue.Fetch(context.Background(), st, job.ID)
	require.NoError(t, ferr)
	assert.Equal(t, types.JobStatusFailed, stored.Status)
	assert.Equal(t, "NotFound", stored.Meta.ErrorType)
}

func TestNodeWorkerSpawnExecuteReuseAndCapacity(t *testing.T) {
	driver.ResetMockCounters()
	st := store.NewMemStore()
	defer st.Close()
	cfg := testConfig(t)

	n, err := NewNodeWorker(cfg, st)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	require.Eventually(t, func() bool {
		info, err := FetchNodeInfo(context.Background(), st, "node-a")
		return err == nil && info.Capacity == 2
	}, 5*time.Second, 20*time.Millisecond, "node info never published")

	nodeQ := queue.New(types.NodeQueue("node-a"), st)
	spawn := func(host string) *types.Job {
		job, err := nodeQ.Enqueue(context.Background(), queue.Options{
			Func:    types.TaskSpawn,
			Args:    map[string]string{"queue": types.HostQueue(host), "host": host},
			TTL:     60,
			Timeout: 30,
		})
		require.NoError(t, err)
		return job
	}

	// First spawn binds the host and bumps the count.
	waitForStatus(t, st, spawn("d1").ID, types.JobStatusFinished)
	owner, err := st.HGet(context.Background(), store.KeyHostToNodeMap, "d1")
	require.NoError(t, err)
	assert.Equal(t, "node-a", string(owner))
	info, err := FetchNodeInfo(context.Background(), st, "node-a")
	require.NoError(t, err)
	assert.Equal(t, 1, info.Count)

	// Jobs for the host run on its dedicated queue; the second one
	// reuses the session opened by the first.
	j1 := enqueueExecute(t, st, types.HostQueue("d1"), mockRequest("d1", "show version"))
	r1 := waitForStatus(t, st, j1.ID, types.JobStatusFinished)
	assert.Equal(t, false, r1.Result.Retval["show version"].Telemetry[types.TelemetrySessionReused])

	j2 := enqueueExecute(t, st, types.HostQueue("d1"), mockRequest("d1", "show clock"))
	r2 := waitForStatus(t, st, j2.ID, types.JobStatusFinished)
	assert.Equal(t, true, r2.Result.Retval["show clock"].Telemetry[types.TelemetrySessionReused])
	assert.Equal(t, 1, driver.MockConnects("d1"), "second job must not re-dial")

	// Replayed spawns are idempotent.
	waitForStatus(t, st, spawn("d1").ID, types.JobStatusFinished)
	info, err = FetchNodeInfo(context.Background(), st, "node-a")
	require.NoError(t, err)
	assert.Equal(t, 1, info.Count)

	// Fill the node, then overflow it.
	waitForStatus(t, st, spawn("d2").ID, types.JobStatusFinished)
	overflow := waitForStatus(t, st, spawn("d3").ID, types.JobStatusFailed)
	assert.Equal(t, "NodePreempted", overflow.Meta.ErrorType)
	_, err = st.HGet(context.Background(), store.KeyHostToNodeMap, "d3")
	assert.ErrorIs(t, err, store.ErrNil, "failed spawn must not leave a binding")

	// Killing a pinned worker releases its binding through the unbind
	// task and frees capacity.
	require.NoError(t, SendShutdown(context.Background(), st, Name("node-a", types.HostQueue("d1"))))
	require.Eventually(t, func() bool {
		_, err := st.HGet(context.Background(), store.KeyHostToNodeMap, "d1")
		if err == nil {
			return false
		}
		info, ierr := FetchNodeInfo(context.Background(), st, "node-a")
		return ierr == nil && info.Count == 1
	}, 10*time.Second, 20*time.Millisecond, "binding for d1 never released")

	// Node shutdown releases everything it owned.
	n.Stop()
	require.NoError(t, <-done)
	_, err = FetchNodeInfo(context.Background(), st, "node-a")
	assert.Error(t, err)
	_, err = st.HGet(context.Background(), store.KeyHostToNodeMap, "d2")
	assert.ErrorIs(t, err, store.ErrNil)
}

func TestNodeWorkerBootCleanup(t *testing.T) {
	st := store.NewMemStore()
	defer st.Close()
	cfg := testConfig(t)
	ctx := context.Background()

	// State a crashed prior run would leave behind.
	require.NoError(t, st.HSet(ctx, store.KeyHostToNodeMap, "d9", []byte("node-a")))
	require.NoError(t, st.HSet(ctx, store.KeyHostToNodeMap, "other", []byte("node-b")))
	stale := &types.NodeInfo{Hostname: "node-a", Count: 5, Capacity: 9, Queue: types.NodeQueue("node-a")}
	require.NoError(t, SaveNodeInfo(ctx, st, stale))
	deadWorker := &types.WorkerInfo{Name: Name("node-a", types.HostQueue("d9"))}
	require.NoError(t, Register(ctx, st, deadWorker))

	n, err := NewNodeWorker(cfg, st)
	require.NoError(t, err)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- n.Run(runCtx) }()

	require.Eventually(t, func() bool {
		info, err := FetchNodeInfo(ctx, st, "node-a")
		return err == nil && info.Count == 0 && info.Capacity == 2
	}, 5*time.Second, 20*time.Millisecond, "node info never rewritten")

	_, err = st.HGet(ctx, store.KeyHostToNodeMap, "d9")
	assert.ErrorIs(t, err, store.ErrNil, "stale binding must be released")
	_, err = Fetch(ctx, st, deadWorker.Name)
	assert.Error(t, err, "dead pinned worker record must be removed")

	// Bindings owned by other nodes are untouched.
	owner, err := st.HGet(ctx, store.KeyHostToNodeMap, "other")
	require.NoError(t, err)
	assert.Equal(t, "node-b", string(owner))

	n.Stop()
	require.NoError(t, <-done)
}

func TestPinnedWorkerKeepaliveFailureUnbinds(t *testing.T) {
	driver.ResetMockCounters()
	st := store.NewMemStore()
	defer st.Close()
	cfg := testConfig(t)

	n, err := NewNodeWorker(cfg, st)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := FetchNodeInfo(context.Background(), st, "node-a")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	nodeQ := queue.New(types.NodeQueue("node-a"), st)
	spawnJob, err := nodeQ.Enqueue(context.Background(), queue.Options{
		Func:    types.TaskSpawn,
		Args:    map[string]string{"queue": types.HostQueue("d1"), "host": "d1"},
		TTL:     60,
		Timeout: 30,
	})
	require.NoError(t, err)
	waitForStatus(t, st, spawnJob.ID, types.JobStatusFinished)

	// The job leaves a cached session whose keepalive is rigged to fail;
	// the next probe kills the worker and the node unbinds the host.
	req := mockRequest("d1", "show version")
	req.DriverArgs = map[string]any{"fail_keepalive": true}
	job := enqueueExecute(t, st, types.HostQueue("d1"), req)
	waitForStatus(t, st, job.ID, types.JobStatusFinished)

	require.Eventually(t, func() bool {
		_, err := st.HGet(context.Background(), store.KeyHostToNodeMap, "d1")
		if err == nil {
			return false
		}
		info, ierr := FetchNodeInfo(context.Background(), st, "node-a")
		return ierr == nil && info.Count == 0
	}, 10*time.Second, 20*time.Millisecond, "keepalive failure never released the host")

	n.Stop()
	require.NoError(t, <-done)
}
