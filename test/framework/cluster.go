// Package framework spins up a complete in-process cluster for end to
// end tests: a shared store, a controller (dispatcher plus REST API), and
// any number of node and fifo workers, all talking through the same
// public surfaces a real deployment uses. Tests drive it exclusively
// through the HTTP client so they exercise the full path from request
// decoding down to driver execution.
package framework

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/netpulse/netpulse/pkg/api"
	"github.com/netpulse/netpulse/pkg/client"
	"github.com/netpulse/netpulse/pkg/config"
	"github.com/netpulse/netpulse/pkg/manager"
	"github.com/netpulse/netpulse/pkg/store"
	"github.com/netpulse/netpulse/pkg/types"
	"github.com/netpulse/netpulse/pkg/worker"
)

// Config shapes a test cluster.
type Config struct {
	// Nodes is the number of node workers to start, named node-1..node-N.
	Nodes int
	// FIFOWorkers is the number of fifo consumers, named fifo-1..fifo-N.
	FIFOWorkers int
	// PinnedPerNode caps concurrent pinned workers per node.
	PinnedPerNode int
	// APIKey guards the REST surface; every started cluster uses one.
	APIKey string
}

// DefaultConfig is one node, one fifo worker, and a small pinned cap.
func DefaultConfig() *Config {
	return &Config{
		Nodes:         1,
		FIFOWorkers:   1,
		PinnedPerNode: 4,
		APIKey:        "e2e-key",
	}
}

// Cluster is a fully wired control plane running inside the test
// process. Every component shares one store, exactly as separate
// processes would share one Redis.
type Cluster struct {
	Store   *store.MemStore
	Manager *manager.Manager
	API     *httptest.Server
	Client  *client.Client
	Cfg     *config.Config

	nodes     []*worker.NodeWorker
	nodeNames []string
	fifos     []*worker.FIFOWorker
}

// StartCluster builds the store, dispatcher, and REST server, then
// launches the configured workers and waits for each to register.
// Everything is torn down through t.Cleanup in reverse start order, so
// workers drain before the store closes.
func StartCluster(t *testing.T, cc *Config) *Cluster {
	t.Helper()
	if cc == nil {
		cc = DefaultConfig()
	}

	st := store.NewMemStore()
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Default()
	cfg.Server.APIKey = cc.APIKey
	cfg.Worker.TTL = 3
	cfg.Worker.KeepaliveInterval = 1
	cfg.Worker.PinnedPerNode = cc.PinnedPerNode
	cfg.Job.TTL = 60
	cfg.Job.Timeout = 30
	cfg.Plugins.TemplatePaths = []string{t.TempDir()}

	mgr, err := manager.New(cfg, st)
	require.NoError(t, err)

	srv := httptest.NewServer(api.NewServer(cfg, mgr).Handler())
	t.Cleanup(srv.Close)

	c := &Cluster{
		Store:   st,
		Manager: mgr,
		API:     srv,
		Client:  client.NewClient(srv.URL, cc.APIKey),
		Cfg:     cfg,
	}
	for i := 0; i < cc.Nodes; i++ {
		c.StartNodeWorker(t, fmt.Sprintf("node-%d", i+1))
	}
	for i := 0; i < cc.FIFOWorkers; i++ {
		c.StartFIFOWorker(t, fmt.Sprintf("fifo-%d", i+1))
	}
	return c
}

// NodeNames lists the hostnames of the node workers started so far.
func (c *Cluster) NodeNames() []string { return c.nodeNames }

// StartNodeWorker launches a node worker under the given hostname and
// blocks until it has published its capacity record.
func (c *Cluster) StartNodeWorker(t *testing.T, hostname string) *worker.NodeWorker {
	t.Helper()
	n, err := worker.NewNodeWorker(c.workerConfig(t, hostname), c.Store)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	t.Cleanup(func() {
		n.Stop()
		select {
		case <-done:
		case <-time.After(15 * time.Second):
			t.Log("node worker did not exit in time")
		}
		cancel()
	})

	require.Eventually(t, func() bool {
		_, err := worker.FetchNodeInfo(context.Background(), c.Store, hostname)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond, "node %s never published its info", hostname)

	c.nodes = append(c.nodes, n)
	c.nodeNames = append(c.nodeNames, hostname)
	return n
}

// StartFIFOWorker launches a fifo consumer under the given hostname and
// blocks until its registry record reports it alive on the shared queue.
func (c *Cluster) StartFIFOWorker(t *testing.T, hostname string) *worker.FIFOWorker {
	t.Helper()
	f, err := worker.NewFIFOWorker(c.workerConfig(t, hostname), c.Store)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()
	t.Cleanup(func() {
		f.Stop()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Log("fifo worker did not exit in time")
		}
		cancel()
	})

	require.Eventually(t, func() bool {
		alive, err := worker.AliveOnQueue(context.Background(), c.Store, types.FifoQueue, time.Minute, time.Minute)
		return err == nil && alive
	}, 5*time.Second, 20*time.Millisecond, "fifo worker %s never registered", hostname)

	c.fifos = append(c.fifos, f)
	return f
}

// workerConfig clones the cluster config for one worker. Each worker
// gets its own hostname and lock directory, which is what separates two
// in-process workers the way separate machines would be.
func (c *Cluster) workerConfig(t *testing.T, hostname string) *config.Config {
	t.Helper()
	cfg := *c.Cfg
	cfg.Worker.Hostname = hostname
	cfg.Worker.LockDir = t.TempDir()
	return &cfg
}
