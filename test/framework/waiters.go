package framework

import (
	"context"
	"fmt"
	"time"

	"github.com/netpulse/netpulse/pkg/client"
	"github.com/netpulse/netpulse/pkg/types"
)

// Waiter polls a condition until it holds or the timeout lapses.
type Waiter struct {
	timeout  time.Duration
	interval time.Duration
}

// NewWaiter creates a Waiter with the given timeout and polling interval.
func NewWaiter(timeout, interval time.Duration) *Waiter {
	return &Waiter{
		timeout:  timeout,
		interval: interval,
	}
}

// DefaultWaiter is tuned for in-process clusters, where transitions land
// in milliseconds (10s timeout, 20ms interval).
func DefaultWaiter() *Waiter {
	return NewWaiter(10*time.Second, 20*time.Millisecond)
}

// WaitFor waits for a condition to become true.
func (w *Waiter) WaitFor(ctx context.Context, condition func() bool, description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Check immediately
	if condition() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// WaitForJobStatus waits for a job to reach exactly the given status.
func (w *Waiter) WaitForJobStatus(ctx context.Context, c *Cluster, id string, status types.JobStatus) error {
	return w.WaitFor(ctx, func() bool {
		job, err := c.Client.GetJob(ctx, id)
		return err == nil && job.Status == status
	}, fmt.Sprintf("job %s to reach %s", id, status))
}

// WaitForJobTerminal waits for a job to finish, fail, or be canceled.
func (w *Waiter) WaitForJobTerminal(ctx context.Context, c *Cluster, id string) error {
	return w.WaitFor(ctx, func() bool {
		job, err := c.Client.GetJob(ctx, id)
		return err == nil && job.Status.Terminal()
	}, fmt.Sprintf("job %s to reach a terminal status", id))
}

// WaitForWorkerAlive waits for at least one live worker consuming the
// given queue.
func (w *Waiter) WaitForWorkerAlive(ctx context.Context, c *Cluster, queue string) error {
	return w.WaitFor(ctx, func() bool {
		workers, err := c.Client.ListWorkers(ctx, client.WorkerQuery{Queue: queue})
		if err != nil {
			return false
		}
		for _, wk := range workers {
			if wk.DeathDate == nil {
				return true
			}
		}
		return false
	}, fmt.Sprintf("a live worker on queue %s", queue))
}

// WaitForPinnedWorker waits for the host's dedicated session worker to
// come up.
func (w *Waiter) WaitForPinnedWorker(ctx context.Context, c *Cluster, host string) error {
	return w.WaitForWorkerAlive(ctx, c, types.HostQueue(host))
}

// WaitForWorkerDead waits for the named worker to stamp its death date.
// The record outlives the worker, so a missing record does not count.
func (w *Waiter) WaitForWorkerDead(ctx context.Context, c *Cluster, name string) error {
	return w.WaitFor(ctx, func() bool {
		workers, err := c.Client.ListWorkers(ctx, client.WorkerQuery{})
		if err != nil {
			return false
		}
		for _, wk := range workers {
			if wk.Name == name {
				return wk.DeathDate != nil
			}
		}
		return false
	}, fmt.Sprintf("worker %s to deregister", name))
}
