package reconciler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/netpulse/netpulse/pkg/config"
	"github.com/netpulse/netpulse/pkg/log"
	"github.com/netpulse/netpulse/pkg/metrics"
	"github.com/netpulse/netpulse/pkg/queue"
	"github.com/netpulse/netpulse/pkg/store"
	"github.com/netpulse/netpulse/pkg/types"
	"github.com/netpulse/netpulse/pkg/worker"
)

const collectInterval = 15 * time.Second

// Collector refreshes the store-derived gauges on a timer. It reads the
// store rather than in-process state so the scrape reflects jobs, workers
// and bindings written by every process sharing the store, not just the
// one serving /metrics.
type Collector struct {
	st     store.Store
	cfg    *config.Config
	logger zerolog.Logger
	stopCh chan struct{}
	done   chan struct{}
}

// NewCollector creates a collector bound to a store.
func NewCollector(cfg *config.Config, st store.Store) *Collector {
	return &Collector{
		st:     st,
		cfg:    cfg,
		logger: log.WithComponent("metrics"),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start begins collecting. The first pass runs immediately so the scrape
// endpoint is populated before the first tick.
func (c *Collector) Start() {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(collectInterval)
		defer ticker.Stop()

		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop halts the collection loop and waits for it to exit.
func (c *Collector) Stop() {
	close(c.stopCh)
	<-c.done
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.collectJobMetrics(ctx)
	c.collectWorkerMetrics(ctx)
	c.collectNodeMetrics(ctx)
	c.collectBindingMetrics(ctx)
}

func (c *Collector) collectJobMetrics(ctx context.Context) {
	for _, status := range types.JobStatuses() {
		jobs, err := queue.ByStatus(ctx, c.st, status)
		if err != nil {
			c.logger.Debug().Err(err).Str("status", string(status)).Msg("failed to count jobs")
			continue
		}
		metrics.JobsByStatus.WithLabelValues(string(status)).Set(float64(len(jobs)))
	}
}

func (c *Collector) collectWorkerMetrics(ctx context.Context) {
	workers, err := worker.List(ctx, c.st)
	if err != nil {
		c.logger.Debug().Err(err).Msg("failed to list workers")
		return
	}
	now := time.Now().UTC()
	jobTimeout := time.Duration(c.cfg.Job.Timeout) * time.Second
	counts := map[string]int{"alive": 0, "dead": 0}
	for _, w := range workers {
		if worker.Alive(w, jobTimeout, c.cfg.Worker.TTLDuration(), now) {
			counts["alive"]++
		} else {
			counts["dead"]++
		}
	}
	for state, n := range counts {
		metrics.WorkersTotal.WithLabelValues(state).Set(float64(n))
	}
}

func (c *Collector) collectNodeMetrics(ctx context.Context) {
	nodes, err := worker.ListNodeInfos(ctx, c.st)
	if err != nil {
		c.logger.Debug().Err(err).Msg("failed to list nodes")
		return
	}
	// Reset per-node series so purged nodes drop off the scrape.
	metrics.NodePinnedWorkers.Reset()
	metrics.NodePinnedCapacity.Reset()
	metrics.NodesTotal.Set(float64(len(nodes)))
	for _, n := range nodes {
		metrics.NodePinnedWorkers.WithLabelValues(n.Hostname).Set(float64(n.Count))
		metrics.NodePinnedCapacity.WithLabelValues(n.Hostname).Set(float64(n.Capacity))
	}
}

func (c *Collector) collectBindingMetrics(ctx context.Context) {
	bindings, err := c.st.HScan(ctx, store.KeyHostToNodeMap, "*")
	if err != nil {
		c.logger.Debug().Err(err).Msg("failed to scan bindings")
		return
	}
	metrics.PinnedBindingsTotal.Set(float64(len(bindings)))
}
