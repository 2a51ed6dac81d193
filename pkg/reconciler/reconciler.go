package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/netpulse/netpulse/pkg/config"
	"github.com/netpulse/netpulse/pkg/errdefs"
	"github.com/netpulse/netpulse/pkg/log"
	"github.com/netpulse/netpulse/pkg/manager"
	"github.com/netpulse/netpulse/pkg/metrics"
	"github.com/netpulse/netpulse/pkg/queue"
	"github.com/netpulse/netpulse/pkg/store"
	"github.com/netpulse/netpulse/pkg/types"
	"github.com/netpulse/netpulse/pkg/worker"
)

const (
	defaultSweepInterval = 30 * time.Second

	// workerRetention is how long the record of a dead worker stays
	// listable before the sweeper removes it.
	workerRetention = 10 * time.Minute
)

// Reconciler sweeps up state the normal shutdown paths missed: node
// state whose process died without deregistering, worker records long
// past their death, and queued jobs whose TTL lapsed on a queue nothing
// consumes anymore.
type Reconciler struct {
	st     store.Store
	mgr    *manager.Manager
	cfg    *config.Config
	logger zerolog.Logger

	interval  time.Duration
	retention time.Duration
	stopCh    chan struct{}
	done      chan struct{}
}

// New creates a reconciler. The manager supplies the node purge path so
// sweeps and dispatches delete dead node state the same way.
func New(cfg *config.Config, st store.Store, mgr *manager.Manager) *Reconciler {
	return &Reconciler{
		st:        st,
		mgr:       mgr,
		cfg:       cfg,
		logger:    log.WithComponent("reconciler"),
		interval:  defaultSweepInterval,
		retention: workerRetention,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start begins periodic sweeps.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop halts the sweep loop and waits for an in-flight cycle to finish.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	<-r.done
}

func (r *Reconciler) run() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-r.stopCh:
			return
		}
	}
}

// reconcile runs one sweep cycle. Concerns are swept independently so a
// failure in one does not starve the others.
func (r *Reconciler) reconcile() {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.SweepDuration)
		metrics.SweepCyclesTotal.Inc()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()

	r.sweepNodes(ctx)
	r.sweepWorkers(ctx)
	r.sweepExpiredJobs(ctx)
}

func (r *Reconciler) sweepNodes(ctx context.Context) {
	purged, err := r.mgr.SweepDeadNodes(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("node sweep failed")
		return
	}
	if len(purged) > 0 {
		r.logger.Info().Strs("nodes", purged).Msg("purged dead nodes")
	}
}

// sweepWorkers removes registry records of workers dead for longer than
// the retention window, whether they deregistered cleanly or their
// heartbeat just stopped. Recently dead workers stay listable so their
// fate can be inspected.
func (r *Reconciler) sweepWorkers(ctx context.Context) {
	workers, err := worker.List(ctx, r.st)
	if err != nil {
		r.logger.Warn().Err(err).Msg("worker sweep failed")
		return
	}

	now := time.Now().UTC()
	jobTimeout := time.Duration(r.cfg.Job.Timeout) * time.Second
	var stale []string
	for _, w := range workers {
		switch {
		case w.DeathDate != nil && now.Sub(*w.DeathDate) > r.retention:
			stale = append(stale, w.Name)
		case w.DeathDate == nil &&
			!worker.Alive(w, jobTimeout, r.cfg.Worker.TTLDuration(), now) &&
			now.Sub(w.LastHeartbeat) > r.retention:
			stale = append(stale, w.Name)
		}
	}
	if len(stale) == 0 {
		return
	}
	if err := worker.Remove(ctx, r.st, stale...); err != nil {
		r.logger.Warn().Err(err).Msg("failed to remove stale worker records")
		return
	}
	r.logger.Info().Strs("workers", stale).Msg("removed stale worker records")
}

// sweepExpiredJobs fails queued jobs whose TTL lapsed before any worker
// popped them. Pops discard expired jobs they see; this covers queues
// with no consumer left.
func (r *Reconciler) sweepExpiredJobs(ctx context.Context) {
	jobs, err := queue.ByStatus(ctx, r.st, types.JobStatusQueued)
	if err != nil {
		r.logger.Warn().Err(err).Msg("job sweep failed")
		return
	}

	now := time.Now().UTC()
	for _, job := range jobs {
		if !job.Expired(now) {
			continue
		}
		cause := fmt.Errorf("%w: job expired after %ds on %s", errdefs.ErrTimeout, job.TTL, job.Queue)
		if err := queue.MarkFailed(ctx, r.st, job, errdefs.Kind(cause), cause.Error()); err != nil {
			r.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to expire job")
			continue
		}
		// Drop the stale id so pops skip straight past it.
		_ = r.st.LRem(ctx, job.Queue, 1, []byte(job.ID))
		r.logger.Info().Str("job_id", job.ID).Str("queue", job.Queue).Msg("expired queued job")
	}
}
