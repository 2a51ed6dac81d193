package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/netpulse/netpulse/pkg/config"
	"github.com/netpulse/netpulse/pkg/executor"
	"github.com/netpulse/netpulse/pkg/log"
	"github.com/netpulse/netpulse/pkg/queue"
	"github.com/netpulse/netpulse/pkg/store"
	"github.com/netpulse/netpulse/pkg/types"
)

// FIFOWorker consumes the shared FifoQ for stateless drivers. Dequeue
// order is FIFO; execution fans out to per-job goroutines capped by the
// configured concurrency, so one slow device cannot stall the queue.
type FIFOWorker struct {
	cfg    *config.Config
	st     store.Store
	logger zerolog.Logger

	base *base
	env  executor.Env
	sem  *semaphore.Weighted
	wg   sync.WaitGroup
}

func NewFIFOWorker(cfg *config.Config, st store.Store) (*FIFOWorker, error) {
	hostname, err := nodeHostname(cfg)
	if err != nil {
		return nil, err
	}
	name := Name(hostname, types.FifoQueue)
	f := &FIFOWorker{
		cfg:    cfg,
		st:     st,
		logger: log.WithWorker(name),
		env:    executor.Env{TemplatePaths: cfg.Plugins.TemplatePaths},
		sem:    semaphore.NewWeighted(int64(cfg.Worker.FifoConcurrency)),
	}
	f.base = newBase(st, name, []string{types.FifoQueue}, cfg.Worker.TTLDuration(), f.handle)
	return f, nil
}

// Run acquires the per-node fifo.lock and consumes FifoQ until stopped.
// In-flight jobs are waited for on the way out.
func (f *FIFOWorker) Run(ctx context.Context) error {
	lock, err := acquireLock(f.cfg.Worker.LockDir, FifoLockFile)
	if err != nil {
		return err
	}
	defer lock.release()

	err = f.base.run(ctx)
	f.wg.Wait()
	return err
}

// Stop asks the worker to wind down; it returns immediately.
func (f *FIFOWorker) Stop() { f.base.stop() }

// Name returns the worker's registry identity.
func (f *FIFOWorker) Name() string { return f.base.name() }

// handle moves the job to its own goroutine. When every slot is busy the
// semaphore blocks here, which stalls the pop loop and leaves further
// jobs on the queue: backpressure instead of unbounded fan-out.
func (f *FIFOWorker) handle(ctx context.Context, job *types.Job) error {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		// Shutting down with a popped job in hand; put the id back so
		// the next worker picks it up.
		f.requeue(job)
		return errAsync
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer f.sem.Release(1)
		err := executeJob(ctx, f.st, f.base.name(), job, f.env)
		f.base.countOutcome(ctx, err)
		if err != nil {
			f.logger.Warn().Err(err).Str("job_id", job.ID).Msg("job handler failed")
		}
	}()
	return errAsync
}

func (f *FIFOWorker) requeue(job *types.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.st.RPush(ctx, types.FifoQueue, []byte(job.ID)); err != nil {
		f.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to requeue job during shutdown")
		if merr := queue.MarkFailed(ctx, f.st, job, "WorkerUnavailable", "worker shut down before execution"); merr != nil {
			f.logger.Warn().Err(merr).Str("job_id", job.ID).Msg("failed to fail stranded job")
		}
	}
}
