package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/netpulse/netpulse/pkg/callback"
	"github.com/netpulse/netpulse/pkg/errdefs"
	"github.com/netpulse/netpulse/pkg/executor"
	"github.com/netpulse/netpulse/pkg/log"
	"github.com/netpulse/netpulse/pkg/queue"
	"github.com/netpulse/netpulse/pkg/store"
	"github.com/netpulse/netpulse/pkg/types"
)

type execResult struct {
	results map[string]types.DriverExecutionResult
	err     error
}

// executeJob drives one execute task end to end: the started transition,
// the pipeline run under the job's wall clock, the terminal transition,
// and the callbacks. The wall clock is enforced here, not in the driver:
// on expiry the job fails with a timeout while the driver call runs on
// to its own deadline.
func executeJob(ctx context.Context, st store.Store, workerName string, job *types.Job, env executor.Env) error {
	logger := log.WithWorker(workerName).With().Str("job_id", job.ID).Logger()

	if job.Request == nil {
		err := errdefs.Validationf("execute job carries no request payload")
		failJob(ctx, st, job, err, nil)
		return err
	}
	if err := queue.MarkStarted(ctx, st, job, workerName); err != nil {
		// Canceled or expired between pop and start; nothing to run.
		logger.Debug().Err(err).Msg("job no longer startable")
		return nil
	}
	logger.Info().Str("driver", job.Request.Driver).Str("host", job.Request.Host()).Msg("job started")

	outcome := make(chan execResult, 1)
	go func() {
		results, err := executor.Execute(ctx, job.Request, env)
		outcome <- execResult{results: results, err: err}
	}()

	var expired <-chan time.Time
	if job.Timeout > 0 {
		timer := time.NewTimer(time.Duration(job.Timeout) * time.Second)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case out := <-outcome:
		if out.err != nil {
			failJob(ctx, st, job, out.err, out.results)
			return out.err
		}
		return finishJob(ctx, st, job, &types.JobResult{Retval: out.results})
	case <-expired:
		err := fmt.Errorf("%w: execution exceeded %d second wall clock", errdefs.ErrTimeout, job.Timeout)
		logger.Warn().Int("timeout", job.Timeout).Msg("job exceeded wall clock")
		failJob(ctx, st, job, err, nil)
		return err
	}
}

// finishJob runs the success callback and then persists the finished
// state. A failing success callback fails the job instead; the device
// results are kept on the record next to the callback error.
func finishJob(ctx context.Context, st store.Store, job *types.Job, result *types.JobResult) error {
	if job.OnSuccess != nil {
		inv := callback.Invocation{Store: st, Job: job, Result: result}
		if err := callback.Run(ctx, job.OnSuccess, inv); err != nil {
			job.Result = result
			if merr := queue.MarkFailed(ctx, st, job, errdefs.Kind(err), err.Error()); merr != nil {
				logger := log.WithJobID(job.ID)
				logger.Warn().Err(merr).Msg("failed to persist callback failure")
			}
			return err
		}
	}
	return queue.MarkFinished(ctx, st, job, result)
}

// failJob persists the failed state, keeping any partial device results,
// and then runs the failure callback.
func failJob(ctx context.Context, st store.Store, job *types.Job, cause error, partial map[string]types.DriverExecutionResult) {
	if partial != nil {
		job.Result = &types.JobResult{Retval: partial, Error: cause.Error()}
	}
	if err := queue.MarkFailed(ctx, st, job, errdefs.Kind(cause), cause.Error()); err != nil {
		logger := log.WithJobID(job.ID)
		logger.Warn().Err(err).Msg("failed to persist job failure")
	}
	if job.OnFailure != nil {
		inv := callback.Invocation{Store: st, Job: job, Err: cause}
		if err := callback.Run(ctx, job.OnFailure, inv); err != nil {
			logger := log.WithJobID(job.ID)
			logger.Warn().Err(err).Msg("failure callback failed")
		}
	}
}
