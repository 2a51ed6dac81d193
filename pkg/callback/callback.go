package callback

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/netpulse/netpulse/pkg/errdefs"
	"github.com/netpulse/netpulse/pkg/log"
	"github.com/netpulse/netpulse/pkg/queue"
	"github.com/netpulse/netpulse/pkg/store"
	"github.com/netpulse/netpulse/pkg/types"
)

// Registered callback names. Jobs carry these strings; the functions
// live only in this process-local registry.
const (
	NameException = "rpc_exception_callback"
	NameWebhook   = "rpc_webhook_callback"
)

// Invocation is the context a callback runs in. Err is set on the
// failure path, Result on the success path.
type Invocation struct {
	Store  store.Store
	Job    *types.Job
	Result *types.JobResult
	Err    error
}

// Func is one registered callback. Errors returned here mark the job's
// callback phase failed; they never crash the worker.
type Func func(ctx context.Context, inv Invocation) error

var registry = map[string]Func{
	NameException: ExceptionCallback,
	NameWebhook:   WebhookCallback,
}

// Resolve looks a callback up by its stored name.
func Resolve(name string) (Func, error) {
	fn, ok := registry[name]
	if !ok {
		return nil, errdefs.NotFoundf("callback %q (have %v)", name, Names())
	}
	return fn, nil
}

// Names lists registered callbacks in stable order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run resolves and invokes one callback reference under its timeout.
// A nil reference is a no-op. An unresolvable name is recorded on the
// job through the exception path and returned as the callback's error.
func Run(ctx context.Context, ref *types.Callback, inv Invocation) error {
	if ref == nil {
		return nil
	}
	fn, err := Resolve(ref.Name)
	if err != nil {
		failed := inv
		failed.Err = err
		if inv.Err != nil {
			// Keep the error the callback was meant to report visible in
			// the recorded tuple.
			failed.Err = fmt.Errorf("%w (while reporting: %v)", err, inv.Err)
		}
		if excErr := ExceptionCallback(ctx, failed); excErr != nil {
			logger := log.WithJobID(inv.Job.ID)
			logger.Warn().Err(excErr).Msg("failed to record unresolved callback")
		}
		return err
	}
	if ref.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(ref.Timeout)*time.Second)
		defer cancel()
	}
	return fn(ctx, inv)
}

// ExceptionCallback normalizes the invocation's error into the job's
// meta error tuple and persists it. Without a job or an error there is
// nothing to record, so it returns without mutation.
func ExceptionCallback(ctx context.Context, inv Invocation) error {
	if inv.Job == nil || inv.Err == nil {
		return nil
	}
	inv.Job.Meta.ErrorType = errdefs.Kind(inv.Err)
	inv.Job.Meta.ErrorMessage = inv.Err.Error()
	if inv.Store == nil {
		return nil
	}
	if err := queue.Save(ctx, inv.Store, inv.Job); err != nil {
		return fmt.Errorf("failed to persist job meta: %w", err)
	}
	return nil
}
