package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/netpulse/netpulse/pkg/log"
	"github.com/netpulse/netpulse/pkg/queue"
	"github.com/netpulse/netpulse/pkg/store"
	"github.com/netpulse/netpulse/pkg/types"
)

// popInterval bounds one blocking pop so shutdown is noticed promptly
// even when the backend cannot interrupt a blocked read.
const popInterval = time.Second

// handleFunc processes one popped job. Terminal job transitions are the
// handler's responsibility; the returned error only feeds the worker's
// counters. Returning errAsync means the handler moved the job to
// another goroutine and will account for the outcome itself.
type handleFunc func(ctx context.Context, job *types.Job) error

// errAsync is returned by handlers that dispatched the job elsewhere;
// the pop loop must not count an outcome for it.
var errAsync = errors.New("job dispatched asynchronously")

// base carries the lifecycle every worker variant shares: the registry
// record with its heartbeat, the shutdown-command subscription, and the
// queue pop loop.
type base struct {
	st     store.Store
	ttl    time.Duration
	queues []string
	handle handleFunc
	logger zerolog.Logger

	// onStop fires exactly once when the worker begins stopping, before
	// the pop loop unwinds. Variants hook teardown flags here.
	onStop func()

	mu     sync.Mutex
	info   types.WorkerInfo
	cancel context.CancelFunc

	stopOnce sync.Once
}

func newBase(st store.Store, name string, queues []string, ttl time.Duration, handle handleFunc) *base {
	now := time.Now().UTC()
	return &base{
		st:     st,
		ttl:    ttl,
		queues: queues,
		handle: handle,
		logger: log.WithWorker(name),
		info: types.WorkerInfo{
			Name:          name,
			State:         types.WorkerStateIdle,
			Queues:        queues,
			Birth:         now,
			LastHeartbeat: now,
			PID:           os.Getpid(),
		},
	}
}

func (b *base) name() string { return b.info.Name }

// run registers the worker and consumes its queues until the parent
// context is canceled or a shutdown command arrives. The registry record
// is stamped with a death date on the way out so the dispatcher sees a
// clean exit rather than a lost heartbeat.
func (b *base) run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()

	if err := b.persist(ctx); err != nil {
		return fmt.Errorf("failed to register worker %s: %w", b.name(), err)
	}
	b.logger.Info().Strs("queues", b.queues).Int("pid", os.Getpid()).Msg("worker registered")

	sub, err := b.st.Subscribe(ctx, store.ChannelShutdown)
	if err != nil {
		return fmt.Errorf("failed to subscribe to shutdown channel: %w", err)
	}
	defer sub.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		b.heartbeatLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		b.watchShutdown(ctx, sub)
	}()

	b.consume(ctx)
	b.stop()

	cancel()
	wg.Wait()
	b.deregister()
	b.logger.Info().Msg("worker stopped")
	return nil
}

// stop begins teardown; safe to call from any goroutine, any number of
// times.
func (b *base) stop() {
	b.stopOnce.Do(func() {
		if b.onStop != nil {
			b.onStop()
		}
		b.mu.Lock()
		cancel := b.cancel
		b.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

// consume is the main pop loop.
func (b *base) consume(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := queue.BPop(ctx, b.st, popInterval, b.queues...)
		if errors.Is(err, store.ErrNil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn().Err(err).Msg("failed to pop job")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		b.runJob(ctx, job)
	}
}

func (b *base) runJob(ctx context.Context, job *types.Job) {
	b.setState(ctx, types.WorkerStateBusy)
	err := b.handle(ctx, job)
	if !errors.Is(err, errAsync) {
		b.countOutcome(ctx, err)
		if err != nil {
			b.logger.Warn().Err(err).Str("job_id", job.ID).Msg("job handler failed")
		}
	}
	b.setState(ctx, types.WorkerStateIdle)
}

// heartbeatLoop refreshes the registry record at a third of the liveness
// window so a single delayed beat never reads as a death.
func (b *base) heartbeatLoop(ctx context.Context) {
	interval := b.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.mu.Lock()
			b.info.LastHeartbeat = time.Now().UTC()
			b.mu.Unlock()
			if err := b.persist(ctx); err != nil {
				b.logger.Warn().Err(err).Msg("failed to persist heartbeat")
			}
		}
	}
}

// watchShutdown ends the worker when a matching kill command arrives on
// the shutdown channel.
func (b *base) watchShutdown(ctx context.Context, sub store.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			payload := string(msg.Payload)
			if matchesShutdown(payload, b.name(), b.queues) {
				b.logger.Info().Str("command", payload).Msg("shutdown command received")
				b.stop()
				return
			}
		}
	}
}

func (b *base) setState(ctx context.Context, state types.WorkerState) {
	b.mu.Lock()
	b.info.State = state
	b.info.LastHeartbeat = time.Now().UTC()
	b.mu.Unlock()
	if err := b.persist(ctx); err != nil {
		b.logger.Warn().Err(err).Str("state", string(state)).Msg("failed to persist worker state")
	}
}

func (b *base) countOutcome(ctx context.Context, err error) {
	b.mu.Lock()
	if err != nil {
		b.info.JobsFailed++
	} else {
		b.info.JobsDone++
	}
	b.mu.Unlock()
	if perr := b.persist(ctx); perr != nil {
		b.logger.Warn().Err(perr).Msg("failed to persist job counters")
	}
}

func (b *base) persist(ctx context.Context) error {
	b.mu.Lock()
	data, err := json.Marshal(b.info)
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.st.HSet(ctx, store.KeyWorkerInfoMap, b.name(), data)
}

// deregister stamps the death date with a detached context; the run
// context is already canceled by the time we get here.
func (b *base) deregister() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	now := time.Now().UTC()
	b.mu.Lock()
	b.info.DeathDate = &now
	b.info.State = types.WorkerStateIdle
	b.mu.Unlock()
	if err := b.persist(ctx); err != nil {
		b.logger.Warn().Err(err).Msg("failed to record death date")
	}
}
