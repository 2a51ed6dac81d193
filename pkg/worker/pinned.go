package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/netpulse/netpulse/pkg/config"
	"github.com/netpulse/netpulse/pkg/driver"
	"github.com/netpulse/netpulse/pkg/errdefs"
	"github.com/netpulse/netpulse/pkg/executor"
	"github.com/netpulse/netpulse/pkg/log"
	"github.com/netpulse/netpulse/pkg/queue"
	"github.com/netpulse/netpulse/pkg/store"
	"github.com/netpulse/netpulse/pkg/types"
)

// PinnedWorker is the single consumer of one HostQ_<host> queue. It runs
// as a goroutine inside the node worker process and holds at most one
// device session across jobs, which is what makes per-host CLI sessions
// cheap: consecutive jobs reuse the transport instead of re-dialing.
type PinnedWorker struct {
	st     store.Store
	host   string
	queue  string
	logger zerolog.Logger

	base   *base
	broker *pinnedBroker
	env    executor.Env

	keepalive time.Duration
}

// NewPinnedWorker builds the worker for one host. hostname is the owning
// node's identity; the worker registers as <hostname>_HostQ_<host>.
func NewPinnedWorker(cfg *config.Config, st store.Store, hostname, host string) *PinnedWorker {
	qname := types.HostQueue(host)
	p := &PinnedWorker{
		st:        st,
		host:      host,
		queue:     qname,
		logger:    log.WithWorker(Name(hostname, qname)),
		broker:    &pinnedBroker{},
		keepalive: cfg.Worker.KeepaliveDuration(),
	}
	p.env = executor.Env{
		TemplatePaths: cfg.Plugins.TemplatePaths,
		Broker:        p.broker,
	}
	p.base = newBase(st, Name(hostname, qname), []string{qname}, cfg.Worker.TTLDuration(), p.handle)
	return p
}

// Run consumes the host queue until the context is canceled, a shutdown
// command arrives, or the session keepalive fails. The cached session is
// torn down on the way out.
func (p *PinnedWorker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if p.keepalive > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.keepaliveLoop(ctx, cancel)
		}()
	}

	err := p.base.run(ctx)
	cancel()
	wg.Wait()
	p.broker.close()
	return err
}

// Stop asks the worker to wind down; it returns immediately.
func (p *PinnedWorker) Stop() { p.base.stop() }

// Name returns the worker's registry identity.
func (p *PinnedWorker) Name() string { return p.base.name() }

func (p *PinnedWorker) handle(ctx context.Context, job *types.Job) error {
	if job.Func != types.TaskExecute {
		err := errdefs.Validationf("pinned worker cannot handle task %q", job.Func)
		if merr := queue.MarkStarted(ctx, p.st, job, p.base.name()); merr == nil {
			failJob(ctx, p.st, job, err, nil)
		}
		return err
	}
	return executeJob(ctx, p.st, p.base.name(), job, p.env)
}

// keepaliveLoop probes the cached session at the configured interval.
// A failed probe means the device side is gone; the worker terminates
// itself so the node unbinds the host and a future job re-pins it.
func (p *PinnedWorker) keepaliveLoop(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(p.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.broker.probe(ctx); err != nil {
				p.logger.Warn().Err(err).Msg("session keepalive failed, terminating worker")
				p.base.stop()
				cancel()
				return
			}
		}
	}
}

// pinnedBroker caches at most one device session, keyed by the
// fingerprint of the connection args that opened it. The mutex is held
// from Acquire to Release, serializing job execution against the
// keepalive probe; that lock is what guarantees at most one in-flight
// command per host.
type pinnedBroker struct {
	mu          sync.Mutex
	drv         driver.Driver
	sess        driver.Session
	fingerprint string
}

// Acquire leases the session for one driver call. The mutex stays held
// until Release.
func (b *pinnedBroker) Acquire(ctx context.Context, drv driver.Driver, args types.ConnectionArgs) (driver.Session, bool, error) {
	b.mu.Lock()
	fp := driver.Fingerprint(args)
	if b.sess != nil && b.fingerprint == fp {
		return b.sess, true, nil
	}
	if b.sess != nil {
		// Connection args changed; retire the old session first.
		_ = b.drv.Disconnect(b.sess, true)
		b.drv, b.sess, b.fingerprint = nil, nil, ""
	}
	sess, err := drv.Connect(ctx)
	if err != nil {
		b.mu.Unlock()
		return nil, false, err
	}
	b.drv, b.sess, b.fingerprint = drv, sess, fp
	return sess, false, nil
}

// Release returns the lease taken by Acquire. A failed call drops the
// cached session, since a fault mid-conversation can leave the device
// channel in an unknown state.
func (b *pinnedBroker) Release(drv driver.Driver, sess driver.Session, failed bool) {
	if failed && b.sess == sess {
		_ = drv.Disconnect(sess, true)
		b.drv, b.sess, b.fingerprint = nil, nil, ""
	}
	b.mu.Unlock()
}

// probe health-checks the cached session in place. No session or a
// driver without keepalive support is healthy by definition.
func (b *pinnedBroker) probe(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess == nil {
		return nil
	}
	ka, ok := b.drv.(driver.Keepaliver)
	if !ok {
		return nil
	}
	return ka.Keepalive(ctx, b.sess)
}

func (b *pinnedBroker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess != nil {
		_ = b.drv.Disconnect(b.sess, true)
		b.drv, b.sess, b.fingerprint = nil, nil, ""
	}
}
