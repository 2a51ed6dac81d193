package driver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/netpulse/netpulse/pkg/errdefs"
	"github.com/netpulse/netpulse/pkg/types"
)

// NameMock is a loopback driver for tests and dry runs. It echoes
// commands back as output, optionally after a configurable delay, and
// can be forced to fail through driver args. It is session-oriented so
// the pinned path is exercisable without a device.
const NameMock = "mock"

// mockCounters tracks connect/keepalive activity per host so tests can
// assert on session reuse. Keyed by host, reset via ResetMockCounters.
var (
	mockMu       sync.Mutex
	mockConnects = map[string]int{}
)

// MockConnects reports how many sessions have been opened to the host.
func MockConnects(host string) int {
	mockMu.Lock()
	defer mockMu.Unlock()
	return mockConnects[host]
}

// ResetMockCounters clears the per-host connect counters.
func ResetMockCounters() {
	mockMu.Lock()
	defer mockMu.Unlock()
	mockConnects = map[string]int{}
}

type mockDriver struct {
	host          string
	delay         time.Duration
	failConnect   bool
	failCommands  bool
	failKeepalive bool
}

type mockSession struct {
	host   string
	closed atomic.Bool
}

func (s *mockSession) Close() error {
	s.closed.Store(true)
	return nil
}

func newMockDriver(req *types.ExecutionRequest) (Driver, error) {
	d := &mockDriver{
		host:        req.ConnectionArgs.Host(),
		failConnect: argBool(req.ConnectionArgs, "fail_connect", false),
	}
	if ms := argInt(req.DriverArgs, "delay_ms", 0); ms > 0 {
		d.delay = time.Duration(ms) * time.Millisecond
	}
	d.failCommands = argBool(req.DriverArgs, "fail_commands", false)
	d.failKeepalive = argBool(req.DriverArgs, "fail_keepalive", false)
	if err := d.Validate(req); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *mockDriver) Name() string          { return NameMock }
func (d *mockDriver) SessionOriented() bool { return true }

func (d *mockDriver) Validate(req *types.ExecutionRequest) error {
	if d.host == "" {
		return errdefs.Validationf("mock: connection_args.host is required")
	}
	return nil
}

func (d *mockDriver) Connect(ctx context.Context) (Session, error) {
	if d.failConnect {
		return nil, fmt.Errorf("%w: mock: connect refused for %s", errdefs.ErrDriver, d.host)
	}
	mockMu.Lock()
	mockConnects[d.host]++
	mockMu.Unlock()
	return &mockSession{host: d.host}, nil
}

func (d *mockDriver) Disconnect(sess Session, reset bool) error {
	if sess == nil {
		return nil
	}
	return sess.Close()
}

func (d *mockDriver) run(ctx context.Context, cmd string) types.DriverExecutionResult {
	start := time.Now()
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
		}
	}
	res := types.DriverExecutionResult{
		Output: "mock: " + cmd,
		Telemetry: map[string]any{
			types.TelemetryHost:     d.host,
			types.TelemetryDuration: time.Since(start).Seconds(),
		},
	}
	if d.failCommands {
		res.Output = nil
		res.Error = fmt.Sprintf("mock: forced failure for %q", cmd)
		res.ExitStatus = 1
	}
	return res
}

func (d *mockDriver) Send(ctx context.Context, sess Session, commands []string) (map[string]types.DriverExecutionResult, error) {
	if _, err := asMockSession(sess); err != nil {
		return nil, err
	}
	results := make(map[string]types.DriverExecutionResult, len(commands))
	for _, cmd := range commands {
		results[cmd] = d.run(ctx, cmd)
	}
	return results, nil
}

func (d *mockDriver) Config(ctx context.Context, sess Session, lines []string) (map[string]types.DriverExecutionResult, error) {
	if _, err := asMockSession(sess); err != nil {
		return nil, err
	}
	key := strings.Join(lines, "\n")
	return map[string]types.DriverExecutionResult{key: d.run(ctx, key)}, nil
}

func (d *mockDriver) Keepalive(ctx context.Context, sess Session) error {
	s, err := asMockSession(sess)
	if err != nil {
		return err
	}
	if d.failKeepalive || s.closed.Load() {
		return fmt.Errorf("%w: mock: keepalive failed for %s", errdefs.ErrDriver, d.host)
	}
	return nil
}

func (d *mockDriver) Test(ctx context.Context) (*types.DeviceTestInfo, error) {
	start := time.Now()
	sess, err := d.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = d.Disconnect(sess, true) }()
	return &types.DeviceTestInfo{
		Driver:    NameMock,
		Host:      d.host,
		Transport: "mock",
		Prompt:    d.host + "#",
		Duration:  time.Since(start).Seconds(),
	}, nil
}

func asMockSession(sess Session) (*mockSession, error) {
	s, ok := sess.(*mockSession)
	if !ok || s == nil {
		return nil, fmt.Errorf("%w: mock: session is not connected", errdefs.ErrDriver)
	}
	if s.closed.Load() {
		return nil, fmt.Errorf("%w: mock: session is closed", errdefs.ErrDriver)
	}
	return s, nil
}
