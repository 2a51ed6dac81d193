package driver

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/netpulse/netpulse/pkg/errdefs"
	"github.com/netpulse/netpulse/pkg/types"
)

// Session is one open connection to a device. Pinned workers hold a
// session across jobs; stateless drivers return cheap per-call handles.
type Session interface {
	Close() error
}

// Driver executes commands and configuration against one device. A driver
// instance is bound to the connection args of the request that built it.
// Drivers never touch the state store; results flow back through the
// worker.
type Driver interface {
	// Name returns the registry tag.
	Name() string

	// SessionOriented reports whether connections are worth pinning.
	// Session-oriented drivers default to the pinned queue strategy.
	SessionOriented() bool

	// Validate rejects requests this driver cannot execute. It is pure.
	Validate(req *types.ExecutionRequest) error

	// Connect opens a session to the device.
	Connect(ctx context.Context) (Session, error)

	// Send runs read commands, one result per command.
	Send(ctx context.Context, sess Session, commands []string) (map[string]types.DriverExecutionResult, error)

	// Config applies configuration lines as one unit. The result is keyed
	// by the joined config string.
	Config(ctx context.Context, sess Session, lines []string) (map[string]types.DriverExecutionResult, error)

	// Disconnect closes the session. reset additionally tears down any
	// driver-side persistent state (keepalive loops, cached channels).
	Disconnect(sess Session, reset bool) error

	// Test probes the device and returns connection metadata.
	Test(ctx context.Context) (*types.DeviceTestInfo, error)
}

// Keepaliver is implemented by drivers whose sessions can be health
// checked in place. Pinned workers probe idle sessions through it and
// terminate when the probe fails.
type Keepaliver interface {
	Keepalive(ctx context.Context, sess Session) error
}

// Factory builds a driver bound to the request's connection args.
type Factory func(req *types.ExecutionRequest) (Driver, error)

type registration struct {
	factory         Factory
	sessionOriented bool
}

var registry = map[string]registration{
	NameSSH:  {factory: newSSHDriver, sessionOriented: true},
	NameEAPI: {factory: newEAPIDriver, sessionOriented: false},
	NameMock: {factory: newMockDriver, sessionOriented: true},
}

// New builds the driver named by the request.
func New(req *types.ExecutionRequest) (Driver, error) {
	reg, ok := registry[req.Driver]
	if !ok {
		return nil, errdefs.NotFoundf("driver %q (have %v)", req.Driver, Names())
	}
	return reg.factory(req)
}

// Names lists registered drivers in stable order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultStrategy returns the queue strategy a driver defaults to when the
// request leaves it unset.
func DefaultStrategy(name string) (types.QueueStrategy, error) {
	reg, ok := registry[name]
	if !ok {
		return "", errdefs.NotFoundf("driver %q (have %v)", name, Names())
	}
	if reg.sessionOriented {
		return types.QueueStrategyPinned, nil
	}
	return types.QueueStrategyFIFO, nil
}

// Fingerprint canonicalizes connection args so pinned workers can decide
// whether a held session still matches the next job.
func Fingerprint(args types.ConnectionArgs) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, args[k])
	}
	data, err := json.Marshal(ordered)
	if err != nil {
		return ""
	}
	return string(data)
}
