package types

import (
	"fmt"
	"strings"

	"github.com/netpulse/netpulse/pkg/errdefs"
)

// TTL bounds for queued jobs, in seconds. A zero TTL selects the
// configured default at enqueue time.
const (
	MinJobTTL = 1
	MaxJobTTL = 86400
)

// ConnectionArgs carries driver-specific connection parameters. Only the
// host is interpreted by the core; everything else passes through to the
// driver untouched.
type ConnectionArgs map[string]any

// Host returns the device address under either accepted key.
func (c ConnectionArgs) Host() string {
	for _, key := range []string{"host", "hostname"} {
		if v, ok := c[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// Port returns the port argument if present, 0 otherwise. JSON numbers
// decode as float64, so both forms are handled.
func (c ConnectionArgs) Port() int {
	switch v := c["port"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func (c ConnectionArgs) String(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

// Clone returns a shallow copy safe for per-host mutation in batch fan-out.
func (c ConnectionArgs) Clone() ConnectionArgs {
	out := make(ConnectionArgs, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// ExecutionRequest is the unit of work submitted to the dispatcher: one
// device, one driver, one command or config payload, with optional
// rendering, parsing, and webhook stages.
type ExecutionRequest struct {
	Driver         string         `json:"driver" yaml:"driver"`
	ConnectionArgs ConnectionArgs `json:"connection_args" yaml:"connection_args"`
	Command        *Payload       `json:"command,omitempty" yaml:"command,omitempty"`
	Config         *Payload       `json:"config,omitempty" yaml:"config,omitempty"`
	DriverArgs     map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
	Rendering      *RenderingSpec `json:"rendering,omitempty" yaml:"rendering,omitempty"`
	Parsing        *ParsingSpec   `json:"parsing,omitempty" yaml:"parsing,omitempty"`
	QueueStrategy  QueueStrategy  `json:"queue_strategy,omitempty" yaml:"queue_strategy,omitempty"`
	TTL            int            `json:"ttl,omitempty" yaml:"ttl,omitempty"`
	Webhook        *WebhookSpec   `json:"webhook,omitempty" yaml:"webhook,omitempty"`
}

// Host returns the target device address.
func (r *ExecutionRequest) Host() string { return r.ConnectionArgs.Host() }

// IsConfig reports whether the request mutates device state.
func (r *ExecutionRequest) IsConfig() bool { return r.Config != nil }

// Payload returns whichever of command/config is set.
func (r *ExecutionRequest) Payload() *Payload {
	if r.Config != nil {
		return r.Config
	}
	return r.Command
}

// Validate checks the construction invariants. Queue strategy defaulting
// is driver-dependent and happens later, in the dispatcher.
func (r *ExecutionRequest) Validate() error {
	if r.Driver == "" {
		return errdefs.Validationf("driver is required")
	}
	if r.Host() == "" {
		return errdefs.Validationf("connection_args must include host or hostname")
	}
	if (r.Command == nil) == (r.Config == nil) {
		return errdefs.Validationf("exactly one of command or config must be set")
	}
	if p := r.Payload(); p.Empty() {
		return errdefs.Validationf("payload is empty")
	}
	if p := r.Payload(); p.IsDict() {
		if r.Rendering == nil || r.Rendering.Name == "" {
			return errdefs.Validationf("object payload requires a rendering spec")
		}
	}
	if r.Rendering != nil && r.Rendering.Name == "" {
		return errdefs.Validationf("rendering name is required")
	}
	if r.Parsing != nil && r.Parsing.Name == "" {
		return errdefs.Validationf("parsing name is required")
	}
	switch r.QueueStrategy {
	case "", QueueStrategyPinned, QueueStrategyFIFO:
	default:
		return errdefs.Validationf("queue_strategy must be %q or %q, got %q",
			QueueStrategyPinned, QueueStrategyFIFO, r.QueueStrategy)
	}
	if r.TTL != 0 && (r.TTL < MinJobTTL || r.TTL > MaxJobTTL) {
		return errdefs.Validationf("ttl must be between %d and %d seconds", MinJobTTL, MaxJobTTL)
	}
	if r.Webhook != nil && strings.TrimSpace(r.Webhook.URL) == "" {
		return errdefs.Validationf("webhook url is required")
	}
	return nil
}

// BatchExecutionRequest fans one request template out to many devices.
// Per-device entries override the shared template field by field.
type BatchExecutionRequest struct {
	ExecutionRequest `yaml:",inline"`

	Devices []ConnectionArgs `json:"devices" yaml:"devices"`
}

// Expand materializes one ExecutionRequest per device. Device entries are
// merged over the template connection args, device keys winning.
func (b *BatchExecutionRequest) Expand() ([]*ExecutionRequest, error) {
	if len(b.Devices) == 0 {
		return nil, errdefs.Validationf("devices list is empty")
	}
	out := make([]*ExecutionRequest, 0, len(b.Devices))
	for i, dev := range b.Devices {
		req := b.ExecutionRequest
		args := req.ConnectionArgs.Clone()
		for k, v := range dev {
			args[k] = v
		}
		req.ConnectionArgs = args
		if req.Host() == "" {
			return nil, errdefs.Validationf("devices[%d]: missing host", i)
		}
		out = append(out, &req)
	}
	return out, nil
}

// String renders a compact identifier for logs.
func (r *ExecutionRequest) String() string {
	return fmt.Sprintf("%s@%s", r.Driver, r.Host())
}
